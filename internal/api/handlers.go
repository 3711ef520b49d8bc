/**
 * @description
 * This file contains the HTTP handlers for the entitlement service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookin/entitlement-service/internal/app"
	"github.com/bookin/entitlement-service/internal/store"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service     *app.Service
	environment string
}

// NewHandlers creates a new instance of Handlers. environment describes the
// payment configuration mode and is reported by the health endpoint.
func NewHandlers(service *app.Service, environment string) *Handlers {
	return &Handlers{service: service, environment: environment}
}

type createCheckoutSessionRequest struct {
	BookID        string            `json:"bookId"`
	CollectionID  string            `json:"collectionId"`
	PriceID       string            `json:"priceId"`
	PaymentType   string            `json:"paymentType"`
	CustomerEmail string            `json:"customerEmail"`
	SuccessURL    string            `json:"successUrl"`
	CancelURL     string            `json:"cancelUrl"`
	Metadata      map[string]string `json:"metadata"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type verifySessionResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	CustomerEmail string `json:"customerEmail,omitempty"`
}

type recordAnswerRequest struct {
	QuestionID     string `json:"questionId"`
	Correct        bool   `json:"correct"`
	TotalQuestions int    `json:"totalQuestions"`
}

type addReflectionRequest struct {
	BookID     string `json:"bookId"`
	QuestionID string `json:"questionId"`
	Content    string `json:"content"`
}

// HealthHandler reports service liveness and which payment environment the
// service is configured for.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.environment,
	})
}

// CreateCheckoutSessionHandler builds a provider checkout session for the
// authenticated user's purchase intent.
func (h *Handlers) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req createCheckoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), app.CheckoutIntent{
		UserID:        userID,
		CustomerEmail: req.CustomerEmail,
		BookID:        req.BookID,
		CollectionID:  req.CollectionID,
		PriceID:       req.PriceID,
		PaymentType:   req.PaymentType,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotAuthenticated):
			h.writeError(w, http.StatusUnauthorized, "Authentication required")
		case errors.Is(err, app.ErrInvalidIntent):
			h.writeError(w, http.StatusBadRequest, "A book or collection must be specified")
		case errors.Is(err, app.ErrMissingPriceRef):
			h.writeError(w, http.StatusBadRequest, "A price reference is required")
		case errors.Is(err, app.ErrUnknownCollection):
			h.writeError(w, http.StatusBadRequest, "Unknown collection")
		case errors.Is(err, app.ErrCollectionClosed):
			h.writeError(w, http.StatusBadRequest, "Collection is no longer available")
		default:
			log.Printf("level=error component=api msg=\"checkout session creation failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to create checkout session")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutSessionResponse{SessionID: session.ID, URL: session.URL})
}

// VerifySessionHandler looks up a checkout session after redirect. It only
// confirms payment state for the UI; entitlements are granted by the webhook.
func (h *Handlers) VerifySessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	session, err := h.service.VerifySession(r.Context(), sessionID)
	if err != nil {
		log.Printf("level=error component=api msg=\"session verification failed\" session_id=%s err=%v", sessionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to verify session")
		return
	}
	h.writeJSON(w, http.StatusOK, verifySessionResponse{
		SessionID:     session.ID,
		Status:        session.Status,
		PaymentStatus: session.PaymentStatus,
		CustomerEmail: session.CustomerEmail,
	})
}

// EntitlementsHandler returns the user's ownership snapshot.
func (h *Handlers) EntitlementsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	set, err := h.service.Entitlements(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to load entitlements", err)
		return
	}
	h.writeJSON(w, http.StatusOK, set)
}

// RefreshEntitlementsHandler bypasses the cache and refetches from the store.
func (h *Handlers) RefreshEntitlementsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	set, err := h.service.RefreshEntitlements(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to refresh entitlements", err)
		return
	}
	h.writeJSON(w, http.StatusOK, set)
}

// BookAccessHandler answers whether the user may open one book.
func (h *Handlers) BookAccessHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	bookID := chi.URLParam(r, "bookId")

	hasAccess, err := h.service.CheckBookAccess(r.Context(), userID, bookID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to check book access", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookId":    bookID,
		"hasAccess": hasAccess,
	})
}

// RecordAnswerHandler registers one answered question for a book.
func (h *Handlers) RecordAnswerHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	bookID := chi.URLParam(r, "bookId")

	var req recordAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.QuestionID == "" {
		h.writeError(w, http.StatusBadRequest, "questionId is required")
		return
	}

	progress, err := h.service.RecordAnswer(r.Context(), userID, bookID, req.QuestionID, req.Correct, req.TotalQuestions)
	if err != nil {
		h.handleServiceError(w, userID, "failed to record answer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// GetProgressHandler returns the user's progress for one book.
func (h *Handlers) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	bookID := chi.URLParam(r, "bookId")

	progress, err := h.service.GetProgress(r.Context(), userID, bookID)
	if err != nil {
		if errors.Is(err, store.ErrProgressNotFound) {
			h.writeError(w, http.StatusNotFound, "No progress recorded for this book")
			return
		}
		h.handleServiceError(w, userID, "failed to load progress", err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// ListProgressHandler returns the user's progress across all books.
func (h *Handlers) ListProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	progress, err := h.service.ListProgress(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to list progress", err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

// RecordPracticeHandler marks today as practiced and returns the streak view.
func (h *Handlers) RecordPracticeHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	status, err := h.service.RecordPractice(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to record practice", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// GetStreakHandler returns the streak view without recording practice.
func (h *Handlers) GetStreakHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	status, err := h.service.GetStreak(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to load streak", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// AddReflectionHandler appends a reflection entry.
func (h *Handlers) AddReflectionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())

	var req addReflectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.service.AddReflection(r.Context(), userID, req.BookID, req.QuestionID, req.Content)
	if err != nil {
		if errors.Is(err, app.ErrEmptyReflection) {
			h.writeError(w, http.StatusBadRequest, "Reflection content is required")
			return
		}
		h.handleServiceError(w, userID, "failed to save reflection", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// ListReflectionsHandler returns the user's reflections for one book.
func (h *Handlers) ListReflectionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetAuthUserID(r.Context())
	bookID := chi.URLParam(r, "bookId")

	entries, err := h.service.ListReflections(r.Context(), userID, bookID)
	if err != nil {
		h.handleServiceError(w, userID, "failed to list reflections", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// handleServiceError maps common service errors to status codes and logs the
// rest.
func (h *Handlers) handleServiceError(w http.ResponseWriter, userID, msg string, err error) {
	if errors.Is(err, app.ErrNotAuthenticated) {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	log.Printf("level=error component=api msg=%q user_id=%s err=%v", msg, userID, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
