/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * the payment provider. It is the entry point through which completed
 * checkouts and subscription lifecycle changes reach persistence.
 *
 * Key features:
 * - Security: Verifies the Stripe-Signature header against the raw body
 *   before any payload field is trusted.
 * - Dedup: Skips recently-processed event ids before dispatching.
 * - Delivery contract: 400 for bad signatures, 500 when a handler write
 *   fails (so the provider redelivers), 200 {"received":true} otherwise.
 *
 * @dependencies
 * - encoding/json, io, log, net/http, time: Standard Go libraries.
 * - internal/app, internal/domain: Event dispatch and event types.
 * - pkg/stripeclient: Signature verification.
 */
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bookin/entitlement-service/internal/app"
	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/pkg/stripeclient"
)

// StripeWebhookHandler processes incoming webhooks from the payment provider.
type StripeWebhookHandler struct {
	reconciler *app.Reconciler
	dedup      app.EventDeduplicator
	secret     string
	tolerance  time.Duration
	now        func() time.Time
}

// NewStripeWebhookHandler creates a new handler for the webhook endpoint.
// dedup may be nil, in which case every delivery is dispatched.
func NewStripeWebhookHandler(reconciler *app.Reconciler, dedup app.EventDeduplicator, secret string) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		reconciler: reconciler,
		dedup:      dedup,
		secret:     secret,
		tolerance:  stripeclient.DefaultTolerance,
		now:        time.Now,
	}
}

// SetClock overrides the handler's time source. Tests only.
func (h *StripeWebhookHandler) SetClock(now func() time.Time) {
	h.now = now
}

// ServeHTTP implements the http.Handler interface.
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=error component=webhook msg=\"failed to read body\" err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	// Verify the signature on the raw bytes before trusting any field.
	if err := stripeclient.VerifySignature(body, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance, h.now()); err != nil {
		log.Printf("level=warn component=webhook msg=\"signature verification failed\" err=%v", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var event domain.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=webhook msg=\"failed to decode event\" err=%v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if h.dedup != nil {
		seen, err := h.dedup.Seen(r.Context(), event.ID)
		if err != nil {
			log.Printf("level=warn component=webhook msg=\"dedup check failed; processing anyway\" event_id=%s err=%v", event.ID, err)
		} else if seen {
			log.Printf("level=info component=webhook msg=\"duplicate event ignored\" event_id=%s event_type=%s", event.ID, event.Type)
			h.writeReceived(w)
			return
		}
	}

	log.Printf("level=info component=webhook msg=\"event received\" event_id=%s event_type=%s", event.ID, event.Type)

	if err := h.reconciler.Process(r.Context(), event); err != nil {
		// A handler write failed; the provider retries on non-2xx.
		log.Printf("level=error component=webhook msg=\"event processing failed\" event_id=%s event_type=%s err=%v", event.ID, event.Type, err)
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}

	if h.dedup != nil {
		if err := h.dedup.MarkSeen(r.Context(), event.ID); err != nil {
			log.Printf("level=warn component=webhook msg=\"failed to mark event seen\" event_id=%s err=%v", event.ID, err)
		}
	}

	h.writeReceived(w)
}

func (h *StripeWebhookHandler) writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}
