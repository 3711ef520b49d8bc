/**
 * @description
 * This file contains the core business logic for the entitlement service. The
 * `Service` struct orchestrates the use cases behind the HTTP API: building
 * Stripe checkout sessions, verifying them after redirect, answering
 * entitlement questions through the cache, and recording training progress,
 * daily practice and reflections.
 *
 * Key features:
 * - Builds checkout sessions for the three purchase intents (lifetime book,
 *   book subscription, collection bundle) with the metadata the webhook
 *   reconciler later relies on.
 * - Holds the read-only book/collection catalog loaded at boot.
 * - Wraps repository access for progress, streaks and reflections.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For reflection entry ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripeclient: For payment provider communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/internal/store"
	"github.com/bookin/entitlement-service/pkg/stripeclient"
)

var (
	// ErrNotAuthenticated is returned when an operation requires a signed-in
	// user and none was provided.
	ErrNotAuthenticated = errors.New("user is not authenticated")

	// ErrMissingPriceRef is returned when a checkout intent carries no price
	// reference and no configured fallback applies.
	ErrMissingPriceRef = errors.New("price reference is required")

	// ErrInvalidIntent is returned when a checkout intent names neither a book
	// nor a collection.
	ErrInvalidIntent = errors.New("checkout intent must reference a book or a collection")

	// ErrUnknownCollection is returned when a collection intent references a
	// collection the catalog does not know.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrCollectionClosed is returned when a collection exists but can no
	// longer be purchased.
	ErrCollectionClosed = errors.New("collection is no longer available")

	// ErrEmptyReflection is returned when a reflection has no content.
	ErrEmptyReflection = errors.New("reflection content is empty")
)

// CheckoutIntent describes what the user wants to buy. Exactly one of BookID
// or CollectionID must be set. PaymentType applies to book intents and
// defaults to lifetime.
type CheckoutIntent struct {
	UserID        string
	CustomerEmail string
	BookID        string
	CollectionID  string
	PriceID       string
	PaymentType   string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutConfig carries the static checkout settings from configuration.
type CheckoutConfig struct {
	CollectionPriceID string
	SuccessURL        string
	CancelURL         string
}

// Service provides the core business logic for the entitlement service.
type Service struct {
	repo         store.Repository
	stripe       *stripeclient.Client
	entitlements *EntitlementCache
	books        map[string]domain.Book
	collections  map[string]domain.Collection
	checkout     CheckoutConfig
	now          func() time.Time
}

// NewService creates a new service instance. The books and collections slices
// are the static catalog loaded at boot; they are indexed once and never
// mutated.
func NewService(repo store.Repository, stripe *stripeclient.Client, entitlements *EntitlementCache, books []domain.Book, collections []domain.Collection, checkout CheckoutConfig) *Service {
	bookIndex := make(map[string]domain.Book, len(books))
	for _, b := range books {
		bookIndex[b.ID] = b
	}
	collectionIndex := make(map[string]domain.Collection, len(collections))
	for _, c := range collections {
		collectionIndex[c.ID] = c
	}
	return &Service{
		repo:         repo,
		stripe:       stripe,
		entitlements: entitlements,
		books:        bookIndex,
		collections:  collectionIndex,
		checkout:     checkout,
		now:          time.Now,
	}
}

// SetClock overrides the service's time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// FindBook looks up a catalog book. Unknown ids yield a zero-value book
// carrying only the id, so access checks still work against purchase records.
func (s *Service) FindBook(bookID string) domain.Book {
	if b, ok := s.books[bookID]; ok {
		return b
	}
	return domain.Book{ID: bookID}
}

// NewEntitlementFetcher builds the fetch function the entitlement cache uses
// to load a user's ownership records from the repository.
func NewEntitlementFetcher(repo store.Repository) EntitlementFetcher {
	return func(ctx context.Context, userID string) (EntitlementSet, error) {
		purchases, err := repo.ListPurchasesByUserID(ctx, userID)
		if err != nil {
			return EntitlementSet{}, fmt.Errorf("failed to list purchases: %w", err)
		}
		subscriptions, err := repo.ListSubscriptionsByUserID(ctx, userID)
		if err != nil {
			return EntitlementSet{}, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		collectionPurchases, err := repo.ListCollectionPurchasesByUserID(ctx, userID)
		if err != nil {
			return EntitlementSet{}, fmt.Errorf("failed to list collection purchases: %w", err)
		}
		return EntitlementSet{
			Purchases:           purchases,
			Subscriptions:       subscriptions,
			CollectionPurchases: collectionPurchases,
		}, nil
	}
}

// CreateCheckoutSession validates a checkout intent, builds the provider
// request and returns the created session. The metadata written here is the
// contract the webhook reconciler reads back when payment completes.
func (s *Service) CreateCheckoutSession(ctx context.Context, intent CheckoutIntent) (*stripeclient.CheckoutSession, error) {
	if intent.UserID == "" {
		return nil, ErrNotAuthenticated
	}

	metadata := make(map[string]string, len(intent.Metadata)+3)
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	metadata[domain.MetadataKeyUserID] = intent.UserID

	params := stripeclient.CheckoutSessionParams{
		Mode:          stripeclient.ModePayment,
		PriceID:       intent.PriceID,
		CustomerEmail: intent.CustomerEmail,
		SuccessURL:    intent.SuccessURL,
		CancelURL:     intent.CancelURL,
		Metadata:      metadata,
	}
	if params.SuccessURL == "" {
		params.SuccessURL = s.checkout.SuccessURL
	}
	if params.CancelURL == "" {
		params.CancelURL = s.checkout.CancelURL
	}

	switch {
	case intent.CollectionID != "":
		collection, ok := s.collections[intent.CollectionID]
		if !ok {
			return nil, ErrUnknownCollection
		}
		if !collection.IsOpenAt(s.now()) {
			return nil, ErrCollectionClosed
		}
		if params.PriceID == "" {
			params.PriceID = s.checkout.CollectionPriceID
		}
		metadata[domain.MetadataKeyType] = domain.MetadataTypeCollection
		metadata[domain.MetadataKeyCollectionID] = intent.CollectionID

	case intent.BookID != "":
		paymentType := intent.PaymentType
		if paymentType == "" {
			paymentType = domain.PaymentTypeLifetime
		}
		if paymentType == domain.PaymentTypeSubscription {
			params.Mode = stripeclient.ModeSubscription
		}
		metadata[domain.MetadataKeyBookID] = intent.BookID
		metadata[domain.MetadataKeyPaymentType] = paymentType

	default:
		return nil, ErrInvalidIntent
	}

	if params.PriceID == "" {
		return nil, ErrMissingPriceRef
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	log.Printf("level=info component=service msg=\"checkout session created\" session_id=%s mode=%s user_id=%s", session.ID, session.Mode, intent.UserID)
	return session, nil
}

// VerifySession retrieves a checkout session after the user is redirected
// back. It is a confirmation lookup only; entitlements are granted by the
// webhook reconciler, never here.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*stripeclient.CheckoutSession, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	session, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return session, nil
}

// Entitlements returns the user's (possibly cached) ownership snapshot. When
// the backing fetch fails but a previous snapshot exists, that snapshot is
// served instead of the error.
func (s *Service) Entitlements(ctx context.Context, userID string) (EntitlementSet, error) {
	if userID == "" {
		return EntitlementSet{}, ErrNotAuthenticated
	}
	set, err := s.entitlements.Snapshot(ctx, userID)
	if err != nil {
		if _, ok := s.entitlements.Cached(userID); ok {
			return set, nil
		}
		return EntitlementSet{}, err
	}
	return set, nil
}

// RefreshEntitlements bypasses the cache TTL and refetches from the store.
func (s *Service) RefreshEntitlements(ctx context.Context, userID string) (EntitlementSet, error) {
	if userID == "" {
		return EntitlementSet{}, ErrNotAuthenticated
	}
	return s.entitlements.Refresh(ctx, userID)
}

// CheckBookAccess answers whether the user may open the given book.
func (s *Service) CheckBookAccess(ctx context.Context, userID, bookID string) (bool, error) {
	if userID == "" {
		return false, ErrNotAuthenticated
	}
	return s.entitlements.HasAccess(ctx, userID, s.FindBook(bookID))
}

// RecordAnswer registers one answered question against the user's progress for
// a book. Answers are a set union: answering the same question twice never
// double-counts, and a later wrong answer does not revoke an earlier correct
// one.
func (s *Service) RecordAnswer(ctx context.Context, userID, bookID, questionID string, correct bool, totalQuestions int) (*domain.UserProgress, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	now := s.now()

	progress, err := s.repo.GetProgress(ctx, userID, bookID)
	if err != nil {
		if !errors.Is(err, store.ErrProgressNotFound) {
			return nil, fmt.Errorf("failed to load progress: %w", err)
		}
		progress = &domain.UserProgress{
			ID:     bookID,
			UserID: userID,
			BookID: bookID,
		}
	}

	if !progress.HasCompleted(questionID) {
		progress.QuestionsCompleted = append(progress.QuestionsCompleted, questionID)
	}
	if correct && !progress.HasCorrect(questionID) {
		progress.QuestionsCorrect = append(progress.QuestionsCorrect, questionID)
	}
	progress.LastAccessed = now
	progress.MasteryLevel = domain.CalculateMasteryLevel(len(progress.QuestionsCompleted), len(progress.QuestionsCorrect), totalQuestions)
	progress.SyncedToCloud = true
	progress.SyncedAt = &now

	if err := s.repo.SaveProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}
	return progress, nil
}

// GetProgress returns the user's progress for one book.
func (s *Service) GetProgress(ctx context.Context, userID, bookID string) (*domain.UserProgress, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.repo.GetProgress(ctx, userID, bookID)
}

// ListProgress returns the user's progress across all books.
func (s *Service) ListProgress(ctx context.Context, userID string) ([]domain.UserProgress, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.repo.ListProgressByUserID(ctx, userID)
}

// RecordPractice marks today as practiced for the user and returns the
// resulting streak view. Calling it twice on the same day is a no-op.
func (s *Service) RecordPractice(ctx context.Context, userID string) (*domain.StreakStatus, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	now := s.now()

	state, err := s.loadStreakState(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := AdvanceStreak(*state, now)
	if err := s.repo.SaveStreakState(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to save streak: %w", err)
	}

	status := StreakStatusAt(next, now)
	return &status, nil
}

// GetStreak returns the user's current streak view without recording
// practice.
func (s *Service) GetStreak(ctx context.Context, userID string) (*domain.StreakStatus, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	state, err := s.loadStreakState(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := StreakStatusAt(*state, s.now())
	return &status, nil
}

func (s *Service) loadStreakState(ctx context.Context, userID string) (*domain.StreakState, error) {
	state, err := s.repo.GetStreakState(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrStreakNotFound) {
			return nil, fmt.Errorf("failed to load streak: %w", err)
		}
		state = &domain.StreakState{UserID: userID}
	}
	return state, nil
}

// AddReflection appends a reflection entry for a question.
func (s *Service) AddReflection(ctx context.Context, userID, bookID, questionID, content string) (*domain.ReflectionEntry, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyReflection
	}

	entry := &domain.ReflectionEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		BookID:     bookID,
		QuestionID: questionID,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateReflection(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save reflection: %w", err)
	}
	return entry, nil
}

// ListReflections returns the user's reflections for one book, newest first.
func (s *Service) ListReflections(ctx context.Context, userID, bookID string) ([]domain.ReflectionEntry, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.repo.ListReflections(ctx, userID, bookID)
}
