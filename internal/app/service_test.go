package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/internal/store"
	"github.com/bookin/entitlement-service/pkg/stripeclient"
)

type serviceRepoStub struct {
	store.Repository

	progress    *domain.UserProgress
	savedState  *domain.StreakState
	streakState *domain.StreakState
	reflection  *domain.ReflectionEntry
}

func (s *serviceRepoStub) GetProgress(ctx context.Context, userID, bookID string) (*domain.UserProgress, error) {
	if s.progress == nil {
		return nil, store.ErrProgressNotFound
	}
	return s.progress, nil
}

func (s *serviceRepoStub) SaveProgress(ctx context.Context, progress *domain.UserProgress) error {
	s.progress = progress
	return nil
}

func (s *serviceRepoStub) GetStreakState(ctx context.Context, userID string) (*domain.StreakState, error) {
	if s.streakState == nil {
		return nil, store.ErrStreakNotFound
	}
	return s.streakState, nil
}

func (s *serviceRepoStub) SaveStreakState(ctx context.Context, state *domain.StreakState) error {
	s.savedState = state
	return nil
}

func (s *serviceRepoStub) CreateReflection(ctx context.Context, entry *domain.ReflectionEntry) error {
	s.reflection = entry
	return nil
}

// newCheckoutService spins up a fake provider endpoint that records the last
// form submission and returns a canned session.
func newCheckoutService(t *testing.T, collections []domain.Collection) (*Service, *url.Values) {
	t.Helper()

	var lastForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":   "cs_test_1",
			"url":  "https://checkout.example/cs_test_1",
			"mode": lastForm.Get("mode"),
		})
	}))
	t.Cleanup(server.Close)

	client := stripeclient.NewClient("sk_test_123")
	client.BaseURL = server.URL

	svc := NewService(&serviceRepoStub{}, client, nil, nil, collections, CheckoutConfig{
		CollectionPriceID: "price_collection",
		SuccessURL:        "app://success",
		CancelURL:         "app://cancel",
	})
	return svc, &lastForm
}

func TestCreateCheckoutSession_RequiresUser(t *testing.T) {
	svc, _ := newCheckoutService(t, nil)

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{BookID: "book-1", PriceID: "price_1"})
	if err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCreateCheckoutSession_RequiresPriceRef(t *testing.T) {
	svc, _ := newCheckoutService(t, nil)

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{UserID: "user-1", BookID: "book-1"})
	if err != ErrMissingPriceRef {
		t.Fatalf("expected ErrMissingPriceRef, got %v", err)
	}
}

func TestCreateCheckoutSession_RequiresTarget(t *testing.T) {
	svc, _ := newCheckoutService(t, nil)

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{UserID: "user-1", PriceID: "price_1"})
	if err != ErrInvalidIntent {
		t.Fatalf("expected ErrInvalidIntent, got %v", err)
	}
}

func TestCreateCheckoutSession_LifetimeDefaults(t *testing.T) {
	svc, form := newCheckoutService(t, nil)

	session, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{
		UserID:  "user-1",
		BookID:  "book-1",
		PriceID: "price_book",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.URL == "" {
		t.Fatal("expected a checkout url")
	}

	if got := form.Get("mode"); got != "payment" {
		t.Fatalf("expected payment mode, got %q", got)
	}
	if got := form.Get("metadata[userId]"); got != "user-1" {
		t.Fatalf("expected userId metadata, got %q", got)
	}
	if got := form.Get("metadata[bookId]"); got != "book-1" {
		t.Fatalf("expected bookId metadata, got %q", got)
	}
	if got := form.Get("metadata[paymentType]"); got != domain.PaymentTypeLifetime {
		t.Fatalf("expected paymentType to default to lifetime, got %q", got)
	}
	if got := form.Get("success_url"); got != "app://success" {
		t.Fatalf("expected configured success url, got %q", got)
	}
}

func TestCreateCheckoutSession_SubscriptionModeAndMetadata(t *testing.T) {
	svc, form := newCheckoutService(t, nil)

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{
		UserID:      "user-1",
		BookID:      "book-1",
		PriceID:     "price_sub",
		PaymentType: domain.PaymentTypeSubscription,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := form.Get("mode"); got != "subscription" {
		t.Fatalf("expected subscription mode, got %q", got)
	}
	// Attribution must also land on the subscription object itself.
	if got := form.Get("subscription_data[metadata][userId]"); got != "user-1" {
		t.Fatalf("expected subscription metadata userId, got %q", got)
	}
	if got := form.Get("subscription_data[metadata][bookId]"); got != "book-1" {
		t.Fatalf("expected subscription metadata bookId, got %q", got)
	}
}

func TestCreateCheckoutSession_CollectionFallsBackToConfiguredPrice(t *testing.T) {
	collections := []domain.Collection{{ID: "col-1", IsActive: true}}
	svc, form := newCheckoutService(t, collections)

	_, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{
		UserID:       "user-1",
		CollectionID: "col-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := form.Get("line_items[0][price]"); got != "price_collection" {
		t.Fatalf("expected configured collection price, got %q", got)
	}
	if got := form.Get("metadata[type]"); got != domain.MetadataTypeCollection {
		t.Fatalf("expected collection type metadata, got %q", got)
	}
	if got := form.Get("metadata[collectionId]"); got != "col-1" {
		t.Fatalf("expected collectionId metadata, got %q", got)
	}
}

func TestCreateCheckoutSession_RejectsUnknownOrClosedCollection(t *testing.T) {
	expired := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	collections := []domain.Collection{
		{ID: "col-closed", IsActive: true, ExpiresAt: &expired},
		{ID: "col-inactive", IsActive: false},
	}
	svc, _ := newCheckoutService(t, collections)

	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{UserID: "u", CollectionID: "col-missing"}); err != ErrUnknownCollection {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{UserID: "u", CollectionID: "col-closed"}); err != ErrCollectionClosed {
		t.Fatalf("expected ErrCollectionClosed for expired collection, got %v", err)
	}
	if _, err := svc.CreateCheckoutSession(context.Background(), CheckoutIntent{UserID: "u", CollectionID: "col-inactive"}); err != ErrCollectionClosed {
		t.Fatalf("expected ErrCollectionClosed for inactive collection, got %v", err)
	}
}

func TestRecordAnswer_MasteryAndSetUnion(t *testing.T) {
	repo := &serviceRepoStub{}
	svc := NewService(repo, nil, nil, nil, nil, CheckoutConfig{})

	ctx := context.Background()
	answers := []struct {
		questionID string
		correct    bool
	}{
		{"q1", true},
		{"q2", true},
		{"q3", true},
		{"q4", false},
	}
	var progress *domain.UserProgress
	var err error
	for _, a := range answers {
		progress, err = svc.RecordAnswer(ctx, "user-1", "book-1", a.questionID, a.correct, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(progress.QuestionsCompleted) != 4 {
		t.Fatalf("expected 4 completed, got %d", len(progress.QuestionsCompleted))
	}
	if len(progress.QuestionsCorrect) != 3 {
		t.Fatalf("expected 3 correct, got %d", len(progress.QuestionsCorrect))
	}
	// 75% accuracy at full completion: 0.7*0.75 + 0.3*1.0 = 0.825 -> 83.
	if progress.MasteryLevel != 83 {
		t.Fatalf("expected mastery 83, got %d", progress.MasteryLevel)
	}

	// Re-answering the same question never double-counts, and a wrong answer
	// does not revoke an earlier correct one.
	progress, err = svc.RecordAnswer(ctx, "user-1", "book-1", "q1", false, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(progress.QuestionsCompleted) != 4 || len(progress.QuestionsCorrect) != 3 {
		t.Fatalf("expected counts unchanged, got completed=%d correct=%d", len(progress.QuestionsCompleted), len(progress.QuestionsCorrect))
	}
}

func TestRecordPractice_CreatesAndAdvancesState(t *testing.T) {
	repo := &serviceRepoStub{}
	svc := NewService(repo, nil, nil, nil, nil, CheckoutConfig{})
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	status, err := svc.RecordPractice(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.CurrentStreak != 1 {
		t.Fatalf("expected streak 1 after first practice, got %d", status.CurrentStreak)
	}
	if repo.savedState == nil || repo.savedState.UserID != "user-1" {
		t.Fatalf("expected streak state saved for user, got %+v", repo.savedState)
	}

	// Next day continues the streak.
	repo.streakState = repo.savedState
	now = now.AddDate(0, 0, 1)
	status, err = svc.RecordPractice(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.CurrentStreak != 2 {
		t.Fatalf("expected streak 2, got %d", status.CurrentStreak)
	}
}

func TestAddReflection_RejectsEmptyContent(t *testing.T) {
	repo := &serviceRepoStub{}
	svc := NewService(repo, nil, nil, nil, nil, CheckoutConfig{})

	if _, err := svc.AddReflection(context.Background(), "user-1", "book-1", "q1", "   "); err != ErrEmptyReflection {
		t.Fatalf("expected ErrEmptyReflection, got %v", err)
	}

	entry, err := svc.AddReflection(context.Background(), "user-1", "book-1", "q1", "the core idea held up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected a generated entry id")
	}
	if repo.reflection == nil || repo.reflection.Content != "the core idea held up" {
		t.Fatalf("expected reflection persisted, got %+v", repo.reflection)
	}
}
