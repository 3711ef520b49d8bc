package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/internal/store"
)

type reconcilerRepoStub struct {
	purchase           *domain.Purchase
	subscription       *domain.Subscription
	collectionPurchase *domain.CollectionPurchase
	mergeParams        *store.SubscriptionUpdateParams
	mergeFound         bool

	upsertPurchaseErr error
}

func (s *reconcilerRepoStub) UpsertPurchase(ctx context.Context, p *domain.Purchase) error {
	if s.upsertPurchaseErr != nil {
		return s.upsertPurchaseErr
	}
	s.purchase = p
	return nil
}

func (s *reconcilerRepoStub) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	s.subscription = sub
	return nil
}

func (s *reconcilerRepoStub) MergeSubscription(ctx context.Context, update store.SubscriptionUpdateParams) (bool, error) {
	s.mergeParams = &update
	return s.mergeFound, nil
}

func (s *reconcilerRepoStub) UpsertCollectionPurchase(ctx context.Context, p *domain.CollectionPurchase) error {
	s.collectionPurchase = p
	return nil
}

type publisherStub struct {
	exchange   string
	routingKey string
	bodies     []interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchange = exchange
	p.routingKey = routingKey
	p.bodies = append(p.bodies, body)
	return nil
}

func makeEvent(t *testing.T, id, eventType string, object interface{}) domain.PaymentEvent {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	event := domain.PaymentEvent{ID: id, Type: eventType}
	event.Data.Object = raw
	return event
}

func fixedClock() func() time.Time {
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestReconciler_LifetimeCheckoutRecordsPurchase(t *testing.T) {
	repo := &reconcilerRepoStub{}
	pub := &publisherStub{}
	r := NewReconciler(repo, pub)
	r.SetClock(fixedClock())

	event := makeEvent(t, "evt_1", domain.EventCheckoutCompleted, domain.CheckoutSessionObject{
		ID:          "cs_123",
		Mode:        "payment",
		AmountTotal: 900,
		Metadata: map[string]string{
			domain.MetadataKeyUserID:      "user-1",
			domain.MetadataKeyBookID:      "book-1",
			domain.MetadataKeyPaymentType: domain.PaymentTypeLifetime,
		},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.purchase == nil {
		t.Fatal("expected a purchase to be written")
	}
	if repo.purchase.UserID != "user-1" || repo.purchase.BookID != "book-1" {
		t.Fatalf("unexpected purchase attribution: %+v", repo.purchase)
	}
	if repo.purchase.Price != 9.0 {
		t.Fatalf("expected price 9.00 from 900 minor units, got %v", repo.purchase.Price)
	}
	if repo.purchase.TransactionID != "cs_123" {
		t.Fatalf("expected transaction id cs_123, got %s", repo.purchase.TransactionID)
	}
	if repo.purchase.Status != domain.PurchaseStatusCompleted {
		t.Fatalf("expected completed status, got %s", repo.purchase.Status)
	}
	if pub.routingKey != EntitlementUpdatedKey || pub.exchange != EntitlementExchange {
		t.Fatalf("expected entitlement event published, got exchange=%s key=%s", pub.exchange, pub.routingKey)
	}
}

func TestReconciler_CollectionCheckoutRecordsCollectionPurchase(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)
	r.SetClock(fixedClock())

	event := makeEvent(t, "evt_2", domain.EventCheckoutCompleted, domain.CheckoutSessionObject{
		ID:          "cs_456",
		AmountTotal: 1999,
		Metadata: map[string]string{
			domain.MetadataKeyUserID:       "user-1",
			domain.MetadataKeyType:         domain.MetadataTypeCollection,
			domain.MetadataKeyCollectionID: "col-1",
		},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.collectionPurchase == nil {
		t.Fatal("expected a collection purchase to be written")
	}
	if repo.collectionPurchase.CollectionID != "col-1" {
		t.Fatalf("unexpected collection id: %s", repo.collectionPurchase.CollectionID)
	}
	if repo.collectionPurchase.Price != 19.99 {
		t.Fatalf("expected price 19.99, got %v", repo.collectionPurchase.Price)
	}
	if repo.purchase != nil {
		t.Fatal("expected no book purchase for a collection checkout")
	}
}

func TestReconciler_SubscriptionCheckoutDefersWrite(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_3", domain.EventCheckoutCompleted, domain.CheckoutSessionObject{
		ID:   "cs_789",
		Mode: "subscription",
		Metadata: map[string]string{
			domain.MetadataKeyUserID:      "user-1",
			domain.MetadataKeyBookID:      "book-1",
			domain.MetadataKeyPaymentType: domain.PaymentTypeSubscription,
		},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.purchase != nil || repo.subscription != nil {
		t.Fatal("expected no write for a subscription checkout")
	}
}

func TestReconciler_CheckoutWithoutUserIDIsSkipped(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_4", domain.EventCheckoutCompleted, domain.CheckoutSessionObject{
		ID:       "cs_000",
		Metadata: map[string]string{domain.MetadataKeyBookID: "book-1"},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("expected skip to acknowledge, got error: %v", err)
	}
	if repo.purchase != nil || repo.collectionPurchase != nil {
		t.Fatal("expected nothing written without attribution")
	}
}

func TestReconciler_WriteFailurePropagates(t *testing.T) {
	repo := &reconcilerRepoStub{upsertPurchaseErr: errors.New("db down")}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_5", domain.EventCheckoutCompleted, domain.CheckoutSessionObject{
		ID:          "cs_123",
		AmountTotal: 900,
		Metadata: map[string]string{
			domain.MetadataKeyUserID:      "user-1",
			domain.MetadataKeyBookID:      "book-1",
			domain.MetadataKeyPaymentType: domain.PaymentTypeLifetime,
		},
	})

	if err := r.Process(context.Background(), event); err == nil {
		t.Fatal("expected write failure to propagate for provider redelivery")
	}
}

func TestReconciler_SubscriptionCreated(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)
	r.SetClock(fixedClock())

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	event := makeEvent(t, "evt_6", domain.EventSubscriptionCreated, domain.SubscriptionObject{
		ID:                 "sub_abc",
		Status:             "active",
		Customer:           "cus_1",
		CurrentPeriodStart: start.Unix(),
		CurrentPeriodEnd:   end.Unix(),
		Metadata: map[string]string{
			domain.MetadataKeyUserID: "user-1",
			domain.MetadataKeyBookID: "book-1",
		},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.subscription == nil {
		t.Fatal("expected a subscription to be written")
	}
	if repo.subscription.ID != "sub_abc" {
		t.Fatalf("expected record keyed by provider id, got %s", repo.subscription.ID)
	}
	if repo.subscription.Status != domain.SubscriptionStatusActive {
		t.Fatalf("unexpected status: %s", repo.subscription.Status)
	}
	if !repo.subscription.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("expected period end %v, got %v", end, repo.subscription.CurrentPeriodEnd)
	}
}

func TestReconciler_SubscriptionCreatedWithoutPeriodIsSkipped(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_7", domain.EventSubscriptionCreated, domain.SubscriptionObject{
		ID:     "sub_abc",
		Status: "active",
		Metadata: map[string]string{
			domain.MetadataKeyUserID: "user-1",
			domain.MetadataKeyBookID: "book-1",
		},
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("expected skip to acknowledge, got error: %v", err)
	}
	if repo.subscription != nil {
		t.Fatal("expected no partial subscription record")
	}
}

func TestReconciler_SubscriptionUpdatedMerges(t *testing.T) {
	repo := &reconcilerRepoStub{mergeFound: true}
	r := NewReconciler(repo, nil)

	end := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC).Unix()
	event := makeEvent(t, "evt_8", domain.EventSubscriptionUpdated, domain.SubscriptionObject{
		ID:                "sub_abc",
		Status:            "past_due",
		CurrentPeriodEnd:  end,
		CancelAtPeriodEnd: true,
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.mergeParams == nil {
		t.Fatal("expected a merge to be attempted")
	}
	if repo.mergeParams.SubscriptionID != "sub_abc" {
		t.Fatalf("unexpected subscription id: %s", repo.mergeParams.SubscriptionID)
	}
	if repo.mergeParams.Status == nil || *repo.mergeParams.Status != domain.SubscriptionStatusPastDue {
		t.Fatalf("expected status past_due, got %v", repo.mergeParams.Status)
	}
	if repo.mergeParams.CurrentPeriodStart != nil {
		t.Fatal("expected absent period start to stay nil")
	}
	if repo.mergeParams.CurrentPeriodEnd == nil || *repo.mergeParams.CurrentPeriodEnd != end {
		t.Fatalf("expected period end %d, got %v", end, repo.mergeParams.CurrentPeriodEnd)
	}
	if repo.mergeParams.CancelAtPeriodEnd == nil || !*repo.mergeParams.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end true")
	}
}

func TestReconciler_UpdateForUnknownSubscriptionIsNoOp(t *testing.T) {
	repo := &reconcilerRepoStub{mergeFound: false}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_9", domain.EventSubscriptionUpdated, domain.SubscriptionObject{
		ID:     "sub_unknown",
		Status: "active",
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("expected unknown subscription to be tolerated, got error: %v", err)
	}
}

func TestReconciler_SubscriptionDeletedForcesCanceled(t *testing.T) {
	repo := &reconcilerRepoStub{mergeFound: true}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_10", domain.EventSubscriptionDeleted, domain.SubscriptionObject{
		ID:     "sub_abc",
		Status: "active", // provider payload status is ignored on delete
	})

	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.mergeParams.Status == nil || *repo.mergeParams.Status != domain.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled status, got %v", repo.mergeParams.Status)
	}
}

func TestReconciler_InvoiceEventsWriteNothing(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)

	for _, eventType := range []string{domain.EventInvoicePaymentSuccess, domain.EventInvoicePaymentFailed} {
		event := makeEvent(t, "evt_inv", eventType, map[string]string{"id": "in_1"})
		if err := r.Process(context.Background(), event); err != nil {
			t.Fatalf("unexpected error for %s: %v", eventType, err)
		}
	}
	if repo.purchase != nil || repo.subscription != nil || repo.collectionPurchase != nil || repo.mergeParams != nil {
		t.Fatal("expected invoice events to write nothing")
	}
}

func TestReconciler_UnrecognizedEventIsAcknowledged(t *testing.T) {
	repo := &reconcilerRepoStub{}
	r := NewReconciler(repo, nil)

	event := makeEvent(t, "evt_11", "charge.refunded", map[string]string{"id": "ch_1"})
	if err := r.Process(context.Background(), event); err != nil {
		t.Fatalf("expected unrecognized event to be acknowledged, got error: %v", err)
	}
}
