/**
 * @description
 * This file contains the webhook reconciler: it maps verified payment-provider
 * events to idempotent writes against the entitlement tables. Every handler is
 * safe to run twice for the same event or subscription id: each write is a
 * keyed upsert or merge, and the provider's payloads carry full state rather
 * than deltas, so out-of-order and duplicate delivery degrade to last-write-wins.
 *
 * Recognized events with missing required fields are skipped with a warning and
 * still acknowledged; only persistence failures propagate, so the provider's
 * retry machinery governs redelivery.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/internal/store"
)

// ReconcilerRepository is the slice of the store the reconciler writes through.
type ReconcilerRepository interface {
	UpsertPurchase(ctx context.Context, p *domain.Purchase) error
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	MergeSubscription(ctx context.Context, update store.SubscriptionUpdateParams) (bool, error)
	UpsertCollectionPurchase(ctx context.Context, p *domain.CollectionPurchase) error
}

// Publisher publishes internal events after entitlement writes. A nil publisher
// disables publishing; failures are logged, never propagated, since the write
// has already succeeded.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EntitlementExchange is the topic exchange entitlement notifications are
// published to and consumed from.
const EntitlementExchange = "bookin.events"

// EntitlementUpdatedKey is the routing key for entitlement change events.
const EntitlementUpdatedKey = "entitlement.updated"

// Reconciler applies payment-provider webhook events to persistence.
type Reconciler struct {
	repo     ReconcilerRepository
	producer Publisher
	now      func() time.Time

	handlers map[string]func(ctx context.Context, event domain.PaymentEvent) error
}

// NewReconciler creates a reconciler over the given repository. producer may be nil.
func NewReconciler(repo ReconcilerRepository, producer Publisher) *Reconciler {
	r := &Reconciler{
		repo:     repo,
		producer: producer,
		now:      time.Now,
	}
	r.handlers = map[string]func(ctx context.Context, event domain.PaymentEvent) error{
		domain.EventCheckoutCompleted:     r.handleCheckoutCompleted,
		domain.EventSubscriptionCreated:   r.handleSubscriptionCreated,
		domain.EventSubscriptionUpdated:   r.handleSubscriptionUpdated,
		domain.EventSubscriptionDeleted:   r.handleSubscriptionDeleted,
		domain.EventInvoicePaymentSuccess: r.handleInvoiceOutcome,
		domain.EventInvoicePaymentFailed:  r.handleInvoiceOutcome,
	}
	return r
}

// SetClock overrides the reconciler's clock. Used by tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Process dispatches one verified event to its handler. Unrecognized event
// types are logged and treated as success so the provider does not redeliver
// events this system intentionally does not model.
func (r *Reconciler) Process(ctx context.Context, event domain.PaymentEvent) error {
	handler, known := r.handlers[event.Type]
	if !known {
		log.Printf("level=info component=reconciler msg=\"ignoring unrecognized event type\" event_id=%s event_type=%s", event.ID, event.Type)
		return nil
	}
	return handler(ctx, event)
}

// handleCheckoutCompleted routes a completed checkout by its metadata: a
// collection purchase, a lifetime book purchase, or a subscription checkout.
// Subscription checkouts write nothing; the checkout event fires before the
// provider has finalized billing-period data, so the record is deferred to
// customer.subscription.created.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event domain.PaymentEvent) error {
	var session domain.CheckoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		log.Printf("level=warn component=reconciler msg=\"malformed checkout session payload; skipping\" event_id=%s err=%v", event.ID, err)
		return nil
	}

	userID := session.Metadata[domain.MetadataKeyUserID]
	if userID == "" {
		log.Printf("level=warn component=reconciler msg=\"checkout completed without userId metadata; skipping\" event_id=%s session_id=%s", event.ID, session.ID)
		return nil
	}

	if session.Metadata[domain.MetadataKeyType] == domain.MetadataTypeCollection {
		return r.recordCollectionPurchase(ctx, event, session, userID)
	}

	bookID := session.Metadata[domain.MetadataKeyBookID]
	paymentType := session.Metadata[domain.MetadataKeyPaymentType]
	switch {
	case paymentType == domain.PaymentTypeSubscription:
		// Deferred to subscription.created.
		log.Printf("level=info component=reconciler msg=\"subscription checkout acknowledged; awaiting subscription.created\" event_id=%s session_id=%s user_id=%s", event.ID, session.ID, userID)
		return nil
	case bookID != "" && paymentType == domain.PaymentTypeLifetime:
		return r.recordLifetimePurchase(ctx, event, session, userID, bookID)
	default:
		log.Printf("level=warn component=reconciler msg=\"checkout completed with unattributable metadata; skipping\" event_id=%s session_id=%s book_id=%q payment_type=%q", event.ID, session.ID, bookID, paymentType)
		return nil
	}
}

func (r *Reconciler) recordLifetimePurchase(ctx context.Context, event domain.PaymentEvent, session domain.CheckoutSessionObject, userID, bookID string) error {
	purchase := &domain.Purchase{
		ID:            uuid.NewString(),
		UserID:        userID,
		BookID:        bookID,
		PurchasedAt:   r.now(),
		Price:         minorUnitsToPrice(session.AmountTotal),
		PaymentMethod: domain.PaymentMethodStripe,
		TransactionID: session.ID,
		Status:        domain.PurchaseStatusCompleted,
	}
	if err := r.repo.UpsertPurchase(ctx, purchase); err != nil {
		return fmt.Errorf("failed to upsert purchase for user %s book %s: %w", userID, bookID, err)
	}

	log.Printf("level=info component=reconciler msg=\"lifetime purchase recorded\" event_id=%s user_id=%s book_id=%s amount_total=%d", event.ID, userID, bookID, session.AmountTotal)
	r.publishEntitlementUpdated(ctx, domain.EntitlementUpdatedEvent{UserID: userID, BookID: bookID, Source: event.Type})
	return nil
}

func (r *Reconciler) recordCollectionPurchase(ctx context.Context, event domain.PaymentEvent, session domain.CheckoutSessionObject, userID string) error {
	collectionID := session.Metadata[domain.MetadataKeyCollectionID]
	if collectionID == "" {
		log.Printf("level=warn component=reconciler msg=\"collection checkout without collectionId metadata; skipping\" event_id=%s session_id=%s user_id=%s", event.ID, session.ID, userID)
		return nil
	}

	purchase := &domain.CollectionPurchase{
		CollectionID:  collectionID,
		UserID:        userID,
		PurchasedAt:   r.now(),
		Price:         minorUnitsToPrice(session.AmountTotal),
		PaymentMethod: domain.PaymentMethodStripe,
		TransactionID: session.ID,
		Status:        domain.PurchaseStatusCompleted,
	}
	if err := r.repo.UpsertCollectionPurchase(ctx, purchase); err != nil {
		return fmt.Errorf("failed to upsert collection purchase for user %s collection %s: %w", userID, collectionID, err)
	}

	log.Printf("level=info component=reconciler msg=\"collection purchase recorded\" event_id=%s user_id=%s collection_id=%s amount_total=%d", event.ID, userID, collectionID, session.AmountTotal)
	r.publishEntitlementUpdated(ctx, domain.EntitlementUpdatedEvent{UserID: userID, CollectionID: collectionID, Source: event.Type})
	return nil
}

// handleSubscriptionCreated writes the subscription record keyed by the
// provider's subscription id. Both billing-period bounds must be present;
// otherwise the event is logged and skipped rather than written as a partial
// record; a later subscription.updated carries the finalized period.
func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, event domain.PaymentEvent) error {
	var sub domain.SubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		log.Printf("level=warn component=reconciler msg=\"malformed subscription payload; skipping\" event_id=%s err=%v", event.ID, err)
		return nil
	}

	if sub.CurrentPeriodStart == 0 || sub.CurrentPeriodEnd == 0 {
		log.Printf("level=warn component=reconciler msg=\"subscription created without billing period; skipping\" event_id=%s subscription_id=%s period_start=%d period_end=%d", event.ID, sub.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		return nil
	}

	userID := sub.Metadata[domain.MetadataKeyUserID]
	bookID := sub.Metadata[domain.MetadataKeyBookID]
	if userID == "" || bookID == "" {
		log.Printf("level=warn component=reconciler msg=\"subscription created without attribution metadata; skipping\" event_id=%s subscription_id=%s", event.ID, sub.ID)
		return nil
	}

	record := &domain.Subscription{
		ID:                     sub.ID,
		UserID:                 userID,
		BookID:                 bookID,
		Status:                 domain.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:     time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:       time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     sub.Customer,
		CreatedAt:              r.now(),
	}
	if err := r.repo.UpsertSubscription(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert subscription %s: %w", sub.ID, err)
	}

	log.Printf("level=info component=reconciler msg=\"subscription recorded\" event_id=%s subscription_id=%s user_id=%s book_id=%s status=%s", event.ID, sub.ID, userID, bookID, sub.Status)
	r.publishEntitlementUpdated(ctx, domain.EntitlementUpdatedEvent{UserID: userID, BookID: bookID, Source: event.Type})
	return nil
}

// handleSubscriptionUpdated merges status, period and cancellation fields into
// the existing record. An update for a subscription this system never recorded
// is tolerated as a no-op; records are never fabricated from update events.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event domain.PaymentEvent) error {
	return r.mergeSubscriptionEvent(ctx, event, nil)
}

// handleSubscriptionDeleted marks the subscription canceled. The row is never
// removed; cancellation is a status transition.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event domain.PaymentEvent) error {
	canceled := domain.SubscriptionStatusCanceled
	return r.mergeSubscriptionEvent(ctx, event, &canceled)
}

func (r *Reconciler) mergeSubscriptionEvent(ctx context.Context, event domain.PaymentEvent, statusOverride *domain.SubscriptionStatus) error {
	var sub domain.SubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		log.Printf("level=warn component=reconciler msg=\"malformed subscription payload; skipping\" event_id=%s err=%v", event.ID, err)
		return nil
	}
	if sub.ID == "" {
		log.Printf("level=warn component=reconciler msg=\"subscription event without id; skipping\" event_id=%s event_type=%s", event.ID, event.Type)
		return nil
	}

	update := store.SubscriptionUpdateParams{
		SubscriptionID:    sub.ID,
		CancelAtPeriodEnd: &sub.CancelAtPeriodEnd,
	}
	if statusOverride != nil {
		update.Status = statusOverride
	} else if sub.Status != "" {
		status := domain.SubscriptionStatus(sub.Status)
		update.Status = &status
	}
	if sub.CurrentPeriodStart != 0 {
		update.CurrentPeriodStart = &sub.CurrentPeriodStart
	}
	if sub.CurrentPeriodEnd != 0 {
		update.CurrentPeriodEnd = &sub.CurrentPeriodEnd
	}

	found, err := r.repo.MergeSubscription(ctx, update)
	if err != nil {
		return fmt.Errorf("failed to merge subscription %s: %w", sub.ID, err)
	}
	if !found {
		log.Printf("level=warn component=reconciler msg=\"update for unknown subscription ignored\" event_id=%s subscription_id=%s event_type=%s", event.ID, sub.ID, event.Type)
		return nil
	}

	log.Printf("level=info component=reconciler msg=\"subscription merged\" event_id=%s subscription_id=%s event_type=%s", event.ID, sub.ID, event.Type)
	r.publishEntitlementUpdated(ctx, domain.EntitlementUpdatedEvent{
		UserID: sub.Metadata[domain.MetadataKeyUserID],
		BookID: sub.Metadata[domain.MetadataKeyBookID],
		Source: event.Type,
	})
	return nil
}

// handleInvoiceOutcome acknowledges invoice events without writing. Period
// state comes from subscription.created/updated, not invoices, to avoid racing
// on period data the provider has not finalized.
func (r *Reconciler) handleInvoiceOutcome(ctx context.Context, event domain.PaymentEvent) error {
	log.Printf("level=info component=reconciler msg=\"invoice event acknowledged without write\" event_id=%s event_type=%s", event.ID, event.Type)
	return nil
}

func (r *Reconciler) publishEntitlementUpdated(ctx context.Context, event domain.EntitlementUpdatedEvent) {
	if r.producer == nil || event.UserID == "" {
		return
	}
	if err := r.producer.Publish(ctx, EntitlementExchange, EntitlementUpdatedKey, event); err != nil {
		log.Printf("level=warn component=reconciler msg=\"entitlement event publish failed\" user_id=%s source=%s err=%v", event.UserID, event.Source, err)
	}
}

// minorUnitsToPrice converts a provider amount in the currency's minor unit
// (cents) to whole currency units.
func minorUnitsToPrice(amount int64) float64 {
	return float64(amount) / 100
}
