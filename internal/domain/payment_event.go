/**
 * @description
 * This file defines the shapes of incoming payment-provider webhook events. The
 * envelope carries the event id and type plus a raw payload; typed payloads are
 * decoded per event type by the reconciler. The metadata bag is attached by the
 * checkout session builder at purchase time and is the only attribution channel
 * back to a user/book/collection.
 */
package domain

import "encoding/json"

// Provider event types the reconciler recognizes.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSuccess = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

// Checkout metadata keys and values. These exact strings travel through the
// provider and back, so the reconciler and session builder must agree on them.
const (
	MetadataKeyUserID       = "userId"
	MetadataKeyBookID       = "bookId"
	MetadataKeyPaymentType  = "paymentType"
	MetadataKeyType         = "type"
	MetadataKeyCollectionID = "collectionId"

	PaymentTypeLifetime     = "lifetime"
	PaymentTypeSubscription = "subscription"
	MetadataTypeCollection  = "collection"
)

// PaymentEvent is the provider's webhook envelope after signature verification.
type PaymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionObject is the payload of a checkout.session.completed event.
// AmountTotal is in the currency's minor unit (cents).
type CheckoutSessionObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	AmountTotal   int64             `json:"amount_total"`
	Customer      string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	PaymentStatus string            `json:"payment_status"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

// SubscriptionObject is the payload of customer.subscription.* events. Period
// bounds are unix seconds; zero means the provider has not finalized them yet.
type SubscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Customer           string            `json:"customer"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// EntitlementUpdatedEvent is published internally after any reconciler write so
// interested consumers can refresh the affected user's entitlement snapshot.
type EntitlementUpdatedEvent struct {
	UserID       string `json:"user_id"`
	BookID       string `json:"book_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	Source       string `json:"source"` // provider event type that caused the write
}
