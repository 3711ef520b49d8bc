/**
 * @description
 * This file defines the purchase-side domain models for the entitlement service.
 * A Purchase grants permanent access to a single book; a CollectionPurchase grants
 * access to every book that belongs to the purchased collection. Both are written
 * exclusively by the webhook reconciler in production.
 */
package domain

import "time"

// PaymentMethod identifies the provider that settled a purchase.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodMock   PaymentMethod = "mock"
)

// PurchaseStatus is the lifecycle state of a purchase record.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// Purchase is a lifetime purchase of one book by one user. Immutable once
// completed; keyed by (user_id, book_id) so redelivered checkout events
// overwrite rather than duplicate.
type Purchase struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	BookID        string         `json:"book_id"`
	PurchasedAt   time.Time      `json:"purchased_at"`
	Price         float64        `json:"price"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	TransactionID string         `json:"transaction_id"`
	Status        PurchaseStatus `json:"status"`
}

// IsCompleted reports whether the purchase currently grants access.
func (p Purchase) IsCompleted() bool {
	return p.Status == PurchaseStatusCompleted
}

// CollectionPurchase is a bundled purchase of a collection of books. At most one
// record exists per (user_id, collection_id).
type CollectionPurchase struct {
	CollectionID  string         `json:"collection_id"`
	UserID        string         `json:"user_id"`
	PurchasedAt   time.Time      `json:"purchased_at"`
	Price         float64        `json:"price"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	TransactionID string         `json:"transaction_id"`
	Status        PurchaseStatus `json:"status"`
}

// IsCompleted reports whether the collection purchase currently grants access.
func (p CollectionPurchase) IsCompleted() bool {
	return p.Status == PurchaseStatusCompleted
}
