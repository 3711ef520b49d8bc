/**
 * @description
 * This file defines the subscription domain model. A subscription grants access to
 * a single book while it is in an entitling status and its billing period has not
 * lapsed. Records are keyed by the provider's subscription id so repeated webhook
 * deliveries for the same subscription merge into one row.
 */
package domain

import "time"

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// Subscription is a per-book recurring entitlement. Cancellation is a status
// transition, never a row removal.
type Subscription struct {
	ID                     string             `json:"id"` // provider subscription id
	UserID                 string             `json:"user_id"`
	BookID                 string             `json:"book_id"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	CreatedAt              time.Time          `json:"created_at"`
}

// IsActiveAt reports whether the subscription grants access at the given instant.
// Evaluated at read time rather than cached: the period can lapse without a
// cancellation webhook ever arriving.
func (s Subscription) IsActiveAt(now time.Time) bool {
	entitling := s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
	return entitling && s.CurrentPeriodEnd.After(now)
}
