/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the entitlement service needs. The interface decouples the reconciler and the
 * application service from PostgreSQL so both can be tested against stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"

	"github.com/bookin/entitlement-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// Upsert* methods are keyed writes: re-running one with the same key is an
// overwrite, never a duplicate. MergeSubscription updates only the fields a
// provider update event carries and tolerates a missing row.
type Repository interface {
	// Purchase methods (keyed by user id + book id)
	UpsertPurchase(ctx context.Context, p *domain.Purchase) error
	ListPurchasesByUserID(ctx context.Context, userID string) ([]domain.Purchase, error)

	// Subscription methods (keyed by provider subscription id)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	MergeSubscription(ctx context.Context, update SubscriptionUpdateParams) (bool, error)
	FindSubscriptionByID(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
	ListSubscriptionsByUserID(ctx context.Context, userID string) ([]domain.Subscription, error)

	// Collection purchase methods (keyed by user id + collection id)
	UpsertCollectionPurchase(ctx context.Context, p *domain.CollectionPurchase) error
	ListCollectionPurchasesByUserID(ctx context.Context, userID string) ([]domain.CollectionPurchase, error)

	// Training progress methods (keyed by user id + book id)
	GetProgress(ctx context.Context, userID, bookID string) (*domain.UserProgress, error)
	ListProgressByUserID(ctx context.Context, userID string) ([]domain.UserProgress, error)
	SaveProgress(ctx context.Context, progress *domain.UserProgress) error

	// Streak methods (one record per user)
	GetStreakState(ctx context.Context, userID string) (*domain.StreakState, error)
	SaveStreakState(ctx context.Context, state *domain.StreakState) error

	// Reflection methods (append-only per user)
	CreateReflection(ctx context.Context, entry *domain.ReflectionEntry) error
	ListReflections(ctx context.Context, userID, bookID string) ([]domain.ReflectionEntry, error)
}

// SubscriptionUpdateParams carries the fields a subscription updated/deleted
// event may change. Nil pointers leave the stored value untouched.
type SubscriptionUpdateParams struct {
	SubscriptionID     string
	Status             *domain.SubscriptionStatus
	CurrentPeriodStart *int64 // unix seconds
	CurrentPeriodEnd   *int64 // unix seconds
	CancelAtPeriodEnd  *bool
}
