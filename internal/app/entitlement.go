/**
 * @description
 * This file contains the read-side entitlement cache: per user, the full set of
 * purchases, subscriptions and collection purchases, fetched once and reused
 * within a TTL window. Access checks are always evaluated against the current
 * clock, never cached as booleans, because a subscription period can lapse
 * without any webhook arriving.
 *
 * The clock and the backing fetch are injected so TTL expiry and staleness are
 * deterministic under test.
 */
package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bookin/entitlement-service/internal/domain"
)

// EntitlementSet is one user's complete entitlement snapshot.
type EntitlementSet struct {
	Purchases           []domain.Purchase           `json:"purchases"`
	Subscriptions       []domain.Subscription       `json:"subscriptions"`
	CollectionPurchases []domain.CollectionPurchase `json:"collection_purchases"`
}

// EntitlementFetcher loads a user's full entitlement set from persistence.
type EntitlementFetcher func(ctx context.Context, userID string) (EntitlementSet, error)

type cachedEntitlements struct {
	set       EntitlementSet
	fetchedAt time.Time
}

// EntitlementCache caches per-user entitlement sets with a TTL. On fetch
// failure it keeps serving the previous snapshot and surfaces the error: for
// access checks, briefly stale data beats incorrectly denying a paying user.
type EntitlementCache struct {
	fetch EntitlementFetcher
	ttl   time.Duration
	now   func() time.Time

	mu     sync.RWMutex
	byUser map[string]cachedEntitlements
}

// NewEntitlementCache creates a cache over the given fetcher. A nil clock
// defaults to time.Now.
func NewEntitlementCache(fetch EntitlementFetcher, ttl time.Duration, now func() time.Time) *EntitlementCache {
	if now == nil {
		now = time.Now
	}
	return &EntitlementCache{
		fetch:  fetch,
		ttl:    ttl,
		now:    now,
		byUser: make(map[string]cachedEntitlements),
	}
}

// Snapshot returns the user's entitlement set, fetching through to persistence
// when the cached copy is missing or older than the TTL. When the fetch fails
// and a previous snapshot exists, that snapshot is returned together with the
// error so callers can choose availability over freshness.
func (c *EntitlementCache) Snapshot(ctx context.Context, userID string) (EntitlementSet, error) {
	c.mu.RLock()
	cached, ok := c.byUser[userID]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached.set, nil
	}

	set, err := c.fetch(ctx, userID)
	if err != nil {
		if ok {
			log.Printf("level=warn component=entitlement_cache msg=\"fetch failed; serving stale snapshot\" user_id=%s err=%v", userID, err)
			return cached.set, err
		}
		return EntitlementSet{}, err
	}

	c.store(userID, set)
	return set, nil
}

// Refresh bypasses the TTL and refetches the user's entitlements.
func (c *EntitlementCache) Refresh(ctx context.Context, userID string) (EntitlementSet, error) {
	set, err := c.fetch(ctx, userID)
	if err != nil {
		c.mu.RLock()
		cached, ok := c.byUser[userID]
		c.mu.RUnlock()
		if ok {
			return cached.set, err
		}
		return EntitlementSet{}, err
	}
	c.store(userID, set)
	return set, nil
}

// HasAccess reports whether the user may read the given book: free books are
// always accessible; otherwise a completed purchase, an active unexpired
// subscription, or a completed purchase of any collection the book belongs to
// grants access.
func (c *EntitlementCache) HasAccess(ctx context.Context, userID string, book domain.Book) (bool, error) {
	if book.IsFree {
		return true, nil
	}

	set, err := c.Snapshot(ctx, userID)
	if err != nil {
		// Fall back to last-known-good data when any snapshot exists; only a
		// user with no cached entitlements at all fails the check outright.
		c.mu.RLock()
		_, cachedExists := c.byUser[userID]
		c.mu.RUnlock()
		if !cachedExists {
			return false, err
		}
	}
	return HasAccessAt(set, book, c.now()), nil
}

// Cached returns the user's snapshot without fetching, regardless of age.
func (c *EntitlementCache) Cached(userID string) (EntitlementSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.byUser[userID]
	return cached.set, ok
}

// AddPurchase optimistically appends a just-confirmed purchase to the user's
// cached snapshot so the book unlocks without waiting for a refetch.
func (c *EntitlementCache) AddPurchase(userID string, p domain.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.byUser[userID]
	cached.set.Purchases = append(cached.set.Purchases, p)
	if cached.fetchedAt.IsZero() {
		cached.fetchedAt = c.now()
	}
	c.byUser[userID] = cached
}

// AddCollectionPurchase optimistically appends a collection purchase.
func (c *EntitlementCache) AddCollectionPurchase(userID string, p domain.CollectionPurchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.byUser[userID]
	cached.set.CollectionPurchases = append(cached.set.CollectionPurchases, p)
	if cached.fetchedAt.IsZero() {
		cached.fetchedAt = c.now()
	}
	c.byUser[userID] = cached
}

// Invalidate drops one user's cached snapshot, forcing the next read through.
func (c *EntitlementCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byUser, userID)
}

// Clear drops every cached snapshot. Called on sign-out.
func (c *EntitlementCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser = make(map[string]cachedEntitlements)
}

func (c *EntitlementCache) store(userID string, set EntitlementSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[userID] = cachedEntitlements{set: set, fetchedAt: c.now()}
}

// HasAccessAt evaluates the three paid entitlement paths against a snapshot at
// a given instant. The free-book override is handled by the caller since it
// needs no snapshot at all.
func HasAccessAt(set EntitlementSet, book domain.Book, now time.Time) bool {
	for _, p := range set.Purchases {
		if p.BookID == book.ID && p.IsCompleted() {
			return true
		}
	}
	for _, sub := range set.Subscriptions {
		if sub.BookID == book.ID && sub.IsActiveAt(now) {
			return true
		}
	}
	for _, cp := range set.CollectionPurchases {
		if cp.IsCompleted() && book.InCollection(cp.CollectionID) {
			return true
		}
	}
	return false
}
