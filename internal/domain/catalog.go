/**
 * @description
 * This file defines the read-mostly catalog reference data: books and the
 * collections that bundle them. Authoritative collection membership lives on each
 * book's Collections list; Collection.BookIDs is derived for display only.
 */
package domain

import "time"

// Book is catalog reference data. It is never mutated by this service.
type Book struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	IsFree      bool     `json:"is_free"`
	Price       float64  `json:"price"`
	Collections []string `json:"collections"` // collection ids this book belongs to
}

// InCollection reports whether the book belongs to the given collection.
func (b Book) InCollection(collectionID string) bool {
	for _, id := range b.Collections {
		if id == collectionID {
			return true
		}
	}
	return false
}

// Collection is a bundled offer over a set of books, defined as static
// configuration rather than created at runtime.
type Collection struct {
	ID                string     `json:"id"`
	TranslationKey    string     `json:"translation_key"`
	Price             float64    `json:"price"`
	BookIDs           []string   `json:"book_ids"`
	IsActive          bool       `json:"is_active"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ProviderProductID string     `json:"provider_product_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsOpenAt reports whether the collection can still be purchased at the given
// instant: flagged active and either without an expiry or not yet expired.
func (c Collection) IsOpenAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}
