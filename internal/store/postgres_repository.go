/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Every entitlement write is a single independent keyed upsert; no write spans
 * more than one table, since each entitlement type is checked independently at
 * read time.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookin/entitlement-service/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrProgressNotFound     = errors.New("progress not found")
	ErrStreakNotFound       = errors.New("streak state not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// UpsertPurchase writes a lifetime purchase keyed by (user_id, book_id).
// Redelivered checkout events overwrite the same row.
func (r *PostgresRepository) UpsertPurchase(ctx context.Context, p *domain.Purchase) error {
	query := `
        INSERT INTO purchases (id, user_id, book_id, purchased_at, price, payment_method, transaction_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id, book_id) DO UPDATE SET
            purchased_at = EXCLUDED.purchased_at,
            price = EXCLUDED.price,
            payment_method = EXCLUDED.payment_method,
            transaction_id = EXCLUDED.transaction_id,
            status = EXCLUDED.status,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.BookID, p.PurchasedAt, p.Price, p.PaymentMethod, p.TransactionID, p.Status,
	)
	return err
}

// ListPurchasesByUserID retrieves every purchase record for a user.
func (r *PostgresRepository) ListPurchasesByUserID(ctx context.Context, userID string) ([]domain.Purchase, error) {
	query := `
        SELECT id, user_id, book_id, purchased_at, price, payment_method, transaction_id, status
        FROM purchases
        WHERE user_id = $1
        ORDER BY purchased_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.BookID, &p.PurchasedAt, &p.Price, &p.PaymentMethod, &p.TransactionID, &p.Status); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// UpsertSubscription writes a subscription keyed by the provider subscription id.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
        INSERT INTO subscriptions (id, user_id, book_id, status, current_period_start, current_period_end,
                                   cancel_at_period_end, provider_subscription_id, provider_customer_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            current_period_start = EXCLUDED.current_period_start,
            current_period_end = EXCLUDED.current_period_end,
            cancel_at_period_end = EXCLUDED.cancel_at_period_end,
            provider_customer_id = EXCLUDED.provider_customer_id,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.BookID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.ProviderSubscriptionID, sub.ProviderCustomerID, sub.CreatedAt,
	)
	return err
}

// MergeSubscription applies a partial update to an existing subscription row.
// Returns false without error when no row exists: update events for unknown
// subscriptions are tolerated, never fabricated into records.
func (r *PostgresRepository) MergeSubscription(ctx context.Context, update SubscriptionUpdateParams) (bool, error) {
	query := `
        UPDATE subscriptions SET
            status = COALESCE($2, status),
            current_period_start = COALESCE($3, current_period_start),
            current_period_end = COALESCE($4, current_period_end),
            cancel_at_period_end = COALESCE($5, cancel_at_period_end),
            updated_at = NOW()
        WHERE id = $1
    `
	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	tag, err := r.db.Exec(ctx, query,
		update.SubscriptionID,
		status,
		unixToTime(update.CurrentPeriodStart),
		unixToTime(update.CurrentPeriodEnd),
		update.CancelAtPeriodEnd,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindSubscriptionByID retrieves one subscription by provider subscription id.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, user_id, book_id, status, current_period_start, current_period_end,
               cancel_at_period_end, provider_subscription_id, provider_customer_id, created_at
        FROM subscriptions
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, subscriptionID).Scan(
		&sub.ID, &sub.UserID, &sub.BookID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.ProviderSubscriptionID, &sub.ProviderCustomerID, &sub.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptionsByUserID retrieves every subscription record for a user,
// including lapsed and canceled ones. Activity is decided by the caller at read time.
func (r *PostgresRepository) ListSubscriptionsByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
        SELECT id, user_id, book_id, status, current_period_start, current_period_end,
               cancel_at_period_end, provider_subscription_id, provider_customer_id, created_at
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.BookID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
			&sub.CancelAtPeriodEnd, &sub.ProviderSubscriptionID, &sub.ProviderCustomerID, &sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertCollectionPurchase writes a collection purchase keyed by (user_id, collection_id).
func (r *PostgresRepository) UpsertCollectionPurchase(ctx context.Context, p *domain.CollectionPurchase) error {
	query := `
        INSERT INTO collection_purchases (user_id, collection_id, purchased_at, price, payment_method, transaction_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id, collection_id) DO UPDATE SET
            purchased_at = EXCLUDED.purchased_at,
            price = EXCLUDED.price,
            payment_method = EXCLUDED.payment_method,
            transaction_id = EXCLUDED.transaction_id,
            status = EXCLUDED.status,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		p.UserID, p.CollectionID, p.PurchasedAt, p.Price, p.PaymentMethod, p.TransactionID, p.Status,
	)
	return err
}

// ListCollectionPurchasesByUserID retrieves every collection purchase for a user.
func (r *PostgresRepository) ListCollectionPurchasesByUserID(ctx context.Context, userID string) ([]domain.CollectionPurchase, error) {
	query := `
        SELECT user_id, collection_id, purchased_at, price, payment_method, transaction_id, status
        FROM collection_purchases
        WHERE user_id = $1
        ORDER BY purchased_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []domain.CollectionPurchase
	for rows.Next() {
		var p domain.CollectionPurchase
		if err := rows.Scan(&p.UserID, &p.CollectionID, &p.PurchasedAt, &p.Price, &p.PaymentMethod, &p.TransactionID, &p.Status); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// GetProgress retrieves the progress record for one (user, book) pair.
func (r *PostgresRepository) GetProgress(ctx context.Context, userID, bookID string) (*domain.UserProgress, error) {
	var p domain.UserProgress
	query := `
        SELECT book_id, user_id, book_id, questions_completed, questions_correct,
               last_accessed, mastery_level, synced_to_cloud, synced_at
        FROM user_progress
        WHERE user_id = $1 AND book_id = $2
    `
	err := r.db.QueryRow(ctx, query, userID, bookID).Scan(
		&p.ID, &p.UserID, &p.BookID, &p.QuestionsCompleted, &p.QuestionsCorrect,
		&p.LastAccessed, &p.MasteryLevel, &p.SyncedToCloud, &p.SyncedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProgressNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProgressByUserID retrieves all progress records for a user.
func (r *PostgresRepository) ListProgressByUserID(ctx context.Context, userID string) ([]domain.UserProgress, error) {
	query := `
        SELECT book_id, user_id, book_id, questions_completed, questions_correct,
               last_accessed, mastery_level, synced_to_cloud, synced_at
        FROM user_progress
        WHERE user_id = $1
        ORDER BY last_accessed DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.UserProgress
	for rows.Next() {
		var p domain.UserProgress
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.BookID, &p.QuestionsCompleted, &p.QuestionsCorrect,
			&p.LastAccessed, &p.MasteryLevel, &p.SyncedToCloud, &p.SyncedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// SaveProgress upserts the progress record keyed by (user_id, book_id).
func (r *PostgresRepository) SaveProgress(ctx context.Context, progress *domain.UserProgress) error {
	query := `
        INSERT INTO user_progress (user_id, book_id, questions_completed, questions_correct,
                                   last_accessed, mastery_level, synced_to_cloud, synced_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id, book_id) DO UPDATE SET
            questions_completed = EXCLUDED.questions_completed,
            questions_correct = EXCLUDED.questions_correct,
            last_accessed = EXCLUDED.last_accessed,
            mastery_level = EXCLUDED.mastery_level,
            synced_to_cloud = EXCLUDED.synced_to_cloud,
            synced_at = EXCLUDED.synced_at,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		progress.UserID, progress.BookID, progress.QuestionsCompleted, progress.QuestionsCorrect,
		progress.LastAccessed, progress.MasteryLevel, progress.SyncedToCloud, progress.SyncedAt,
	)
	return err
}

// GetStreakState retrieves the single streak record for a user.
func (r *PostgresRepository) GetStreakState(ctx context.Context, userID string) (*domain.StreakState, error) {
	var s domain.StreakState
	query := `
        SELECT user_id, current_streak, longest_streak, last_practiced_date, total_days_practiced
        FROM streaks
        WHERE user_id = $1
    `
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastPracticedDate, &s.TotalDaysPracticed,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrStreakNotFound
		}
		return nil, err
	}
	return &s, nil
}

// SaveStreakState upserts the streak record keyed by user_id.
func (r *PostgresRepository) SaveStreakState(ctx context.Context, state *domain.StreakState) error {
	query := `
        INSERT INTO streaks (user_id, current_streak, longest_streak, last_practiced_date, total_days_practiced)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO UPDATE SET
            current_streak = EXCLUDED.current_streak,
            longest_streak = EXCLUDED.longest_streak,
            last_practiced_date = EXCLUDED.last_practiced_date,
            total_days_practiced = EXCLUDED.total_days_practiced,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		state.UserID, state.CurrentStreak, state.LongestStreak, state.LastPracticedDate, state.TotalDaysPracticed,
	)
	return err
}

// CreateReflection appends a reflection entry.
func (r *PostgresRepository) CreateReflection(ctx context.Context, entry *domain.ReflectionEntry) error {
	query := `
        INSERT INTO reflections (id, user_id, book_id, question_id, content, created_at, completed, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.BookID, entry.QuestionID, entry.Content,
		entry.CreatedAt, entry.Completed, entry.CompletedAt,
	)
	return err
}

// ListReflections retrieves a user's reflections for one book, newest first.
func (r *PostgresRepository) ListReflections(ctx context.Context, userID, bookID string) ([]domain.ReflectionEntry, error) {
	query := `
        SELECT id, user_id, book_id, question_id, content, created_at, completed, completed_at
        FROM reflections
        WHERE user_id = $1 AND book_id = $2
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ReflectionEntry
	for rows.Next() {
		var e domain.ReflectionEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.BookID, &e.QuestionID, &e.Content, &e.CreatedAt, &e.Completed, &e.CompletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func unixToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
