package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"crossfeed/pkg/domain"
)

// SubscriptionRepository handles feed subscription database operations
type SubscriptionRepository struct {
	db *sqlx.DB
}

// subscriptionSQL represents a subscription for SQL operations
type subscriptionSQL struct {
	ID              int64      `db:"id"`
	UserID          string     `db:"user_id"`
	FeedURL         string     `db:"feed_url"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Active          bool       `db:"active"`
	SyncFrequency   int        `db:"sync_frequency"`
	LastProcessedAt *time.Time `db:"last_processed_at"`
	LastError       string     `db:"last_error"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(database *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: database}
}

// Create inserts a new subscription. A second subscription to the same feed
// by the same user is reported as a conflict.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.FeedSubscription) error {
	sqlSub := &subscriptionSQL{
		UserID:        sub.UserID,
		FeedURL:       sub.FeedURL,
		Title:         sub.Title,
		Description:   sub.Description,
		Active:        sub.Active,
		SyncFrequency: sub.SyncFrequency,
	}

	query := `
		INSERT INTO subscriptions (user_id, feed_url, title, description, active, sync_frequency)
		VALUES (:user_id, :feed_url, :title, :description, :active, :sync_frequency)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlSub)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("already subscribed to %s", sub.FeedURL)
		}
		return fmt.Errorf("create subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	sub.ID = id
	return nil
}

// Get retrieves a subscription by ID
func (r *SubscriptionRepository) Get(ctx context.Context, id int64) (*domain.FeedSubscription, error) {
	var sqlSub subscriptionSQL
	err := r.db.GetContext(ctx, &sqlSub, "SELECT * FROM subscriptions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("subscription %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return r.toDomain(&sqlSub), nil
}

// ListByUser retrieves all subscriptions for a user
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.FeedSubscription, error) {
	var sqlSubs []subscriptionSQL
	err := r.db.SelectContext(ctx, &sqlSubs,
		"SELECT * FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	subs := make([]*domain.FeedSubscription, len(sqlSubs))
	for i, s := range sqlSubs {
		subs[i] = r.toDomain(&s)
	}
	return subs, nil
}

// GetDue retrieves active subscriptions whose sync interval has elapsed,
// never-processed feeds first, then oldest-processed, then oldest-created.
// The safety margin keeps a feed from being polled twice in quick succession
// regardless of its configured frequency.
func (r *SubscriptionRepository) GetDue(ctx context.Context, safetyMargin time.Duration, limit int) ([]*domain.FeedSubscription, error) {
	query := `
		SELECT * FROM subscriptions
		WHERE active = 1
		AND (last_processed_at IS NULL
		     OR last_processed_at <= datetime('now', '-' || sync_frequency || ' minutes'))
		AND (last_processed_at IS NULL
		     OR last_processed_at <= datetime('now', ?))
		ORDER BY last_processed_at ASC NULLS FIRST, created_at ASC
		LIMIT ?
	`
	margin := fmt.Sprintf("-%d seconds", int(safetyMargin.Seconds()))
	var sqlSubs []subscriptionSQL
	err := r.db.SelectContext(ctx, &sqlSubs, query, margin, limit)
	if err != nil {
		return nil, fmt.Errorf("get due subscriptions: %w", err)
	}

	subs := make([]*domain.FeedSubscription, len(sqlSubs))
	for i, s := range sqlSubs {
		subs[i] = r.toDomain(&s)
	}
	return subs, nil
}

// Update modifies mutable subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.FeedSubscription) error {
	query := `
		UPDATE subscriptions
		SET title = ?, description = ?, active = ?, sync_frequency = ?,
		    updated_at = datetime('now')
		WHERE id = ? AND user_id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		sub.Title, sub.Description, sub.Active, sub.SyncFrequency, sub.ID, sub.UserID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("subscription %d not found", sub.ID)
	}
	return nil
}

// MarkProcessed records a successful poll and clears the error state
func (r *SubscriptionRepository) MarkProcessed(ctx context.Context, id int64, title, description string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE subscriptions
			SET last_processed_at = datetime('now'),
			    last_error = '',
			    title = CASE WHEN title = '' AND ? != '' THEN ? ELSE title END,
			    description = CASE WHEN description = '' AND ? != '' THEN ? ELSE description END,
			    updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, title, title, description, description, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("mark subscription processed: %w", err)}
		}
		return nil
	})
}

// MarkError records a failed poll. The last processed time stays put so the
// feed is retried next cycle and items published during the outage are not
// skipped by the high-water mark; the GetDue safety margin keeps a broken
// feed from being hammered.
func (r *SubscriptionRepository) MarkError(ctx context.Context, id int64, errMsg string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE subscriptions
			SET last_error = ?,
			    updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, errMsg, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("mark subscription error: %w", err)}
		}
		return nil
	})
}

// Delete removes a subscription owned by the user
func (r *SubscriptionRepository) Delete(ctx context.Context, userID string, id int64) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("subscription %d not found", id)
	}
	return nil
}

// toDomain converts subscriptionSQL to domain.FeedSubscription
func (r *SubscriptionRepository) toDomain(s *subscriptionSQL) *domain.FeedSubscription {
	return &domain.FeedSubscription{
		ID:              s.ID,
		UserID:          s.UserID,
		FeedURL:         s.FeedURL,
		Title:           s.Title,
		Description:     s.Description,
		Active:          s.Active,
		SyncFrequency:   s.SyncFrequency,
		LastProcessedAt: s.LastProcessedAt,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
