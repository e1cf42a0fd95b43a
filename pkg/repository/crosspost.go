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

// CrossPostRepository handles cross-post job database operations
type CrossPostRepository struct {
	db *sqlx.DB
}

// crossPostSQL represents a cross-post for SQL operations
type crossPostSQL struct {
	ID             int64      `db:"id"`
	ContentID      int64      `db:"content_id"`
	RuleID         int64      `db:"rule_id"`
	UserID         string     `db:"user_id"`
	TargetPlatform string     `db:"target_platform"`
	Status         string     `db:"status"`
	ScheduledAt    time.Time  `db:"scheduled_at"`
	Attempts       int        `db:"attempts"`
	LastError      string     `db:"last_error"`
	ExternalID     string     `db:"external_id"`
	PublishedAt    *time.Time `db:"published_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// NewCrossPostRepository creates a new cross-post repository
func NewCrossPostRepository(database *sqlx.DB) *CrossPostRepository {
	return &CrossPostRepository{db: database}
}

// Create inserts a new cross-post job
func (r *CrossPostRepository) Create(ctx context.Context, cp *domain.CrossPost) error {
	sqlCP := &crossPostSQL{
		ContentID:      cp.ContentID,
		RuleID:         cp.RuleID,
		UserID:         cp.UserID,
		TargetPlatform: cp.TargetPlatform,
		Status:         string(cp.Status),
		ScheduledAt:    cp.ScheduledAt,
	}

	query := `
		INSERT INTO cross_posts (content_id, rule_id, user_id, target_platform, status, scheduled_at)
		VALUES (:content_id, :rule_id, :user_id, :target_platform, :status, :scheduled_at)
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	var insertID int64
	err := retrier.Do(ctx, func() error {
		result, err := r.db.NamedExecContext(ctx, query, sqlCP)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("create cross-post: %w", err)}
		}
		insertID, err = result.LastInsertId()
		if err != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	cp.ID = insertID
	return nil
}

// Get retrieves a cross-post by ID
func (r *CrossPostRepository) Get(ctx context.Context, id int64) (*domain.CrossPost, error) {
	var sqlCP crossPostSQL
	err := r.db.GetContext(ctx, &sqlCP, "SELECT * FROM cross_posts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("cross-post %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cross-post: %w", err)
	}
	return r.toDomain(&sqlCP), nil
}

// List retrieves cross-posts matching the query, newest first
func (r *CrossPostRepository) List(ctx context.Context, q domain.CrossPostQuery) ([]*domain.CrossPost, error) {
	query := "SELECT * FROM cross_posts WHERE user_id = ?"
	args := []interface{}{q.UserID}

	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.TargetPlatform != "" {
		query += " AND target_platform = ?"
		args = append(args, q.TargetPlatform)
	}
	if q.ContentID > 0 {
		query += " AND content_id = ?"
		args = append(args, q.ContentID)
	}

	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	var sqlCPs []crossPostSQL
	if err := r.db.SelectContext(ctx, &sqlCPs, query, args...); err != nil {
		return nil, fmt.Errorf("list cross-posts: %w", err)
	}

	cps := make([]*domain.CrossPost, len(sqlCPs))
	for i, cp := range sqlCPs {
		cps[i] = r.toDomain(&cp)
	}
	return cps, nil
}

// GetDue retrieves pending or scheduled cross-posts whose time has come,
// oldest scheduled first
func (r *CrossPostRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.CrossPost, error) {
	query := `
		SELECT * FROM cross_posts
		WHERE status IN ('pending', 'scheduled')
		AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?
	`
	var sqlCPs []crossPostSQL
	if err := r.db.SelectContext(ctx, &sqlCPs, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("get due cross-posts: %w", err)
	}

	cps := make([]*domain.CrossPost, len(sqlCPs))
	for i, cp := range sqlCPs {
		cps[i] = r.toDomain(&cp)
	}
	return cps, nil
}

// Claim atomically moves a due cross-post to publishing and bumps the
// attempt counter. Returns false when the row was already claimed, finished
// or cancelled by someone else; that makes the conditional update the
// authoritative at-most-once guard for delivery.
func (r *CrossPostRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE cross_posts
		SET status = 'publishing', attempts = attempts + 1, updated_at = datetime('now')
		WHERE id = ? AND status IN ('pending', 'scheduled')
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	var claimed bool
	err := retrier.Do(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("claim cross-post: %w", err)}
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return &criticalError{err: fmt.Errorf("rows affected: %w", err)}
		}
		claimed = rows == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// MarkPublished records successful delivery
func (r *CrossPostRepository) MarkPublished(ctx context.Context, id int64, externalID string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE cross_posts
			SET status = 'published', external_id = ?, last_error = '',
			    published_at = datetime('now'), updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, externalID, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("mark cross-post published: %w", err)}
		}
		return nil
	})
}

// MarkRetry puts a failed attempt back on the schedule for a later cycle
func (r *CrossPostRepository) MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, errMsg string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE cross_posts
			SET status = 'scheduled', scheduled_at = ?, last_error = ?, updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, nextAttempt.UTC(), errMsg, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("mark cross-post retry: %w", err)}
		}
		return nil
	})
}

// MarkFailed records terminal failure
func (r *CrossPostRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE cross_posts
			SET status = 'failed', last_error = ?, updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, errMsg, id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("mark cross-post failed: %w", err)}
		}
		return nil
	})
}

// CancelForContent force-fails every non-terminal cross-post of a content
// row; called before the content itself is deleted. Returns the number of
// jobs cancelled.
func (r *CrossPostRepository) CancelForContent(ctx context.Context, contentID int64) (int64, error) {
	query := `
		UPDATE cross_posts
		SET status = 'failed', last_error = ?, updated_at = datetime('now')
		WHERE content_id = ? AND status IN ('pending', 'scheduled', 'publishing')
	`
	result, err := r.db.ExecContext(ctx, query, domain.CancelledReason, contentID)
	if err != nil {
		return 0, fmt.Errorf("cancel cross-posts for content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

// HasActive checks whether a non-failed cross-post already exists for the
// (content, target platform) pair; rule evaluation uses this to keep the
// pair unique
func (r *CrossPostRepository) HasActive(ctx context.Context, contentID int64, targetPlatform string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM cross_posts
		 WHERE content_id = ? AND target_platform = ? AND status != 'failed')`,
		contentID, targetPlatform)
	if err != nil {
		return false, fmt.Errorf("check active cross-post: %w", err)
	}
	return exists, nil
}

// Stats aggregates cross-post counts by status for a user
func (r *CrossPostRepository) Stats(ctx context.Context, userID string) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending,
			COUNT(CASE WHEN status = 'scheduled' THEN 1 END) AS scheduled,
			COUNT(CASE WHEN status = 'publishing' THEN 1 END) AS publishing,
			COUNT(CASE WHEN status = 'published' THEN 1 END) AS published,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed
		FROM cross_posts
		WHERE user_id = ?
	`
	var stats domain.QueueStats
	if err := r.db.GetContext(ctx, &stats, query, userID); err != nil {
		return nil, fmt.Errorf("cross-post stats: %w", err)
	}
	return &stats, nil
}

// toDomain converts crossPostSQL to domain.CrossPost
func (r *CrossPostRepository) toDomain(cp *crossPostSQL) *domain.CrossPost {
	return &domain.CrossPost{
		ID:             cp.ID,
		ContentID:      cp.ContentID,
		RuleID:         cp.RuleID,
		UserID:         cp.UserID,
		TargetPlatform: cp.TargetPlatform,
		Status:         domain.CrossPostStatus(cp.Status),
		ScheduledAt:    cp.ScheduledAt,
		Attempts:       cp.Attempts,
		LastError:      cp.LastError,
		ExternalID:     cp.ExternalID,
		PublishedAt:    cp.PublishedAt,
		CreatedAt:      cp.CreatedAt,
		UpdatedAt:      cp.UpdatedAt,
	}
}
