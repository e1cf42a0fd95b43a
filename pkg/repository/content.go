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

// ContentRepository handles inbound content database operations
type ContentRepository struct {
	db *sqlx.DB
}

// contentSQL represents inbound content for SQL operations
type contentSQL struct {
	ID             int64      `db:"id"`
	UserID         string     `db:"user_id"`
	Platform       string     `db:"platform"`
	PlatformPostID string     `db:"platform_post_id"`
	Title          string     `db:"title"`
	Content        string     `db:"content"`
	Excerpt        string     `db:"excerpt"`
	Link           string     `db:"link"`
	Author         string     `db:"author"`
	Tags           stringsSQL `db:"tags"`
	Topics         stringsSQL `db:"topics"`
	Sentiment      string     `db:"sentiment"`
	Language       string     `db:"language"`
	WordCount      int        `db:"word_count"`
	ReadingTime    int        `db:"reading_time"`
	Status         string     `db:"status"`
	PublishedAt    *time.Time `db:"published_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// NewContentRepository creates a new content repository
func NewContentRepository(database *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: database}
}

// Create inserts a normalized content record. The storage unique constraint
// on (user_id, platform, platform_post_id) is the authoritative dedup guard;
// a duplicate insert is reported as a conflict, not an error to retry.
func (r *ContentRepository) Create(ctx context.Context, content *domain.InboundContent) error {
	sqlContent := &contentSQL{
		UserID:         content.UserID,
		Platform:       content.Platform,
		PlatformPostID: content.PlatformPostID,
		Title:          content.Title,
		Content:        content.Content,
		Excerpt:        content.Excerpt,
		Link:           content.Link,
		Author:         content.Author,
		Tags:           content.Tags,
		Topics:         content.Topics,
		Sentiment:      content.Sentiment,
		Language:       content.Language,
		WordCount:      content.WordCount,
		ReadingTime:    content.ReadingTime,
		Status:         string(content.Status),
		PublishedAt:    content.PublishedAt,
	}

	query := `
		INSERT INTO inbound_content (
			user_id, platform, platform_post_id, title, content, excerpt,
			link, author, tags, topics, sentiment, language,
			word_count, reading_time, status, published_at
		) VALUES (
			:user_id, :platform, :platform_post_id, :title, :content, :excerpt,
			:link, :author, :tags, :topics, :sentiment, :language,
			:word_count, :reading_time, :status, :published_at
		)
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	var insertID int64
	err := retrier.Do(ctx, func() error {
		result, err := r.db.NamedExecContext(ctx, query, sqlContent)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			if isUniqueViolation(err) {
				return &criticalError{err: domain.Conflictf("content %s/%s already ingested",
					content.Platform, content.PlatformPostID)}
			}
			return &criticalError{err: fmt.Errorf("create content: %w", err)}
		}
		insertID, err = result.LastInsertId()
		if err != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
		}
		return nil
	})
	if err != nil {
		var ce *criticalError
		if errors.As(err, &ce) {
			return ce.err
		}
		return err
	}

	content.ID = insertID
	return nil
}

// Exists checks whether content with the given dedup key is already stored
func (r *ContentRepository) Exists(ctx context.Context, userID, platform, platformPostID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM inbound_content WHERE user_id = ? AND platform = ? AND platform_post_id = ?)",
		userID, platform, platformPostID)
	if err != nil {
		return false, fmt.Errorf("check content exists: %w", err)
	}
	return exists, nil
}

// Get retrieves content by ID
func (r *ContentRepository) Get(ctx context.Context, id int64) (*domain.InboundContent, error) {
	var sqlContent contentSQL
	err := r.db.GetContext(ctx, &sqlContent, "SELECT * FROM inbound_content WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("content %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return r.toDomain(&sqlContent), nil
}

// List retrieves content matching the query, newest first
func (r *ContentRepository) List(ctx context.Context, q domain.ContentQuery) ([]*domain.InboundContent, error) {
	query := "SELECT * FROM inbound_content WHERE user_id = ?"
	args := []interface{}{q.UserID}

	if q.Platform != "" {
		query += " AND platform = ?"
		args = append(args, q.Platform)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.Search != "" {
		query += " AND (title LIKE ? OR content LIKE ?)"
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
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

	var sqlContents []contentSQL
	if err := r.db.SelectContext(ctx, &sqlContents, query, args...); err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}

	contents := make([]*domain.InboundContent, len(sqlContents))
	for i, c := range sqlContents {
		contents[i] = r.toDomain(&c)
	}
	return contents, nil
}

// Count returns the number of content rows matching the query, ignoring
// limit and offset
func (r *ContentRepository) Count(ctx context.Context, q domain.ContentQuery) (int, error) {
	query := "SELECT COUNT(*) FROM inbound_content WHERE user_id = ?"
	args := []interface{}{q.UserID}

	if q.Platform != "" {
		query += " AND platform = ?"
		args = append(args, q.Platform)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.Search != "" {
		query += " AND (title LIKE ? OR content LIKE ?)"
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return count, nil
}

// Update persists user-editable fields of a content row together with the
// re-derived word count, reading time and excerpt
func (r *ContentRepository) Update(ctx context.Context, content *domain.InboundContent) error {
	query := `
		UPDATE inbound_content
		SET title = ?, content = ?, excerpt = ?, tags = ?,
		    word_count = ?, reading_time = ?, status = ?, updated_at = datetime('now')
		WHERE id = ? AND user_id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		content.Title, content.Content, content.Excerpt, stringsSQL(content.Tags),
		content.WordCount, content.ReadingTime, string(content.Status),
		content.ID, content.UserID)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("content %d not found", content.ID)
	}
	return nil
}

// UpdateStatus changes the lifecycle status of content owned by the user
func (r *ContentRepository) UpdateStatus(ctx context.Context, userID string, id int64, status domain.ContentStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE inbound_content SET status = ?, updated_at = datetime('now') WHERE id = ? AND user_id = ?",
		string(status), id, userID)
	if err != nil {
		return fmt.Errorf("update content status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("content %d not found", id)
	}
	return nil
}

// UpdateAnalysis stores analyzer output for a content row
func (r *ContentRepository) UpdateAnalysis(ctx context.Context, id int64, tags, topics []string, sentiment, language string) error {
	query := `
		UPDATE inbound_content
		SET tags = ?, topics = ?, sentiment = ?, language = ?, updated_at = datetime('now')
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		stringsSQL(tags), stringsSQL(topics), sentiment, language, id)
	if err != nil {
		return fmt.Errorf("update content analysis: %w", err)
	}
	return nil
}

// Delete removes content owned by the user; cross-posts referencing it are
// removed by the FK cascade. Callers cancel in-flight cross-posts first.
func (r *ContentRepository) Delete(ctx context.Context, userID string, id int64) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM inbound_content WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("content %d not found", id)
	}
	return nil
}

// toDomain converts contentSQL to domain.InboundContent
func (r *ContentRepository) toDomain(c *contentSQL) *domain.InboundContent {
	return &domain.InboundContent{
		ID:             c.ID,
		UserID:         c.UserID,
		Platform:       c.Platform,
		PlatformPostID: c.PlatformPostID,
		Title:          c.Title,
		Content:        c.Content,
		Excerpt:        c.Excerpt,
		Link:           c.Link,
		Author:         c.Author,
		Tags:           c.Tags,
		Topics:         c.Topics,
		Sentiment:      c.Sentiment,
		Language:       c.Language,
		WordCount:      c.WordCount,
		ReadingTime:    c.ReadingTime,
		Status:         domain.ContentStatus(c.Status),
		PublishedAt:    c.PublishedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
