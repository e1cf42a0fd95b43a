package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"crossfeed/pkg/domain"
)

// RuleRepository handles cross-posting rule database operations
type RuleRepository struct {
	db *sqlx.DB
}

// ruleSQL represents a rule for SQL operations
type ruleSQL struct {
	ID              int64         `db:"id"`
	UserID          string        `db:"user_id"`
	Name            string        `db:"name"`
	Enabled         bool          `db:"enabled"`
	SourcePlatforms stringsSQL    `db:"source_platforms"`
	TargetPlatforms stringsSQL    `db:"target_platforms"`
	Filters         filtersSQL    `db:"filters"`
	Transform       transformSQL  `db:"transform"`
	Schedule        scheduleSQL   `db:"schedule"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// filtersSQL stores ContentFilters as a JSON object
type filtersSQL domain.ContentFilters

// Value implements driver.Valuer for database storage
func (f filtersSQL) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for database retrieval
func (f *filtersSQL) Scan(value interface{}) error {
	return scanJSON(value, f)
}

// transformSQL stores TransformRules as a JSON object
type transformSQL domain.TransformRules

// Value implements driver.Valuer for database storage
func (t transformSQL) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// Scan implements sql.Scanner for database retrieval
func (t *transformSQL) Scan(value interface{}) error {
	return scanJSON(value, t)
}

// scheduleSQL stores ScheduleSpec as a JSON object
type scheduleSQL domain.ScheduleSpec

// Value implements driver.Valuer for database storage
func (s scheduleSQL) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *scheduleSQL) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func scanJSON(value, dest interface{}) error {
	if value == nil {
		return json.Unmarshal([]byte("{}"), dest)
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return json.Unmarshal([]byte("{}"), dest)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	return json.Unmarshal(data, dest)
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(database *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: database}
}

// Create inserts a new rule; a duplicate name for the user is a conflict
func (r *RuleRepository) Create(ctx context.Context, rule *domain.CrossPostingRule) error {
	sqlRule := r.toSQL(rule)

	query := `
		INSERT INTO rules (user_id, name, enabled, source_platforms, target_platforms,
		                   filters, transform, schedule)
		VALUES (:user_id, :name, :enabled, :source_platforms, :target_platforms,
		        :filters, :transform, :schedule)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlRule)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("rule %q already exists", rule.Name)
		}
		return fmt.Errorf("create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	rule.ID = id
	return nil
}

// Get retrieves a rule by ID
func (r *RuleRepository) Get(ctx context.Context, id int64) (*domain.CrossPostingRule, error) {
	var sqlRule ruleSQL
	err := r.db.GetContext(ctx, &sqlRule, "SELECT * FROM rules WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("rule %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r.toDomain(&sqlRule), nil
}

// ListByUser retrieves all rules for a user
func (r *RuleRepository) ListByUser(ctx context.Context, userID string) ([]*domain.CrossPostingRule, error) {
	var sqlRules []ruleSQL
	err := r.db.SelectContext(ctx, &sqlRules,
		"SELECT * FROM rules WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]*domain.CrossPostingRule, len(sqlRules))
	for i, sr := range sqlRules {
		rules[i] = r.toDomain(&sr)
	}
	return rules, nil
}

// ListEnabled retrieves enabled rules for a user ordered by creation time,
// oldest first. Evaluation depends on this ordering: when several rules
// target the same platform the earliest-created rule wins.
func (r *RuleRepository) ListEnabled(ctx context.Context, userID string) ([]*domain.CrossPostingRule, error) {
	var sqlRules []ruleSQL
	err := r.db.SelectContext(ctx, &sqlRules,
		"SELECT * FROM rules WHERE user_id = ? AND enabled = 1 ORDER BY created_at ASC, id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	rules := make([]*domain.CrossPostingRule, len(sqlRules))
	for i, sr := range sqlRules {
		rules[i] = r.toDomain(&sr)
	}
	return rules, nil
}

// Update modifies a rule owned by the user
func (r *RuleRepository) Update(ctx context.Context, rule *domain.CrossPostingRule) error {
	sqlRule := r.toSQL(rule)

	query := `
		UPDATE rules
		SET name = :name, enabled = :enabled,
		    source_platforms = :source_platforms, target_platforms = :target_platforms,
		    filters = :filters, transform = :transform, schedule = :schedule,
		    updated_at = datetime('now')
		WHERE id = :id AND user_id = :user_id
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlRule)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("rule %q already exists", rule.Name)
		}
		return fmt.Errorf("update rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("rule %d not found", rule.ID)
	}
	return nil
}

// Delete removes a rule owned by the user
func (r *RuleRepository) Delete(ctx context.Context, userID string, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("rule %d not found", id)
	}
	return nil
}

func (r *RuleRepository) toSQL(rule *domain.CrossPostingRule) *ruleSQL {
	return &ruleSQL{
		ID:              rule.ID,
		UserID:          rule.UserID,
		Name:            rule.Name,
		Enabled:         rule.Enabled,
		SourcePlatforms: rule.SourcePlatforms,
		TargetPlatforms: rule.TargetPlatforms,
		Filters:         filtersSQL(rule.Filters),
		Transform:       transformSQL(rule.Transform),
		Schedule:        scheduleSQL(rule.Schedule),
	}
}

func (r *RuleRepository) toDomain(sr *ruleSQL) *domain.CrossPostingRule {
	return &domain.CrossPostingRule{
		ID:              sr.ID,
		UserID:          sr.UserID,
		Name:            sr.Name,
		Enabled:         sr.Enabled,
		SourcePlatforms: sr.SourcePlatforms,
		TargetPlatforms: sr.TargetPlatforms,
		Filters:         domain.ContentFilters(sr.Filters),
		Transform:       domain.TransformRules(sr.Transform),
		Schedule:        domain.ScheduleSpec(sr.Schedule),
		CreatedAt:       sr.CreatedAt,
		UpdatedAt:       sr.UpdatedAt,
	}
}
