// Package rules evaluates cross-posting rules against normalized content
// and creates the resulting cross-post jobs.
package rules

import (
	"context"
	"time"

	"github.com/go-pkgz/lgr"

	"crossfeed/pkg/domain"
)

// RuleStore is the engine's view of rule persistence
type RuleStore interface {
	ListEnabled(ctx context.Context, userID string) ([]*domain.CrossPostingRule, error)
}

// CrossPostStore is the engine's view of cross-post persistence
type CrossPostStore interface {
	Create(ctx context.Context, cp *domain.CrossPost) error
	HasActive(ctx context.Context, contentID int64, targetPlatform string) (bool, error)
}

// Engine matches content against enabled rules and schedules cross-posts
type Engine struct {
	rules      RuleStore
	crossPosts CrossPostStore
	now        func() time.Time // injectable for tests
}

// NewEngine creates a rule engine
func NewEngine(rules RuleStore, crossPosts CrossPostStore) *Engine {
	return &Engine{rules: rules, crossPosts: crossPosts, now: time.Now}
}

// Evaluate runs every enabled rule of the content's owner against the
// content and creates cross-post jobs for matching targets. Rules are
// evaluated oldest first, and at most one live cross-post may exist per
// (content, target platform) pair, so when several rules hit the same
// target the earliest-created rule wins.
func (e *Engine) Evaluate(ctx context.Context, content *domain.InboundContent) ([]*domain.CrossPost, error) {
	enabled, err := e.rules.ListEnabled(ctx, content.UserID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var created []*domain.CrossPost
	claimed := map[string]bool{} // targets taken within this evaluation

	for _, rule := range enabled {
		if !rule.MatchesSource(content.Platform) {
			continue
		}

		ok, reason := MatchFilters(rule.Filters, content)
		if !ok {
			lgr.Printf("[DEBUG] rule %q skips content %d: %s", rule.Name, content.ID, reason)
			continue
		}

		scheduledAt := NextTime(rule.Schedule, now)

		for _, target := range rule.TargetPlatforms {
			if claimed[target] {
				continue
			}

			active, err := e.crossPosts.HasActive(ctx, content.ID, target)
			if err != nil {
				return created, err
			}
			if active {
				claimed[target] = true
				continue
			}

			// due right away is scheduled for dispatch, a future slot waits
			// as pending
			status := domain.CrossPostScheduled
			if scheduledAt.After(now) {
				status = domain.CrossPostPending
			}

			cp := &domain.CrossPost{
				ContentID:      content.ID,
				RuleID:         rule.ID,
				UserID:         content.UserID,
				TargetPlatform: target,
				Status:         status,
				ScheduledAt:    scheduledAt,
			}
			if err := e.crossPosts.Create(ctx, cp); err != nil {
				return created, err
			}
			claimed[target] = true
			created = append(created, cp)

			lgr.Printf("[INFO] rule %q queued content %d for %s at %s",
				rule.Name, content.ID, target, scheduledAt.Format(time.RFC3339))
		}
	}

	return created, nil
}
