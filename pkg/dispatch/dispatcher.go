// Package dispatch delivers due cross-posts to their target platforms with
// rate limiting, bounded retries and at-most-once claims.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/platform"
	"crossfeed/pkg/rules"
)

// CrossPostStore is the dispatcher's view of cross-post persistence
type CrossPostStore interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.CrossPost, error)
	Claim(ctx context.Context, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64, externalID string) error
	MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// ContentStore resolves the content behind a cross-post. Dispatch only
// reads content; delivery outcomes change the cross-post row alone.
type ContentStore interface {
	Get(ctx context.Context, id int64) (*domain.InboundContent, error)
}

// RuleStore resolves the rule that created a cross-post
type RuleStore interface {
	Get(ctx context.Context, id int64) (*domain.CrossPostingRule, error)
}

// AdapterResolver resolves publishing adapters by platform name
type AdapterResolver interface {
	Get(name string) (platform.Adapter, error)
}

// Params configures a Dispatcher; zero values get sane defaults
type Params struct {
	Concurrency int           // parallel deliveries per cycle, default 5
	BatchSize   int           // jobs claimed per cycle, default 50
	MaxAttempts int           // delivery attempts before terminal failure, default 3
	RetryBase   time.Duration // backoff base, default 1m
	RetryCap    time.Duration // backoff ceiling, default 1h
}

// Dispatcher runs delivery cycles over due cross-posts
type Dispatcher struct {
	store    CrossPostStore
	content  ContentStore
	rules    RuleStore
	adapters AdapterResolver
	limiter  *RateLimiter
	params   Params

	mu       sync.Mutex
	inflight map[int64]bool
	now      func() time.Time
}

// Result summarizes one dispatch cycle
type Result struct {
	Due         int           `json:"due"`
	Published   int           `json:"published"`
	Retried     int           `json:"retried"`
	Failed      int           `json:"failed"`
	RateLimited int           `json:"rateLimited"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"durationMs"`
}

// NewDispatcher creates a dispatcher
func NewDispatcher(store CrossPostStore, content ContentStore, ruleStore RuleStore,
	adapters AdapterResolver, limiter *RateLimiter, params Params) *Dispatcher {
	if params.Concurrency <= 0 {
		params.Concurrency = 5
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}
	if params.RetryBase <= 0 {
		params.RetryBase = time.Minute
	}
	if params.RetryCap <= 0 {
		params.RetryCap = time.Hour
	}
	return &Dispatcher{
		store:    store,
		content:  content,
		rules:    ruleStore,
		adapters: adapters,
		limiter:  limiter,
		params:   params,
		inflight: map[int64]bool{},
		now:      time.Now,
	}
}

// RunCycle claims and delivers every due cross-post once. The conditional
// claim in storage is the authoritative at-most-once guard; the in-process
// inflight set only keeps overlapping cycles from wasting claims.
func (d *Dispatcher) RunCycle(ctx context.Context) (*Result, error) {
	start := d.now()
	result := &Result{}

	due, err := d.store.GetDue(ctx, start, d.params.BatchSize)
	if err != nil {
		return nil, err
	}
	result.Due = len(due)
	if len(due) == 0 {
		result.Duration = time.Since(start)
		result.DurationMS = result.Duration.Milliseconds()
		return result, nil
	}

	var mu sync.Mutex // guards result counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.params.Concurrency)

	for _, job := range due {
		if !d.markInflight(job.ID) {
			continue
		}
		g.Go(func() error {
			defer d.clearInflight(job.ID)
			outcome := d.deliver(gctx, job)
			mu.Lock()
			switch outcome {
			case outcomePublished:
				result.Published++
			case outcomeRetried:
				result.Retried++
			case outcomeFailed:
				result.Failed++
			case outcomeRateLimited:
				result.RateLimited++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-job failures are counted, never propagated

	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	if result.Due > 0 {
		lgr.Printf("[INFO] dispatch cycle: %d due, %d published, %d retried, %d failed, %d rate limited in %v",
			result.Due, result.Published, result.Retried, result.Failed, result.RateLimited, result.Duration)
	}
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePublished
	outcomeRetried
	outcomeFailed
	outcomeRateLimited
)

// deliver handles one job end to end
func (d *Dispatcher) deliver(ctx context.Context, job *domain.CrossPost) outcome {
	// a job that can't get a rate token stays due for the next cycle,
	// unclaimed so its attempt budget is untouched
	if !d.limiter.Take(job.TargetPlatform) {
		return outcomeRateLimited
	}

	claimed, err := d.store.Claim(ctx, job.ID)
	if err != nil {
		lgr.Printf("[ERROR] claim cross-post %d: %v", job.ID, err)
		return outcomeSkipped
	}
	if !claimed {
		return outcomeSkipped // someone else took it, or it was cancelled
	}
	attempt := job.Attempts + 1 // claim incremented the stored counter

	content, err := d.content.Get(ctx, job.ContentID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			// content gone between scheduling and delivery
			d.fail(ctx, job.ID, "source content no longer exists")
			return outcomeFailed
		}
		return d.handlePublishError(ctx, job.ID, attempt, err)
	}

	rule, err := d.rules.Get(ctx, job.RuleID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			d.fail(ctx, job.ID, "originating rule no longer exists")
			return outcomeFailed
		}
		return d.handlePublishError(ctx, job.ID, attempt, err)
	}

	adapter, err := d.adapters.Get(job.TargetPlatform)
	if err != nil {
		d.fail(ctx, job.ID, err.Error())
		return outcomeFailed
	}

	post := platform.PostContent{
		Title: content.Title,
		Body:  rules.ApplyTransform(rule.Transform, content),
		Link:  content.Link,
		Tags:  content.Tags,
	}

	published, err := adapter.Publish(ctx, job.UserID, post)
	if err != nil {
		return d.handlePublishError(ctx, job.ID, attempt, err)
	}

	if err := d.store.MarkPublished(ctx, job.ID, published.ExternalID); err != nil {
		lgr.Printf("[ERROR] mark cross-post %d published: %v", job.ID, err)
		return outcomeSkipped
	}

	lgr.Printf("[INFO] published cross-post %d to %s as %s", job.ID, job.TargetPlatform, published.ExternalID)
	return outcomePublished
}

// handlePublishError classifies the failure and either reschedules or
// terminally fails the job. Only transient errors consume the retry
// budget; everything else fails immediately.
func (d *Dispatcher) handlePublishError(ctx context.Context, id int64, attempt int, err error) outcome {
	if domain.KindOf(err) != domain.KindTransient {
		lgr.Printf("[WARN] cross-post %d rejected by target: %v", id, err)
		d.fail(ctx, id, err.Error())
		return outcomeFailed
	}

	if attempt >= d.params.MaxAttempts {
		lgr.Printf("[WARN] cross-post %d failed after %d attempts: %v", id, attempt, err)
		d.fail(ctx, id, err.Error())
		return outcomeFailed
	}

	next := d.now().Add(d.backoff(attempt))
	if markErr := d.store.MarkRetry(ctx, id, next, err.Error()); markErr != nil {
		lgr.Printf("[ERROR] reschedule cross-post %d: %v", id, markErr)
		return outcomeSkipped
	}
	lgr.Printf("[DEBUG] cross-post %d attempt %d failed, retry at %s: %v",
		id, attempt, next.Format(time.RFC3339), err)
	return outcomeRetried
}

// backoff returns base * 2^attempt capped at the configured ceiling
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.params.RetryBase
	for i := 0; i < attempt && delay < d.params.RetryCap; i++ {
		delay *= 2
	}
	return min(delay, d.params.RetryCap)
}

func (d *Dispatcher) fail(ctx context.Context, id int64, reason string) {
	if err := d.store.MarkFailed(ctx, id, reason); err != nil {
		lgr.Printf("[ERROR] mark cross-post %d failed: %v", id, err)
	}
}

func (d *Dispatcher) markInflight(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[id] {
		return false
	}
	d.inflight[id] = true
	return true
}

func (d *Dispatcher) clearInflight(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}
