package feed

import (
	"context"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

// SubscriptionStore is the poller's view of subscription persistence
type SubscriptionStore interface {
	GetDue(ctx context.Context, safetyMargin time.Duration, limit int) ([]*domain.FeedSubscription, error)
	MarkProcessed(ctx context.Context, id int64, title, description string) error
	MarkError(ctx context.Context, id int64, errMsg string) error
}

// Ingestor normalizes and stores one inbound item
type Ingestor interface {
	Ingest(ctx context.Context, raw ingest.RawContent) (*ingest.Result, error)
}

// PollResult summarizes one poll cycle for the trigger endpoint and logs
type PollResult struct {
	FeedsPolled int           `json:"feedsPolled"`
	FeedsFailed int           `json:"feedsFailed"`
	NewItems    int           `json:"newItems"`
	Duplicates  int           `json:"duplicates"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"durationMs"`
	Feeds       []FeedReport  `json:"feeds,omitempty"`
}

// FeedReport is the per-feed detail of a poll cycle
type FeedReport struct {
	SubscriptionID int64  `json:"subscriptionId"`
	FeedURL        string `json:"feedUrl"`
	NewItems       int    `json:"newItems"`
	Duplicates     int    `json:"duplicates"`
	Error          string `json:"error,omitempty"`
}

// Poller walks due subscriptions and feeds their items into the ingestor
type Poller struct {
	subs     SubscriptionStore
	parser   *Parser
	ingestor Ingestor

	batchSize    int
	batchPause   time.Duration
	safetyMargin time.Duration
	concurrency  int
	maxFeeds     int
}

// PollerParams configures a Poller; zero values get sane defaults
type PollerParams struct {
	BatchSize    int           // feeds fetched per batch, default 10
	BatchPause   time.Duration // pause between batches, default 1s
	SafetyMargin time.Duration // min gap between polls of one feed, default 1m
	Concurrency  int           // parallel fetches within a batch, default 5
	MaxFeeds     int           // cap per cycle, default 100
}

// NewPoller creates a feed poller
func NewPoller(subs SubscriptionStore, parser *Parser, ingestor Ingestor, params PollerParams) *Poller {
	if params.BatchSize <= 0 {
		params.BatchSize = 10
	}
	if params.BatchPause <= 0 {
		params.BatchPause = time.Second
	}
	if params.SafetyMargin <= 0 {
		params.SafetyMargin = time.Minute
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 5
	}
	if params.MaxFeeds <= 0 {
		params.MaxFeeds = 100
	}
	return &Poller{
		subs:         subs,
		parser:       parser,
		ingestor:     ingestor,
		batchSize:    params.BatchSize,
		batchPause:   params.BatchPause,
		safetyMargin: params.SafetyMargin,
		concurrency:  params.Concurrency,
		maxFeeds:     params.MaxFeeds,
	}
}

// PollDueFeeds runs one poll cycle: due subscriptions are fetched in fixed
// batches with a pause in between so a large backlog doesn't hammer either
// the hosts or the database. Per-feed failures are recorded on the
// subscription and never abort the cycle.
func (p *Poller) PollDueFeeds(ctx context.Context) (*PollResult, error) {
	start := time.Now()
	result := &PollResult{}

	due, err := p.subs.GetDue(ctx, p.safetyMargin, p.maxFeeds)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		result.Duration = time.Since(start)
		result.DurationMS = result.Duration.Milliseconds()
		return result, nil
	}

	lgr.Printf("[INFO] polling %d due feeds", len(due))

	for batchStart := 0; batchStart < len(due); batchStart += p.batchSize {
		if ctx.Err() != nil {
			break
		}
		batchEnd := min(batchStart+p.batchSize, len(due))
		batch := due[batchStart:batchEnd]

		reports := make([]FeedReport, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for i, sub := range batch {
			g.Go(func() error {
				reports[i] = p.pollFeed(gctx, sub)
				return nil
			})
		}
		_ = g.Wait() // pollFeed never returns an error, failures live in the report

		for _, rep := range reports {
			result.Feeds = append(result.Feeds, rep)
			result.FeedsPolled++
			result.NewItems += rep.NewItems
			result.Duplicates += rep.Duplicates
			if rep.Error != "" {
				result.FeedsFailed++
			}
		}

		// pause between batches, last batch exits immediately
		if batchEnd < len(due) {
			select {
			case <-ctx.Done():
			case <-time.After(p.batchPause):
			}
		}
	}

	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	lgr.Printf("[INFO] poll cycle done: %d feeds, %d new, %d dup, %d failed in %v",
		result.FeedsPolled, result.NewItems, result.Duplicates, result.FeedsFailed, result.Duration)
	return result, nil
}

// pollFeed fetches one subscription's feed and ingests its items
func (p *Poller) pollFeed(ctx context.Context, sub *domain.FeedSubscription) FeedReport {
	report := FeedReport{SubscriptionID: sub.ID, FeedURL: sub.FeedURL}

	parsed, err := p.parser.Parse(ctx, sub.FeedURL)
	if err != nil {
		lgr.Printf("[WARN] poll %s failed: %v", sub.FeedURL, err)
		report.Error = err.Error()
		if markErr := p.subs.MarkError(ctx, sub.ID, err.Error()); markErr != nil {
			lgr.Printf("[ERROR] record poll error for subscription %d: %v", sub.ID, markErr)
		}
		return report
	}

	for _, item := range parsed.Items {
		// items not newer than the previous successful poll were already
		// seen; undated items always go through and rely on the dedup key
		if sub.LastProcessedAt != nil && !item.Published.IsZero() &&
			!item.Published.After(*sub.LastProcessedAt) {
			continue
		}

		raw := ingest.RawContent{
			UserID:         sub.UserID,
			Platform:       "rss",
			PlatformPostID: item.GUID,
			Title:          item.Title,
			Body:           item.Body(),
			Link:           item.Link,
			Author:         item.Author,
			Tags:           item.Categories,
			PublishedAt:    item.Published,
		}

		res, err := p.ingestor.Ingest(ctx, raw)
		if err != nil {
			lgr.Printf("[WARN] ingest item %s from %s: %v", item.GUID, sub.FeedURL, err)
			continue
		}
		if res.Duplicate {
			report.Duplicates++
			continue
		}
		report.NewItems++
	}

	if err := p.subs.MarkProcessed(ctx, sub.ID, parsed.Title, parsed.Description); err != nil {
		lgr.Printf("[ERROR] mark subscription %d processed: %v", sub.ID, err)
		report.Error = err.Error()
	}
	return report
}
