package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

type stubSubscriptionStore struct {
	mu        sync.Mutex
	due       []*domain.FeedSubscription
	processed map[int64]string // id to stored title
	errored   map[int64]string
}

func newStubSubscriptionStore(due ...*domain.FeedSubscription) *stubSubscriptionStore {
	return &stubSubscriptionStore{due: due, processed: map[int64]string{}, errored: map[int64]string{}}
}

func (s *stubSubscriptionStore) GetDue(_ context.Context, _ time.Duration, _ int) ([]*domain.FeedSubscription, error) {
	return s.due, nil
}

func (s *stubSubscriptionStore) MarkProcessed(_ context.Context, id int64, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = title
	return nil
}

func (s *stubSubscriptionStore) MarkError(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored[id] = errMsg
	return nil
}

type stubPollIngestor struct {
	mu    sync.Mutex
	items []ingest.RawContent
	dups  map[string]bool
}

func (s *stubPollIngestor) Ingest(_ context.Context, raw ingest.RawContent) (*ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, raw)
	if s.dups[raw.PlatformPostID] {
		return &ingest.Result{Duplicate: true}, nil
	}
	return &ingest.Result{Content: &domain.InboundContent{PlatformPostID: raw.PlatformPostID}}, nil
}

func TestPoller_PollDueFeeds(t *testing.T) {
	feedServer := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(rssFixture))
		}))
	}

	t.Run("items flow into the ingestor", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()

		subs := newStubSubscriptionStore(&domain.FeedSubscription{ID: 1, UserID: "u1", FeedURL: ts.URL})
		ing := &stubPollIngestor{}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.FeedsPolled)
		assert.Zero(t, res.FeedsFailed)
		assert.Equal(t, 3, res.NewItems)

		require.Len(t, ing.items, 3)
		assert.Equal(t, "rss", ing.items[0].Platform)
		assert.Equal(t, "u1", ing.items[0].UserID)
		assert.Equal(t, "post-1", ing.items[0].PlatformPostID)
		assert.Equal(t, []string{"golang", "testing"}, ing.items[0].Tags)

		// successful poll records the feed title
		assert.Equal(t, "Test Blog", subs.processed[1])
	})

	t.Run("items older than the last poll are skipped", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()

		cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) // after the dated item
		subs := newStubSubscriptionStore(&domain.FeedSubscription{
			ID: 1, UserID: "u1", FeedURL: ts.URL, LastProcessedAt: &cutoff})
		ing := &stubPollIngestor{}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		// the dated item is skipped, the two undated ones rely on dedup
		assert.Equal(t, 2, res.NewItems)
	})

	t.Run("item dated exactly at the last poll is not re-ingested", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()

		cutoff := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC) // the dated item's own timestamp
		subs := newStubSubscriptionStore(&domain.FeedSubscription{
			ID: 1, UserID: "u1", FeedURL: ts.URL, LastProcessedAt: &cutoff})
		ing := &stubPollIngestor{}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.NewItems)
		for _, item := range ing.items {
			assert.NotEqual(t, "post-1", item.PlatformPostID)
		}
	})

	t.Run("duplicates are counted, not re-ingested as new", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()

		subs := newStubSubscriptionStore(&domain.FeedSubscription{ID: 1, UserID: "u1", FeedURL: ts.URL})
		ing := &stubPollIngestor{dups: map[string]bool{"post-1": true}}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.NewItems)
		assert.Equal(t, 1, res.Duplicates)
	})

	t.Run("feed failure recorded without aborting the cycle", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer broken.Close()

		subs := newStubSubscriptionStore(
			&domain.FeedSubscription{ID: 1, UserID: "u1", FeedURL: broken.URL},
			&domain.FeedSubscription{ID: 2, UserID: "u1", FeedURL: ts.URL},
		)
		ing := &stubPollIngestor{}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.FeedsPolled)
		assert.Equal(t, 1, res.FeedsFailed)
		assert.Equal(t, 3, res.NewItems)
		assert.Contains(t, subs.errored[1], "unexpected status code")
		assert.Equal(t, "Test Blog", subs.processed[2])
	})

	t.Run("batching covers every due feed", func(t *testing.T) {
		ts := feedServer()
		defer ts.Close()

		var due []*domain.FeedSubscription
		for i := int64(1); i <= 5; i++ {
			due = append(due, &domain.FeedSubscription{ID: i, UserID: "u1", FeedURL: ts.URL})
		}
		subs := newStubSubscriptionStore(due...)
		ing := &stubPollIngestor{}
		p := NewPoller(subs, NewParser(5*time.Second, "test"), ing, PollerParams{
			BatchSize: 2, BatchPause: time.Millisecond, Concurrency: 2})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, res.FeedsPolled)
		assert.Len(t, res.Feeds, 5)
		assert.Len(t, subs.processed, 5)
	})

	t.Run("empty queue is a quiet cycle", func(t *testing.T) {
		subs := newStubSubscriptionStore()
		p := NewPoller(subs, NewParser(5*time.Second, "test"), &stubPollIngestor{}, PollerParams{})

		res, err := p.PollDueFeeds(context.Background())
		require.NoError(t, err)
		assert.Zero(t, res.FeedsPolled)
	})
}
