package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossfeed/pkg/dispatch"
	"crossfeed/pkg/domain"
	"crossfeed/pkg/feed"
	"crossfeed/pkg/ingest"
	"crossfeed/pkg/webhook"
)

type stubSubs struct {
	byID   map[int64]*domain.FeedSubscription
	nextID int64
}

func (s *stubSubs) Create(_ context.Context, sub *domain.FeedSubscription) error {
	for _, existing := range s.byID {
		if existing.UserID == sub.UserID && existing.FeedURL == sub.FeedURL {
			return domain.Conflictf("already subscribed to %s", sub.FeedURL)
		}
	}
	s.nextID++
	sub.ID = s.nextID
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	s.byID[sub.ID] = sub
	return nil
}

func (s *stubSubs) Get(_ context.Context, id int64) (*domain.FeedSubscription, error) {
	sub, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFoundf("subscription %d not found", id)
	}
	return sub, nil
}

func (s *stubSubs) ListByUser(_ context.Context, uid string) ([]*domain.FeedSubscription, error) {
	var out []*domain.FeedSubscription
	for _, sub := range s.byID {
		if sub.UserID == uid {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *stubSubs) Update(_ context.Context, sub *domain.FeedSubscription) error {
	s.byID[sub.ID] = sub
	return nil
}

func (s *stubSubs) Delete(_ context.Context, uid string, id int64) error {
	sub, ok := s.byID[id]
	if !ok || sub.UserID != uid {
		return domain.NotFoundf("subscription %d not found", id)
	}
	delete(s.byID, id)
	return nil
}

type stubContents struct {
	byID    map[int64]*domain.InboundContent
	deleted []int64
}

func (s *stubContents) Get(_ context.Context, id int64) (*domain.InboundContent, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFoundf("content %d not found", id)
	}
	return c, nil
}

func (s *stubContents) List(_ context.Context, q domain.ContentQuery) ([]*domain.InboundContent, error) {
	var out []*domain.InboundContent
	for _, c := range s.byID {
		if c.UserID == q.UserID && (q.Platform == "" || c.Platform == q.Platform) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubContents) Count(ctx context.Context, q domain.ContentQuery) (int, error) {
	list, err := s.List(ctx, q)
	return len(list), err
}

func (s *stubContents) Update(_ context.Context, c *domain.InboundContent) error {
	existing, ok := s.byID[c.ID]
	if !ok || existing.UserID != c.UserID {
		return domain.NotFoundf("content %d not found", c.ID)
	}
	s.byID[c.ID] = c
	return nil
}

func (s *stubContents) UpdateStatus(_ context.Context, uid string, id int64, status domain.ContentStatus) error {
	c, ok := s.byID[id]
	if !ok || c.UserID != uid {
		return domain.NotFoundf("content %d not found", id)
	}
	c.Status = status
	return nil
}

func (s *stubContents) Delete(_ context.Context, uid string, id int64) error {
	c, ok := s.byID[id]
	if !ok || c.UserID != uid {
		return domain.NotFoundf("content %d not found", id)
	}
	delete(s.byID, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type stubRules struct {
	byID   map[int64]*domain.CrossPostingRule
	nextID int64
}

func (s *stubRules) Create(_ context.Context, rule *domain.CrossPostingRule) error {
	for _, existing := range s.byID {
		if existing.UserID == rule.UserID && existing.Name == rule.Name {
			return domain.Conflictf("rule %q already exists", rule.Name)
		}
	}
	s.nextID++
	rule.ID = s.nextID
	s.byID[rule.ID] = rule
	return nil
}

func (s *stubRules) Get(_ context.Context, id int64) (*domain.CrossPostingRule, error) {
	rule, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFoundf("rule %d not found", id)
	}
	return rule, nil
}

func (s *stubRules) ListByUser(_ context.Context, uid string) ([]*domain.CrossPostingRule, error) {
	var out []*domain.CrossPostingRule
	for _, rule := range s.byID {
		if rule.UserID == uid {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *stubRules) Update(_ context.Context, rule *domain.CrossPostingRule) error {
	s.byID[rule.ID] = rule
	return nil
}

func (s *stubRules) Delete(_ context.Context, uid string, id int64) error {
	rule, ok := s.byID[id]
	if !ok || rule.UserID != uid {
		return domain.NotFoundf("rule %d not found", id)
	}
	delete(s.byID, id)
	return nil
}

type stubCrossPosts struct {
	jobs      []*domain.CrossPost
	cancelled int64
}

func (s *stubCrossPosts) List(_ context.Context, q domain.CrossPostQuery) ([]*domain.CrossPost, error) {
	var out []*domain.CrossPost
	for _, job := range s.jobs {
		if job.UserID == q.UserID && (q.Status == "" || job.Status == q.Status) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *stubCrossPosts) Stats(context.Context, string) (*domain.QueueStats, error) {
	return &domain.QueueStats{Pending: 2, Published: 5}, nil
}

func (s *stubCrossPosts) CancelForContent(context.Context, int64) (int64, error) {
	return s.cancelled, nil
}

type stubScheduler struct {
	polls, dispatches int
}

func (s *stubScheduler) PollNow(context.Context) (*feed.PollResult, error) {
	s.polls++
	return &feed.PollResult{FeedsPolled: 1}, nil
}

func (s *stubScheduler) DispatchNow(context.Context) (*dispatch.Result, error) {
	s.dispatches++
	return &dispatch.Result{Published: 1}, nil
}

type stubDiscoverer struct{}

func (stubDiscoverer) Discover(_ context.Context, siteURL string) ([]domain.CandidateFeed, error) {
	if siteURL == "" {
		return nil, domain.Validationf("invalid site url")
	}
	return []domain.CandidateFeed{{URL: siteURL + "/feed", FeedType: "rss", Valid: true, Confidence: 0.9}}, nil
}

// acceptAllIngestor satisfies webhook.Ingestor, accepting every item
type acceptAllIngestor struct{}

func (acceptAllIngestor) Ingest(_ context.Context, raw ingest.RawContent) (*ingest.Result, error) {
	return &ingest.Result{Content: &domain.InboundContent{PlatformPostID: raw.PlatformPostID}}, nil
}

type testEnv struct {
	ts         *httptest.Server
	subs       *stubSubs
	contents   *stubContents
	rules      *stubRules
	crossPosts *stubCrossPosts
	scheduler  *stubScheduler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		subs:       &stubSubs{byID: map[int64]*domain.FeedSubscription{}},
		contents:   &stubContents{byID: map[int64]*domain.InboundContent{}},
		rules:      &stubRules{byID: map[int64]*domain.CrossPostingRule{}},
		crossPosts: &stubCrossPosts{},
		scheduler:  &stubScheduler{},
	}
	webhooks := webhook.NewService(map[string]string{"facebook": "fb-secret"}, &acceptAllIngestor{})
	srv := New(cfg, env.subs, env.contents, env.rules, env.crossPosts, env.scheduler, webhooks, stubDiscoverer{})
	env.ts = httptest.NewServer(srv.router)
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Status(t *testing.T) {
	env := newTestEnv(t, Config{Version: "test-1"})

	resp := env.do(t, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-1", body["version"])
}

func TestServer_Ping(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp := env.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequiresUser(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, path := range []string{"/api/v1/feeds", "/api/v1/rules", "/api/v1/content", "/api/v1/crossposts"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestServer_Feeds(t *testing.T) {
	env := newTestEnv(t, Config{})

	t.Run("create", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/feeds", "u1",
			map[string]any{"feedUrl": "https://example.com/feed", "title": "Example"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		sub := decode[subscriptionRest](t, resp)
		assert.Equal(t, "https://example.com/feed", sub.FeedURL)
		assert.True(t, sub.Active)
		assert.Equal(t, 60, sub.SyncFrequency, "unset frequency defaults to hourly")
	})

	t.Run("duplicate url conflicts", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/feeds", "u1",
			map[string]any{"feedUrl": "https://example.com/feed"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid url rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/feeds", "u1", map[string]any{"feedUrl": "ftp://nope"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("out of range frequency rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/feeds", "u1",
			map[string]any{"feedUrl": "https://example.com/other", "syncFrequency": 5})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("other users see nothing", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/feeds/1", "u2", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		listResp := env.do(t, http.MethodGet, "/api/v1/feeds", "u2", nil)
		require.Equal(t, http.StatusOK, listResp.StatusCode)
		assert.Empty(t, decode[[]subscriptionRest](t, listResp))
	})

	t.Run("update and delete", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/api/v1/feeds/1", "u1", map[string]any{"active": false})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[subscriptionRest](t, resp).Active)

		resp = env.do(t, http.MethodDelete, "/api/v1/feeds/1", "u1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/api/v1/feeds/1", "u1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("discover", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/feeds/discover", "u1",
			map[string]any{"url": "https://example.com"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string][]domain.CandidateFeed](t, resp)
		require.Len(t, body["feeds"], 1)
		assert.Equal(t, "https://example.com/feed", body["feeds"][0].URL)
	})
}

func TestServer_Rules(t *testing.T) {
	env := newTestEnv(t, Config{})

	ruleBody := map[string]any{
		"name":            "tech to twitter",
		"sourcePlatforms": []string{"RSS"},
		"targetPlatforms": []string{"Twitter"},
		"schedule":        map[string]any{"immediate": true},
	}

	t.Run("create normalizes platforms", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/rules", "u1", ruleBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		rule := decode[ruleRest](t, resp)
		assert.Equal(t, []string{"rss"}, rule.SourcePlatforms)
		assert.Equal(t, []string{"twitter"}, rule.TargetPlatforms)
		assert.True(t, rule.Enabled)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/rules", "u1", ruleBody)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("missing targets rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/rules", "u1",
			map[string]any{"name": "broken", "sourcePlatforms": []string{"rss"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad schedule rejected", func(t *testing.T) {
		body := map[string]any{
			"name":            "bad hours",
			"sourcePlatforms": []string{"rss"},
			"targetPlatforms": []string{"twitter"},
			"schedule":        map[string]any{"allowedHours": []int{25}},
		}
		resp := env.do(t, http.MethodPost, "/api/v1/rules", "u1", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("foreign rule hidden behind 404", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/rules/1", "u2", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("update disables the rule", func(t *testing.T) {
		body := map[string]any{
			"name":            "tech to twitter",
			"enabled":         false,
			"sourcePlatforms": []string{"rss"},
			"targetPlatforms": []string{"twitter"},
		}
		resp := env.do(t, http.MethodPut, "/api/v1/rules/1", "u1", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[ruleRest](t, resp).Enabled)
	})
}

func TestServer_Content(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.contents.byID[1] = &domain.InboundContent{
		ID: 1, UserID: "u1", Platform: "rss", PlatformPostID: "p1",
		Title: "Post", Content: "body", Status: domain.ContentPending,
	}
	env.contents.byID[2] = &domain.InboundContent{
		ID: 2, UserID: "u2", Platform: "twitter", PlatformPostID: "p2", Status: domain.ContentPending,
	}

	t.Run("list envelope", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/content?limit=10", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[map[string]any](t, resp)
		assert.EqualValues(t, 1, body["total"])
		assert.EqualValues(t, 10, body["limit"])
		items, ok := body["items"].([]any)
		require.True(t, ok)
		assert.Len(t, items, 1)
	})

	t.Run("unknown status filter rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/content?status=bogus", "u1", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("patch status", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/api/v1/content/1", "u1", map[string]any{"status": "archived"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "archived", decode[contentRest](t, resp).Status)
	})

	t.Run("patch edits re-derive the counters", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/api/v1/content/1", "u1", map[string]any{
			"title": "Edited",
			"body":  "one two three four five",
			"tags":  []string{"Go", "go", " News "},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decode[contentRest](t, resp)
		assert.Equal(t, "Edited", got.Title)
		assert.Equal(t, "one two three four five", got.Content)
		assert.Equal(t, 5, got.WordCount)
		assert.Equal(t, 1, got.ReadingTime)
		assert.Equal(t, "one two three four five", got.Excerpt)
		assert.Equal(t, []string{"go", "news"}, got.Tags)
	})

	t.Run("patch with invalid status", func(t *testing.T) {
		resp := env.do(t, http.MethodPatch, "/api/v1/content/1", "u1", map[string]any{"status": "gone"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("delete cancels pending cross-posts", func(t *testing.T) {
		env.crossPosts.cancelled = 2
		resp := env.do(t, http.MethodDelete, "/api/v1/content/1", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[map[string]any](t, resp)
		assert.Equal(t, "deleted", body["status"])
		assert.EqualValues(t, 2, body["cancelledCrossPosts"])
		assert.Equal(t, []int64{1}, env.contents.deleted)
	})

	t.Run("foreign content hidden behind 404", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/v1/content/2", "u1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_CrossPosts(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.crossPosts.jobs = []*domain.CrossPost{
		{ID: 1, UserID: "u1", TargetPlatform: "twitter", Status: domain.CrossPostPending},
		{ID: 2, UserID: "u1", TargetPlatform: "medium", Status: domain.CrossPostPublished},
	}

	t.Run("list", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/crossposts", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]crossPostRest](t, resp), 2)
	})

	t.Run("filter by status", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/crossposts?status=published", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		jobs := decode[[]crossPostRest](t, resp)
		require.Len(t, jobs, 1)
		assert.Equal(t, "medium", jobs[0].TargetPlatform)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/crossposts?status=limbo", "u1", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("stats", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/crossposts/stats", "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		stats := decode[domain.QueueStats](t, resp)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 5, stats.Published)
	})
}

func TestServer_CronTriggers(t *testing.T) {
	t.Run("disabled without a configured secret", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		resp := env.do(t, http.MethodPost, "/api/v1/cron/poll", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Zero(t, env.scheduler.polls)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		env := newTestEnv(t, Config{CronSecret: "s3cret"})
		req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/v1/cron/poll", http.NoBody)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token runs the cycles", func(t *testing.T) {
		env := newTestEnv(t, Config{CronSecret: "s3cret"})
		for _, path := range []string{"/api/v1/cron/poll", "/api/v1/cron/dispatch"} {
			req, err := http.NewRequest(http.MethodPost, env.ts.URL+path, http.NoBody)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer s3cret")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
			_ = resp.Body.Close()
		}
		assert.Equal(t, 1, env.scheduler.polls)
		assert.Equal(t, 1, env.scheduler.dispatches)
	})
}

func TestServer_Webhooks(t *testing.T) {
	env := newTestEnv(t, Config{})

	t.Run("facebook handshake echoes challenge", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "subscribe")
		q.Set("hub.verify_token", "fb-secret")
		q.Set("hub.challenge", "ch-42")

		resp := env.do(t, http.MethodGet, "/webhooks/facebook?"+q.Encode(), "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		buf := new(bytes.Buffer)
		_, err := buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "ch-42", buf.String())
	})

	t.Run("unknown platform handshake is 404", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/webhooks/myspace", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("event without user id rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/webhooks/twitter", "",
			map[string]any{"tweet_create_events": []any{}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("event with user in query accepted", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/webhooks/twitter?user=u1", "",
			map[string]any{"tweet_create_events": []any{}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		receipt := decode[webhook.Receipt](t, resp)
		assert.Zero(t, receipt.Accepted)
	})

	t.Run("probe answers with allowed methods", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/webhooks/twitter", http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Allow"), "POST")
	})
}
