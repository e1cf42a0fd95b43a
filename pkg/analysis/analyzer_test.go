package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer fakes an OpenAI-compatible chat completion endpoint returning
// the given message contents in order, one per request
func chatServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	call := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["messages"])

		reply := replies[min(call, len(replies)-1)]
		call++

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestAnalyzer(endpoint string) *Analyzer {
	return NewAnalyzer(Config{APIKey: "test-key", Endpoint: endpoint, Model: "test-model", MaxTokens: 300})
}

func TestAnalyzer_Analyze(t *testing.T) {
	t.Run("clean json response", func(t *testing.T) {
		ts := chatServer(t, `{"tags":["golang","release"],"topics":["technology"],"sentiment":"positive","language":"en"}`)
		defer ts.Close()

		res, err := newTestAnalyzer(ts.URL).Analyze(context.Background(), "Go release", "new version shipped")
		require.NoError(t, err)
		assert.Equal(t, []string{"golang", "release"}, res.Tags)
		assert.Equal(t, []string{"technology"}, res.Topics)
		assert.Equal(t, "positive", res.Sentiment)
		assert.Equal(t, "en", res.Language)
	})

	t.Run("markdown fences stripped", func(t *testing.T) {
		ts := chatServer(t, "```json\n{\"tags\":[\"ai\"],\"sentiment\":\"neutral\",\"language\":\"en\"}\n```")
		defer ts.Close()

		res, err := newTestAnalyzer(ts.URL).Analyze(context.Background(), "t", "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"ai"}, res.Tags)
	})

	t.Run("unknown sentiment normalized to neutral", func(t *testing.T) {
		ts := chatServer(t, `{"tags":["x"],"sentiment":"ecstatic","language":"en"}`)
		defer ts.Close()

		res, err := newTestAnalyzer(ts.URL).Analyze(context.Background(), "t", "c")
		require.NoError(t, err)
		assert.Equal(t, "neutral", res.Sentiment)
	})

	t.Run("retries on malformed json", func(t *testing.T) {
		ts := chatServer(t, "sorry, here you go:", `{"tags":["ok"],"sentiment":"neutral"}`)
		defer ts.Close()

		res, err := newTestAnalyzer(ts.URL).Analyze(context.Background(), "t", "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, res.Tags)
	})

	t.Run("gives up after persistent garbage", func(t *testing.T) {
		ts := chatServer(t, "not json at all")
		defer ts.Close()

		_, err := newTestAnalyzer(ts.URL).Analyze(context.Background(), "t", "c")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse llm response")
	})
}

func TestParseResponse(t *testing.T) {
	res, err := parseResponse("  ```json\n{\"language\":\"de\"}\n```  ")
	require.NoError(t, err)
	assert.Equal(t, "de", res.Language)

	_, err = parseResponse("{broken")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll", truncate("héllo", 4))
}
