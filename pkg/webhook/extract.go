package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

// Per-platform payload extraction, wired into the Platform registry.
// Malformed JSON or unknown shapes are parse errors so the sender gets a
// 4xx and doesn't retry.

func extractTwitter(userID string, body []byte) ([]ingest.RawContent, error) {
	var payload struct {
		TweetCreateEvents []struct {
			IDStr     string `json:"id_str"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
			User      struct {
				ScreenName string `json:"screen_name"`
			} `json:"user"`
		} `json:"tweet_create_events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Parsef(err, "twitter payload")
	}

	items := make([]ingest.RawContent, 0, len(payload.TweetCreateEvents))
	for _, tweet := range payload.TweetCreateEvents {
		if tweet.IDStr == "" {
			continue
		}
		item := ingest.RawContent{
			UserID:         userID,
			Platform:       "twitter",
			PlatformPostID: tweet.IDStr,
			Body:           tweet.Text,
			Author:         tweet.User.ScreenName,
			Link:           fmt.Sprintf("https://twitter.com/%s/status/%s", tweet.User.ScreenName, tweet.IDStr),
		}
		// twitter's legacy timestamp format
		if ts, err := time.Parse(time.RubyDate, tweet.CreatedAt); err == nil {
			item.PublishedAt = ts
		}
		items = append(items, item)
	}
	return items, nil
}

func extractLinkedIn(userID string, body []byte) ([]ingest.RawContent, error) {
	var payload struct {
		EventType string `json:"eventType"`
		Share     struct {
			ID   string `json:"id"`
			Text struct {
				Text string `json:"text"`
			} `json:"text"`
			Created struct {
				Time int64 `json:"time"` // epoch millis
			} `json:"created"`
		} `json:"share"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Parsef(err, "linkedin payload")
	}
	if payload.EventType != "SHARE" || payload.Share.ID == "" {
		return nil, nil // not a share event, nothing to ingest
	}

	item := ingest.RawContent{
		UserID:         userID,
		Platform:       "linkedin",
		PlatformPostID: payload.Share.ID,
		Body:           payload.Share.Text.Text,
	}
	if payload.Share.Created.Time > 0 {
		item.PublishedAt = time.UnixMilli(payload.Share.Created.Time)
	}
	return []ingest.RawContent{item}, nil
}

func extractMedium(userID string, body []byte) ([]ingest.RawContent, error) {
	var payload struct {
		Event string `json:"event"`
		Post  struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Content     string `json:"content"`
			URL         string `json:"url"`
			PublishedAt int64  `json:"publishedAt"` // epoch millis
			Author      struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"post"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Parsef(err, "medium payload")
	}
	if payload.Event != "post.published" || payload.Post.ID == "" {
		return nil, nil
	}

	item := ingest.RawContent{
		UserID:         userID,
		Platform:       "medium",
		PlatformPostID: payload.Post.ID,
		Title:          payload.Post.Title,
		Body:           payload.Post.Content,
		Link:           payload.Post.URL,
		Author:         payload.Post.Author.Name,
	}
	if payload.Post.PublishedAt > 0 {
		item.PublishedAt = time.UnixMilli(payload.Post.PublishedAt)
	}
	return []ingest.RawContent{item}, nil
}

// extractGeneric handles flat {id, title, content, url, author, publishedAt}
// payloads used by platforms without a dedicated shape
func extractGeneric(platform, userID string, body []byte) ([]ingest.RawContent, error) {
	var payload struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		Author      string `json:"author"`
		PublishedAt string `json:"publishedAt"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Parsef(err, "%s payload", platform)
	}
	if payload.ID == "" {
		return nil, domain.Validationf("%s payload: missing id", platform)
	}

	item := ingest.RawContent{
		UserID:         userID,
		Platform:       platform,
		PlatformPostID: payload.ID,
		Title:          payload.Title,
		Body:           payload.Content,
		Link:           payload.URL,
		Author:         payload.Author,
	}
	if ts, err := time.Parse(time.RFC3339, payload.PublishedAt); err == nil {
		item.PublishedAt = ts
	}
	return []ingest.RawContent{item}, nil
}
