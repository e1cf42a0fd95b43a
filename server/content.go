package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

// contentRest is the API shape of an inbound content record
type contentRest struct {
	ID          int64      `json:"id"`
	Platform    string     `json:"platform"`
	PostID      string     `json:"platformPostId"`
	Title       string     `json:"title,omitempty"`
	Content     string     `json:"content"`
	Excerpt     string     `json:"excerpt,omitempty"`
	Link        string     `json:"link,omitempty"`
	Author      string     `json:"author,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Sentiment   string     `json:"sentiment,omitempty"`
	Language    string     `json:"language,omitempty"`
	WordCount   int        `json:"wordCount"`
	ReadingTime int        `json:"readingTime"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toContentRest(c *domain.InboundContent) contentRest {
	return contentRest{
		ID:          c.ID,
		Platform:    c.Platform,
		PostID:      c.PlatformPostID,
		Title:       c.Title,
		Content:     c.Content,
		Excerpt:     c.Excerpt,
		Link:        c.Link,
		Author:      c.Author,
		Tags:        c.Tags,
		Topics:      c.Topics,
		Sentiment:   c.Sentiment,
		Language:    c.Language,
		WordCount:   c.WordCount,
		ReadingTime: c.ReadingTime,
		Status:      string(c.Status),
		PublishedAt: c.PublishedAt,
		CreatedAt:   c.CreatedAt,
	}
}

// listContentHandler returns the caller's content with filters and paging
func (s *Server) listContentHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	q := domain.ContentQuery{
		UserID:   uid,
		Platform: r.URL.Query().Get("platform"),
		Search:   r.URL.Query().Get("search"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !domain.ValidContentStatus(domain.ContentStatus(status)) {
			renderDomainError(w, r, domain.Validationf("unknown status %q", status))
			return
		}
		q.Status = domain.ContentStatus(status)
	}

	list, err := s.contents.List(r.Context(), q)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	total, err := s.contents.Count(r.Context(), q)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	items := make([]contentRest, len(list))
	for i, c := range list {
		items[i] = toContentRest(c)
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// getContentHandler returns one content record owned by the caller
func (s *Server) getContentHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	content, err := s.ownedContent(r, uid, id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, toContentRest(content))
}

// updateContentHandler changes mutable fields of a content record. Only
// the fields present in the request are touched; a body change re-derives
// the word count, reading time and excerpt the way ingestion does.
func (s *Server) updateContentHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	var req struct {
		Status *string   `json:"status"`
		Title  *string   `json:"title"`
		Body   *string   `json:"body"`
		Tags   *[]string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	content, err := s.ownedContent(r, uid, id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	if req.Status != nil {
		status := domain.ContentStatus(*req.Status)
		if !domain.ValidContentStatus(status) {
			renderDomainError(w, r, domain.Validationf("unknown status %q", *req.Status))
			return
		}
		content.Status = status
	}
	if req.Title != nil {
		content.Title = strings.TrimSpace(*req.Title)
	}
	if req.Body != nil {
		text := strings.TrimSpace(*req.Body)
		words := len(strings.Fields(text))
		content.Content = text
		content.WordCount = words
		content.ReadingTime = ingest.ReadingTime(words)
		content.Excerpt = ingest.MakeExcerpt(text, ingest.ExcerptLength)
	}
	if req.Tags != nil {
		content.Tags = ingest.NormalizeTags(*req.Tags)
	}

	if err := s.contents.Update(r.Context(), content); err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, toContentRest(content))
}

// deleteContentHandler removes content. Undelivered cross-posts are
// force-cancelled first so a dispatcher cycle racing the delete can't
// publish content the user just removed.
func (s *Server) deleteContentHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	if _, err := s.ownedContent(r, uid, id); err != nil {
		renderDomainError(w, r, err)
		return
	}

	cancelled, err := s.crossPosts.CancelForContent(r.Context(), id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	if err := s.contents.Delete(r.Context(), uid, id); err != nil {
		renderDomainError(w, r, err)
		return
	}

	RenderJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":              "deleted",
		"cancelledCrossPosts": cancelled,
	})
}

func (s *Server) ownedContent(r *http.Request, uid string, id int64) (*domain.InboundContent, error) {
	content, err := s.contents.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if content.UserID != uid {
		return nil, domain.NotFoundf("content %d not found", id)
	}
	return content, nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
