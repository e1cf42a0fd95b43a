package ingest

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"

	"crossfeed/pkg/domain"
)

// ContentStore is the normalizer's view of content persistence
type ContentStore interface {
	Create(ctx context.Context, content *domain.InboundContent) error
	UpdateAnalysis(ctx context.Context, id int64, tags, topics []string, sentiment, language string) error
}

// Analyzer enriches content with tags, topics, sentiment and language.
// Implementations live in pkg/analysis.
type Analyzer interface {
	Analyze(ctx context.Context, title, text string) (*domain.Analysis, error)
}

// RawContent is an unnormalized item as it arrives from a feed or webhook
type RawContent struct {
	UserID         string
	Platform       string
	PlatformPostID string
	Title          string
	Body           string // may contain HTML
	Link           string
	Author         string
	Tags           []string
	PublishedAt    time.Time
}

// Result reports what ingestion did with one raw item
type Result struct {
	Content   *domain.InboundContent
	Duplicate bool
}

// Normalizer converts raw inbound items into stored content records.
// Ingestion is idempotent: the storage unique constraint on the
// (user, platform, post id) triple is the authoritative duplicate guard,
// so concurrent ingestion of the same item yields exactly one row.
type Normalizer struct {
	store    ContentStore
	analyzer Analyzer
	policy   *bluemonday.Policy
}

// NewNormalizer creates a normalizer; analyzer may be nil for no enrichment
func NewNormalizer(store ContentStore, analyzer Analyzer) *Normalizer {
	return &Normalizer{
		store:    store,
		analyzer: analyzer,
		policy:   bluemonday.StrictPolicy(),
	}
}

const (
	wordsPerMinute = 200

	// ExcerptLength caps generated excerpts in runes
	ExcerptLength = 160
)

var hashtagRe = regexp.MustCompile(`#(\w+)`)

// Ingest normalizes and stores one raw item. A duplicate is not an error:
// the caller gets Duplicate=true and no content record.
func (n *Normalizer) Ingest(ctx context.Context, raw RawContent) (*Result, error) {
	if raw.UserID == "" || raw.Platform == "" || raw.PlatformPostID == "" {
		return nil, domain.Validationf("user, platform and post id are required")
	}

	text := n.PlainText(raw.Body)
	words := countWords(text)

	content := &domain.InboundContent{
		UserID:         raw.UserID,
		Platform:       strings.ToLower(raw.Platform),
		PlatformPostID: raw.PlatformPostID,
		Title:          strings.TrimSpace(n.PlainText(raw.Title)),
		Content:        text,
		Excerpt:        MakeExcerpt(text, ExcerptLength),
		Link:           raw.Link,
		Author:         strings.TrimSpace(raw.Author),
		Tags:           mergeTags(raw.Tags, ExtractHashtags(text)),
		WordCount:      words,
		ReadingTime:    ReadingTime(words),
		Status:         domain.ContentPending,
	}
	if !raw.PublishedAt.IsZero() {
		published := raw.PublishedAt.UTC()
		content.PublishedAt = &published
	}

	if err := n.store.Create(ctx, content); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return &Result{Duplicate: true}, nil
		}
		return nil, err
	}

	n.enrich(ctx, content)

	return &Result{Content: content}, nil
}

// enrich runs the optional analyzer; analysis failures only log, the
// content is already stored and usable without it
func (n *Normalizer) enrich(ctx context.Context, content *domain.InboundContent) {
	if n.analyzer == nil {
		return
	}

	analysis, err := n.analyzer.Analyze(ctx, content.Title, content.Content)
	if err != nil {
		lgr.Printf("[WARN] analyze content %d: %v", content.ID, err)
		return
	}
	if analysis == nil {
		return
	}

	content.Tags = mergeTags(content.Tags, analysis.Tags)
	content.Topics = analysis.Topics
	content.Sentiment = analysis.Sentiment
	content.Language = analysis.Language

	if err := n.store.UpdateAnalysis(ctx, content.ID,
		content.Tags, content.Topics, content.Sentiment, content.Language); err != nil {
		lgr.Printf("[WARN] store analysis for content %d: %v", content.ID, err)
	}
}

// PlainText strips markup and collapses whitespace
func (n *Normalizer) PlainText(s string) string {
	text := n.policy.Sanitize(s)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// MakeExcerpt cuts text at a word boundary within max runes, adding an
// ellipsis when anything was cut
func MakeExcerpt(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	cut := string(runes[:maxRunes])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:.") + "…"
}

// ExtractHashtags returns #tag tokens from text, lowercased, without the
// marker, in order of first appearance
func ExtractHashtags(text string) []string {
	matches := hashtagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// ReadingTime estimates minutes to read, never below one
func ReadingTime(words int) int {
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// NormalizeTags lowercases, trims and dedups tags preserving order
func NormalizeTags(tags []string) []string {
	return mergeTags(tags, nil)
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func mergeTags(existing, extra []string) []string {
	out := make([]string, 0, len(existing)+len(extra))
	seen := map[string]bool{}
	for _, t := range append(existing, extra...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
