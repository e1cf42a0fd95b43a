package rules

import (
	"slices"
	"strings"

	"crossfeed/pkg/domain"
)

// MatchFilters checks content against a rule's filter stage. Every
// configured dimension must pass; a dimension left unset always passes.
// The returned reason names the first failing dimension for logs.
func MatchFilters(f domain.ContentFilters, content *domain.InboundContent) (bool, string) {
	text := strings.ToLower(content.Title + " " + content.Content)

	if len(f.Keywords) > 0 && !containsAny(text, f.Keywords) {
		return false, "no required keyword"
	}
	if len(f.ExcludeKeywords) > 0 && containsAny(text, f.ExcludeKeywords) {
		return false, "excluded keyword present"
	}

	if f.MinWordCount > 0 && content.WordCount < f.MinWordCount {
		return false, "below min word count"
	}
	if f.MaxWordCount > 0 && content.WordCount > f.MaxWordCount {
		return false, "above max word count"
	}

	if len(f.RequiredTags) > 0 && !hasAllTags(content.Tags, f.RequiredTags) {
		return false, "missing required tag"
	}
	if len(f.ExcludeTags) > 0 && hasAnyTag(content.Tags, f.ExcludeTags) {
		return false, "excluded tag present"
	}

	if f.Sentiment != "" && !strings.EqualFold(f.Sentiment, content.Sentiment) {
		return false, "sentiment mismatch"
	}
	if f.Language != "" && !strings.EqualFold(f.Language, content.Language) {
		return false, "language mismatch"
	}

	return true, ""
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func hasAllTags(tags, required []string) bool {
	for _, req := range required {
		if !slices.ContainsFunc(tags, func(t string) bool { return strings.EqualFold(t, req) }) {
			return false
		}
	}
	return true
}

func hasAnyTag(tags, excluded []string) bool {
	for _, ex := range excluded {
		if slices.ContainsFunc(tags, func(t string) bool { return strings.EqualFold(t, ex) }) {
			return true
		}
	}
	return false
}
