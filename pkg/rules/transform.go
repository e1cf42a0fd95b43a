package rules

import (
	"regexp"
	"strings"

	"crossfeed/pkg/domain"
)

var hashtagTokenRe = regexp.MustCompile(`#\w+`)

// ApplyTransform produces the outbound text for one rule. Stages run in a
// fixed order: prefix and suffix wrap the text first, hashtag stripping and
// additions follow, and truncation runs last so the length cap holds over
// the fully assembled text. Configured hashtags always land at the very
// end, after the suffix.
func ApplyTransform(t domain.TransformRules, content *domain.InboundContent) string {
	text := content.Content

	if t.AddPrefix != "" {
		text = t.AddPrefix + text
	}
	if t.AddSuffix != "" {
		text += t.AddSuffix
	}

	if t.RemoveHashtags {
		text = hashtagTokenRe.ReplaceAllString(text, "")
		text = strings.Join(strings.Fields(text), " ")
	}

	if len(t.AddHashtags) > 0 {
		var tags []string
		for _, tag := range t.AddHashtags {
			tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
			if tag != "" {
				tags = append(tags, "#"+tag)
			}
		}
		if len(tags) > 0 {
			text = strings.TrimSpace(text + " " + strings.Join(tags, " "))
		}
	}

	if t.ShortenContent && t.MaxLength > 1 {
		text = Truncate(text, t.MaxLength)
	}

	return text
}

// Truncate caps text at maxRunes runes counting the appended ellipsis, so
// the result never exceeds the platform limit it guards
func Truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes-1]) + "…"
}
