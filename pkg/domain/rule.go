package domain

import (
	"slices"
	"strings"
	"time"
)

// CrossPostingRule decides whether and how inbound content is redistributed.
// Name is unique per user among enabled rules.
type CrossPostingRule struct {
	ID              int64
	UserID          string
	Name            string
	Enabled         bool
	SourcePlatforms []string
	TargetPlatforms []string
	Filters         ContentFilters
	Transform       TransformRules
	Schedule        ScheduleSpec
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MatchesSource reports whether the rule applies to the given source platform
func (r *CrossPostingRule) MatchesSource(platform string) bool {
	return slices.Contains(r.SourcePlatforms, platform)
}

// ContentFilters describes the filter stage of a rule.
// A dimension with no configured value always passes.
type ContentFilters struct {
	Keywords        []string `json:"keywords,omitempty"`        // at least one must appear (case-insensitive)
	ExcludeKeywords []string `json:"excludeKeywords,omitempty"` // none may appear
	MinWordCount    int      `json:"minWordCount,omitempty"`
	MaxWordCount    int      `json:"maxWordCount,omitempty"`
	RequiredTags    []string `json:"requiredTags,omitempty"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
	Sentiment       string   `json:"sentiment,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// TransformRules describes the transform stage of a rule
type TransformRules struct {
	AddPrefix      string   `json:"addPrefix,omitempty"`
	AddSuffix      string   `json:"addSuffix,omitempty"`
	RemoveHashtags bool     `json:"removeHashtags,omitempty"`
	AddHashtags    []string `json:"addHashtags,omitempty"`
	ShortenContent bool     `json:"shortenContent,omitempty"`
	MaxLength      int      `json:"maxLength,omitempty"`
}

// ScheduleSpec describes when a matched cross-post should go out.
// Empty AllowedHours/AllowedDays mean "all values allowed".
type ScheduleSpec struct {
	Immediate    bool   `json:"immediate,omitempty"`
	DelayMinutes int    `json:"delay,omitempty"`
	TimeZone     string `json:"timeZone,omitempty"`
	AllowedHours []int  `json:"allowedHours,omitempty"` // 0-23
	AllowedDays  []int  `json:"allowedDays,omitempty"`  // 0-6, Sunday=0
}

// IsZero reports whether no scheduling constraints are configured
func (s ScheduleSpec) IsZero() bool {
	return !s.Immediate && s.DelayMinutes == 0 && s.TimeZone == "" &&
		len(s.AllowedHours) == 0 && len(s.AllowedDays) == 0
}

// Location resolves the rule's timezone, falling back to UTC on empty or
// unknown names. Defaulting happens here, at the boundary, so evaluation
// code never deals with unset values.
func (s ScheduleSpec) Location() *time.Location {
	if s.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Normalize applies defaulting rules to a parsed rule: trims platform and
// keyword entries, lowercases platform tags and drops empty values
func (r *CrossPostingRule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.SourcePlatforms = normalizePlatforms(r.SourcePlatforms)
	r.TargetPlatforms = normalizePlatforms(r.TargetPlatforms)
	if r.Schedule.DelayMinutes < 0 {
		r.Schedule.DelayMinutes = 0
	}
}

// Validate checks structural correctness of the rule
func (r *CrossPostingRule) Validate() error {
	if r.Name == "" {
		return Validationf("rule name is required")
	}
	if len(r.SourcePlatforms) == 0 {
		return Validationf("at least one source platform is required")
	}
	if len(r.TargetPlatforms) == 0 {
		return Validationf("at least one target platform is required")
	}
	if r.Filters.MinWordCount < 0 || r.Filters.MaxWordCount < 0 {
		return Validationf("word count bounds must be non-negative")
	}
	if r.Filters.MaxWordCount > 0 && r.Filters.MinWordCount > r.Filters.MaxWordCount {
		return Validationf("minWordCount exceeds maxWordCount")
	}
	if r.Transform.ShortenContent && r.Transform.MaxLength <= 1 {
		return Validationf("maxLength must be greater than 1 when shortenContent is set")
	}
	for _, h := range r.Schedule.AllowedHours {
		if h < 0 || h > 23 {
			return Validationf("allowed hour %d out of range", h)
		}
	}
	for _, d := range r.Schedule.AllowedDays {
		if d < 0 || d > 6 {
			return Validationf("allowed day %d out of range", d)
		}
	}
	if r.Schedule.TimeZone != "" {
		if _, err := time.LoadLocation(r.Schedule.TimeZone); err != nil {
			return Validationf("unknown timezone %q", r.Schedule.TimeZone)
		}
	}
	return nil
}

func normalizePlatforms(platforms []string) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
