package domain

import "time"

// ContentStatus represents the processing state of inbound content
type ContentStatus string

// content lifecycle states
const (
	ContentPending   ContentStatus = "pending"
	ContentProcessed ContentStatus = "processed"
	ContentPublished ContentStatus = "published"
	ContentArchived  ContentStatus = "archived"
)

// ValidContentStatus reports whether s is a known content status
func ValidContentStatus(s ContentStatus) bool {
	switch s {
	case ContentPending, ContentProcessed, ContentPublished, ContentArchived:
		return true
	}
	return false
}

// InboundContent is a normalized record of one externally-sourced item.
// The triple (UserID, Platform, PlatformPostID) is the dedup key and is
// unique in storage; it protects the pipeline from duplicate publishing.
type InboundContent struct {
	ID             int64
	UserID         string
	Platform       string // source platform tag, e.g. "rss", "twitter"
	PlatformPostID string // source-native item id (feed GUID, tweet id, ...)
	Title          string
	Content        string
	Excerpt        string
	Link           string
	Author         string
	Tags           []string
	Topics         []string
	Sentiment      string
	Language       string
	WordCount      int
	ReadingTime    int // minutes, words/200 rounded up, min 1
	Status         ContentStatus
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContentQuery holds list/search parameters for inbound content
type ContentQuery struct {
	UserID   string
	Platform string
	Status   ContentStatus
	Search   string // free-text match against title and body
	Limit    int
	Offset   int
}
