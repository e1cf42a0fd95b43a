package domain

import "time"

// FeedSubscription represents a user's subscription to an RSS/Atom feed
type FeedSubscription struct {
	ID              int64
	UserID          string
	FeedURL         string
	Title           string
	Description     string
	Active          bool
	SyncFrequency   int // minutes between polls
	LastProcessedAt *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// sync frequency bounds enforced at the API boundary
const (
	MinSyncFrequency = 15   // minutes
	MaxSyncFrequency = 1440 // minutes
)

// CandidateFeed is a discovered feed for a website, ranked by confidence
type CandidateFeed struct {
	URL        string  `json:"url"`
	Title      string  `json:"title,omitempty"`
	FeedType   string  `json:"feedType"`
	Confidence float64 `json:"confidence"`
	Valid      bool    `json:"valid"`
	ItemCount  int     `json:"itemCount"`
}
