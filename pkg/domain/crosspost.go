package domain

import "time"

// CrossPostStatus represents the delivery state of a cross-post job
type CrossPostStatus string

// cross-post lifecycle states. Terminal states are published and failed,
// everything else may still move.
const (
	CrossPostPending    CrossPostStatus = "pending"    // due now, waiting for a dispatch cycle
	CrossPostScheduled  CrossPostStatus = "scheduled"  // due at ScheduledAt in the future
	CrossPostPublishing CrossPostStatus = "publishing" // claimed by a dispatcher worker
	CrossPostPublished  CrossPostStatus = "published"
	CrossPostFailed     CrossPostStatus = "failed"
)

// CancelledReason marks cross-posts force-failed because their source
// content was deleted before delivery
const CancelledReason = "cancelled: content deleted"

// ValidCrossPostStatus reports whether s is a known cross-post status
func ValidCrossPostStatus(s CrossPostStatus) bool {
	switch s {
	case CrossPostPending, CrossPostScheduled, CrossPostPublishing, CrossPostPublished, CrossPostFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions
func (s CrossPostStatus) Terminal() bool {
	return s == CrossPostPublished || s == CrossPostFailed
}

// CrossPost is one unit of outbound delivery: a piece of content bound to a
// target platform by a matched rule. At most one non-failed cross-post may
// exist per (content, target platform) pair.
type CrossPost struct {
	ID             int64
	ContentID      int64
	RuleID         int64
	UserID         string
	TargetPlatform string
	Status         CrossPostStatus
	ScheduledAt    time.Time
	Attempts       int
	LastError      string
	ExternalID     string // target-platform id of the published post
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CrossPostQuery holds list parameters for cross-post jobs
type CrossPostQuery struct {
	UserID         string
	Status         CrossPostStatus
	TargetPlatform string
	ContentID      int64
	Limit          int
	Offset         int
}

// QueueStats aggregates cross-post counts by status
type QueueStats struct {
	Pending    int `json:"pending" db:"pending"`
	Scheduled  int `json:"scheduled" db:"scheduled"`
	Publishing int `json:"publishing" db:"publishing"`
	Published  int `json:"published" db:"published"`
	Failed     int `json:"failed" db:"failed"`
}
