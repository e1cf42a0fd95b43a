package server

import (
	"net/http"
	"time"

	"crossfeed/pkg/domain"
)

// crossPostRest is the API shape of a cross-post job
type crossPostRest struct {
	ID             int64      `json:"id"`
	ContentID      int64      `json:"contentId"`
	RuleID         int64      `json:"ruleId"`
	TargetPlatform string     `json:"targetPlatform"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduledAt"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"lastError,omitempty"`
	ExternalID     string     `json:"externalId,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toCrossPostRest(cp *domain.CrossPost) crossPostRest {
	return crossPostRest{
		ID:             cp.ID,
		ContentID:      cp.ContentID,
		RuleID:         cp.RuleID,
		TargetPlatform: cp.TargetPlatform,
		Status:         string(cp.Status),
		ScheduledAt:    cp.ScheduledAt,
		Attempts:       cp.Attempts,
		LastError:      cp.LastError,
		ExternalID:     cp.ExternalID,
		PublishedAt:    cp.PublishedAt,
		CreatedAt:      cp.CreatedAt,
	}
}

// listCrossPostsHandler returns the caller's cross-post jobs
func (s *Server) listCrossPostsHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	q := domain.CrossPostQuery{
		UserID:         uid,
		TargetPlatform: r.URL.Query().Get("platform"),
		ContentID:      int64(queryInt(r, "contentId", 0)),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !domain.ValidCrossPostStatus(domain.CrossPostStatus(status)) {
			renderDomainError(w, r, domain.Validationf("unknown status %q", status))
			return
		}
		q.Status = domain.CrossPostStatus(status)
	}

	jobs, err := s.crossPosts.List(r.Context(), q)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	out := make([]crossPostRest, len(jobs))
	for i, job := range jobs {
		out[i] = toCrossPostRest(job)
	}
	RenderJSON(w, r, http.StatusOK, out)
}

// crossPostStatsHandler returns queue counts by status for the caller
func (s *Server) crossPostStatsHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	stats, err := s.crossPosts.Stats(r.Context(), uid)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, stats)
}
