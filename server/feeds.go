package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crossfeed/pkg/domain"
)

// subscriptionRest is the API shape of a feed subscription
type subscriptionRest struct {
	ID              int64      `json:"id"`
	FeedURL         string     `json:"feedUrl"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description,omitempty"`
	Active          bool       `json:"active"`
	SyncFrequency   int        `json:"syncFrequency"`
	LastProcessedAt *time.Time `json:"lastProcessedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toSubscriptionRest(sub *domain.FeedSubscription) subscriptionRest {
	return subscriptionRest{
		ID:              sub.ID,
		FeedURL:         sub.FeedURL,
		Title:           sub.Title,
		Description:     sub.Description,
		Active:          sub.Active,
		SyncFrequency:   sub.SyncFrequency,
		LastProcessedAt: sub.LastProcessedAt,
		LastError:       sub.LastError,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
}

// listFeedsHandler returns the caller's subscriptions
func (s *Server) listFeedsHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	subs, err := s.subs.ListByUser(r.Context(), uid)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	out := make([]subscriptionRest, len(subs))
	for i, sub := range subs {
		out[i] = toSubscriptionRest(sub)
	}
	RenderJSON(w, r, http.StatusOK, out)
}

// createFeedHandler subscribes the caller to a feed
func (s *Server) createFeedHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		FeedURL       string `json:"feedUrl"`
		Title         string `json:"title"`
		Description   string `json:"description"`
		SyncFrequency int    `json:"syncFrequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	if err := validateFeedURL(req.FeedURL); err != nil {
		renderDomainError(w, r, err)
		return
	}
	freq, err := clampSyncFrequency(req.SyncFrequency)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	sub := &domain.FeedSubscription{
		UserID:        uid,
		FeedURL:       req.FeedURL,
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		Active:        true,
		SyncFrequency: freq,
	}
	if err := s.subs.Create(r.Context(), sub); err != nil {
		renderDomainError(w, r, err)
		return
	}

	created, err := s.subs.Get(r.Context(), sub.ID)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusCreated, toSubscriptionRest(created))
}

// getFeedHandler returns one subscription owned by the caller
func (s *Server) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	if sub.UserID != uid {
		renderDomainError(w, r, domain.NotFoundf("subscription %d not found", id))
		return
	}
	RenderJSON(w, r, http.StatusOK, toSubscriptionRest(sub))
}

// updateFeedHandler modifies a subscription owned by the caller
func (s *Server) updateFeedHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	if sub.UserID != uid {
		renderDomainError(w, r, domain.NotFoundf("subscription %d not found", id))
		return
	}

	var req struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		Active        *bool   `json:"active"`
		SyncFrequency *int    `json:"syncFrequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	if req.Title != nil {
		sub.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		sub.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.SyncFrequency != nil {
		freq, err := clampSyncFrequency(*req.SyncFrequency)
		if err != nil {
			renderDomainError(w, r, err)
			return
		}
		sub.SyncFrequency = freq
	}

	if err := s.subs.Update(r.Context(), sub); err != nil {
		renderDomainError(w, r, err)
		return
	}

	updated, err := s.subs.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, toSubscriptionRest(updated))
}

// deleteFeedHandler removes a subscription owned by the caller
func (s *Server) deleteFeedHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	if err := s.subs.Delete(r.Context(), uid, id); err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// discoverFeedsHandler finds candidate feeds for a website
func (s *Server) discoverFeedsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	candidates, err := s.discovery.Discover(r.Context(), req.URL)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{"feeds": candidates})
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Validationf("feedUrl must be a valid http(s) url")
	}
	return nil
}

func clampSyncFrequency(freq int) (int, error) {
	if freq == 0 {
		return 60, nil // default hourly
	}
	if freq < domain.MinSyncFrequency || freq > domain.MaxSyncFrequency {
		return 0, domain.Validationf("syncFrequency must be between %d and %d minutes",
			domain.MinSyncFrequency, domain.MaxSyncFrequency)
	}
	return freq, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}
