package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"crossfeed/pkg/domain"
)

// ruleRest is the API shape of a cross-posting rule
type ruleRest struct {
	ID              int64                 `json:"id"`
	Name            string                `json:"name"`
	Enabled         bool                  `json:"enabled"`
	SourcePlatforms []string              `json:"sourcePlatforms"`
	TargetPlatforms []string              `json:"targetPlatforms"`
	ContentFilters  domain.ContentFilters `json:"contentFilters"`
	TransformRules  domain.TransformRules `json:"transformRules"`
	Schedule        domain.ScheduleSpec   `json:"schedule"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// ruleRequest is the writable part of a rule
type ruleRequest struct {
	Name            string                `json:"name"`
	Enabled         *bool                 `json:"enabled"`
	SourcePlatforms []string              `json:"sourcePlatforms"`
	TargetPlatforms []string              `json:"targetPlatforms"`
	ContentFilters  domain.ContentFilters `json:"contentFilters"`
	TransformRules  domain.TransformRules `json:"transformRules"`
	Schedule        domain.ScheduleSpec   `json:"schedule"`
}

func toRuleRest(rule *domain.CrossPostingRule) ruleRest {
	return ruleRest{
		ID:              rule.ID,
		Name:            rule.Name,
		Enabled:         rule.Enabled,
		SourcePlatforms: rule.SourcePlatforms,
		TargetPlatforms: rule.TargetPlatforms,
		ContentFilters:  rule.Filters,
		TransformRules:  rule.Transform,
		Schedule:        rule.Schedule,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

// listRulesHandler returns the caller's rules
func (s *Server) listRulesHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	rules, err := s.rules.ListByUser(r.Context(), uid)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	out := make([]ruleRest, len(rules))
	for i, rule := range rules {
		out[i] = toRuleRest(rule)
	}
	RenderJSON(w, r, http.StatusOK, out)
}

// createRuleHandler creates a rule for the caller
func (s *Server) createRuleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	rule := &domain.CrossPostingRule{
		UserID:          uid,
		Name:            req.Name,
		Enabled:         true,
		SourcePlatforms: req.SourcePlatforms,
		TargetPlatforms: req.TargetPlatforms,
		Filters:         req.ContentFilters,
		Transform:       req.TransformRules,
		Schedule:        req.Schedule,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	rule.Normalize()
	if err := rule.Validate(); err != nil {
		renderDomainError(w, r, err)
		return
	}

	if err := s.rules.Create(r.Context(), rule); err != nil {
		renderDomainError(w, r, err)
		return
	}

	created, err := s.rules.Get(r.Context(), rule.ID)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusCreated, toRuleRest(created))
}

// getRuleHandler returns one rule owned by the caller
func (s *Server) getRuleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	rule, err := s.ownedRule(r, uid, id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, toRuleRest(rule))
}

// updateRuleHandler replaces the writable fields of a rule
func (s *Server) updateRuleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	rule, err := s.ownedRule(r, uid, id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	rule.Name = req.Name
	rule.SourcePlatforms = req.SourcePlatforms
	rule.TargetPlatforms = req.TargetPlatforms
	rule.Filters = req.ContentFilters
	rule.Transform = req.TransformRules
	rule.Schedule = req.Schedule
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	rule.Normalize()
	if err := rule.Validate(); err != nil {
		renderDomainError(w, r, err)
		return
	}

	if err := s.rules.Update(r.Context(), rule); err != nil {
		renderDomainError(w, r, err)
		return
	}

	updated, err := s.rules.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, toRuleRest(updated))
}

// deleteRuleHandler removes a rule owned by the caller
func (s *Server) deleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	if err := s.rules.Delete(r.Context(), uid, id); err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownedRule loads a rule and hides other users' rules behind a 404
func (s *Server) ownedRule(r *http.Request, uid string, id int64) (*domain.CrossPostingRule, error) {
	rule, err := s.rules.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if rule.UserID != uid {
		return nil, domain.NotFoundf("rule %d not found", id)
	}
	return rule, nil
}
