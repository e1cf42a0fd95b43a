package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"crossfeed/pkg/domain"
)

// pollTriggerHandler runs one feed poll cycle on demand; meant for external
// cron callers, guarded by the shared bearer secret
func (s *Server) pollTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkCronSecret(r) {
		renderDomainError(w, r, domain.Authf("invalid or missing bearer token"))
		return
	}

	result, err := s.scheduler.PollNow(r.Context())
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, result)
}

// dispatchTriggerHandler runs one delivery cycle on demand
func (s *Server) dispatchTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !s.checkCronSecret(r) {
		renderDomainError(w, r, domain.Authf("invalid or missing bearer token"))
		return
	}

	result, err := s.scheduler.DispatchNow(r.Context())
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, result)
}

func (s *Server) checkCronSecret(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false // endpoint disabled without a configured secret
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CronSecret)) == 1
}
