package server

import (
	"fmt"
	"io"
	"net/http"
)

// webhook signature headers checked in order; senders disagree on naming.
// The hub header covers github, facebook and instagram, the rest are
// twitter and generic HMAC senders.
var signatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Twitter-Webhooks-Signature",
	"X-Signature",
}

// webhookEventHandler receives one webhook delivery. The user the delivery
// belongs to rides in the query string, set when the webhook was registered
// with the platform.
func (s *Server) webhookEventHandler(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	uid := r.URL.Query().Get("user")
	if uid == "" {
		uid = userID(r)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		RenderError(w, r, fmt.Errorf("read body: %w", err), http.StatusBadRequest)
		return
	}

	receipt, err := s.webhooks.HandleEvent(r.Context(), platform, uid, firstSignature(r), body)
	if err != nil {
		renderDomainError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, receipt)
}

// webhookHandshakeHandler answers GET verification requests
func (s *Server) webhookHandshakeHandler(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")

	handshake, err := s.webhooks.HandleHandshake(platform, r.URL.Query())
	if err != nil {
		renderDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", handshake.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(handshake.Body))
}

// webhookProbeHandler answers HEAD/OPTIONS reachability checks some
// platforms send before registering
func (s *Server) webhookProbeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, POST, HEAD, OPTIONS")
	w.WriteHeader(http.StatusOK)
}

func firstSignature(r *http.Request) string {
	for _, h := range signatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}
