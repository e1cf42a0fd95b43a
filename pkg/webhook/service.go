// Package webhook receives push notifications from source platforms,
// verifies them and hands the extracted items to the ingestion pipeline.
package webhook

import (
	"context"
	"net/url"

	"github.com/go-pkgz/lgr"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

// Ingestor normalizes and stores one inbound item
type Ingestor interface {
	Ingest(ctx context.Context, raw ingest.RawContent) (*ingest.Result, error)
}

// Service processes inbound webhooks end to end. Each supported sender is
// handled by a Platform implementation resolved from a registry built at
// construction; anything outside the registry is rejected before signature
// checks.
type Service struct {
	secrets   map[string]string // platform to shared secret, empty disables verification
	platforms map[string]Platform
	ingestor  Ingestor
}

// Receipt summarizes what one webhook delivery produced
type Receipt struct {
	Accepted   int     `json:"accepted"`
	Duplicates int     `json:"duplicates"`
	ContentIDs []int64 `json:"contentIds,omitempty"`
}

// NewService creates a webhook service
func NewService(secrets map[string]string, ingestor Ingestor) *Service {
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &Service{secrets: secrets, platforms: defaultPlatforms(), ingestor: ingestor}
}

// Allowed reports whether the platform accepts webhooks at all
func (s *Service) Allowed(platform string) bool {
	_, ok := s.platforms[platform]
	return ok
}

// HandleEvent verifies and ingests one webhook delivery. Error kinds drive
// the HTTP response: auth/validation/parse failures tell the sender not to
// retry, transient storage failures ask for redelivery.
func (s *Service) HandleEvent(ctx context.Context, platform, userID, signature string, body []byte) (*Receipt, error) {
	p, ok := s.platforms[platform]
	if !ok {
		return nil, domain.NotFoundf("unknown webhook platform %q", platform)
	}
	if userID == "" {
		return nil, domain.Validationf("webhook requires a user id")
	}

	if err := p.Verify(s.secrets[platform], signature, body); err != nil {
		return nil, err
	}

	items, err := p.Extract(userID, body)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{}
	for _, item := range items {
		res, err := s.ingestor.Ingest(ctx, item)
		if err != nil {
			if domain.IsKind(err, domain.KindValidation) {
				lgr.Printf("[WARN] skip invalid %s webhook item %s: %v", platform, item.PlatformPostID, err)
				continue
			}
			// storage trouble, ask the sender to redeliver
			return nil, domain.Transientf(err, "ingest %s webhook item", platform)
		}
		if res.Duplicate {
			receipt.Duplicates++
			continue
		}
		receipt.Accepted++
		if res.Content != nil {
			receipt.ContentIDs = append(receipt.ContentIDs, res.Content.ID)
		}
	}

	lgr.Printf("[INFO] %s webhook for %s: %d accepted, %d duplicates",
		platform, userID, receipt.Accepted, receipt.Duplicates)
	return receipt, nil
}

// HandleHandshake answers a GET verification request for platforms that
// require one
func (s *Service) HandleHandshake(platform string, query url.Values) (*Handshake, error) {
	p, ok := s.platforms[platform]
	if !ok {
		return nil, domain.NotFoundf("unknown webhook platform %q", platform)
	}
	return p.Handshake(s.secrets[platform], query)
}
