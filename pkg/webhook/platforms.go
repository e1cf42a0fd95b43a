package webhook

import (
	"net/url"

	"crossfeed/pkg/domain"
	"crossfeed/pkg/ingest"
)

// Platform handles one sender's webhook dialect: signature verification,
// payload extraction and the optional GET handshake.
type Platform interface {
	Verify(secret, signature string, body []byte) error
	Extract(userID string, body []byte) ([]ingest.RawContent, error)
	Handshake(secret string, query url.Values) (*Handshake, error)
}

// defaultPlatforms maps every supported sender to its dialect. Resolved
// once at service construction; the request path only does a map lookup.
func defaultPlatforms() map[string]Platform {
	return map[string]Platform{
		"twitter":   twitterPlatform{},
		"linkedin":  linkedinPlatform{noHandshake{"linkedin"}},
		"medium":    mediumPlatform{noHandshake{"medium"}},
		"facebook":  hubPlatform{"facebook"},
		"instagram": hubPlatform{"instagram"},
		"github":    githubPlatform{noHandshake{"github"}},
	}
}

// noHandshake rejects GET verification for platforms that don't use one
type noHandshake struct{ name string }

func (n noHandshake) Handshake(string, url.Values) (*Handshake, error) {
	return nil, domain.Validationf("%s does not use a GET handshake", n.name)
}

// twitterPlatform signs with base64 HMAC and answers CRC checks
type twitterPlatform struct{}

func (twitterPlatform) Verify(secret, signature string, body []byte) error {
	return verifyHMAC("twitter", secret, signature, body, encodeBase64)
}

func (twitterPlatform) Extract(userID string, body []byte) ([]ingest.RawContent, error) {
	return extractTwitter(userID, body)
}

func (twitterPlatform) Handshake(secret string, query url.Values) (*Handshake, error) {
	return crcHandshake(secret, query)
}

// hubPlatform covers the hub.* subscription dialect shared by facebook and
// instagram: hex HMAC signatures, hub.challenge handshake, flat payloads
type hubPlatform struct{ name string }

func (p hubPlatform) Verify(secret, signature string, body []byte) error {
	return verifyHMAC(p.name, secret, signature, body, encodeHex)
}

func (p hubPlatform) Extract(userID string, body []byte) ([]ingest.RawContent, error) {
	return extractGeneric(p.name, userID, body)
}

func (p hubPlatform) Handshake(secret string, query url.Values) (*Handshake, error) {
	return hubHandshake(p.name, secret, query)
}

type linkedinPlatform struct{ noHandshake }

func (linkedinPlatform) Verify(secret, signature string, body []byte) error {
	return verifyHMAC("linkedin", secret, signature, body, encodeHex)
}

func (linkedinPlatform) Extract(userID string, body []byte) ([]ingest.RawContent, error) {
	return extractLinkedIn(userID, body)
}

type mediumPlatform struct{ noHandshake }

func (mediumPlatform) Verify(secret, signature string, body []byte) error {
	return verifyHMAC("medium", secret, signature, body, encodeHex)
}

func (mediumPlatform) Extract(userID string, body []byte) ([]ingest.RawContent, error) {
	return extractMedium(userID, body)
}

type githubPlatform struct{ noHandshake }

func (githubPlatform) Verify(secret, signature string, body []byte) error {
	return verifyHMAC("github", secret, signature, body, encodeHex)
}

func (githubPlatform) Extract(userID string, body []byte) ([]ingest.RawContent, error) {
	return extractGeneric("github", userID, body)
}
