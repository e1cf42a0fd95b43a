package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"

	"crossfeed/pkg/domain"
)

// verifyHMAC checks a sha256-prefixed HMAC signature over the body. The
// encoding of the digest differs between senders, so the caller picks it.
// An empty secret disables verification for the platform.
func verifyHMAC(platform, secret, signature string, body []byte, encode func([]byte) string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return domain.Authf("%s webhook: missing signature", platform)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + encode(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.Authf("%s webhook: invalid signature", platform)
	}
	return nil
}

func encodeHex(sum []byte) string    { return hex.EncodeToString(sum) }
func encodeBase64(sum []byte) string { return base64.StdEncoding.EncodeToString(sum) }

// Handshake is the response to a GET verification request
type Handshake struct {
	Body        string
	ContentType string
}

// hubHandshake echoes hub.challenge after a verify-token check, the
// subscription flow facebook and instagram use
func hubHandshake(platform, secret string, query url.Values) (*Handshake, error) {
	if query.Get("hub.mode") != "subscribe" {
		return nil, domain.Validationf("%s handshake: unsupported hub.mode", platform)
	}
	if secret == "" || query.Get("hub.verify_token") != secret {
		return nil, domain.Authf("%s handshake: verify token mismatch", platform)
	}
	return &Handshake{Body: query.Get("hub.challenge"), ContentType: "text/plain"}, nil
}

// crcHandshake answers twitter's challenge-response check with an HMAC
// response token
func crcHandshake(secret string, query url.Values) (*Handshake, error) {
	crcToken := query.Get("crc_token")
	if crcToken == "" {
		return nil, domain.Validationf("twitter handshake: missing crc_token")
	}
	if secret == "" {
		return nil, domain.Authf("twitter handshake: no secret configured")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(crcToken))
	token := "sha256=" + encodeBase64(mac.Sum(nil))
	return &Handshake{
		Body:        `{"response_token":"` + token + `"}`,
		ContentType: "application/json",
	}, nil
}
