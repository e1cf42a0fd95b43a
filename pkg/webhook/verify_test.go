package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossfeed/pkg/domain"
)

func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signBase64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestPlatformRegistry(t *testing.T) {
	platforms := defaultPlatforms()
	for _, name := range []string{"twitter", "linkedin", "medium", "facebook", "instagram", "github"} {
		assert.Contains(t, platforms, name)
	}
	assert.NotContains(t, platforms, "rss")
}

func TestPlatformVerify(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	platforms := defaultPlatforms()

	t.Run("empty secret disables verification", func(t *testing.T) {
		assert.NoError(t, platforms["twitter"].Verify("", "", body))
	})

	t.Run("missing signature rejected when secret set", func(t *testing.T) {
		err := platforms["twitter"].Verify("s3cret", "", body)
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindAuth))
	})

	t.Run("twitter uses base64", func(t *testing.T) {
		assert.NoError(t, platforms["twitter"].Verify("s3cret", signBase64("s3cret", body), body))
		assert.Error(t, platforms["twitter"].Verify("s3cret", signHex("s3cret", body), body))
	})

	t.Run("the rest use hex", func(t *testing.T) {
		for _, p := range []string{"facebook", "instagram", "github", "medium", "linkedin"} {
			assert.NoError(t, platforms[p].Verify("s3cret", signHex("s3cret", body), body), p)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		err := platforms["github"].Verify("s3cret", signHex("other", body), body)
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindAuth))
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		sig := signHex("s3cret", body)
		err := platforms["github"].Verify("s3cret", sig, []byte(`{"hello":"tampered"}`))
		assert.Error(t, err)
	})
}

func TestPlatformHandshake(t *testing.T) {
	platforms := defaultPlatforms()

	t.Run("facebook echoes the challenge", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "subscribe")
		q.Set("hub.verify_token", "s3cret")
		q.Set("hub.challenge", "ch-123")

		h, err := platforms["facebook"].Handshake("s3cret", q)
		require.NoError(t, err)
		assert.Equal(t, "ch-123", h.Body)
		assert.Equal(t, "text/plain", h.ContentType)
	})

	t.Run("facebook rejects a bad verify token", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "subscribe")
		q.Set("hub.verify_token", "wrong")
		q.Set("hub.challenge", "ch-123")

		_, err := platforms["facebook"].Handshake("s3cret", q)
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindAuth))
	})

	t.Run("facebook rejects non-subscribe mode", func(t *testing.T) {
		q := url.Values{}
		q.Set("hub.mode", "unsubscribe")
		_, err := platforms["facebook"].Handshake("s3cret", q)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("twitter crc answers with hmac token", func(t *testing.T) {
		q := url.Values{}
		q.Set("crc_token", "challenge-token")

		h, err := platforms["twitter"].Handshake("s3cret", q)
		require.NoError(t, err)
		assert.Equal(t, "application/json", h.ContentType)

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write([]byte("challenge-token"))
		want := `{"response_token":"sha256=` + base64.StdEncoding.EncodeToString(mac.Sum(nil)) + `"}`
		assert.Equal(t, want, h.Body)
	})

	t.Run("twitter without crc_token rejected", func(t *testing.T) {
		_, err := platforms["twitter"].Handshake("s3cret", url.Values{})
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("platform without a handshake rejected", func(t *testing.T) {
		_, err := platforms["medium"].Handshake("s3cret", url.Values{})
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})
}
