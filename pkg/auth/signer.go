// Package auth signs requests to the Advanced Trade API. The same HMAC-SHA256
// scheme covers both surfaces: WebSocket subscribe/unsubscribe control frames
// and REST calls. The Signer is a pure value — it performs no I/O and holds no
// mutable state, so one instance is safely shared by the socket client and the
// REST helpers.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrConfiguration indicates missing or malformed API credentials. It is
// fatal: the connector never retries a request it could not sign.
var ErrConfiguration = errors.New("invalid API credentials configuration")

// Request signature headers expected by the venue.
const (
	HeaderAccessKey       = "CB-ACCESS-KEY"
	HeaderAccessSign      = "CB-ACCESS-SIGN"
	HeaderAccessTimestamp = "CB-ACCESS-TIMESTAMP"
)

// Signer produces authentication signatures for control frames and REST
// requests.
type Signer struct {
	apiKey    string
	apiSecret string
}

// NewSigner validates the credentials and returns a Signer. Empty or
// whitespace-only values are rejected with ErrConfiguration.
func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrConfiguration)
	}
	if strings.TrimSpace(apiSecret) == "" {
		return nil, fmt.Errorf("%w: api secret is empty", ErrConfiguration)
	}
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}, nil
}

// APIKey returns the key identifying these credentials to the venue.
func (s *Signer) APIKey() string { return s.apiKey }

// SignWebSocket signs a subscribe/unsubscribe control frame. The prehash is
// timestamp + channel + product ids joined with commas, matching the venue's
// expected scheme. Deterministic for a fixed timestamp.
func (s *Signer) SignWebSocket(timestamp, channel string, productIDs []string) string {
	prehash := timestamp + channel + strings.Join(productIDs, ",")
	return s.sign(prehash)
}

// SignRequest signs a REST request. The prehash additionally covers the HTTP
// method, the request path and the raw body bytes.
func (s *Signer) SignRequest(timestamp, method, path string, body []byte) string {
	prehash := timestamp + method + path + string(body)
	return s.sign(prehash)
}

// RequestHeaders builds the CB-ACCESS-* header set for a REST request. The
// timestamp must be within +/- 30 seconds of the venue's clock.
func (s *Signer) RequestHeaders(timestamp, method, path string, body []byte) http.Header {
	headers := make(http.Header, 3)
	headers.Set(HeaderAccessKey, s.apiKey)
	headers.Set(HeaderAccessSign, s.SignRequest(timestamp, method, path, body))
	headers.Set(HeaderAccessTimestamp, timestamp)
	return headers
}

func (s *Signer) sign(prehash string) string {
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(prehash))
	return hex.EncodeToString(mac.Sum(nil))
}
