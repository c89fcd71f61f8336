package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/veiloq/coinbase-connector/pkg/auth"
)

// Control frame directions.
const (
	ControlSubscribe   = "subscribe"
	ControlUnsubscribe = "unsubscribe"
)

// ControlFrame is an outbound subscribe/unsubscribe request. Every frame
// carries a fresh signature; the api key is attached only for channels that
// require authentication.
type ControlFrame struct {
	Type       string   `json:"type"`
	Channel    Channel  `json:"channel"`
	ProductIDs []string `json:"product_ids"`
	Timestamp  string   `json:"timestamp"`
	Signature  string   `json:"signature"`
	APIKey     string   `json:"api_key,omitempty"`
}

// EncodeControl builds and signs a control frame. The timestamp is taken as
// an argument rather than read from the wall clock so encoding stays
// deterministic under test.
func EncodeControl(signer *auth.Signer, frameType string, ch Channel, productIDs []string, now time.Time) ([]byte, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: control frames must be signed", auth.ErrConfiguration)
	}
	if frameType != ControlSubscribe && frameType != ControlUnsubscribe {
		return nil, fmt.Errorf("invalid control frame type %q", frameType)
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	frame := ControlFrame{
		Type:       frameType,
		Channel:    ch,
		ProductIDs: productIDs,
		Timestamp:  timestamp,
		Signature:  signer.SignWebSocket(timestamp, ch.String(), productIDs),
	}
	if ch.RequiresAuth() {
		frame.APIKey = signer.APIKey()
	}
	return json.Marshal(frame)
}

// DecodeControl parses a raw control frame. The mock venue uses it to
// interpret client requests; it also backs the encode/decode round-trip
// guarantee (signatures are not invertible and are returned as-is).
func DecodeControl(raw []byte) (*ControlFrame, error) {
	var frame ControlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode control frame: %w", err)
	}
	if frame.Type != ControlSubscribe && frame.Type != ControlUnsubscribe {
		return nil, fmt.Errorf("invalid control frame type %q", frame.Type)
	}
	return &frame, nil
}
