package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is one decoded server message: the channel tag, per-channel
// sequence number, timestamp, and the typed event payload. Events holds a
// slice of the channel's event type ([]MarketTradesEvent, []TickerEvent, …)
// or UnknownEvents for channels without a model.
type Envelope struct {
	Channel     Channel
	ClientID    string
	Timestamp   time.Time
	SequenceNum uint64
	Events      interface{}
}

// MalformedError reports a frame that named a known channel but failed
// validation. It carries the channel tag and the raw frame for diagnostics;
// the caller is expected to count it and skip the frame, never to halt the
// stream.
type MalformedError struct {
	Channel Channel
	Raw     []byte
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("malformed %s frame: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

type frameHeader struct {
	Channel     *string         `json:"channel"`
	ClientID    string          `json:"client_id"`
	Timestamp   time.Time       `json:"timestamp"`
	SequenceNum uint64          `json:"sequence_num"`
	Events      json.RawMessage `json:"events"`
}

// Decode parses a raw transport frame into an Envelope.
//
// Unknown channel tags are not an error: the envelope carries the raw payload
// as UnknownEvents. A frame with no channel discriminator, or whose events
// cannot be decoded into the channel's model, yields a *MalformedError.
func Decode(raw []byte) (*Envelope, error) {
	var head frameHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &MalformedError{Raw: cloneBytes(raw), Err: err}
	}
	if head.Channel == nil {
		return nil, &MalformedError{Raw: cloneBytes(raw), Err: errors.New("missing channel discriminator")}
	}

	ch := Channel(*head.Channel)
	env := &Envelope{
		Channel:     ch,
		ClientID:    head.ClientID,
		Timestamp:   head.Timestamp,
		SequenceNum: head.SequenceNum,
	}

	if !ch.Known() {
		env.Events = UnknownEvents{Channel: *head.Channel, Raw: cloneBytes(raw)}
		return env, nil
	}

	if head.Events == nil {
		return nil, &MalformedError{Channel: ch, Raw: cloneBytes(raw), Err: errors.New("missing events field")}
	}

	var err error
	switch ch {
	case ChannelStatus:
		env.Events, err = decodeEvents[StatusEvent](head.Events)
	case ChannelCandles:
		env.Events, err = decodeEvents[CandlesEvent](head.Events)
	case ChannelTicker, ChannelTickerBatch:
		env.Events, err = decodeEvents[TickerEvent](head.Events)
	case ChannelLevel2:
		env.Events, err = decodeEvents[Level2Event](head.Events)
	case ChannelUser:
		env.Events, err = decodeEvents[UserEvent](head.Events)
	case ChannelMarketTrades:
		env.Events, err = decodeEvents[MarketTradesEvent](head.Events)
	case ChannelHeartbeats:
		env.Events, err = decodeEvents[HeartbeatEvent](head.Events)
	case ChannelFuturesBalanceSummary:
		env.Events, err = decodeEvents[FuturesBalanceSummaryEvent](head.Events)
	case ChannelSubscriptions:
		env.Events, err = decodeEvents[SubscriptionsEvent](head.Events)
	}
	if err != nil {
		return nil, &MalformedError{Channel: ch, Raw: cloneBytes(raw), Err: err}
	}
	return env, nil
}

func decodeEvents[T any](raw json.RawMessage) ([]T, error) {
	var events []T
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// cloneBytes detaches diagnostic payloads from the read loop's frame buffer.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
