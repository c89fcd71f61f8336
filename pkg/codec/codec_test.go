package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/coinbase-connector/pkg/auth"
)

func TestDecodeMarketTrades(t *testing.T) {
	raw := []byte(`{
		"channel": "market_trades",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18.791273556Z",
		"sequence_num": 12,
		"events": [
			{
				"type": "update",
				"trades": [
					{
						"trade_id": "000000001",
						"product_id": "BTC-USD",
						"price": "42001.55",
						"size": "0.0025",
						"side": "BUY",
						"time": "2025-01-14T22:11:18.747Z"
					}
				]
			}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ChannelMarketTrades, env.Channel)
	assert.Equal(t, uint64(12), env.SequenceNum)

	events, ok := env.Events.([]MarketTradesEvent)
	require.True(t, ok)
	require.Len(t, events, 1)
	require.Len(t, events[0].Trades, 1)

	trade := events[0].Trades[0]
	assert.Equal(t, "000000001", trade.TradeID)
	assert.Equal(t, "BTC-USD", trade.ProductID)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("42001.55")))
	assert.True(t, trade.Size.Equal(decimal.RequireFromString("0.0025")))
	assert.Equal(t, "BUY", trade.Side)
}

func TestDecodeHeartbeats(t *testing.T) {
	raw := []byte(`{
		"channel": "heartbeats",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18.791273556Z",
		"sequence_num": 17,
		"events": [
			{
				"current_time": "2025-01-14 22:11:18.787177997 +0000 UTC m=+25541.571430466",
				"heartbeat_counter": 25539
			}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	events, ok := env.Events.([]HeartbeatEvent)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(25539), events[0].HeartbeatCounter)
}

func TestDecodeTicker(t *testing.T) {
	raw := []byte(`{
		"channel": "ticker",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18Z",
		"sequence_num": 3,
		"events": [
			{
				"type": "snapshot",
				"tickers": [
					{"type": "ticker", "product_id": "ETH-USD", "price": "2301.12", "volume_24_h": "91234.5"}
				]
			}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	events := env.Events.([]TickerEvent)
	require.Len(t, events, 1)
	require.Len(t, events[0].Tickers, 1)
	assert.Equal(t, "ETH-USD", events[0].Tickers[0].ProductID)
	assert.True(t, events[0].Tickers[0].Price.Equal(decimal.RequireFromString("2301.12")))
}

func TestDecodeLevel2(t *testing.T) {
	raw := []byte(`{
		"channel": "level2",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18Z",
		"sequence_num": 5,
		"events": [
			{
				"type": "update",
				"product_id": "BTC-USD",
				"updates": [
					{"side": "bid", "event_time": "2025-01-14T22:11:18Z", "price_level": "41999.00", "new_quantity": "0.35"}
				]
			}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	events := env.Events.([]Level2Event)
	require.Len(t, events, 1)
	require.Len(t, events[0].Updates, 1)
	assert.Equal(t, "bid", events[0].Updates[0].Side)
	assert.True(t, events[0].Updates[0].NewQuantity.Equal(decimal.RequireFromString("0.35")))
}

func TestDecodeCandles(t *testing.T) {
	raw := []byte(`{
		"channel": "candles",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18Z",
		"sequence_num": 9,
		"events": [
			{
				"type": "update",
				"candles": [
					{"product_id": "BTC-USD", "start": "1736890200", "open": "42000", "high": "42100", "low": "41900", "close": "42050", "volume": "12.5"}
				]
			}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	events := env.Events.([]CandlesEvent)
	require.Len(t, events, 1)
	require.Len(t, events[0].Candles, 1)
	assert.Equal(t, int64(1736890200), events[0].Candles[0].Start)
}

func TestDecodeSubscriptionsAck(t *testing.T) {
	raw := []byte(`{
		"channel": "subscriptions",
		"client_id": "",
		"timestamp": "2025-01-14T22:11:18Z",
		"sequence_num": 1,
		"events": [
			{"subscriptions": {"market_trades": ["BTC-USD", "ETH-USD"], "heartbeats": ["heartbeats"]}}
		]
	}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	events := env.Events.([]SubscriptionsEvent)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, events[0].Subscriptions["market_trades"])
}

func TestDecodeUnknownChannelPassthrough(t *testing.T) {
	raw := []byte(`{"channel": "margin_calls", "timestamp": "2025-01-14T22:11:18Z", "sequence_num": 4, "events": [{"anything": true}]}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Channel("margin_calls"), env.Channel)
	unknown, ok := env.Events.(UnknownEvents)
	require.True(t, ok)
	assert.Equal(t, "margin_calls", unknown.Channel)
	assert.JSONEq(t, string(raw), string(unknown.Raw))
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("missing channel discriminator", func(t *testing.T) {
		raw := []byte(`{"timestamp": "2025-01-14T22:11:18Z", "sequence_num": 2, "events": []}`)
		_, err := Decode(raw)
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, Channel(""), malformed.Channel)
		assert.NotEmpty(t, malformed.Raw)
	})

	t.Run("missing events on known channel", func(t *testing.T) {
		raw := []byte(`{"channel": "market_trades", "timestamp": "2025-01-14T22:11:18Z", "sequence_num": 2}`)
		_, err := Decode(raw)
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, ChannelMarketTrades, malformed.Channel)
	})

	t.Run("events of the wrong shape", func(t *testing.T) {
		raw := []byte(`{"channel": "heartbeats", "sequence_num": 2, "events": [{"heartbeat_counter": "not-a-number"}]}`)
		_, err := Decode(raw)
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, ChannelHeartbeats, malformed.Channel)
		assert.Equal(t, string(raw), string(malformed.Raw))
	})

	t.Run("not json at all", func(t *testing.T) {
		_, err := Decode([]byte("not json"))
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
	})
}

func TestControlFrameRoundTrip(t *testing.T) {
	signer, err := auth.NewSigner("key", "secret")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	raw, err := EncodeControl(signer, ControlSubscribe, ChannelMarketTrades, []string{"BTC-USD", "ETH-USD"}, now)
	require.NoError(t, err)

	frame, err := DecodeControl(raw)
	require.NoError(t, err)
	assert.Equal(t, ControlSubscribe, frame.Type)
	assert.Equal(t, ChannelMarketTrades, frame.Channel)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, frame.ProductIDs)
	assert.Equal(t, "1700000000", frame.Timestamp)
	assert.Equal(t, signer.SignWebSocket("1700000000", "market_trades", frame.ProductIDs), frame.Signature)
	// Public channel: no api key on the wire.
	assert.Empty(t, frame.APIKey)
}

func TestControlFrameAuthenticatedChannelCarriesAPIKey(t *testing.T) {
	signer, err := auth.NewSigner("my-key", "secret")
	require.NoError(t, err)

	raw, err := EncodeControl(signer, ControlSubscribe, ChannelUser, []string{"BTC-USD"}, time.Unix(1700000000, 0))
	require.NoError(t, err)

	frame, err := DecodeControl(raw)
	require.NoError(t, err)
	assert.Equal(t, "my-key", frame.APIKey)
}

func TestEncodeControlRejectsBadInput(t *testing.T) {
	signer, err := auth.NewSigner("key", "secret")
	require.NoError(t, err)

	_, err = EncodeControl(nil, ControlSubscribe, ChannelTicker, nil, time.Now())
	assert.ErrorIs(t, err, auth.ErrConfiguration)

	_, err = EncodeControl(signer, "resubscribe", ChannelTicker, nil, time.Now())
	assert.Error(t, err)
}

func TestChannelClassification(t *testing.T) {
	assert.True(t, ChannelUser.RequiresAuth())
	assert.True(t, ChannelFuturesBalanceSummary.RequiresAuth())
	assert.False(t, ChannelMarketTrades.RequiresAuth())
	assert.False(t, ChannelHeartbeats.RequiresAuth())

	assert.True(t, ChannelLevel2.Known())
	assert.False(t, Channel("margin_calls").Known())
}
