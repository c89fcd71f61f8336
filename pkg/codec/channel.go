// Package codec decodes Advanced Trade WebSocket frames into typed envelopes
// and encodes signed subscribe/unsubscribe control frames. Decoding is keyed
// on the channel discriminator field; channels this package does not know
// about decode to a passthrough variant so newer server-side additions never
// break the stream.
package codec

// Channel identifies a stream type on the venue's WebSocket feed.
type Channel string

const (
	// ChannelStatus sends all products and currencies on a preset interval.
	ChannelStatus Channel = "status"
	// ChannelCandles updates every second; candles are bucketed at the
	// venue-fixed five-minute granularity.
	ChannelCandles Channel = "candles"
	// ChannelTicker sends price updates on every match.
	ChannelTicker Channel = "ticker"
	// ChannelTickerBatch sends price updates every five seconds.
	ChannelTickerBatch Channel = "ticker_batch"
	// ChannelLevel2 sends order book deltas.
	ChannelLevel2 Channel = "level2"
	// ChannelUser sends order updates for the authenticated user.
	ChannelUser Channel = "user"
	// ChannelMarketTrades sends an update for every market trade.
	ChannelMarketTrades Channel = "market_trades"
	// ChannelHeartbeats sends periodic pings that keep the connection open.
	ChannelHeartbeats Channel = "heartbeats"
	// ChannelFuturesBalanceSummary sends futures balance changes for the
	// authenticated user.
	ChannelFuturesBalanceSummary Channel = "futures_balance_summary"
	// ChannelSubscriptions carries server acknowledgements of subscription
	// changes.
	ChannelSubscriptions Channel = "subscriptions"
)

func (c Channel) String() string { return string(c) }

// RequiresAuth reports whether subscribing to the channel needs an
// authenticated control frame.
func (c Channel) RequiresAuth() bool {
	switch c {
	case ChannelUser, ChannelFuturesBalanceSummary:
		return true
	}
	return false
}

// Known reports whether the codec has a typed event model for the channel.
func (c Channel) Known() bool {
	switch c {
	case ChannelStatus, ChannelCandles, ChannelTicker, ChannelTickerBatch,
		ChannelLevel2, ChannelUser, ChannelMarketTrades, ChannelHeartbeats,
		ChannelFuturesBalanceSummary, ChannelSubscriptions:
		return true
	}
	return false
}
