package coinbase

import (
	"errors"

	"github.com/veiloq/coinbase-connector/pkg/auth"
	"github.com/veiloq/coinbase-connector/pkg/candles"
	"github.com/veiloq/coinbase-connector/pkg/websocket"
)

// Sentinel errors the client surfaces. Lower-layer sentinels are re-exported
// so callers match with errors.Is without importing the internals.
var (
	// ErrConfiguration covers invalid or missing credentials and option
	// values. Connect-time fatal; never retried.
	ErrConfiguration = auth.ErrConfiguration

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = websocket.ErrNotConnected

	// ErrConnectionLost is the terminal error after the reconnect budget is
	// exhausted.
	ErrConnectionLost = websocket.ErrConnectionLost

	// ErrAlreadyWatching is returned by WatchCandles for a product that
	// already has a candle stream.
	ErrAlreadyWatching = candles.ErrAlreadyWatching

	// ErrNotWatching is returned by UnwatchCandles for a product without a
	// candle stream.
	ErrNotWatching = candles.ErrNotWatching

	// ErrUnknownChannel is returned when subscribing to a channel this
	// client has no model for.
	ErrUnknownChannel = errors.New("unknown channel")
)
