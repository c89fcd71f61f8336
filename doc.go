// Package coinbase-connector is a client-side protocol layer for the
// Coinbase Advanced Trade streaming feed.
//
// The library maintains one supervised WebSocket connection to the venue,
// decodes its channel-tagged frames into typed envelopes, and keeps the
// caller's desired subscription set alive across reconnects. On top of the
// raw streams it aggregates market trades into fixed five-minute OHLCV
// candles.
//
// Core Features:
//
//   - Signed subscribe/unsubscribe control frames (HMAC-SHA256 per frame)
//   - Typed decoding for every documented channel, with a passthrough
//     variant for channels added server-side after this library shipped
//   - Desired-state subscription registry replayed in full after reconnect
//   - Connection supervision: liveness via read deadlines and pings,
//     reconnection with capped exponential backoff and jitter
//   - Per-channel consumer registration (callbacks or bounded queues)
//   - Trade-to-candle aggregation with trade-id de-duplication and
//     late-tick protection
//   - REST helpers sharing the same signing contract (server time, product
//     lookup) with independent rate limit buckets
//
// # Standard Errors
//
// The library defines standardized errors for consistent handling:
//
//   - ErrConfiguration: invalid or missing credentials or option values;
//     connect-time fatal, never retried
//
//   - ErrNotConnected: an operation needed a live connection
//
//   - ErrConnectionLost: the reconnect budget was exhausted
//
//   - ErrAlreadyWatching / ErrNotWatching: candle watch lifecycle misuse
//
//   - ErrUnknownChannel: subscribing to a channel this client has no model
//     for
//
// # Examples
//
// Basic usage:
//
//	options := coinbase.NewOptions()
//	options.APIKey = os.Getenv("COINBASE_API_KEY")
//	options.APISecret = os.Getenv("COINBASE_API_SECRET")
//
//	client, err := coinbase.NewClient(options)
//	if err != nil {
//	    log.Fatalf("failed to create client: %v", err)
//	}
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatalf("failed to connect: %v", err)
//	}
//	defer client.Disconnect()
//
// Subscribing to ticker updates:
//
//	client.RegisterHandler(codec.ChannelTicker, func(env *codec.Envelope) {
//	    events := env.Events.([]codec.TickerEvent)
//	    for _, event := range events {
//	        for _, ticker := range event.Tickers {
//	            fmt.Printf("%s: %s\n", ticker.ProductID, ticker.Price)
//	        }
//	    }
//	})
//
//	if err := client.Subscribe(ctx, codec.ChannelTicker, []string{"BTC-USD"}); err != nil {
//	    log.Fatalf("subscribe failed: %v", err)
//	}
//
// Watching aggregated candles:
//
//	stream, err := client.WatchCandles(ctx, "BTC-USD")
//	if err != nil {
//	    log.Fatalf("watch failed: %v", err)
//	}
//	for candle := range stream {
//	    fmt.Printf("%s O:%s H:%s L:%s C:%s V:%s\n",
//	        candle.Start.Format("15:04"),
//	        candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
//	}
//
// Candles close when the first trade of a later bucket arrives, or after an
// idle gap longer than a full bucket. Empty buckets are never synthesized,
// and an emitted candle is immutable: late trades are counted and dropped.
//
// Construction from a YAML config file is also supported:
//
//	client, err := coinbase.NewClientFromConfig("config.yaml")
package coinbaseconnector
