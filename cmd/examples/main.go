package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veiloq/coinbase-connector/pkg/codec"
	"github.com/veiloq/coinbase-connector/pkg/coinbase"
	"github.com/veiloq/coinbase-connector/pkg/logging"
)

func main() {
	logger := logging.NewLogger("debug")

	// Create client options
	options := coinbase.NewOptions()
	options.APIKey = os.Getenv("COINBASE_API_KEY")
	options.APISecret = os.Getenv("COINBASE_API_SECRET")
	options.HTTPTimeout = 15 * time.Second
	options.LogLevel = "debug"

	client, err := coinbase.NewClient(options)
	if err != nil {
		logger.Error("failed to create client", logging.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Check REST connectivity before opening the stream
	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		logger.Error("failed to fetch server time", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("venue reachable", logging.Time("server_time", serverTime))

	product, err := client.Product(ctx, "BTC-USD")
	if err != nil {
		logger.Error("failed to fetch product", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("product",
		logging.String("product_id", product.ProductID),
		logging.String("price", product.Price.String()),
		logging.String("status", product.Status),
	)

	// Connect to the streaming feed
	logger.Info("connecting to streaming feed")
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", logging.Error(err))
		os.Exit(1)
	}
	defer client.Disconnect()

	// Subscribe to ticker updates
	client.RegisterHandler(codec.ChannelTicker, func(env *codec.Envelope) {
		events, ok := env.Events.([]codec.TickerEvent)
		if !ok {
			return
		}
		for _, event := range events {
			for _, ticker := range event.Tickers {
				logger.Info("ticker",
					logging.String("product_id", ticker.ProductID),
					logging.String("price", ticker.Price.String()),
				)
			}
		}
	})
	if err := client.Subscribe(ctx, codec.ChannelTicker, []string{"BTC-USD", "ETH-USD"}); err != nil {
		logger.Error("failed to subscribe to ticker", logging.Error(err))
		os.Exit(1)
	}

	// Watch aggregated five-minute candles built from the trade stream
	logger.Info("watching candles")
	stream, err := client.WatchCandles(ctx, "BTC-USD")
	if err != nil {
		logger.Error("failed to watch candles", logging.Error(err))
		os.Exit(1)
	}
	go func() {
		for candle := range stream {
			logger.Info("candle",
				logging.String("product_id", candle.ProductID),
				logging.Time("start", candle.Start),
				logging.String("open", candle.Open.String()),
				logging.String("high", candle.High.String()),
				logging.String("low", candle.Low.String()),
				logging.String("close", candle.Close.String()),
				logging.String("volume", candle.Volume.String()),
			)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("running... press Ctrl+C to exit")
	<-sigChan

	logger.Info("shutting down")
	stats := client.Stats()
	logger.Info("session stats",
		logging.Uint64("sequence_gaps", stats.SequenceGaps),
		logging.Uint64("decode_errors", stats.DecodeErrors),
		logging.Uint64("dropped_events", stats.DroppedEvents),
		logging.Uint64("late_drops", stats.LateDrops),
		logging.Uint64("duplicate_drops", stats.DuplicateDrops),
	)
}
