// Package coinbase is the client facade for the Advanced Trade streaming
// feed. It wires the signer, codec, subscription registry, connection
// supervisor, event dispatcher, and candle aggregator into one surface:
// connect, subscribe, watch candles, read stats.
//
// The client holds a desired-state model: Subscribe records intent in the
// registry and sends a control frame when connected; after every reconnect
// the registry is replayed in full, so the caller never re-subscribes by
// hand.
package coinbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/veiloq/coinbase-connector/pkg/auth"
	"github.com/veiloq/coinbase-connector/pkg/candles"
	"github.com/veiloq/coinbase-connector/pkg/codec"
	"github.com/veiloq/coinbase-connector/pkg/config"
	"github.com/veiloq/coinbase-connector/pkg/dispatch"
	"github.com/veiloq/coinbase-connector/pkg/logging"
	"github.com/veiloq/coinbase-connector/pkg/ratelimit"
	"github.com/veiloq/coinbase-connector/pkg/subscription"
	"github.com/veiloq/coinbase-connector/pkg/websocket"
)

// Stats is a snapshot of the client's quality counters. All counters are
// informational and monotonically increasing.
type Stats struct {
	// SequenceGaps counts frames whose sequence number was not the direct
	// successor of the previous one on this connection.
	SequenceGaps uint64
	// DecodeErrors counts malformed frames that were skipped.
	DecodeErrors uint64
	// DroppedEvents counts envelopes evicted from full consumer queues.
	DroppedEvents uint64
	// LateDrops counts trades that arrived for already-emitted candles.
	LateDrops uint64
	// DuplicateDrops counts trades discarded by trade-id de-duplication.
	DuplicateDrops uint64
}

// Client is the top-level connector. Construct with NewClient, then Connect.
// A client is single-use: after Disconnect it cannot be reconnected.
type Client struct {
	opts   *Options
	signer *auth.Signer
	logger logging.Logger
	clk    clock.Clock

	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	aggregator *candles.Aggregator
	supervisor *websocket.Supervisor

	mu        sync.Mutex
	connected bool
	runCtx    context.Context
	restc     *restClient

	pumpOnce   sync.Once
	pumpCancel func()
	pumpDone   chan struct{}

	seqMu   sync.Mutex
	seqSeen bool
	lastSeq uint64

	sequenceGaps atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewClient validates options and builds an unconnected client. Credentials
// are required: the venue expects every control frame to be signed.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	signer, err := auth.NewSigner(opts.APIKey, opts.APISecret)
	if err != nil {
		return nil, err
	}
	if opts.WebSocketURL == "" {
		return nil, fmt.Errorf("%w: websocket url cannot be empty", ErrConfiguration)
	}
	if opts.PingInterval >= opts.LivenessWindow {
		return nil, fmt.Errorf("%w: ping interval %s must be shorter than liveness window %s",
			ErrConfiguration, opts.PingInterval, opts.LivenessWindow)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := logging.NewLogger(opts.LogLevel)

	c := &Client{
		opts:       opts,
		signer:     signer,
		logger:     logger,
		clk:        clk,
		registry:   subscription.NewRegistry(),
		dispatcher: dispatch.NewDispatcher(logger),
		aggregator: candles.NewAggregator(candles.Config{Clock: clk, Logger: logger}),
	}
	c.supervisor = websocket.NewSupervisor(websocket.Config{
		URL:            opts.WebSocketURL,
		LivenessWindow: opts.LivenessWindow,
		PingInterval:   opts.PingInterval,
		Backoff:        opts.Backoff,
		Limiter:        ratelimit.NewWebSocketLimiter(),
		Clock:          clk,
		Logger:         logger,
	}, websocket.Hooks{
		OnConnected: c.onConnected,
		OnFrame:     c.onFrame,
		OnTerminal:  c.onTerminal,
	})
	return c, nil
}

// NewClientFromConfig builds a client from a YAML config file.
func NewClientFromConfig(path string) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewClient(OptionsFromConfig(cfg))
}

// Connect dials the streaming endpoint. Subscriptions recorded before
// Connect are sent during the handshake. ctx governs the connection's whole
// lifetime including reconnects.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.runCtx = ctx
	c.mu.Unlock()

	if err := c.supervisor.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection and stops all background work. Candle
// streams opened with WatchCandles stay open but go quiet; unwatch them to
// release their sessions.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	cancel := c.pumpCancel
	done := c.pumpDone
	c.pumpCancel = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		close(done)
	}
	return c.supervisor.Stop()
}

// State returns the connection state.
func (c *Client) State() websocket.State {
	return c.supervisor.State()
}

// Subscribe merges productIDs into the channel's desired set and, when
// connected, sends a subscribe frame for the ids not already requested.
// Subscribing to an already-covered set is a no-op. When disconnected the
// desire is recorded and sent on the next (re)connect.
func (c *Client) Subscribe(ctx context.Context, ch codec.Channel, productIDs []string) error {
	if !ch.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	added := c.registry.Subscribe(ch, productIDs)
	if state, _ := c.registry.State(ch); state == subscription.Confirmed {
		return nil
	}

	var ids []string
	switch {
	case len(added) > 0:
		ids = added
	case len(productIDs) == 0:
		ids = nil
	default:
		// Covered by an in-flight request.
		return nil
	}

	if !c.sendable() {
		return nil
	}
	return c.sendControl(ctx, codec.ControlSubscribe, ch, ids)
}

// Unsubscribe removes productIDs from the channel's desired set and, when
// connected, sends an unsubscribe frame for the ids actually removed.
// Unknown ids and channels are a no-op.
func (c *Client) Unsubscribe(ctx context.Context, ch codec.Channel, productIDs []string) error {
	if !ch.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	_, had := c.registry.State(ch)
	removed := c.registry.Unsubscribe(ch, productIDs)

	var ids []string
	switch {
	case len(removed) > 0:
		ids = removed
	case had && len(productIDs) == 0:
		ids = nil
	default:
		return nil
	}

	if !c.sendable() {
		return nil
	}
	return c.sendControl(ctx, codec.ControlUnsubscribe, ch, ids)
}

// SubscriptionState returns the registry state for a channel.
func (c *Client) SubscriptionState(ch codec.Channel) (subscription.State, bool) {
	return c.registry.State(ch)
}

// RegisterHandler attaches a callback for a channel's envelopes. The callback
// runs on the read goroutine in arrival order and must not block. The
// returned cancel detaches it.
func (c *Client) RegisterHandler(ch codec.Channel, fn func(*codec.Envelope)) (cancel func()) {
	return c.dispatcher.Register(ch, fn)
}

// WatchCandles subscribes the product's trade stream and returns a channel
// of completed five-minute candles. Heartbeats are subscribed alongside so
// quiet markets do not kill the connection.
func (c *Client) WatchCandles(ctx context.Context, productID string) (<-chan candles.Candle, error) {
	out, err := c.aggregator.Watch(productID)
	if err != nil {
		return nil, err
	}
	c.startTradePump()

	if err := c.Subscribe(ctx, codec.ChannelMarketTrades, []string{productID}); err != nil {
		_ = c.aggregator.Unwatch(productID)
		return nil, err
	}
	if err := c.Subscribe(ctx, codec.ChannelHeartbeats, nil); err != nil {
		_ = c.aggregator.Unwatch(productID)
		return nil, err
	}
	return out, nil
}

// UnwatchCandles ends the product's candle stream, discarding any partial
// candle, and unsubscribes its trade stream. The heartbeats subscription is
// left in place; other watches may rely on it.
func (c *Client) UnwatchCandles(productID string) error {
	if err := c.aggregator.Unwatch(productID); err != nil {
		return err
	}
	return c.Unsubscribe(c.runContext(), codec.ChannelMarketTrades, []string{productID})
}

// Stats returns a snapshot of the quality counters.
func (c *Client) Stats() Stats {
	return Stats{
		SequenceGaps:   c.sequenceGaps.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		DroppedEvents:  c.dispatcher.DroppedTotal(),
		LateDrops:      c.aggregator.LateDrops(),
		DuplicateDrops: c.aggregator.DuplicateDrops(),
	}
}

// onConnected runs on every successful dial, before any frame from the new
// connection is delivered. The desired subscription set is replayed exactly
// once per entry, in first-registration order.
func (c *Client) onConnected(reconnected bool) error {
	if reconnected {
		// Partial candles spanning the gap would understate volume.
		c.aggregator.Reset()
	}
	c.seqMu.Lock()
	c.seqSeen = false
	c.seqMu.Unlock()

	ctx := c.runContext()
	for _, e := range c.registry.SnapshotForReplay() {
		if err := c.sendControl(ctx, codec.ControlSubscribe, e.Channel, e.ProductIDs); err != nil {
			return fmt.Errorf("replay %s subscription: %w", e.Channel, err)
		}
	}
	return nil
}

// onFrame is the single decode and dispatch point, running on the read
// goroutine.
func (c *Client) onFrame(raw []byte) {
	env, err := codec.Decode(raw)
	if err != nil {
		c.decodeErrors.Add(1)
		var malformed *codec.MalformedError
		if errors.As(err, &malformed) {
			c.logger.Warn("malformed frame skipped",
				logging.String("channel", malformed.Channel.String()),
				logging.Error(malformed.Err),
			)
		} else {
			c.logger.Warn("undecodable frame skipped", logging.Error(err))
		}
		return
	}

	c.trackSequence(env)

	if env.Channel == codec.ChannelSubscriptions {
		if events, ok := env.Events.([]codec.SubscriptionsEvent); ok {
			for _, ev := range events {
				for ch, ids := range ev.Subscriptions {
					c.registry.Ack(codec.Channel(ch), ids)
				}
			}
		}
	}

	c.dispatcher.Dispatch(env)
}

func (c *Client) onTerminal(err error) {
	c.logger.Error("connection terminally lost", logging.Error(err))
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// trackSequence flags non-successor sequence numbers. Gaps are counted and
// logged, never acted on: the venue does not offer replay.
func (c *Client) trackSequence(env *codec.Envelope) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if !c.seqSeen {
		c.seqSeen = true
		c.lastSeq = env.SequenceNum
		return
	}
	if env.SequenceNum != c.lastSeq+1 {
		c.sequenceGaps.Add(1)
		c.logger.Debug("sequence gap",
			logging.Uint64("last", c.lastSeq),
			logging.Uint64("got", env.SequenceNum),
			logging.String("channel", env.Channel.String()),
		)
	}
	if env.SequenceNum > c.lastSeq {
		c.lastSeq = env.SequenceNum
	}
}

// startTradePump routes market_trades envelopes into the aggregator through
// a blocking queue: trade loss silently corrupts candles, so backpressure is
// preferred over eviction.
func (c *Client) startTradePump() {
	c.pumpOnce.Do(func() {
		queue, cancel := c.dispatcher.RegisterQueue(codec.ChannelMarketTrades, 256, dispatch.Block)
		done := make(chan struct{})

		c.mu.Lock()
		c.pumpCancel = cancel
		c.pumpDone = done
		c.mu.Unlock()

		go func() {
			for {
				select {
				case env := <-queue:
					c.ingestTrades(env)
				case <-done:
					return
				}
			}
		}()
	})
}

func (c *Client) ingestTrades(env *codec.Envelope) {
	events, ok := env.Events.([]codec.MarketTradesEvent)
	if !ok {
		return
	}
	for _, ev := range events {
		for _, trade := range ev.Trades {
			c.aggregator.Ingest(trade)
		}
	}
}

func (c *Client) sendControl(ctx context.Context, frameType string, ch codec.Channel, productIDs []string) error {
	payload, err := codec.EncodeControl(c.signer, frameType, ch, productIDs, c.clk.Now())
	if err != nil {
		return err
	}
	return c.supervisor.SendControl(ctx, payload)
}

// sendable reports whether a control frame can reach the venue right now.
// When it cannot, desired state is recorded and replayed on reconnect.
func (c *Client) sendable() bool {
	switch c.supervisor.State() {
	case websocket.Live, websocket.Authenticating:
		return true
	}
	return false
}

func (c *Client) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}
