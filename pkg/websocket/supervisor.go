// Package websocket supervises a single connection to the venue's streaming
// endpoint: dialing, liveness via read deadlines and pings, and reconnection
// with capped exponential backoff. The supervisor owns exactly one read
// goroutine, so frames reach the OnFrame hook in wire arrival order.
//
// The supervisor knows nothing about channels or subscriptions; the caller
// replays its desired state from the OnConnected hook, which runs before any
// frame from the new connection is delivered.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/veiloq/coinbase-connector/pkg/logging"
	"github.com/veiloq/coinbase-connector/pkg/ratelimit"
)

var (
	// ErrNotConnected is returned by SendControl when no usable connection
	// exists.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrConnectionLost is the terminal error after the reconnect budget is
	// exhausted.
	ErrConnectionLost = errors.New("websocket connection lost")
	// ErrClosed is returned when operating on a stopped supervisor.
	ErrClosed = errors.New("websocket supervisor closed")
)

// State of the supervised connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Live
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Config holds connection parameters.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	// LivenessWindow is the read deadline: a connection that delivers no
	// frame or pong within the window is considered dead.
	LivenessWindow time.Duration
	PingInterval   time.Duration
	Backoff        BackoffPolicy

	// Limiter paces outbound control frames. nil means unpaced.
	Limiter ratelimit.RateLimiter
	// Clock is injected for tests; defaults to the wall clock.
	Clock  clock.Clock
	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.LivenessWindow / 3
	}
	if c.Backoff.BaseDelay <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
}

// Hooks are the supervisor's upcalls. All run on supervisor goroutines.
type Hooks struct {
	// OnConnected runs after every successful dial, before any frame from
	// the new connection is delivered. A non-nil error abandons the
	// connection and counts as a failed attempt.
	OnConnected func(reconnected bool) error
	// OnFrame receives each raw text frame in arrival order.
	OnFrame func(raw []byte)
	// OnTerminal runs once when the reconnect budget is exhausted.
	OnTerminal func(err error)
}

// Metrics holds connection statistics.
type Metrics struct {
	ConnectedAt time.Time
	Frames      uint64
	Reconnects  uint64
	Errors      uint64
}

// Supervisor manages one venue connection across its reconnect lifecycle.
type Supervisor struct {
	cfg   Config
	hooks Hooks

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool

	stop     chan struct{}
	stopOnce sync.Once

	state   atomic.Int32
	writeMu sync.Mutex

	metricsMu sync.RWMutex
	metrics   Metrics

	logger logging.Logger
}

func NewSupervisor(cfg Config, hooks Hooks) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		hooks:  hooks,
		stop:   make(chan struct{}),
		logger: cfg.Logger,
	}
}

// Start dials the venue and begins supervising. It returns once the first
// connection is live, or with the dial error if the initial attempt fails.
// ctx governs the supervisor's whole lifetime, not just the dial.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.state.Store(int32(Connecting))
	if err := s.connect(ctx, false); err != nil {
		s.state.Store(int32(Disconnected))
		return err
	}
	return nil
}

// Stop closes the connection and disables reconnection. Idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopped = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.state.Store(int32(Disconnected))
	return nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// GetMetrics returns a copy of the connection statistics.
func (s *Supervisor) GetMetrics() Metrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	return s.metrics
}

// SendControl writes one control frame, paced by the configured limiter.
// Sends are allowed while authenticating so the connected hook can replay
// subscriptions before the state goes live.
func (s *Supervisor) SendControl(ctx context.Context, payload []byte) error {
	switch s.State() {
	case Authenticating, Live:
	default:
		return ErrNotConnected
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.countError()
		return fmt.Errorf("write control frame: %w", err)
	}
	return nil
}

func (s *Supervisor) connect(ctx context.Context, reconnected bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.countError()
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.LivenessWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.LivenessWindow))
	})

	s.state.Store(int32(Authenticating))
	if s.hooks.OnConnected != nil {
		if err := s.hooks.OnConnected(reconnected); err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			_ = conn.Close()
			s.countError()
			return fmt.Errorf("connected hook: %w", err)
		}
	}
	s.state.Store(int32(Live))

	s.metricsMu.Lock()
	s.metrics.ConnectedAt = time.Now()
	if reconnected {
		s.metrics.Reconnects++
	}
	s.metricsMu.Unlock()

	s.logger.Info("websocket connected",
		logging.String("url", s.cfg.URL),
		logging.Bool("reconnected", reconnected),
	)

	done := make(chan struct{})
	go s.readLoop(ctx, conn, done)
	go s.pingLoop(conn, done)
	return nil
}

// readLoop is the single reader. Frame order here is delivery order for the
// whole client.
func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read error", logging.Error(err))
				s.countError()
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.LivenessWindow))

		s.metricsMu.Lock()
		s.metrics.Frames++
		s.metricsMu.Unlock()

		if s.hooks.OnFrame != nil {
			s.hooks.OnFrame(raw)
		}
	}

	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	intentional := s.stopped
	s.mu.Unlock()

	if intentional || ctx.Err() != nil {
		s.state.Store(int32(Disconnected))
		return
	}
	go s.reconnect(ctx)
}

func (s *Supervisor) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := s.cfg.Clock.Ticker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) {
	s.state.Store(int32(Reconnecting))
	s.logger.Info("connection lost, reconnecting")

	err := retry.Do(
		func() error {
			select {
			case <-s.stop:
				return retry.Unrecoverable(ErrClosed)
			default:
			}
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return s.connect(ctx, true)
		},
		retry.Attempts(s.cfg.Backoff.MaxAttempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return s.cfg.Backoff.Delay(n)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("reconnection attempt failed",
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		s.state.Store(int32(Disconnected))
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return
		}
		s.logger.Error("reconnection budget exhausted", logging.Error(err))
		if s.hooks.OnTerminal != nil {
			s.hooks.OnTerminal(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		}
	}
}

func (s *Supervisor) countError() {
	s.metricsMu.Lock()
	s.metrics.Errors++
	s.metricsMu.Unlock()
}
