// Package candles derives fixed-granularity OHLCV candles from the raw
// market-trades stream. One watch session exists per product under watch; a
// session owns exactly one current candle and a bounded trailing window of
// seen trade ids for de-duplication.
//
// A candle is emitted when a trade belonging to a later bucket arrives, or
// when the idle timer flushes a partial candle after a quiet period longer
// than a full granularity bucket. Buckets with zero trades are never
// synthesized. Late trades for an already-emitted bucket are counted and
// dropped: an emitted candle is immutable.
package candles

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/veiloq/coinbase-connector/pkg/codec"
	"github.com/veiloq/coinbase-connector/pkg/logging"
)

// Granularity is the candle bucket width. Fixed by the venue at five
// minutes; not caller-configurable.
const Granularity = 5 * time.Minute

var (
	// ErrAlreadyWatching is returned when a watch already exists for the
	// product.
	ErrAlreadyWatching = errors.New("product already under candle watch")
	// ErrNotWatching is returned when unwatching a product with no session.
	ErrNotWatching = errors.New("product not under candle watch")
)

// Candle is one completed (or idle-flushed) OHLCV bucket.
type Candle struct {
	ProductID string
	// Start is the bucket boundary, aligned to Granularity, UTC.
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Config for an Aggregator. Zero values get defaults.
type Config struct {
	// Clock is injected for tests; defaults to the wall clock.
	Clock clock.Clock
	// IdleTimeout is the quiet period after which a partial candle is
	// flushed. Defaults to one granularity bucket plus one minute so a
	// normally-paced bucket is never flushed early.
	IdleTimeout time.Duration
	// DedupWindow is how many trailing trade ids each session remembers.
	DedupWindow int
	// Buffer is the capacity of each watch output channel.
	Buffer int

	Logger logging.Logger
}

type session struct {
	productID string
	out       chan Candle
	done      chan struct{}

	current *Candle

	// Trailing trade-id window. seenRing is circular once full.
	seen     map[string]struct{}
	seenRing []string
	seenHead int

	lastActivity time.Time

	// sendMu serializes candle emission against channel close on unwatch.
	sendMu sync.Mutex
	closed bool
}

// Aggregator turns trade ticks into completed candles, one state machine per
// watched product.
type Aggregator struct {
	mu       sync.Mutex
	sessions map[string]*session

	clock       clock.Clock
	idleTimeout time.Duration
	dedupWindow int
	buffer      int
	logger      logging.Logger

	lateDrops      atomic.Uint64
	duplicateDrops atomic.Uint64
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = Granularity + time.Minute
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 1024
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Aggregator{
		sessions:    make(map[string]*session),
		clock:       cfg.Clock,
		idleTimeout: cfg.IdleTimeout,
		dedupWindow: cfg.DedupWindow,
		buffer:      cfg.Buffer,
		logger:      cfg.Logger,
	}
}

// Watch opens a session for the product and returns its candle stream. The
// stream ends when Unwatch is called; a partial candle at that point is
// discarded without emission.
func (a *Aggregator) Watch(productID string) (<-chan Candle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.sessions[productID]; exists {
		return nil, ErrAlreadyWatching
	}
	s := &session{
		productID:    productID,
		out:          make(chan Candle, a.buffer),
		done:         make(chan struct{}),
		seen:         make(map[string]struct{}),
		lastActivity: a.clock.Now(),
	}
	a.sessions[productID] = s

	go a.idleLoop(s)
	return s.out, nil
}

// Unwatch ends the product's candle stream. Any partial candle is discarded.
func (a *Aggregator) Unwatch(productID string) error {
	a.mu.Lock()
	s, ok := a.sessions[productID]
	if !ok {
		a.mu.Unlock()
		return ErrNotWatching
	}
	delete(a.sessions, productID)
	a.mu.Unlock()

	// Unblock any in-flight emission before closing the stream.
	close(s.done)
	s.sendMu.Lock()
	s.closed = true
	close(s.out)
	s.sendMu.Unlock()
	return nil
}

// Ingest processes one trade tick. Trades for products without a watch
// session are ignored.
func (a *Aggregator) Ingest(trade codec.Trade) {
	a.mu.Lock()
	s, ok := a.sessions[trade.ProductID]
	if !ok {
		a.mu.Unlock()
		return
	}

	if _, dup := s.seen[trade.TradeID]; dup {
		a.mu.Unlock()
		a.duplicateDrops.Add(1)
		return
	}
	s.remember(trade.TradeID, a.dedupWindow)
	s.lastActivity = a.clock.Now()

	bucket := trade.Time.UTC().Truncate(Granularity)

	var completed *Candle
	switch {
	case s.current == nil:
		s.current = openCandle(trade, bucket)

	case bucket.Equal(s.current.Start):
		s.current.High = decimal.Max(s.current.High, trade.Price)
		s.current.Low = decimal.Min(s.current.Low, trade.Price)
		// Close is last-arrival, not last-timestamp.
		s.current.Close = trade.Price
		s.current.Volume = s.current.Volume.Add(trade.Size)

	case bucket.After(s.current.Start):
		done := *s.current
		completed = &done
		s.current = openCandle(trade, bucket)

	default:
		// The trade's bucket was already finalized and emitted.
		a.mu.Unlock()
		a.lateDrops.Add(1)
		a.logger.Debug("late trade dropped",
			logging.String("product_id", trade.ProductID),
			logging.String("trade_id", trade.TradeID),
			logging.Time("bucket", bucket),
		)
		return
	}
	a.mu.Unlock()

	if completed != nil {
		a.emit(s, *completed)
	}
}

// Reset discards all partial candles and de-duplication state without
// emitting. Called at a reconnect boundary: the stream on either side of the
// gap is a different watch session, and a candle spanning the gap would
// understate its volume.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		s.current = nil
		s.seen = make(map[string]struct{})
		s.seenRing = nil
		s.seenHead = 0
		s.lastActivity = a.clock.Now()
	}
}

// LateDrops returns how many trades arrived for buckets already emitted.
func (a *Aggregator) LateDrops() uint64 { return a.lateDrops.Load() }

// DuplicateDrops returns how many trades were discarded as duplicates.
func (a *Aggregator) DuplicateDrops() uint64 { return a.duplicateDrops.Load() }

func openCandle(trade codec.Trade, bucket time.Time) *Candle {
	return &Candle{
		ProductID: trade.ProductID,
		Start:     bucket,
		Open:      trade.Price,
		High:      trade.Price,
		Low:       trade.Price,
		Close:     trade.Price,
		Volume:    trade.Size,
	}
}

func (a *Aggregator) emit(s *session, c Candle) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	// Never drop a candle: block until the consumer takes it or the
	// session is unwatched.
	select {
	case s.out <- c:
	case <-s.done:
	}
}

// idleLoop flushes the current partial candle after a quiet period so
// consumers are not stalled waiting for trades that may never come.
func (a *Aggregator) idleLoop(s *session) {
	timer := a.clock.Timer(a.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			a.idleFlush(s)
			timer.Reset(a.idleTimeout)
		case <-s.done:
			return
		}
	}
}

func (a *Aggregator) idleFlush(s *session) {
	a.mu.Lock()
	if s.current == nil || a.clock.Now().Sub(s.lastActivity) < a.idleTimeout {
		a.mu.Unlock()
		return
	}
	c := *s.current
	s.current = nil
	a.mu.Unlock()

	a.logger.Debug("idle flush",
		logging.String("product_id", s.productID),
		logging.Time("bucket", c.Start),
	)
	a.emit(s, c)
}

func (s *session) remember(tradeID string, window int) {
	if len(s.seenRing) < window {
		s.seenRing = append(s.seenRing, tradeID)
	} else {
		delete(s.seen, s.seenRing[s.seenHead])
		s.seenRing[s.seenHead] = tradeID
		s.seenHead = (s.seenHead + 1) % window
	}
	s.seen[tradeID] = struct{}{}
}
