// Package dispatch fans decoded envelopes out to per-channel consumers.
// Dispatch runs on the supervisor's read goroutine, so delivery order per
// channel is the arrival order from the wire. Callback consumers run inline;
// queue consumers run on their own goroutines behind bounded channels.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/veiloq/coinbase-connector/pkg/codec"
	"github.com/veiloq/coinbase-connector/pkg/logging"
)

// Policy controls what a full consumer queue does with a new envelope.
type Policy int

const (
	// DropOldest evicts the oldest unconsumed envelope and counts it.
	// The default for consumers that tolerate loss (tickers, book deltas).
	DropOldest Policy = iota
	// Block applies backpressure to the read loop instead of dropping.
	// Used by the candle feed, where a lost trade silently corrupts a
	// candle: added latency is accepted over data loss.
	Block
)

type queue struct {
	ch     chan *codec.Envelope
	done   chan struct{}
	policy Policy
}

// Dispatcher routes envelopes by channel tag. Safe for concurrent
// registration; Dispatch itself is expected to be called from a single
// goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks map[codec.Channel]map[int]func(*codec.Envelope)
	queues    map[codec.Channel]map[int]*queue
	nextID    int

	dropped sync.Map // codec.Channel -> *atomic.Uint64
	logger  logging.Logger
}

func NewDispatcher(logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		callbacks: make(map[codec.Channel]map[int]func(*codec.Envelope)),
		queues:    make(map[codec.Channel]map[int]*queue),
		logger:    logger,
	}
}

// Register adds a callback consumer for a channel. The callback runs on the
// dispatch goroutine; it must not block. The returned cancel removes the
// consumer by the next dispatch cycle at the latest.
func (d *Dispatcher) Register(ch codec.Channel, fn func(*codec.Envelope)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	if d.callbacks[ch] == nil {
		d.callbacks[ch] = make(map[int]func(*codec.Envelope))
	}
	d.callbacks[ch][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.callbacks[ch], id)
	}
}

// RegisterQueue adds a bounded queue consumer for a channel. size must be at
// least 1. Cancelling stops delivery; the channel itself is not closed, the
// caller owns the consuming side and knows when it cancelled.
func (d *Dispatcher) RegisterQueue(ch codec.Channel, size int, policy Policy) (<-chan *codec.Envelope, func()) {
	if size < 1 {
		size = 1
	}
	q := &queue{
		ch:     make(chan *codec.Envelope, size),
		done:   make(chan struct{}),
		policy: policy,
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	if d.queues[ch] == nil {
		d.queues[ch] = make(map[int]*queue)
	}
	d.queues[ch][id] = q
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.queues[ch], id)
			d.mu.Unlock()
			close(q.done)
		})
	}
	return q.ch, cancel
}

// Dispatch routes one envelope to every consumer registered for its channel.
func (d *Dispatcher) Dispatch(env *codec.Envelope) {
	d.mu.RLock()
	var fns []func(*codec.Envelope)
	for _, fn := range d.callbacks[env.Channel] {
		fns = append(fns, fn)
	}
	var qs []*queue
	for _, q := range d.queues[env.Channel] {
		qs = append(qs, q)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
	for _, q := range qs {
		d.push(env, q)
	}
}

func (d *Dispatcher) push(env *codec.Envelope, q *queue) {
	if q.policy == Block {
		select {
		case q.ch <- env:
		case <-q.done:
		}
		return
	}

	select {
	case q.ch <- env:
		return
	case <-q.done:
		return
	default:
	}

	// Queue full: evict the oldest and retry.
	select {
	case <-q.ch:
		d.countDrop(env.Channel)
	default:
	}
	select {
	case q.ch <- env:
	case <-q.done:
	default:
		// Consumer raced us back to full; the new envelope is the casualty.
		d.countDrop(env.Channel)
	}
}

// Dropped returns the number of envelopes dropped for a channel since start.
func (d *Dispatcher) Dropped(ch codec.Channel) uint64 {
	if v, ok := d.dropped.Load(ch); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// DroppedTotal returns the dropped-envelope count summed over all channels.
func (d *Dispatcher) DroppedTotal() uint64 {
	var total uint64
	d.dropped.Range(func(_, v interface{}) bool {
		total += v.(*atomic.Uint64).Load()
		return true
	})
	return total
}

func (d *Dispatcher) countDrop(ch codec.Channel) {
	v, _ := d.dropped.LoadOrStore(ch, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
	d.logger.Debug("dropped oldest envelope", logging.String("channel", ch.String()))
}
