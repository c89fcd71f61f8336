// Package subscription tracks which (channel, product set) pairs the caller
// wants against which ones the server has acknowledged. The registry is the
// one piece of state shared between caller-facing subscribe/unsubscribe calls
// and the supervisor's reconnect replay, so every operation is serialized and
// merges are additive: interleavings can never lose an update.
package subscription

import (
	"sort"
	"sync"

	"github.com/veiloq/coinbase-connector/pkg/codec"
)

// State of one registry entry.
type State int

const (
	// Desired means the caller has requested the subscription but the server
	// has not acknowledged it on the current connection.
	Desired State = iota
	// Confirmed means the server acknowledged the subscription. Confirmed
	// status does not survive a reconnect.
	Confirmed
)

func (s State) String() string {
	if s == Confirmed {
		return "confirmed"
	}
	return "desired"
}

// Entry is a replay snapshot of one desired subscription.
type Entry struct {
	Channel    codec.Channel
	ProductIDs []string
}

type entry struct {
	members map[string]struct{}
	order   []string // registration order, for deterministic replay
	state   State
	seq     int
}

// Registry holds the desired and confirmed subscription set. Safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[codec.Channel]*entry
	nextSeq int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[codec.Channel]*entry)}
}

// Subscribe merges productIDs into the channel's desired set and returns the
// ids that were not already present. Subscribing to an already-present subset
// returns nothing and changes nothing. An entry that gains new ids drops back
// to Desired until the server acknowledges again.
func (r *Registry) Subscribe(ch codec.Channel, productIDs []string) (added []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ch]
	if !ok {
		e = &entry{members: make(map[string]struct{}), seq: r.nextSeq}
		r.nextSeq++
		r.entries[ch] = e
	}

	for _, id := range productIDs {
		if _, exists := e.members[id]; exists {
			continue
		}
		e.members[id] = struct{}{}
		e.order = append(e.order, id)
		added = append(added, id)
	}
	if len(added) > 0 {
		e.state = Desired
	}
	return added
}

// Unsubscribe removes productIDs from the channel's entry and returns the ids
// that were actually present. Unknown channels or ids are a no-op, mirroring
// the server's idempotent behavior. An entry whose set becomes empty is
// deleted. Channels registered with no product ids (heartbeats) are deleted
// when unsubscribed with no ids.
func (r *Registry) Unsubscribe(ch codec.Channel, productIDs []string) (removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ch]
	if !ok {
		return nil
	}

	if len(productIDs) == 0 && len(e.members) == 0 {
		delete(r.entries, ch)
		return nil
	}

	for _, id := range productIDs {
		if _, exists := e.members[id]; !exists {
			continue
		}
		delete(e.members, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		e.order = filterOrder(e.order, e.members)
		if len(e.members) == 0 {
			delete(r.entries, ch)
		}
	}
	return removed
}

// Ack marks the channel Confirmed when the acknowledged set covers every
// desired id. A partial acknowledgement leaves the entry Desired.
func (r *Registry) Ack(ch codec.Channel, productIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ch]
	if !ok {
		return
	}
	acked := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		acked[id] = struct{}{}
	}
	for id := range e.members {
		if _, ok := acked[id]; !ok {
			return
		}
	}
	e.state = Confirmed
}

// SnapshotForReplay returns every desired entry in first-registration order
// and resets all entries to Desired: confirmed status never survives a
// reconnect. The supervisor calls this before any post-reconnect event is
// dispatched.
func (r *Registry) SnapshotForReplay() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]codec.Channel, 0, len(r.entries))
	for ch := range r.entries {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		return r.entries[channels[i]].seq < r.entries[channels[j]].seq
	})

	snapshot := make([]Entry, 0, len(channels))
	for _, ch := range channels {
		e := r.entries[ch]
		e.state = Desired
		ids := make([]string, len(e.order))
		copy(ids, e.order)
		snapshot = append(snapshot, Entry{Channel: ch, ProductIDs: ids})
	}
	return snapshot
}

// State returns the entry state for a channel, if one exists.
func (r *Registry) State(ch codec.Channel) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ch]
	if !ok {
		return Desired, false
	}
	return e.state, true
}

// ProductIDs returns the desired product ids for a channel in registration
// order.
func (r *Registry) ProductIDs(ch codec.Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ch]
	if !ok {
		return nil
	}
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	return ids
}

// RequiresAuth reports whether any desired channel needs an authenticated
// control frame.
func (r *Registry) RequiresAuth() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.entries {
		if ch.RequiresAuth() {
			return true
		}
	}
	return false
}

func filterOrder(order []string, members map[string]struct{}) []string {
	kept := order[:0]
	for _, id := range order {
		if _, ok := members[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept
}
