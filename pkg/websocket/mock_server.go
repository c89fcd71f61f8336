package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/veiloq/coinbase-connector/pkg/codec"
)

// MockVenue is an in-process stand-in for the venue's streaming endpoint,
// backed by httptest. It understands subscribe/unsubscribe control frames,
// tracks per-connection subscription state, and acknowledges with a
// subscriptions envelope the way the real venue does.
type MockVenue struct {
	server *httptest.Server
	url    string

	mu            sync.Mutex
	conns         map[*websocket.Conn]map[string]map[string]struct{} // conn -> channel -> product set
	writeMus      map[*websocket.Conn]*sync.Mutex
	controlFrames []codec.ControlFrame
	seq           uint64

	rejectConnections bool
	autoAck           bool
}

func NewMockVenue() *MockVenue {
	m := &MockVenue{
		conns:    make(map[*websocket.Conn]map[string]map[string]struct{}),
		writeMus: make(map[*websocket.Conn]*sync.Mutex),
		autoAck:  true,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleConnection))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// address of the mock venue.
func (m *MockVenue) URL() string { return m.url }

// Close shuts the venue down, dropping all connections.
func (m *MockVenue) Close() { m.server.Close() }

// SetRejectConnections makes the handshake fail for new connections.
func (m *MockVenue) SetRejectConnections(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectConnections = reject
}

// SetAutoAck controls whether subscribe frames are acknowledged.
func (m *MockVenue) SetAutoAck(ack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoAck = ack
}

// DropConnections severs all live connections without closing the server,
// forcing clients into their reconnect path.
func (m *MockVenue) DropConnections() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// ConnectionCount returns the number of live connections.
func (m *MockVenue) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ControlFrames returns a copy of every control frame received, across all
// connections, in arrival order.
func (m *MockVenue) ControlFrames() []codec.ControlFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([]codec.ControlFrame, len(m.controlFrames))
	copy(frames, m.controlFrames)
	return frames
}

// Broadcast sends a raw frame to every live connection.
func (m *MockVenue) Broadcast(payload []byte) {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		m.write(c, payload)
	}
}

// BroadcastEnvelope marshals events into a channel envelope with the next
// sequence number and broadcasts it.
func (m *MockVenue) BroadcastEnvelope(channel string, events interface{}) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	payload, err := json.Marshal(map[string]interface{}{
		"channel":      channel,
		"timestamp":    "2024-05-01T09:00:00Z",
		"sequence_num": seq,
		"events":       events,
	})
	if err != nil {
		return
	}
	m.Broadcast(payload)
}

func (m *MockVenue) handleConnection(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectConnections
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conns[conn] = make(map[string]map[string]struct{})
	m.writeMus[conn] = &sync.Mutex{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		delete(m.writeMus, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := codec.DecodeControl(payload)
		if err != nil {
			continue
		}
		m.applyControl(conn, *frame)
	}
}

func (m *MockVenue) applyControl(conn *websocket.Conn, frame codec.ControlFrame) {
	m.mu.Lock()
	m.controlFrames = append(m.controlFrames, frame)

	subs, tracked := m.conns[conn]
	if !tracked {
		m.mu.Unlock()
		return
	}
	switch frame.Type {
	case codec.ControlSubscribe:
		set := subs[string(frame.Channel)]
		if set == nil {
			set = make(map[string]struct{})
			subs[string(frame.Channel)] = set
		}
		for _, id := range frame.ProductIDs {
			set[id] = struct{}{}
		}
	case codec.ControlUnsubscribe:
		set := subs[string(frame.Channel)]
		for _, id := range frame.ProductIDs {
			delete(set, id)
		}
		if len(frame.ProductIDs) == 0 || len(set) == 0 {
			delete(subs, string(frame.Channel))
		}
	}

	ack := m.autoAck
	var payload []byte
	if ack {
		// The venue acknowledges with the connection's full subscription
		// map, not just the delta.
		snapshot := make(map[string][]string, len(subs))
		for ch, set := range subs {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				ids = []string{ch}
			}
			snapshot[ch] = ids
		}
		m.seq++
		payload, _ = json.Marshal(map[string]interface{}{
			"channel":      "subscriptions",
			"timestamp":    "2024-05-01T09:00:00Z",
			"sequence_num": m.seq,
			"events":       []map[string]interface{}{{"subscriptions": snapshot}},
		})
	}
	m.mu.Unlock()

	if ack {
		m.write(conn, payload)
	}
}

func (m *MockVenue) write(conn *websocket.Conn, payload []byte) {
	m.mu.Lock()
	wm := m.writeMus[conn]
	m.mu.Unlock()
	if wm == nil {
		return
	}
	wm.Lock()
	defer wm.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}
