package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/coinbase-connector/pkg/codec"
	"github.com/veiloq/coinbase-connector/pkg/logging"
)

func setupVenue(t *testing.T) *MockVenue {
	t.Helper()
	venue := NewMockVenue()
	t.Cleanup(venue.Close)
	return venue
}

// frameSink collects OnFrame payloads from the supervisor goroutine.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *frameSink) add(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(raw))
	copy(buf, raw)
	f.frames = append(f.frames, buf)
}

func (f *frameSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		LivenessWindow: 5 * time.Second,
		PingInterval:   time.Second,
		Backoff: BackoffPolicy{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    50 * time.Millisecond,
			MaxAttempts: 5,
		},
		Logger: logging.NewNop(),
	}
}

func TestSupervisorConnectAndReceive(t *testing.T) {
	venue := setupVenue(t)
	sink := &frameSink{}

	s := NewSupervisor(testConfig(venue.URL()), Hooks{OnFrame: sink.add})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, Live, s.State())

	venue.BroadcastEnvelope("ticker", []map[string]interface{}{
		{"type": "update", "tickers": []map[string]interface{}{}},
	})

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	env, err := codec.Decode(sink.frames[0])
	require.NoError(t, err)
	assert.Equal(t, codec.ChannelTicker, env.Channel)
	assert.GreaterOrEqual(t, s.GetMetrics().Frames, uint64(1))
}

func TestSupervisorSendControl(t *testing.T) {
	venue := setupVenue(t)
	sink := &frameSink{}

	s := NewSupervisor(testConfig(venue.URL()), Hooks{OnFrame: sink.add})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	payload, err := json.Marshal(codec.ControlFrame{
		Type:       codec.ControlSubscribe,
		Channel:    "ticker",
		ProductIDs: []string{"BTC-USD"},
		Timestamp:  "1714554000",
		Signature:  "sig",
	})
	require.NoError(t, err)
	require.NoError(t, s.SendControl(context.Background(), payload))

	// The venue records the frame and acks with its subscription map.
	require.Eventually(t, func() bool { return len(venue.ControlFrames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	frame := venue.ControlFrames()[0]
	assert.Equal(t, codec.ControlSubscribe, frame.Type)
	assert.Equal(t, []string{"BTC-USD"}, frame.ProductIDs)

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	env, err := codec.Decode(sink.frames[0])
	require.NoError(t, err)
	assert.Equal(t, codec.ChannelSubscriptions, env.Channel)
}

func TestSendControlWhenDisconnected(t *testing.T) {
	venue := setupVenue(t)
	s := NewSupervisor(testConfig(venue.URL()), Hooks{})
	assert.ErrorIs(t, s.SendControl(context.Background(), []byte("{}")), ErrNotConnected)
}

func TestSupervisorReconnects(t *testing.T) {
	venue := setupVenue(t)

	var mu sync.Mutex
	var connects []bool
	hooks := Hooks{
		OnConnected: func(reconnected bool) error {
			mu.Lock()
			defer mu.Unlock()
			connects = append(connects, reconnected)
			return nil
		},
	}

	s := NewSupervisor(testConfig(venue.URL()), hooks)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	venue.DropConnections()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connects) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{false, true}, connects)
	mu.Unlock()

	require.Eventually(t, func() bool { return s.State() == Live }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), s.GetMetrics().Reconnects)
}

func TestSupervisorTerminalAfterBudget(t *testing.T) {
	venue := setupVenue(t)

	terminal := make(chan error, 1)
	s := NewSupervisor(testConfig(venue.URL()), Hooks{
		OnTerminal: func(err error) { terminal <- err },
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// No server to come back to.
	venue.SetRejectConnections(true)
	venue.DropConnections()

	select {
	case err := <-terminal:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal hook never fired")
	}
	assert.Equal(t, Disconnected, s.State())
}

func TestStopDisablesReconnect(t *testing.T) {
	venue := setupVenue(t)

	s := NewSupervisor(testConfig(venue.URL()), Hooks{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	assert.Equal(t, Disconnected, s.State())

	require.Eventually(t, func() bool { return venue.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// No new connection appears.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, venue.ConnectionCount())

	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestStartFailsWhenVenueRejects(t *testing.T) {
	venue := setupVenue(t)
	venue.SetRejectConnections(true)

	s := NewSupervisor(testConfig(venue.URL()), Hooks{})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, Disconnected, s.State())
}

func TestConnectedHookErrorAbandonsConnection(t *testing.T) {
	venue := setupVenue(t)

	cfg := testConfig(venue.URL())
	s := NewSupervisor(cfg, Hooks{
		OnConnected: func(bool) error { return assert.AnError },
	})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, Disconnected, s.State())
}
