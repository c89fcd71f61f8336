package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: 10,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(20))
}

func TestBackoffJitterBounds(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFraction: 0.5,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 300*time.Millisecond)
	}
}

func TestDefaultBackoff(t *testing.T) {
	p := DefaultBackoff()
	assert.Equal(t, uint(10), p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}
