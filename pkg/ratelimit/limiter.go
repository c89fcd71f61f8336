// Package ratelimit paces outbound requests to the venue. The Advanced Trade
// API enforces separate budgets for REST calls and WebSocket control frames;
// exceeding either gets the connection throttled or the IP banned, so every
// outbound path in the connector takes a token from one of these limiters
// before touching the wire.
//
// The implementation wraps Uber's token bucket limiter behind a small
// interface so tests can substitute an unlimited limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Venue rate limits, per the Advanced Trade API documentation.
const (
	// RESTRequestsPerSecond is the per-key budget for signed REST calls.
	RESTRequestsPerSecond = 30
	// WebSocketFramesPerSecond is the budget for outbound control frames.
	WebSocketFramesPerSecond = 750
)

// Rate is a limit of Limit operations per Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// RateLimiter blocks callers until an operation is permitted.
type RateLimiter interface {
	// Wait blocks until a token is available or the context is cancelled.
	Wait(ctx context.Context) error
}

// NewTokenBucketLimiter creates a token-bucket limiter for the given rate.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	rps := float64(rate.Limit) / rate.Interval.Seconds()
	return &uberLimiter{limiter: ratelimit.New(int(rps))}
}

// NewRESTLimiter returns a limiter configured for the venue's REST budget.
func NewRESTLimiter() RateLimiter {
	return NewTokenBucketLimiter(Rate{Limit: RESTRequestsPerSecond, Interval: time.Second})
}

// NewWebSocketLimiter returns a limiter configured for the venue's control
// frame budget.
func NewWebSocketLimiter() RateLimiter {
	return NewTokenBucketLimiter(Rate{Limit: WebSocketFramesPerSecond, Interval: time.Second})
}

type uberLimiter struct {
	limiter ratelimit.Limiter
}

func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// Unlimited returns a limiter that never blocks. Tests use it to keep the
// control frame path free of pacing delays.
func Unlimited() RateLimiter {
	return unlimited{}
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
