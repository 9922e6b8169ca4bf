package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates submissions so the uploader self-throttles between messages
// regardless of server feedback.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket implements a simple fixed-rate token bucket limiter.
type TokenBucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	stop   chan struct{}
}

// NewTokenBucket returns a limiter that releases one token per interval.
func NewTokenBucket(interval time.Duration) *TokenBucket {
	if interval <= 0 {
		interval = time.Second
	}
	tb := &TokenBucket{
		ticker: time.NewTicker(interval),
		tokens: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

// run refills the bucket until Stop closes the stop channel. Ticker.Stop
// never closes the tick channel, so ranging over it would leak this
// goroutine and wedge Stop.
func (t *TokenBucket) run() {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter. It must be called exactly
// once.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
}

var _ Limiter = (*TokenBucket)(nil)
