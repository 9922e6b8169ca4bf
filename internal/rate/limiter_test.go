package rate

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketFirstWaitImmediate(t *testing.T) {
	tb := NewTokenBucket(time.Hour)
	defer tb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait should not block: %v", err)
	}
}

func TestTokenBucketWaitCanceled(t *testing.T) {
	tb := NewTokenBucket(time.Hour)
	defer tb.Stop()

	// Drain the initial token so the next Wait blocks.
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatal("wait on canceled context should fail")
	}
}

func TestTokenBucketStopReturns(t *testing.T) {
	tb := NewTokenBucket(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		tb.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; refill goroutine leaked")
	}
}
