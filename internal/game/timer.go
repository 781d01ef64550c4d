package game

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

// Timer runs onExpire once after a duration unless cancelled first. It backs
// both the session time limit and the reconnect grace period.
type Timer struct {
	Label     string
	StartTime time.Time
	Duration  time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	fired    bool
	canceled bool
}

// StartTimer arms a timer. onExpire runs on its own goroutine so it may take
// any lock, including the one held by whoever armed the timer.
func StartTimer(label string, duration time.Duration, onExpire func()) *Timer {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t := &Timer{
		Label:     label,
		StartTime: time.Now(),
		Duration:  duration,
		ctx:       ctx,
		cancel:    cancel,
	}
	log.Printf("[StartTimer] %s: armed for %v", label, duration)

	go func() {
		<-ctx.Done()
		if ctx.Err() != context.DeadlineExceeded {
			log.Printf("[StartTimer] %s: cancelled before expiry", label)
			return
		}

		t.mu.Lock()
		if t.canceled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()

		log.Printf("[StartTimer] %s: expired after %v", label, duration)
		onExpire()
	}()
	return t
}

// Cancel stops the timer. It reports false if the timer had already fired.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.canceled = true
	t.cancel()
	return true
}

// Remaining is the time left before expiry, never negative.
func (t *Timer) Remaining() time.Duration {
	if t == nil {
		return 0
	}
	return max(t.Duration-time.Since(t.StartTime), 0)
}

// Active reports whether the timer is still counting down.
func (t *Timer) Active() bool {
	return t != nil && t.ctx.Err() == nil
}
