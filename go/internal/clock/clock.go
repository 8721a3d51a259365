// Package clock supplies timestamps and single-shot delayed callbacks.
// In production, use Real(). In tests, a clockwork.FakeClock.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the interface we use for time operations.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Handle is a pending single-shot callback.
type Handle struct {
	timer clockwork.Timer
	done  chan struct{}
	once  sync.Once
}

// Schedule runs fn once after d, unless ctx is cancelled or the handle is
// stopped first. Stop and expiry race; whichever wins decides whether fn
// runs. A callback that has already started is not interrupted, so fn must
// re-check whatever state it acts on.
func Schedule(ctx context.Context, clk Clock, d time.Duration, fn func()) *Handle {
	h := &Handle{
		timer: clk.NewTimer(d),
		done:  make(chan struct{}),
	}

	go func() {
		select {
		case <-h.timer.Chan():
			fire := false
			h.once.Do(func() {
				fire = true
				close(h.done)
			})
			if fire {
				fn()
			}
		case <-h.done:
			StopAndDrain(h.timer)
		case <-ctx.Done():
			h.Stop()
		}
	}()

	return h
}

// Stop cancels the callback. It returns false if the callback already fired
// or the handle was stopped before.
func (h *Handle) Stop() bool {
	if h == nil {
		return false
	}
	stopped := false
	h.once.Do(func() {
		stopped = h.timer.Stop()
		close(h.done)
	})
	return stopped
}

// StopAndDrain stops a timer and drains its channel so a pending value
// cannot be observed later.
func StopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
