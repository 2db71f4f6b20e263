// Package clock abstracts the time package behind an interface so the
// scheduling-heavy parts of palaver (agent loops, phase timers) can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the time source injected into anything that waits or schedules.
// Production code uses Real(); tests use NewFake().
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After returns a channel that receives once d has elapsed.
	// A non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
	// NewTicker panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. Capacity 1; a slow consumer
// drops ticks rather than queueing them.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	tk := time.NewTicker(d)
	return &Ticker{C: tk.C, stop: tk.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
