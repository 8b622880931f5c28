// Package clock abstracts wall-clock time and cancelable timers.
//
// Engine components never touch the time package directly. They take a
// Scheduler so tests can drive time deterministically (see
// internal/testutil.FakeScheduler) while production uses Wall.
//
// Every timer handed out is cancelable, and Stop is safe to call any
// number of times, including after the timer fired. Callers are expected
// to stop every timer they own on every exit path; storing handles beside
// the entries they belong to is the engine-wide convention for that.
package clock

import (
	"sync"
	"time"
)

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Idempotent; returns true if this call
	// prevented a pending fire.
	Stop() bool
}

// Scheduler provides current time, one-shot delays, and repeating ticks.
//
// Callbacks fire on their own goroutine for the wall implementation;
// components guard their state with a mutex accordingly.
type Scheduler interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run once after d.
	AfterFunc(d time.Duration, f func()) Timer

	// TickEvery schedules f to run every d until the timer is stopped.
	TickEvery(d time.Duration, f func()) Timer
}

// Wall is the production Scheduler backed by the time package.
type Wall struct{}

// NewWall returns the wall-clock scheduler.
func NewWall() Wall {
	return Wall{}
}

// Now implements Scheduler.
func (Wall) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Scheduler.
func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return wallTimer{t: time.AfterFunc(d, f)}
}

// TickEvery implements Scheduler.
func (Wall) TickEvery(d time.Duration, f func()) Timer {
	t := &wallTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type wallTimer struct {
	t *time.Timer
}

func (w wallTimer) Stop() bool {
	return w.t.Stop()
}

type wallTicker struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (w *wallTicker) Stop() bool {
	stopped := false
	w.once.Do(func() {
		w.ticker.Stop()
		close(w.done)
		stopped = true
	})
	return stopped
}
