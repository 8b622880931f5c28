package testutil

import (
	"sort"
	"sync"
	"time"

	"vigil/internal/clock"
)

// FakeScheduler is a deterministic clock.Scheduler for tests.
//
// Time never moves on its own: tests call Advance and the scheduler fires
// every timer that came due, in due order, synchronously on the calling
// goroutine. That makes escalation and cooldown behavior exactly
// reproducible - no sleeps, no flakes.
//
// Callbacks run outside the internal lock, so a callback may freely
// schedule or stop timers (components do both on their exit paths).
//
// Thread-safety: all methods are safe for concurrent use, but tests
// typically drive a FakeScheduler from a single goroutine.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*fakeTimer
}

// NewFakeScheduler creates a scheduler frozen at start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{now: start}
}

// Now implements clock.Scheduler.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc implements clock.Scheduler.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) clock.Timer {
	return s.schedule(d, f, 0)
}

// TickEvery implements clock.Scheduler.
func (s *FakeScheduler) TickEvery(d time.Duration, f func()) clock.Timer {
	return s.schedule(d, f, d)
}

// Advance moves the clock forward by d, firing every due timer in due
// order. Timers scheduled by fired callbacks also fire if they come due
// within the same advance.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		t := s.popDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

// Pending returns the number of scheduled, unstopped timers. Tests use it
// to prove that every exit path canceled the timers it owned.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *FakeScheduler) schedule(d time.Duration, f func(), interval time.Duration) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &fakeTimer{
		sched:    s,
		id:       s.nextID,
		due:      s.now.Add(d),
		interval: interval,
		f:        f,
	}
	s.timers = append(s.timers, t)
	return t
}

// popDue removes and returns the earliest timer due at or before target,
// advancing now to its due time. Repeating timers are rescheduled before
// their callback runs. Returns nil when nothing is due.
func (s *FakeScheduler) popDue(target time.Time) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].id < s.timers[j].id
		}
		return s.timers[i].due.Before(s.timers[j].due)
	})

	for i, t := range s.timers {
		if t.due.After(target) {
			continue
		}
		if t.due.After(s.now) {
			s.now = t.due
		}
		if t.interval > 0 {
			next := *t
			next.due = t.due.Add(t.interval)
			s.timers[i] = &next
			t.replaced = &next
		} else {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
		}
		return t
	}
	return nil
}

type fakeTimer struct {
	sched    *FakeScheduler
	id       int
	due      time.Time
	interval time.Duration
	f        func()
	replaced *fakeTimer
}

// Stop implements clock.Timer. Stopping a repeating timer removes its
// current incarnation, whichever reschedule it is on.
func (t *fakeTimer) Stop() bool {
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()

	// Follow reschedules so stopping an old handle still works.
	cur := t
	for cur.replaced != nil {
		cur = cur.replaced
	}

	for i, pending := range s.timers {
		if pending == cur {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}
