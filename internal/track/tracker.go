// Package track watches wall-clock time expectations for in-flight
// operations and escalates when they run late.
//
// Escalation is monotonic per operation: NONE -> WARNING -> TIMEOUT, and
// TIMEOUT is terminal. Both escalation timers are stored on the entry
// they belong to and stopped on every exit path - natural completion,
// cancel, and retry all release them. A dangling timer firing after its
// entry was removed is the defect class this package guards against.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/clock"
	"vigil/internal/def"
)

// Level is the escalation severity of a tracked operation's lateness.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelTimeout
)

// String returns "NONE", "WARNING" or "TIMEOUT".
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelWarning:
		return "WARNING"
	case LevelTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Notice is an escalation surfaced to the host when an operation crosses
// its warning or timeout offset.
type Notice struct {
	OperationID string
	Kind        string
	Level       Level

	// Elapsed is wall-clock time since tracking started.
	Elapsed time.Duration

	// Label is the profile's human-readable operation name.
	Label string

	// CanRetry / CanCancel report which affordances the caller supplied.
	CanRetry  bool
	CanCancel bool
}

// Notifier receives escalation notices. Implementations must not block;
// the tracker calls Notify outside its lock, so re-entrant calls back
// into the tracker are allowed.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Options carries the per-operation hooks supplied at StartTracking.
type Options struct {
	// Abort interrupts the underlying work (e.g. cancels its context).
	// Called by CancelOperation before OnCancel. Optional.
	Abort func()

	// OnCancel runs after the operation is canceled. Optional.
	OnCancel func()

	// OnRetry runs after CancelOperation-style cleanup when the caller
	// retries. Retry does not restart tracking; the retried attempt
	// calls StartTracking again. Optional.
	OnRetry func()
}

// ErrAlreadyTracked is returned when StartTracking reuses a live id.
// Operation ids are owned by their caller; two writers must never share one.
var ErrAlreadyTracked = errors.New("operation id is already being tracked")

type operation struct {
	id        string
	kind      string
	profile   def.TimeProfile
	startedAt time.Time
	level     Level
	opts      Options

	// Timer handles owned by this entry. Stored here, not in a side
	// table, so no exit path can forget them.
	warnTimer    clock.Timer
	timeoutTimer clock.Timer
}

// Tracker maps operation ids to their time expectations and schedules
// escalation callbacks.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	registry *def.Registry
	sched    clock.Scheduler
	notifier Notifier
	logger   *slog.Logger

	mu  sync.Mutex
	ops map[string]*operation
}

// New creates a tracker. notifier and logger may be nil.
func New(registry *def.Registry, sched clock.Scheduler, notifier Notifier, logger *slog.Logger) *Tracker {
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		registry: registry,
		sched:    sched,
		notifier: notifier,
		logger:   logger,
		ops:      make(map[string]*operation),
	}
}

// StartTracking begins watching an operation under the profile for its
// kind (falling back to the registry's default profile). Warning and
// timeout callbacks are scheduled per the profile's offsets.
func (t *Tracker) StartTracking(operationID, kind string, opts Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.ops[operationID]; exists {
		return fmt.Errorf("start tracking %q: %w", operationID, ErrAlreadyTracked)
	}

	profile := t.registry.Profile(kind)
	op := &operation{
		id:        operationID,
		kind:      kind,
		profile:   profile,
		startedAt: t.sched.Now(),
		level:     LevelNone,
		opts:      opts,
	}

	if profile.Warning > 0 {
		op.warnTimer = t.sched.AfterFunc(profile.Warning, func() {
			t.Escalate(operationID, LevelWarning)
		})
	}
	if profile.Timeout > 0 {
		op.timeoutTimer = t.sched.AfterFunc(profile.Timeout, func() {
			t.Escalate(operationID, LevelTimeout)
		})
	}

	t.ops[operationID] = op
	t.logger.Debug("tracking started", "operation", operationID, "kind", kind)
	return nil
}

// Escalate raises the operation's escalation level and surfaces a notice.
//
// No-op when the operation is gone, when the level would not increase,
// or once TIMEOUT (terminal) has been reached.
func (t *Tracker) Escalate(operationID string, level Level) {
	t.mu.Lock()
	op, ok := t.ops[operationID]
	if !ok || op.level == LevelTimeout || level <= op.level {
		t.mu.Unlock()
		return
	}
	op.level = level
	notice := Notice{
		OperationID: op.id,
		Kind:        op.kind,
		Level:       level,
		Elapsed:     t.sched.Now().Sub(op.startedAt),
		Label:       op.profile.Label,
		CanRetry:    op.opts.OnRetry != nil,
		CanCancel:   op.opts.Abort != nil || op.opts.OnCancel != nil,
	}
	t.mu.Unlock()

	t.logger.Debug("operation escalated", "operation", notice.OperationID, "level", level.String(), "elapsed", notice.Elapsed)
	t.notifier.Notify(notice)
}

// CompleteTracking stops both escalation timers unconditionally and
// removes the entry. Completing an untracked id is a no-op.
func (t *Tracker) CompleteTracking(operationID string) {
	op := t.take(operationID)
	if op == nil {
		return
	}
	op.stopTimers()
	t.logger.Debug("tracking completed", "operation", operationID)
}

// CancelOperation interrupts the operation via its abort hook, runs its
// OnCancel callback, and releases tracking. Canceling an untracked id is
// a no-op; the hooks run at most once.
func (t *Tracker) CancelOperation(operationID string) {
	op := t.take(operationID)
	if op == nil {
		return
	}
	op.stopTimers()

	if op.opts.Abort != nil {
		op.opts.Abort()
	}
	if op.opts.OnCancel != nil {
		op.opts.OnCancel()
	}
	t.logger.Debug("operation canceled", "operation", operationID)
}

// RetryOperation releases tracking first, then invokes the retry hook.
// The retried attempt is a new operation: its caller starts tracking
// again with a fresh call to StartTracking.
func (t *Tracker) RetryOperation(operationID string) {
	op := t.take(operationID)
	if op == nil {
		return
	}
	op.stopTimers()

	if op.opts.OnRetry != nil {
		op.opts.OnRetry()
	}
	t.logger.Debug("operation retried", "operation", operationID)
}

// take atomically removes and returns the entry, or nil if untracked.
// Exactly one caller wins removal, so exit-path hooks never run twice.
func (t *Tracker) take(operationID string) *operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[operationID]
	if !ok {
		return nil
	}
	delete(t.ops, operationID)
	return op
}

// stopTimers cancels both handles, even if they already fired.
func (op *operation) stopTimers() {
	if op.warnTimer != nil {
		op.warnTimer.Stop()
	}
	if op.timeoutTimer != nil {
		op.timeoutTimer.Stop()
	}
}

// Elapsed returns wall-clock time since tracking started.
func (t *Tracker) Elapsed(operationID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[operationID]
	if !ok {
		return 0, false
	}
	return t.sched.Now().Sub(op.startedAt), true
}

// Progress estimates completion percentage against the profile's
// expected duration, capped at 100. Returns false when the operation is
// untracked or its profile defines no expected duration.
func (t *Tracker) Progress(operationID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[operationID]
	if !ok || op.profile.Expected <= 0 {
		return 0, false
	}
	pct := float64(t.sched.Now().Sub(op.startedAt)) / float64(op.profile.Expected) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// LevelOf returns the operation's current escalation level.
func (t *Tracker) LevelOf(operationID string) (Level, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[operationID]
	if !ok {
		return LevelNone, false
	}
	return op.level, true
}

// ActiveCount returns the number of tracked operations.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}
