// Package guard aggregates "unsafe to leave" signals from arbitrarily
// many independent callers and intercepts navigation while any remain.
//
// Every blocker is owned by exactly one caller: registration returns a
// fresh opaque id and removal targets that id only. No write path can
// merge or overwrite another caller's entry, so uncoordinated screens
// and widgets cannot clobber each other.
package guard

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"vigil/internal/clock"
	"vigil/internal/ident"
)

// BlockerKind classifies why navigation is unsafe.
type BlockerKind string

const (
	KindOperationInProgress BlockerKind = "OPERATION_IN_PROGRESS"
	KindUnsavedChanges      BlockerKind = "UNSAVED_CHANGES"
	KindCustom              BlockerKind = "CUSTOM"
)

// BlockerConfig describes a navigation blocker at registration time.
type BlockerConfig struct {
	Kind        BlockerKind
	Label       string
	Description string

	// CanForceNavigate marks blockers the user may override from the
	// confirmation dialog.
	CanForceNavigate bool

	// Priority orders blockers in the dialog; higher shows first.
	Priority int
}

// Blocker is a registered entry. The ID is issued by the guard and owned
// by the registering caller.
type Blocker struct {
	ID        string
	CreatedAt time.Time
	BlockerConfig
}

// Guard is the navigation-safety registry.
//
// Thread-safety: all methods are safe for concurrent use from
// arbitrarily many independent call sites.
type Guard struct {
	idGen  ident.Generator
	sched  clock.Scheduler
	logger *slog.Logger

	mu       sync.Mutex
	blockers map[string]Blocker
	pending  func()
}

// New creates an empty guard. logger may be nil.
func New(idGen ident.Generator, sched clock.Scheduler, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		idGen:    idGen,
		sched:    sched,
		logger:   logger,
		blockers: make(map[string]Blocker),
	}
}

// RegisterBlocker stores a new blocker and returns its fresh id.
func (g *Guard) RegisterBlocker(cfg BlockerConfig) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.idGen.NewID()
	g.blockers[id] = Blocker{
		ID:            id,
		CreatedAt:     g.sched.Now(),
		BlockerConfig: cfg,
	}
	g.logger.Debug("blocker registered", "id", id, "kind", cfg.Kind, "label", cfg.Label)
	return id
}

// UnregisterBlocker removes the blocker with the given id.
// Removing an absent id is a no-op.
func (g *Guard) UnregisterBlocker(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blockers, id)
}

// IsNavigationSafe reports whether the registry is empty.
func (g *Guard) IsNavigationSafe() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.blockers) == 0
}

// ActiveBlockers returns registered blockers sorted by descending
// priority, then by creation time for a stable dialog order.
func (g *Guard) ActiveBlockers() []Blocker {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Blocker, 0, len(g.blockers))
	for _, b := range g.blockers {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AttemptNavigation invokes cb immediately when navigation is safe and
// returns true. Otherwise it parks cb as the pending navigation and
// returns false: a block/proceed decision is required from the user.
//
// There is one pending navigation system-wide; a newer attempt replaces
// an older undecided one, since the latest intent is the one the user is
// deciding on.
func (g *Guard) AttemptNavigation(cb func()) bool {
	g.mu.Lock()
	if len(g.blockers) == 0 {
		g.mu.Unlock()
		cb()
		return true
	}
	if g.pending != nil {
		g.logger.Debug("pending navigation replaced by newer attempt")
	}
	g.pending = cb
	g.mu.Unlock()
	return false
}

// ForceNavigation invokes the pending callback exactly once and clears
// the pending state. The state is cleared before the callback runs, so a
// panicking callback cannot leave a stuck pending navigation.
func (g *Guard) ForceNavigation() {
	g.mu.Lock()
	cb := g.pending
	g.pending = nil
	g.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// CancelNavigation discards the pending callback without invoking it.
func (g *Guard) CancelNavigation() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}

// HasPendingNavigation reports whether a navigation decision is awaited.
func (g *Guard) HasPendingNavigation() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}
