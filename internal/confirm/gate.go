// Package confirm gates irreversible actions behind severity-tiered,
// cooldown-gated, phrase-verified confirmation.
//
// The gate manages at most one live confirmation session system-wide.
// Session validity is an explicit state machine rather than a pile of
// booleans: Idle -> CoolingDown -> AwaitingInput -> Valid -> Executing.
// Validity is derived, never stored, so it can never go stale: each call
// recomputes it from the cooldown, the phrase input, and the
// acknowledgement against the action's definition.
//
// Concurrent requests: opening a second confirmation while one is live
// is rejected with ErrSessionActive. The caller retries after the live
// session resolves; silently replacing a dialog the user is reading was
// judged worse than making the second caller wait.
package confirm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"vigil/internal/clock"
	"vigil/internal/def"
)

// State is the confirmation session's position in its lifecycle.
type State int

const (
	// StateIdle means no session is open.
	StateIdle State = iota
	// StateCoolingDown means the mandatory wait has not elapsed.
	StateCoolingDown
	// StateAwaitingInput means the cooldown passed but phrase or
	// acknowledgement requirements are unmet.
	StateAwaitingInput
	// StateValid means every gate condition holds; execution may proceed.
	StateValid
	// StateExecuting means the confirmed callback is running.
	StateExecuting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCoolingDown:
		return "COOLING_DOWN"
	case StateAwaitingInput:
		return "AWAITING_INPUT"
	case StateValid:
		return "VALID"
	case StateExecuting:
		return "EXECUTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrSessionActive is returned when a confirmation is requested while
// another session is live.
var ErrSessionActive = errors.New("a confirmation session is already active")

// ErrNotValid is returned when ExecuteAction runs before every gate
// condition holds. The confirm affordance should have been disabled;
// executing anyway is a caller defect.
var ErrNotValid = errors.New("confirmation session is not valid")

// ErrNoSession is returned when ExecuteAction runs with no open session.
var ErrNoSession = errors.New("no confirmation session is open")

// Session is a read-only snapshot of the live confirmation session.
type Session struct {
	Action            def.ActionDefinition
	TargetLabel       string
	PhraseInput       string
	Acknowledged      bool
	CooldownRemaining int // seconds
	State             State
}

type session struct {
	action    def.ActionDefinition
	target    string
	onConfirm func() error
	phrase    string
	ack       bool
	remaining int
	ticker    clock.Timer
	executing bool
}

// Gate is the irreversible-action confirmation gate.
//
// Thread-safety: all methods are safe for concurrent use.
type Gate struct {
	registry *def.Registry
	sched    clock.Scheduler
	onChange func()
	logger   *slog.Logger

	mu     sync.Mutex
	active *session
}

// New creates a gate. onChange, when non-nil, runs after every
// observable session change (open, cooldown tick, phrase input,
// acknowledgement toggle, close) so a rendering layer can re-read the
// snapshot. logger may be nil.
func New(registry *def.Registry, sched clock.Scheduler, onChange func(), logger *slog.Logger) *Gate {
	if onChange == nil {
		onChange = func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		registry: registry,
		sched:    sched,
		onChange: onChange,
		logger:   logger,
	}
}

// RequestConfirmation opens a session for the given action id.
//
// An unregistered action id is logged and dropped without error: a stale
// UI reference is not a logic defect, and raising would punish the wrong
// party. A live session rejects the request with ErrSessionActive.
func (g *Gate) RequestConfirmation(actionID, targetLabel string, onConfirm func() error) error {
	action, ok := g.registry.Action(actionID)
	if !ok {
		g.logger.Warn("confirmation requested for unknown action", "action", actionID, "target", targetLabel)
		return nil
	}

	g.mu.Lock()
	if g.active != nil {
		g.mu.Unlock()
		return fmt.Errorf("request confirmation for %q: %w", actionID, ErrSessionActive)
	}

	s := &session{
		action:    action,
		target:    targetLabel,
		onConfirm: onConfirm,
		remaining: cooldownSeconds(action.Cooldown),
	}
	g.active = s

	if s.remaining > 0 {
		// One-second countdown tick; the handle lives on the session so
		// CloseDialog can always cancel it.
		s.ticker = g.sched.TickEvery(time.Second, g.tickCooldown)
	}
	g.mu.Unlock()

	g.logger.Debug("confirmation session opened", "action", actionID, "severity", action.Severity.String(), "cooldown_s", s.remaining)
	g.onChange()
	return nil
}

// SetPhraseInput records the user's typed phrase. Ignored with no
// session open.
func (g *Gate) SetPhraseInput(input string) {
	g.mu.Lock()
	if g.active == nil {
		g.mu.Unlock()
		return
	}
	g.active.phrase = input
	g.mu.Unlock()
	g.onChange()
}

// SetAcknowledged records the acknowledgement checkbox. Ignored with no
// session open.
func (g *Gate) SetAcknowledged(ack bool) {
	g.mu.Lock()
	if g.active == nil {
		g.mu.Unlock()
		return
	}
	g.active.ack = ack
	g.mu.Unlock()
	g.onChange()
}

// IsValid derives whether every gate condition holds: cooldown elapsed,
// phrase matches exactly (after NFC normalization, so composed and
// decomposed input of the same text compare equal), and acknowledgement
// checked for HIGH/CRITICAL severities.
func (g *Gate) IsValid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil && g.active.valid()
}

// State returns the derived FSM state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// Session returns a snapshot of the live session.
func (g *Gate) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return Session{}, false
	}
	return Session{
		Action:            g.active.action,
		TargetLabel:       g.active.target,
		PhraseInput:       g.active.phrase,
		Acknowledged:      g.active.ack,
		CooldownRemaining: g.active.remaining,
		State:             g.stateLocked(),
	}, true
}

// ExecuteAction invokes the session's onConfirm callback and closes the
// dialog. The dialog closes even when the callback fails or panics - a
// throw inside onConfirm must not leave the dialog open.
func (g *Gate) ExecuteAction() error {
	g.mu.Lock()
	s := g.active
	if s == nil {
		g.mu.Unlock()
		return ErrNoSession
	}
	if !s.valid() {
		g.mu.Unlock()
		return fmt.Errorf("execute %q: %w", s.action.ID, ErrNotValid)
	}
	s.executing = true
	g.mu.Unlock()
	g.onChange()

	defer g.CloseDialog()
	if s.onConfirm != nil {
		return s.onConfirm()
	}
	return nil
}

// CloseDialog clears the session and cancels any pending cooldown tick.
// Idempotent.
func (g *Gate) CloseDialog() {
	g.mu.Lock()
	s := g.active
	g.active = nil
	g.mu.Unlock()
	if s == nil {
		return
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}
	g.logger.Debug("confirmation session closed", "action", s.action.ID)
	g.onChange()
}

// tickCooldown decrements the countdown and stops the ticker at zero.
func (g *Gate) tickCooldown() {
	g.mu.Lock()
	s := g.active
	if s == nil || s.remaining == 0 {
		g.mu.Unlock()
		return
	}
	s.remaining--
	var done clock.Timer
	if s.remaining == 0 {
		done = s.ticker
		s.ticker = nil
	}
	g.mu.Unlock()

	if done != nil {
		done.Stop()
	}
	g.onChange()
}

func (g *Gate) stateLocked() State {
	s := g.active
	switch {
	case s == nil:
		return StateIdle
	case s.executing:
		return StateExecuting
	case s.remaining > 0:
		return StateCoolingDown
	case s.valid():
		return StateValid
	default:
		return StateAwaitingInput
	}
}

func (s *session) valid() bool {
	if s.remaining > 0 {
		return false
	}
	if s.action.RequiresPhrase && !phraseMatches(s.phrase, s.action.Phrase) {
		return false
	}
	if s.action.Severity.RequiresAcknowledgement() && !s.ack {
		return false
	}
	return true
}

// phraseMatches compares input to the required phrase exactly, after NFC
// normalization of both sides.
func phraseMatches(input, phrase string) bool {
	return norm.NFC.String(input) == norm.NFC.String(phrase)
}

// cooldownSeconds converts the definition's cooldown to whole countdown
// seconds, rounding up so a partial second still enforces a full tick.
func cooldownSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
