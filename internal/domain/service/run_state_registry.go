package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// activeRun tracks the cancellation signal for a dialog currently being
// driven, plus the stop reason requested against it, if any (§5).
type activeRun struct {
	cancel     context.CancelFunc
	stopReason entity.StopReason
}

// RunStateRegistry is C8 (§5, §3 RunState): the single authority for a
// dialog's current RunState and, while a drive is in flight, the abort
// signal backing it. The Drive Loop (C6) registers an active run when it
// starts driving a dialog and clears it when the drive returns; `stop` and
// `resume` operator commands only ever go through this registry.
type RunStateRegistry struct {
	mu        sync.RWMutex
	states    map[string]entity.RunState
	active    map[string]*activeRun
	logger    *zap.Logger
	listeners []func(dialogID string, from, to entity.RunState)
}

func NewRunStateRegistry(logger *zap.Logger) *RunStateRegistry {
	return &RunStateRegistry{
		states: make(map[string]entity.RunState),
		active: make(map[string]*activeRun),
		logger: logger,
	}
}

// OnTransition registers a listener invoked (outside the lock) on every
// run-state change; the Event Bus (C11) uses this to broadcast state_changed.
func (r *RunStateRegistry) OnTransition(fn func(dialogID string, from, to entity.RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Get returns the dialog's current RunState, defaulting to idle_waiting_user
// for a dialog never seen before.
func (r *RunStateRegistry) Get(dialogID string) entity.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[dialogID]; ok {
		return s
	}
	return entity.Idle()
}

func (r *RunStateRegistry) set(dialogID string, to entity.RunState) {
	r.mu.Lock()
	from := r.states[dialogID]
	r.states[dialogID] = to
	listeners := make([]func(string, entity.RunState, entity.RunState), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug("run state transition",
		zap.String("dialog", dialogID), zap.String("from", from.String()), zap.String("to", to.String()))

	for _, fn := range listeners {
		fn(dialogID, from, to)
	}
}

// BeginDrive registers an active run for dialogID, transitioning it to
// proceeding and returning a context that is cancelled by RequestAbort. The
// caller must call done() when the drive returns, regardless of outcome.
func (r *RunStateRegistry) BeginDrive(parent context.Context, dialogID string) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.active[dialogID] = &activeRun{cancel: cancel}
	r.mu.Unlock()

	r.set(dialogID, entity.Proceeding())

	return ctx, func() {
		r.mu.Lock()
		delete(r.active, dialogID)
		r.mu.Unlock()
		cancel()
	}
}

// RequestStop asks an in-flight drive to stop at its next safe checkpoint
// (§5 "stop request"). It does not cancel the context immediately — the
// Drive Loop observes proceeding_stop_requested and winds down gracefully.
// Returns false if dialogID has no active run.
func (r *RunStateRegistry) RequestStop(dialogID string, reason entity.StopReason) bool {
	r.mu.Lock()
	run, ok := r.active[dialogID]
	if ok {
		run.stopReason = reason
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.set(dialogID, entity.StopRequested(reason))
	return true
}

// Abort cancels dialogID's active run's context immediately and transitions
// it to interrupted{reason}; used for emergency_stop, which §5 says must
// take effect without waiting for a safe checkpoint.
func (r *RunStateRegistry) Abort(dialogID string, reason entity.StopReason, detail string) bool {
	r.mu.Lock()
	run, ok := r.active[dialogID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	r.set(dialogID, entity.Interrupted(reason, detail))
	return true
}

// FinishIdle transitions dialogID to idle_waiting_user — the drive reached
// a natural stopping point with no pending sub-dialogs or Q4H.
func (r *RunStateRegistry) FinishIdle(dialogID string) { r.set(dialogID, entity.Idle()) }

// FinishBlocked transitions dialogID to blocked{kind}.
func (r *RunStateRegistry) FinishBlocked(dialogID string, kind entity.BlockedKind) {
	r.set(dialogID, entity.BlockedOn(kind))
}

// FinishInterrupted records an interrupted{reason} terminal state for this
// drive invocation without an active-run cancellation having occurred
// (e.g. the LLM call itself returned Interrupted via C1 classification).
func (r *RunStateRegistry) FinishInterrupted(dialogID string, reason entity.StopReason, detail string) {
	r.set(dialogID, entity.Interrupted(reason, detail))
}

// MarkDead transitions a sub-dialog to its terminal dead state (§3).
func (r *RunStateRegistry) MarkDead(dialogID string) { r.set(dialogID, entity.Dead()) }

// StopReasonOf returns the stop reason recorded against dialogID's active
// run, if any.
func (r *RunStateRegistry) StopReasonOf(dialogID string) (entity.StopReason, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.active[dialogID]
	if !ok || run.stopReason == "" {
		return "", false
	}
	return run.stopReason, true
}

// IsActive reports whether dialogID currently has a drive in flight.
func (r *RunStateRegistry) IsActive(dialogID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[dialogID]
	return ok
}
