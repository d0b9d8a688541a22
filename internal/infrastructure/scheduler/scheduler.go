// Package scheduler implements the Global Scheduler (C10, §4.9): the
// process-wide loop that drives every root dialog flagged "needs drive",
// launching drives for multiple root dialogs concurrently while never
// double-driving the same one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// Driver runs one full drive of a root dialog to completion or suspension.
// The Drive Loop (C6) implements this.
type Driver interface {
	Drive(ctx context.Context, dialogID string, waitInQueue bool) error
}

// RunStateView is the minimal run-state read surface C10 needs from the
// Run-State Registry (C8).
type RunStateView interface {
	Get(dialogID string) entity.RunState
}

// DialogView is the minimal dialog read surface C10 needs to re-evaluate
// post-drive suspension (queued up-next, blocked).
type DialogView interface {
	Get(dialogID string) (*entity.Dialog, bool)
}

// Scheduler is the Global Scheduler (C10).
type Scheduler struct {
	mu         sync.Mutex
	needsDrive map[string]bool
	queue      []string // insertion order, de-duplicated against needsDrive

	wake   chan struct{}
	stopCh chan struct{}
	sem    chan struct{} // bounds concurrent drives

	driver Driver
	states RunStateView
	dialogs DialogView
	logger *zap.Logger
}

// Config tunes the scheduler's concurrency.
type Config struct {
	// MaxConcurrentDrives bounds how many root dialogs can be driven at
	// once. Defaults to 8 if <= 0.
	MaxConcurrentDrives int
}

func New(driver Driver, states RunStateView, dialogs DialogView, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentDrives <= 0 {
		cfg.MaxConcurrentDrives = 8
	}
	return &Scheduler{
		needsDrive: make(map[string]bool),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		sem:        make(chan struct{}, cfg.MaxConcurrentDrives),
		driver:     driver,
		states:     states,
		dialogs:    dialogs,
		logger:     logger.With(zap.String("component", "scheduler")),
	}
}

// NotifyNeedsDrive flags a root dialog as needing a drive and wakes the
// scheduler loop. Triggers: operator input, child-dialog completion (C7),
// a diligence push, or a user resume.
func (s *Scheduler) NotifyNeedsDrive(dialogID string) {
	s.mu.Lock()
	already := s.needsDrive[dialogID]
	s.needsDrive[dialogID] = true
	if !already {
		s.queue = append(s.queue, dialogID)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop terminates the scheduler's Run loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Run is the §4.9 long-running loop. It blocks until Stop is called or ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		batch := s.drainQueue()
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.wake:
				continue
			}
		}

		var wg sync.WaitGroup
		for _, dialogID := range batch {
			id := dialogID
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-s.sem }()
				s.driveOne(ctx, id)
			}()
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
	}
}

// drainQueue snapshots and clears the set of dialogs flagged needs-drive,
// skipping (and clearing) any that are interrupted or stop-requested, and
// leaving flagged-but-blocked ones untouched for the next pass per §4.9
// step 2's "skip but keep flag semantics consistent."
func (s *Scheduler) drainQueue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runnable []string
	var remaining []string
	for _, id := range s.queue {
		if !s.needsDrive[id] {
			continue
		}
		switch s.states.Get(id).Kind {
		case entity.RunInterrupted, entity.RunProceedingStopRequested:
			delete(s.needsDrive, id)
			continue
		case entity.RunBlocked:
			remaining = append(remaining, id)
			continue
		default:
			runnable = append(runnable, id)
		}
	}
	s.queue = remaining
	return runnable
}

func (s *Scheduler) driveOne(ctx context.Context, dialogID string) {
	if err := s.driver.Drive(ctx, dialogID, true); err != nil {
		s.logger.Error("drive failed", zap.String("dialog_id", dialogID), zap.Error(err))
	}
	s.reevaluate(dialogID)
}

// reevaluate implements §4.9 step 3: after a drive returns, keep the dialog
// flagged if it still has queued up-next prompts or is blocked; otherwise
// clear the flag.
func (s *Scheduler) reevaluate(dialogID string) {
	keep := false
	if dlg, ok := s.dialogs.Get(dialogID); ok {
		keep = dlg.HasUpNext()
	}
	if !keep && s.states.Get(dialogID).Kind == entity.RunBlocked {
		keep = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if keep {
		if !contains(s.queue, dialogID) {
			s.queue = append(s.queue, dialogID)
		}
		s.needsDrive[dialogID] = true
	} else {
		delete(s.needsDrive, dialogID)
	}
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// WaitUntilIdle blocks until no dialogs are flagged needs-drive, or the
// timeout elapses. Intended for tests and graceful-shutdown coordination.
func (s *Scheduler) WaitUntilIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		empty := len(s.needsDrive) == 0
		s.mu.Unlock()
		if empty {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
