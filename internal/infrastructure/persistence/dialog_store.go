// Package persistence implements the §6 on-disk layout: an atomically
// replaced `latest.yaml` snapshot per dialog under run/<selfId>/, backing
// the in-process dialog index every component resolves dialogs through.
// Grounded on the teacher's gorm/sqlite repository pair in spirit (a
// write-through store behind a narrow interface) but rebuilt around plain
// YAML snapshot files, per the spec's "any format with append-only events
// plus atomic replace for the per-dialog latest snapshot" contract — the
// append-only event log itself is already served by eventbus.PersistentBus.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// DialogStore is the YAML-snapshot-backed dialog index. It satisfies both
// service.DialogStore (Get) and dialog.Store (Get + Create), and is safe
// for concurrent use — callers still take the per-dialog entity.Dialog lock
// for in-place mutation; the store's own mutex only guards the index map
// and the snapshot directory.
type DialogStore struct {
	mu      sync.RWMutex
	byID    map[string]*entity.Dialog
	baseDir string // run/ root; each dialog gets baseDir/<selfId>/latest.yaml
	logger  *zap.Logger
}

// NewDialogStore opens (without yet loading) a YAML-snapshot dialog store
// rooted at baseDir. Call LoadAll to populate the in-memory index from
// whatever snapshots already exist on disk (e.g. after a restart).
func NewDialogStore(baseDir string, logger *zap.Logger) *DialogStore {
	return &DialogStore{
		byID:    make(map[string]*entity.Dialog),
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "dialog_store")),
	}
}

// Get returns the in-memory dialog for dialogID, if known.
func (s *DialogStore) Get(dialogID string) (*entity.Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[dialogID]
	return d, ok
}

// Create registers a newly-spawned dialog in the index and writes its
// initial snapshot. Used by the Sub-dialog Manager (C7) when it spawns a
// child, and by the application layer when it opens a fresh root dialog.
func (s *DialogStore) Create(d *entity.Dialog) {
	s.mu.Lock()
	s.byID[d.SelfID] = d
	s.mu.Unlock()

	if err := s.Snapshot(d); err != nil {
		s.logger.Warn("initial snapshot write failed", zap.String("dialog_id", d.SelfID), zap.Error(err))
	}
}

// Snapshot atomically writes d's current state to run/<selfId>/latest.yaml.
// Callers should hold d's lock while snapshotting to avoid torn writes
// against concurrent in-place mutation of Messages/RunState.
func (s *DialogStore) Snapshot(d *entity.Dialog) error {
	dir := filepath.Join(s.baseDir, d.SelfID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	body, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dialog %s: %w", d.SelfID, err)
	}

	target := filepath.Join(dir, "latest.yaml")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, target, err)
	}
	return nil
}

// LoadAll scans baseDir for existing run/<selfId>/latest.yaml snapshots and
// populates the in-memory index from them. Missing baseDir is not an error
// (fresh workspace, nothing to resume).
func (s *DialogStore) LoadAll() error {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.baseDir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snapshotPath := filepath.Join(s.baseDir, e.Name(), "latest.yaml")
		body, err := os.ReadFile(snapshotPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", zap.String("path", snapshotPath), zap.Error(err))
			continue
		}
		var d entity.Dialog
		if err := yaml.Unmarshal(body, &d); err != nil {
			s.logger.Warn("skipping corrupt snapshot", zap.String("path", snapshotPath), zap.Error(err))
			continue
		}
		s.byID[d.SelfID] = &d
	}

	s.logger.Info("dialog snapshots loaded", zap.Int("count", len(s.byID)))
	return nil
}

// All returns every dialog currently in the index, for scheduler warm-start
// (re-flagging dialogs that were mid-drive or blocked when the process last
// exited).
func (s *DialogStore) All() []*entity.Dialog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Dialog, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	return out
}
