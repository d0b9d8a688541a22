package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistentBus wraps Bus with a write-ahead log so events survive a process
// restart — durable replay of dlg_run_state_evt/new_q4h_asked history is
// what lets an operator CLI reattach to a dialog after a crash and see what
// it missed.
//
// Events are serialized as JSON lines to the WAL before dispatch. Replay
// reads the WAL and re-publishes every entry to current subscribers.
// Rotation keeps the WAL from growing unbounded.
type PersistentBus struct {
	inner   *Bus
	walFile *os.File
	writer  *bufio.Writer
	walPath string
	mu      sync.Mutex
	logger  *zap.Logger

	maxWALSize int64
	written    int64
}

type walEntry struct {
	Type      string    `json:"type"`
	RootID    string    `json:"root_id"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

// PersistentBusConfig configures the persistent event bus.
type PersistentBusConfig struct {
	WALDir     string
	BufferSize int
	MaxWALSize int64
}

func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if cfg.WALDir == "" {
		return nil, fmt.Errorf("WALDir is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxWALSize <= 0 {
		cfg.MaxWALSize = 10 * 1024 * 1024
	}

	if err := os.MkdirAll(cfg.WALDir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL dir: %w", err)
	}

	walPath := filepath.Join(cfg.WALDir, "events.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	stat, _ := f.Stat()
	var currentSize int64
	if stat != nil {
		currentSize = stat.Size()
	}

	return &PersistentBus{
		inner:      NewBus(cfg.BufferSize, logger),
		walFile:    f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		walPath:    walPath,
		logger:     logger.With(zap.String("component", "persistent-bus")),
		maxWALSize: cfg.MaxWALSize,
		written:    currentSize,
	}, nil
}

// Publish persists the event to the WAL, then fans it out via the inner bus.
func (b *PersistentBus) Publish(eventType, rootID string, payload interface{}) {
	entry := walEntry{Type: eventType, RootID: rootID, Timestamp: time.Now(), Payload: payload}
	if data, err := json.Marshal(entry); err != nil {
		b.logger.Error("failed to marshal event for WAL", zap.String("type", eventType), zap.Error(err))
	} else {
		b.mu.Lock()
		n, writeErr := b.writer.Write(append(data, '\n'))
		if writeErr != nil {
			b.logger.Error("WAL write failed", zap.String("type", eventType), zap.Error(writeErr))
		}
		b.written += int64(n)
		_ = b.writer.Flush()
		if b.maxWALSize > 0 && b.written >= b.maxWALSize {
			b.rotateLocked()
		}
		b.mu.Unlock()
	}

	b.inner.Publish(eventType, rootID, payload)
}

func (b *PersistentBus) Subscribe(rootID string) (<-chan Event, func()) {
	return b.inner.Subscribe(rootID)
}

func (b *PersistentBus) Close() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.walFile.Sync()
	_ = b.walFile.Close()
	b.mu.Unlock()

	b.inner.Close()
	b.logger.Info("persistent event bus closed")
}

// Replay reads the WAL file and re-publishes every entry through the inner
// bus to current subscribers. Call after Subscribe but before normal
// operation, e.g. when an operator CLI reattaches to a running driver.
func (b *PersistentBus) Replay() (int, error) {
	f, err := os.Open(b.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open WAL for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry walEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			b.logger.Warn("skipping corrupt WAL entry", zap.Error(err))
			continue
		}
		b.inner.Publish(entry.Type, entry.RootID, entry.Payload)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("WAL scan error: %w", err)
	}
	b.logger.Info("WAL replay complete", zap.Int("events_replayed", count))
	return count, nil
}

// Truncate clears the WAL file, resetting the log after a clean checkpoint.
func (b *PersistentBus) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.writer.Flush()
	_ = b.walFile.Close()

	f, err := os.Create(b.walPath)
	if err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL truncated")
	return nil
}

func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.walFile.Close()

	oldPath := b.walPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.walPath, oldPath)

	f, err := os.OpenFile(b.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		b.logger.Error("WAL rotation failed", zap.Error(err))
		return
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL rotated", zap.String("old_path", oldPath))
}

func (b *PersistentBus) WALSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}
