package eventbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPersistentBus_PublishAndReplay(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}

	bus.Publish(TypeNewQ4H, "root-1", map[string]string{"id": "1"})
	bus.Publish(TypeQ4HAnswered, "root-1", map[string]string{"id": "2"})
	bus.Publish(TypeRunState, "root-1", map[string]string{"id": "3"})
	bus.Close()

	walPath := filepath.Join(dir, "events.wal")
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("WAL file not found: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("WAL file is empty")
	}

	bus2, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, logger)
	if err != nil {
		t.Fatalf("failed to create bus2: %v", err)
	}
	defer bus2.Close()

	ch, unsub := bus2.Subscribe("")
	defer unsub()

	count, err := bus2.Replay()
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 replayed events, got %d", count)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replayed event %d", i)
		}
	}
}

func TestPersistentBus_Truncate(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir, BufferSize: 64}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	bus.Publish(TypeRunState, "root-1", nil)

	if bus.WALSize() == 0 {
		t.Fatal("expected non-zero WAL size after publish")
	}

	if err := bus.Truncate(); err != nil {
		t.Fatalf("truncate error: %v", err)
	}

	if bus.WALSize() != 0 {
		t.Fatal("expected zero WAL size after truncate")
	}
}

func TestPersistentBus_WALRotation(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{
		WALDir:     dir,
		BufferSize: 256,
		MaxWALSize: 100,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	for i := 0; i < 10; i++ {
		bus.Publish(TypeRunState, "root-1", map[string]int{"i": i})
	}

	oldPath := filepath.Join(dir, "events.wal.old")
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		t.Fatal("expected .old WAL file after rotation")
	}
}
