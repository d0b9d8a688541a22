package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/dialogkernel/driver/internal/domain/entity"
	"github.com/dialogkernel/driver/internal/infrastructure/config"
)

func openTestPendingIndex(t *testing.T) *PendingIndex {
	t.Helper()
	db, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return NewPendingIndex(db)
}

func TestPendingIndex_PutAndForCaller(t *testing.T) {
	idx := openTestPendingIndex(t)
	ctx := context.Background()

	rec := entity.PendingSubdialog{
		SubdialogID:    "s1",
		CallerDialogID: "d1",
		CallID:         "c1",
		CallType:       "tellask",
		TargetAgentID:  "agent-a",
		TellaskContent: "please help",
		Course:         1,
		CreatedAt:      time.Now(),
	}
	if err := idx.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	rows, err := idx.ForCaller(ctx, "d1")
	if err != nil {
		t.Fatalf("for caller: %v", err)
	}
	if len(rows) != 1 || rows[0].SubdialogID != "s1" {
		t.Fatalf("expected s1 in d1's rows, got %+v", rows)
	}
}

func TestPendingIndex_Remove(t *testing.T) {
	idx := openTestPendingIndex(t)
	ctx := context.Background()

	rec := entity.PendingSubdialog{SubdialogID: "s1", CallerDialogID: "d1", CreatedAt: time.Now()}
	if err := idx.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := idx.Remove(ctx, "s1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	rows, err := idx.ForCaller(ctx, "d1")
	if err != nil {
		t.Fatalf("for caller after remove: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after remove, got %+v", rows)
	}
}
