package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/dialogkernel/driver/internal/domain/entity"
	"github.com/dialogkernel/driver/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *Q4HIndex {
	t.Helper()
	db, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return NewQ4HIndex(db)
}

func TestQ4HIndex_UpsertAndPending(t *testing.T) {
	idx := openTestDB(t)
	ctx := context.Background()

	q := entity.HumanQuestion{ID: "q1", TellaskContent: "continue?", Kind: entity.Q4HGeneral, AskedAt: time.Now()}
	if err := idx.Upsert(ctx, "d1", q); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pending, err := idx.Pending(ctx, "d1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "q1" {
		t.Fatalf("expected q1 pending, got %+v", pending)
	}

	now := time.Now()
	q.AnsweredAt = &now
	q.Answer = "yes"
	if err := idx.Upsert(ctx, "d1", q); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	pending, err = idx.Pending(ctx, "d1")
	if err != nil {
		t.Fatalf("pending after answer: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows once answered, got %+v", pending)
	}

	history, err := idx.History(ctx, "d1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Answer != "yes" {
		t.Fatalf("expected answered row in history, got %+v", history)
	}
}
