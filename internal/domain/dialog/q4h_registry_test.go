package dialog

import (
	"testing"
	"time"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

func TestQ4HRegistry_AppendAndPending(t *testing.T) {
	r := NewQ4HRegistry()
	r.Append("d1", entity.HumanQuestion{ID: "q1", AskedAt: time.Now()})
	r.Append("d1", entity.HumanQuestion{ID: "q2", AskedAt: time.Now()})

	if !r.HasPending("d1") {
		t.Fatal("expected d1 to have pending questions")
	}
	if r.HasPending("d2") {
		t.Fatal("d2 was never asked anything")
	}

	pending := r.Pending("d1")
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending questions, got %d", len(pending))
	}
}

func TestQ4HRegistry_Answer(t *testing.T) {
	r := NewQ4HRegistry()
	r.Append("d1", entity.HumanQuestion{ID: "q1", AskedAt: time.Now()})

	if !r.Answer("d1", "q1", "42") {
		t.Fatal("expected Answer to find q1 on d1")
	}
	if r.HasPending("d1") {
		t.Fatal("q1 should no longer be pending after being answered")
	}
	if r.Answer("d1", "nope", "x") {
		t.Fatal("Answer should fail for an unknown question id")
	}
}

func TestQ4HRegistry_AnswerByIDFindsOwningDialog(t *testing.T) {
	r := NewQ4HRegistry()
	r.Append("d1", entity.HumanQuestion{ID: "q1", AskedAt: time.Now()})
	r.Append("d2", entity.HumanQuestion{ID: "q2", AskedAt: time.Now()})

	dialogID, ok := r.AnswerByID("q2", "answer text")
	if !ok {
		t.Fatal("expected AnswerByID to find q2")
	}
	if dialogID != "d2" {
		t.Fatalf("expected q2 to belong to d2, got %s", dialogID)
	}
	if r.HasPending("d2") {
		t.Fatal("q2 should no longer be pending")
	}
	if !r.HasPending("d1") {
		t.Fatal("d1's q1 should be unaffected")
	}
}

func TestQ4HRegistry_AnswerByIDUnknown(t *testing.T) {
	r := NewQ4HRegistry()
	r.Append("d1", entity.HumanQuestion{ID: "q1", AskedAt: time.Now()})

	if _, ok := r.AnswerByID("missing", "x"); ok {
		t.Fatal("expected AnswerByID to fail for an unknown question id")
	}
}
