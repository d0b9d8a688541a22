package dialog

import (
	"testing"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

func TestPendingRegistry_PutGetRemove(t *testing.T) {
	r := NewPendingRegistry()
	rec := entity.PendingSubdialog{SubdialogID: "s1", CallerDialogID: "d1", CallID: "c1"}
	r.Put(rec)

	got, ok := r.Get("s1")
	if !ok || got.CallerDialogID != "d1" {
		t.Fatalf("expected to find s1 under d1, got %+v ok=%v", got, ok)
	}

	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}

	r.Remove("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatal("s1 should be gone after Remove")
	}
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", r.Count())
	}
}

func TestPendingRegistry_ForCallerAndFindByCallID(t *testing.T) {
	r := NewPendingRegistry()
	r.Put(entity.PendingSubdialog{SubdialogID: "s1", CallerDialogID: "d1", CallID: "c1"})
	r.Put(entity.PendingSubdialog{SubdialogID: "s2", CallerDialogID: "d1", CallID: "c2"})
	r.Put(entity.PendingSubdialog{SubdialogID: "s3", CallerDialogID: "d2", CallID: "c3"})

	forD1 := r.ForCaller("d1")
	if len(forD1) != 2 {
		t.Fatalf("expected 2 pending records for d1, got %d", len(forD1))
	}

	rec, ok := r.FindByCallID("d1", "c2")
	if !ok || rec.SubdialogID != "s2" {
		t.Fatalf("expected FindByCallID to return s2, got %+v ok=%v", rec, ok)
	}

	if _, ok := r.FindByCallID("d1", "missing"); ok {
		t.Fatal("FindByCallID should fail for an unknown call id")
	}
}

func TestPendingRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewPendingRegistry()
	r.Remove("never-existed") // must not panic
	if r.Count() != 0 {
		t.Fatalf("expected count 0, got %d", r.Count())
	}
}
