package service

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

type fakeQ4HSink struct {
	appended []entity.HumanQuestion
}

func (f *fakeQ4HSink) Append(dialogID string, q entity.HumanQuestion) {
	f.appended = append(f.appended, q)
}

type fakeEventPublisher struct {
	events []struct {
		eventType string
		rootID    string
		payload   interface{}
	}
}

func (f *fakeEventPublisher) Publish(eventType, rootID string, payload interface{}) {
	f.events = append(f.events, struct {
		eventType string
		rootID    string
		payload   interface{}
	}{eventType, rootID, payload})
}

func newTestBudget(t *testing.T, mindsDir string) (*DiligenceBudget, *fakeQ4HSink, *fakeEventPublisher) {
	t.Helper()
	q4h := &fakeQ4HSink{}
	events := &fakeEventPublisher{}
	logger := zap.NewNop()
	return NewDiligenceBudget(mindsDir, q4h, events, logger), q4h, events
}

func TestDiligenceBudget_DisabledForSubdialog(t *testing.T) {
	b, _, _ := newTestBudget(t, t.TempDir())
	d := entity.NewSubDialog("child-1", "root-1", "agent1")
	d.DiligencePushRemainingBudget = 5

	dec := b.Evaluate(d, "", 3, false)
	if dec.Kind != DiligenceDisabled {
		t.Errorf("expected disabled for sub-dialog, got %v", dec.Kind)
	}
}

func TestDiligenceBudget_DisabledWhenDialogFlagSet(t *testing.T) {
	b, _, _ := newTestBudget(t, t.TempDir())
	d := entity.NewRootDialog("root-1", "agent1")
	d.DisableDiligencePush = true
	d.DiligencePushRemainingBudget = 5

	dec := b.Evaluate(d, "", 3, false)
	if dec.Kind != DiligenceDisabled {
		t.Errorf("expected disabled, got %v", dec.Kind)
	}
}

func TestDiligenceBudget_DisabledWhenSuppressed(t *testing.T) {
	b, _, _ := newTestBudget(t, t.TempDir())
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 5

	dec := b.Evaluate(d, "", 3, true)
	if dec.Kind != DiligenceDisabled {
		t.Errorf("expected disabled when suppressed, got %v", dec.Kind)
	}
}

func TestDiligenceBudget_DisabledWhenFileEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "diligence.md"), []byte{}, 0644); err != nil {
		t.Fatal(err)
	}
	b, _, _ := newTestBudget(t, dir)
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 5

	dec := b.Evaluate(d, "", 3, false)
	if dec.Kind != DiligenceDisabled {
		t.Errorf("expected disabled for empty file, got %v", dec.Kind)
	}
}

func TestDiligenceBudget_UsesLocalizedFileOverDefault(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "diligence.fr.md"), []byte("Continuez."), 0644); err != nil {
		t.Fatal(err)
	}
	b, _, _ := newTestBudget(t, dir)
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 5

	dec := b.Evaluate(d, "fr", 3, false)
	if dec.Kind != DiligencePushed {
		t.Fatalf("expected pushed, got %v", dec.Kind)
	}
	if got := d.UpNext[0].Content; got != "Continuez." {
		t.Errorf("expected localized push text, got %q", got)
	}
}

func TestDiligenceBudget_UnboundedMaxPushesWhileBudgetRemains(t *testing.T) {
	b, _, _ := newTestBudget(t, t.TempDir())
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 2

	dec := b.Evaluate(d, "", 0, false)
	if dec.Kind != DiligencePushed {
		t.Fatalf("expected pushed, got %v", dec.Kind)
	}
	if d.DiligencePushRemainingBudget != 1 {
		t.Errorf("expected budget decremented to 1, got %d", d.DiligencePushRemainingBudget)
	}
}

func TestDiligenceBudget_ExhaustionRaisesQ4HAndEvent(t *testing.T) {
	b, q4h, events := newTestBudget(t, t.TempDir())
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 0

	dec := b.Evaluate(d, "", 3, false)
	if dec.Kind != DiligenceBudgetExhausted {
		t.Fatalf("expected budget_exhausted, got %v", dec.Kind)
	}
	if len(q4h.appended) != 1 {
		t.Fatalf("expected one Q4H appended, got %d", len(q4h.appended))
	}
	if q4h.appended[0].Kind != entity.Q4HKeepGoingBudgetExhausted {
		t.Errorf("expected keep-going-exhausted kind, got %v", q4h.appended[0].Kind)
	}

	var sawNewQ4H, sawBudgetEvt bool
	for _, e := range events.events {
		switch e.eventType {
		case "new_q4h_asked":
			sawNewQ4H = true
		case "diligence_budget_evt":
			sawBudgetEvt = true
		}
	}
	if !sawNewQ4H || !sawBudgetEvt {
		t.Errorf("expected both new_q4h_asked and diligence_budget_evt, got %+v", events.events)
	}
	if d.DiligencePushRemainingBudget != 0 {
		t.Errorf("expected budget zeroed, got %d", d.DiligencePushRemainingBudget)
	}
}

func TestDiligenceBudget_PushedWhenWithinBudget(t *testing.T) {
	b, _, events := newTestBudget(t, t.TempDir())
	d := entity.NewRootDialog("root-1", "agent1")
	d.DiligencePushRemainingBudget = 3

	dec := b.Evaluate(d, "", 3, false)
	if dec.Kind != DiligencePushed {
		t.Fatalf("expected pushed, got %v", dec.Kind)
	}
	if !d.HasUpNext() {
		t.Error("expected a queued up-next prompt")
	}
	if len(events.events) != 1 || events.events[0].eventType != "diligence_budget_evt" {
		t.Errorf("expected exactly one diligence_budget_evt, got %+v", events.events)
	}
}
