package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

const defaultDiligenceText = "Keep going if there is still work left to do; otherwise stop and report."

const defaultBudgetExhaustedBody = "I've reached my keep-going budget for this turn and need your input before continuing."

// DiligenceDecisionKind discriminates the §4.8 outcome of one Evaluate call.
type DiligenceDecisionKind string

const (
	DiligenceDisabled        DiligenceDecisionKind = "disabled"
	DiligencePushed          DiligenceDecisionKind = "pushed"
	DiligenceBudgetExhausted DiligenceDecisionKind = "budget_exhausted"
)

// DiligenceDecision is the outcome of one §4.8 evaluation.
type DiligenceDecision struct {
	Kind DiligenceDecisionKind
	// Event is populated for every decision except Disabled.
	Event *DiligenceBudgetEvent
	// Q4H is populated only for BudgetExhausted.
	Q4H *entity.HumanQuestion
}

// DiligenceBudgetEvent backs the diligence_budget_evt emitted after every
// non-disabled decision.
type DiligenceBudgetEvent struct {
	DialogID       string
	MaxInjectCount int
	InjectedCount  int
	RemainingCount int
}

// Q4HSink is the minimal surface DiligenceBudget needs to raise a
// budget-exhausted human question.
type Q4HSink interface {
	Append(dialogID string, q entity.HumanQuestion)
}

// EventPublisher is the minimal C11 surface DiligenceBudget and C9's
// siblings need, kept narrow so the service package never imports
// infrastructure/eventbus directly.
type EventPublisher interface {
	Publish(eventType, rootID string, payload interface{})
}

// DiligenceBudget is C9 (§4.8): governs auto-continue prompt injection with
// a per-dialog budget, resolving the push text from the member's
// `.minds/` mindset files and emitting a budget_exhausted human question
// once the budget runs out.
type DiligenceBudget struct {
	mindsDir string // directory containing diligence.<lang>.md / diligence.md
	q4h      Q4HSink
	events   EventPublisher
	logger   *zap.Logger
}

func NewDiligenceBudget(mindsDir string, q4h Q4HSink, events EventPublisher, logger *zap.Logger) *DiligenceBudget {
	return &DiligenceBudget{mindsDir: mindsDir, q4h: q4h, events: events, logger: logger}
}

// resolveText implements the file-based fallback chain:
// .minds/diligence.<lang>.md -> .minds/diligence.md -> built-in default.
// An explicitly empty (but present) file disables pushes entirely.
func (b *DiligenceBudget) resolveText(langCode string) (text string, disabled bool) {
	candidates := []string{}
	if langCode != "" {
		candidates = append(candidates, filepath.Join(b.mindsDir, fmt.Sprintf("diligence.%s.md", langCode)))
	}
	candidates = append(candidates, filepath.Join(b.mindsDir, "diligence.md"))

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(data) == 0 {
			return "", true
		}
		return string(data), false
	}
	return defaultDiligenceText, false
}

// Evaluate runs the §4.8 decision for one idle-turn on a root dialog. It is
// a no-op (Disabled) for sub-dialogs, for dialogs with DisableDiligencePush
// set, or when the caller passes suppressDiligencePush (set by the
// Sub-dialog Manager's tellaskSessionless spawn, §4.2 step 3).
func (b *DiligenceBudget) Evaluate(d *entity.Dialog, langCode string, maxInjectCount int, suppressDiligencePush bool) DiligenceDecision {
	if !d.IsRoot() || d.DisableDiligencePush || suppressDiligencePush {
		return DiligenceDecision{Kind: DiligenceDisabled}
	}

	text, disabled := b.resolveText(langCode)
	if disabled {
		return DiligenceDecision{Kind: DiligenceDisabled}
	}

	remaining := d.DiligencePushRemainingBudget

	if maxInjectCount < 1 {
		if remaining < 1 {
			return DiligenceDecision{Kind: DiligenceDisabled}
		}
		return b.push(d, text, maxInjectCount, remaining)
	}

	if min(remaining, maxInjectCount) < 1 {
		return b.exhaust(d, maxInjectCount, remaining)
	}

	return b.push(d, text, maxInjectCount, remaining)
}

func (b *DiligenceBudget) push(d *entity.Dialog, text string, maxInjectCount, remaining int) DiligenceDecision {
	d.DiligencePushRemainingBudget = remaining - 1
	d.PushUpNext(entity.UpNextPrompt{Content: text, Origin: entity.OriginDiligencePush})

	injected := maxInjectCount - (remaining - 1)
	if maxInjectCount < 1 {
		injected = 0 // unbounded budget: injectedCount isn't meaningfully derived from a cap
	}
	ev := &DiligenceBudgetEvent{
		DialogID:       d.SelfID,
		MaxInjectCount: maxInjectCount,
		InjectedCount:  injected,
		RemainingCount: d.DiligencePushRemainingBudget,
	}
	b.emit(d, ev)
	return DiligenceDecision{Kind: DiligencePushed, Event: ev}
}

func (b *DiligenceBudget) exhaust(d *entity.Dialog, maxInjectCount, remaining int) DiligenceDecision {
	d.DiligencePushRemainingBudget = 0

	q := entity.HumanQuestion{
		ID:             "q4h-" + uuid.New().String(),
		TellaskContent: defaultBudgetExhaustedBody,
		Kind:           entity.Q4HKeepGoingBudgetExhausted,
		CallSiteRef:    entity.CallSiteRef{Course: d.Course, MessageIndex: len(d.Messages)},
	}
	b.q4h.Append(d.SelfID, q)
	b.events.Publish("new_q4h_asked", d.RootID, struct {
		DialogID string
		Q4HID    string
		Content  string
	}{DialogID: d.SelfID, Q4HID: q.ID, Content: q.TellaskContent})

	ev := &DiligenceBudgetEvent{
		DialogID:       d.SelfID,
		MaxInjectCount: maxInjectCount,
		InjectedCount:  maxInjectCount,
		RemainingCount: 0,
	}
	b.emit(d, ev)

	b.logger.Info("diligence budget exhausted", zap.String("dialog_id", d.SelfID), zap.String("q4h_id", q.ID))
	return DiligenceDecision{Kind: DiligenceBudgetExhausted, Event: ev, Q4H: &q}
}

func (b *DiligenceBudget) emit(d *entity.Dialog, ev *DiligenceBudgetEvent) {
	b.events.Publish("diligence_budget_evt", d.RootID, *ev)
}
