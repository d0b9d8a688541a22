package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	dialogpkg "github.com/dialogkernel/driver/internal/domain/dialog"
	"github.com/dialogkernel/driver/internal/domain/entity"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
)

// === Fakes ===

type fakeDialogStore struct {
	dialogs map[string]*entity.Dialog
}

func newFakeDialogStore() *fakeDialogStore {
	return &fakeDialogStore{dialogs: make(map[string]*entity.Dialog)}
}

func (s *fakeDialogStore) Get(dialogID string) (*entity.Dialog, bool) {
	d, ok := s.dialogs[dialogID]
	return d, ok
}

func (s *fakeDialogStore) put(d *entity.Dialog) { s.dialogs[d.SelfID] = d }

type fakeMindset struct {
	prompt string
	model  string
}

func (m *fakeMindset) SystemPrompt(agentID string) string    { return m.prompt }
func (m *fakeMindset) Model(agentID string) string           { return m.model }
func (m *fakeMindset) Knowledge(agentID string) string       { return "" }
func (m *fakeMindset) Lessons(agentID string) string         { return "" }
func (m *fakeMindset) Env() string                           { return "" }
func (m *fakeMindset) Roster() []string                      { return nil }
func (m *fakeMindset) IsShellSpecialist(agentID string) bool { return false }

type fakeSubdialogs struct {
	spawned    []entity.SubdialogCallType
	delivered  []dialogpkg.DriveOutcome
}

func (s *fakeSubdialogs) Spawn(caller *entity.Dialog, callType entity.SubdialogCallType, callID, targetAgentID, content string) *entity.Dialog {
	s.spawned = append(s.spawned, callType)
	return entity.NewSubDialog("child-"+callID, caller.RootID, caller.OwnerAgentID)
}

func (s *fakeSubdialogs) TryDeliver(child *entity.Dialog, outcome dialogpkg.DriveOutcome, replyTarget *entity.SubdialogReplyTarget) bool {
	s.delivered = append(s.delivered, outcome)
	return true
}

type fakeQ4HChecker struct{ pending bool }

func (f fakeQ4HChecker) HasPending(dialogID string) bool { return f.pending }

type fakeSubPendingChecker struct{ pending []entity.PendingSubdialog }

func (f fakeSubPendingChecker) ForCaller(dialogID string) []entity.PendingSubdialog { return f.pending }

type fakeEvents struct {
	published []string
}

func (e *fakeEvents) Publish(eventType, rootID string, payload interface{}) {
	e.published = append(e.published, eventType)
}

// fakeLLMClient returns a scripted sequence of responses, one per call.
type fakeLLMClient struct {
	responses []*LLMResponse
	calls     int
}

func (c *fakeLLMClient) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	return c.next(), nil
}

func (c *fakeLLMClient) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	return c.next(), nil
}

func (c *fakeLLMClient) next() *LLMResponse {
	if c.calls >= len(c.responses) {
		return &LLMResponse{Content: "done"}
	}
	r := c.responses[c.calls]
	c.calls++
	return r
}

type fakeToolInvoker struct{}

func (fakeToolInvoker) Resolve(name string) (domaintool.Tool, bool) { return nil, false }
func (fakeToolInvoker) Invoke(ctx context.Context, t domaintool.Tool, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Success: true, Output: "ok"}, nil
}

// === Test harness ===

func newTestDriveLoop(t *testing.T, llm LLMClient, dialogs *fakeDialogStore, q4h q4hPendingChecker, pending subdialogPendingChecker, subdialogs Subdialogs) (*DriveLoop, *fakeEvents) {
	t.Helper()
	logger := zap.NewNop()

	registry := domaintool.NewInMemoryRegistry()
	policy := &domaintool.Policy{}
	enforcer := domaintool.NewPolicyEnforcer(policy, registry)
	guardrail := NewPolicyGuardrail(enforcer, nil, nil)

	caller := NewLLMCaller(llm, DefaultCallerConfig(), logger)
	health := NewContextHealthEvaluator(DefaultContextHealthConfig(128000), logger)
	toolRound := NewToolRoundExecutor(fakeToolInvoker{}, subdialogs, logger)
	runStates := NewRunStateRegistry(logger)
	events := &fakeEvents{}
	diligence := NewDiligenceBudget(t.TempDir(), fakeQ4HSink{}, events, logger)
	mindset := &fakeMindset{prompt: "be helpful", model: "test-model"}

	loop := NewDriveLoop(dialogs, runStates, caller, guardrail, registry, health, toolRound,
		diligence, subdialogs, q4h, pending, mindset, events, DefaultDriveLoopConfig(), logger)
	return loop, events
}

type fakeQ4HSink struct{}

func (fakeQ4HSink) Append(dialogID string, q entity.HumanQuestion) {}

// === Tests ===

func TestDriveWithPrompt_SettlesIdleOnPlainAnswer(t *testing.T) {
	dialogs := newFakeDialogStore()
	d := entity.NewRootDialog("d1", "agent1")
	dialogs.put(d)

	llm := &fakeLLMClient{responses: []*LLMResponse{{Content: "hello there"}}}
	loop, events := newTestDriveLoop(t, llm, dialogs, fakeQ4HChecker{}, fakeSubPendingChecker{}, &fakeSubdialogs{})

	prompt := &HumanPromptInput{Content: "hi", Origin: entity.OriginUser}
	outcome, err := loop.DriveWithPrompt(context.Background(), "d1", prompt, entity.DriveFlags{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.LastAssistantSayingContent != "hello there" {
		t.Errorf("expected last saying 'hello there', got %q", outcome.LastAssistantSayingContent)
	}

	foundIdle := false
	for _, e := range events.published {
		if e == "dlg_run_state_evt" {
			foundIdle = true
		}
	}
	if !foundIdle {
		t.Error("expected a dlg_run_state_evt to be published")
	}
}

func TestDriveWithPrompt_RejectsUnknownDialog(t *testing.T) {
	dialogs := newFakeDialogStore()
	loop, _ := newTestDriveLoop(t, &fakeLLMClient{}, dialogs, fakeQ4HChecker{}, fakeSubPendingChecker{}, &fakeSubdialogs{})

	_, err := loop.DriveWithPrompt(context.Background(), "missing", nil, entity.DriveFlags{}, false)
	if err == nil {
		t.Fatal("expected error for unknown dialog")
	}
}

func TestDriveWithPrompt_SkipsWhenPendingAndNoPrompt(t *testing.T) {
	dialogs := newFakeDialogStore()
	d := entity.NewRootDialog("d1", "agent1")
	dialogs.put(d)

	llm := &fakeLLMClient{responses: []*LLMResponse{{Content: "should not run"}}}
	loop, _ := newTestDriveLoop(t, llm, dialogs, fakeQ4HChecker{pending: true}, fakeSubPendingChecker{}, &fakeSubdialogs{})

	outcome, err := loop.DriveWithPrompt(context.Background(), "d1", nil, entity.DriveFlags{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.LastAssistantSayingContent != "" {
		t.Errorf("expected no-op outcome, got %+v", outcome)
	}
	if llm.calls != 0 {
		t.Errorf("expected LLM not to be called, got %d calls", llm.calls)
	}
}

func TestDriveWithPrompt_ToolCallSpawnsTeammate(t *testing.T) {
	dialogs := newFakeDialogStore()
	d := entity.NewRootDialog("d1", "agent1")
	dialogs.put(d)

	llm := &fakeLLMClient{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "c1", Name: "tellask", Arguments: map[string]interface{}{"targetAgentId": "agent2", "tellaskContent": "help"}}}},
		{Content: "carrying on"},
	}}
	subdialogs := &fakeSubdialogs{}
	loop, _ := newTestDriveLoop(t, llm, dialogs, fakeQ4HChecker{}, fakeSubPendingChecker{}, subdialogs)

	prompt := &HumanPromptInput{Content: "go", Origin: entity.OriginUser}
	outcome, err := loop.DriveWithPrompt(context.Background(), "d1", prompt, entity.DriveFlags{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subdialogs.spawned) != 1 || subdialogs.spawned[0] != entity.CallTypeTellask {
		t.Errorf("expected one tellask spawn, got %+v", subdialogs.spawned)
	}
	if outcome.LastAssistantSayingContent != "carrying on" {
		t.Errorf("expected final saying 'carrying on', got %q", outcome.LastAssistantSayingContent)
	}
}

func TestDriveWithPrompt_RejectsInterruptedWithoutUserPrompt(t *testing.T) {
	dialogs := newFakeDialogStore()
	d := entity.NewRootDialog("d1", "agent1")
	dialogs.put(d)

	loop, _ := newTestDriveLoop(t, &fakeLLMClient{}, dialogs, fakeQ4HChecker{}, fakeSubPendingChecker{}, &fakeSubdialogs{})
	loop.runStates.FinishInterrupted("d1", entity.StopUser, "paused")

	_, err := loop.DriveWithPrompt(context.Background(), "d1", nil, entity.DriveFlags{}, false)
	if err == nil {
		t.Fatal("expected error resuming an interrupted dialog without a user prompt or AllowResumeFromInterrupted")
	}
}
