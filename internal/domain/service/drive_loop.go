package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	dialogpkg "github.com/dialogkernel/driver/internal/domain/dialog"
	"github.com/dialogkernel/driver/internal/domain/entity"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
	"github.com/dialogkernel/driver/internal/infrastructure/eventbus"
)

const cautionRemediationText = "Your context is approaching its limit. Wrap up the current step concisely; avoid opening new large files or long-running tool calls unless essential."

const toollessViolationUtterance = "I need to use a tool to proceed here but didn't issue a call. Let me know how you'd like me to continue."

// HumanPromptInput is the optional human/system prompt a drive invocation
// carries (§4.1): a fresh user message, a delivered sub-dialog answer
// routed back through up-next, or a diligence/health-originated nudge.
type HumanPromptInput struct {
	Content              string
	MsgID                string
	Grammar              string
	UserLanguageCode     string
	SubdialogReplyTarget *entity.SubdialogReplyTarget
	Q4HAnswerCallIDs     []string
	Origin               entity.PromptOrigin
}

// DialogStore is the minimal dialog lookup surface the Drive Loop needs.
type DialogStore interface {
	Get(dialogID string) (*entity.Dialog, bool)
}

// MindsetProvider resolves a member's persona/system prompt, model choice,
// and the rest of the §4.4/§6 composition inputs (knowledge, lessons, the
// shared environment brief, the team roster, and shellSpecialists
// membership); a concrete file-backed implementation lives in the
// application wiring layer (the same `.minds/` directory the Diligence
// Budget reads).
type MindsetProvider interface {
	SystemPrompt(agentID string) string
	Model(agentID string) string
	Knowledge(agentID string) string
	Lessons(agentID string) string
	Env() string
	Roster() []string
	IsShellSpecialist(agentID string) bool
}

// Subdialogs is the narrow C7 surface the Drive Loop needs: dispatching a
// non-suspending teammate call and offering a completed sub-dialog's answer
// for delivery once its own drive returns.
type Subdialogs interface {
	Spawn(caller *entity.Dialog, callType entity.SubdialogCallType, callID, targetAgentID, tellaskContent string) *entity.Dialog
	TryDeliver(child *entity.Dialog, outcome dialogpkg.DriveOutcome, replyTarget *entity.SubdialogReplyTarget) bool
}

// q4hPendingChecker and subdialogPendingChecker back the §3 idle-state
// computation: a dialog with any outstanding Q4H or pending sub-dialog
// cannot settle to idle_waiting_user when its drive runs dry.
type q4hPendingChecker interface {
	HasPending(dialogID string) bool
}

type subdialogPendingChecker interface {
	ForCaller(dialogID string) []entity.PendingSubdialog
}

// DriveLoopConfig tunes the per-iteration behavior of the Drive Loop.
type DriveLoopConfig struct {
	Temperature         float64
	MaxDiligenceInject  int
	ContextMaxTokens    int
	ContextWarnRatio    float64
	ContextHardRatio    float64
	CompactKeepLast     int
	LoopWindowSize      int
	LoopDetectThreshold int
	LoopNameThreshold   int
}

func DefaultDriveLoopConfig() DriveLoopConfig {
	return DriveLoopConfig{
		Temperature:         0.7,
		MaxDiligenceInject:  0,
		ContextMaxTokens:    128000,
		ContextWarnRatio:    0.7,
		ContextHardRatio:    0.85,
		CompactKeepLast:     10,
		LoopWindowSize:      10,
		LoopDetectThreshold: 5,
		LoopNameThreshold:   8,
	}
}

// DriveLoop is the Drive Loop (C6, §4.1): the per-dialog iteration
// orchestrator. It assembles context, calls the LLM through C2, hands tool
// calls to C5, spawns/delivers sub-dialogs through C7, governs continuation
// through C9, and records every transition through C8, publishing lifecycle
// events to C11 along the way.
type DriveLoop struct {
	dialogs    DialogStore
	runStates  *RunStateRegistry
	caller     *LLMCaller
	policy     *PolicyGuardrail
	registry   domaintool.Registry
	health     *ContextHealthEvaluator
	toolRound  *ToolRoundExecutor
	diligence  *DiligenceBudget
	subdialogs Subdialogs
	q4h        q4hPendingChecker
	pending    subdialogPendingChecker
	mindset    MindsetProvider
	events     EventPublisher
	hooks      AgentHook
	middleware *MiddlewarePipeline
	config     DriveLoopConfig
	logger     *zap.Logger
}

func NewDriveLoop(
	dialogs DialogStore,
	runStates *RunStateRegistry,
	caller *LLMCaller,
	policy *PolicyGuardrail,
	registry domaintool.Registry,
	health *ContextHealthEvaluator,
	toolRound *ToolRoundExecutor,
	diligence *DiligenceBudget,
	subdialogs Subdialogs,
	q4h q4hPendingChecker,
	pending subdialogPendingChecker,
	mindset MindsetProvider,
	events EventPublisher,
	config DriveLoopConfig,
	logger *zap.Logger,
) *DriveLoop {
	return &DriveLoop{
		dialogs: dialogs, runStates: runStates, caller: caller, policy: policy,
		registry: registry, health: health, toolRound: toolRound, diligence: diligence,
		subdialogs: subdialogs, q4h: q4h, pending: pending, mindset: mindset, events: events,
		hooks: &NoOpHook{}, middleware: NewMiddlewarePipeline(logger), config: config, logger: logger,
	}
}

// SetHooks replaces the observational hook chain.
func (l *DriveLoop) SetHooks(h AgentHook) {
	if h != nil {
		l.hooks = h
	}
}

// SetMiddleware replaces the data-transformation pipeline run around each LLM call.
func (l *DriveLoop) SetMiddleware(mw *MiddlewarePipeline) {
	if mw != nil {
		l.middleware = mw
	}
}

// Drive satisfies scheduler.Driver: a bare drive with no fresh human prompt,
// used for every scheduler-triggered iteration.
func (l *DriveLoop) Drive(ctx context.Context, dialogID string, waitInQueue bool) error {
	_, err := l.DriveWithPrompt(ctx, dialogID, nil, entity.DriveFlags{}, waitInQueue)
	return err
}

// DriveWithPrompt is the full §4.1 entry point, used directly by operator
// input handlers (`input`, `answer`, `resume`) that carry a fresh prompt.
func (l *DriveLoop) DriveWithPrompt(ctx context.Context, dialogID string, prompt *HumanPromptInput, flags entity.DriveFlags, waitInQueue bool) (dialogpkg.DriveOutcome, error) {
	d, ok := l.dialogs.Get(dialogID)
	if !ok {
		return dialogpkg.DriveOutcome{}, entity.NewSupplyInvariant("dialog not found: " + dialogID)
	}

	var unlock func()
	if waitInQueue {
		unlock = d.Lock()
	} else {
		u, got := d.TryLock()
		if !got {
			return dialogpkg.DriveOutcome{}, entity.NewSupplyInvariant("dialog is locked: " + dialogID)
		}
		unlock = u
	}
	defer unlock()

	state := l.runStates.Get(dialogID)
	if !d.IsRoot() && state.Kind == entity.RunDead {
		return dialogpkg.DriveOutcome{}, entity.NewSupplyInvariant("sub-dialog is dead: " + dialogID)
	}
	if state.Kind == entity.RunProceedingStopRequested {
		return dialogpkg.DriveOutcome{}, entity.NewSupplyInvariant("dialog has a pending stop request: " + dialogID)
	}
	if state.Kind == entity.RunInterrupted {
		userOriginated := prompt != nil && prompt.Origin == entity.OriginUser
		if !flags.AllowResumeFromInterrupted && !userOriginated {
			return dialogpkg.DriveOutcome{}, entity.NewSupplyInvariant("dialog is interrupted; resume requires allowResumeFromInterrupted or a user prompt: " + dialogID)
		}
	}
	if prompt == nil {
		if l.q4h.HasPending(dialogID) || len(l.pending.ForCaller(dialogID)) > 0 {
			return dialogpkg.DriveOutcome{}, nil
		}
	}

	return l.driveLocked(ctx, d, prompt, flags)
}

func (l *DriveLoop) driveLocked(ctx context.Context, d *entity.Dialog, prompt *HumanPromptInput, flags entity.DriveFlags) (dialogpkg.DriveOutcome, error) {
	driveCtx, done := l.runStates.BeginDrive(ctx, d.SelfID)
	defer done()

	loopDetector := NewLoopDetector(l.config.LoopWindowSize, l.config.LoopDetectThreshold, l.config.LoopNameThreshold, l.logger)
	contextGuard := NewContextGuard(l.config.ContextMaxTokens, l.config.ContextWarnRatio, l.config.ContextHardRatio, l.logger)

	if prompt != nil {
		l.appendPrompt(d, prompt)
	}

	agentID := d.OwnerAgentID
	model := l.mindset.Model(agentID)
	producedToolResults := false
	step := 0

	for {
		step++
		if driveCtx.Err() != nil {
			reason, _ := l.runStates.StopReasonOf(d.SelfID)
			return l.exitInterrupted(d, orSystemStop(reason), "")
		}

		if producedToolResults && d.LastContextHealth != nil && d.LastContextHealth.Level == entity.HealthCaution && !d.CautionRemediationInjected {
			d.Append(entity.NewTransientGuide(d.NextGenseq(), cautionRemediationText))
			d.CautionRemediationInjected = true
		}

		systemPrompt := l.policy.EffectiveSystemPrompt(
			l.mindset.SystemPrompt(agentID),
			l.mindset.Knowledge(agentID),
			l.mindset.Lessons(agentID),
			l.mindset.Env(),
			l.mindset.Roster(),
			d.Reminders,
		)
		if prompt != nil && prompt.UserLanguageCode != "" {
			systemPrompt += "\n\nRespond in the user's language: " + prompt.UserLanguageCode + "."
		}

		toolDefs := l.policy.EffectiveTools(l.registry, l.mindset.IsShellSpecialist(agentID), d.IsRoot())
		llmMessages := make([]LLMMessage, 0, len(d.Messages)+1)
		llmMessages = append(llmMessages, LLMMessage{Role: "system", Content: systemPrompt})
		llmMessages = append(llmMessages, ProjectForProvider(d.Messages)...)
		llmMessages = sanitizeMessages(llmMessages)

		if check := contextGuard.Check(llmMessages); check.NeedCompaction {
			l.logger.Warn("drive loop: context window over hard ratio, compacting this call's projection",
				zap.String("dialog", d.SelfID), zap.Float64("ratio", check.Ratio))
			llmMessages = compactMessages(llmMessages, l.config.CompactKeepLast, l.logger)
		}

		llmMessages = l.middleware.RunBeforeModel(driveCtx, llmMessages, step)

		req := &LLMRequest{Messages: llmMessages, Tools: toolDefs, Model: model, Temperature: l.config.Temperature}
		l.hooks.BeforeLLMCall(driveCtx, req, step)

		stopReason, _ := l.runStates.StopReasonOf(d.SelfID)
		l.events.Publish("generating_start_evt", d.RootID, struct {
			DialogID string
			Model    string
		}{d.SelfID, model})

		resp, err := l.caller.Call(driveCtx, req, orSystemStop(stopReason), nil,
			func(attempt, maxRetries int, wait time.Duration, cause error) {
				l.events.Publish("llm_retry_evt", d.RootID, eventbus.LLMRetryPayload{
					DialogID:  d.SelfID,
					Phase:     "retrying",
					Attempt:   attempt,
					Total:     maxRetries,
					BackoffMs: wait.Milliseconds(),
				})
			},
			func(totalAttempts int, cause error) {
				l.events.Publish("llm_retry_evt", d.RootID, eventbus.LLMRetryPayload{
					DialogID:   d.SelfID,
					Phase:      "exhausted",
					Total:      totalAttempts,
					Suggestion: "check the LLM provider's status or raise guardrails.max_retries",
				})
			},
		)
		if err != nil {
			if reason, ok := entity.IsInterrupted(err); ok {
				return l.exitInterrupted(d, reason, "")
			}
			return l.exitInterrupted(d, entity.StopSystem, err.Error())
		}
		resp = l.middleware.RunAfterModel(driveCtx, resp, step)
		l.hooks.AfterLLMCall(driveCtx, resp, step)
		l.events.Publish("generating_finish_evt", d.RootID, struct {
			DialogID string
			Model    string
		}{d.SelfID, model})

		promptTokens := EstimateTokens(llmMessages)
		snapshot := l.health.Evaluate(promptTokens, resp.TokensUsed)
		d.LastContextHealth = &snapshot

		if l.policy.RequiresToolCall() && len(resp.ToolCalls) == 0 {
			violation := entity.NewPolicyViolation("fbr_toolless", "policy mandates a tool call but none was produced")
			l.logger.Warn("drive loop: policy violation", zap.String("dialog", d.SelfID), zap.Error(violation))
			d.Append(entity.NewSaying(d.NextGenseq(), toollessViolationUtterance))
			return l.exitSettled(d)
		}

		if resp.Content != "" {
			d.Append(entity.NewSaying(d.NextGenseq(), resp.Content))
		}

		calls := l.appendFuncCalls(d, resp.ToolCalls)
		producedToolResults = false

		if len(calls) > 0 {
			for _, tc := range resp.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				if reflection := loopDetector.Record(tc.Name, string(argsJSON)); reflection != "" {
					d.Append(entity.NewTransientGuide(d.NextGenseq(), reflection))
				}
				if reflection := loopDetector.RecordName(tc.Name); reflection != "" {
					d.Append(entity.NewTransientGuide(d.NextGenseq(), reflection))
				}
			}

			roundResult := l.toolRound.Run(driveCtx, d, orSystemStop(stopReason), func() int64 { return d.NextGenseq() }, calls)
			for _, m := range roundResult.Results {
				d.Append(m)
			}
			if roundResult.Err != nil {
				if reason, ok := entity.IsInterrupted(roundResult.Err); ok {
					return l.exitInterrupted(d, reason, "")
				}
				return l.exitInterrupted(d, entity.StopSystem, roundResult.Err.Error())
			}
			producedToolResults = len(roundResult.Results) > 0

			for _, tcall := range roundResult.TeammateCalls {
				l.dispatchTeammateCall(d, tcall)
			}

			if roundResult.SuspendForHuman {
				return l.exitSettled(d)
			}
		}

		if violation := l.policy.CheckPostGeneration(resp); violation != nil {
			d.Append(entity.NewSaying(d.NextGenseq(), "That action isn't permitted under the current policy; here's what I can do instead."))
			return l.exitSettled(d)
		}

		if next, ok := d.PopUpNext(); ok {
			prompt = fromUpNext(next)
			l.appendPrompt(d, prompt)
			continue
		}

		if len(calls) > 0 {
			continue
		}

		dec := l.diligence.Evaluate(d, languageCodeOf(prompt), l.config.MaxDiligenceInject, flags.SuppressDiligencePush)
		if dec.Kind == DiligencePushed {
			if next, ok := d.PopUpNext(); ok {
				prompt = fromUpNext(next)
				l.appendPrompt(d, prompt)
				continue
			}
		}

		break
	}

	return l.exitSettled(d)
}

func fromUpNext(p entity.UpNextPrompt) *HumanPromptInput {
	return &HumanPromptInput{
		Content: p.Content, MsgID: p.MsgID, Grammar: p.Grammar,
		UserLanguageCode: p.UserLanguageCode, SubdialogReplyTarget: p.SubdialogReplyTarget,
		Q4HAnswerCallIDs: p.Q4HAnswerCallIDs, Origin: p.Origin,
	}
}

func languageCodeOf(p *HumanPromptInput) string {
	if p == nil {
		return ""
	}
	return p.UserLanguageCode
}

func (l *DriveLoop) appendPrompt(d *entity.Dialog, p *HumanPromptInput) {
	d.Append(entity.NewPrompting(d.NextGenseq(), p.Content))
	if p.SubdialogReplyTarget != nil {
		d.Append(entity.NewEnvironment(d.NextGenseq(),
			fmt.Sprintf("teammate call anchor: owner=%s call=%s", p.SubdialogReplyTarget.OwnerDialogID, p.SubdialogReplyTarget.CallID)))
	}
}

func (l *DriveLoop) appendFuncCalls(d *entity.Dialog, toolCalls []entity.ToolCallInfo) []entity.Message {
	calls := make([]entity.Message, 0, len(toolCalls))
	for _, tc := range toolCalls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		call := entity.NewFuncCall(d.NextGenseq(), tc.ID, tc.Name, string(argsJSON))
		d.Append(call)
		calls = append(calls, call)
	}
	return calls
}

func (l *DriveLoop) dispatchTeammateCall(d *entity.Dialog, tcall TeammateCall) {
	l.events.Publish("teammate_call_start_evt", d.RootID, struct {
		DialogID string
		CallType string
	}{d.SelfID, tcall.ToolName})

	if tcall.ToolName == "tellaskSessionless" {
		return // spawned synchronously by the Tool Round Executor itself, before the round returned
	}

	targetAgentID, _ := tcall.Args["targetAgentId"].(string)
	content, _ := tcall.Args["tellaskContent"].(string)
	callType := entity.CallTypeTellask
	if tcall.ToolName == "tellaskBack" {
		callType = entity.CallTypeTellaskBack
	}
	l.subdialogs.Spawn(d, callType, tcall.CallID, targetAgentID, content)
}

func (l *DriveLoop) exitInterrupted(d *entity.Dialog, reason entity.StopReason, detail string) (dialogpkg.DriveOutcome, error) {
	l.runStates.FinishInterrupted(d.SelfID, reason, detail)
	state := entity.Interrupted(reason, detail)
	l.events.Publish("dlg_run_state_evt", d.RootID, struct {
		DialogID string
		State    string
	}{d.SelfID, state.String()})
	return l.buildOutcome(d), entity.NewInterrupted(reason)
}

func (l *DriveLoop) exitSettled(d *entity.Dialog) (dialogpkg.DriveOutcome, error) {
	l.finalizeIdleOrBlocked(d)
	outcome := l.buildOutcome(d)
	if !d.IsRoot() {
		l.subdialogs.TryDeliver(d, outcome, nil)
	}
	return outcome, nil
}

func (l *DriveLoop) finalizeIdleOrBlocked(d *entity.Dialog) {
	q4hPending := l.q4h.HasPending(d.SelfID)
	subPending := len(l.pending.ForCaller(d.SelfID)) > 0

	var state entity.RunState
	switch {
	case q4hPending && subPending:
		state = entity.BlockedOn(entity.BlockedNeedsHumanInputAndSubdlgs)
		l.runStates.FinishBlocked(d.SelfID, entity.BlockedNeedsHumanInputAndSubdlgs)
	case q4hPending:
		state = entity.BlockedOn(entity.BlockedNeedsHumanInput)
		l.runStates.FinishBlocked(d.SelfID, entity.BlockedNeedsHumanInput)
	case subPending:
		state = entity.BlockedOn(entity.BlockedWaitingForSubdialogs)
		l.runStates.FinishBlocked(d.SelfID, entity.BlockedWaitingForSubdialogs)
	default:
		state = entity.Idle()
		l.runStates.FinishIdle(d.SelfID)
	}

	l.events.Publish("dlg_run_state_evt", d.RootID, struct {
		DialogID string
		State    string
	}{d.SelfID, state.String()})
}

func (l *DriveLoop) buildOutcome(d *entity.Dialog) dialogpkg.DriveOutcome {
	content, genseq := d.LastAssistantSaying()
	return dialogpkg.DriveOutcome{
		LastAssistantSayingContent: content,
		LastAssistantSayingGenseq:  genseq,
		LastFunctionCallGenseq:     d.LastFunctionCallGenseq(),
	}
}
