package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
)

// ToolInvoker is the dispatch primitive C5 needs; infrastructure/tool.Executor
// satisfies it.
type ToolInvoker interface {
	Resolve(name string) (domaintool.Tool, bool)
	Invoke(ctx context.Context, t domaintool.Tool, args map[string]interface{}) (*domaintool.Result, error)
}

// Spawner is the narrow C7 surface the Tool Round Executor needs: spawning a
// tellaskSessionless call's child dialog synchronously, inside the round,
// before it suspends the caller for a human/sub-dialog handoff.
type Spawner interface {
	Spawn(caller *entity.Dialog, callType entity.SubdialogCallType, callID, targetAgentID, tellaskContent string) *entity.Dialog
}

// TeammateCall is an intercepted tellask/tellaskSessionless/tellaskBack
// func_call_msg — C5 never executes these locally, it hands them back to
// the caller so the Sub-dialog Manager (C7) can spawn the child dialog.
type TeammateCall struct {
	CallID   string
	ToolName string
	Args     map[string]interface{}
}

// ToolRoundResult is C5's output (§4.2): the ordered paired call+result
// messages to append to the dialog log, the teammate calls intercepted
// this round, and whether the round must suspend for a human/sub-dialog
// handoff (set only by tellaskSessionless).
type ToolRoundResult struct {
	Results         []entity.Message
	TeammateCalls   []TeammateCall
	SuspendForHuman bool
	// Err is set to an Interrupted DriverError if the abort signal fired
	// mid-round; the caller must treat the round as incomplete.
	Err error
}

// ToolRoundExecutor is C5 (§4.2): strict left-to-right dispatch of a batch
// of func_call_msg entries.
type ToolRoundExecutor struct {
	invoker    ToolInvoker
	subdialogs Spawner
	logger     *zap.Logger
}

func NewToolRoundExecutor(invoker ToolInvoker, subdialogs Spawner, logger *zap.Logger) *ToolRoundExecutor {
	return &ToolRoundExecutor{invoker: invoker, subdialogs: subdialogs, logger: logger}
}

// Run executes calls strictly left to right, never concurrently, so a later
// call in the same batch can rely on an earlier call's side effects having
// already landed. tellaskSessionless spawns its child sub-dialog synchronously
// (per §4.2 step 3) and stops the round immediately with SuspendForHuman=true,
// executing no further calls in the batch; tellask and tellaskBack are
// recorded as TeammateCalls but do not suspend the round — the caller's own
// drive keeps going while the child answers, and the Drive Loop spawns them
// once the round returns.
func (e *ToolRoundExecutor) Run(ctx context.Context, caller *entity.Dialog, reason entity.StopReason, startGenseq func() int64, calls []entity.Message) ToolRoundResult {
	var out ToolRoundResult

	for _, call := range calls {
		if !call.IsFuncCall() {
			continue
		}

		if ctx.Err() != nil {
			out.Err = entity.NewInterrupted(orSystemStop(reason))
			return out
		}

		if call.ToolName == "recall_task_doc" {
			out.Results = append(out.Results, e.recallTaskDoc(caller, call, startGenseq()))
			continue
		}
		if call.ToolName == "change_mind" {
			out.Results = append(out.Results, e.changeMind(caller, call, startGenseq()))
			continue
		}

		if entity.IsTeammateCallName(call.ToolName) {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(call.Arguments), &args)
			out.TeammateCalls = append(out.TeammateCalls, TeammateCall{
				CallID: call.CallID, ToolName: call.ToolName, Args: args,
			})
			if call.ToolName == "tellaskSessionless" {
				targetAgentID, _ := args["targetAgentId"].(string)
				content, _ := args["tellaskContent"].(string)
				e.subdialogs.Spawn(caller, entity.CallTypeTellaskSessionless, call.CallID, targetAgentID, content)
				out.SuspendForHuman = true
				return out
			}
			continue
		}

		result, err := e.runOne(ctx, startGenseq(), call)
		if err != nil {
			out.Err = err
			return out
		}
		out.Results = append(out.Results, result)
	}
	return out
}

// recallTaskDoc implements the Task-Doc recall intrinsic (§4.4): it hands
// back whatever task-document content is attached to the calling dialog.
// The driver carries this content opaquely — it never defines the
// document's format (a Non-goal).
func (e *ToolRoundExecutor) recallTaskDoc(caller *entity.Dialog, call entity.Message, genseq int64) entity.Message {
	if caller.TaskDoc == "" {
		return entity.NewFuncResult(genseq, call.CallID, "no task document is set for this dialog", false)
	}
	return entity.NewFuncResult(genseq, call.CallID, caller.TaskDoc, false)
}

// changeMind implements the root-dialog-only "change_mind" intrinsic
// (§4.4): it replaces the dialog's entire standing-reminder set in one
// call, rather than the incremental add/delete/update the reminder CRUD
// tools offer — useful when the direction of a long-running root dialog
// needs to pivot wholesale. Restricted to root dialogs: a sub-dialog's
// reminders are scoped to a single tellask assignment and aren't meant to
// be bulk-redirected mid-flight.
func (e *ToolRoundExecutor) changeMind(caller *entity.Dialog, call entity.Message, genseq int64) entity.Message {
	if !caller.IsRoot() {
		return entity.NewFuncResult(genseq, call.CallID, "change_mind is only available to root dialogs", true)
	}
	var args map[string]interface{}
	_ = json.Unmarshal([]byte(call.Arguments), &args)
	raw, _ := args["reminders"].([]interface{})
	reminders := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok && s != "" {
			reminders = append(reminders, s)
		}
	}
	caller.Reminders = reminders
	return entity.NewFuncResult(genseq, call.CallID, "standing reminders replaced", false)
}

// runOne executes a single resolved tool call. It returns an error only
// when the abort signal fired during invocation (an Interrupted
// DriverError) — an ordinary tool failure is captured as error text in the
// returned func_result_msg instead, per §4.2 step 5.
func (e *ToolRoundExecutor) runOne(ctx context.Context, genseq int64, call entity.Message) (entity.Message, error) {
	t, ok := e.invoker.Resolve(call.ToolName)
	if !ok {
		e.logger.Warn("tool round: unknown tool", zap.String("tool", call.ToolName))
		return entity.NewFuncResult(genseq, call.CallID, fmt.Sprintf("Tool '%s' not found", call.ToolName), true), nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		if t.ArgsValidation() == domaintool.ValidationStrict {
			return entity.NewFuncResult(genseq, call.CallID, fmt.Sprintf("Invalid arguments: %v", err), true), nil
		}
		args = map[string]interface{}{}
	}

	res, err := e.invoker.Invoke(ctx, t, args)
	if err != nil {
		if reason, ok := entity.IsInterrupted(err); ok {
			return entity.Message{}, entity.NewInterrupted(reason)
		}
		if ctx.Err() != nil {
			return entity.Message{}, entity.NewInterrupted(entity.StopSystem)
		}
		return entity.NewFuncResult(genseq, call.CallID, err.Error(), true), nil
	}
	if !res.Success {
		return entity.NewFuncResult(genseq, call.CallID, res.Error, true), nil
	}
	return entity.NewFuncResult(genseq, call.CallID, res.DisplayOrOutput(), false), nil
}
