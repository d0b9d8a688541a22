package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

type fakeSpawner struct {
	calls []entity.SubdialogCallType
}

func (s *fakeSpawner) Spawn(caller *entity.Dialog, callType entity.SubdialogCallType, callID, targetAgentID, tellaskContent string) *entity.Dialog {
	s.calls = append(s.calls, callType)
	return entity.NewSubDialog("child-"+callID, caller.RootID, targetAgentID)
}

func TestToolRoundExecutor_TellaskSessionlessSpawnsSynchronously(t *testing.T) {
	spawner := &fakeSpawner{}
	exec := NewToolRoundExecutor(fakeToolInvoker{}, spawner, zap.NewNop())

	caller := entity.NewRootDialog("d1", "agent1")
	call := entity.NewFuncCall(1, "c1", "tellaskSessionless", `{"targetAgentId":"agent2","tellaskContent":"help"}`)

	result := exec.Run(context.Background(), caller, entity.StopUser, func() int64 { return 2 }, []entity.Message{call})

	if len(spawner.calls) != 1 || spawner.calls[0] != entity.CallTypeTellaskSessionless {
		t.Fatalf("expected a synchronous tellaskSessionless spawn, got %+v", spawner.calls)
	}
	if !result.SuspendForHuman {
		t.Error("expected the round to suspend for human/sub-dialog handoff")
	}
	if len(result.TeammateCalls) != 1 || result.TeammateCalls[0].ToolName != "tellaskSessionless" {
		t.Errorf("expected the intercepted call to still be recorded, got %+v", result.TeammateCalls)
	}
}

func TestToolRoundExecutor_RecallTaskDoc(t *testing.T) {
	exec := NewToolRoundExecutor(fakeToolInvoker{}, &fakeSpawner{}, zap.NewNop())
	caller := entity.NewRootDialog("d1", "agent1")
	caller.TaskDoc = "build the widget"

	call := entity.NewFuncCall(1, "c1", "recall_task_doc", `{}`)
	result := exec.Run(context.Background(), caller, entity.StopUser, func() int64 { return 2 }, []entity.Message{call})

	if len(result.Results) != 1 || result.Results[0].Content != "build the widget" {
		t.Fatalf("expected the task doc content back, got %+v", result.Results)
	}
}

func TestToolRoundExecutor_ChangeMindReplacesReminders(t *testing.T) {
	exec := NewToolRoundExecutor(fakeToolInvoker{}, &fakeSpawner{}, zap.NewNop())
	caller := entity.NewRootDialog("d1", "agent1")
	caller.Reminders = []string{"old reminder"}

	call := entity.NewFuncCall(1, "c1", "change_mind", `{"reminders":["new one","another"]}`)
	result := exec.Run(context.Background(), caller, entity.StopUser, func() int64 { return 2 }, []entity.Message{call})

	if len(result.Results) != 1 || result.Results[0].IsError {
		t.Fatalf("expected change_mind to succeed, got %+v", result.Results)
	}
	if len(caller.Reminders) != 2 || caller.Reminders[0] != "new one" {
		t.Errorf("expected reminders replaced, got %+v", caller.Reminders)
	}
}

func TestToolRoundExecutor_ChangeMindRejectedForSubDialog(t *testing.T) {
	exec := NewToolRoundExecutor(fakeToolInvoker{}, &fakeSpawner{}, zap.NewNop())
	caller := entity.NewSubDialog("sub1", "root1", "agent1")

	call := entity.NewFuncCall(1, "c1", "change_mind", `{"reminders":["x"]}`)
	result := exec.Run(context.Background(), caller, entity.StopUser, func() int64 { return 2 }, []entity.Message{call})

	if len(result.Results) != 1 || !result.Results[0].IsError {
		t.Fatalf("expected change_mind to be rejected for a sub-dialog, got %+v", result.Results)
	}
}
