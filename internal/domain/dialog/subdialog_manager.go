package dialog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// Store is the minimal dialog lookup/creation surface C7 needs; the
// application wiring backs it with the persistence layer's in-memory index.
type Store interface {
	Get(dialogID string) (*entity.Dialog, bool)
	Create(d *entity.Dialog)
}

// Scheduler is the minimal C10 surface C7 needs to enqueue a drive without
// importing the scheduler package directly.
type Scheduler interface {
	NotifyNeedsDrive(dialogID string)
}

// Q4HChecker reports whether a dialog currently has an unanswered human
// question — C7 must not deliver a sub-dialog answer into a caller that is
// itself blocked on Q4H until the Q4H resolves.
type Q4HChecker interface {
	HasPending(dialogID string) bool
}

// DriveOutcome is the subset of the Drive Loop's (C6) §4.1 outputs C7 needs
// to decide whether and how to deliver a sub-dialog's answer.
type DriveOutcome struct {
	LastAssistantSayingContent string
	LastAssistantSayingGenseq  int64
	LastFunctionCallGenseq     int64
}

// Manager is the Sub-dialog Manager (C7, §4.6).
type Manager struct {
	store     Store
	pending   *PendingRegistry
	scheduler Scheduler
	q4h       Q4HChecker
	logger    *zap.Logger
}

func NewManager(store Store, pending *PendingRegistry, scheduler Scheduler, q4h Q4HChecker, logger *zap.Logger) *Manager {
	return &Manager{store: store, pending: pending, scheduler: scheduler, q4h: q4h, logger: logger}
}

// Spawn creates a child dialog for a dispatched teammate-tellask call,
// records its pending record, queues the formatted assignment prompt, and
// schedules its own drive via C10. Used for tellaskSessionless synchronously
// from the Tool Round Executor, and for tellask/tellaskBack from the Drive
// Loop after a round that intercepted them without suspending.
func (m *Manager) Spawn(caller *entity.Dialog, callType entity.SubdialogCallType, callID, targetAgentID, tellaskContent string) *entity.Dialog {
	child := entity.NewSubDialog(uuid.New().String(), caller.RootID, targetAgentID)
	child.DisableDiligencePush = true // suppressDiligencePush=true per §4.2 step 3
	child.PushUpNext(entity.UpNextPrompt{
		Content: fmt.Sprintf("A teammate has asked you:\n\n%s", tellaskContent),
		Origin:  entity.OriginUser,
	})
	m.store.Create(child)

	m.pending.Put(entity.PendingSubdialog{
		SubdialogID:    child.SelfID,
		CallerDialogID: caller.SelfID,
		CallID:         callID,
		CallType:       callType,
		TargetAgentID:  targetAgentID,
		TellaskContent: tellaskContent,
		Course:         caller.Course,
		CreatedAt:      time.Now(),
	})

	m.logger.Info("sub-dialog spawned",
		zap.String("subdialog", child.SelfID),
		zap.String("caller", caller.SelfID),
		zap.String("call_type", string(callType)),
	)

	m.scheduler.NotifyNeedsDrive(child.SelfID)
	return child
}

// TryDeliver implements §4.6: after a sub-dialog's drive returns a non-empty
// LastAssistantSayingContent, decide whether its answer can be delivered to
// the caller yet, and if so, append the tellask_result_msg/func_result_msg
// pair to the caller's log and remove the pending record.
func (m *Manager) TryDeliver(child *entity.Dialog, outcome DriveOutcome, replyTarget *entity.SubdialogReplyTarget) (delivered bool) {
	if outcome.LastAssistantSayingContent == "" {
		return false
	}
	if child.HasUpNext() {
		return false
	}
	if m.q4h.HasPending(child.SelfID) {
		return false
	}
	if outcome.LastFunctionCallGenseq > outcome.LastAssistantSayingGenseq {
		// In-progress: a later tool call has already been issued. Delivering
		// now would race the child's own next generation.
		return false
	}
	if outcome.LastAssistantSayingGenseq <= 0 {
		m.logger.Warn("sub-dialog delivery invariant violated: no saying genseq", zap.String("subdialog", child.SelfID))
		return false
	}

	if replyTarget != nil {
		if rec, ok := m.pending.FindByCallID(replyTarget.OwnerDialogID, replyTarget.CallID); ok {
			if m.deliverTo(rec, child, outcome.LastAssistantSayingContent) {
				return true
			}
		}
		// fall through to assigned-caller delivery
	}

	rec, ok := m.pending.Get(child.SelfID)
	if !ok {
		m.logger.Debug("sub-dialog delivery: no pending record found",
			zap.String("subdialog", child.SelfID),
			zap.Int("total_pending", m.pending.Count()),
		)
		return false
	}
	return m.deliverTo(rec, child, outcome.LastAssistantSayingContent)
}

func (m *Manager) deliverTo(rec entity.PendingSubdialog, child *entity.Dialog, content string) bool {
	caller, ok := m.store.Get(rec.CallerDialogID)
	if !ok {
		m.logger.Warn("sub-dialog delivery: caller dialog missing", zap.String("caller", rec.CallerDialogID))
		return false
	}

	unlock := caller.Lock()
	defer unlock()

	genseq := caller.NextGenseq()
	caller.Append(entity.NewTellaskResult(genseq, rec.CallID, child.SelfID, content))
	caller.Append(entity.NewFuncResult(caller.NextGenseq(), rec.CallID, content, false))
	caller.NeedsDrive = true

	m.pending.Remove(rec.SubdialogID)
	m.scheduler.NotifyNeedsDrive(caller.SelfID)

	m.logger.Info("sub-dialog answer delivered",
		zap.String("subdialog", rec.SubdialogID), zap.String("caller", rec.CallerDialogID))
	return true
}
