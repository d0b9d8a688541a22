package entity

import "sync"

// DialogStatus is the coarse lifecycle status of a Dialog.
type DialogStatus string

const (
	StatusRunning   DialogStatus = "running"
	StatusCompleted DialogStatus = "completed"
	StatusArchived  DialogStatus = "archived"
)

// UpNextPrompt is a queued follow-up prompt consumed at the start of the
// next drive iteration (§3 "up-next").
type UpNextPrompt struct {
	Content             string
	MsgID               string
	Grammar             string
	UserLanguageCode    string
	SubdialogReplyTarget *SubdialogReplyTarget
	Q4HAnswerCallIDs    []string
	Origin              PromptOrigin
}

// PromptOrigin classifies why a prompt was injected.
type PromptOrigin string

const (
	OriginUser          PromptOrigin = "user"
	OriginDiligencePush PromptOrigin = "diligence_push"
	OriginHealth        PromptOrigin = "health"
)

// SubdialogReplyTarget pins a delivered sub-dialog answer to a specific
// caller-side call site rather than the single assigned-caller fallback.
type SubdialogReplyTarget struct {
	OwnerDialogID string
	CallType      SubdialogCallType
	CallID        string
}

// DriveFlags are optional modifiers to a drive invocation.
type DriveFlags struct {
	SuppressDiligencePush      bool
	AllowResumeFromInterrupted bool
	SkipTaskdoc                bool
}

// Dialog is the abstract aggregate described in §3. A Dialog's mutex must be
// held by any component mutating its message log or run-state; the lock is
// exported so the drive loop can acquire it for the whole duration of a drive
// ("exclusive re-entrant-free mutex", §5).
type Dialog struct {
	mu sync.Mutex

	SelfID      string
	RootID      string
	OwnerAgentID string

	Messages []Message
	UpNext   []UpNextPrompt
	Reminders []string

	Genseq int64
	Course int

	Status   DialogStatus
	RunState RunState

	NeedsDrive bool

	// DisableDiligencePush mirrors the member/team configuration flag.
	DisableDiligencePush bool
	// DiligencePushRemainingBudget is C9's per-dialog remaining budget.
	DiligencePushRemainingBudget int

	// CautionRemediationInjected gates the once-per-dialog-instance rule
	// from §9 Open Question (b); see DESIGN.md for the resolved reading.
	CautionRemediationInjected bool

	LastContextHealth *ContextHealthSnapshot

	// TaskDoc is the optional task-document content surfaced to the model on
	// request via the recall_task_doc intrinsic; the driver doesn't define
	// the document's format (Non-goal), only carries whatever was set.
	TaskDoc string
}

// NewRootDialog constructs a root dialog where SelfID == RootID.
func NewRootDialog(id, ownerAgentID string) *Dialog {
	return &Dialog{
		SelfID:       id,
		RootID:       id,
		OwnerAgentID: ownerAgentID,
		Status:       StatusRunning,
		RunState:     Idle(),
		NeedsDrive:   false,
	}
}

// NewSubDialog constructs a sub-dialog owned by rootID.
func NewSubDialog(id, rootID, ownerAgentID string) *Dialog {
	return &Dialog{
		SelfID:       id,
		RootID:       rootID,
		OwnerAgentID: ownerAgentID,
		Status:       StatusRunning,
		RunState:     Idle(),
		NeedsDrive:   false,
	}
}

// IsRoot reports whether d is a root dialog (selfId == rootId).
func (d *Dialog) IsRoot() bool { return d.SelfID == d.RootID }

// Lock acquires the dialog's exclusive mutex. Callers must Unlock via the
// returned func, typically with `defer`.
func (d *Dialog) Lock() func() {
	d.mu.Lock()
	return d.mu.Unlock
}

// TryLock attempts to acquire the dialog's mutex without blocking.
func (d *Dialog) TryLock() (func(), bool) {
	if d.mu.TryLock() {
		return d.mu.Unlock, true
	}
	return nil, false
}

// NextGenseq increments and returns the dialog's generation sequence.
// Must be called while holding the dialog lock.
func (d *Dialog) NextGenseq() int64 {
	d.Genseq++
	return d.Genseq
}

// Append appends a message to the dialog log. Must be called while holding
// the dialog lock.
func (d *Dialog) Append(msgs ...Message) {
	d.Messages = append(d.Messages, msgs...)
}

// LastFunctionCallGenseq returns the genseq of the last func_call_msg in the
// log, or 0 if none exists.
func (d *Dialog) LastFunctionCallGenseq() int64 {
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].Kind == KindFuncCall {
			return d.Messages[i].Genseq
		}
	}
	return 0
}

// LastAssistantSaying returns the last saying_msg in the log and its
// genseq, or ("", 0) if none exists.
func (d *Dialog) LastAssistantSaying() (string, int64) {
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].Kind == KindSaying {
			return d.Messages[i].Content, d.Messages[i].Genseq
		}
	}
	return "", 0
}

// PopUpNext removes and returns the first queued up-next prompt, if any.
func (d *Dialog) PopUpNext() (UpNextPrompt, bool) {
	if len(d.UpNext) == 0 {
		return UpNextPrompt{}, false
	}
	p := d.UpNext[0]
	d.UpNext = d.UpNext[1:]
	return p, true
}

// PushUpNext queues a follow-up prompt for the next iteration.
func (d *Dialog) PushUpNext(p UpNextPrompt) {
	d.UpNext = append(d.UpNext, p)
}

// HasUpNext reports whether an up-next prompt is queued.
func (d *Dialog) HasUpNext() bool { return len(d.UpNext) > 0 }
