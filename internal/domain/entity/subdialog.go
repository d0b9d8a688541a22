package entity

import "time"

// SubdialogCallType distinguishes the three intercepted teammate-call shapes
// per the glossary: tellask (A), tellaskSessionless (B), tellaskBack (C).
type SubdialogCallType string

const (
	CallTypeTellask           SubdialogCallType = "A"
	CallTypeTellaskSessionless SubdialogCallType = "B"
	CallTypeTellaskBack       SubdialogCallType = "C"
)

// PendingSubdialog is the §3 "Pending Sub-dialog Record": it anchors a
// dispatched teammate-tellask call to the child dialog created to answer it,
// until the child's terminal reply has been delivered upstream.
type PendingSubdialog struct {
	SubdialogID     string
	CallerDialogID  string
	CallID          string
	CallType        SubdialogCallType
	TargetAgentID   string
	TellaskContent  string
	Course          int
	CreatedAt       time.Time
}
