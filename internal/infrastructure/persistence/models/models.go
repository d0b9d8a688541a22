// Package models holds the GORM row shapes for the optional queryable
// secondary index: the YAML snapshot files under run/ remain the source of
// truth, these tables exist only so an operator tool can query
// Q4H/pending-subdialog history without walking the filesystem.
package models

import "time"

// HumanQuestionModel indexes entity.HumanQuestion rows for query.
type HumanQuestionModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	DialogID       string `gorm:"index;size:64;not null"`
	TellaskContent string `gorm:"type:text"`
	Kind           string `gorm:"size:64"`
	AskedAt        time.Time
	AnsweredAt     *time.Time
	Answer         string `gorm:"type:text"`
}

func (HumanQuestionModel) TableName() string { return "human_questions" }

// PendingSubdialogModel indexes entity.PendingSubdialog rows for query.
type PendingSubdialogModel struct {
	SubdialogID    string `gorm:"primaryKey;size:64"`
	CallerDialogID string `gorm:"index;size:64;not null"`
	CallID         string `gorm:"size:64"`
	CallType       string `gorm:"size:8"`
	TargetAgentID  string `gorm:"size:64"`
	TellaskContent string `gorm:"type:text"`
	Course         int
	CreatedAt      time.Time
}

func (PendingSubdialogModel) TableName() string { return "pending_subdialogs" }
