package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/dialogkernel/driver/internal/domain/entity"
	"github.com/dialogkernel/driver/internal/infrastructure/persistence/models"
)

// PendingIndex mirrors PendingRegistry entries into the optional GORM
// secondary index, so pending sub-dialog history remains queryable after
// the in-memory record is removed on delivery. Writes are best-effort: the
// registry and the YAML snapshot remain authoritative.
type PendingIndex struct {
	db *gorm.DB
}

func NewPendingIndex(db *gorm.DB) *PendingIndex {
	return &PendingIndex{db: db}
}

// Put records a newly dispatched pending sub-dialog.
func (x *PendingIndex) Put(ctx context.Context, rec entity.PendingSubdialog) error {
	model := models.PendingSubdialogModel{
		SubdialogID:    rec.SubdialogID,
		CallerDialogID: rec.CallerDialogID,
		CallID:         rec.CallID,
		CallType:       string(rec.CallType),
		TargetAgentID:  rec.TargetAgentID,
		TellaskContent: rec.TellaskContent,
		Course:         rec.Course,
		CreatedAt:      rec.CreatedAt,
	}
	return x.db.WithContext(ctx).Save(&model).Error
}

// Remove drops the row once the child's answer has been delivered upstream.
// The row is kept for history rather than hard-deleted; callers that want a
// resolved_at marker can extend the model, tracked in DESIGN.md as a
// possible follow-up.
func (x *PendingIndex) Remove(ctx context.Context, subdialogID string) error {
	return x.db.WithContext(ctx).Delete(&models.PendingSubdialogModel{}, "subdialog_id = ?", subdialogID).Error
}

// ForCaller lists every pending row recorded against callerDialogID.
func (x *PendingIndex) ForCaller(ctx context.Context, callerDialogID string) ([]models.PendingSubdialogModel, error) {
	var rows []models.PendingSubdialogModel
	err := x.db.WithContext(ctx).
		Where("caller_dialog_id = ?", callerDialogID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}
