package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/dialogkernel/driver/internal/domain/entity"
	"github.com/dialogkernel/driver/internal/infrastructure/persistence/models"
)

// Q4HIndex mirrors Q4HRegistry entries into the optional GORM secondary
// index so an operator tool can query human-question history across
// dialogs without walking run/ on disk. Writes are best-effort: the
// registry and the YAML snapshot remain authoritative.
type Q4HIndex struct {
	db *gorm.DB
}

func NewQ4HIndex(db *gorm.DB) *Q4HIndex {
	return &Q4HIndex{db: db}
}

// Upsert records or updates a question's row, including its answer once set.
func (x *Q4HIndex) Upsert(ctx context.Context, dialogID string, q entity.HumanQuestion) error {
	model := models.HumanQuestionModel{
		ID:             q.ID,
		DialogID:       dialogID,
		TellaskContent: q.TellaskContent,
		Kind:           string(q.Kind),
		AskedAt:        q.AskedAt,
		AnsweredAt:     q.AnsweredAt,
		Answer:         q.Answer,
	}
	return x.db.WithContext(ctx).Save(&model).Error
}

// Pending lists unanswered questions for dialogID, most recent first.
func (x *Q4HIndex) Pending(ctx context.Context, dialogID string) ([]models.HumanQuestionModel, error) {
	var rows []models.HumanQuestionModel
	err := x.db.WithContext(ctx).
		Where("dialog_id = ? AND answered_at IS NULL", dialogID).
		Order("asked_at desc").
		Find(&rows).Error
	return rows, err
}

// History lists every question raised against dialogID, answered or not.
func (x *Q4HIndex) History(ctx context.Context, dialogID string) ([]models.HumanQuestionModel, error) {
	var rows []models.HumanQuestionModel
	err := x.db.WithContext(ctx).
		Where("dialog_id = ?", dialogID).
		Order("asked_at desc").
		Find(&rows).Error
	return rows, err
}
