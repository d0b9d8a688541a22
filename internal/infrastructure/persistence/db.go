package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dialogkernel/driver/internal/infrastructure/config"
	"github.com/dialogkernel/driver/internal/infrastructure/persistence/models"
)

// NewDBConnection opens the optional GORM secondary index configured by
// cfg.Database — only sqlite is wired (the teacher's postgres dialector
// isn't in this module's dependency surface and nothing in the spec calls
// for a server-backed index; see DESIGN.md).
func NewDBConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Type != "sqlite" {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.HumanQuestionModel{}, &models.PendingSubdialogModel{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}
