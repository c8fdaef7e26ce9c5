package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/cinder/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/stats"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and declares the schema for all
// three stores. A single connection keeps every statement serialized at the
// database level; per-entity ordering is handled above this layer.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&notes.Note{}, &chat.Chat{}, &stats.DailyBucket{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
