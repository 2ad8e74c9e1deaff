package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// itemRow is the GORM model backing the snapshot table.
type itemRow struct {
	ID        string `gorm:"primaryKey"`
	Category  string `gorm:"index"`
	Content   string
	Payload   []byte
	UpdatedAt time.Time
}

func (itemRow) TableName() string { return "memory_items" }

// SQLiteStore persists item snapshots into a SQLite database via GORM.
// Use ":memory:" as DSN for an ephemeral store in tests.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the snapshot database.
func NewSQLiteStore(dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&itemRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_persister")),
	}, nil
}

// SaveItem implements Persister.
func (s *SQLiteStore) SaveItem(ctx context.Context, rec Record) error {
	row := itemRow{
		ID:        rec.ID,
		Category:  rec.Category,
		Content:   rec.Content,
		Payload:   rec.Payload,
		UpdatedAt: rec.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// DeleteItem implements Persister.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&itemRow{}, "id = ?", id).Error
}

// LoadAll implements Persister.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Record, error) {
	var rows []itemRow
	if err := s.db.WithContext(ctx).Order("updated_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = Record{
			ID:        row.ID,
			Category:  row.Category,
			Content:   row.Content,
			Payload:   row.Payload,
			UpdatedAt: row.UpdatedAt,
		}
	}
	return out, nil
}

// Close implements Persister.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
