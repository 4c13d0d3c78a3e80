package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitfeed/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config configures the GORM-backed event store.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Store implements storage.EventStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID  string    `gorm:"column:request_id;size:128;not null;uniqueIndex:idx_request_action,priority:1"`
	Action     string    `gorm:"column:action;size:16;not null;uniqueIndex:idx_request_action,priority:2"`
	Author     string    `gorm:"column:author;size:255;not null"`
	FromBranch string    `gorm:"column:from_branch;size:255"`
	ToBranch   string    `gorm:"column:to_branch;size:255;not null"`
	EventAt    time.Time `gorm:"column:event_at;not null;index:idx_event_at"`
	Repository string    `gorm:"column:repository;size:255;not null"`
	Message    string    `gorm:"column:message;size:512"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed event store.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	table := cfg.Table
	if table == "" {
		table = "repo_events"
	}
	store := &Store{db: gormDB, table: table}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertEvent inserts the record, or replaces the row sharing the same
// (request_id, action) pair. Last writer wins on redelivery.
func (s *Store) UpsertEvent(ctx context.Context, record storage.EventRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.RequestID == "" || record.Action == "" {
		return errors.New("request_id and action are required")
	}

	data := toRow(record)
	err := s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}, {Name: "action"}},
			DoUpdates: clause.AssignmentColumns([]string{"author", "from_branch", "to_branch", "event_at", "repository", "message", "updated_at"}),
		}).
		Create(&data).Error
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// ListRecent returns up to limit events ordered newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		return nil, nil
	}
	var data []row
	err := s.tableDB().
		WithContext(ctx).
		Order("event_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&data).Error
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	records := make([]storage.EventRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

// DeleteOlderThan removes events with a timestamp before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	result := s.tableDB().
		WithContext(ctx).
		Where("event_at < ?", cutoff).
		Delete(&row{})
	if result.Error != nil {
		return 0, wrapUnavailable(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func wrapUnavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if errors.Is(err, gorm.ErrInvalidDB) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	// Constraint violations and the like stay as-is; anything else from
	// the driver is treated as the store being unreachable.
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}

func toRow(record storage.EventRecord) row {
	return row{
		RequestID:  record.RequestID,
		Action:     record.Action,
		Author:     record.Author,
		FromBranch: record.FromBranch,
		ToBranch:   record.ToBranch,
		EventAt:    record.EventAt.UTC(),
		Repository: record.Repository,
		Message:    record.Message,
	}
}

func fromRow(data row) storage.EventRecord {
	return storage.EventRecord{
		RequestID:  data.RequestID,
		Author:     data.Author,
		Action:     data.Action,
		FromBranch: data.FromBranch,
		ToBranch:   data.ToBranch,
		EventAt:    data.EventAt.UTC(),
		Repository: data.Repository,
		Message:    data.Message,
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3", "":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
