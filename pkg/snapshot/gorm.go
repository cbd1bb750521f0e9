package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// record is the table row of a snapshot.
type record struct {
	Name      string `gorm:"primaryKey;size:128"`
	CreatedAt time.Time
	Data      []byte
}

func (record) TableName() string {
	return "config_snapshots"
}

// GORMStore keeps snapshots in SQLite or PostgreSQL.
type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore opens the database selected by cfg.Backend and migrates the
// snapshot table.
func NewGORMStore(cfg Config) (*GORMStore, error) {
	var dialector gorm.Dialector
	switch cfg.Backend {
	case BackendSQLite:
		dsn := cfg.SQLite.Path
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	case BackendPostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database backend: %s", cfg.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	if cfg.Backend == BackendPostgres {
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	} else {
		// A single connection keeps ":memory:" databases alive and shared.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}
	return &GORMStore{db: db}, nil
}

func (s *GORMStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := prepare(snap); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	rec := record{Name: snap.Name, CreatedAt: snap.CreatedAt, Data: data}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *GORMStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var rec record
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(name)
		}
		return nil, err
	}
	return decode(rec.Data)
}

func (s *GORMStore) List(ctx context.Context) ([]Info, error) {
	var recs []record
	if err := s.db.WithContext(ctx).Select("name", "created_at").Order("name").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Info, len(recs))
	for i, r := range recs {
		out[i] = Info{Name: r.Name, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *GORMStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(name)
	}
	return nil
}

func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
