package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

type PostgresStore struct {
	cfg config.Store
	gdb *gorm.DB
}

func NewPostgresStore(cfg config.Store) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database,
	)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{
		cfg: cfg,
		gdb: gdb,
	}

	if cfg.AutoMigrate {
		if err := store.MigrateUp(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, nil
}

// NewSQLiteStore opens a sqlite-backed store. Used for local dev and
// in the test suites; the production deployment runs postgres.
func NewSQLiteStore(path string, autoMigrate bool) (*PostgresStore, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{
		cfg: config.Store{SQLitePath: path},
		gdb: gdb,
	}

	if autoMigrate {
		if err := store.MigrateUp(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, nil
}

func (s *PostgresStore) MigrateUp() error {
	err := s.gdb.AutoMigrate(
		&types.Session{},
		&types.AuditEntry{},
	)
	if err != nil {
		return err
	}

	for name, script := range MIGRATION_SCRIPTS {
		if err := script(s.gdb); err != nil {
			return fmt.Errorf("migration script %s failed: %w", name, err)
		}
		log.Debug().Str("script", name).Msg("migration script applied")
	}

	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Compile-time interface check:
var _ Store = (*PostgresStore)(nil)
