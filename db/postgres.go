// Package db provides the relational persistence layer of the
// collaboration backend: the Document table holding the canonical
// reconciled content and the append-only OperationalTransform table of
// raw client edits. Both are stored in Postgres via gorm.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains the Postgres connection settings.
type Config struct {
	DSN             string
	ReplicaDSN      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres, tunes the connection pool and runs the
// schema migration for the collaboration tables.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := gdb.AutoMigrate(&Document{}, &OperationalTransform{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return gdb, nil
}

// OpenReplica connects to the read replica when one is configured and
// falls back to the primary handle otherwise. Replica reads are only
// used to seed reconciler buffers, so schema migration is skipped.
func OpenReplica(cfg Config, primary *gorm.DB) (*gorm.DB, error) {
	if cfg.ReplicaDSN == "" {
		return primary, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.ReplicaDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to replica: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access replica pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return gdb, nil
}
