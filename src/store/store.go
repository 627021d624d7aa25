// Package store is the single writer to persistent state (spec.md §3
// "Ownership and lifecycle"). It is built the way the teacher's
// database.InitMainDB and src/repository package build their gorm layer:
// a dialector chosen by config, connection-pool tuning, AutoMigrate, and
// one narrow repository-style method set per entity rather than a
// generic CRUD layer.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"strategyexecutor/src/model"
)

// Store wraps the gorm connection. All entity-specific methods are
// defined in the sibling files of this package (batch.go, orders.go,
// oco.go, events.go, accounts.go).
type Store struct {
	db *gorm.DB
}

// Open builds a Store from Config, picking sqlite or postgres, tuning the
// connection pool the way db_main.go does, and running AutoMigrate for
// every model this module owns.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.LogLevel(cfg.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.BrokerAccount{},
		&model.BatchJob{},
		&model.BatchItem{},
		&model.Order{},
		&model.Fill{},
		&model.OcoGroup{},
		&model.PositionSnapshot{},
		&model.SchedulerRun{},
		&model.EventLog{},
		&model.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// WithDB lets tests and the Supervisor inject an already-open *gorm.DB
// (e.g. over sqlmock), mirroring the teacher's OrderRepository.WithDB.
func WithDB(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *gorm.DB { return s.db }
