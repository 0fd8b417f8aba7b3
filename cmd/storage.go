package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/storage"
	storagePostgres "github.com/frahmantamala/restaurant-pos/internal/storage/postgres"
	"github.com/frahmantamala/restaurant-pos/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// medium is the opened session storage with what the caller needs to serve
// and shut it down.
type medium struct {
	View   *storage.View
	Health map[string]rest.Pinger
	// Listen relays changes made by other processes; nil when the medium is
	// process local.
	Listen func(ctx context.Context) error
	Close  func()
}

func openStorage(ctx context.Context, cfg internal.StorageConfig, logger *slog.Logger) (*medium, error) {
	switch cfg.Driver {
	case internal.StorageDriverMemory:
		logger.Warn("session storage is in memory; sessions do not survive a restart")
		return &medium{
			View:   storage.NewView(storage.NewMemoryBackend(), storage.NewHub(logger), logger),
			Health: map[string]rest.Pinger{},
			Close:  func() {},
		}, nil

	case internal.StorageDriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.Source), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite session store: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		// one writer keeps SQLite from returning SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
		if err := storagePostgres.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate sqlite session store: %w", err)
		}

		return &medium{
			View:   storage.NewView(storagePostgres.NewKeyValueRepository(db), storage.NewHub(logger), logger),
			Health: map[string]rest.Pinger{"sqlite": sqlDB},
			Close: func() {
				if err := sqlDB.Close(); err != nil {
					logger.Error("sqlite close error", "error", err)
				}
			},
		}, nil

	case internal.StorageDriverPostgres:
		dbConn, err := initDB(cfg)
		if err != nil {
			return nil, err
		}
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: dbConn.DB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("failed to open gorm on postgres: %w", err)
		}

		pool, err := pgxpool.New(ctx, cfg.Source)
		if err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("failed to open notification pool: %w", err)
		}
		notifier := storagePostgres.NewNotifier(pool, cfg.NotifyChannel, logger)

		return &medium{
			View:   storage.NewView(storagePostgres.NewKeyValueRepository(db), notifier, logger),
			Health: map[string]rest.Pinger{"postgres": dbConn},
			Listen: notifier.Listen,
			Close: func() {
				pool.Close()
				if err := dbConn.Close(); err != nil {
					logger.Error("database close error", "error", err)
				}
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// initDB initializes the database connection
func initDB(cfg internal.StorageConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
