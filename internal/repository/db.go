package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ConfigFrom maps the store section of the application config.
func ConfigFrom(c common.StoreConfig) Config {
	return Config{
		Driver:          c.Driver,
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		DialTimeout:     c.DialTimeout,
	}
}

// DB is an Ent SQL driver plus whatever owns the underlying connections.
type DB struct {
	Driver  *entsql.Driver
	Dialect string

	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to SQLite or PostgreSQL. PostgreSQL goes through a pgx pool
// wrapped as *sql.DB.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", cfg.Driver)

	switch cfg.Driver {
	case DriverSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, common.NewAppError("DATABASE_ERROR", "open sqlite", fmt.Errorf("%w: %w", common.ErrDatabase, err))
		}
		// ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
		logger.Info("successfully connected to database")
		return &DB{Driver: entsql.OpenDB(dialect.SQLite, db), Dialect: dialect.SQLite, logger: logger}, nil

	case DriverPostgres:
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, common.NewAppError("DATABASE_ERROR", "parse dsn", fmt.Errorf("%w: %w", common.ErrDatabase, err))
		}
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		pc.MinConns = cfg.MinConns
		if cfg.MaxConnLifetime > 0 {
			pc.MaxConnLifetime = cfg.MaxConnLifetime
		}
		if cfg.MaxConnIdleTime > 0 {
			pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "csf-extractor"

		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		pool, err := pgxpool.NewWithConfig(ctx, pc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, common.NewAppError("DATABASE_ERROR", "connect postgres", fmt.Errorf("%w: %w", common.ErrDatabase, err))
		}
		db := stdlib.OpenDBFromPool(pool)
		logger.Info("successfully connected to database")
		return &DB{Driver: entsql.OpenDB(dialect.Postgres, db), Dialect: dialect.Postgres, pool: pool, logger: logger}, nil
	}
	return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown store driver %q", cfg.Driver), common.ErrInvalidInput)
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.Driver.Close(); err != nil {
		d.logger.Error("failed to close sql driver", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := d.Driver.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", common.ErrDatabase, err)
	}
	d.logger.Debug("database ping successful")
	return nil
}
