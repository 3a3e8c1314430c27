package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for database/sql and sqlx

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// ErrConnectingFailed is joined with the driver error when a database cannot be reached.
var ErrConnectingFailed = fmt.Errorf("%w: connecting to the database failed", master.ErrUnavailable)

// PGXPoolConfig parses dsn and applies the pool settings of cfg.
func PGXPoolConfig(dsn string, cfg PostgresConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres dsn: %w", ErrInvalidConfig, err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	return poolConfig, nil
}

// NewPGXPool opens and pings a pgx pool on dsn.
func NewPGXPool(ctx context.Context, dsn string, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := PGXPoolConfig(dsn, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, master.Unavailable(ErrConnectingFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, master.Unavailable(ErrConnectingFailed, err)
	}

	return pool, nil
}

// OpenSQLDB opens and pings a database/sql handle on dsn through lib/pq.
func OpenSQLDB(ctx context.Context, dsn string, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres dsn: %w", ErrInvalidConfig, err)
	}

	configurePool(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, master.Unavailable(ErrConnectingFailed, err)
	}

	return db, nil
}

// OpenSQLX opens and pings a sqlx handle on dsn through lib/pq.
func OpenSQLX(ctx context.Context, dsn string, cfg PostgresConfig) (*sqlx.DB, error) {
	db, err := OpenSQLDB(ctx, dsn, cfg)
	if err != nil {
		return nil, err
	}

	return sqlx.NewDb(db, "postgres"), nil
}

func configurePool(db *sql.DB, cfg PostgresConfig) {
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
}
