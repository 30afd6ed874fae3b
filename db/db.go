package db

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"repufi/config"
	"repufi/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS score_runs (
	id          UUID PRIMARY KEY,
	username    TEXT NOT NULL,
	total_score NUMERIC(3,1) NOT NULL,
	breakdown   JSONB NOT NULL,
	details     JSONB NOT NULL,
	overridden  BOOLEAN NOT NULL DEFAULT FALSE,
	computed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS score_runs_username_computed_at
	ON score_runs (username, computed_at DESC);
CREATE TABLE IF NOT EXISTS tracked_users (
	username      TEXT PRIMARY KEY,
	last_computed TIMESTAMPTZ NOT NULL
);
`

// DB is the score history store.
type DB struct {
	conn *sqlx.DB
	// Prepared statements cache
	stmtCache struct {
		sync.RWMutex
		statements map[string]*sqlx.Stmt
	}
}

// New connects to PostgreSQL and applies the pool settings from cfg.
func New(cfg config.DatabaseConfig) (*DB, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: POSTGRES_HOST and POSTGRES_DB are required", ErrInvalidInput)
	}

	logger.Info("Connecting to database",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Name))
	conn, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	database := wrap(conn)
	logger.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime))
	return database, nil
}

func wrap(conn *sqlx.DB) *DB {
	database := &DB{conn: conn}
	database.stmtCache.statements = make(map[string]*sqlx.Stmt)
	return database
}

// EnsureSchema creates the history tables when they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	return nil
}

// getStmt returns a prepared statement from cache or creates a new one
func (db *DB) getStmt(ctx context.Context, query string) (*sqlx.Stmt, error) {
	db.stmtCache.RLock()
	stmt, exists := db.stmtCache.statements[query]
	db.stmtCache.RUnlock()

	if exists {
		return stmt, nil
	}

	db.stmtCache.Lock()
	defer db.stmtCache.Unlock()

	// Double-check after acquiring write lock
	if stmt, exists = db.stmtCache.statements[query]; exists {
		return stmt, nil
	}

	stmt, err := db.conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	db.stmtCache.statements[query] = stmt
	return stmt, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.stmtCache.Lock()
	for _, stmt := range db.stmtCache.statements {
		stmt.Close()
	}
	db.stmtCache.statements = make(map[string]*sqlx.Stmt)
	db.stmtCache.Unlock()

	return db.conn.Close()
}
