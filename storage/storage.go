package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultTxTimeout = 10 * time.Second

// Storage provides access to the relational store backing boards, tasks,
// participants and the audit trail.
type Storage struct {
	db        *sql.DB
	txTimeout time.Duration
}

// New opens (and if needed initialises) the database at path. The connection
// takes write locks eagerly so concurrent move transactions serialise instead
// of deadlocking, and a busy timeout bounds how long they wait.
func New(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The sqlite driver serialises writers; a single connection avoids
	// SQLITE_BUSY churn between pooled connections in the same process.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Storage{db: db, txTimeout: defaultTxTimeout}, nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error { return s.db.Close() }

// Ping reports whether the store is reachable, for health checks.
func (s *Storage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS boards (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS participants (
	board_id TEXT NOT NULL REFERENCES boards(id),
	user_id  TEXT NOT NULL,
	role     TEXT NOT NULL,
	PRIMARY KEY (board_id, user_id)
);
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	board_id     TEXT NOT NULL REFERENCES boards(id),
	status       TEXT NOT NULL,
	position     INTEGER NOT NULL,
	title        TEXT NOT NULL,
	notes        TEXT NOT NULL DEFAULT '',
	created_by   TEXT NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_column ON tasks(board_id, status, position);
CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	board_id   TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	details    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_board ON audit_entries(board_id, created_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
