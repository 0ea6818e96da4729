// Package audit implements C9: a durable record of every session's
// lifecycle transitions (established, terminated, error) for post-hoc
// review, adapted from this repo's db package's connection-pool and
// prepared-statement style but scoped to SKDP's session events instead
// of chat messages.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Event is one row of the session audit trail.
type Event struct {
	SessionID uuid.UUID
	KID       string
	Suite     string
	Outcome   string // established | terminated | error
	Detail    string
	At        time.Time
}

// Logger persists Events. Implementations must be safe for concurrent
// Record calls from many sessions' goroutines.
type Logger interface {
	Record(e Event) error
	Close() error
}

// PostgresLogger writes audit rows to a Postgres table, for deployments
// running a shared server fleet behind one database.
type PostgresLogger struct {
	db *sql.DB
}

// SQLiteLogger writes to a local SQLite file, for single-node deployments
// that don't want an external database dependency.
type SQLiteLogger struct {
	db *sql.DB
}

// NewPostgresLogger opens connStr and ensures the audit table exists.
func NewPostgresLogger(connStr string) (*PostgresLogger, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if _, err := db.Exec(schemaPostgres); err != nil {
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &PostgresLogger{db: db}, nil
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS skdp_session_events (
	session_id UUID NOT NULL,
	kid        TEXT NOT NULL,
	suite      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
)`

func (p *PostgresLogger) Record(e Event) error {
	_, err := p.db.Exec(
		`INSERT INTO skdp_session_events (session_id, kid, suite, outcome, detail, occurred_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.SessionID, e.KID, e.Suite, e.Outcome, e.Detail, e.At,
	)
	return err
}

func (p *PostgresLogger) Close() error { return p.db.Close() }

// NewSQLiteLogger opens (or creates) path and ensures the audit table
// exists.
func NewSQLiteLogger(path string) (*SQLiteLogger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQLite); err != nil {
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &SQLiteLogger{db: db}, nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS skdp_session_events (
	session_id TEXT NOT NULL,
	kid        TEXT NOT NULL,
	suite      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT,
	occurred_at DATETIME NOT NULL
)`

func (s *SQLiteLogger) Record(e Event) error {
	_, err := s.db.Exec(
		`INSERT INTO skdp_session_events (session_id, kid, suite, outcome, detail, occurred_at) VALUES (?,?,?,?,?,?)`,
		e.SessionID.String(), e.KID, e.Suite, e.Outcome, e.Detail, e.At,
	)
	return err
}

func (s *SQLiteLogger) Close() error { return s.db.Close() }
