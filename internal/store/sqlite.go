package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/ashureev/nanostyle/internal/domain"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Store using SQLite. The session is kept as a JSON
// document alongside the columns needed for lookup and sweeping.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_updated ON sessions(last_updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, session *domain.Session) error {
	return s.Upsert(ctx, session)
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_json FROM sessions WHERE session_id = ?`, sessionID)

	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var session domain.Session
	if err := sonic.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Upsert creates or replaces a session record.
func (s *SQLiteStore) Upsert(ctx context.Context, session *domain.Session) error {
	payload, err := sonic.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionID, err)
	}

	query := `
	INSERT INTO sessions (session_id, template_id, status, payload_json, created_at, last_updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		payload_json = excluded.payload_json,
		last_updated_at = excluded.last_updated_at`

	return s.withRetry(ctx, "upsert session", session.SessionID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.TemplateID, string(session.Status), string(payload),
			session.CreatedAt.UnixMilli(), session.LastUpdatedAt.UnixMilli(),
		)
		return err
	})
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	return s.withRetry(ctx, "delete session", sessionID, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		return err
	})
}

// DeleteIdle removes sessions last updated before cutoff.
func (s *SQLiteStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "delete idle sessions", "", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_updated_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs a write, retrying busy and locked failures with exponential
// backoff: 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op, sessionID string, fn func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == writeMaxRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write busy, retrying",
			"op", op,
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
