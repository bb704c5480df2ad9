// Package store persists the per-session canvas document and its named
// savepoints in SQLite. Every mutation runs in a single transaction and the
// whole store is guarded by one mutex, so a reader never observes a
// half-applied write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
)

var (
	// ErrUnavailable means the session's backing rows could not be read.
	ErrUnavailable = errors.New("session storage unavailable")
	// ErrDuplicateSavepoint means a savepoint with that name already exists.
	ErrDuplicateSavepoint = errors.New("savepoint already exists")
	// ErrSavepointNotFound means no savepoint with that name exists.
	ErrSavepointNotFound = errors.New("savepoint not found")
)

// timeLayout keeps a fixed-width fraction so the stored strings sort
// lexicographically in timestamp order (RFC3339Nano trims trailing zeros
// and does not).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is the metadata record for one named whiteboard session.
type Session struct {
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
}

// Savepoint is a named point-in-time capture of the canvas.
type Savepoint struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Store owns the persisted state of a single session. All operations are
// serialized; callers on other sessions are unaffected.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	session string
}

// Open binds a store to sessionName, creating the schema, the session row
// and an empty canvas on first use. Calling it again with the same name
// resumes the existing state unchanged.
func Open(ctx context.Context, db *sql.DB, sessionName string) (*Store, error) {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS sessions (
		name text not null primary key,
		created text not null,
		last_modified text not null
		)`,
		`CREATE TABLE IF NOT EXISTS canvases (
		session text not null primary key,
		content text not null
		)`,
		`CREATE TABLE IF NOT EXISTS savepoints (
		session text not null,
		name text not null,
		content text not null,
		created text not null,
		PRIMARY KEY (session, name)
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to ensure tables: %w", err)
		}
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (name, created, last_modified) VALUES (?, ?, ?)`,
		sessionName, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to seed session: %w", err)
	}
	empty, _ := json.Marshal(canvas.Empty())
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO canvases (session, content) VALUES (?, ?)`,
		sessionName, string(empty),
	); err != nil {
		return nil, fmt.Errorf("failed to seed canvas: %w", err)
	}
	return &Store{db: db, session: sessionName}, nil
}

// SessionName returns the name this store is bound to.
func (s *Store) SessionName() string {
	return s.session
}

// Document returns the current persisted canvas.
func (s *Store) Document(ctx context.Context) (canvas.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentLocked(ctx)
}

func (s *Store) documentLocked(ctx context.Context) (canvas.Document, error) {
	var content string
	if err := s.db.QueryRowContext(ctx,
		`SELECT content FROM canvases WHERE session = ?`, s.session,
	).Scan(&content); err != nil {
		return canvas.Document{}, fmt.Errorf("failed to read canvas: %w (%w)", err, ErrUnavailable)
	}
	var doc canvas.Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return canvas.Document{}, fmt.Errorf("failed to decode canvas: %w (%w)", err, ErrUnavailable)
	}
	return doc, nil
}

// SetDocument replaces the persisted canvas wholesale and bumps the
// session's last_modified stamp, both in one transaction.
func (s *Store) SetDocument(ctx context.Context, doc canvas.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode canvas: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if res, err := tx.ExecContext(ctx,
		`UPDATE canvases SET content = ? WHERE session = ?`,
		string(content), s.session,
	); err != nil {
		return fmt.Errorf("failed to persist canvas: %w", err)
	} else if r, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected by canvas update: %w", err)
	} else if r == 0 {
		return fmt.Errorf("no canvas row for session %q: %w", s.session, ErrUnavailable)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_modified = ? WHERE name = ?`,
		time.Now().UTC().Format(timeLayout), s.session,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CreateSavepoint captures the current canvas under name. Savepoints are
// immutable: re-using a name fails with ErrDuplicateSavepoint and leaves the
// first capture in place.
func (s *Store) CreateSavepoint(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM savepoints WHERE session = ? AND name = ?`,
		s.session, name,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check savepoint: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("savepoint %q: %w", name, ErrDuplicateSavepoint)
	}

	var content string
	if err := tx.QueryRowContext(ctx,
		`SELECT content FROM canvases WHERE session = ?`, s.session,
	).Scan(&content); err != nil {
		return fmt.Errorf("failed to read canvas: %w (%w)", err, ErrUnavailable)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO savepoints (session, name, content, created) VALUES (?, ?, ?, ?)`,
		s.session, name, content, time.Now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to persist savepoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ListSavepoints returns this session's savepoints in ascending timestamp
// order. A session with no savepoints yields an empty slice, not an error.
func (s *Store) ListSavepoints(ctx context.Context) ([]Savepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created FROM savepoints WHERE session = ? ORDER BY created ASC`,
		s.session,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query savepoints: %w", err)
	}
	defer rows.Close()

	out := make([]Savepoint, 0)
	for rows.Next() {
		var name, created string
		if err := rows.Scan(&name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan savepoint: %w", err)
		}
		ts, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("failed to parse savepoint timestamp: %w", err)
		}
		out = append(out, Savepoint{Name: name, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate savepoints: %w", err)
	}
	return out, nil
}

// Restore rewrites the live canvas from the named savepoint. The savepoint
// itself is untouched and can be restored again.
func (s *Store) Restore(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var content string
	if err := tx.QueryRowContext(ctx,
		`SELECT content FROM savepoints WHERE session = ? AND name = ?`,
		s.session, name,
	).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("savepoint %q: %w", name, ErrSavepointNotFound)
		}
		return fmt.Errorf("failed to read savepoint: %w", err)
	}
	if res, err := tx.ExecContext(ctx,
		`UPDATE canvases SET content = ? WHERE session = ?`,
		content, s.session,
	); err != nil {
		return fmt.Errorf("failed to restore canvas: %w", err)
	} else if r, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected by restore: %w", err)
	} else if r == 0 {
		return fmt.Errorf("no canvas row for session %q: %w", s.session, ErrUnavailable)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_modified = ? WHERE name = ?`,
		time.Now().UTC().Format(timeLayout), s.session,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Session returns the metadata record for this session.
func (s *Store) Session(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created, modified string
	if err := s.db.QueryRowContext(ctx,
		`SELECT created, last_modified FROM sessions WHERE name = ?`, s.session,
	).Scan(&created, &modified); err != nil {
		return Session{}, fmt.Errorf("failed to read session: %w (%w)", err, ErrUnavailable)
	}
	c, err := time.Parse(timeLayout, created)
	if err != nil {
		return Session{}, fmt.Errorf("failed to parse created: %w", err)
	}
	m, err := time.Parse(timeLayout, modified)
	if err != nil {
		return Session{}, fmt.Errorf("failed to parse last_modified: %w", err)
	}
	return Session{Name: s.session, Created: c, LastModified: m}, nil
}

// ListSessions returns the names of every session in the database, for the
// server's -list flag. Safe to call on a database with no tables yet.
func ListSessions(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sessions ORDER BY name ASC`)
	if err != nil {
		// a fresh database has no sessions table at all
		return nil, nil
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan session name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
