// Package store persists session metadata in SQLite: the sessions a client
// opened, the files ingested into each, and the question/answer history.
// All three tables are append-only. Writes are serialized through a single
// connection and a writer lock, and every write is committed before the call
// returns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

var (
	// ErrDuplicateSession is returned by CreateSession when the id exists.
	ErrDuplicateSession = errors.New("store: session already exists")
	// ErrUnknownSession is returned when a write or read names a session
	// that was never created.
	ErrUnknownSession = errors.New("store: unknown session")
)

// timeLayout is fixed-width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Session is one conversation.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one answered question.
type Message struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"-"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the timestamp source. Tests use it to force identical
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// SQLiteStore is the metadata store. Safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes writers so check-then-insert sequences are atomic.
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
		}
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per-connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions (session_id),
    filename    TEXT NOT NULL,
    uploaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_session ON files (session_id, uploaded_at, id);
CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions (session_id),
    question   TEXT NOT NULL,
    answer     TEXT NOT NULL,
    timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// stamp returns the current time at the stored precision together with its
// column encoding, so returned values equal what later reads decode.
func (s *SQLiteStore) stamp() (time.Time, string) {
	t := s.now().UTC().Truncate(time.Microsecond)
	return t, t.Format(timeLayout)
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string) (Session, error) {
	if strings.TrimSpace(id) == "" {
		return Session{}, fmt.Errorf("store: create session: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created, ts := s.stamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := sessionExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateSession
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`, id, ts)
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("store: create session %s: %w", id, err)
	}
	return Session{ID: id, CreatedAt: created}, nil
}

// LogFile appends an ingested filename to the session.
func (s *SQLiteStore) LogFile(ctx context.Context, sessionID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ts := s.stamp()
	err := s.appendRow(ctx, sessionID,
		`INSERT INTO files (session_id, filename, uploaded_at) VALUES (?, ?, ?)`,
		sessionID, filename, ts)
	if err != nil {
		return fmt.Errorf("store: log file %s: %w", filename, err)
	}
	return nil
}

// LogMessage appends a question/answer pair to the session history.
func (s *SQLiteStore) LogMessage(ctx context.Context, sessionID, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ts := s.stamp()
	err := s.appendRow(ctx, sessionID,
		`INSERT INTO messages (session_id, question, answer, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, question, answer, ts)
	if err != nil {
		return fmt.Errorf("store: log message: %w", err)
	}
	return nil
}

// appendRow runs insert inside a transaction after confirming the session
// exists. Callers hold s.mu.
func (s *SQLiteStore) appendRow(ctx context.Context, sessionID, insert string, args ...any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := sessionExists(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUnknownSession
		}
		_, err = tx.ExecContext(ctx, insert, args...)
		return err
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sessionExists(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE session_id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SessionExists reports whether id was created.
func (s *SQLiteStore) SessionExists(ctx context.Context, id string) (bool, error) {
	ok, err := sessionExists(ctx, s.db, id)
	if err != nil {
		return false, fmt.Errorf("store: session exists: %w", err)
	}
	return ok, nil
}

// GetSession returns the session row or ErrUnknownSession.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	var ts string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM sessions WHERE session_id = ?`, id).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, ErrUnknownSession)
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	created, err := parseTime(ts)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: id, CreatedAt: created}, nil
}

// GetFiles returns the session's filenames in upload order. An unknown
// session yields an empty slice.
func (s *SQLiteStore) GetFiles(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename FROM files WHERE session_id = ? ORDER BY uploaded_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: get files: %w", err)
	}
	defer rows.Close()

	files := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: get files scan: %w", err)
		}
		files = append(files, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get files rows: %w", err)
	}
	return files, nil
}

// GetMessages returns the session history in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, answer, timestamp FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		m := Message{SessionID: sessionID}
		var ts string
		if err := rows.Scan(&m.ID, &m.Question, &m.Answer, &ts); err != nil {
			return nil, fmt.Errorf("store: get messages scan: %w", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get messages rows: %w", err)
	}
	return msgs, nil
}

// GetSessions returns every session ordered by creation time.
func (s *SQLiteStore) GetSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at FROM sessions ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: get sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var ts string
		if err := rows.Scan(&sess.ID, &ts); err != nil {
			return nil, fmt.Errorf("store: get sessions scan: %w", err)
		}
		if sess.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get sessions rows: %w", err)
	}
	return sessions, nil
}

// Ping checks the database connection. Used by the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func parseTime(ts string) (time.Time, error) {
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", ts, err)
	}
	return t, nil
}
