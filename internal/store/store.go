// Package store holds conversation history keyed by session ID. History is
// append-only: entries are never pruned, and readers window the tail with
// Recent. An in-memory implementation serves the CLI and tests; the SQLite
// implementation keeps sessions across server restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a history entry.
type Role string

const (
	// RoleUser is the query as the user typed it.
	RoleUser Role = "user"
	// RoleAssistant is the generated analysis.
	RoleAssistant Role = "assistant"
)

// Entry is one item of conversation history.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History persists and retrieves conversation entries per session.
// Implementations must be safe for concurrent use.
type History interface {
	// Append adds one entry to the end of the session's history.
	Append(ctx context.Context, session string, role Role, content string) error
	// Recent returns the last n entries of the session, oldest first.
	// Fewer are returned when the session is shorter.
	Recent(ctx context.Context, session string, n int) ([]Entry, error)
	// Len returns the number of stored entries for the session.
	Len(ctx context.Context, session string) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

var (
	_ History = (*MemoryStore)(nil)
	_ History = (*SQLiteStore)(nil)
)

// MemoryStore is a History held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
	now      func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Entry), now: time.Now}
}

// Append adds an entry to the session.
func (m *MemoryStore) Append(_ context.Context, session string, role Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session] = append(m.sessions[session], Entry{Role: role, Content: content, CreatedAt: m.now()})
	return nil
}

// Recent returns a copy of the session's last n entries.
func (m *MemoryStore) Recent(_ context.Context, session string, n int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sessions[session]
	if n <= 0 {
		return nil, nil
	}
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return append([]Entry(nil), all...), nil
}

// Len returns the number of entries stored for the session.
func (m *MemoryStore) Len(_ context.Context, session string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[session]), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SQLiteStore is a History backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.finqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".finqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single connection: one writer avoids SQLITE_BUSY, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session    TEXT    NOT NULL,
    role       TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content    TEXT    NOT NULL,
    created_at INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_history_session_id
    ON history (session, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one entry for the session.
func (s *SQLiteStore) Append(ctx context.Context, session string, role Role, content string) error {
	const q = `INSERT INTO history (session, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, session, string(role), content, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the session's last n entries, oldest first. Insertion
// order is the row ID, so entries appended within the same clock tick keep
// their order.
func (s *SQLiteStore) Recent(ctx context.Context, session string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   history
    WHERE  session = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, session, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var role string
		if err := rows.Scan(&role, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.Role = Role(role)
		e.CreatedAt = time.Unix(0, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Len counts the session's stored entries.
func (s *SQLiteStore) Len(ctx context.Context, session string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE session = ?`, session).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: len: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
