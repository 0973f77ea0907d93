package ticket

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// SQLiteStore implements Store using SQLite. Messages live in their own
// table so an append touches a single row instead of rewriting the ticket,
// which is what rules out the lost-update race between sessions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// WAL for concurrent readers during writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			session_id TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed     INTEGER NOT NULL DEFAULT 0,
			closed_at  TEXT
		);

		CREATE TABLE IF NOT EXISTS ticket_messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES tickets(session_id),
			author     TEXT NOT NULL,
			body       TEXT NOT NULL,
			sent_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON ticket_messages(session_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(t *protocol.Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ticket store: put: %w", err)
	}
	defer tx.Rollback()

	var closedAt *string
	if t.ClosedAt != nil {
		v := t.ClosedAt.UTC().Format(time.RFC3339Nano)
		closedAt = &v
	}
	_, err = tx.Exec(`
		INSERT INTO tickets (session_id, email, created_at, closed, closed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			email=excluded.email, closed=excluded.closed, closed_at=excluded.closed_at
	`, t.SessionID, t.Email, t.CreatedAt.UTC().Format(time.RFC3339Nano), boolToInt(t.Closed), closedAt)
	if err != nil {
		return fmt.Errorf("ticket store: put: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM ticket_messages WHERE session_id = ?`, t.SessionID); err != nil {
		return fmt.Errorf("ticket store: put: %w", err)
	}
	for _, m := range t.Messages {
		if _, err := tx.Exec(
			`INSERT INTO ticket_messages (session_id, author, body, sent_at) VALUES (?, ?, ?, ?)`,
			t.SessionID, string(m.From), m.Text, m.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("ticket store: put: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(sessionID string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(
		`SELECT session_id, email, created_at, closed, closed_at FROM tickets WHERE session_id = ?`,
		sessionID)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}

	msgs, err := s.loadMessages(sessionID)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs
	return t, nil
}

func (s *SQLiteStore) AppendMessage(sessionID string, msg protocol.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ticket store: append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tickets WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("ticket store: append: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(
		`INSERT INTO ticket_messages (session_id, author, body, sent_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.From), msg.Text, msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ticket store: append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetClosed(sessionID string, at time.Time) error {
	result, err := s.db.Exec(
		`UPDATE tickets SET closed = 1, closed_at = ? WHERE session_id = ? AND closed = 0`,
		at.UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("ticket store: close: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Missing or already closed. Callers that care about existence
		// check separately; closure itself is idempotent.
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM tickets WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("ticket store: close: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *SQLiteStore) List() ([]*protocol.Ticket, error) {
	rows, err := s.db.Query(
		`SELECT session_id, email, created_at, closed, closed_at FROM tickets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range tickets {
		msgs, err := s.loadMessages(t.SessionID)
		if err != nil {
			return nil, err
		}
		t.Messages = msgs
	}
	return tickets, nil
}

// DB returns the underlying database connection for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func (s *SQLiteStore) loadMessages(sessionID string) ([]protocol.Message, error) {
	rows, err := s.db.Query(
		`SELECT author, body, sent_at FROM ticket_messages WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var author, ts string
		if err := rows.Scan(&author, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan message: %w", err)
		}
		m.From = protocol.Role(author)
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var createdAt string
	var closed int
	var closedAt *string

	if err := row.Scan(&t.SessionID, &t.Email, &createdAt, &closed, &closedAt); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.Closed = closed != 0
	if closedAt != nil {
		ct, _ := time.Parse(time.RFC3339Nano, *closedAt)
		t.ClosedAt = &ct
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
