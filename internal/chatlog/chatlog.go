// Package chatlog keeps the conversation shown to the user: queries, AI
// replies and errors, persisted in SQLite.
package chatlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Participant is who a message is attributed to.
type Participant string

const (
	User       Participant = "user"
	Assistant  Participant = "assistant"
	Translator Participant = "translator"
)

// Message is one chat entry. A Typing message is a placeholder shown while a
// reply is pending and is never stored.
type Message struct {
	ID          string
	Time        time.Time
	Participant Participant
	Text        string
	Picture     []byte
	IsError     bool
	Typing      bool
}

const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		createdAt REAL NOT NULL,
		participant TEXT NOT NULL,
		text TEXT NOT NULL,
		picture BLOB,
		isError INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_createdAt ON messages(createdAt);
`

// Store persists messages.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "monolink", "chat.sqlite")
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("chatlog: creating directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("chatlog: open database: %w", err)
	}
	// One connection, so ":memory:" is one database and writes never race.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatlog: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores m, filling in ID and Time when unset. Typing placeholders are
// skipped.
func (s *Store) Put(m Message) error {
	if m.Typing {
		return nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, createdAt, participant, text, picture, isError)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, unixFromTime(m.Time), string(m.Participant), m.Text, m.Picture, m.IsError)
	if err != nil {
		return fmt.Errorf("chatlog: insert message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (s *Store) Recent(limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, errors.New("chatlog: limit must be positive")
	}
	rows, err := s.db.Query(`
		SELECT id, createdAt, participant, text, picture, isError FROM (
			SELECT * FROM messages ORDER BY createdAt DESC, rowid DESC LIMIT ?
		) ORDER BY createdAt ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("chatlog: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt float64
		var participant string
		if err := rows.Scan(&m.ID, &createdAt, &participant, &m.Text, &m.Picture, &m.IsError); err != nil {
			return nil, fmt.Errorf("chatlog: scan message: %w", err)
		}
		m.Time = timeFromUnix(createdAt)
		m.Participant = Participant(participant)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes every stored message.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("chatlog: clear messages: %w", err)
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
