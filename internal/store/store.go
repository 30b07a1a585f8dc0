// Package store persists relayed text messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// SQLite driver registered as "sqlite3".
	_ "github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/relaychat/internal/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username VARCHAR(250),
	message TEXT NOT NULL
);`

// Record is one stored text message.
type Record struct {
	ID       int64   `json:"id"`
	Username *string `json:"username"`
	Message  string  `json:"message"`
}

// Store is the SQLite-backed message log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// messages table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection serialises writers; SQLite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveText appends one text message. A nil username is stored as NULL.
func (s *Store) SaveText(ctx context.Context, username *string, body string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (username, message) VALUES (?, ?)", username, body)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// Usernames lists the distinct authors of stored messages in first-seen
// order. Messages without a username are reported as message.AnonymousUser.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(username, ?) AS name
		FROM messages
		GROUP BY name
		ORDER BY MIN(id)`, message.AnonymousUser)
	if err != nil {
		return nil, fmt.Errorf("store: query usernames: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan username: %w", err)
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// DeleteUser removes every message stored for username and returns how many
// rows were deleted. message.AnonymousUser also matches NULL usernames.
func (s *Store) DeleteUser(ctx context.Context, username string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE COALESCE(username, ?) = ?", message.AnonymousUser, username)
	if err != nil {
		return 0, fmt.Errorf("store: delete messages of %s: %w", username, err)
	}
	return res.RowsAffected()
}

// Recent returns up to limit of the newest messages in chronological order.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, message FROM messages ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r        Record
			username sql.NullString
		)
		if err := rows.Scan(&r.ID, &username, &r.Message); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if username.Valid {
			r.Username = message.StringPtr(username.String)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
