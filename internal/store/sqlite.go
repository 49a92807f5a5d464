package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, recipient_id, created_at);
`

// SQLiteStore keeps messages in a single SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	log   *slog.Logger
	clock *clock
}

// OpenSQLite opens (or creates) the database file at path and applies the
// schema. MemoryPath yields a private in-memory database.
func OpenSQLite(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Debug("sqlite store ready", "path", path)
	return &SQLiteStore{db: db, log: log, clock: newClock()}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, senderID, recipientID uuid.UUID, content string) (message.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	msg := message.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   s.clock.next(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.SenderID.String(), msg.RecipientID.String(), msg.Content, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	return msg, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, recipient_id, content, created_at, updated_at FROM messages WHERE id = ?`,
		id.String(),
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, message.ErrNotFound
	}
	if err != nil {
		return message.Message{}, message.WrapStorage("get", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListBetween(ctx context.Context, a, b uuid.UUID) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, content, created_at, updated_at FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at ASC, id ASC`,
		a.String(), b.String(), b.String(), a.String(),
	)
	if err != nil {
		return nil, message.WrapStorage("list", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, message.WrapStorage("list", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, message.WrapStorage("list", err)
	}
	return messages, nil
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id uuid.UUID, content string) (message.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, updated_at = ? WHERE id = ?`,
		content, s.clock.next().UnixNano(), id.String(),
	)
	if err != nil {
		return message.Message{}, message.WrapStorage("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return message.Message{}, message.WrapStorage("update", err)
	}
	if n == 0 {
		return message.Message{}, message.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id.String())
	if err != nil {
		return message.WrapStorage("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return message.WrapStorage("delete", err)
	}
	if n == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return message.WrapStorage("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		rec     record
		updated sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.SenderID, &rec.RecipientID, &rec.Content, &rec.CreatedAt, &updated); err != nil {
		return message.Message{}, err
	}
	if updated.Valid {
		rec.UpdatedAt = &updated.Int64
	}
	return rec.toMessage()
}
