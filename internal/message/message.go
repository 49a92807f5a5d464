//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_store.go -package=mocks

// Package message defines the direct message record, the storage contract
// the delivery path depends on, and the error taxonomy shared by both.
package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is a persisted direct message between two users.
// UpdatedAt stays nil until the content is edited.
type Message struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Involves reports whether the user is either side of the message.
func (m Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// Store is the durable message storage used by the delivery engine and
// the HTTP pass-through endpoints.
//
// Create assigns the ID and timestamps. ListBetween returns the messages
// exchanged by a and b in either direction, ordered by CreatedAt ascending.
// Get, UpdateContent and Delete fail with ErrNotFound for unknown IDs.
// Infrastructure failures are reported as *StorageError.
type Store interface {
	Create(ctx context.Context, senderID, recipientID uuid.UUID, content string) (Message, error)
	Get(ctx context.Context, id uuid.UUID) (Message, error)
	ListBetween(ctx context.Context, a, b uuid.UUID) ([]Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string) (Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
	Close() error
}
