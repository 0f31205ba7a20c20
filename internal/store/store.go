package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Message kinds as persisted.
const (
	KindText   = "text"
	KindFile   = "file"
	KindSystem = "system"
)

// Message represents a persisted chat message.
type Message struct {
	ID        string
	Sender    string
	Kind      string
	Content   string
	CreatedAt time.Time
}

// MessageStore is an ordered log of chat messages.
type MessageStore interface {
	// SaveMessage persists msg. The store assigns msg.ID when it is empty.
	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns every message ordered by creation time ascending.
	ListMessages(ctx context.Context) ([]*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	// DeleteMessage removes a message by id, returning ErrNotFound if absent.
	DeleteMessage(ctx context.Context, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	Close() error
}
