package chat

import (
	"context"
	"time"
)

// Message is a persisted chat message.
type Message struct {
	ID        string
	UserID    string
	Username  string
	Text      string
	Room      string
	CreatedAt time.Time
}

// NewMessage is a message accepted by the coordinator but not yet stored.
type NewMessage struct {
	UserID   string
	Username string
	Text     string
	Room     string
}

// OnlineUser is an identity currently flagged online.
type OnlineUser struct {
	ID       string
	Username string
}

// MessageStore is the durable, append-only message log.
type MessageStore interface {
	// Append persists msg and returns it with its store-assigned ID and
	// creation time.
	Append(ctx context.Context, msg NewMessage) (Message, error)
	// Recent returns up to limit messages of room, newest first.
	Recent(ctx context.Context, room string, limit int) ([]Message, error)
}

// IdentityStore holds the per-user online flag.
type IdentityStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	ListOnline(ctx context.Context) ([]OnlineUser, error)
}
