package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// MessageRecord is the persisted form of a chat message. Seq records the
// order in which messages were appended.
type MessageRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement;index:idx_messages_room_seq,priority:2"`
	ID        string    `gorm:"uniqueIndex;size:36;not null"`
	UserID    string    `gorm:"size:36;not null"`
	Username  string    `gorm:"size:64;not null"`
	Text      string    `gorm:"type:text;not null"`
	Room      string    `gorm:"size:64;not null;default:general;index:idx_messages_room_seq,priority:1"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

func (r MessageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		UserID:    r.UserID,
		Username:  r.Username,
		Text:      r.Text,
		Room:      r.Room,
		CreatedAt: r.CreatedAt,
	}
}

var _ chat.MessageStore = (*MessageStore)(nil)

// MessageStore is the append-only message log.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a message store on db.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append persists msg and returns it with its assigned ID and timestamp.
func (s *MessageStore) Append(ctx context.Context, msg chat.NewMessage) (chat.Message, error) {
	record := MessageRecord{
		ID:        uuid.NewString(),
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Room:      msg.Room,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return chat.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return record.toMessage(), nil
}

// Recent returns up to limit messages of room, newest first.
func (s *MessageStore) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	var records []MessageRecord
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	messages := make([]chat.Message, len(records))
	for i, r := range records {
		messages[i] = r.toMessage()
	}
	return messages, nil
}
