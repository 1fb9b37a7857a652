package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tyrowin/chatroom/internal/chat"
)

var (
	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the username or email is already taken.
	ErrUserExists = errors.New("user already exists")
)

// User is a registered chat user.
type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	Online       bool   `gorm:"not null;default:false;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

var _ chat.IdentityStore = (*UserStore)(nil)

// UserStore stores users and their online flag.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a user store on db.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a new user.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByID retrieves a user by ID.
func (s *UserStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.first(ctx, "id = ?", id)
}

// FindByEmail retrieves a user by email.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.first(ctx, "email = ?", email)
}

// Exists reports whether a user with the given username or email exists.
func (s *UserStore) Exists(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

// SetOnline updates the online flag of a user.
func (s *UserStore) SetOnline(ctx context.Context, userID string, online bool) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("online", online)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListOnline returns every user flagged online, ordered by username.
func (s *UserStore) ListOnline(ctx context.Context) ([]chat.OnlineUser, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Select("id", "username").
		Where("online = ?", true).
		Order("username ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}

	online := make([]chat.OnlineUser, len(users))
	for i, u := range users {
		online[i] = chat.OnlineUser{ID: u.ID, Username: u.Username}
	}
	return online, nil
}

// ResetOnline clears every online flag. It is used at startup, when no
// session can be live yet.
func (s *UserStore) ResetOnline(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("online = ?", true).
		Update("online", false).Error
	if err != nil {
		return fmt.Errorf("failed to reset online status: %w", err)
	}
	return nil
}

func (s *UserStore) first(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}
