package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatroom/internal/store"
)

func newTestService(t *testing.T, tokens *TokenManager) *Service {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	return NewService(store.NewUserStore(db), NewPasswordHasherWithCost(bcrypt.MinCost), tokens)
}

func TestServiceRegisterValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{name: "short username", username: "ab", email: "ab@example.com", password: "secret1", wantErr: ErrInvalidUsername},
		{name: "long username", username: strings.Repeat("x", 33), email: "x@example.com", password: "secret1", wantErr: ErrInvalidUsername},
		{name: "bad email", username: "alice", email: "not-an-email", password: "secret1", wantErr: ErrInvalidEmail},
		{name: "weak password", username: "alice", email: "alice@example.com", password: "123", wantErr: ErrWeakPassword},
		{name: "long password", username: "alice", email: "alice@example.com", password: strings.Repeat("p", 73), wantErr: ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServiceRegisterAndLogin(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "Alice@Example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	_, err = svc.Register(ctx, "alice", "different@example.com", "secret1")
	assert.ErrorIs(t, err, ErrUserExists)
	_, err = svc.Register(ctx, "someone", "alice@example.com", "secret1")
	assert.ErrorIs(t, err, ErrUserExists)

	loggedIn, token, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.Empty(t, token, "no token without a configured secret")

	_, _, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestServiceLoginIssuesToken(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Hour)
	svc := newTestService(t, tokens)
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob", "bob@example.com", "secret1")
	require.NoError(t, err)

	_, token, err := svc.Login(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "bob", claims.Username)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasherWithCost(0)
	hash, err := h.Hash("secret1")
	require.NoError(t, err)

	assert.True(t, h.Verify("secret1", hash))
	assert.False(t, h.Verify("secret2", hash))
	assert.False(t, h.Verify("secret1", "not-a-hash"))
}
