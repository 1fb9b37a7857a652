package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/store"
	"github.com/Tyrowin/chatroom/internal/testhelpers"
)

type testEnv struct {
	server      *Server
	http        *httptest.Server
	auth        *auth.Service
	users       *store.UserStore
	messages    *store.MessageStore
	coordinator *chat.Coordinator
}

// newTestEnv starts a full server on an in-memory database. secret enables
// session tokens when non-empty.
func newTestEnv(t *testing.T, secret string, customize func(cfg *Config)) *testEnv {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)

	cfg := NewConfig()
	cfg.JWTSecret = secret
	if customize != nil {
		customize(cfg)
	}

	users := store.NewUserStore(db)
	messages := store.NewMessageStore(db)
	coord := chat.NewCoordinator(messages, users, cfg.CoordinatorOptions())
	svc := auth.NewService(users, auth.NewPasswordHasherWithCost(bcrypt.MinCost), auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL))

	srv := New(cfg, coord, svc)
	srv.StartHub()
	ts := testhelpers.CreateTestServer(srv.Routes())

	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(2 * time.Second)
		_ = coord.Shutdown(2 * time.Second)
		_ = store.Close(db)
	})

	return &testEnv{
		server:      srv,
		http:        ts,
		auth:        svc,
		users:       users,
		messages:    messages,
		coordinator: coord,
	}
}

func (e *testEnv) register(t *testing.T, username string) *store.User {
	t.Helper()
	user, err := e.auth.Register(context.Background(), username, username+"@example.com", "secret1")
	require.NoError(t, err)
	return user
}
