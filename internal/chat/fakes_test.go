package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatroom/internal/protocol"
)

var errStoreDown = errors.New("store down")

type fakeMessageStore struct {
	mu         sync.Mutex
	messages   []Message
	seq        int
	failAppend bool
	failRecent bool
}

func (s *fakeMessageStore) Append(_ context.Context, msg NewMessage) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return Message{}, errStoreDown
	}
	s.seq++
	stored := Message{
		ID:        fmt.Sprintf("m%d", s.seq),
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Room:      msg.Room,
		CreatedAt: time.Unix(int64(s.seq), 0).UTC(),
	}
	s.messages = append(s.messages, stored)
	return stored, nil
}

func (s *fakeMessageStore) Recent(_ context.Context, room string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecent {
		return nil, errStoreDown
	}
	var out []Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].Room == room {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeMessageStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.messages))
	for i, m := range s.messages {
		ids[i] = m.ID
	}
	return ids
}

type fakeIdentityStore struct {
	mu          sync.Mutex
	usernames   map[string]string
	online      map[string]bool
	offlineSets int
	failSet     bool
	failList    bool
	// block, when set, makes SetOnline for blockUser wait until it is closed.
	block     chan struct{}
	blockUser string
	entered   chan struct{}
}

func newFakeIdentityStore(users map[string]string) *fakeIdentityStore {
	return &fakeIdentityStore{
		usernames: users,
		online:    make(map[string]bool),
	}
}

func (s *fakeIdentityStore) SetOnline(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	var block, entered chan struct{}
	if s.block != nil && userID == s.blockUser {
		block, entered = s.block, s.entered
		s.block = nil
	}
	s.mu.Unlock()

	if block != nil {
		close(entered)
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errStoreDown
	}
	if _, ok := s.usernames[userID]; !ok {
		return errors.New("user not found")
	}
	s.online[userID] = online
	if !online {
		s.offlineSets++
	}
	return nil
}

func (s *fakeIdentityStore) ListOnline(context.Context) ([]OnlineUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errStoreDown
	}
	var out []OnlineUser
	for id, on := range s.online {
		if on {
			out = append(out, OnlineUser{ID: id, Username: s.usernames[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *fakeIdentityStore) isOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// fakeSink records every frame it accepts.
type fakeSink struct {
	mu       sync.Mutex
	frames   []protocol.Envelope
	capacity int
	closed   bool
}

func (s *fakeSink) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.capacity > 0 && len(s.frames) >= s.capacity) {
		return false
	}
	env, err := protocol.Decode(payload)
	if err != nil {
		panic(err)
	}
	s.frames = append(s.frames, env)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.frames))
	for i, f := range s.frames {
		names[i] = f.Event
	}
	return names
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// of returns the frames for one event, in delivery order.
func (s *fakeSink) of(event string) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func bindData[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Bind(&v))
	return v
}

func lastOnline(t *testing.T, s *fakeSink) []protocol.OnlineUser {
	t.Helper()
	frames := s.of(protocol.EventOnlineUsers)
	require.NotEmpty(t, frames, "no online-users frame delivered")
	return bindData[[]protocol.OnlineUser](t, frames[len(frames)-1])
}

func onlineNames(users []protocol.OnlineUser) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}
