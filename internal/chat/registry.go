// Package chat implements the presence and message-delivery core of the chat
// server: the session registry and the coordinator that serializes room
// events, keeps the online roster current and fans events out to members.
package chat

import (
	"sort"
	"sync"
	"time"
)

// Sink is the outbound side of a live connection.
type Sink interface {
	// Send queues payload for delivery and reports false when the
	// connection cannot accept it.
	Send(payload []byte) bool
	// Close tears the connection down. It must be safe to call repeatedly.
	Close()
}

// Session is the binding between one live connection and the identity that
// joined through it. Values returned by the registry are copies.
type Session struct {
	ConnectionID string
	UserID       string
	Username     string
	Room         string
	ConnectedAt  time.Time
	Sink         Sink
}

// Joined reports whether an identity has been bound to the session.
func (s Session) Joined() bool {
	return s.UserID != ""
}

// Registry tracks live sessions by connection ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds an unauthenticated session for a new connection.
func (r *Registry) Register(connectionID string, sink Sink) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{
		ConnectionID: connectionID,
		ConnectedAt:  time.Now(),
		Sink:         sink,
	}
	r.sessions[connectionID] = sess
	return *sess
}

// BindIdentity attaches an identity and room to a registered session and
// returns the session as it was before the call. Binding an already joined
// session overwrites the previous identity.
func (r *Registry) BindIdentity(connectionID, userID, username, room string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connectionID]
	if !ok {
		return Session{}, ErrUnknownConnection
	}

	previous := *sess
	sess.UserID = userID
	sess.Username = username
	sess.Room = room
	return previous, nil
}

// Unregister removes a session and returns it. Removing a session twice
// returns ErrNotFound.
func (r *Registry) Unregister(connectionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connectionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(r.sessions, connectionID)
	return *sess, nil
}

// Lookup returns the session registered for a connection.
func (r *Registry) Lookup(connectionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connectionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// MembersOf returns a snapshot of the joined sessions in room, oldest
// connection first.
func (r *Registry) MembersOf(room string) []Session {
	r.mu.RLock()
	members := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Joined() && sess.Room == room {
			members = append(members, *sess)
		}
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].ConnectedAt.Equal(members[j].ConnectedAt) {
			return members[i].ConnectionID < members[j].ConnectionID
		}
		return members[i].ConnectedAt.Before(members[j].ConnectedAt)
	})
	return members
}

// Len returns the number of registered sessions, joined or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
