package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Tyrowin/chatroom/internal/metrics"
	"github.com/Tyrowin/chatroom/internal/protocol"
)

// Options controls coordinator behavior.
type Options struct {
	// DefaultRoom is the room every join is placed in.
	DefaultRoom string
	// HistoryLimit is the number of messages replayed on join.
	HistoryLimit int
	// MaxTextLength bounds message text, in runes.
	MaxTextLength int
	// StoreTimeout bounds each individual store call.
	StoreTimeout time.Duration
	// AnnounceRejoin broadcasts user-joined again when a connection that
	// already joined sends another join for the same user.
	AnnounceRejoin bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		DefaultRoom:   "general",
		HistoryLimit:  50,
		MaxTextLength: 1000,
		StoreTimeout:  5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DefaultRoom == "" {
		o.DefaultRoom = def.DefaultRoom
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = def.HistoryLimit
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = def.MaxTextLength
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = def.StoreTimeout
	}
	return o
}

// Coordinator processes join, message, typing and disconnect events.
// Events that touch a room run one at a time on that room's loop, so store
// calls and registry changes of one event never interleave with another
// event of the same room.
type Coordinator struct {
	registry   *Registry
	messages   MessageStore
	identities IdentityStore
	opts       Options

	mu     sync.Mutex
	rooms  map[string]*roomLoop
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type roomLoop struct {
	name  string
	steps chan roomStep
}

type roomStep struct {
	run  func() error
	done chan error
}

// NewCoordinator creates a coordinator with its own session registry.
func NewCoordinator(messages MessageStore, identities IdentityStore, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:   NewRegistry(),
		messages:   messages,
		identities: identities,
		opts:       opts.withDefaults(),
		rooms:      make(map[string]*roomLoop),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Registry exposes the session registry for inspection.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Connect registers a new unauthenticated session and returns its ID. It
// returns ErrClosed after Shutdown.
func (c *Coordinator) Connect(sink Sink) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	c.registry.Register(id, sink)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	return id, nil
}

// OnJoin binds an identity to the connection, marks it online, replays room
// history privately and announces the join to the room.
func (c *Coordinator) OnJoin(ctx context.Context, connectionID, userID, username string) error {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		metrics.DroppedEvents.WithLabelValues("invalid_join").Inc()
		return fmt.Errorf("%w: join requires userId and username", ErrInvalidPayload)
	}

	room := c.opts.DefaultRoom
	return c.inRoom(ctx, room, func() error {
		return c.join(connectionID, userID, username, room)
	})
}

func (c *Coordinator) join(connectionID, userID, username, room string) error {
	previous, err := c.registry.BindIdentity(connectionID, userID, username, room)
	if err != nil {
		return err
	}
	rejoin := previous.Joined() && previous.UserID == userID

	// A rebind to another identity is the old user leaving and a new one
	// joining.
	if previous.Joined() && previous.UserID != userID {
		if err := c.setOnline(previous.UserID, false); err != nil {
			log.Printf("Failed to mark %s offline on rebind: %v", previous.UserID, err)
		}
		c.broadcast(room, protocol.EventUserLeft, protocol.NoticePayload{
			Username: previous.Username,
			Message:  previous.Username + " left the chat",
		}, "")
	}
	if err := c.setOnline(userID, true); err != nil {
		log.Printf("Failed to mark %s online: %v", userID, err)
	}

	if history, err := c.history(room); err != nil {
		log.Printf("Skipping history replay for %s: %v", connectionID, err)
	} else {
		c.sendTo(previous, protocol.EventPreviousMessages, history)
	}

	if !rejoin || c.opts.AnnounceRejoin {
		c.broadcast(room, protocol.EventUserJoined, protocol.NoticePayload{
			Username: username,
			Message:  username + " joined the chat",
		}, "")
	}
	c.broadcastPresence(room)

	log.Printf("%s joined %s (connection %s)", username, room, connectionID)
	return nil
}

// OnMessage persists text as a message from the connection's identity and
// broadcasts it to every member of the room, sender included. Connections
// that have not joined are ignored.
func (c *Coordinator) OnMessage(ctx context.Context, connectionID, text string) error {
	sess, ok := c.registry.Lookup(connectionID)
	if !ok || !sess.Joined() {
		metrics.DroppedEvents.WithLabelValues("not_joined").Inc()
		return ErrNotJoined
	}
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > c.opts.MaxTextLength {
		metrics.DroppedEvents.WithLabelValues("invalid_message").Inc()
		return fmt.Errorf("%w: message text must be 1-%d characters", ErrInvalidPayload, c.opts.MaxTextLength)
	}

	return c.inRoom(ctx, sess.Room, func() error {
		// The session may have left while this step was queued.
		sess, ok := c.registry.Lookup(connectionID)
		if !ok || !sess.Joined() {
			return ErrUnknownConnection
		}

		msg, err := c.appendMessage(NewMessage{
			UserID:   sess.UserID,
			Username: sess.Username,
			Text:     text,
			Room:     sess.Room,
		})
		if err != nil {
			return err
		}
		metrics.MessagesPersisted.WithLabelValues(sess.Room).Inc()

		c.broadcast(sess.Room, protocol.EventReceiveMessage, toPayload(msg), "")
		return nil
	})
}

// OnTyping relays a typing indicator to every other member of the room.
// It runs as a room step like every other event, but is never persisted.
func (c *Coordinator) OnTyping(ctx context.Context, connectionID string, isStart bool) error {
	sess, ok := c.registry.Lookup(connectionID)
	if !ok || !sess.Joined() {
		metrics.DroppedEvents.WithLabelValues("not_joined").Inc()
		return ErrNotJoined
	}

	event := protocol.EventUserStopTyping
	if isStart {
		event = protocol.EventUserTyping
	}
	return c.inRoom(ctx, sess.Room, func() error {
		sess, ok := c.registry.Lookup(connectionID)
		if !ok || !sess.Joined() {
			return ErrUnknownConnection
		}
		c.broadcast(sess.Room, event, protocol.TypingPayload{Username: sess.Username}, connectionID)
		return nil
	})
}

// OnDisconnect removes the session, marks its identity offline and
// announces the departure. Repeated calls for the same connection return
// ErrDuplicateSignal and have no effect.
func (c *Coordinator) OnDisconnect(ctx context.Context, connectionID string) error {
	sess, ok := c.registry.Lookup(connectionID)
	if !ok {
		return ErrDuplicateSignal
	}
	if !sess.Joined() {
		return c.leave(connectionID)
	}
	return c.inRoom(ctx, sess.Room, func() error {
		return c.leave(connectionID)
	})
}

func (c *Coordinator) leave(connectionID string) error {
	sess, err := c.registry.Unregister(connectionID)
	if errors.Is(err, ErrNotFound) {
		return ErrDuplicateSignal
	}
	if err != nil {
		return err
	}
	metrics.ActiveConnections.Dec()

	if !sess.Joined() {
		return nil
	}

	if err := c.setOnline(sess.UserID, false); err != nil {
		log.Printf("Failed to mark %s offline: %v", sess.UserID, err)
	}
	c.broadcastPresence(sess.Room)
	if sess.Username != "" {
		c.broadcast(sess.Room, protocol.EventUserLeft, protocol.NoticePayload{
			Username: sess.Username,
			Message:  sess.Username + " left the chat",
		}, "")
	}

	log.Printf("%s left %s (connection %s)", sess.Username, sess.Room, connectionID)
	return nil
}

// history returns the room's recent messages oldest first.
func (c *Coordinator) history(room string) ([]protocol.MessagePayload, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StoreTimeout)
	defer cancel()

	recent, err := c.messages.Recent(ctx, room, c.opts.HistoryLimit)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("recent").Inc()
		return nil, fmt.Errorf("%w: recent messages: %v", ErrStoreUnavailable, err)
	}

	out := make([]protocol.MessagePayload, len(recent))
	for i, msg := range recent {
		out[len(recent)-1-i] = toPayload(msg)
	}
	return out, nil
}

func (c *Coordinator) appendMessage(msg NewMessage) (Message, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StoreTimeout)
	defer cancel()

	stored, err := c.messages.Append(ctx, msg)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("append").Inc()
		return Message{}, fmt.Errorf("%w: append message: %v", ErrStoreUnavailable, err)
	}
	return stored, nil
}

func (c *Coordinator) setOnline(userID string, online bool) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StoreTimeout)
	defer cancel()

	if err := c.identities.SetOnline(ctx, userID, online); err != nil {
		metrics.StoreFailures.WithLabelValues("set_online").Inc()
		return fmt.Errorf("%w: set online=%t: %v", ErrStoreUnavailable, online, err)
	}
	return nil
}

// broadcastPresence sends the full online-users snapshot to the room. The
// broadcast is skipped when the snapshot cannot be read.
func (c *Coordinator) broadcastPresence(room string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.StoreTimeout)
	defer cancel()

	online, err := c.identities.ListOnline(ctx)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("list_online").Inc()
		log.Printf("Skipping online-users broadcast for %s: %v", room, err)
		return
	}

	users := make([]protocol.OnlineUser, 0, len(online))
	for _, u := range online {
		users = append(users, protocol.OnlineUser{ID: u.ID, Username: u.Username})
	}
	c.broadcast(room, protocol.EventOnlineUsers, users, "")
}

// sendTo delivers an event to a single session.
func (c *Coordinator) sendTo(sess Session, event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		log.Printf("Error encoding %s: %v", event, err)
		return
	}
	if sess.Sink != nil && !sess.Sink.Send(frame) {
		c.evict([]Session{sess})
	}
}

// broadcast delivers an event to all members of room except the connection
// named by exclude.
func (c *Coordinator) broadcast(room, event string, data any, exclude string) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		log.Printf("Error encoding %s: %v", event, err)
		return
	}

	members := c.registry.MembersOf(room)
	var failed []Session
	for _, member := range members {
		if member.ConnectionID == exclude || member.Sink == nil {
			continue
		}
		if !member.Sink.Send(frame) {
			failed = append(failed, member)
		}
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	c.evict(failed)
}

// evict closes sessions that could not accept a frame. Their connections
// then disconnect through the normal path.
func (c *Coordinator) evict(sessions []Session) {
	for _, sess := range sessions {
		log.Printf("Session %s removed due to full send buffer", sess.ConnectionID)
		metrics.EvictedConnections.Inc()
		sess.Sink.Close()
	}
}

func toPayload(msg Message) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:        msg.ID,
		Username:  msg.Username,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
		UserID:    msg.UserID,
	}
}

// inRoom runs fn on the room's loop and waits for it to finish.
func (c *Coordinator) inRoom(ctx context.Context, room string, fn func() error) error {
	loop, err := c.roomFor(room)
	if err != nil {
		return err
	}

	step := roomStep{run: fn, done: make(chan error, 1)}
	select {
	case loop.steps <- step:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	return <-step.done
}

func (c *Coordinator) roomFor(room string) (*roomLoop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if loop, ok := c.rooms[room]; ok {
		return loop, nil
	}

	loop := &roomLoop{name: room, steps: make(chan roomStep)}
	c.rooms[room] = loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(loop)
	}()
	return loop, nil
}

// run processes one room's steps in arrival order until shutdown.
func (c *Coordinator) run(loop *roomLoop) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case step := <-loop.steps:
			step.done <- step.run()
		}
	}
}

// Shutdown stops all room loops. Events submitted afterwards fail with
// ErrClosed.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Coordinator shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Coordinator shutdown timeout reached, room loops may still be running")
		return context.DeadlineExceeded
	}
}
