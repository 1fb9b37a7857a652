// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and event dispatch for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/metrics"
	"github.com/Tyrowin/chatroom/internal/protocol"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client is one WebSocket connection. It is the coordinator's delivery sink
// for that connection.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	coordinator *chat.Coordinator
	id          string
	addr        string

	// tokenUserID is the subject of the upgrade token. Empty when tokens
	// are disabled.
	tokenUserID string

	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	closed bool
}

var _ chat.Sink = (*Client)(nil)

func newClient(conn *websocket.Conn, hub *Hub, coord *chat.Coordinator, cfg *Config, addr, tokenUserID string) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	perSecond := rate.Limit(float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds())

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		coordinator:    coord,
		addr:           addr,
		tokenUserID:    tokenUserID,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(perSecond, cfg.RateLimit.Burst),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the coordinator's connection ID for this client.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. It returns false when the buffer is
// full or the client is closed.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops delivery. The write pump then closes the connection, which
// ends the read pump and reports the disconnect. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs the read failure. Every read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		log.Printf("Rate limit exceeded for %s (%d events per %s); discarding event", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		metrics.DroppedEvents.WithLabelValues("rate_limited").Inc()
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it to the
// coordinator. It returns false when the event was dropped.
func (c *Client) processMessage(rawMessage []byte) bool {
	env, err := protocol.Decode(rawMessage)
	if err != nil {
		log.Printf("Invalid event from %s: %v", c.addr, err)
		metrics.DroppedEvents.WithLabelValues("malformed").Inc()
		return false
	}

	ctx := context.Background()
	switch env.Event {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if err := env.Bind(&p); err != nil {
			return c.dropped(env.Event, err)
		}
		if c.tokenUserID != "" && strings.TrimSpace(p.UserID) != c.tokenUserID {
			log.Printf("Join from %s for %q does not match its token; dropping", c.addr, p.UserID)
			metrics.DroppedEvents.WithLabelValues("identity_mismatch").Inc()
			return false
		}
		err = c.coordinator.OnJoin(ctx, c.id, p.UserID, p.Username)

	case protocol.EventSendMessage:
		var p protocol.SendMessagePayload
		if err := env.Bind(&p); err != nil {
			return c.dropped(env.Event, err)
		}
		// Identity comes from the bound session, not from the payload.
		err = c.coordinator.OnMessage(ctx, c.id, p.Text)

	case protocol.EventTyping:
		err = c.coordinator.OnTyping(ctx, c.id, true)

	case protocol.EventStopTyping:
		err = c.coordinator.OnTyping(ctx, c.id, false)

	default:
		log.Printf("Unknown event %q from %s; dropping", env.Event, c.addr)
		metrics.DroppedEvents.WithLabelValues("unknown_event").Inc()
		return false
	}

	if err != nil {
		return c.dropped(env.Event, err)
	}
	return true
}

func (c *Client) dropped(event string, err error) bool {
	log.Printf("Dropped %s event from %s: %v", event, c.addr, err)
	return false
}

func (c *Client) readPump() {
	defer func() {
		if err := c.coordinator.OnDisconnect(context.Background(), c.id); err != nil && !errors.Is(err, chat.ErrDuplicateSignal) {
			log.Printf("Disconnect of %s failed: %v", c.addr, err)
		}
		c.hub.Unregister(c)
		c.Close()
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage writes one outgoing event and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	// One event per frame; clients parse each frame as a single JSON value.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// isExpectedCloseError reports errors produced by a connection that is
// already closed or shutting down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
