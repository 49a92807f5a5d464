// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each authenticated session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one authenticated WebSocket connection. It is the Handle the
// registry routes to, and its read pump is the session loop that feeds
// inbound frames to the delivery engine.
//
// All writes to the socket happen on the write pump. SendJSON only enqueues
// into a bounded buffer; a full buffer closes the client.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	userID         uuid.UUID
	addr           string
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
	server         *Server

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

// NewClient creates a Client for userID on conn. conn may be nil in tests
// that only exercise the outbound queue.
func NewClient(conn *websocket.Conn, userID uuid.UUID, addr string, cfg Config, log *slog.Logger) *Client {
	cfg = sanitizeConfig(cfg)
	if log == nil {
		log = slog.Default()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		userID:         userID,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log:            log.With("user_id", userID, "remote", addr),
	}
}

// UserID returns the identity the client authenticated as.
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Done is closed once the client has been asked to close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SendJSON encodes v and queues it for the write pump without blocking.
// If the queue is full the client closes itself with CloseSendOverflow.
func (c *Client) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &TransportError{UserID: c.userID, Err: ErrConnectionClosed}
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeLocked(CloseSendOverflow, "send buffer overflow")
		c.log.Warn("send buffer full; closing connection", "capacity", cap(c.send))
		return &TransportError{UserID: c.userID, Err: ErrSendBufferFull}
	}
}

// Close signals the pumps to finish. Frames already queued are still
// written before the close frame. Only the first call has any effect.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// CloseStatus returns the code and reason the client was closed with.
func (c *Client) CloseStatus() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("failed to set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Info("websocket read ended", "reason", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("rate limit exceeded; discarding frame",
			"burst", c.rateLimit.Burst,
			"interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one inbound frame and hands it to the delivery
// engine. It returns false when the session must end.
func (c *Client) processMessage(ctx context.Context, raw []byte) bool {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Info("ignoring malformed frame", "error", err)
		return true
	}

	_, err := c.server.engine.HandleInbound(ctx, c, c.userID, frame)
	switch {
	case err == nil:
		return true
	case message.IsValidation(err):
		c.log.Info("ignoring invalid frame", "error", err)
		return true
	case message.IsStorage(err):
		failure := ErrorFrame{
			Type:    FrameError,
			Code:    ErrorCodeDeliveryFailed,
			Message: "message could not be stored; it was not delivered",
		}
		return c.SendJSON(failure) == nil
	default:
		c.log.Warn("ending session after send failure", "error", err)
		return false
	}
}

// readPump is the session loop. It runs until the peer goes away, the
// connection fails, or Close is called (the write pump then closes the
// socket, which unblocks the pending read).
func (c *Client) readPump(ctx context.Context) {
	defer c.endSession()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(ctx, rawMessage) {
			return
		}
	}
}

// endSession moves the session to its terminal state: the registry entry is
// removed only if it is still this client, and the socket is released.
func (c *Client) endSession() {
	removed := c.server.registry.Deregister(c.userID, c)
	c.server.untrack(c)
	c.Close(websocket.CloseNormalClosure, "")
	c.server.metrics.activeConnections.Dec()
	c.closeConnection()
	c.log.Info("session ended", "deregistered", removed)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// A failed write ends the client too, so later SendJSON calls fail fast.
		c.Close(websocket.CloseAbnormalClosure, "")
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload := <-c.send:
		return c.writeTextMessage(payload)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.flushQueued()
		c.writeCloseMessage()
		return false
	}
}

// flushQueued writes frames that were queued before the client closed.
func (c *Client) flushQueued() {
	for {
		select {
		case payload := <-c.send:
			if !c.writeTextMessage(payload) {
				return
			}
		default:
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", "error", err)
	}
}

// writeCloseMessage sends the close frame carrying the recorded close code.
func (c *Client) writeCloseMessage() {
	code, reason, _ := c.CloseStatus()
	data := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, data, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", "error", err)
		}
	}
}

// writeTextMessage writes one JSON frame as its own WebSocket message.
func (c *Client) writeTextMessage(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
