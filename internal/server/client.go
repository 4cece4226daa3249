package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is a websocket connection. Outbound frames are queued on a buffered
// channel drained by writePump; inbound frames are read by the session
// through Receive.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	addr           string
	maxMessageSize int64
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. conn may be nil in tests that only exercise the send
// queue.
func NewClient(conn *websocket.Conn, addr string, maxMessageSize int64, sendBuffer int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	id := uuid.NewString()
	c := &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		addr:           addr,
		maxMessageSize: maxMessageSize,
		logger:         logger.With("conn", id, "addr", addr),
	}
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
		c.setupReadConnection()
	}
	return c
}

// ID returns the connection's unique id.
func (c *Client) ID() string { return c.id }

// Send queues payload without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the send queue; writePump then sends a close frame and shuts
// the socket, which ends the session's Receive loop.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// Receive reads the next frame.
func (c *Client) Receive() Received {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return c.classifyReadError(err)
	}
	return Received{Kind: ReceivedMessage, Raw: raw}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// classifyReadError maps a read failure onto a clean disconnect or a
// transport error.
func (c *Client) classifyReadError(err error) Received {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return Received{Kind: ReceivedError, Err: err}
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return Received{Kind: ReceivedDisconnect, Err: err}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		return Received{Kind: ReceivedDisconnect, Err: err}
	}

	return Received{Kind: ReceivedError, Err: err}
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
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error writing close message", "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
