package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrConnClosed is returned by Send on a connection that has been closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the peer is not draining its
	// outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is the outbound side of a connection as seen by a Registry.
type Conn interface {
	ID() string
	// Send queues payload for delivery without blocking.
	Send(payload []byte) error
	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

type entry struct {
	conn     Conn
	identity string
}

// Registry is the set of live connections of one room. Membership changes
// and broadcast scans share one lock, so every broadcast sees a consistent
// membership and all members observe broadcasts in the same order.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Add registers conn under identity. Duplicates are not detected.
func (r *Registry) Add(conn Conn, identity string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{conn: conn, identity: identity})
	count := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("client registered", "conn", conn.ID(), "identity", identity, "clients", count)
}

// Remove drops the entry matching both conn and identity. It reports whether
// an entry was found; a missing entry is not an error.
func (r *Registry) Remove(conn Conn, identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.conn == conn && e.identity == identity {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.logger.Info("client unregistered", "conn", conn.ID(), "identity", identity, "clients", len(r.entries))
			return true
		}
	}
	return false
}

// Broadcast queues payload on every registered connection in registration
// order and returns the number of successful sends. A connection whose send
// fails is removed and closed; the broadcast continues with the rest.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.Lock()
	var failed []Conn
	kept := r.entries[:0]
	for _, e := range r.entries {
		if err := e.conn.Send(payload); err != nil {
			r.logger.Warn("dropping client after failed send", "conn", e.conn.ID(), "identity", e.identity, "error", err)
			failed = append(failed, e.conn)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = entry{}
	}
	r.entries = kept
	delivered := len(kept)
	r.mu.Unlock()

	// Close after releasing the lock
	for _, conn := range failed {
		_ = conn.Close()
	}
	return delivered
}

// BroadcastJSON marshals v and broadcasts it.
func (r *Registry) BroadcastJSON(v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return r.Broadcast(payload), nil
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll removes and closes every connection, returning how many there were.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.conn.Close(); err != nil && !isExpectedCloseError(err) {
			r.logger.Warn("error closing client", "conn", e.conn.ID(), "error", err)
		}
	}
	return len(entries)
}
