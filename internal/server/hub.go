package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/retrieval"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

// ReplayMode selects who receives the history replay when a client joins.
type ReplayMode string

const (
	// ReplayBroadcast replays history to the whole room.
	ReplayBroadcast ReplayMode = "broadcast"
	// ReplayDirect replays history only to the joining connection.
	ReplayDirect ReplayMode = "direct"
)

// Notices holds the text of join and leave announcements.
type Notices struct {
	Join  string `yaml:"join"`
	Leave string `yaml:"leave"`
}

// DefaultNotices returns the stock Korean announcements.
func DefaultNotices() Notices {
	return Notices{Join: "접속하셨습니다.", Leave: "나가셨습니다."}
}

// HubOptions configures a Hub. Store and Summarizer are required.
type HubOptions struct {
	Store            history.Store
	Summarizer       summarizer.Summarizer
	Retriever        retrieval.Retriever
	RetrievalTopK    int
	Policy           TriggerPolicy
	Notices          Notices
	ReplayMode       ReplayMode
	SummarizeTimeout time.Duration
	RateLimit        RateLimitConfig
	Logger           *slog.Logger
	Now              func() time.Time
}

// Room is one independent conversation: its members and its accumulated text.
type Room struct {
	name     string
	registry *Registry
	trigger  *Trigger

	// relay serializes relaying a frame with feeding its text, so the
	// trigger sees text in the order members received it.
	relay sync.Mutex
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Registry returns the room's live connections.
func (r *Room) Registry() *Registry { return r.registry }

// Trigger returns the room's accumulation state.
func (r *Room) Trigger() *Trigger { return r.trigger }

// Hub owns the rooms and every running session. Rooms are created on first
// join and live for the life of the process.
type Hub struct {
	opts   HubOptions
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub ready to accept sessions.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (TriggerPolicy{}) {
		opts.Policy = DefaultTriggerPolicy()
	}
	if opts.Notices == (Notices{}) {
		opts.Notices = DefaultNotices()
	}
	if opts.ReplayMode == "" {
		opts.ReplayMode = ReplayBroadcast
	}
	if opts.SummarizeTimeout <= 0 {
		opts.SummarizeTimeout = summarizer.DefaultTimeout
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = retrieval.DefaultTopK
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:   opts,
		logger: opts.Logger,
		rooms:  make(map[string]*Room),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Room returns the named room, creating it if needed.
func (h *Hub) Room(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		r = &Room{
			name:     name,
			registry: NewRegistry(h.logger.With("room", name)),
			trigger:  NewTrigger(h.opts.Policy, h.opts.Now),
		}
		h.rooms[name] = r
		h.logger.Info("room created", "room", name)
	}
	return r
}

// Stats reports the number of rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		clients += r.registry.Len()
	}
	return rooms, clients
}

// pumper is a peer with an outbound loop that runs beside its session.
type pumper interface {
	writePump()
}

// Start runs a session for peer in the named room on its own goroutine,
// along with the peer's write pump if it has one. It returns false, closing
// peer, if the hub is shutting down; the pump then runs on the caller's
// goroutine just long enough to send the close frame.
func (h *Hub) Start(peer Peer, identity, room string) bool {
	p, pumps := peer.(pumper)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = peer.Close()
		if pumps {
			p.writePump()
		}
		return false
	}
	if pumps {
		h.wg.Add(2)
	} else {
		h.wg.Add(1)
	}
	h.mu.Unlock()

	if pumps {
		go func() {
			defer h.wg.Done()
			p.writePump()
		}()
	}
	s := newSession(h, h.Room(room), peer, identity)
	go func() {
		defer h.wg.Done()
		s.Run(h.ctx)
	}()
	return true
}

// shutdownClients closes every client connection in every room.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	closed := 0
	for _, r := range rooms {
		closed += r.registry.CloseAll()
	}
	h.logger.Info("closed client connections", "clients", closed)
}

// Shutdown stops accepting sessions, closes every connection and waits for
// session goroutines to finish or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
