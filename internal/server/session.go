package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

// Peer is a connection a session can read from.
type Peer interface {
	Conn
	// Receive blocks for the next inbound frame or the end of the connection.
	Receive() Received
}

// SessionState is the lifecycle position of a session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one connection to an identity inside a room.
type Session struct {
	hub      *Hub
	room     *Room
	peer     Peer
	identity string
	state    SessionState
	limiter  *rateLimiter
	logger   *slog.Logger
}

func newSession(h *Hub, room *Room, peer Peer, identity string) *Session {
	var limiter *rateLimiter
	if h.opts.RateLimit.Burst > 0 {
		limiter = newRateLimiter(h.opts.RateLimit.Burst, h.opts.RateLimit.RefillInterval, h.opts.Now)
	}
	return &Session{
		hub:      h,
		room:     room,
		peer:     peer,
		identity: identity,
		state:    StateConnecting,
		limiter:  limiter,
		logger:   h.logger.With("room", room.name, "conn", peer.ID(), "identity", identity),
	}
}

// Run drives the session until the peer disconnects or fails.
func (s *Session) Run(ctx context.Context) {
	if s.identity == "" {
		s.logger.Warn("rejecting connection without identity")
		s.state = StateClosed
		_ = s.peer.Close()
		return
	}

	s.activate(ctx)
	defer s.close()

	for {
		rcv := s.peer.Receive()
		switch rcv.Kind {
		case ReceivedMessage:
			s.handleFrame(ctx, rcv.Raw)
		case ReceivedDisconnect:
			s.logger.Info("client disconnected", "reason", rcv.Err)
			return
		default:
			s.logger.Warn("client connection failed", "error", rcv.Err)
			return
		}
	}
}

func (s *Session) activate(ctx context.Context) {
	s.room.registry.Add(s.peer, s.identity)
	s.state = StateActive
	s.announce(s.hub.opts.Notices.Join)
	s.replay(ctx)
}

func (s *Session) close() {
	s.room.registry.Remove(s.peer, s.identity)
	s.logger.Debug("session closing", "state", s.state)
	s.state = StateClosed
	s.announce(s.hub.opts.Notices.Leave)
	_ = s.peer.Close()
}

func (s *Session) announce(text string) {
	notice := ChatMessage{Location: noticeLocation, Sender: s.identity, Message: text}
	if _, err := s.room.registry.BroadcastJSON(notice); err != nil {
		s.logger.Error("failed to encode notice", "error", err)
	}
}

// replay sends the room's stored history, oldest first.
func (s *Session) replay(ctx context.Context) {
	records, err := s.hub.opts.Store.ReplayAll(ctx, s.room.name)
	if err != nil {
		s.logger.Warn("history replay failed", "error", err)
		return
	}
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			s.logger.Warn("skipping undecodable history record", "error", err)
			continue
		}
		if s.hub.opts.ReplayMode == ReplayDirect {
			if err := s.peer.Send(payload); err != nil {
				s.logger.Warn("history replay interrupted", "error", err)
				_ = s.peer.Close()
				return
			}
			continue
		}
		s.room.registry.Broadcast(payload)
	}
	s.logger.Debug("history replayed", "records", len(records), "mode", s.hub.opts.ReplayMode)
}

func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	if s.limiter != nil && !s.limiter.allow() {
		s.logger.Warn("rate limit exceeded; discarding message")
		return
	}

	msg, err := decodeChatMessage(raw)
	if err != nil {
		s.logger.Warn("invalid message", "error", err)
		return
	}

	s.room.relay.Lock()
	s.room.registry.Broadcast(raw)
	text, due := s.room.trigger.Offer(msg.Message)
	s.room.relay.Unlock()

	if due {
		s.flush(ctx, text)
	}
}

// flush summarizes text, persists the summary and broadcasts it. Each step's
// failure ends the cycle; the text is not retried.
func (s *Session) flush(ctx context.Context, text string) {
	opts := s.hub.opts

	sctx, cancel := context.WithTimeout(ctx, opts.SummarizeTimeout)
	summary, err := opts.Summarizer.Summarize(sctx, text)
	cancel()
	if err != nil {
		if !errors.Is(err, summarizer.ErrSummarizationFailed) {
			err = errors.Join(summarizer.ErrSummarizationFailed, err)
		}
		s.logger.Warn("summary skipped", "chars", len([]rune(text)), "error", err)
		return
	}

	rec, err := history.FromSummary(s.room.name, summary, opts.Now())
	if err != nil {
		s.logger.Warn("summary skipped", "error", err)
		return
	}

	if opts.Retriever != nil {
		docs, err := opts.Retriever.Retrieve(ctx, rec.Answer, opts.RetrievalTopK)
		if err != nil {
			s.logger.Warn("related document lookup failed", "error", err)
		} else {
			if rec.Fields == nil {
				rec.Fields = make(map[string]any, 1)
			}
			rec.Fields["documents"] = docs
		}
	}

	if err := opts.Store.Append(ctx, rec); err != nil {
		s.logger.Warn("summary not persisted; not broadcasting", "error", err)
		return
	}

	delivered, err := s.room.registry.BroadcastJSON(rec)
	if err != nil {
		s.logger.Error("failed to encode history record", "error", err)
		return
	}
	s.logger.Info("history flushed", "answer_chars", len([]rune(rec.Answer)), "clients", delivered)
}
