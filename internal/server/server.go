package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/identity"
	"github.com/Tyrowin/digestchat/internal/retrieval"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

// Dependencies are the external collaborators a Server talks to.
type Dependencies struct {
	Store      history.Store
	Summarizer summarizer.Summarizer
	// Retriever is optional; nil disables related-document lookup.
	Retriever retrieval.Retriever
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server is the chat service: its hub plus the HTTP handlers in front of it.
type Server struct {
	cfg      Config
	hub      *Hub
	identity *identity.Cookie
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds a server from cfg, which is sanitized first.
func New(cfg Config, deps Dependencies) *Server {
	cfg = cfg.Sanitize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := NewHub(HubOptions{
		Store:            deps.Store,
		Summarizer:       deps.Summarizer,
		Retriever:        deps.Retriever,
		RetrievalTopK:    cfg.Retrieval.TopK,
		Policy:           cfg.Trigger,
		Notices:          cfg.Notices,
		ReplayMode:       cfg.ReplayMode,
		SummarizeTimeout: cfg.Summarizer.Timeout,
		RateLimit:        cfg.RateLimit,
		Logger:           logger,
		Now:              deps.Now,
	})

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		identity: identity.NewCookie(cfg.Identity.Cookie, cfg.Identity.Secret),
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub returns the server's hub for shutdown coordination.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the sanitized configuration in effect.
func (s *Server) Config() Config { return s.cfg }
