// Package server exposes the introducer over HTTP: the inbound message
// webhook, per-contact enrichment and matching, batch jobs and a websocket
// stream of status transitions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/similarity"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/vectorize"
	"github.com/scrypster/introducer/pkg/types"
)

// Conversation is the part of *engine.Engine the server drives.
type Conversation interface {
	ProcessInboundMessage(ctx context.Context, identity, displayName, text string) bool
	EnrichProfile(ctx context.Context, c *types.Contact) *types.Contact
}

// Matcher is the part of *vectorize.Service the server drives.
type Matcher interface {
	VectorizeAndMatch(ctx context.Context, c *types.Contact, opts vectorize.Options) (*vectorize.Result, error)
	RankedMatches(ctx context.Context, contactID string, limit int) ([]similarity.Match, error)
	VectorizeBatch(ctx context.Context, limit int, force bool) (*vectorize.BatchResult, error)
	EnrichBatch(ctx context.Context, limit int) (*vectorize.BatchResult, error)
}

// Server is the HTTP server.
type Server struct {
	cfg          *config.Config
	conversation Conversation
	matcher      Matcher
	contacts     storage.ContactStore
	enrichments  storage.EnrichmentLog
	hub          *Hub
	logger       *zap.Logger
	server       *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithEnrichmentLog mounts the enrichment audit trail at
// /api/contacts/{id}/enrichments.
func WithEnrichmentLog(l storage.EnrichmentLog) Option {
	return func(s *Server) { s.enrichments = l }
}

// New creates a server. hub may be nil, in which case /ws/events is not
// mounted.
func New(cfg *config.Config, conversation Conversation, matcher Matcher, contacts storage.ContactStore, hub *Hub, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		conversation: conversation,
		matcher:      matcher,
		contacts:     contacts,
		hub:          hub,
		logger:       logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.cfg.IsProduction(), s.cfg.Security.APIToken))
		r.Use(newRateLimiter(s.cfg.Security.RateLimitRPS).middleware)

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/messages/inbound", s.handleInbound)

			r.Route("/contacts/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetContact)
				r.Post("/enrich", s.handleEnrich)
				r.Post("/vectorize", s.handleVectorize)
				r.Get("/matches", s.handleMatches)
				if s.enrichments != nil {
					r.Get("/enrichments", s.handleEnrichments)
				}
			})

			r.Post("/batch/vectorize", s.handleBatchVectorize)
			r.Post("/batch/enrich", s.handleBatchEnrich)
		})

		if s.hub != nil {
			r.Get("/ws/events", s.hub.ServeHTTP)
		}
	})

	return r
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
