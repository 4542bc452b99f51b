package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/marcus/boardsync/internal/board"
	"github.com/marcus/boardsync/internal/broadcast"
	"github.com/marcus/boardsync/internal/store"
	"github.com/marcus/boardsync/internal/webhook"
)

// Server is the HTTP API server for the board.
type Server struct {
	config      Config
	http        *http.Server
	handler     http.Handler
	store       *store.Store
	service     *board.Service
	hub         *broadcast.Hub
	webhook     *webhook.Sink // nil unless WEBHOOK_URL is set
	webhookDone chan struct{}
	metrics     *Metrics
	rateLimiter *RateLimiter
	listener    net.Listener
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store. Committed
// mutations are published to every viewer connected to /events, and to the
// webhook when one is configured.
func NewServer(cfg Config, st *store.Store) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("nil store")
	}
	s := &Server{
		config:      cfg,
		store:       st,
		hub:         broadcast.NewHub(cfg.EventBuffer),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}
	var pub board.Publisher = s.hub
	if cfg.WebhookURL != "" {
		s.webhook = webhook.NewSink(cfg.WebhookURL, cfg.WebhookSecret, webhook.DefaultQueue)
		pub = board.Fanout(s.hub, s.webhook)
	}
	s.service = board.NewService(board.SQLStore(st), pub)
	s.handler = s.routes()

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the server's event hub.
func (s *Server) Hub() *broadcast.Hub {
	return s.hub
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically drop stale rate limit buckets
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.Cleanup(); n > 0 {
					slog.Debug("dropped stale rate limit buckets", "count", n)
				}
			}
		}
	}()

	if s.webhook != nil {
		s.webhookDone = make(chan struct{})
		go func() {
			defer close(s.webhookDone)
			s.webhook.Run(ctx)
		}()
	}

	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.ListenAddr
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects realtime viewers, drains in-flight requests and
// flushes queued webhook events.
func (s *Server) Shutdown(ctx context.Context) error {
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.Close()
	err := s.http.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.webhookDone != nil {
		select {
		case <-s.webhookDone:
		case <-ctx.Done():
			slog.Warn("webhook flush cut short", "err", ctx.Err())
		}
	}
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Health & metrics
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/metricz").HandlerFunc(s.handleMetrics)

	// Lists
	r.Methods(http.MethodGet).Path("/lists").HandlerFunc(s.handleListLists)
	r.Methods(http.MethodPost).Path("/lists").HandlerFunc(s.withWriteLimit(s.handleCreateList))
	r.Methods(http.MethodDelete).Path("/lists/{id}").HandlerFunc(s.withWriteLimit(s.handleDeleteList))
	r.Methods(http.MethodPost).Path("/lists/{id}/repair").HandlerFunc(s.withWriteLimit(s.handleRepairList))

	// Items
	r.Methods(http.MethodGet).Path("/items").HandlerFunc(s.handleListItems)
	r.Methods(http.MethodPost).Path("/items").HandlerFunc(s.withWriteLimit(s.handleCreateItem))
	r.Methods(http.MethodGet).Path("/items/{id}").HandlerFunc(s.handleGetItem)
	r.Methods(http.MethodPatch).Path("/items/{id}").HandlerFunc(s.withWriteLimit(s.handleUpdateItem))
	r.Methods(http.MethodDelete).Path("/items/{id}").HandlerFunc(s.withWriteLimit(s.handleDeleteItem))

	// Realtime
	r.Methods(http.MethodGet).Path("/events").Handler(&broadcast.Handler{
		Hub:         s.hub,
		CheckOrigin: s.checkWSOrigin,
	})

	return chain(r,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		s.corsMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		correlationMiddleware,
		maxBytesMiddleware(1<<20),
	)
}

// handleHealth returns a health check response, pinging the board DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "driver": s.store.Driver()})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot(s.hub)
	if s.webhook != nil {
		st := s.webhook.Stats()
		snap.Webhook = &st
	}
	writeJSON(w, http.StatusOK, snap)
}
