package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/agent"
	"github.com/xkilldash9x/scalpel-cua/internal/config"
)

const (
	requestTimeout  = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Interactor runs one user prompt through the agent and returns the items
// it added to the conversation.
type Interactor interface {
	Submit(ctx context.Context, text string) ([]schemas.Item, error)
}

// Server hosts the document service and the interactive agent endpoint.
type Server struct {
	cfg        config.MCPConfig
	logger     *zap.Logger
	handlers   *Handlers
	router     chi.Router
	httpServer *http.Server

	interactorMu sync.RWMutex
	interactor   Interactor

	// turnCtx is cancelled on shutdown and parents every agent turn.
	turnCtx     context.Context
	cancelTurns context.CancelFunc
	// turnMu serializes turns across connections; there is one page.
	turnMu sync.Mutex
	turns  sync.WaitGroup

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
	// active receives progress events of the running turn.
	active    *wsClient
	activeReq string
}

// NewServer builds the router. The agent endpoint reports an error until
// SetInteractor is called.
func NewServer(cfg config.MCPConfig, logger *zap.Logger) *Server {
	logger = logger.Named("mcp")
	turnCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		handlers:    NewHandlers(logger, NewDocumentService(DefaultDocuments, logger)),
		turnCtx:     turnCtx,
		cancelTurns: cancel,
		clients:     make(map[*wsClient]struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Websocket routes stay outside the timeout and logging group; the
	// connection outlives the upgrade request.
	r.Get("/ws/v1/interact", s.handleAgentInteract())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetInteractor attaches the session that serves websocket prompts.
func (s *Server) SetInteractor(i Interactor) {
	s.interactorMu.Lock()
	defer s.interactorMu.Unlock()
	s.interactor = i
}

func (s *Server) getInteractor() Interactor {
	s.interactorMu.RLock()
	defer s.interactorMu.RUnlock()
	return s.interactor
}

// Observe forwards coordinator progress to the client whose turn is running.
func (s *Server) Observe(ev agent.Event) {
	s.clientsMu.Lock()
	c, reqID := s.active, s.activeReq
	s.clientsMu.Unlock()
	if c == nil {
		return
	}

	switch ev.Type {
	case agent.EventComputerCall:
		if ev.Action != nil {
			c.sendStatus(reqID, fmt.Sprintf("Executing %s.", ev.Action.Type))
		}
	case agent.EventFunctionCall:
		c.sendStatus(reqID, "Called "+ev.Text)
	case agent.EventSafetyCheck:
		c.sendStatus(reqID, "Safety check: "+ev.Text)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("MCP Server starting", zap.String("address", addr))

	select {
	case err := <-errCh:
		s.cancelTurns()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)

	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.logger.Info("MCP Server stopped.")
	return err
}

// Shutdown cancels running turns, closes websocket clients and the HTTP
// listener, and waits for turns to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelTurns()

	var err error
	if s.httpServer != nil {
		if serr := s.httpServer.Shutdown(ctx); serr != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(serr))
			err = serr
		}
	}

	// Hijacked connections are not closed by http.Server.Shutdown.
	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for running turns: %w", ctx.Err()))
	}
	return err
}

func (s *Server) register(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
	if s.active == c {
		s.active, s.activeReq = nil, ""
	}
}

func (s *Server) setActive(c *wsClient, requestID string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.active, s.activeReq = c, requestID
}
