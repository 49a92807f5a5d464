// Package server constructs and starts the GoChat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-dm/internal/auth"
	"github.com/Tyrowin/gochat-dm/internal/message"
)

// Server owns the registry, the delivery engine and every running session.
type Server struct {
	cfg      Config
	log      *slog.Logger
	store    message.Store
	verifier auth.Verifier
	registry *Registry
	engine   *Engine
	metrics  *Metrics
	origins  originPolicy
	upgrader websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	clients  map[*Client]struct{}
	sessions sync.WaitGroup
}

// New assembles a server around store and verifier.
func New(cfg *Config, store message.Store, verifier auth.Verifier, log *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	sanitized := sanitizeConfig(*cfg)
	metrics := NewMetrics()
	registry := NewRegistry(log.With("component", "registry"))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      sanitized,
		log:      log,
		store:    store,
		verifier: verifier,
		registry: registry,
		engine: NewEngine(store, registry, metrics, log.With("component", "delivery"),
			sanitized.MaxContentLength, sanitized.StoreTimeout),
		metrics: metrics,
		origins: newOriginPolicy(sanitized.AllowedOrigins, log),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Registry exposes the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// startSession registers an authenticated connection and launches its pumps.
func (s *Server) startSession(conn *websocket.Conn, userID uuid.UUID, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		rejectConnection(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}

	client := NewClient(conn, userID, addr, s.cfg, s.log)
	client.server = s
	s.clients[client] = struct{}{}

	if previous := s.registry.Register(userID, client); previous != nil && s.cfg.CloseSuperseded {
		previous.Close(CloseSuperseded, "replaced by a newer connection")
	}
	s.metrics.activeConnections.Inc()
	client.log.Info("session started", "connections", s.registry.Count())

	s.sessions.Add(2)
	go func() {
		defer s.sessions.Done()
		client.writePump()
	}()
	go func() {
		defer s.sessions.Done()
		client.readPump(s.ctx)
	}()
}

// rejectConnection closes an upgraded connection that never became a session.
func rejectConnection(conn *websocket.Conn, code int, reason string) {
	data := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, data, time.Now().Add(writeWait))
	_ = conn.Close()
}

// untrack forgets a client whose session has ended.
func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Shutdown closes every running session with CloseGoingAway, including
// superseded ones no longer in the registry, and waits for their
// goroutines, giving up after timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("initiating session shutdown")

	s.mu.Lock()
	s.cancel()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	s.log.Info("closed client connections", "count", len(clients))

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("session shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("session shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns an error if the server fails to start.
func StartServer(server *http.Server, log *slog.Logger) error {
	log.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
