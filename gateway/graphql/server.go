// Package graphql serves the catalog schema over HTTP and over
// graphql-transport-ws subscription connections, sharing one compiled
// schema and one listener. It owns the gateway lifecycle: bind, ready
// signalling, drain and teardown.
package graphql

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	gographql "github.com/graph-gophers/graphql-go"
	"github.com/gorilla/websocket"

	"github.com/libraria/libraria/auth"
	"github.com/libraria/libraria/errors"
)

// Server manages the HTTP server carrying both GraphQL transports.
type Server struct {
	config   Config
	schema   *gographql.Schema
	contexts *contextBuilder
	logger   *slog.Logger
	metrics  *Metrics

	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener

	// Lifecycle
	running  bool
	draining atomic.Bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once // Ensures stopChan is closed exactly once

	// Open subscription connections, torn down after HTTP drains.
	connMu sync.Mutex
	conns  map[*wsConn]struct{}
}

// NewServer creates a new gateway server around a compiled schema.
func NewServer(config Config, schema *gographql.Schema, authSvc *auth.Service, logger *slog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "NewServer", "config validation")
	}

	if schema == nil || authSvc == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"schema and auth service are required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:   config,
		schema:   schema,
		contexts: &contextBuilder{auth: authSvc, logger: logger},
		logger:   logger,
		metrics:  NewMetrics(),
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
		conns:    make(map[*wsConn]struct{}),
	}, nil
}

// Setup configures the HTTP server and routes.
func (s *Server) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Health check endpoint
	s.mux.HandleFunc("/health", s.handleHealth)

	// Both transports share the GraphQL path; upgrade requests go to the
	// subscription transport, everything else is request/response.
	s.mux.HandleFunc(s.config.Path, s.handleGraphQL)

	if s.config.EnableMetrics {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// GraphQL Playground (if enabled)
	if s.config.EnablePlayground {
		s.mux.Handle("/", playground.Handler("GraphQL Playground", s.config.Path))
		s.logger.Info("GraphQL Playground enabled", "path", "/")
	}

	// CORS middleware wrapper
	var handler http.Handler = s.mux
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	// No global write timeout: subscription connections are long-lived
	// hijacked sockets and set their own per-frame deadlines.
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("Server configured",
		"address", s.config.BindAddress,
		"path", s.config.Path,
		"request_timeout", s.config.RequestTimeout())

	return nil
}

// Start binds the listener, signals readiness and serves until the
// context is cancelled or Stop is called. The ready channel is closed
// only after the listener is bound: a caller observing ready may connect
// immediately.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}
	if s.httpServer == nil {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrMissingConfig, "Server", "Start", "Setup not called")
	}

	listener, err := net.Listen("tcp", s.config.BindAddress)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapTransport(err, "Server", "Start", "bind "+s.config.BindAddress)
	}
	s.listener = listener
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan) // Signal goroutine exit
		s.logger.Info("Server started", "address", listener.Addr().String())

		if ready != nil {
			close(ready)
		}

		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			// Non-blocking send - ensures goroutine doesn't leak if select is on another case
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Server context cancelled, shutting down")
		return s.Stop(s.config.ShutdownGrace())

	case <-s.stopChan:
		s.logger.Info("Server stop requested")
		return nil

	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "HTTP server failed")
	}
}

// Stop drains the gateway: new operations are refused immediately,
// in-flight HTTP requests get up to timeout to finish, then open
// subscription connections are told to go away and dropped. Shutdown
// does not wait on hijacked sockets, so the explicit disposal pass is
// what bounds subscription teardown.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil // Already stopped
	}
	server := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Server stopping")
	s.draining.Store(true)

	// Signal stop channel (idempotent - safe to call multiple times)
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)

	s.closeSubscriptions()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if shutdownErr != nil {
		s.logger.Error("Failed to drain server gracefully", "error", shutdownErr)
		return errors.WrapTransport(shutdownErr, "Server", "Stop", "graceful shutdown")
	}

	s.logger.Info("Server stopped")
	return nil
}

// Addr returns the bound listener address, for callers that bind to
// port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// handleGraphQL dispatches a request on the shared path to the right
// transport.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeErrorResponse(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.serveSubscription(w, r)
		return
	}
	s.serveOperation(w, r)
}

// registerConn tracks an acknowledged subscription connection for
// shutdown disposal.
func (s *Server) registerConn(c *wsConn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) unregisterConn(c *wsConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// closeSubscriptions tells every open subscription connection the server
// is going away and releases it.
func (s *Server) closeSubscriptions() {
	s.connMu.Lock()
	open := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connMu.Unlock()

	if len(open) > 0 {
		s.logger.Info("Closing subscription connections", "count", len(open))
	}
	for _, c := range open {
		c.shutdown()
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !running || s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
