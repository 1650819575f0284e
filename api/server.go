// Package api exposes the current zone state over HTTP and streams hub
// events to browsers over a websocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/health"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/telemetry"
)

// Source answers the read-only queries
type Source interface {
	Snapshot() hub.Snapshot
	Zones() []string
	History(zoneID string) []telemetry.HistoryPoint
}

// HealthFunc reports aggregate system health
type HealthFunc func() health.Status

// Server serves the query routes and the /ws event stream
type Server struct {
	addr   string
	source Source
	hub    *hub.Hub
	health HealthFunc
	logger *slog.Logger

	upgrader         websocket.Upgrader
	subscriberBuffer int
	requestLimit     rate.Limit
	requestBurst     int

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	clients  sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealth sets the /health status source
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithSubscriberBuffer sets each websocket client's event queue length
func WithSubscriberBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithRequestLimit bounds how often one client may ask for a fresh snapshot
func WithRequestLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.requestLimit = limit
		s.requestBurst = burst
	}
}

// NewServer creates a server listening on addr
func NewServer(addr string, source Source, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		addr:             addr,
		source:           source,
		hub:              h,
		logger:           slog.Default(),
		subscriberBuffer: hub.DefaultQueueSize,
		requestLimit:     rate.Every(time.Second),
		requestBurst:     3,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard clients are not authorized; any origin may read
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/data", s.handleData)
	r.Get("/api/zones", s.handleZones)
	r.Get("/api/history/{zone}", s.handleHistory)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start listens and serves until Stop. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.addr)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapTransient(err, "Server", "Start", "serve")
	}
	return nil
}

// Addr returns the bound address once Start is listening
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down, then closes websocket clients and waits for them
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.shutdown) })

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		// Shutdown does not wait for hijacked websocket connections
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) handleData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Zones())
}

// handleHistory answers unknown zones with an empty list
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.History(chi.URLParam(r, "zone")))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, health.NewHealthy("zonewatch", "OK"))
		return
	}
	status := s.health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
