// Package server implements the helpdesk HTTP server, REST API, auth, and SSE real-time events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GoCodeAlone/helpdesk/comms"
	"github.com/GoCodeAlone/helpdesk/config"
	"github.com/GoCodeAlone/helpdesk/server/api"
)

// Server is the helpdesk HTTP server.
type Server struct {
	cfg      config.Config
	mux      *http.ServeMux
	handler  http.Handler
	httpSrv  *http.Server
	logger   *slog.Logger
	verifier Verifier

	tasks api.TaskService
	bus   comms.Bus

	routesOnce  sync.Once
	unsubscribe func()

	// SSE clients
	sseMu      sync.RWMutex
	sseClients map[chan []byte]struct{}

	// done is closed by Stop to end open event streams.
	done     chan struct{}
	stopOnce sync.Once

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger. The token
// verifier is built from cfg.Auth.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     logger,
		verifier:   NewVerifier(cfg.Auth),
		sseClients: make(map[chan []byte]struct{}),
		done:       make(chan struct{}),
		startTime:  time.Now(),
		version:    ver,
	}
}

// SetTaskService attaches the lifecycle service to the server.
func (s *Server) SetTaskService(svc api.TaskService) {
	s.tasks = svc
}

// SetBus attaches a comms bus whose task updates are streamed to SSE
// clients.
func (s *Server) SetBus(bus comms.Bus) {
	s.bus = bus
}

// SetVerifier replaces the token verifier built from config.
func (s *Server) SetVerifier(v Verifier) {
	s.verifier = v
}

// Handler registers routes on first use and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(func() {
		s.registerRoutes()
		if s.bus != nil {
			s.unsubscribe = s.bus.Subscribe(comms.AllTasks, func(_ context.Context, msg *comms.Message) error {
				s.BroadcastEvent(string(msg.Type), msg)
				return nil
			})
		}
		s.handler = otelhttp.NewHandler(s.mux, "helpdesk",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	return s.handler
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop ends open event streams, then gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Tasks:   s.tasks,
		Bus:     s.bus,
		Logger:  s.logger,
		Version: s.version,
		StartAt: s.startTime.Unix(),
		Actor:   subjectFromContext,
	}

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE: auth handled inline, EventSource cannot set headers
	s.mux.HandleFunc("GET /events", s.handleSSE)

	// Protected API
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response whose code is derived from the
// HTTP status, e.g. UNAUTHORIZED.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// handleSSE implements Server-Sent Events for task updates.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// EventSource can't set headers, so the token may come as a query param.
	if _, err := s.verifier.Verify(r.Context(), bearerToken(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	s.sseMu.Lock()
	s.sseClients[ch] = struct{}{}
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, ch)
		s.sseMu.Unlock()
	}()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case data := <-ch:
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}

// BroadcastEvent sends a JSON-encoded event to all connected SSE clients.
// Slow clients whose buffer is full miss the event.
func (s *Server) BroadcastEvent(eventType string, payload any) {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		s.logger.Error("broadcast event marshal", slog.Any("err", err))
		return
	}

	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- data:
		default:
		}
	}
}

// sseClientCount reports the number of connected SSE clients.
func (s *Server) sseClientCount() int {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	return len(s.sseClients)
}
