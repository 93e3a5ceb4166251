// Package server provides the HTTP REST API for HuginDB.
//
// The transport is deliberately thin: one statement endpoint, a health
// check and a stats endpoint. Everything interesting happens behind the
// pkg/hugindb facade; this package only translates JSON to Execute calls
// and typed errors to status codes.
//
// Endpoints:
//
//	POST /db/data/cypher  {"query": "...", "params": {...}}
//	                      → {"columns": [...], "rows": [[...]], "error": null}
//	GET  /health          liveness check, no auth
//	GET  /status          server and database statistics
//
// Nodes serialize as {"id", "labels", "properties"} and relationships as
// {"id", "type", "start", "end", "properties"}, matching Neo4j's HTTP
// result shapes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tveitane/hugindb/pkg/auth"
	"github.com/tveitane/hugindb/pkg/cypher"
	"github.com/tveitane/hugindb/pkg/hugindb"
)

// ErrServerClosed is returned by Start after Stop.
var ErrServerClosed = errors.New("server closed")

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "0.0.0.0")
	Address string
	// Port to listen on (default: 7474)
	Port int
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 1MB)
	MaxRequestSize int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "0.0.0.0",
		Port:           7474,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 << 20,
	}
}

// Server is the HTTP API server.
type Server struct {
	config   *Config
	db       *hugindb.DB
	verifier *auth.Verifier // nil means auth disabled

	httpServer *http.Server
	listener   net.Listener
	closed     atomic.Bool
	started    time.Time

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates an HTTP server over the database. A nil verifier disables
// authentication.
func New(db *hugindb.DB, verifier *auth.Verifier, config *Config) (*Server, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:   config,
		db:       db,
		verifier: verifier,
	}, nil
}

// Start begins listening for HTTP connections. It returns once the
// listener is bound; serving happens in a background goroutine.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[http] server error: %v", err)
		}
	}()

	log.Printf("[http] listening on %s", listener.Addr())
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler builds the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.withAuth(s.handleStatus))
	mux.HandleFunc("/db/data/cypher", s.withAuth(s.handleCypher))

	var handler http.Handler = mux
	handler = s.recoveryMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	return handler
}

// cypherRequest is the statement endpoint's request body.
type cypherRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// cypherResponse is the statement endpoint's response body.
type cypherResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Error   *string  `json:"error"`
}

func (s *Server) handleCypher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cypherRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	result, err := s.db.ExecuteWithParams(r.Context(), req.Query, req.Params)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	s.writeJSON(w, http.StatusOK, cypherResponse{Columns: columns, Rows: rows})
}

// statusFor maps the pipeline's typed errors onto HTTP status codes.
func statusFor(err error) int {
	var timeoutErr *cypher.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return http.StatusRequestTimeout
	case errors.Is(err, hugindb.ErrClosed):
		return http.StatusServiceUnavailable
	case cypher.IsStoreError(err):
		return http.StatusConflict
	default:
		// Syntax, plan and type errors are all the client's fault.
		return http.StatusBadRequest
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.db.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"uptime":           time.Since(s.started).String(),
		"requests":         s.requestCount.Load(),
		"errors":           s.errorCount.Load(),
		"queries_executed": stats.QueriesExecuted,
		"queries_failed":   stats.QueriesFailed,
		"nodes":            stats.Nodes,
		"relationships":    stats.Relationships,
		"plan_cache": map[string]any{
			"size":   stats.PlanCache.Size,
			"hits":   stats.PlanCache.Hits,
			"misses": stats.PlanCache.Misses,
		},
	})
}

// withAuth wraps a handler with HTTP basic authentication when a verifier
// is configured.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			handler(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="hugindb"`)
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if err := s.verifier.Verify(username, password); err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		handler(w, r)
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[http] panic serving %s: %v", r.URL.Path, rec)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[http] write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, cypherResponse{
		Columns: []string{},
		Rows:    [][]any{},
		Error:   &msg,
	})
}
