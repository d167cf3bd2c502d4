package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/reports"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// Interfaces for dependencies to enable mocking

type ViewSource interface {
	Latest() *registry.View
}

type PollerInterface interface {
	Status() engine.PassStatus
	Trigger()
	PollOnce(ctx context.Context) (*store.PassRecord, error)
}

type ConsoleInterface interface {
	AddPlaceholder() registry.NodeView
	AddResource(id string, ra crm.ResourceAgent, params map[string]string, parentID string) (registry.NodeView, error)
	RemoveNew(id string) ([]string, error)
	Apply(ctx context.Context, command string) (*engine.ApplyResult, error)
}

type GraphInterface interface {
	GetGraph() *graph.Graph
}

type PassStoreInterface interface {
	RecentPasses(ctx context.Context, limit int) ([]*store.PassRecord, error)
	GetPass(ctx context.Context, passID string) (*store.PassRecord, error)
}

type HostsInterface interface {
	GetHosts(ttl time.Duration) []engine.ClusterHost
}

// Deps are the collaborators behind the HTTP surface. Any of them may be
// nil; the matching endpoints then answer 503.
type Deps struct {
	Views   ViewSource
	Poller  PollerInterface
	Console ConsoleInterface
	Graph   GraphInterface
	Passes  PassStoreInterface
	Hosts   HostsInterface
	Reports reports.ReportStore
	HostTTL time.Duration
	Logger  zerolog.Logger
}

// Server encapsulates the HTTP API server
type Server struct {
	deps   Deps
	log    zerolog.Logger
	server *http.Server

	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance
func NewServer(d Deps, addr string) *Server {
	if d.HostTTL == 0 {
		d.HostTTL = time.Minute
	}
	s := &Server{deps: d, log: d.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/resources", s.handleResources)
	mux.HandleFunc("/v1/resources/{id}", s.handleResource)
	mux.HandleFunc("/v1/placeholders", s.handlePlaceholders)
	mux.HandleFunc("/v1/graph", s.handleGraph)
	mux.HandleFunc("/v1/passes", s.handlePasses)
	mux.HandleFunc("/v1/passes/{id}", s.handlePass)
	mux.HandleFunc("/v1/cluster/hosts", s.handleClusterHosts)
	mux.HandleFunc("/v1/poll", s.handlePoll)
	mux.HandleFunc("/v1/apply", s.handleApply)
	mux.HandleFunc("/v1/reports/{type}", s.handleReport)

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := s.withLogging(s.withRecovery(withSecureHeaders(mux)))

	if addr == "" {
		addr = "127.0.0.1:8095"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.log.Info().Str("addr", s.server.Addr).Msg("server_starting_tls")
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("server_starting")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("server_stopping")
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Str("trace_id", getTraceID(r.Context())).Str("path", r.URL.Path).Msg("failed_to_encode_response")
	}
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().Interface("error", err).Str("path", r.URL.Path).Msg("panic_recovered")
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}
		r = r.WithContext(context.WithValue(r.Context(), traceIDKey, traceID))

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("trace_id", traceID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
