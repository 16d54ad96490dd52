// Package registryd exposes the marketplace registry over HTTP: agent
// discovery, RFP brokerage, bid collection, winner assignment and reputation.
package registryd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"agoranet/market"
	"agoranet/observability/audit"
	"agoranet/observability/httpmw"
)

const maxBodyBytes = 1 << 20

// Server serves the registry API over a market store.
type Server struct {
	store   *market.Store
	logger  *slog.Logger
	obs     *httpmw.Observability
	limiter *httpmw.RateLimiter
	trail   *audit.Trail
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObservability injects the metrics/tracing middleware.
func WithObservability(obs *httpmw.Observability) ServerOption {
	return func(s *Server) { s.obs = obs }
}

// WithRateLimiter injects the write-route limiter.
func WithRateLimiter(limiter *httpmw.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = limiter }
}

// WithAudit attaches the JSONL audit trail. A nil trail disables auditing.
func WithAudit(trail *audit.Trail) ServerOption {
	return func(s *Server) { s.trail = trail }
}

// NewServer builds the registry server over the supplied store.
func NewServer(store *market.Store, opts ...ServerOption) *Server {
	s := &Server{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		s.obs = httpmw.NewObservability(httpmw.Config{ServiceName: "registryd", MetricsPrefix: "registry"}, s.logger)
	}
	if s.limiter == nil {
		s.limiter = httpmw.NewRateLimiter(map[string]httpmw.RateLimit{}, s.logger)
	}
	return s
}

// Router assembles the registry HTTP surface. Mutating routes sit behind the
// write rate limit and the audit trail.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	r.Get("/stats", s.handleStats)

	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{agentID}", s.handleGetAgent)
	r.Get("/agents/{agentID}/reputation", s.handleReputation)
	r.Get("/rfp/open", s.handleOpenRFPs)
	r.Get("/rfp/{rfpID}/bids", s.handleListBids)
	r.Get("/rfp/{rfpID}/messages", s.handleListMessages)

	r.Group(func(g chi.Router) {
		g.Use(s.limiter.Middleware("write"))
		g.Post("/agents/register", s.audited(s.handleRegister))
		g.Delete("/agents/{agentID}", s.audited(s.handleUnregister))
		g.Patch("/agents/{agentID}/status", s.audited(s.handleSetStatus))
		g.Post("/agents/{agentID}/subscribe", s.audited(s.handleSubscribe))
		g.Post("/agents/{agentID}/unsubscribe", s.audited(s.handleUnsubscribe))
		g.Post("/agents/{agentID}/rate", s.audited(s.handleRate))
		g.Post("/rfp/create", s.audited(s.handleCreateRFP))
		g.Post("/rfp/{rfpID}/bid", s.audited(s.handleSubmitBid))
		g.Post("/rfp/{rfpID}/select", s.audited(s.handleSelectWinner))
		g.Post("/rfp/{rfpID}/cancel", s.audited(s.handleCancelRFP))
		g.Post("/rfp/{rfpID}/messages", s.audited(s.handleAppendMessage))
		g.Post("/assignments/{assignmentID}/delivery", s.audited(s.handleDelivery))
	})

	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// audited captures the request body and final status for the JSONL trail. The
// body is rewound so handlers decode it normally.
func (s *Server) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		principal := strings.TrimSpace(r.Header.Get("X-Agent-ID"))
		if err := s.trail.Record(principal, r.Method, r.URL.Path, rec.status, body); err != nil {
			s.logger.Warn("audit trail write failed", "error", err.Error())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch market.KindOf(err) {
	case market.KindValidation:
		return http.StatusBadRequest
	case market.KindUnauthorized:
		return http.StatusForbidden
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
