// Package facilitatord is the x402 facilitator: it fronts a Kora-style
// gasless signer so paying agents can settle SPL transfers without holding
// SOL for fees. Verify co-signs without broadcasting; Settle signs,
// broadcasts, and waits for confirmation.
package facilitatord

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agoranet/observability"
	"agoranet/observability/httpmw"
	"agoranet/observability/logging"
	"agoranet/x402"
)

const maxBodyBytes = 1 << 20

// Server exposes the facilitator HTTP API.
type Server struct {
	cfg    Config
	signer Signer
	logger *slog.Logger
	obs    *httpmw.Observability
	nowFn  func() time.Time
}

// ServerOption customises the server.
type ServerOption func(*Server)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObservability installs shared HTTP middleware.
func WithObservability(obs *httpmw.Observability) ServerOption {
	return func(s *Server) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithClock pins the clock for tests.
func WithClock(nowFn func() time.Time) ServerOption {
	return func(s *Server) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

// NewServer wires the facilitator over the given signer.
func NewServer(cfg Config, signer Signer, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg,
		signer: signer,
		logger: slog.Default(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		s.obs = httpmw.NewObservability(httpmw.Config{
			ServiceName:   "facilitatord",
			MetricsPrefix: "facilitator",
		}, s.logger)
	}
	return s
}

// Router assembles the facilitator HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware())

	r.Get("/", s.handleRoot)
	r.Get("/supported", s.handleSupported)
	r.Post("/verify", s.handleVerify)
	r.Post("/settle", s.handleSettle)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":   "x402 facilitator",
		"fee_payer": s.cfg.FeePayer,
		"network":   s.cfg.Network,
	})
}

func (s *Server) handleSupported(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, x402.SupportedResponse{
		X402Version:     1,
		Scheme:          "exact",
		Network:         s.cfg.Network,
		FeePayer:        s.cfg.FeePayer,
		SupportedTokens: s.cfg.SupportedTokens,
	})
}

type paymentRequest struct {
	Payment struct {
		Transaction string `json:"transaction"`
	} `json:"payment"`
}

func (s *Server) decodePayment(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req paymentRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decode request: " + err.Error()})
		return "", false
	}
	tx := strings.TrimSpace(req.Payment.Transaction)
	if tx == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment.transaction is required"})
		return "", false
	}
	return tx, true
}

// handleVerify answers structural validity without broadcasting: Kora
// co-signing the transaction is the proof. Failures are a semantic "no",
// not an HTTP error, so callers can distinguish them from outages.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.decodePayment(w, r)
	if !ok {
		return
	}
	if _, err := s.signer.SignTransaction(r.Context(), tx); err != nil {
		s.logger.Warn("verification failed", "error", err)
		writeJSON(w, http.StatusOK, x402.VerifyResponse{IsValid: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, x402.VerifyResponse{IsValid: true, Message: "transaction signable"})
}

// handleSettle signs as fee payer, broadcasts, and waits for confirmation.
// Settlement failures come back as success:false on 200; the x402 client
// surfaces them as SettlementFailed.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.decodePayment(w, r)
	if !ok {
		return
	}
	start := s.nowFn()
	signature, err := s.signer.SignAndSend(r.Context(), tx)
	elapsed := s.nowFn().Sub(start).Seconds()
	if err != nil {
		observability.Payments().RecordSettlement("failed", elapsed)
		s.logger.Warn("settlement failed", "error", err, "duration_ms", int64(elapsed*1000))
		writeJSON(w, http.StatusOK, x402.SettleResponse{
			Success: false,
			Network: s.cfg.Network,
			Error:   err.Error(),
		})
		return
	}
	observability.Payments().RecordSettlement("settled", elapsed)
	s.logger.Info("payment settled",
		"signature", logging.Abbrev(signature),
		"duration_ms", int64(elapsed*1000),
	)
	writeJSON(w, http.StatusOK, x402.SettleResponse{
		Success:              true,
		TransactionSignature: signature,
		Network:              s.cfg.Network,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
