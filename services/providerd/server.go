// Package providerd is the data-provider daemon: it polls the registry for
// open RFPs, bids through the configured policy, and serves paid deliveries
// behind an HTTP 402 payment gate.
package providerd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agoranet/observability"
	"agoranet/observability/httpmw"
	"agoranet/observability/logging"
	"agoranet/solana"
	"agoranet/x402"
)

const maxBodyBytes = 1 << 20

// TransferConfirmer checks that a settled payment landed on the ledger with
// at least the expected amount for the recipient. *solana.Client implements
// it against a JSON-RPC node.
type TransferConfirmer interface {
	ConfirmTransfer(ctx context.Context, signature string, recipientOwner, mint solana.PublicKey, minAmount uint64) error
}

// DeliverRequest is the body consumers post to /deliver.
type DeliverRequest struct {
	TaskType string          `json:"task_type"`
	Params   json.RawMessage `json:"parameters,omitempty"`
}

// DeliverResponse is the paid delivery envelope.
type DeliverResponse struct {
	Success          bool            `json:"success"`
	Data             json.RawMessage `json:"data"`
	PaymentConfirmed bool            `json:"payment_confirmed"`
	AgentID          string          `json:"agent_id"`
	Message          string          `json:"message"`
}

// ServiceHandler produces the deliverable once payment has been confirmed.
type ServiceHandler func(ctx context.Context, req DeliverRequest) (json.RawMessage, error)

// PriceFeed returns the SOL/USDC quote handler the reference provider
// ships with. Deployments plug their own ServiceHandler for real data.
func PriceFeed(nowFn func() time.Time) ServiceHandler {
	if nowFn == nil {
		nowFn = time.Now
	}
	return func(context.Context, DeliverRequest) (json.RawMessage, error) {
		quote := struct {
			Symbol    string  `json:"symbol"`
			Price     float64 `json:"price"`
			Timestamp string  `json:"timestamp"`
			Source    string  `json:"source"`
		}{
			Symbol:    "SOL/USDC",
			Price:     142.35,
			Timestamp: nowFn().UTC().Format(time.RFC3339),
			Source:    "mock_oracle",
		}
		return json.Marshal(quote)
	}
}

// Server is the payment-gated delivery endpoint.
type Server struct {
	cfg       Config
	wallet    solana.PublicKey
	mint      solana.PublicKey
	confirmer TransferConfirmer
	handler   ServiceHandler
	replay    *x402.ReplayCache
	obs       *httpmw.Observability
	logger    *slog.Logger
	nowFn     func() time.Time
}

// ServerOption customises the server.
type ServerOption func(*Server)

// WithServiceHandler replaces the default price-feed handler.
func WithServiceHandler(handler ServiceHandler) ServerOption {
	return func(s *Server) {
		if handler != nil {
			s.handler = handler
		}
	}
}

// WithServerLogger overrides the default logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerObservability installs shared HTTP middleware.
func WithServerObservability(obs *httpmw.Observability) ServerOption {
	return func(s *Server) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithReplayCache replaces the default replay cache.
func WithReplayCache(cache *x402.ReplayCache) ServerOption {
	return func(s *Server) {
		if cache != nil {
			s.replay = cache
		}
	}
}

// WithServerClock pins the clock for tests.
func WithServerClock(nowFn func() time.Time) ServerOption {
	return func(s *Server) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

// NewServer builds the delivery server, validating the wallet and mint
// addresses up front.
func NewServer(cfg Config, confirmer TransferConfirmer, opts ...ServerOption) (*Server, error) {
	wallet, err := solana.ParsePublicKey(cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("parse wallet address: %w", err)
	}
	mint, err := solana.ParsePublicKey(cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("parse token mint: %w", err)
	}
	if confirmer == nil {
		return nil, fmt.Errorf("transfer confirmer is required")
	}
	s := &Server{
		cfg:       cfg,
		wallet:    wallet,
		mint:      mint,
		confirmer: confirmer,
		handler:   PriceFeed(time.Now),
		replay:    x402.NewReplayCache(x402.WithReplayTTL(cfg.ReplayTTL.Duration)),
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		s.obs = httpmw.NewObservability(httpmw.Config{
			ServiceName:   "providerd",
			MetricsPrefix: "provider",
		}, s.logger)
	}
	return s, nil
}

// ReplayCache exposes the cache so the daemon can run its sweeper.
func (s *Server) ReplayCache() *x402.ReplayCache { return s.replay }

// Router assembles the provider HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	r.Post("/deliver", s.handleDeliver)
	return r
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var req DeliverRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}
	}
	if req.TaskType == "" && len(s.cfg.TaskTypes) > 0 {
		req.TaskType = s.cfg.TaskTypes[0]
	}
	price := s.cfg.BasePrice(req.TaskType)
	if price <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no price configured for task type %q", req.TaskType))
		return
	}

	proofHeader := r.Header.Get(x402.PaymentResponseHeader)
	if proofHeader == "" {
		s.writeChallenge(w, price)
		return
	}
	proof, err := x402.ParseProofHeader(proofHeader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payment proof")
		return
	}

	// The delivery identity is the request body digest: the same settled
	// signature may re-fetch the same delivery, never a different one.
	nonce := deliveryNonce(body)
	switch verdict, cached := s.replay.Check(proof.Signature, nonce); verdict {
	case x402.ReplayHit:
		observability.Deliveries().RecordReplay("hit")
		s.logger.Info("delivery replayed", "signature", logging.Abbrev(proof.Signature))
		writeRaw(w, http.StatusOK, cached)
		return
	case x402.ReplayConflict:
		observability.Deliveries().RecordReplay("conflict")
		s.logger.Warn("payment signature reuse rejected", "signature", logging.Abbrev(proof.Signature))
		writeError(w, http.StatusPaymentRequired, "payment signature already spent")
		return
	}

	minor, err := x402.MinorFromHuman(price, solana.USDCDecimals)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "price conversion failed")
		return
	}
	if err := s.confirmer.ConfirmTransfer(r.Context(), proof.Signature, s.wallet, s.mint, minor); err != nil {
		observability.Deliveries().RecordDelivery("rejected")
		s.logger.Warn("payment verification failed",
			"signature", logging.Abbrev(proof.Signature),
			"error", err,
		)
		writeError(w, http.StatusPaymentRequired, "payment_not_found_or_insufficient")
		return
	}

	data, err := s.handler(r.Context(), req)
	if err != nil {
		observability.Deliveries().RecordDelivery("handler_error")
		s.logger.Error("service handler failed", "task_type", req.TaskType, "error", err)
		writeError(w, http.StatusInternalServerError, "service handler failed")
		return
	}
	resp := DeliverResponse{
		Success:          true,
		Data:             data,
		PaymentConfirmed: true,
		AgentID:          s.cfg.AgentID,
		Message:          "data delivered",
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response failed")
		return
	}
	s.replay.Store(proof.Signature, nonce, encoded)
	observability.Deliveries().RecordDelivery("delivered")
	s.logger.Info("delivery completed",
		"task_type", req.TaskType,
		"signature", logging.Abbrev(proof.Signature),
		"price_usdc", price,
	)
	writeRaw(w, http.StatusOK, encoded)
}

func (s *Server) writeChallenge(w http.ResponseWriter, price float64) {
	challenge, err := x402.NewChallenge(
		s.cfg.WalletAddress,
		price,
		solana.USDCDecimals,
		s.cfg.TokenMint,
		s.cfg.Network,
		s.cfg.FacilitatorURL,
		s.nowFn(),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mint payment challenge failed")
		return
	}
	observability.Deliveries().RecordDelivery("challenged")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(challenge)
}

func deliveryNonce(body []byte) string {
	sum := sha256.Sum256(bytes.TrimSpace(body))
	return hex.EncodeToString(sum[:])
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
