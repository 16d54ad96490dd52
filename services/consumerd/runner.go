// Package consumerd runs one consumer procurement: broadcast an RFP, collect
// bids over the bidding window, rank them, select a winner, settle payment
// through the x402 flow, fetch the delivery, and feed a rating back. The
// outcome is a single discriminated result; a settled payment signature is
// journaled locally and never dropped from the result.
package consumerd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agoranet/evaluator"
	"agoranet/market"
	"agoranet/observability/logging"
	"agoranet/registryclient"
	"agoranet/solana"
	"agoranet/x402"
)

// Result is the discriminated outcome of one run.
type Result struct {
	OK        bool            `json:"ok"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// ErrorKindNoBids marks a bidding window that closed without a single bid.
const ErrorKindNoBids = "no_bids"

// ErrorKindRegistry marks registry failures outside the payment flow.
const ErrorKindRegistry = "registry_error"

// registryAPI is the slice of the registry client the runner depends on.
type registryAPI interface {
	RegisterAgent(ctx context.Context, agent *market.Agent) (*market.Agent, error)
	CreateRFP(ctx context.Context, rfp *market.RFP) (*market.RFP, error)
	Bids(ctx context.Context, rfpID string) ([]*market.Bid, error)
	SelectWinner(ctx context.Context, rfpID, bidID, selectorAgentID string) (*market.Assignment, error)
	CancelRFP(ctx context.Context, rfpID, requesterAgentID string) error
	GetAgent(ctx context.Context, agentID string) (*market.Agent, error)
	RecordDelivery(ctx context.Context, assignmentID, txSignature string) (*market.Assignment, error)
	Rate(ctx context.Context, ratedAgentID string, req registryclient.RatingRequest) error
}

// paymentClient performs payment-gated requests.
type paymentClient interface {
	Do(ctx context.Context, method, url string, body any, maxAmountMinor uint64) (*x402.Result, error)
}

type deliverRequest struct {
	TaskType   string         `json:"task_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Runner drives one procurement from RFP to rating.
type Runner struct {
	cfg      Config
	registry registryAPI
	payer    paymentClient
	eval     evaluator.Evaluator
	journal  *Journal
	logger   *slog.Logger
	nowFn    func() time.Time
}

// RunnerOption customises the runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the default logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerClock pins the clock for tests.
func WithRunnerClock(nowFn func() time.Time) RunnerOption {
	return func(r *Runner) {
		if nowFn != nil {
			r.nowFn = nowFn
		}
	}
}

// NewRunner wires the decision loop against its collaborators.
func NewRunner(cfg Config, registry registryAPI, payer paymentClient, eval evaluator.Evaluator, journal *Journal, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		registry: registry,
		payer:    payer,
		eval:     eval,
		journal:  journal,
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one procurement. Failures are folded into the Result rather
// than returned, so every exit path carries the error kind and any settled
// signature.
func (r *Runner) Run(ctx context.Context) Result {
	agent := &market.Agent{
		AgentID:       r.cfg.AgentID,
		Name:          r.cfg.AgentName,
		AgentType:     market.AgentTypeConsumer,
		WalletAddress: r.cfg.WalletAddress,
	}
	if _, err := r.registry.RegisterAgent(ctx, agent); err != nil {
		return failure(ErrorKindRegistry, "", fmt.Sprintf("register consumer: %v", err))
	}

	deadline := r.nowFn().Add(r.cfg.BiddingWindow.Duration)
	rfp := &market.RFP{
		TaskType:               r.cfg.Task.TaskType,
		Requirements:           r.cfg.Task.Requirements,
		MaxBudgetUSDC:          r.cfg.Task.MaxBudgetUSDC,
		RequiredDeliveryTimeMS: r.cfg.Task.RequiredDeliveryTimeMS,
		RequesterAgentID:       r.cfg.AgentID,
		BiddingDeadline:        &deadline,
	}
	stored, err := r.registry.CreateRFP(ctx, rfp)
	if err != nil {
		return failure(ErrorKindRegistry, "", fmt.Sprintf("create rfp: %v", err))
	}
	r.logger.Info("rfp created",
		"rfp_id", stored.RFPID,
		"task_type", stored.TaskType,
		"budget_usdc", stored.MaxBudgetUSDC,
	)

	bids := r.collectBids(ctx, stored.RFPID, deadline)
	if len(bids) == 0 {
		_ = r.registry.CancelRFP(ctx, stored.RFPID, r.cfg.AgentID)
		return failure(ErrorKindNoBids, "", "bidding window closed with no bids")
	}

	reputations := make(map[string]float64, len(bids))
	for _, bid := range bids {
		reputations[bid.BidderAgentID] = bid.ReputationScore
	}
	ranked, err := r.eval.Rank(ctx, stored, bids, reputations)
	if err != nil {
		_ = r.registry.CancelRFP(ctx, stored.RFPID, r.cfg.AgentID)
		return failure(ErrorKindNoBids, "", fmt.Sprintf("rank bids: %v", err))
	}
	winner := bidByID(bids, ranked.WinnerBidID)
	if winner == nil {
		_ = r.registry.CancelRFP(ctx, stored.RFPID, r.cfg.AgentID)
		return failure(ErrorKindNoBids, "", fmt.Sprintf("winning bid %s not among collected bids", ranked.WinnerBidID))
	}
	r.logger.Info("bids ranked",
		"rfp_id", stored.RFPID,
		"bid_id", ranked.WinnerBidID,
		"price_usdc", winner.BidPriceUSDC,
	)

	// Commit point: after a successful selection the consumer owes the
	// provider a delivery attempt.
	assignment, err := r.registry.SelectWinner(ctx, stored.RFPID, ranked.WinnerBidID, r.cfg.AgentID)
	if err != nil {
		return failure(ErrorKindRegistry, "", fmt.Sprintf("select winner: %v", err))
	}
	r.logger.Info("winner selected",
		"assignment_id", assignment.AssignmentID,
		"provider_id", assignment.ProviderAgentID,
		"price_usdc", assignment.AgreedPriceUSDC,
	)

	provider, err := r.registry.GetAgent(ctx, assignment.ProviderAgentID)
	if err != nil {
		return failure(ErrorKindRegistry, "", fmt.Sprintf("lookup provider: %v", err))
	}
	maxMinor, err := x402.MinorFromHuman(assignment.AgreedPriceUSDC, solana.USDCDecimals)
	if err != nil {
		return failure("validation", "", fmt.Sprintf("agreed price: %v", err))
	}

	deliverURL := strings.TrimRight(provider.EndpointURL, "/") + "/deliver"
	request := deliverRequest{TaskType: r.cfg.Task.TaskType, Parameters: r.cfg.Task.Parameters}

	started := r.nowFn()
	res, deliverErr := r.deliver(ctx, deliverURL, request, maxMinor, stored.RFPID, assignment, provider.WalletAddress)
	latencyMS := r.nowFn().Sub(started).Milliseconds()
	if deliverErr != nil {
		kind := string(x402.KindOf(deliverErr))
		if kind == "" {
			kind = string(x402.KindProviderError)
		}
		return failure(kind, x402.SignatureOf(deliverErr), deliverErr.Error())
	}

	if res.PaymentMade && res.Signature != "" {
		r.journalReceipt(ctx, res.Signature, stored.RFPID, assignment, provider.WalletAddress, "delivered")
		if _, err := r.registry.RecordDelivery(ctx, assignment.AssignmentID, res.Signature); err != nil {
			r.logger.Warn("record delivery failed", "assignment_id", assignment.AssignmentID, "error", err)
		}
	}

	serviceData := extractServiceData(res.Body)
	r.rateProvider(ctx, assignment, winner, serviceData, latencyMS)

	return Result{OK: true, Signature: res.Signature, Data: serviceData}
}

// collectBids polls until the bidding deadline, logging count changes, then
// returns the final snapshot.
func (r *Runner) collectBids(ctx context.Context, rfpID string, deadline time.Time) []*market.Bid {
	ticker := time.NewTicker(r.cfg.PollInterval.Duration)
	defer ticker.Stop()

	lastCount := -1
	for r.nowFn().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			bids, err := r.registry.Bids(ctx, rfpID)
			if err != nil {
				r.logger.Warn("bid poll failed", "rfp_id", rfpID, "error", err)
				continue
			}
			if len(bids) != lastCount {
				r.logger.Info("bids collected", "rfp_id", rfpID, "outcome", fmt.Sprintf("%d bids", len(bids)))
				lastCount = len(bids)
			}
		}
	}
	bids, err := r.registry.Bids(ctx, rfpID)
	if err != nil {
		r.logger.Warn("final bid fetch failed", "rfp_id", rfpID, "error", err)
		return nil
	}
	return bids
}

// deliver attempts the payment-gated fetch up to the configured cap. Each
// attempt settles at most one payment; any settled signature is journaled
// immediately, before deciding whether to retry.
func (r *Runner) deliver(ctx context.Context, url string, body any, maxMinor uint64, rfpID string, assignment *market.Assignment, recipient string) (*x402.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.DeliveryAttempts; attempt++ {
		res, err := r.payer.Do(ctx, http.MethodPost, url, body, maxMinor)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if sig := x402.SignatureOf(err); sig != "" {
			r.journalReceipt(ctx, sig, rfpID, assignment, recipient, string(x402.KindOf(err)))
		}
		if !retryableKind(x402.KindOf(err)) {
			break
		}
		r.logger.Warn("delivery attempt failed",
			"attempt", attempt,
			"assignment_id", assignment.AssignmentID,
			"error", err,
		)
	}
	return nil, lastErr
}

// retryableKind reports whether a fresh delivery attempt can change the
// outcome. Rejected proofs and provider 4xx answers are deterministic;
// settlement and post-payment delivery failures may be transient.
func retryableKind(kind x402.Kind) bool {
	switch kind {
	case x402.KindSettlementFailed, x402.KindDeliveryFailedAfterPayment:
		return true
	default:
		return false
	}
}

func (r *Runner) journalReceipt(ctx context.Context, signature, rfpID string, assignment *market.Assignment, recipient, outcome string) {
	err := r.journal.Record(ctx, Receipt{
		Signature:    signature,
		RFPID:        rfpID,
		AssignmentID: assignment.AssignmentID,
		AmountUSDC:   assignment.AgreedPriceUSDC,
		Recipient:    recipient,
		Outcome:      outcome,
		RecordedAt:   r.nowFn(),
	})
	if err != nil {
		r.logger.Warn("journal receipt failed",
			"signature", logging.Abbrev(signature),
			"error", err,
		)
	}
}

func (r *Runner) rateProvider(ctx context.Context, assignment *market.Assignment, winner *market.Bid, serviceData json.RawMessage, latencyMS int64) {
	rated, err := r.eval.Rate(ctx, serviceData, latencyMS, winner)
	if err != nil {
		r.logger.Warn("rating evaluation failed", "assignment_id", assignment.AssignmentID, "error", err)
		return
	}
	err = r.registry.Rate(ctx, assignment.ProviderAgentID, registryclient.RatingRequest{
		RaterAgentID: r.cfg.AgentID,
		AssignmentID: assignment.AssignmentID,
		Stars:        rated.Stars,
		Review:       rated.Review,
	})
	if err != nil {
		r.logger.Warn("rating submission failed", "assignment_id", assignment.AssignmentID, "error", err)
		return
	}
	r.logger.Info("provider rated",
		"agent_id", assignment.ProviderAgentID,
		"outcome", fmt.Sprintf("%d stars", rated.Stars),
	)
}

// extractServiceData unwraps the provider envelope's data field, falling
// back to the whole body for providers that answer bare payloads.
func extractServiceData(body json.RawMessage) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return body
}

func bidByID(bids []*market.Bid, bidID string) *market.Bid {
	for _, bid := range bids {
		if bid != nil && bid.BidID == bidID {
			return bid
		}
	}
	return nil
}

func failure(kind, signature, reason string) Result {
	return Result{OK: false, ErrorKind: kind, Signature: signature, Reason: reason}
}
