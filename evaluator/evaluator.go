// Package evaluator decides which bid wins an RFP and how a delivered result
// is rated. Implementations are pluggable: a deterministic scorer that needs
// no external services, and a model-backed evaluator that consults an
// OpenAI-compatible chat endpoint and falls back to the deterministic one on
// any failure.
package evaluator

import (
	"context"
	"encoding/json"

	"agoranet/market"
)

// Verdict is the per-bid outcome of a ranking pass.
type Verdict struct {
	BidID  string `json:"bid_id"`
	Accept bool   `json:"accept"`
	Reason string `json:"reason"`
}

// RankResult names the winning bid with supporting detail.
type RankResult struct {
	WinnerBidID string    `json:"winner_bid_id"`
	Verdicts    []Verdict `json:"verdicts"`
	Confidence  float64   `json:"confidence"`
	Analysis    string    `json:"analysis"`
}

// RateResult is the star rating produced for a delivered service result.
type RateResult struct {
	Stars  int    `json:"stars"`
	Review string `json:"review"`
}

// BidDecision is a provider-side answer to "should I bid on this RFP".
type BidDecision struct {
	Bid        bool    `json:"bid"`
	PriceUSDC  float64 `json:"price_usdc"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Evaluator ranks competing bids and rates delivered results. Both
// operations are pure with respect to marketplace state.
type Evaluator interface {
	Rank(ctx context.Context, rfp *market.RFP, bids []*market.Bid, reputations map[string]float64) (*RankResult, error)
	Rate(ctx context.Context, serviceResult json.RawMessage, latencyMS int64, bid *market.Bid) (*RateResult, error)
}

// BidPolicy is the provider-side decision capability.
type BidPolicy interface {
	ShouldBid(ctx context.Context, rfp *market.RFP, basePriceUSDC float64) (*BidDecision, error)
}

// WithFallback chains a primary evaluator with a fallback consulted whenever
// the primary errors. Services compose the model-backed evaluator with the
// deterministic one through this wrapper so a model outage never blocks a
// selection.
type WithFallback struct {
	Primary  Evaluator
	Fallback Evaluator
}

// Rank tries the primary evaluator and falls back on error.
func (w *WithFallback) Rank(ctx context.Context, rfp *market.RFP, bids []*market.Bid, reputations map[string]float64) (*RankResult, error) {
	if w.Primary != nil {
		if result, err := w.Primary.Rank(ctx, rfp, bids, reputations); err == nil {
			return result, nil
		}
	}
	return w.Fallback.Rank(ctx, rfp, bids, reputations)
}

// Rate tries the primary evaluator and falls back on error.
func (w *WithFallback) Rate(ctx context.Context, serviceResult json.RawMessage, latencyMS int64, bid *market.Bid) (*RateResult, error) {
	if w.Primary != nil {
		if result, err := w.Primary.Rate(ctx, serviceResult, latencyMS, bid); err == nil {
			return result, nil
		}
	}
	return w.Fallback.Rate(ctx, serviceResult, latencyMS, bid)
}
