package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"agoranet/market"
)

// Weights tune the deterministic bid score. They are applied as-is without
// renormalisation when a term is absent.
type Weights struct {
	Price      float64
	Reputation float64
	Speed      float64
}

// DefaultWeights is the stock blend: cheapest-leaning with a strong
// reputation term.
var DefaultWeights = Weights{Price: 0.4, Reputation: 0.35, Speed: 0.25}

// Deterministic scores bids with a fixed formula:
//
//	w_price·(budget−price)/budget + w_rep·reputation/5 + w_speed·max(0, 1−latency/required)
//
// The speed term contributes zero when the RFP carries no latency
// requirement. Ties break on lowest price, then earliest submission.
type Deterministic struct {
	weights Weights
}

// NewDeterministic returns a scorer with the given weights; zero weights fall
// back to DefaultWeights.
func NewDeterministic(weights Weights) *Deterministic {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Deterministic{weights: weights}
}

// Score computes the blended score of a single bid.
func (d *Deterministic) Score(rfp *market.RFP, bid *market.Bid, reputation float64) float64 {
	score := d.weights.Price * (rfp.MaxBudgetUSDC - bid.BidPriceUSDC) / rfp.MaxBudgetUSDC
	score += d.weights.Reputation * reputation / 5
	if rfp.RequiredDeliveryTimeMS > 0 {
		speed := 1 - float64(bid.EstimatedCompletionMS)/float64(rfp.RequiredDeliveryTimeMS)
		if speed < 0 {
			speed = 0
		}
		score += d.weights.Speed * speed
	}
	return score
}

// ErrNoBids is returned when ranking an empty bid set.
var ErrNoBids = errors.New("evaluator: no bids to rank")

// Rank selects the argmax-scored bid.
func (d *Deterministic) Rank(_ context.Context, rfp *market.RFP, bids []*market.Bid, reputations map[string]float64) (*RankResult, error) {
	if rfp == nil {
		return nil, errors.New("evaluator: rfp is required")
	}
	if len(bids) == 0 {
		return nil, ErrNoBids
	}
	type scored struct {
		bid   *market.Bid
		score float64
	}
	ranked := make([]scored, 0, len(bids))
	for _, bid := range bids {
		rep := bid.ReputationScore
		if r, ok := reputations[bid.BidderAgentID]; ok {
			rep = r
		}
		ranked = append(ranked, scored{bid: bid, score: d.Score(rfp, bid, rep)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].bid.BidPriceUSDC != ranked[j].bid.BidPriceUSDC {
			return ranked[i].bid.BidPriceUSDC < ranked[j].bid.BidPriceUSDC
		}
		return ranked[i].bid.CreatedAt.Before(ranked[j].bid.CreatedAt)
	})

	winner := ranked[0]
	result := &RankResult{
		WinnerBidID: winner.bid.BidID,
		Verdicts:    make([]Verdict, 0, len(ranked)),
		Analysis:    fmt.Sprintf("scored %d bids; winner %s at %.6f USDC", len(ranked), winner.bid.BidID, winner.bid.BidPriceUSDC),
	}
	for _, entry := range ranked {
		result.Verdicts = append(result.Verdicts, Verdict{
			BidID:  entry.bid.BidID,
			Accept: entry.bid.BidID == winner.bid.BidID,
			Reason: fmt.Sprintf("score=%.4f", entry.score),
		})
	}
	// Confidence reflects the winner's margin over the runner-up, clamped so a
	// lone bid reads as high confidence.
	if len(ranked) == 1 {
		result.Confidence = 0.9
	} else {
		margin := winner.score - ranked[1].score
		if margin < 0 {
			margin = 0
		}
		confidence := 0.5 + margin
		if confidence > 0.95 {
			confidence = 0.95
		}
		result.Confidence = confidence
	}
	return result, nil
}

// Rate applies a simple delivery heuristic: start at five stars, lose one for
// missing the latency target and one for an empty payload, floor at one.
func (d *Deterministic) Rate(_ context.Context, serviceResult json.RawMessage, latencyMS int64, bid *market.Bid) (*RateResult, error) {
	stars := 5
	review := "delivered as agreed"
	if len(serviceResult) == 0 || string(serviceResult) == "null" || string(serviceResult) == "{}" {
		stars--
		review = "payload was empty"
	}
	if bid != nil && bid.EstimatedCompletionMS > 0 && latencyMS > bid.EstimatedCompletionMS {
		stars--
		review = fmt.Sprintf("delivery took %dms against an estimate of %dms", latencyMS, bid.EstimatedCompletionMS)
	}
	if stars < 1 {
		stars = 1
	}
	return &RateResult{Stars: stars, Review: review}, nil
}

// ShouldBid bids exactly at the provider's base price whenever the budget
// covers it.
func (d *Deterministic) ShouldBid(_ context.Context, rfp *market.RFP, basePriceUSDC float64) (*BidDecision, error) {
	if rfp == nil {
		return nil, errors.New("evaluator: rfp is required")
	}
	if basePriceUSDC <= 0 {
		return &BidDecision{Bid: false, Message: "no price configured for this capability"}, nil
	}
	if rfp.MaxBudgetUSDC < basePriceUSDC {
		return &BidDecision{Bid: false, Message: fmt.Sprintf("budget %.6f below base price %.6f", rfp.MaxBudgetUSDC, basePriceUSDC)}, nil
	}
	return &BidDecision{
		Bid:        true,
		PriceUSDC:  basePriceUSDC,
		Confidence: 0.8,
		Message:    "automated bid at base price",
	}, nil
}
