package providerd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agoranet/evaluator"
	"agoranet/market"
)

type stubRegistry struct {
	mu       sync.Mutex
	open     []*market.RFP
	openErr  error
	bids     []*market.Bid
	bidErrs  []error
	bidCalls int
}

func (s *stubRegistry) OpenRFPs(context.Context, []string) ([]*market.RFP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.open, nil
}

func (s *stubRegistry) SubmitBid(_ context.Context, bid *market.Bid) (*market.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bidCalls++
	if len(s.bidErrs) > 0 {
		err := s.bidErrs[0]
		s.bidErrs = s.bidErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	stored := *bid
	stored.BidID = fmt.Sprintf("bid_%d", len(s.bids)+1)
	s.bids = append(s.bids, &stored)
	return &stored, nil
}

func newTestPoller(t *testing.T, registry registryAPI, opts ...PollerOption) *Poller {
	t.Helper()
	policy := evaluator.NewDeterministic(evaluator.DefaultWeights)
	opts = append(opts, WithBidBackoff(time.Millisecond))
	return NewPoller(testConfig(t), registry, policy, opts...)
}

func openRFP(id string, budget float64) *market.RFP {
	return &market.RFP{
		RFPID:         id,
		TaskType:      "price_feed",
		MaxBudgetUSDC: budget,
		Status:        market.RFPStatusOpen,
	}
}

func TestPollerBidsAtBasePrice(t *testing.T) {
	registry := &stubRegistry{open: []*market.RFP{openRFP("rfp_1", 1.0)}}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())

	if len(registry.bids) != 1 {
		t.Fatalf("expected one bid, got %d", len(registry.bids))
	}
	bid := registry.bids[0]
	if bid.RFPID != "rfp_1" || bid.BidderAgentID != "agent_p1" {
		t.Fatalf("unexpected bid identity %+v", bid)
	}
	if bid.BidPriceUSDC != 0.05 {
		t.Fatalf("expected bid at base price 0.05, got %v", bid.BidPriceUSDC)
	}
}

func TestPollerDedupesSeenRFPs(t *testing.T) {
	registry := &stubRegistry{open: []*market.RFP{openRFP("rfp_1", 1.0)}}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())
	poller.pollOnce(context.Background())

	if len(registry.bids) != 1 {
		t.Fatalf("expected a single bid across repeated polls, got %d", len(registry.bids))
	}
}

func TestPollerSkipsOverBudgetRFPs(t *testing.T) {
	registry := &stubRegistry{open: []*market.RFP{openRFP("rfp_cheap", 0.01)}}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())

	if len(registry.bids) != 0 {
		t.Fatalf("expected no bid below base price, got %d", len(registry.bids))
	}
}

func TestPollerRetriesBidOnce(t *testing.T) {
	registry := &stubRegistry{
		open:    []*market.RFP{openRFP("rfp_1", 1.0)},
		bidErrs: []error{errors.New("registry hiccup")},
	}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())

	if registry.bidCalls != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d calls", registry.bidCalls)
	}
	if len(registry.bids) != 1 {
		t.Fatalf("expected bid stored after retry, got %d", len(registry.bids))
	}
}

func TestPollerDropsBidAfterFailedRetry(t *testing.T) {
	registry := &stubRegistry{
		open:    []*market.RFP{openRFP("rfp_1", 1.0)},
		bidErrs: []error{errors.New("down"), errors.New("still down")},
	}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())

	if registry.bidCalls != 2 {
		t.Fatalf("expected exactly two attempts, got %d", registry.bidCalls)
	}
	if len(registry.bids) != 0 {
		t.Fatalf("expected bid dropped, got %d stored", len(registry.bids))
	}
}

func TestPollerSwallowsRegistryOutage(t *testing.T) {
	registry := &stubRegistry{openErr: errors.New("connection refused")}
	poller := newTestPoller(t, registry)

	poller.pollOnce(context.Background())

	if registry.bidCalls != 0 {
		t.Fatalf("expected no bids during outage, got %d calls", registry.bidCalls)
	}
}

func TestPollerPrunesSeenSet(t *testing.T) {
	poller := newTestPoller(t, &stubRegistry{})

	for i := 0; i < maxSeenRFPs+10; i++ {
		poller.markSeen(fmt.Sprintf("rfp_%d", i))
	}
	if got := poller.SeenCount(); got != maxSeenRFPs {
		t.Fatalf("expected seen set bounded at %d, got %d", maxSeenRFPs, got)
	}
	// The oldest entries were pruned, so they are biddable again.
	if poller.alreadySeen("rfp_0") {
		t.Fatalf("expected oldest rfp pruned from the seen set")
	}
	if !poller.alreadySeen(fmt.Sprintf("rfp_%d", maxSeenRFPs+9)) {
		t.Fatalf("expected newest rfp retained")
	}
}
