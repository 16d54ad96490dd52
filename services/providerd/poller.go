package providerd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agoranet/evaluator"
	"agoranet/market"
)

// maxSeenRFPs bounds the dedupe set so a long-lived provider cannot grow it
// without limit; the oldest entries are pruned first.
const maxSeenRFPs = 4096

const defaultBidBackoff = 500 * time.Millisecond

// registryAPI is the slice of the registry client the poller depends on.
type registryAPI interface {
	OpenRFPs(ctx context.Context, taskTypes []string) ([]*market.RFP, error)
	SubmitBid(ctx context.Context, bid *market.Bid) (*market.Bid, error)
}

// Poller watches the registry for open RFPs matching the provider's task
// types and submits bids the policy approves of. Registry outages are
// tolerated: a failed tick logs and waits for the next one.
type Poller struct {
	cfg      Config
	registry registryAPI
	policy   evaluator.BidPolicy
	logger   *slog.Logger
	backoff  time.Duration

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// PollerOption customises the poller.
type PollerOption func(*Poller)

// WithPollerLogger overrides the default logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBidBackoff overrides the pause before the single bid retry.
func WithBidBackoff(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// NewPoller wires a poller against the given registry and bid policy.
func NewPoller(cfg Config, registry registryAPI, policy evaluator.BidPolicy, opts ...PollerOption) *Poller {
	p := &Poller{
		cfg:      cfg,
		registry: registry,
		policy:   policy,
		logger:   slog.Default(),
		backoff:  defaultBidBackoff,
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout.Duration)
	defer cancel()

	rfps, err := p.registry.OpenRFPs(tickCtx, p.cfg.TaskTypes)
	if err != nil {
		p.logger.Warn("rfp poll failed", "error", err)
		return
	}
	for _, rfp := range rfps {
		if rfp == nil || p.alreadySeen(rfp.RFPID) {
			continue
		}
		p.markSeen(rfp.RFPID)
		p.considerRFP(tickCtx, rfp)
	}
}

func (p *Poller) considerRFP(ctx context.Context, rfp *market.RFP) {
	basePrice := p.cfg.BasePrice(rfp.TaskType)
	decision, err := p.policy.ShouldBid(ctx, rfp, basePrice)
	if err != nil {
		p.logger.Warn("bid decision failed", "rfp_id", rfp.RFPID, "error", err)
		return
	}
	if !decision.Bid {
		p.logger.Debug("skipping rfp", "rfp_id", rfp.RFPID, "reason", decision.Message)
		return
	}

	bid := &market.Bid{
		RFPID:                 rfp.RFPID,
		BidderAgentID:         p.cfg.AgentID,
		BidPriceUSDC:          decision.PriceUSDC,
		EstimatedCompletionMS: 500,
		ConfidenceScore:       decision.Confidence,
		Message:               decision.Message,
	}
	stored, err := p.submitWithRetry(ctx, bid)
	if err != nil {
		p.logger.Warn("bid dropped", "rfp_id", rfp.RFPID, "error", err)
		return
	}
	p.logger.Info("bid submitted",
		"rfp_id", rfp.RFPID,
		"bid_id", stored.BidID,
		"price_usdc", stored.BidPriceUSDC,
	)
}

// submitWithRetry posts the bid, retrying exactly once after a short backoff.
func (p *Poller) submitWithRetry(ctx context.Context, bid *market.Bid) (*market.Bid, error) {
	stored, err := p.registry.SubmitBid(ctx, bid)
	if err == nil {
		return stored, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.backoff):
	}
	return p.registry.SubmitBid(ctx, bid)
}

func (p *Poller) alreadySeen(rfpID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[rfpID]
	return ok
}

func (p *Poller) markSeen(rfpID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[rfpID]; ok {
		return
	}
	p.seen[rfpID] = struct{}{}
	p.order = append(p.order, rfpID)
	for len(p.order) > maxSeenRFPs {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.seen, oldest)
	}
}

// SeenCount reports the dedupe set size.
func (p *Poller) SeenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
