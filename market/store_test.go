package market

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	return NewStore(WithClock(clock.Now)), clock
}

func seedAgent(t *testing.T, s *Store, id string, agentType AgentType) *Agent {
	t.Helper()
	agent, err := s.RegisterAgent(Agent{
		AgentID:       id,
		Name:          "agent " + id,
		AgentType:     agentType,
		EndpointURL:   "http://127.0.0.1:9000/" + id,
		WalletAddress: "wallet-" + id,
		Capabilities:  []string{"price_data"},
		Pricing:       map[string]float64{"price_data": 0.0001},
	})
	if err != nil {
		t.Fatalf("register agent %s: %v", id, err)
	}
	return agent
}

func seedRFP(t *testing.T, s *Store, requester string, budget float64, lifetime time.Duration) *RFP {
	t.Helper()
	rfp, err := s.CreateRFP(RFP{
		TaskType:         "price_data",
		MaxBudgetUSDC:    budget,
		RequesterAgentID: requester,
		ExpiresAt:        s.nowFn().Add(lifetime),
	})
	if err != nil {
		t.Fatalf("create rfp: %v", err)
	}
	return rfp
}

func seedAssignment(t *testing.T, s *Store, provider, consumer string, price float64) *Assignment {
	t.Helper()
	rfp := seedRFP(t, s, consumer, price*2, time.Minute)
	bid, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: provider, BidPriceUSDC: price})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	assignment, err := s.SelectWinner(rfp.RFPID, bid.BidID, consumer)
	if err != nil {
		t.Fatalf("select winner: %v", err)
	}
	return assignment
}

func TestRegisterAgentUpsertPreservesHistory(t *testing.T) {
	s, clock := newTestStore(t)
	first := seedAgent(t, s, "p1", AgentTypeDataProvider)

	clock.Advance(time.Hour)
	updated, err := s.RegisterAgent(Agent{
		AgentID:       "p1",
		Name:          "renamed",
		AgentType:     AgentTypeDataProvider,
		EndpointURL:   "http://127.0.0.1:9999",
		WalletAddress: "wallet-p1",
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on upsert: %v vs %v", updated.CreatedAt, first.CreatedAt)
	}
	if updated.Name != "renamed" || updated.EndpointURL != "http://127.0.0.1:9999" {
		t.Fatalf("upsert did not apply new fields: %+v", updated)
	}
	if got := len(s.ListAgents(AgentFilter{})); got != 1 {
		t.Fatalf("expected 1 agent after upsert, got %d", got)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	s, _ := newTestStore(t)
	cases := []Agent{
		{Name: "n", AgentType: AgentTypeConsumer, WalletAddress: "w"},
		{AgentID: "a", AgentType: AgentTypeConsumer, WalletAddress: "w"},
		{AgentID: "a", Name: "n", WalletAddress: "w"},
		{AgentID: "a", Name: "n", AgentType: AgentTypeConsumer},
		{AgentID: "a", Name: "n", AgentType: AgentTypeConsumer, WalletAddress: "w", Status: "sleeping"},
	}
	for i, agent := range cases {
		if _, err := s.RegisterAgent(agent); KindOf(err) != KindValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSubmitBidBudgetGate(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 50, time.Minute)

	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 100}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for over-budget bid, got %v", err)
	}
	stored, err := s.GetRFP(rfp.RFPID)
	if err != nil {
		t.Fatalf("get rfp: %v", err)
	}
	if stored.Status != RFPStatusOpen {
		t.Fatalf("rfp left open state after rejected bid: %s", stored.Status)
	}
	bids, err := s.ListBids(rfp.RFPID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("rejected bid was stored: %+v", bids)
	}

	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 50}); err != nil {
		t.Fatalf("bid equal to budget must be accepted: %v", err)
	}
}

func TestSubmitBidReplaceSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)

	first, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 90})
	if err != nil {
		t.Fatalf("first bid: %v", err)
	}
	second, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 80})
	if err != nil {
		t.Fatalf("second bid: %v", err)
	}
	if first.BidID == second.BidID {
		t.Fatalf("replacement bid kept the old id %s", first.BidID)
	}
	bids, err := s.ListBids(rfp.RFPID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("expected a single active bid, got %d", len(bids))
	}
	if bids[0].BidID != second.BidID || bids[0].BidPriceUSDC != 80 {
		t.Fatalf("stored bid is not the replacement: %+v", bids[0])
	}
}

func TestSubmitBidDeadlineClosesBidding(t *testing.T) {
	s, clock := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	deadline := clock.Now().Add(10 * time.Second)
	rfp, err := s.CreateRFP(RFP{
		TaskType:         "price_data",
		MaxBudgetUSDC:    100,
		RequesterAgentID: "c1",
		ExpiresAt:        clock.Now().Add(time.Minute),
		BiddingDeadline:  &deadline,
	})
	if err != nil {
		t.Fatalf("create rfp: %v", err)
	}

	clock.Advance(11 * time.Second)
	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 10}); !errors.Is(err, ErrBiddingClosed) {
		t.Fatalf("expected ErrBiddingClosed, got %v", err)
	}
	stored, err := s.GetRFP(rfp.RFPID)
	if err != nil {
		t.Fatalf("get rfp: %v", err)
	}
	if stored.Status != RFPStatusBiddingClosed {
		t.Fatalf("late bid did not close bidding: %s", stored.Status)
	}
}

func TestSubmitBidUnknownReferences(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)

	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "ghost", BidPriceUSDC: 10}); KindOf(err) != KindValidation {
		t.Fatalf("unknown bidder: expected validation error, got %v", err)
	}
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	if _, err := s.SubmitBid(Bid{RFPID: "rfp_missing", BidderAgentID: "p1", BidPriceUSDC: 10}); !errors.Is(err, ErrRFPNotFound) {
		t.Fatalf("unknown rfp: expected ErrRFPNotFound, got %v", err)
	}
}

func TestSelectWinnerSingleAssignment(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)

	const bidders = 8
	bidIDs := make([]string, 0, bidders)
	for i := 0; i < bidders; i++ {
		id := "p" + string(rune('a'+i))
		seedAgent(t, s, id, AgentTypeDataProvider)
		bid, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: id, BidPriceUSDC: 10})
		if err != nil {
			t.Fatalf("bid %s: %v", id, err)
		}
		bidIDs = append(bidIDs, bid.BidID)
	}

	var wg sync.WaitGroup
	results := make(chan error, bidders)
	for _, bidID := range bidIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.SelectWinner(rfp.RFPID, id, "c1")
			results <- err
		}(bidID)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyAssigned):
			conflicts++
		default:
			t.Fatalf("unexpected select error: %v", err)
		}
	}
	if wins != 1 || conflicts != bidders-1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	stored, err := s.GetRFP(rfp.RFPID)
	if err != nil {
		t.Fatalf("get rfp: %v", err)
	}
	if stored.Status != RFPStatusAssigned {
		t.Fatalf("rfp not assigned after select: %s", stored.Status)
	}
}

func TestSelectWinnerAuthorization(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)
	bid, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 10})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := s.SelectWinner(rfp.RFPID, bid.BidID, "p1"); !errors.Is(err, ErrNotRequester) {
		t.Fatalf("expected ErrNotRequester, got %v", err)
	}
	assignment, err := s.SelectWinner(rfp.RFPID, bid.BidID, "c1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if assignment.AgreedPriceUSDC != 10 {
		t.Fatalf("agreed price %v does not match bid", assignment.AgreedPriceUSDC)
	}
}

func TestCancelRFP(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)

	if _, err := s.CancelRFP(rfp.RFPID, "p1"); !errors.Is(err, ErrNotRequester) {
		t.Fatalf("expected ErrNotRequester, got %v", err)
	}
	cancelled, err := s.CancelRFP(rfp.RFPID, "c1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != RFPStatusCancelled {
		t.Fatalf("status after cancel: %s", cancelled.Status)
	}
	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 10}); !errors.Is(err, ErrRFPNotOpen) {
		t.Fatalf("bid on cancelled rfp: expected ErrRFPNotOpen, got %v", err)
	}

	assigned := seedAssignment(t, s, "p1", "c1", 10)
	if _, err := s.CancelRFP(assigned.RFPID, "c1"); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("cancel after assignment: expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestRecordDelivery(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	assignment := seedAssignment(t, s, "p1", "c1", 10)

	delivered, err := s.RecordDelivery(assignment.AssignmentID, "sig-1")
	if err != nil {
		t.Fatalf("record delivery: %v", err)
	}
	if delivered.Status != AssignmentStatusDelivered || delivered.PaymentTxSignature != "sig-1" {
		t.Fatalf("unexpected assignment after delivery: %+v", delivered)
	}
	if delivered.DeliveredAt == nil {
		t.Fatalf("delivered_at not set")
	}

	rfp, err := s.GetRFP(assignment.RFPID)
	if err != nil {
		t.Fatalf("get rfp: %v", err)
	}
	if rfp.Status != RFPStatusCompleted {
		t.Fatalf("rfp not completed after delivery: %s", rfp.Status)
	}
	provider, err := s.GetAgent("p1")
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if provider.TotalTasks != 1 || provider.SuccessfulTasks != 1 {
		t.Fatalf("provider counters not credited: %+v", provider)
	}

	// Same signature replays cleanly, a different one conflicts.
	if _, err := s.RecordDelivery(assignment.AssignmentID, "sig-1"); err != nil {
		t.Fatalf("idempotent delivery replay failed: %v", err)
	}
	if _, err := s.RecordDelivery(assignment.AssignmentID, "sig-2"); KindOf(err) != KindConflict {
		t.Fatalf("expected conflict for second signature, got %v", err)
	}
}

func TestRateRunningMean(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)

	stars := []int{5, 3, 4, 1, 5}
	var sum float64
	for i, star := range stars {
		assignment := seedAssignment(t, s, "p1", "c1", 10)
		if _, err := s.RecordDelivery(assignment.AssignmentID, "sig-"+assignment.AssignmentID); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		rated, err := s.Rate(Rating{
			RaterAgentID: "c1",
			RatedAgentID: "p1",
			AssignmentID: assignment.AssignmentID,
			Stars:        star,
			Dimensions:   RatingDimensions{DataQuality: 4},
		})
		if err != nil {
			t.Fatalf("rate %d: %v", i, err)
		}
		sum += float64(star)
		want := sum / float64(i+1)
		if math.Abs(rated.Reputation-want) > 1e-9 {
			t.Fatalf("running mean after %d ratings: got %v want %v", i+1, rated.Reputation, want)
		}
	}

	view, err := s.Reputation("p1")
	if err != nil {
		t.Fatalf("reputation view: %v", err)
	}
	if view.Count != len(stars) {
		t.Fatalf("view count %d, want %d", view.Count, len(stars))
	}
	if view.Histogram[5] != 2 || view.Histogram[3] != 1 || view.Histogram[4] != 1 || view.Histogram[1] != 1 {
		t.Fatalf("unexpected histogram: %+v", view.Histogram)
	}
	if math.Abs(view.Dimensions.DataQuality-4) > 1e-9 {
		t.Fatalf("dimension average: %+v", view.Dimensions)
	}
}

func TestRateAuthorizationAndDuplicates(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	assignment := seedAssignment(t, s, "p1", "c1", 10)

	if _, err := s.Rate(Rating{RaterAgentID: "p1", RatedAgentID: "p1", AssignmentID: assignment.AssignmentID, Stars: 5}); !errors.Is(err, ErrNotConsumer) {
		t.Fatalf("expected ErrNotConsumer, got %v", err)
	}
	if _, err := s.Rate(Rating{RaterAgentID: "c1", RatedAgentID: "c1", AssignmentID: assignment.AssignmentID, Stars: 5}); err == nil {
		t.Fatalf("rating a non-provider agent must fail")
	}
	if _, err := s.Rate(Rating{RaterAgentID: "c1", RatedAgentID: "p1", AssignmentID: assignment.AssignmentID, Stars: 9}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for stars out of range, got %v", err)
	}
	if _, err := s.Rate(Rating{RaterAgentID: "c1", RatedAgentID: "p1", AssignmentID: assignment.AssignmentID, Stars: 5}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := s.Rate(Rating{RaterAgentID: "c1", RatedAgentID: "p1", AssignmentID: assignment.AssignmentID, Stars: 4}); !errors.Is(err, ErrDuplicateRating) {
		t.Fatalf("expected ErrDuplicateRating, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 100, time.Second)

	if got := len(s.ListOpenRFPs(nil)); got != 1 {
		t.Fatalf("expected rfp visible before expiry, got %d", got)
	}

	clock.Advance(2 * time.Second)
	if got := len(s.ListOpenRFPs(nil)); got != 0 {
		t.Fatalf("expired rfp still listed open")
	}
	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 10}); !errors.Is(err, ErrRFPExpired) {
		t.Fatalf("expected ErrRFPExpired, got %v", err)
	}

	sweeper := NewSweeper(s)
	expired := sweeper.SweepOnce()
	if len(expired) != 0 {
		// Lazy expiry from SubmitBid already transitioned it.
		t.Fatalf("sweep found work after lazy expiry: %v", expired)
	}

	fresh := seedRFP(t, s, "c1", 100, time.Second)
	clock.Advance(2 * time.Second)
	expired = sweeper.SweepOnce()
	if len(expired) != 1 || expired[0] != fresh.RFPID {
		t.Fatalf("sweep did not expire %s: %v", fresh.RFPID, expired)
	}
	stored, err := s.GetRFP(fresh.RFPID)
	if err != nil {
		t.Fatalf("get rfp: %v", err)
	}
	if stored.Status != RFPStatusExpired {
		t.Fatalf("status after sweep: %s", stored.Status)
	}
}

func TestListAgentsFilterAndRanking(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.RegisterAgent(Agent{
		AgentID: "cheap", Name: "cheap", AgentType: AgentTypeDataProvider,
		WalletAddress: "w1", Capabilities: []string{"price_data"},
		Pricing: map[string]float64{"price_data": 0.0001},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.RegisterAgent(Agent{
		AgentID: "pricey", Name: "pricey", AgentType: AgentTypeDataProvider,
		WalletAddress: "w2", Capabilities: []string{"price_data", "analytics"},
		Pricing: map[string]float64{"price_data": 2},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	seedAgent(t, s, "buyer", AgentTypeConsumer)

	if got := len(s.ListAgents(AgentFilter{AgentType: AgentTypeDataProvider})); got != 2 {
		t.Fatalf("type filter: got %d", got)
	}
	if got := s.ListAgents(AgentFilter{Capability: "analytics"}); len(got) != 1 || got[0].AgentID != "pricey" {
		t.Fatalf("capability filter: %+v", got)
	}
	if got := s.ListAgents(AgentFilter{AgentType: AgentTypeDataProvider, MaxPriceUSDC: 0.001}); len(got) != 1 || got[0].AgentID != "cheap" {
		t.Fatalf("max price filter: %+v", got)
	}

	// A rated agent ranks above an unrated one.
	assignment := seedAssignment(t, s, "pricey", "buyer", 1)
	if _, err := s.RecordDelivery(assignment.AssignmentID, "sig"); err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if _, err := s.Rate(Rating{RaterAgentID: "buyer", RatedAgentID: "pricey", AssignmentID: assignment.AssignmentID, Stars: 5}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	ranked := s.ListAgents(AgentFilter{AgentType: AgentTypeDataProvider})
	if ranked[0].AgentID != "pricey" {
		t.Fatalf("expected rated agent first, got %s", ranked[0].AgentID)
	}
}

func TestSubscriptions(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Subscribe("ghost", "price_data"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("subscribe unknown agent: %v", err)
	}
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	if err := s.Subscribe("p1", "price_data"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Subscribe("p1", "analytics"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs, err := s.Subscriptions("p1")
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 2 || subs[0] != "analytics" || subs[1] != "price_data" {
		t.Fatalf("unexpected subscriptions: %v", subs)
	}
	if err := s.Unsubscribe("p1", "analytics"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	subs, _ = s.Subscriptions("p1")
	if len(subs) != 1 || subs[0] != "price_data" {
		t.Fatalf("unsubscribe did not remove: %v", subs)
	}
}

func TestNegotiationLog(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)

	if _, err := s.AppendMessage(NegotiationMessage{RFPID: rfp.RFPID, FromAgentID: "p1", MessageType: "haggle", Content: "hi"}); KindOf(err) != KindValidation {
		t.Fatalf("unknown message type: %v", err)
	}
	if _, err := s.AppendMessage(NegotiationMessage{RFPID: "rfp_missing", FromAgentID: "p1", MessageType: MessageTypeQuestion, Content: "hi"}); !errors.Is(err, ErrRFPNotFound) {
		t.Fatalf("unknown rfp: %v", err)
	}
	msg, err := s.AppendMessage(NegotiationMessage{
		RFPID: rfp.RFPID, FromAgentID: "p1", ToAgentID: "c1",
		MessageType: MessageTypeQuestion, Content: "which symbol?",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.MessageID == "" {
		t.Fatalf("message id not assigned")
	}
	msgs, err := s.ListMessages(rfp.RFPID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "which symbol?" {
		t.Fatalf("unexpected log: %+v", msgs)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	seedAgent(t, s, "p1", AgentTypeDataProvider)
	seedAgent(t, s, "c1", AgentTypeConsumer)
	rfp := seedRFP(t, s, "c1", 100, time.Minute)
	if _, err := s.SubmitBid(Bid{RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 10}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	seedAssignment(t, s, "p1", "c1", 10)

	stats := s.Stats()
	if stats.TotalAgents != 2 || stats.TotalRFPs != 2 || stats.TotalBids != 2 || stats.TotalAssignments != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OpenRFPs != 1 {
		t.Fatalf("open rfps: %d", stats.OpenRFPs)
	}
}
