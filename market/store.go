package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative in-process marketplace state: agents,
// subscriptions, RFPs, bids, assignments, ratings and negotiation notes.
// Every operation takes the store lock, so all mutations of a single RFP and
// its dependents are serialized.
type Store struct {
	mu    sync.RWMutex
	nowFn func() time.Time

	agents        map[string]*Agent
	subscriptions map[string]map[string]struct{}

	rfps            map[string]*RFP
	bids            map[string][]*Bid
	assignments     map[string]*Assignment
	assignmentByRFP map[string]string

	ratingsByAgent map[string][]*Rating
	ratingKeys     map[string]struct{}

	messages map[string][]*NegotiationMessage
}

// StoreOption customises store construction.
type StoreOption func(*Store)

// WithClock overrides the store clock, primarily for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore returns an empty marketplace store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		nowFn:           time.Now,
		agents:          make(map[string]*Agent),
		subscriptions:   make(map[string]map[string]struct{}),
		rfps:            make(map[string]*RFP),
		bids:            make(map[string][]*Bid),
		assignments:     make(map[string]*Assignment),
		assignmentByRFP: make(map[string]string),
		ratingsByAgent:  make(map[string][]*Rating),
		ratingKeys:      make(map[string]struct{}),
		messages:        make(map[string][]*NegotiationMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:8]
}

// RegisterAgent inserts or updates an agent record. Re-registration keeps the
// original created_at together with the reputation and task counters.
func (s *Store) RegisterAgent(agent Agent) (*Agent, error) {
	if s == nil {
		return nil, fmt.Errorf("market: store not configured")
	}
	agent.AgentID = strings.TrimSpace(agent.AgentID)
	agent.Name = strings.TrimSpace(agent.Name)
	agent.WalletAddress = strings.TrimSpace(agent.WalletAddress)
	agent.EndpointURL = strings.TrimSpace(agent.EndpointURL)
	if agent.AgentID == "" {
		return nil, errf(KindValidation, "agent_id is required")
	}
	if agent.Name == "" {
		return nil, errf(KindValidation, "agent name is required")
	}
	if agent.AgentType == "" {
		return nil, errf(KindValidation, "agent_type is required")
	}
	if agent.WalletAddress == "" {
		return nil, errf(KindValidation, "wallet_address is required")
	}
	for capability, price := range agent.Pricing {
		if price < 0 {
			return nil, errf(KindValidation, "pricing for %q must not be negative", capability)
		}
	}
	if agent.Status == "" {
		agent.Status = AgentStatusActive
	}
	switch agent.Status {
	case AgentStatusActive, AgentStatusInactive, AgentStatusBusy:
	default:
		return nil, errf(KindValidation, "unknown agent status %q", agent.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	if existing, ok := s.agents[agent.AgentID]; ok {
		agent.CreatedAt = existing.CreatedAt
		agent.Reputation = existing.Reputation
		agent.TotalRatings = existing.TotalRatings
		agent.TotalTasks = existing.TotalTasks
		agent.SuccessfulTasks = existing.SuccessfulTasks
	} else {
		agent.CreatedAt = now
	}
	stored := cloneAgent(&agent)
	s.agents[agent.AgentID] = stored
	return cloneAgent(stored), nil
}

// UnregisterAgent removes an agent and its subscriptions. Historical bids,
// assignments and ratings remain untouched.
func (s *Store) UnregisterAgent(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return ErrAgentNotFound
	}
	delete(s.agents, agentID)
	delete(s.subscriptions, agentID)
	return nil
}

// GetAgent returns a copy of the agent record.
func (s *Store) GetAgent(agentID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// AgentFilter narrows ListAgents output. Zero values mean "any".
type AgentFilter struct {
	AgentType    AgentType
	Capability   string
	Status       AgentStatus
	MaxPriceUSDC float64
}

func (f AgentFilter) matches(a *Agent) bool {
	if f.AgentType != "" && a.AgentType != f.AgentType {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Capability != "" {
		needle := strings.ToLower(f.Capability)
		found := false
		for _, c := range a.Capabilities {
			if strings.Contains(strings.ToLower(c), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MaxPriceUSDC > 0 {
		cheapest := -1.0
		for _, price := range a.Pricing {
			if cheapest < 0 || price < cheapest {
				cheapest = price
			}
		}
		if cheapest < 0 || cheapest > f.MaxPriceUSDC {
			return false
		}
	}
	return true
}

// ListAgents returns matching agents ordered by rank score, best first.
func (s *Store) ListAgents(filter AgentFilter) []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if filter.matches(agent) {
			out = append(out, cloneAgent(agent))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].RankScore(), out[j].RankScore()
		if ri != rj {
			return ri > rj
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// SetAgentStatus flips an agent's availability flag.
func (s *Store) SetAgentStatus(agentID string, status AgentStatus) (*Agent, error) {
	switch status {
	case AgentStatusActive, AgentStatusInactive, AgentStatusBusy:
	default:
		return nil, errf(KindValidation, "unknown agent status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	agent.Status = status
	return cloneAgent(agent), nil
}

// Subscribe records interest of a registered agent in a task type.
func (s *Store) Subscribe(agentID, taskType string) error {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return errf(KindValidation, "task_type is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return ErrAgentNotFound
	}
	set, ok := s.subscriptions[agentID]
	if !ok {
		set = make(map[string]struct{})
		s.subscriptions[agentID] = set
	}
	set[taskType] = struct{}{}
	return nil
}

// Unsubscribe removes a task-type subscription. Unsubscribing from a task
// type the agent never subscribed to is a no-op.
func (s *Store) Unsubscribe(agentID, taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return ErrAgentNotFound
	}
	if set, ok := s.subscriptions[agentID]; ok {
		delete(set, strings.TrimSpace(taskType))
	}
	return nil
}

// Subscriptions returns the task types an agent subscribed to, sorted.
func (s *Store) Subscriptions(agentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[agentID]; !ok {
		return nil, ErrAgentNotFound
	}
	set := s.subscriptions[agentID]
	out := make([]string, 0, len(set))
	for taskType := range set {
		out = append(out, taskType)
	}
	sort.Strings(out)
	return out, nil
}

const defaultRFPLifetime = 5 * time.Minute

// CreateRFP validates and stores a new request for proposal in the open
// state. A missing expiry defaults to five minutes out.
func (s *Store) CreateRFP(rfp RFP) (*RFP, error) {
	rfp.TaskType = strings.TrimSpace(rfp.TaskType)
	rfp.RequesterAgentID = strings.TrimSpace(rfp.RequesterAgentID)
	if rfp.TaskType == "" {
		return nil, errf(KindValidation, "task_type is required")
	}
	if rfp.MaxBudgetUSDC <= 0 {
		return nil, errf(KindValidation, "max_budget_usdc must be positive")
	}
	if rfp.RequiredDeliveryTimeMS < 0 {
		return nil, errf(KindValidation, "required_delivery_time_ms must not be negative")
	}
	if rfp.RequesterAgentID == "" {
		return nil, errf(KindValidation, "requester_agent_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[rfp.RequesterAgentID]; !ok {
		return nil, errf(KindValidation, "unknown requester agent %q", rfp.RequesterAgentID)
	}
	now := s.nowFn()
	rfp.RFPID = newID("rfp")
	rfp.Status = RFPStatusOpen
	rfp.CreatedAt = now
	if rfp.ExpiresAt.IsZero() {
		rfp.ExpiresAt = now.Add(defaultRFPLifetime)
	}
	if !rfp.CreatedAt.Before(rfp.ExpiresAt) {
		return nil, errf(KindValidation, "expires_at must be after creation time")
	}
	if rfp.BiddingDeadline != nil {
		if !rfp.BiddingDeadline.After(now) {
			return nil, errf(KindValidation, "bidding_deadline must be in the future")
		}
		if rfp.BiddingDeadline.After(rfp.ExpiresAt) {
			return nil, errf(KindValidation, "bidding_deadline must not pass expires_at")
		}
	}
	stored := cloneRFP(&rfp)
	s.rfps[stored.RFPID] = stored
	return cloneRFP(stored), nil
}

// GetRFP returns a copy of the RFP.
func (s *Store) GetRFP(rfpID string) (*RFP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rfp, ok := s.rfps[rfpID]
	if !ok {
		return nil, ErrRFPNotFound
	}
	return cloneRFP(rfp), nil
}

// ListOpenRFPs returns open, unexpired RFPs whose task type is in taskTypes.
// An empty taskTypes slice matches everything. Results are ordered oldest
// first so pollers observe a stable stream.
func (s *Store) ListOpenRFPs(taskTypes []string) []*RFP {
	wanted := make(map[string]struct{}, len(taskTypes))
	for _, t := range taskTypes {
		if t = strings.TrimSpace(t); t != "" {
			wanted[t] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowFn()
	out := make([]*RFP, 0)
	for _, rfp := range s.rfps {
		if rfp.Status != RFPStatusOpen || !rfp.ExpiresAt.After(now) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[rfp.TaskType]; !ok {
				continue
			}
		}
		out = append(out, cloneRFP(rfp))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RFPID < out[j].RFPID
	})
	return out
}

// expireLocked moves an overdue RFP to the expired state. Caller holds the
// write lock.
func (s *Store) expireLocked(rfp *RFP, now time.Time) bool {
	if now.Before(rfp.ExpiresAt) {
		return false
	}
	if CanTransition(rfp.Status, RFPStatusExpired) {
		rfp.Status = RFPStatusExpired
	}
	return rfp.Status == RFPStatusExpired
}

// SubmitBid validates and records a bid. A repeat bid from the same bidder
// supersedes the previous one instead of accumulating.
func (s *Store) SubmitBid(bid Bid) (*Bid, error) {
	bid.RFPID = strings.TrimSpace(bid.RFPID)
	bid.BidderAgentID = strings.TrimSpace(bid.BidderAgentID)
	if bid.BidderAgentID == "" {
		return nil, errf(KindValidation, "bidder_agent_id is required")
	}
	if bid.BidPriceUSDC <= 0 {
		return nil, errf(KindValidation, "bid_price_usdc must be positive")
	}
	if bid.EstimatedCompletionMS < 0 {
		return nil, errf(KindValidation, "estimated_completion_ms must not be negative")
	}
	if bid.ConfidenceScore < 0 || bid.ConfidenceScore > 1 {
		return nil, errf(KindValidation, "confidence_score must be within [0,1]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bidder, ok := s.agents[bid.BidderAgentID]
	if !ok {
		return nil, errf(KindValidation, "unknown bidder agent %q", bid.BidderAgentID)
	}
	rfp, ok := s.rfps[bid.RFPID]
	if !ok {
		return nil, ErrRFPNotFound
	}
	now := s.nowFn()
	if s.expireLocked(rfp, now) {
		return nil, ErrRFPExpired
	}
	if rfp.BiddingDeadline != nil && now.After(*rfp.BiddingDeadline) {
		if CanTransition(rfp.Status, RFPStatusBiddingClosed) {
			rfp.Status = RFPStatusBiddingClosed
		}
		return nil, ErrBiddingClosed
	}
	if rfp.Status != RFPStatusOpen {
		return nil, ErrRFPNotOpen
	}
	if bid.BidPriceUSDC > rfp.MaxBudgetUSDC {
		return nil, errf(KindValidation, "bid price %.6f exceeds rfp budget %.6f", bid.BidPriceUSDC, rfp.MaxBudgetUSDC)
	}
	bid.BidID = newID("bid")
	bid.CreatedAt = now
	bid.ReputationScore = bidder.Reputation
	stored := cloneBid(&bid)

	existing := s.bids[bid.RFPID]
	replaced := false
	for i, prev := range existing {
		if prev.BidderAgentID == bid.BidderAgentID {
			existing[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, stored)
	}
	s.bids[bid.RFPID] = existing
	return cloneBid(stored), nil
}

// ListBids returns the current bid set for an RFP, submission order.
func (s *Store) ListBids(rfpID string) ([]*Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rfps[rfpID]; !ok {
		return nil, ErrRFPNotFound
	}
	bids := s.bids[rfpID]
	out := make([]*Bid, 0, len(bids))
	for _, bid := range bids {
		out = append(out, cloneBid(bid))
	}
	return out, nil
}

// SelectWinner accepts one bid, creating the RFP's single assignment. Only
// the RFP requester may select; once an assignment exists further attempts
// conflict.
func (s *Store) SelectWinner(rfpID, bidID, selectorAgentID string) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rfp, ok := s.rfps[rfpID]
	if !ok {
		return nil, ErrRFPNotFound
	}
	if selectorAgentID != rfp.RequesterAgentID {
		return nil, ErrNotRequester
	}
	if _, ok := s.assignmentByRFP[rfpID]; ok {
		return nil, ErrAlreadyAssigned
	}
	now := s.nowFn()
	if s.expireLocked(rfp, now) {
		return nil, ErrRFPExpired
	}
	if !CanTransition(rfp.Status, RFPStatusAssigned) {
		return nil, errf(KindConflict, "rfp in state %q cannot be assigned", rfp.Status)
	}
	var winner *Bid
	for _, bid := range s.bids[rfpID] {
		if bid.BidID == bidID {
			winner = bid
			break
		}
	}
	if winner == nil {
		return nil, ErrBidNotFound
	}
	if winner.ExpiresAt != nil && !winner.ExpiresAt.After(now) {
		return nil, errf(KindConflict, "winning bid %s has expired", bidID)
	}

	assignment := &Assignment{
		AssignmentID:    newID("assign"),
		RFPID:           rfpID,
		WinningBidID:    winner.BidID,
		ProviderAgentID: winner.BidderAgentID,
		ConsumerAgentID: rfp.RequesterAgentID,
		AgreedPriceUSDC: winner.BidPriceUSDC,
		Status:          AssignmentStatusPendingPayment,
		CreatedAt:       now,
	}
	s.assignments[assignment.AssignmentID] = assignment
	s.assignmentByRFP[rfpID] = assignment.AssignmentID
	rfp.Status = RFPStatusAssigned
	return cloneAssignment(assignment), nil
}

// CancelRFP moves an unassigned RFP to the cancelled state. Requester only.
func (s *Store) CancelRFP(rfpID, requesterAgentID string) (*RFP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rfp, ok := s.rfps[rfpID]
	if !ok {
		return nil, ErrRFPNotFound
	}
	if requesterAgentID != rfp.RequesterAgentID {
		return nil, ErrNotRequester
	}
	if rfp.Status == RFPStatusAssigned {
		return nil, ErrAlreadyAssigned
	}
	if !CanTransition(rfp.Status, RFPStatusCancelled) {
		return nil, errf(KindConflict, "rfp in state %q cannot be cancelled", rfp.Status)
	}
	rfp.Status = RFPStatusCancelled
	return cloneRFP(rfp), nil
}

// GetAssignment returns a copy of the assignment.
func (s *Store) GetAssignment(assignmentID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assignment, ok := s.assignments[assignmentID]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	return cloneAssignment(assignment), nil
}

// RecordDelivery stores the settlement signature and marks the assignment
// delivered, completing the RFP and crediting the provider's task counters.
// Re-posting the same signature is idempotent.
func (s *Store) RecordDelivery(assignmentID, txSignature string) (*Assignment, error) {
	txSignature = strings.TrimSpace(txSignature)
	if txSignature == "" {
		return nil, errf(KindValidation, "tx_signature is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.assignments[assignmentID]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	if assignment.PaymentTxSignature != "" {
		if assignment.PaymentTxSignature == txSignature {
			return cloneAssignment(assignment), nil
		}
		return nil, errf(KindConflict, "assignment already delivered with a different signature")
	}
	now := s.nowFn()
	assignment.PaymentTxSignature = txSignature
	assignment.Status = AssignmentStatusDelivered
	assignment.DeliveredAt = &now
	if rfp, ok := s.rfps[assignment.RFPID]; ok && CanTransition(rfp.Status, RFPStatusCompleted) {
		rfp.Status = RFPStatusCompleted
	}
	if provider, ok := s.agents[assignment.ProviderAgentID]; ok {
		provider.TotalTasks++
		provider.SuccessfulTasks++
	}
	return cloneAssignment(assignment), nil
}

func ratingKey(assignmentID, raterAgentID string) string {
	return assignmentID + "\x00" + raterAgentID
}

// Rate stores a star rating for the provider on an assignment and folds it
// into the provider's running reputation mean. One rating per rater and
// assignment.
func (s *Store) Rate(rating Rating) (*Agent, error) {
	if rating.Stars < 1 || rating.Stars > 5 {
		return nil, errf(KindValidation, "stars must be within [1,5]")
	}
	for name, v := range map[string]int{
		"data_quality":    rating.Dimensions.DataQuality,
		"response_time":   rating.Dimensions.ResponseTime,
		"value_for_price": rating.Dimensions.ValueForPrice,
	} {
		if v != 0 && (v < 1 || v > 5) {
			return nil, errf(KindValidation, "%s must be within [1,5]", name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rated, ok := s.agents[rating.RatedAgentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	assignment, ok := s.assignments[rating.AssignmentID]
	if !ok {
		return nil, errf(KindValidation, "unknown assignment %q", rating.AssignmentID)
	}
	if rating.RaterAgentID != assignment.ConsumerAgentID {
		return nil, ErrNotConsumer
	}
	if rating.RatedAgentID != assignment.ProviderAgentID {
		return nil, errf(KindValidation, "rated agent is not the assignment provider")
	}
	key := ratingKey(rating.AssignmentID, rating.RaterAgentID)
	if _, ok := s.ratingKeys[key]; ok {
		return nil, ErrDuplicateRating
	}
	rating.CreatedAt = s.nowFn()
	stored := rating
	s.ratingKeys[key] = struct{}{}
	s.ratingsByAgent[rating.RatedAgentID] = append(s.ratingsByAgent[rating.RatedAgentID], &stored)

	count := float64(rated.TotalRatings)
	rated.Reputation = (rated.Reputation*count + float64(rating.Stars)) / (count + 1)
	rated.TotalRatings++
	if assignment.Status == AssignmentStatusDelivered {
		assignment.Status = AssignmentStatusCompleted
	}
	return cloneAgent(rated), nil
}

// Reputation reports the aggregate rating view for an agent.
func (s *Store) Reputation(agentID string) (*ReputationView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[agentID]; !ok {
		return nil, ErrAgentNotFound
	}
	view := &ReputationView{AgentID: agentID, Histogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	ratings := s.ratingsByAgent[agentID]
	var sum float64
	var dqSum, dqN, rtSum, rtN, vpSum, vpN float64
	for _, r := range ratings {
		view.Histogram[r.Stars]++
		sum += float64(r.Stars)
		if r.Dimensions.DataQuality > 0 {
			dqSum += float64(r.Dimensions.DataQuality)
			dqN++
		}
		if r.Dimensions.ResponseTime > 0 {
			rtSum += float64(r.Dimensions.ResponseTime)
			rtN++
		}
		if r.Dimensions.ValueForPrice > 0 {
			vpSum += float64(r.Dimensions.ValueForPrice)
			vpN++
		}
	}
	view.Count = len(ratings)
	if view.Count > 0 {
		view.Mean = sum / float64(view.Count)
	}
	if dqN > 0 {
		view.Dimensions.DataQuality = dqSum / dqN
	}
	if rtN > 0 {
		view.Dimensions.ResponseTime = rtSum / rtN
	}
	if vpN > 0 {
		view.Dimensions.ValueForPrice = vpSum / vpN
	}
	return view, nil
}

// AppendMessage attaches a negotiation note to an RFP. Notes are stored and
// listed; no counter-offer rounds are executed on top of them.
func (s *Store) AppendMessage(msg NegotiationMessage) (*NegotiationMessage, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return nil, errf(KindValidation, "message content is required")
	}
	switch msg.MessageType {
	case MessageTypeQuestion, MessageTypeCounterOffer, MessageTypeAcceptance, MessageTypeRejection:
	default:
		return nil, errf(KindValidation, "unknown message_type %q", msg.MessageType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rfps[msg.RFPID]; !ok {
		return nil, ErrRFPNotFound
	}
	if _, ok := s.agents[msg.FromAgentID]; !ok {
		return nil, errf(KindValidation, "unknown sender agent %q", msg.FromAgentID)
	}
	msg.MessageID = newID("msg")
	msg.CreatedAt = s.nowFn()
	stored := msg
	s.messages[msg.RFPID] = append(s.messages[msg.RFPID], &stored)
	out := stored
	return &out, nil
}

// ListMessages returns the negotiation log for an RFP, append order.
func (s *Store) ListMessages(rfpID string) ([]*NegotiationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rfps[rfpID]; !ok {
		return nil, ErrRFPNotFound
	}
	msgs := s.messages[rfpID]
	out := make([]*NegotiationMessage, 0, len(msgs))
	for _, m := range msgs {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

// ExpireStale transitions every overdue open or bidding_closed RFP to
// expired and returns the affected ids.
func (s *Store) ExpireStale() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	var expired []string
	for id, rfp := range s.rfps {
		if rfp.Status != RFPStatusOpen && rfp.Status != RFPStatusBiddingClosed {
			continue
		}
		if now.Before(rfp.ExpiresAt) {
			continue
		}
		rfp.Status = RFPStatusExpired
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired
}

// Stats snapshots registry-wide counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		TotalAgents:      len(s.agents),
		TotalRFPs:        len(s.rfps),
		TotalAssignments: len(s.assignments),
		TotalRatings:     len(s.ratingKeys),
	}
	for _, rfp := range s.rfps {
		if rfp.Status == RFPStatusOpen {
			stats.OpenRFPs++
		}
	}
	for _, bids := range s.bids {
		stats.TotalBids += len(bids)
	}
	return stats
}
