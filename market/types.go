package market

import (
	"strings"
	"time"
)

// AgentType labels the role an agent advertises. The set is open; these are
// the values the marketplace itself understands.
type AgentType string

const (
	AgentTypeDataProvider AgentType = "data_provider"
	AgentTypeConsumer     AgentType = "consumer"
	AgentTypeExecutor     AgentType = "executor"
)

// AgentStatus tracks whether an agent is currently serving.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusBusy     AgentStatus = "busy"
)

// Agent is a registered marketplace participant.
type Agent struct {
	AgentID         string             `json:"agent_id"`
	Name            string             `json:"name"`
	AgentType       AgentType          `json:"agent_type"`
	EndpointURL     string             `json:"endpoint_url"`
	WalletAddress   string             `json:"wallet_address"`
	Capabilities    []string           `json:"capabilities"`
	Pricing         map[string]float64 `json:"pricing,omitempty"`
	Status          AgentStatus        `json:"status"`
	Reputation      float64            `json:"reputation"`
	TotalRatings    int                `json:"total_ratings"`
	TotalTasks      int                `json:"total_tasks"`
	SuccessfulTasks int                `json:"successful_tasks"`
	CreatedAt       time.Time          `json:"created_at"`
}

// HasCapability reports whether the agent advertises the given capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// RankScore folds rating quality and volume into a single discovery ordering
// key: 0.6 on the normalised mean, 0.4 on volume saturating at 100 ratings.
func (a *Agent) RankScore() float64 {
	volume := float64(a.TotalRatings) / 100
	if volume > 1 {
		volume = 1
	}
	return 0.6*(a.Reputation/5) + 0.4*volume
}

// RFPStatus is the lifecycle state of a request for proposal.
type RFPStatus string

const (
	RFPStatusOpen          RFPStatus = "open"
	RFPStatusBiddingClosed RFPStatus = "bidding_closed"
	RFPStatusAssigned      RFPStatus = "assigned"
	RFPStatusCompleted     RFPStatus = "completed"
	RFPStatusCancelled     RFPStatus = "cancelled"
	RFPStatusExpired       RFPStatus = "expired"
)

// rfpTransitions encodes the monotone status machine. Terminal states map to
// an empty set.
var rfpTransitions = map[RFPStatus][]RFPStatus{
	RFPStatusOpen:          {RFPStatusBiddingClosed, RFPStatusAssigned, RFPStatusCancelled, RFPStatusExpired},
	RFPStatusBiddingClosed: {RFPStatusAssigned, RFPStatusCancelled, RFPStatusExpired},
	RFPStatusAssigned:      {RFPStatusCompleted},
	RFPStatusCompleted:     {},
	RFPStatusCancelled:     {},
	RFPStatusExpired:       {},
}

// CanTransition reports whether an RFP may move from one status to another.
func CanTransition(from, to RFPStatus) bool {
	for _, next := range rfpTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RFP is a consumer's broadcast request for a task with budget and deadline.
type RFP struct {
	RFPID                  string         `json:"rfp_id"`
	TaskType               string         `json:"task_type"`
	Requirements           map[string]any `json:"requirements,omitempty"`
	MaxBudgetUSDC          float64        `json:"max_budget_usdc"`
	RequiredDeliveryTimeMS int64          `json:"required_delivery_time_ms,omitempty"`
	RequesterAgentID       string         `json:"requester_agent_id"`
	Status                 RFPStatus      `json:"status"`
	CreatedAt              time.Time      `json:"created_at"`
	ExpiresAt              time.Time      `json:"expires_at"`
	BiddingDeadline        *time.Time     `json:"bidding_deadline,omitempty"`
}

// Bid is a provider's offer against an RFP.
type Bid struct {
	BidID                 string     `json:"bid_id"`
	RFPID                 string     `json:"rfp_id"`
	BidderAgentID         string     `json:"bidder_agent_id"`
	BidPriceUSDC          float64    `json:"bid_price_usdc"`
	EstimatedCompletionMS int64      `json:"estimated_completion_ms"`
	ConfidenceScore       float64    `json:"confidence_score"`
	ReputationScore       float64    `json:"reputation_score"`
	Message               string     `json:"message,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// AssignmentStatus is the lifecycle state of an accepted bid.
type AssignmentStatus string

const (
	AssignmentStatusPendingPayment   AssignmentStatus = "pending_payment"
	AssignmentStatusPaymentConfirmed AssignmentStatus = "payment_confirmed"
	AssignmentStatusDelivered        AssignmentStatus = "delivered"
	AssignmentStatusDisputed         AssignmentStatus = "disputed"
	AssignmentStatusCompleted        AssignmentStatus = "completed"
	AssignmentStatusFailed           AssignmentStatus = "failed"
)

// Assignment pairs a consumer and the winning provider until delivery.
type Assignment struct {
	AssignmentID       string           `json:"assignment_id"`
	RFPID              string           `json:"rfp_id"`
	WinningBidID       string           `json:"winning_bid_id"`
	ProviderAgentID    string           `json:"provider_agent_id"`
	ConsumerAgentID    string           `json:"consumer_agent_id"`
	AgreedPriceUSDC    float64          `json:"agreed_price_usdc"`
	Status             AssignmentStatus `json:"status"`
	PaymentTxSignature string           `json:"payment_tx_signature,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
}

// RatingDimensions carries the optional per-aspect scores of a rating. Zero
// means unset.
type RatingDimensions struct {
	DataQuality   int `json:"data_quality,omitempty"`
	ResponseTime  int `json:"response_time,omitempty"`
	ValueForPrice int `json:"value_for_price,omitempty"`
}

// Rating is a consumer's star feedback on a completed assignment.
type Rating struct {
	RaterAgentID string           `json:"rater_agent_id"`
	RatedAgentID string           `json:"rated_agent_id"`
	AssignmentID string           `json:"assignment_id"`
	Stars        int              `json:"stars"`
	ReviewText   string           `json:"review_text,omitempty"`
	Dimensions   RatingDimensions `json:"dimensions,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// MessageType labels a negotiation note. Counter-offer rounds are not
// executed; the log is storage only.
type MessageType string

const (
	MessageTypeQuestion     MessageType = "question"
	MessageTypeCounterOffer MessageType = "counter_offer"
	MessageTypeAcceptance   MessageType = "acceptance"
	MessageTypeRejection    MessageType = "rejection"
)

// NegotiationMessage is an append-only note attached to an RFP.
type NegotiationMessage struct {
	MessageID   string      `json:"message_id"`
	RFPID       string      `json:"rfp_id"`
	FromAgentID string      `json:"from_agent_id"`
	ToAgentID   string      `json:"to_agent_id,omitempty"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ReputationView is the aggregate reputation report for an agent.
type ReputationView struct {
	AgentID    string      `json:"agent_id"`
	Mean       float64     `json:"mean"`
	Count      int         `json:"count"`
	Histogram  map[int]int `json:"histogram"`
	Dimensions struct {
		DataQuality   float64 `json:"data_quality"`
		ResponseTime  float64 `json:"response_time"`
		ValueForPrice float64 `json:"value_for_price"`
	} `json:"dimensions"`
}

// Stats is the registry-wide counter snapshot.
type Stats struct {
	TotalAgents      int `json:"total_agents"`
	TotalRFPs        int `json:"total_rfps"`
	OpenRFPs         int `json:"open_rfps"`
	TotalBids        int `json:"total_bids"`
	TotalAssignments int `json:"total_assignments"`
	TotalRatings     int `json:"total_ratings"`
}

func cloneAgent(a *Agent) *Agent {
	if a == nil {
		return nil
	}
	out := *a
	out.Capabilities = append([]string(nil), a.Capabilities...)
	if a.Pricing != nil {
		out.Pricing = make(map[string]float64, len(a.Pricing))
		for k, v := range a.Pricing {
			out.Pricing[k] = v
		}
	}
	return &out
}

func cloneRFP(r *RFP) *RFP {
	if r == nil {
		return nil
	}
	out := *r
	if r.Requirements != nil {
		out.Requirements = make(map[string]any, len(r.Requirements))
		for k, v := range r.Requirements {
			out.Requirements[k] = v
		}
	}
	if r.BiddingDeadline != nil {
		deadline := *r.BiddingDeadline
		out.BiddingDeadline = &deadline
	}
	return &out
}

func cloneBid(b *Bid) *Bid {
	if b == nil {
		return nil
	}
	out := *b
	if b.ExpiresAt != nil {
		expires := *b.ExpiresAt
		out.ExpiresAt = &expires
	}
	return &out
}

func cloneAssignment(a *Assignment) *Assignment {
	if a == nil {
		return nil
	}
	out := *a
	if a.DeliveredAt != nil {
		delivered := *a.DeliveredAt
		out.DeliveredAt = &delivered
	}
	return &out
}
