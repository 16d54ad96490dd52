// Package registryclient is the typed HTTP client for the marketplace
// registry. Providers poll and bid through it; consumers run their whole
// decision loop over it.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agoranet/market"
)

// APIError is a non-2xx registry answer. Status carries the error class the
// registry maps store failures onto.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsConflict reports a 409, the registry's already-assigned/duplicate answer.
func IsConflict(err error) bool { return IsStatus(err, http.StatusConflict) }

// IsNotFound reports a 404.
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

const defaultTimeout = 5 * time.Second

// Client talks to one registry instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, used by tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds each request; the default 5s keeps provider polling
// loops from stalling on a slow registry.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New builds a client for the registry at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(nil),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			message = eb.Error
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// RegisterAgent upserts an agent record.
func (c *Client) RegisterAgent(ctx context.Context, agent *market.Agent) (*market.Agent, error) {
	var out market.Agent
	if err := c.do(ctx, http.MethodPost, "/agents/register", nil, agent, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgent fetches one agent by id.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*market.Agent, error) {
	var out market.Agent
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentQuery filters ListAgents.
type AgentQuery struct {
	AgentType    string
	Capability   string
	Status       string
	MaxPriceUSDC float64
}

// ListAgents queries the agent directory.
func (c *Client) ListAgents(ctx context.Context, q AgentQuery) ([]*market.Agent, error) {
	values := url.Values{}
	if q.AgentType != "" {
		values.Set("agent_type", q.AgentType)
	}
	if q.Capability != "" {
		values.Set("capability", q.Capability)
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.MaxPriceUSDC > 0 {
		values.Set("max_price_usdc", fmt.Sprintf("%g", q.MaxPriceUSDC))
	}
	var out []*market.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", values, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe registers interest in a task type.
func (c *Client) Subscribe(ctx context.Context, agentID, taskType string) error {
	body := map[string]string{"task_type": taskType}
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/subscribe", nil, body, nil)
}

// Unsubscribe drops interest in a task type.
func (c *Client) Unsubscribe(ctx context.Context, agentID, taskType string) error {
	body := map[string]string{"task_type": taskType}
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/unsubscribe", nil, body, nil)
}

// CreateRFP broadcasts a request for proposals.
func (c *Client) CreateRFP(ctx context.Context, rfp *market.RFP) (*market.RFP, error) {
	var out market.RFP
	if err := c.do(ctx, http.MethodPost, "/rfp/create", nil, rfp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenRFPs lists open RFPs matching any of the task types.
func (c *Client) OpenRFPs(ctx context.Context, taskTypes []string) ([]*market.RFP, error) {
	values := url.Values{}
	if len(taskTypes) > 0 {
		values.Set("task_types", strings.Join(taskTypes, ","))
	}
	var out []*market.RFP
	if err := c.do(ctx, http.MethodGet, "/rfp/open", values, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitBid places or replaces the bidder's bid on an RFP.
func (c *Client) SubmitBid(ctx context.Context, bid *market.Bid) (*market.Bid, error) {
	var out market.Bid
	if err := c.do(ctx, http.MethodPost, "/rfp/"+url.PathEscape(bid.RFPID)+"/bid", nil, bid, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bids lists the bids collected for an RFP.
func (c *Client) Bids(ctx context.Context, rfpID string) ([]*market.Bid, error) {
	var out []*market.Bid
	if err := c.do(ctx, http.MethodGet, "/rfp/"+url.PathEscape(rfpID)+"/bids", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectWinner accepts a bid on behalf of the RFP's requester.
func (c *Client) SelectWinner(ctx context.Context, rfpID, bidID, selectorAgentID string) (*market.Assignment, error) {
	body := map[string]string{"bid_id": bidID, "selector_agent_id": selectorAgentID}
	var out market.Assignment
	if err := c.do(ctx, http.MethodPost, "/rfp/"+url.PathEscape(rfpID)+"/select", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelRFP cancels an unassigned RFP on behalf of its requester.
func (c *Client) CancelRFP(ctx context.Context, rfpID, requesterAgentID string) error {
	body := map[string]string{"requester_agent_id": requesterAgentID}
	return c.do(ctx, http.MethodPost, "/rfp/"+url.PathEscape(rfpID)+"/cancel", nil, body, nil)
}

// RecordDelivery attaches the settled payment signature to an assignment.
func (c *Client) RecordDelivery(ctx context.Context, assignmentID, txSignature string) (*market.Assignment, error) {
	body := map[string]string{"tx_signature": txSignature}
	var out market.Assignment
	if err := c.do(ctx, http.MethodPost, "/assignments/"+url.PathEscape(assignmentID)+"/delivery", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RatingRequest is the body of a rating post.
type RatingRequest struct {
	RaterAgentID string                   `json:"rater_agent_id"`
	AssignmentID string                   `json:"assignment_id"`
	Stars        int                      `json:"stars"`
	Review       string                   `json:"review,omitempty"`
	Dimensions   *market.RatingDimensions `json:"dimensions,omitempty"`
}

// Rate posts a star rating for a completed assignment.
func (c *Client) Rate(ctx context.Context, ratedAgentID string, req RatingRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(ratedAgentID)+"/rate", nil, req, nil)
}

// Reputation fetches an agent's rating summary.
func (c *Client) Reputation(ctx context.Context, agentID string) (*market.ReputationView, error) {
	var out market.ReputationView
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID)+"/reputation", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the registry's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}
