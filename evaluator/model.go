package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agoranet/market"
)

// ModelConfig points the evaluator at an OpenAI-compatible chat-completions
// endpoint.
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

const defaultModelTimeout = 20 * time.Second

// Model consults a language model for ranking and rating. Responses are
// requested as JSON objects and parsed strictly; any transport, decode or
// consistency failure surfaces as an error so callers can fall back.
type Model struct {
	cfg    ModelConfig
	client *http.Client
}

// NewModel builds a model-backed evaluator.
func NewModel(cfg ModelConfig) *Model {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultModelTimeout
	}
	return &Model{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(nil),
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (m *Model) complete(ctx context.Context, system, user string) ([]byte, error) {
	req := chatRequest{
		Model:       m.cfg.Model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.ResponseFormat.Type = "json_object"
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	url := strings.TrimRight(m.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response carried no choices")
	}
	return []byte(parsed.Choices[0].Message.Content), nil
}

type modelRankPayload struct {
	Decisions []struct {
		BidID      string  `json:"bid_id"`
		Action     string  `json:"action"`
		Reasoning  string  `json:"reasoning"`
		Confidence float64 `json:"confidence"`
	} `json:"decisions"`
	RecommendedWinner string `json:"recommended_winner"`
	OverallAnalysis   string `json:"overall_analysis"`
}

const rankSystemPrompt = `You are a procurement evaluator for an agent marketplace. ` +
	`Given an RFP and competing bids, accept or reject each bid and recommend exactly one winner. ` +
	`Respond with a JSON object: {"decisions":[{"bid_id","action":"accept"|"reject","reasoning","confidence"}],` +
	`"recommended_winner":"<bid_id>","overall_analysis":"..."}.`

// Rank asks the model to pick a winner among the bids.
func (m *Model) Rank(ctx context.Context, rfp *market.RFP, bids []*market.Bid, reputations map[string]float64) (*RankResult, error) {
	if len(bids) == 0 {
		return nil, ErrNoBids
	}
	prompt := struct {
		RFP         *market.RFP        `json:"rfp"`
		Bids        []*market.Bid      `json:"bids"`
		Reputations map[string]float64 `json:"provider_reputations"`
	}{rfp, bids, reputations}
	user, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode rank prompt: %w", err)
	}
	content, err := m.complete(ctx, rankSystemPrompt, string(user))
	if err != nil {
		return nil, err
	}
	var payload modelRankPayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("decode rank verdicts: %w", err)
	}
	known := make(map[string]struct{}, len(bids))
	for _, bid := range bids {
		known[bid.BidID] = struct{}{}
	}
	if _, ok := known[payload.RecommendedWinner]; !ok {
		return nil, fmt.Errorf("model recommended unknown bid %q", payload.RecommendedWinner)
	}
	result := &RankResult{
		WinnerBidID: payload.RecommendedWinner,
		Analysis:    payload.OverallAnalysis,
		Confidence:  0.5,
	}
	for _, decision := range payload.Decisions {
		if _, ok := known[decision.BidID]; !ok {
			continue
		}
		result.Verdicts = append(result.Verdicts, Verdict{
			BidID:  decision.BidID,
			Accept: strings.EqualFold(decision.Action, "accept"),
			Reason: decision.Reasoning,
		})
		if decision.BidID == payload.RecommendedWinner && decision.Confidence > 0 {
			result.Confidence = decision.Confidence
		}
	}
	return result, nil
}

type modelRatePayload struct {
	Rating     int    `json:"rating"`
	ReviewText string `json:"review_text"`
}

const rateSystemPrompt = `You are rating a completed data delivery on a 1-5 star scale. ` +
	`Respond with a JSON object: {"rating":1-5,"review_text":"..."}.`

// Rate asks the model to score a delivered result.
func (m *Model) Rate(ctx context.Context, serviceResult json.RawMessage, latencyMS int64, bid *market.Bid) (*RateResult, error) {
	prompt := struct {
		Result    json.RawMessage `json:"service_result"`
		LatencyMS int64           `json:"latency_ms"`
		Bid       *market.Bid     `json:"bid"`
	}{serviceResult, latencyMS, bid}
	user, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode rate prompt: %w", err)
	}
	content, err := m.complete(ctx, rateSystemPrompt, string(user))
	if err != nil {
		return nil, err
	}
	var payload modelRatePayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("decode rating: %w", err)
	}
	if payload.Rating < 1 || payload.Rating > 5 {
		return nil, fmt.Errorf("model rating %d out of range", payload.Rating)
	}
	return &RateResult{Stars: payload.Rating, Review: payload.ReviewText}, nil
}
