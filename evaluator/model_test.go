package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agoranet/market"
)

func chatStub(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		if status != http.StatusOK {
			http.Error(w, "upstream sad", status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func modelFixtures() (*market.RFP, []*market.Bid) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rfp := &market.RFP{
		RFPID:            "rfp_model",
		RequesterAgentID: "consumer_1",
		TaskType:         "weather_data",
		MaxBudgetUSDC:    100,
		CreatedAt:        now,
		ExpiresAt:        now.Add(5 * time.Minute),
	}
	bids := []*market.Bid{
		{BidID: "bid_a", RFPID: rfp.RFPID, BidderAgentID: "p1", BidPriceUSDC: 60, CreatedAt: now},
		{BidID: "bid_b", RFPID: rfp.RFPID, BidderAgentID: "p2", BidPriceUSDC: 40, CreatedAt: now},
	}
	return rfp, bids
}

func TestModelRank(t *testing.T) {
	verdicts := `{
		"decisions": [
			{"bid_id": "bid_a", "action": "accept", "reasoning": "strong provider", "confidence": 0.9},
			{"bid_id": "bid_b", "action": "reject", "reasoning": "thin track record", "confidence": 0.7},
			{"bid_id": "bid_ghost", "action": "accept", "reasoning": "hallucinated", "confidence": 1}
		],
		"recommended_winner": "bid_a",
		"overall_analysis": "bid_a balances price and reliability"
	}`
	srv := chatStub(t, http.StatusOK, verdicts)
	defer srv.Close()

	m := NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	rfp, bids := modelFixtures()
	result, err := m.Rank(context.Background(), rfp, bids, map[string]float64{"p1": 4.5, "p2": 2.0})
	require.NoError(t, err)
	require.Equal(t, "bid_a", result.WinnerBidID)
	require.InDelta(t, 0.9, result.Confidence, 1e-9)
	require.Equal(t, "bid_a balances price and reliability", result.Analysis)
	// The verdict for the hallucinated bid id is dropped.
	require.Len(t, result.Verdicts, 2)
	require.True(t, result.Verdicts[0].Accept)
	require.False(t, result.Verdicts[1].Accept)
}

func TestModelRankUnknownWinner(t *testing.T) {
	srv := chatStub(t, http.StatusOK, `{"decisions":[],"recommended_winner":"bid_nope","overall_analysis":""}`)
	defer srv.Close()

	m := NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	rfp, bids := modelFixtures()
	_, err := m.Rank(context.Background(), rfp, bids, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bid_nope")
}

func TestModelRankUpstreamError(t *testing.T) {
	srv := chatStub(t, http.StatusBadGateway, "")
	defer srv.Close()

	m := NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	rfp, bids := modelFixtures()
	_, err := m.Rank(context.Background(), rfp, bids, nil)
	require.Error(t, err)
}

func TestModelRate(t *testing.T) {
	srv := chatStub(t, http.StatusOK, `{"rating":4,"review_text":"solid delivery"}`)
	defer srv.Close()

	m := NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	_, bids := modelFixtures()
	result, err := m.Rate(context.Background(), json.RawMessage(`{"temp_c":21}`), 900, bids[0])
	require.NoError(t, err)
	require.Equal(t, 4, result.Stars)
	require.Equal(t, "solid delivery", result.Review)
}

func TestModelRateOutOfRange(t *testing.T) {
	srv := chatStub(t, http.StatusOK, `{"rating":9,"review_text":"overflow"}`)
	defer srv.Close()

	m := NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	_, bids := modelFixtures()
	_, err := m.Rate(context.Background(), json.RawMessage(`{}`), 100, bids[0])
	require.Error(t, err)
}

func TestWithFallbackRank(t *testing.T) {
	srv := chatStub(t, http.StatusServiceUnavailable, "")
	defer srv.Close()

	chain := &WithFallback{
		Primary:  NewModel(ModelConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"}),
		Fallback: NewDeterministic(DefaultWeights),
	}
	rfp, bids := modelFixtures()
	result, err := chain.Rank(context.Background(), rfp, bids, map[string]float64{"p1": 4.8, "p2": 3.0})
	require.NoError(t, err)
	// Deterministic scoring takes over: p1's reputation outweighs p2's price.
	require.Equal(t, "bid_a", result.WinnerBidID)
}
