package registryclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"agoranet/market"
)

func TestRegisterAgentRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents/register" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var agent market.Agent
		if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
			t.Fatalf("decode agent: %v", err)
		}
		if agent.AgentID != "provider_1" {
			t.Fatalf("agent_id = %q", agent.AgentID)
		}
		agent.Reputation = 5
		json.NewEncoder(w).Encode(agent)
	}))
	defer srv.Close()

	got, err := New(srv.URL).RegisterAgent(context.Background(), &market.Agent{
		AgentID:   "provider_1",
		Name:      "Weather Provider",
		AgentType: market.AgentTypeDataProvider,
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if got.Reputation != 5 {
		t.Fatalf("reputation = %v, want the server's echo", got.Reputation)
	}
}

func TestOpenRFPsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rfp/open" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("task_types"); got != "weather_data,price_feed" {
			t.Fatalf("task_types = %q", got)
		}
		json.NewEncoder(w).Encode([]*market.RFP{{RFPID: "rfp_1", TaskType: "weather_data"}})
	}))
	defer srv.Close()

	rfps, err := New(srv.URL).OpenRFPs(context.Background(), []string{"weather_data", "price_feed"})
	if err != nil {
		t.Fatalf("OpenRFPs: %v", err)
	}
	if len(rfps) != 1 || rfps[0].RFPID != "rfp_1" {
		t.Fatalf("unexpected rfps: %+v", rfps)
	}
}

func TestSubmitBidUsesRFPPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rfp/rfp_7/bid" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var bid market.Bid
		json.NewDecoder(r.Body).Decode(&bid)
		bid.BidID = "bid_assigned"
		json.NewEncoder(w).Encode(bid)
	}))
	defer srv.Close()

	got, err := New(srv.URL).SubmitBid(context.Background(), &market.Bid{RFPID: "rfp_7", BidderAgentID: "p1", BidPriceUSDC: 0.00012})
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if got.BidID != "bid_assigned" {
		t.Fatalf("bid_id = %q", got.BidID)
	}
}

func TestSelectWinnerConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "rfp already assigned"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).SelectWinner(context.Background(), "rfp_1", "bid_1", "consumer_1")
	if !IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "rfp already assigned" {
		t.Fatalf("message not preserved: %v", err)
	}
}

func TestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "agent not found"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetAgent(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRateBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/provider_1/rate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req RatingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rating: %v", err)
		}
		if req.Stars != 5 || req.RaterAgentID != "consumer_1" || req.AssignmentID != "assign_1" {
			t.Fatalf("unexpected rating: %+v", req)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Rate(context.Background(), "provider_1", RatingRequest{
		RaterAgentID: "consumer_1",
		AssignmentID: "assign_1",
		Stars:        5,
		Review:       "fast and accurate",
	})
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
}
