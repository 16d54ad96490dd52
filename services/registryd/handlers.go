package registryd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"agoranet/market"
	"agoranet/observability"
)

func parsePrice(raw string) (float64, error) {
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price < 0 {
		return 0, fmt.Errorf("invalid price %q", raw)
	}
	return price, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var agent market.Agent
	if err := decodeJSON(w, r, &agent); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.store.RegisterAgent(agent)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("agent registered", "agent_id", stored.AgentID, "agent_type", string(stored.AgentType))
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := s.store.UnregisterAgent(chi.URLParam(r, "agentID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := market.AgentFilter{
		AgentType:  market.AgentType(strings.TrimSpace(query.Get("agent_type"))),
		Capability: strings.TrimSpace(query.Get("capability")),
		Status:     market.AgentStatus(strings.TrimSpace(query.Get("status"))),
	}
	if raw := strings.TrimSpace(query.Get("max_price_usdc")); raw != "" {
		price, err := parsePrice(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_price_usdc")
			return
		}
		filter.MaxPriceUSDC = price
	}
	writeJSON(w, http.StatusOK, s.store.ListAgents(filter))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agent, err := s.store.SetAgentStatus(chi.URLParam(r, "agentID"), market.AgentStatus(req.Status))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType string `json:"task_type"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Subscribe(chi.URLParam(r, "agentID"), req.TaskType); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType string `json:"task_type"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Unsubscribe(chi.URLParam(r, "agentID"), req.TaskType); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRFP(w http.ResponseWriter, r *http.Request) {
	var rfp market.RFP
	if err := decodeJSON(w, r, &rfp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.store.CreateRFP(rfp)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	observability.Market().RecordRFP(stored.TaskType)
	s.logger.Info("rfp created",
		"rfp_id", stored.RFPID,
		"task_type", stored.TaskType,
		"budget_usdc", stored.MaxBudgetUSDC,
	)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleOpenRFPs(w http.ResponseWriter, r *http.Request) {
	var taskTypes []string
	if raw := strings.TrimSpace(r.URL.Query().Get("task_types")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				taskTypes = append(taskTypes, trimmed)
			}
		}
	}
	writeJSON(w, http.StatusOK, s.store.ListOpenRFPs(taskTypes))
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var bid market.Bid
	if err := decodeJSON(w, r, &bid); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bid.RFPID = chi.URLParam(r, "rfpID")
	stored, err := s.store.SubmitBid(bid)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if rfp, err := s.store.GetRFP(stored.RFPID); err == nil {
		observability.Market().RecordBid(rfp.TaskType)
	}
	s.logger.Info("bid submitted",
		"rfp_id", stored.RFPID,
		"bid_id", stored.BidID,
		"agent_id", stored.BidderAgentID,
		"price_usdc", stored.BidPriceUSDC,
	)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.store.ListBids(chi.URLParam(r, "rfpID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BidID           string `json:"bid_id"`
		SelectorAgentID string `json:"selector_agent_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rfpID := chi.URLParam(r, "rfpID")
	assignment, err := s.store.SelectWinner(rfpID, req.BidID, req.SelectorAgentID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if rfp, err := s.store.GetRFP(rfpID); err == nil {
		observability.Market().RecordAssignment(rfp.TaskType)
	}
	s.logger.Info("winner selected",
		"rfp_id", assignment.RFPID,
		"bid_id", assignment.WinningBidID,
		"assignment_id", assignment.AssignmentID,
		"provider_id", assignment.ProviderAgentID,
	)
	writeJSON(w, http.StatusCreated, assignment)
}

func (s *Server) handleCancelRFP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequesterAgentID string `json:"requester_agent_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rfp, err := s.store.CancelRFP(chi.URLParam(r, "rfpID"), req.RequesterAgentID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rfp)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var msg market.NegotiationMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg.RFPID = chi.URLParam(r, "rfpID")
	stored, err := s.store.AppendMessage(msg)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(chi.URLParam(r, "rfpID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxSignature string `json:"tx_signature"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := s.store.RecordDelivery(chi.URLParam(r, "assignmentID"), req.TxSignature)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("delivery recorded",
		"assignment_id", assignment.AssignmentID,
		"rfp_id", assignment.RFPID,
		"signature", req.TxSignature,
	)
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RaterAgentID string                   `json:"rater_agent_id"`
		AssignmentID string                   `json:"assignment_id"`
		Stars        int                      `json:"stars"`
		Review       string                   `json:"review"`
		Dimensions   *market.RatingDimensions `json:"dimensions"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rating := market.Rating{
		RaterAgentID: req.RaterAgentID,
		RatedAgentID: chi.URLParam(r, "agentID"),
		AssignmentID: req.AssignmentID,
		Stars:        req.Stars,
		ReviewText:   req.Review,
	}
	if req.Dimensions != nil {
		rating.Dimensions = *req.Dimensions
	}
	agent, err := s.store.Rate(rating)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	observability.Market().RecordRating(req.Stars)
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	view, err := s.store.Reputation(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
