package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rnrl/matchengine/internal/app"
	"github.com/rnrl/matchengine/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// resultStatus maps a domain.Result onto an HTTP status: OK is 200,
// NotFound is 404, Unauthorized is 403, the validation-class codes
// (Validation, AdHocLocationInvalid, InvalidPair) are 400, and every
// other rejection code is 409 (spec §7's "anticipated business
// rejection" are not server errors).
func resultStatus(res domain.Result) int {
	if res.IsOK() {
		return http.StatusOK
	}
	switch res.Code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeValidation, domain.CodeAdHocLocationInvalid, domain.CodeInvalidPair:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

type createRequirementRequest struct {
	BuyerID               string                     `json:"buyer_id"`
	CommodityID           string                     `json:"commodity_id"`
	Quantity              float64                    `json:"quantity"`
	Unit                  string                     `json:"unit"`
	TargetPrice           float64                    `json:"target_price"`
	MaxPrice              *float64                   `json:"max_price,omitempty"`
	DeliveryLocations     []domain.Location          `json:"delivery_locations"`
	AcceptedQualityParams map[string]domain.QualityRange `json:"accepted_quality_params"`
	ValidUntil            time.Time                  `json:"valid_until"`
	IdempotencyKey        string                     `json:"idempotency_key"`
}

func (s *Server) handleCreateRequirement(w http.ResponseWriter, r *http.Request) {
	var req createRequirementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, res, err := s.app.CreateRequirement(r.Context(), app.CreateRequirementCommand{
		BuyerID:               req.BuyerID,
		CommodityID:           req.CommodityID,
		Quantity:              req.Quantity,
		Unit:                  req.Unit,
		TargetPrice:           req.TargetPrice,
		MaxPrice:              req.MaxPrice,
		DeliveryLocations:     req.DeliveryLocations,
		AcceptedQualityParams: req.AcceptedQualityParams,
		ValidUntil:            req.ValidUntil,
		IdempotencyKey:        req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.IsOK() {
		writeJSON(w, resultStatus(res), res)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type createAvailabilityRequest struct {
	SellerID       string             `json:"seller_id"`
	CommodityID    string             `json:"commodity_id"`
	TotalQuantity  float64            `json:"total_quantity"`
	BasePrice      float64            `json:"base_price"`
	Currency       string             `json:"currency"`
	Location       domain.Location    `json:"location"`
	QualityParams  map[string]float64 `json:"quality_params"`
	ValidUntil     time.Time          `json:"valid_until"`
	IdempotencyKey string             `json:"idempotency_key"`
}

func (s *Server) handleCreateAvailability(w http.ResponseWriter, r *http.Request) {
	var req createAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, res, err := s.app.CreateAvailability(r.Context(), app.CreateAvailabilityCommand{
		SellerID:       req.SellerID,
		CommodityID:    req.CommodityID,
		TotalQuantity:  req.TotalQuantity,
		BasePrice:      req.BasePrice,
		Currency:       req.Currency,
		Location:       req.Location,
		QualityParams:  req.QualityParams,
		ValidUntil:     req.ValidUntil,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.IsOK() {
		writeJSON(w, resultStatus(res), res)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	actorID := r.URL.Query().Get("actor_id")
	res, err := s.app.CancelOrder(r.Context(), orderID, actorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, resultStatus(res), res)
}

type startNegotiationRequest struct {
	RequirementID  string       `json:"requirement_id"`
	AvailabilityID string       `json:"availability_id"`
	InitiatorID    string       `json:"initiator_id"`
	Opening        domain.Offer `json:"opening_offer"`
}

func (s *Server) handleStartNegotiation(w http.ResponseWriter, r *http.Request) {
	var req startNegotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, res, err := s.app.StartNegotiation(r.Context(), req.RequirementID, req.AvailabilityID, req.InitiatorID, req.Opening)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.IsOK() {
		writeJSON(w, resultStatus(res), res)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type offerRequest struct {
	ActorID string       `json:"actor_id"`
	Offer   domain.Offer `json:"offer"`
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	negotiationID := chi.URLParam(r, "negotiationID")
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.app.Offer(r.Context(), negotiationID, req.ActorID, req.Offer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, resultStatus(res), res)
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handleActorTransition(w, r, s.app.Accept)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleActorTransition(w, r, s.app.Reject)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleActorTransition(w, r, s.app.Withdraw)
}

func (s *Server) handleActorTransition(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, negotiationID, actorID string) (domain.Result, error)) {
	negotiationID := chi.URLParam(r, "negotiationID")
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := transition(r.Context(), negotiationID, req.ActorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleGetMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	matches, err := s.app.GetMatches(r.Context(), q.Get("requirement_id"), q.Get("availability_id"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

type assessTradeRiskRequest struct {
	RequirementID  string `json:"requirement_id"`
	AvailabilityID string `json:"availability_id"`
}

func (s *Server) handleAssessTradeRisk(w http.ResponseWriter, r *http.Request) {
	var req assessTradeRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.app.AssessTradeRisk(r.Context(), req.RequirementID, req.AvailabilityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
