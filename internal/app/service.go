// Package app implements the §6.1 command interface: the orchestration
// layer that runs the Risk Engine (C3) checks and persists through the
// Entity Store (C1) for every state-changing command, and enqueues the
// resulting domain event via the Outbox (C10) in the same transaction
// as the write. The commands make no Capability Resolver (C2) call;
// capability is resolved per candidate pair by the Match Validator
// (C6) during matching.
//
// Idempotency keys are mandatory for CreateRequirement and
// CreateAvailability: replaying the same key returns the
// already-created entity rather than a duplicate (spec §6.1, §8.2).
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/matching"
	"github.com/rnrl/matchengine/internal/modules/negotiation"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/store"
)

// MatchScheduler is the narrow C7 dependency: a newly-posted order
// that passes C3 is handed to the scheduler for asynchronous
// matching, it is never matched synchronously within the command.
type MatchScheduler interface {
	Enqueue(subjectType matching.SubjectType, subjectID string, priority matching.Priority)
}

// Service implements every command in spec §6.1. It holds no request
// state of its own; every method is safe for concurrent use.
type Service struct {
	store      *store.Store
	capability *capability.Resolver
	risk       *risk.Engine
	matching   MatchScheduler
	negotiation *negotiation.Engine
	log        zerolog.Logger
	clock      func() time.Time
}

func NewService(st *store.Store, cap *capability.Resolver, riskEngine *risk.Engine, scheduler MatchScheduler, negotiationEngine *negotiation.Engine, log zerolog.Logger) *Service {
	return &Service{
		store:       st,
		capability:  cap,
		risk:        riskEngine,
		matching:    scheduler,
		negotiation: negotiationEngine,
		log:         log.With().Str("component", "app").Logger(),
		clock:       time.Now,
	}
}

// CreateRequirementCommand is the §6.1 CreateRequirement input.
type CreateRequirementCommand struct {
	BuyerID               string
	CommodityID           string
	Quantity              float64
	Unit                  string
	TargetPrice           float64
	MaxPrice              *float64
	DeliveryLocations     []domain.Location
	AcceptedQualityParams map[string]domain.QualityRange
	ValidUntil            time.Time
	IdempotencyKey        string
}

// CreateRequirement runs C3 (role, circular-trading, duplicate,
// trade-precheck), persists via C1 and emits RequirementCreated via
// C10, then enqueues the order for matching (spec §6.1, §4.1). It makes
// no C2 capability check; that runs per candidate pair in C6.
func (s *Service) CreateRequirement(ctx context.Context, cmd CreateRequirementCommand) (*domain.Requirement, domain.Result, error) {
	if cmd.IdempotencyKey == "" {
		return nil, domain.Fail(domain.CodeValidation, "idempotency_key is required"), nil
	}
	if existing, err := s.store.Requirements.GetByIdempotencyKey(ctx, cmd.BuyerID, cmd.IdempotencyKey); err == nil {
		return existing, domain.OK(), nil
	} else if err != domain.ErrNotFound {
		return nil, domain.Result{}, err
	}

	buyer, err := s.store.Partners.GetByID(ctx, cmd.BuyerID)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if buyer.Status != domain.PartnerActive {
		return nil, domain.Fail(domain.CodeUnauthorized, "partner is not active"), nil
	}

	if decision := s.risk.ValidateRole(buyer, domain.SideBuy); decision.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeRoleViolation, decision.Reason, "this partner type may not post buy requirements"), nil
	}

	now := s.clock()
	circular, err := s.risk.CheckCircularTrading(ctx, buyer, cmd.CommodityID, domain.SideBuy, now)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if circular.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeCircularTrading, circular.Reason, "wait until the next calendar day to flip sides for this commodity"), nil
	}

	locationIDs := make([]string, 0, len(cmd.DeliveryLocations))
	for _, l := range cmd.DeliveryLocations {
		locationIDs = append(locationIDs, l.LocationID)
	}
	qualityFlat := make(map[string]float64, len(cmd.AcceptedQualityParams))
	for k, v := range cmd.AcceptedQualityParams {
		qualityFlat[k] = v.Min
	}
	dedupHash := store.DedupHash(cmd.Quantity, cmd.TargetPrice, locationIDs, qualityFlat)

	dup, err := s.risk.CheckDuplicate(ctx, domain.SideBuy, cmd.BuyerID, cmd.CommodityID, dedupHash)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if dup.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeDuplicate, dup.Reason, "an identical requirement is already active"), nil
	}

	tradeValue := cmd.Quantity * cmd.TargetPrice
	precheckStatus := s.risk.AssessBuyerRisk(buyer, tradeValue).Status
	var warnings []string
	if precheckStatus != domain.StatusPass {
		warnings = append(warnings, "RISK_PRECHECK_"+string(precheckStatus))
	}

	req := &domain.Requirement{
		BuyerID:               cmd.BuyerID,
		CommodityID:           cmd.CommodityID,
		Quantity:              cmd.Quantity,
		Unit:                  cmd.Unit,
		TargetPrice:           cmd.TargetPrice,
		MaxPrice:              cmd.MaxPrice,
		DeliveryLocations:     cmd.DeliveryLocations,
		AcceptedQualityParams: cmd.AcceptedQualityParams,
		ValidUntil:            cmd.ValidUntil,
		Status:                domain.RequirementActive,
		RiskPrecheckStatus:    precheckStatus,
		DedupHash:             dedupHash,
		IdempotencyKey:        cmd.IdempotencyKey,
	}

	err = s.store.Outbox.WithTx(func(tx *sql.Tx) error {
		if err := s.store.Requirements.Create(ctx, tx, req); err != nil {
			return err
		}
		return s.store.Outbox.EnqueueTx(ctx, tx, events.AggregateRequirement, req.ID, &events.RequirementCreatedData{
			RequirementID: req.ID,
			BuyerID:       req.BuyerID,
			CommodityID:   req.CommodityID,
			Quantity:      req.Quantity,
			TargetPrice:   req.TargetPrice,
		})
	})
	if err == domain.ErrUniqueViolation {
		return nil, domain.Fail(domain.CodeDuplicate, "an identical requirement is already active"), nil
	}
	if err != nil {
		return nil, domain.Result{}, err
	}

	if s.matching != nil {
		s.matching.Enqueue(matching.SubjectRequirement, req.ID, matching.PriorityHigh)
	}

	return req, domain.OK(warnings...), nil
}

// CreateAvailabilityCommand is the §6.1 CreateAvailability input.
type CreateAvailabilityCommand struct {
	SellerID       string
	CommodityID    string
	TotalQuantity  float64
	BasePrice      float64
	Currency       string
	Location       domain.Location
	QualityParams  map[string]float64
	ValidUntil     time.Time
	IdempotencyKey string
}

// CreateAvailability is the symmetric sell-side command (spec §6.1).
func (s *Service) CreateAvailability(ctx context.Context, cmd CreateAvailabilityCommand) (*domain.Availability, domain.Result, error) {
	if cmd.IdempotencyKey == "" {
		return nil, domain.Fail(domain.CodeValidation, "idempotency_key is required"), nil
	}
	if !cmd.Location.IsAdHoc() && cmd.Location.Address != "" {
		return nil, domain.Fail(domain.CodeAdHocLocationInvalid, "location must be either a registered id or an ad-hoc descriptor, not both"), nil
	}
	if cmd.Location.IsAdHoc() && cmd.Location.Address == "" && cmd.Location.Lat == 0 && cmd.Location.Lng == 0 {
		return nil, domain.Fail(domain.CodeAdHocLocationInvalid, "ad-hoc location requires address or coordinates"), nil
	}

	if existing, err := s.store.Availabilities.GetByIdempotencyKey(ctx, cmd.SellerID, cmd.IdempotencyKey); err == nil {
		return existing, domain.OK(), nil
	} else if err != domain.ErrNotFound {
		return nil, domain.Result{}, err
	}

	seller, err := s.store.Partners.GetByID(ctx, cmd.SellerID)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if seller.Status != domain.PartnerActive {
		return nil, domain.Fail(domain.CodeUnauthorized, "partner is not active"), nil
	}

	if decision := s.risk.ValidateRole(seller, domain.SideSell); decision.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeRoleViolation, decision.Reason, "this partner type may not post sell availabilities"), nil
	}

	now := s.clock()
	circular, err := s.risk.CheckCircularTrading(ctx, seller, cmd.CommodityID, domain.SideSell, now)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if circular.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeCircularTrading, circular.Reason, "wait until the next calendar day to flip sides for this commodity"), nil
	}

	var locationIDs []string
	if !cmd.Location.IsAdHoc() {
		locationIDs = []string{cmd.Location.LocationID}
	}
	dedupHash := store.DedupHash(cmd.TotalQuantity, cmd.BasePrice, locationIDs, cmd.QualityParams)

	dup, err := s.risk.CheckDuplicate(ctx, domain.SideSell, cmd.SellerID, cmd.CommodityID, dedupHash)
	if err != nil {
		return nil, domain.Result{}, err
	}
	if dup.Status == domain.StatusFail {
		return nil, domain.FailHint(domain.CodeDuplicate, dup.Reason, "an identical availability is already active"), nil
	}

	av := &domain.Availability{
		SellerID:       cmd.SellerID,
		CommodityID:    cmd.CommodityID,
		TotalQuantity:  cmd.TotalQuantity,
		BasePrice:      cmd.BasePrice,
		Currency:       cmd.Currency,
		Location:       cmd.Location,
		QualityParams:  cmd.QualityParams,
		ValidUntil:     cmd.ValidUntil,
		Status:         domain.AvailabilityAvailable,
		DedupHash:      dedupHash,
		IdempotencyKey: cmd.IdempotencyKey,
	}

	err = s.store.Outbox.WithTx(func(tx *sql.Tx) error {
		if err := s.store.Availabilities.Create(ctx, tx, av); err != nil {
			return err
		}
		return s.store.Outbox.EnqueueTx(ctx, tx, events.AggregateAvailability, av.ID, &events.AvailabilityCreatedData{
			AvailabilityID: av.ID,
			SellerID:       av.SellerID,
			CommodityID:    av.CommodityID,
			TotalQuantity:  av.TotalQuantity,
			BasePrice:      av.BasePrice,
		})
	})
	if err == domain.ErrUniqueViolation {
		return nil, domain.Fail(domain.CodeDuplicate, "an identical availability is already active"), nil
	}
	if err != nil {
		return nil, domain.Result{}, err
	}

	if s.matching != nil {
		s.matching.Enqueue(matching.SubjectAvailability, av.ID, matching.PriorityHigh)
	}

	return av, domain.OK(), nil
}

// CancelOrder cancels a Requirement or an Availability on behalf of
// actorID, who must be its owner (spec §6.1). It tries both order
// types since the command only carries an opaque order id.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID string) (domain.Result, error) {
	if req, err := s.store.Requirements.GetByID(ctx, orderID); err == nil {
		if req.BuyerID != actorID {
			return domain.Fail(domain.CodeUnauthorized, "actor does not own this requirement"), nil
		}
		if !req.IsOpen() {
			return domain.Fail(domain.CodeAlreadyTerminal, "requirement is already terminal"), nil
		}
		err = s.store.Outbox.WithTx(func(tx *sql.Tx) error {
			if err := s.store.Requirements.UpdateStatusTx(ctx, tx, orderID, domain.RequirementCancelled, req.Version); err != nil {
				return err
			}
			return s.store.Outbox.EnqueueTx(ctx, tx, events.AggregateRequirement, orderID, &events.RequirementCancelledData{
				RequirementID: orderID, ActorID: actorID,
			})
		})
		if err == domain.ErrConflict {
			return domain.Fail(domain.CodeConflict, "requirement was updated concurrently"), nil
		}
		if err != nil {
			return domain.Result{}, err
		}
		return domain.OK(), nil
	} else if err != domain.ErrNotFound {
		return domain.Result{}, err
	}

	av, err := s.store.Availabilities.GetByID(ctx, orderID)
	if err != nil {
		if err == domain.ErrNotFound {
			return domain.Fail(domain.CodeNotFound, "no order with this id"), nil
		}
		return domain.Result{}, err
	}
	if av.SellerID != actorID {
		return domain.Fail(domain.CodeUnauthorized, "actor does not own this availability"), nil
	}
	if !av.IsOpen() {
		return domain.Fail(domain.CodeAlreadyTerminal, "availability is already terminal"), nil
	}
	err = s.store.Outbox.WithTx(func(tx *sql.Tx) error {
		if err := s.store.Availabilities.UpdateStatusTx(ctx, tx, orderID, domain.AvailabilityCancelled, av.Version); err != nil {
			return err
		}
		return s.store.Outbox.EnqueueTx(ctx, tx, events.AggregateAvailability, orderID, &events.AvailabilityCancelledData{
			AvailabilityID: orderID, ActorID: actorID,
		})
	})
	if err == domain.ErrConflict {
		return domain.Fail(domain.CodeConflict, "availability was updated concurrently"), nil
	}
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(), nil
}

// StartNegotiation authorises and starts a Negotiation rooted at the
// given (requirement, availability) pair (spec §6.1, §4.9).
func (s *Service) StartNegotiation(ctx context.Context, requirementID, availabilityID, initiatorID string, opening domain.Offer) (*domain.Negotiation, domain.Result, error) {
	req, err := s.store.Requirements.GetByID(ctx, requirementID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, domain.Fail(domain.CodeNotFound, "requirement not found"), nil
		}
		return nil, domain.Result{}, err
	}
	av, err := s.store.Availabilities.GetByID(ctx, availabilityID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, domain.Fail(domain.CodeNotFound, "availability not found"), nil
		}
		return nil, domain.Result{}, err
	}
	if req.CommodityID != av.CommodityID {
		return nil, domain.Fail(domain.CodeInvalidPair, "requirement and availability commodities do not match"), nil
	}
	return s.negotiation.Start(ctx, req, av, initiatorID, opening)
}

// Offer, Accept, Reject and Withdraw delegate to the C9 state
// machine after checking the actor is party to the negotiation (spec
// §4.9's authorisation/isolation rule: external users may access
// only negotiations in which they are buyer or seller).
func (s *Service) Offer(ctx context.Context, negotiationID, actorID string, offer domain.Offer) (domain.Result, error) {
	negotiationRecord, err := s.store.Negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		if err == domain.ErrNotFound {
			return domain.Fail(domain.CodeNotFound, "negotiation not found"), nil
		}
		return domain.Result{}, err
	}
	actor, ok := s.partyRole(negotiationRecord, actorID)
	if !ok {
		return domain.Fail(domain.CodeUnauthorized, "actor is not party to this negotiation"), nil
	}
	return s.negotiation.Offer(ctx, negotiationID, actor, offer)
}

func (s *Service) Accept(ctx context.Context, negotiationID, actorID string) (domain.Result, error) {
	negotiationRecord, err := s.store.Negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		if err == domain.ErrNotFound {
			return domain.Fail(domain.CodeNotFound, "negotiation not found"), nil
		}
		return domain.Result{}, err
	}
	actor, ok := s.partyRole(negotiationRecord, actorID)
	if !ok {
		return domain.Fail(domain.CodeUnauthorized, "actor is not party to this negotiation"), nil
	}
	return s.negotiation.Accept(ctx, negotiationID, actor)
}

func (s *Service) Reject(ctx context.Context, negotiationID, actorID string) (domain.Result, error) {
	negotiationRecord, err := s.store.Negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		if err == domain.ErrNotFound {
			return domain.Fail(domain.CodeNotFound, "negotiation not found"), nil
		}
		return domain.Result{}, err
	}
	actor, ok := s.partyRole(negotiationRecord, actorID)
	if !ok {
		return domain.Fail(domain.CodeUnauthorized, "actor is not party to this negotiation"), nil
	}
	return s.negotiation.Reject(ctx, negotiationID, actor)
}

func (s *Service) Withdraw(ctx context.Context, negotiationID, actorID string) (domain.Result, error) {
	negotiationRecord, err := s.store.Negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		if err == domain.ErrNotFound {
			return domain.Fail(domain.CodeNotFound, "negotiation not found"), nil
		}
		return domain.Result{}, err
	}
	if _, ok := s.partyRole(negotiationRecord, actorID); !ok {
		return domain.Fail(domain.CodeUnauthorized, "actor is not party to this negotiation"), nil
	}
	return s.negotiation.Withdraw(ctx, negotiationID, actorID)
}

func (s *Service) partyRole(n *domain.Negotiation, actorID string) (domain.Actor, bool) {
	switch actorID {
	case n.BuyerID:
		return domain.ActorBuyer, true
	case n.SellerID:
		return domain.ActorSeller, true
	default:
		return "", false
	}
}

// GetMatches lists Matches for either a Requirement or an
// Availability, paginated (spec §6.1).
func (s *Service) GetMatches(ctx context.Context, requirementID, availabilityID string, limit, offset int) ([]domain.Match, error) {
	if requirementID != "" {
		return s.store.Matches.ListByRequirement(ctx, requirementID, limit, offset)
	}
	return s.store.Matches.ListByAvailability(ctx, availabilityID, limit, offset)
}

// AssessTradeRisk runs the C3 bilateral trade-risk assessment for an
// existing (requirement, availability) pair (spec §6.1).
func (s *Service) AssessTradeRisk(ctx context.Context, requirementID, availabilityID string) (risk.TradeRiskResult, error) {
	req, err := s.store.Requirements.GetByID(ctx, requirementID)
	if err != nil {
		return risk.TradeRiskResult{}, err
	}
	av, err := s.store.Availabilities.GetByID(ctx, availabilityID)
	if err != nil {
		return risk.TradeRiskResult{}, err
	}
	buyer, err := s.store.Partners.GetByID(ctx, req.BuyerID)
	if err != nil {
		return risk.TradeRiskResult{}, err
	}
	seller, err := s.store.Partners.GetByID(ctx, av.SellerID)
	if err != nil {
		return risk.TradeRiskResult{}, err
	}
	commodity, err := s.store.Commodities.GetByID(ctx, req.CommodityID)
	if err != nil {
		return risk.TradeRiskResult{}, err
	}
	tradeValue := av.BasePrice * req.Quantity
	return s.risk.AssessTradeRisk(ctx, buyer, seller, av, commodity, tradeValue)
}

var _ MatchScheduler = (*matching.Engine)(nil)
