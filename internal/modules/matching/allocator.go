package matching

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
	"github.com/rnrl/matchengine/internal/modules/scoring"
)

// duplicateWindow and duplicateSimilarity back the 5-minute /
// 95%-similarity duplicate-match suppression rule (spec §4.7 step 5).
const (
	duplicateWindow     = 5 * time.Minute
	duplicateSimilarity = 0.95
)

// PartnerReader, CommodityReader and the *store.Tx-shaped
// requirement/availability/match interfaces below are the narrow
// dependencies the Matching Engine needs from the Entity Store (C1).
type PartnerReader interface {
	GetByID(ctx context.Context, id string) (*domain.Partner, error)
}

type CommodityReader interface {
	GetByID(ctx context.Context, id string) (*domain.Commodity, error)
}

type RequirementStore interface {
	GetByID(ctx context.Context, id string) (*domain.Requirement, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.RequirementStatus, expectedVersion int) error
}

type AvailabilityStore interface {
	GetByID(ctx context.Context, id string) (*domain.Availability, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Availability, error)
	AllocateTx(ctx context.Context, tx *sql.Tx, id string, allocate, newRemaining float64, newStatus domain.AvailabilityStatus, expectedVersion int) error
}

type MatchStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, m *domain.Match) error
	HasActivePair(ctx context.Context, requirementID, availabilityID string) (bool, error)
	RecentSimilarScores(ctx context.Context, requirementID, buyerID, sellerID string, since time.Time) ([]float64, error)
	ListByRequirement(ctx context.Context, requirementID string, limit, offset int) ([]domain.Match, error)
}

// OutboxWriter is the narrow C10 write-side dependency.
type OutboxWriter interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, aggregateType events.AggregateType, aggregateID string, event events.EventData) error
}

// TxRunner wraps one database transaction; *store.OutboxRepository
// already implements it (spec §8.1.6's "mutation and its OutboxRecord
// commit in one transaction").
type TxRunner interface {
	WithTx(fn func(tx *sql.Tx) error) error
}

// candidate is one scored, validated (requirement, availability) pair
// awaiting allocation.
type candidate struct {
	availability domain.Availability
	seller       *domain.Partner
	result       scoring.Result
	riskStatus   domain.Status
	warnings     []string
}

// allocatedQuantityFor sums the allocated quantity of every
// still-active Match against requirementID, so the engine knows how
// much of the requirement remains uncovered.
func allocatedQuantityFor(ctx context.Context, matches MatchStore, requirementID string) (float64, error) {
	ms, err := matches.ListByRequirement(ctx, requirementID, 1000, 0)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, m := range ms {
		if isActiveMatch(m.Status) {
			total += m.AllocatedQuantity
		}
	}
	return total, nil
}

func isActiveMatch(s domain.MatchStatus) bool {
	for _, active := range domain.ActiveMatchStatuses {
		if s == active {
			return true
		}
	}
	return s == domain.MatchConcluded
}

// evaluateCandidate runs C6 validation and C5 scoring for one
// (requirement, availability) pair, returning nil when the pair is
// invalid, below the commodity's minimum score, or duplicate-matched
// within the last 5 minutes (spec §4.6, §4.7 step 3-5).
func (e *Engine) evaluateCandidate(ctx context.Context, req *domain.Requirement, av *domain.Availability, buyer *domain.Partner, commodity *domain.Commodity, now time.Time) (*candidate, error) {
	active, err := e.matches.HasActivePair(ctx, req.ID, av.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, nil
	}

	seller, err := e.partners.GetByID(ctx, av.SellerID)
	if err != nil {
		return nil, err
	}

	validation, err := e.validator.Validate(ctx, req, av, buyer, seller, commodity, nil)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, nil
	}

	deliveryScore, err := e.locations.DeliveryScoreFor(ctx, req.DeliveryLocations, av.Location)
	if err != nil {
		return nil, err
	}

	riskStatus := domain.Worst(validation.CapabilityBuyer.Status, validation.CapabilitySeller.Status)
	riskStatus = domain.Worst(riskStatus, validation.PartyLinks.Status)
	riskStatus = domain.Worst(riskStatus, validation.TradeRisk.Status)

	config := e.scoringConfig.ConfigFor(commodity.ID)
	result := scoring.Score(scoring.Input{
		Quality: scoring.QualityInput{
			Accepted: req.AcceptedQualityParams,
			Reported: av.QualityParams,
		},
		TargetPrice:   req.TargetPrice,
		OfferedPrice:  av.BasePrice,
		DeliveryScore: deliveryScore,
		RiskStatus:    riskStatus,
		AIRecommended: containsSeller(av.AIRecommendedSellers, seller.ID),
		Config:        config,
	})
	if result.Composite < config.MinScore {
		return nil, nil
	}

	recent, err := e.matches.RecentSimilarScores(ctx, req.ID, buyer.ID, seller.ID, now.Add(-duplicateWindow))
	if err != nil {
		return nil, err
	}
	for _, prior := range recent {
		if scoreSimilarity(prior, result.Composite) >= duplicateSimilarity {
			return nil, nil
		}
	}

	return &candidate{
		availability: *av,
		seller:       seller,
		result:       result,
		riskStatus:   riskStatus,
		warnings:     validation.Warnings,
	}, nil
}

func scoreSimilarity(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	diff := math.Abs(a - b)
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 1
	}
	return 1 - diff/denom
}

func containsSeller(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// rankCandidates sorts by score descending, then by the
// availability's created_at ascending (spec §4.7 step 4: "oldest
// order wins ties"), and truncates to topN.
func rankCandidates(candidates []candidate, topN int) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && less(sorted[j], sorted[j-1]) {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}
	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

func less(a, b candidate) bool {
	if a.result.Composite != b.result.Composite {
		return a.result.Composite > b.result.Composite
	}
	return a.availability.CreatedAt.Before(b.availability.CreatedAt)
}

// pairCandidate is one scored (requirement, availability) pair from
// the availability-initiated direction, where the availability is
// fixed and the requirement varies.
type pairCandidate struct {
	requirement domain.Requirement
	candidate   candidate
}

// rankPairs sorts by score descending, then by the requirement's
// created_at ascending (oldest buy order wins ties), truncated to topN.
func rankPairs(pairs []pairCandidate, topN int) []pairCandidate {
	sorted := make([]pairCandidate, len(pairs))
	copy(sorted, pairs)
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && lessPair(sorted[j], sorted[j-1]) {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}
	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

func lessPair(a, b pairCandidate) bool {
	if a.candidate.result.Composite != b.candidate.result.Composite {
		return a.candidate.result.Composite > b.candidate.result.Composite
	}
	return a.requirement.CreatedAt.Before(b.requirement.CreatedAt)
}

// allocate atomically allocates min(requirement's uncovered
// quantity, availability's remaining quantity) against cand, retrying
// on an optimistic-concurrency conflict up to e.config.AllocationRetries
// times by re-reading the row inside a fresh transaction (spec §4.7
// step 6, §7's "Write Conflict" category).
func (e *Engine) allocate(ctx context.Context, req *domain.Requirement, cand candidate, uncovered float64) (*domain.Match, error) {
	var result *domain.Match
	var lastErr error

	attempts := e.config.AllocationRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := e.txRunner.WithTx(func(tx *sql.Tx) error {
			av, err := e.availabilities.GetForUpdateTx(ctx, tx, cand.availability.ID)
			if err != nil {
				return err
			}
			if !av.IsOpen() || av.RemainingQuantity <= 0 {
				return domain.ErrConflict
			}

			allocateQty := math.Min(uncovered, av.RemainingQuantity)
			newRemaining := av.RemainingQuantity - allocateQty
			newStatus := domain.AvailabilityPartiallySold
			if newRemaining <= 0 {
				newStatus = domain.AvailabilitySoldOut
			}
			if err := e.availabilities.AllocateTx(ctx, tx, av.ID, allocateQty, newRemaining, newStatus, av.Version); err != nil {
				return err
			}

			totalAllocated, err := allocatedQuantityFor(ctx, e.matches, req.ID)
			if err != nil {
				return err
			}
			newReqStatus := domain.RequirementPartiallyFulfilled
			if totalAllocated+allocateQty >= req.Quantity {
				newReqStatus = domain.RequirementFulfilled
			}
			if err := e.requirements.UpdateStatusTx(ctx, tx, req.ID, newReqStatus, req.Version); err != nil {
				return err
			}

			match := &domain.Match{
				RequirementID:     req.ID,
				AvailabilityID:    av.ID,
				BuyerID:           req.BuyerID,
				SellerID:          av.SellerID,
				AllocatedQuantity: allocateQty,
				Score:             cand.result.Composite,
				ScoreBreakdown:    cand.result.Breakdown,
				RiskDecision:      cand.riskStatus,
				RiskDetails:       map[string]any{"warnings": cand.warnings},
				Status:            domain.MatchProposed,
			}
			if err := e.matches.CreateTx(ctx, tx, match); err != nil {
				return err
			}

			if err := e.outbox.EnqueueTx(ctx, tx, events.AggregateMatch, match.ID, &events.MatchProposedData{
				MatchID:        match.ID,
				RequirementID:  match.RequirementID,
				AvailabilityID: match.AvailabilityID,
				BuyerID:        match.BuyerID,
				SellerID:       match.SellerID,
				Score:          match.Score,
				RiskDecision:   string(match.RiskDecision),
			}); err != nil {
				return err
			}

			result = match
			return nil
		})

		if err == nil {
			return result, nil
		}
		if err != domain.ErrConflict {
			return nil, err
		}
		lastErr = err

		refreshed, rerr := e.requirements.GetByID(ctx, req.ID)
		if rerr != nil {
			return nil, rerr
		}
		req = refreshed
	}
	return nil, lastErr
}
