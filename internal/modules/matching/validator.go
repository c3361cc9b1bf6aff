// Package matching implements the Match Validator (C6) and the
// Matching Engine (C7): candidate discovery, fail-fast validation,
// scoring, ranking and atomic allocation (spec §4.6, §4.7).
package matching

import (
	"context"
	"time"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/risk"
)

// defaultPartialFillThreshold is the minimum fraction of a
// requirement's quantity an availability must be able to cover to
// pass the hard-requirements check, absent a commodity-specific
// override (spec §4.6.1).
const defaultPartialFillThreshold = 0.0

// defaultAdvisoryConfidenceThreshold mirrors scoring's constant; C6
// warns when AI advisory confidence falls below it (spec §4.6.5).
const defaultAdvisoryConfidenceThreshold = 0.6

// defaultAISuggestedPriceTolerance mirrors scoring's constant.
const defaultAISuggestedPriceTolerance = 0.10

// ValidationResult is the outcome of running the C6 validator chain.
type ValidationResult struct {
	Valid            bool
	Reasons          []string
	Warnings         []string
	CapabilityBuyer  domain.Decision
	CapabilitySeller domain.Decision
	PartyLinks       domain.Decision
	TradeRisk        risk.TradeRiskResult
}

// Validator runs the fail-fast C6 chain: hard requirements,
// capability (both sides), insider-trading, party-links, AI advisory.
type Validator struct {
	capability *capability.Resolver
	risk       *risk.Engine
	clock      func() time.Time
}

func NewValidator(cap *capability.Resolver, riskEngine *risk.Engine) *Validator {
	return &Validator{capability: cap, risk: riskEngine, clock: time.Now}
}

// Validate runs the chain over one (requirement, availability,
// buyer, seller, commodity) candidate tuple. AdvisoryConfidence is
// the AI advisory's confidence for this pairing, if any (nil when no
// advisory signal applies).
func (v *Validator) Validate(ctx context.Context, req *domain.Requirement, av *domain.Availability, buyer, seller *domain.Partner, commodity *domain.Commodity, advisoryConfidence *float64) (ValidationResult, error) {
	var result ValidationResult

	// 1. Hard requirements.
	if req.CommodityID != av.CommodityID {
		return fail(result, "COMMODITY_MISMATCH"), nil
	}
	now := v.clock()
	if !req.IsOpen() || req.ValidUntil.Before(now) {
		return fail(result, "REQUIREMENT_NOT_ACTIVE"), nil
	}
	if !av.IsOpen() || av.ValidUntil.Before(now) {
		return fail(result, "AVAILABILITY_NOT_ACTIVE"), nil
	}
	minCoverage := req.Quantity * (1 - defaultPartialFillThreshold)
	if av.RemainingQuantity < minOf(req.Quantity, minCoverage) {
		return fail(result, "INSUFFICIENT_QUANTITY"), nil
	}
	if req.MaxPrice != nil && av.BasePrice > *req.MaxPrice {
		return fail(result, "PRICE_ABOVE_MAX"), nil
	}

	// 2. Capability validation via C2 on both sides.
	result.CapabilityBuyer = v.capability.Resolve(ctx, buyer, domain.SideBuy, seller.PrimaryCountry, commodity)
	if result.CapabilityBuyer.Status == domain.StatusFail {
		return fail(result, result.CapabilityBuyer.Code), nil
	}
	result.CapabilitySeller = v.capability.Resolve(ctx, seller, domain.SideSell, buyer.PrimaryCountry, commodity)
	if result.CapabilitySeller.Status == domain.StatusFail {
		return fail(result, result.CapabilitySeller.Code), nil
	}
	if result.CapabilityBuyer.Status == domain.StatusWarn {
		result.Warnings = append(result.Warnings, result.CapabilityBuyer.Code)
	}
	if result.CapabilitySeller.Status == domain.StatusWarn {
		result.Warnings = append(result.Warnings, result.CapabilitySeller.Code)
	}

	// 3. Insider-trading / internal-branch check (spec §4.6.3, §3.3.5).
	if branch := v.risk.CheckInternalBranch(buyer, seller); branch.Status == domain.StatusFail {
		return fail(result, branch.Code), nil
	}

	// 4. Party-links via C3.
	links, err := v.risk.CheckPartyLinks(ctx, buyer, seller)
	if err != nil {
		return ValidationResult{}, err
	}
	result.PartyLinks = links
	if links.Status == domain.StatusFail {
		return fail(result, links.Code), nil
	}
	if links.Status == domain.StatusWarn {
		result.Warnings = append(result.Warnings, links.Code)
	}

	// 5. AI advisory (warnings only; never blocks, spec §4.6.5).
	if req.AIBudgetFlag {
		result.Warnings = append(result.Warnings, "AI_BUDGET_UNREALISTIC")
	}
	if av.AISuggestedMaxPrice != nil && av.BasePrice > *av.AISuggestedMaxPrice*(1+defaultAISuggestedPriceTolerance) {
		result.Warnings = append(result.Warnings, "AI_PRICE_ABOVE_SUGGESTED")
	}
	if advisoryConfidence != nil && *advisoryConfidence < defaultAdvisoryConfidenceThreshold {
		result.Warnings = append(result.Warnings, "AI_LOW_CONFIDENCE")
	}

	// 6. Bilateral trade risk via C3: partner scores, party links,
	// internal-branch and the international sub-flow folded into one
	// decision (spec §4.3.6, §8.1.4 — no Match may carry a FAIL).
	tradeValue := av.BasePrice * req.Quantity
	tradeRisk, err := v.risk.AssessTradeRisk(ctx, buyer, seller, av, commodity, tradeValue)
	if err != nil {
		return ValidationResult{}, err
	}
	result.TradeRisk = tradeRisk
	if tradeRisk.Status == domain.StatusFail {
		return fail(result, tradeRisk.Code), nil
	}
	if tradeRisk.Status == domain.StatusWarn {
		result.Warnings = append(result.Warnings, tradeRisk.International.Warnings...)
	}

	result.Valid = true
	return result, nil
}

func fail(result ValidationResult, reason string) ValidationResult {
	result.Valid = false
	result.Reasons = append(result.Reasons, reason)
	return result
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
