// Package risk implements the Risk Engine (C3): role validation,
// circular-trading and duplicate detection, partner risk scoring,
// party-links and trade-risk assessment, exposure monitoring and a
// rule-based default-risk fallback (spec §4.3).
package risk

import (
	"context"
	"time"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/scoring"
	"github.com/rnrl/matchengine/internal/store"
)

// SameDayOrderFinder backs check_circular_trading: does the partner
// already hold an open opposite-side order for this commodity today.
type SameDayOrderFinder interface {
	FindOpenOrdersSameDay(ctx context.Context, partnerID, commodityID string, date time.Time) (bool, error)
}

// PartnerLinker backs check_party_links.
type PartnerLinker interface {
	FindPartnerLinks(ctx context.Context, p *domain.Partner) (*store.PartnerLinks, error)
}

// DuplicateChecker backs check_duplicate: a pre-flight read ahead of
// the unique partial index that enforces the dedup key at write time.
type DuplicateChecker interface {
	ExistsByDedupHash(ctx context.Context, partnerID, commodityID, dedupHash string) (bool, error)
}

// CapabilityChecker is C3's narrow view of the Capability Resolver
// (C2): the international sub-flow delegates its sanctions and
// export/import license checks there rather than duplicating them
// (spec §4.3, §4.2).
type CapabilityChecker interface {
	Resolve(ctx context.Context, partner *domain.Partner, side domain.Side, tradeCountry string, commodity *domain.Commodity) domain.Decision
}

// Engine evaluates risk decisions over partners and trades.
type Engine struct {
	requirementOrders  SameDayOrderFinder
	availabilityOrders SameDayOrderFinder
	links              PartnerLinker
	requirementDedup   DuplicateChecker
	availabilityDedup  DuplicateChecker
	capability         CapabilityChecker
	clock              func() time.Time
}

func NewEngine(requirementOrders, availabilityOrders SameDayOrderFinder, links PartnerLinker, requirementDedup, availabilityDedup DuplicateChecker, capability CapabilityChecker) *Engine {
	return &Engine{
		requirementOrders:  requirementOrders,
		availabilityOrders: availabilityOrders,
		links:              links,
		requirementDedup:   requirementDedup,
		availabilityDedup:  availabilityDedup,
		capability:         capability,
		clock:              time.Now,
	}
}

// CheckDuplicate returns FAIL when an open order from `partnerID` on
// `commodityID` already carries the same dedup hash (spec §3.3.4,
// §4.3.3). The unique partial index is the actual enforcement point;
// this is the pre-flight check that lets a caller fail fast with a
// Result instead of a constraint-violation error.
func (e *Engine) CheckDuplicate(ctx context.Context, side domain.Side, partnerID, commodityID, dedupHash string) (domain.Decision, error) {
	checker := e.requirementDedup
	if side == domain.SideSell {
		checker = e.availabilityDedup
	}
	exists, err := checker.ExistsByDedupHash(ctx, partnerID, commodityID, dedupHash)
	if err != nil {
		return domain.Decision{}, err
	}
	if exists {
		return domain.FailDecision("DUPLICATE_ORDER", "an open order with identical terms already exists"), nil
	}
	return domain.Pass("NOT_DUPLICATE"), nil
}

// ValidateRole enforces invariant §3.3.6: BUYER partners may not hold
// open SELL availabilities; SELLER partners may not hold open BUY
// requirements. TRADER always passes here; the same-day opposite-side
// guard is CheckCircularTrading's job.
func (e *Engine) ValidateRole(partner *domain.Partner, side domain.Side) domain.Decision {
	switch {
	case partner.PartnerType == domain.PartnerTrader:
		return domain.Pass("ROLE_OK")
	case partner.PartnerType == domain.PartnerBuyer && side == domain.SideSell:
		return domain.FailDecision("ROLE_VIOLATION", "BUYER partners may not post SELL availabilities")
	case partner.PartnerType == domain.PartnerSeller && side == domain.SideBuy:
		return domain.FailDecision("ROLE_VIOLATION", "SELLER partners may not post BUY requirements")
	default:
		return domain.Pass("ROLE_OK")
	}
}

// CheckCircularTrading queries for an open opposite-side order from
// `partner` on `commodity` on `date`; FAIL if present. Cross-day
// flips (BUY day D, SELL day D+1) are allowed (spec §4.3.2, §8.3).
func (e *Engine) CheckCircularTrading(ctx context.Context, partner *domain.Partner, commodityID string, side domain.Side, date time.Time) (domain.Decision, error) {
	if partner.PartnerType != domain.PartnerTrader {
		return domain.Pass("NOT_TRADER"), nil
	}
	var opposite bool
	var err error
	if side == domain.SideBuy {
		opposite, err = e.availabilityOrders.FindOpenOrdersSameDay(ctx, partner.ID, commodityID, date)
	} else {
		opposite, err = e.requirementOrders.FindOpenOrdersSameDay(ctx, partner.ID, commodityID, date)
	}
	if err != nil {
		return domain.Decision{}, err
	}
	if opposite {
		return domain.FailDecision("CIRCULAR_TRADING", "opposite-side order already open today for this commodity"), nil
	}
	return domain.Pass("NO_CIRCULAR_TRADING"), nil
}

// AssessPartnerRisk scores a partner on [0,100] as a weighted sum of
// credit headroom, rating and a caller-supplied performance
// dimension (payment_performance for buyers, delivery_performance
// for sellers), mapped to PASS/WARN/FAIL bands (spec §4.3.4).
func (e *Engine) AssessPartnerRisk(partner *domain.Partner, tradeValue, performance float64) Assessment {
	creditComponent := creditWeight * 100 * creditFit(partner, tradeValue)
	ratingComponent := ratingWeight * 100 * clamp01(partner.Rating/5.0)
	performanceComponent := performanceWeight * 100 * clamp01(performance/100.0)

	score := round3(creditComponent + ratingComponent + performanceComponent)

	return Assessment{
		Score:  score,
		Status: statusForScore(score),
		Components: map[string]float64{
			"credit":      round3(creditComponent),
			"rating":      round3(ratingComponent),
			"performance": round3(performanceComponent),
		},
	}
}

// AssessBuyerRisk specialises AssessPartnerRisk with payment
// performance.
func (e *Engine) AssessBuyerRisk(buyer *domain.Partner, tradeValue float64) Assessment {
	return e.AssessPartnerRisk(buyer, tradeValue, buyer.PaymentPerformance)
}

// AssessSellerRisk specialises AssessPartnerRisk with delivery
// performance.
func (e *Engine) AssessSellerRisk(seller *domain.Partner, tradeValue float64) Assessment {
	return e.AssessPartnerRisk(seller, tradeValue, seller.DeliveryPerformance)
}

// creditFit scores how comfortably a partner's headroom covers
// tradeValue: full marks at 2x headroom-to-trade, tapering to 0 when
// headroom can't cover the trade at all.
func creditFit(p *domain.Partner, tradeValue float64) float64 {
	if tradeValue <= 0 {
		return 1.0
	}
	headroom := p.CreditHeadroom()
	ratio := headroom / tradeValue
	return clamp01(ratio / 2.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func statusForScore(score float64) domain.Status {
	switch {
	case score >= passThreshold:
		return domain.StatusPass
	case score >= warnThreshold:
		return domain.StatusWarn
	default:
		return domain.StatusFail
	}
}

// Assessment is a scored risk outcome with its component breakdown.
type Assessment struct {
	Score      float64
	Status     domain.Status
	Components map[string]float64
}

// CheckPartyLinks FAILs on a shared national_id or tax_id, WARNs on a
// shared mobile number or corporate email domain. Severities are
// fixed (spec §4.3.5).
func (e *Engine) CheckPartyLinks(ctx context.Context, buyer, seller *domain.Partner) (domain.Decision, error) {
	links, err := e.links.FindPartnerLinks(ctx, buyer)
	if err != nil {
		return domain.Decision{}, err
	}
	if containsID(links.SameNationalID, seller.ID) {
		return domain.FailDecision("SAME_PAN", "buyer and seller share a national id"), nil
	}
	if containsID(links.SameTaxID, seller.ID) {
		return domain.FailDecision("SAME_TAX_ID", "buyer and seller share a tax id"), nil
	}
	if containsID(links.SameMobile, seller.ID) {
		return domain.Warn("SAME_MOBILE", "buyer and seller share a mobile number"), nil
	}
	if containsID(links.SameEmailDomain, seller.ID) {
		return domain.Warn("SAME_EMAIL_DOMAIN", "buyer and seller share a corporate email domain"), nil
	}
	return domain.Pass("NO_LINKS"), nil
}

// CheckInternalBranch FAILs when buyer and seller are the same
// partner, share a corporate group, or sit in a parent/branch
// relation (spec §3.3.5, §4.6.3).
func (e *Engine) CheckInternalBranch(buyer, seller *domain.Partner) domain.Decision {
	if buyer.ID == seller.ID {
		return domain.FailDecision("INSIDER_TRADING", "buyer and seller are the same partner")
	}
	if buyer.CorporateGroupID != "" && buyer.CorporateGroupID == seller.CorporateGroupID {
		return domain.FailDecision("SAME_CORPORATE_GROUP", "buyer and seller share a corporate group")
	}
	if buyer.ParentPartnerID == seller.ID || seller.ParentPartnerID == buyer.ID {
		return domain.FailDecision("PARENT_BRANCH_RELATION", "buyer and seller are parent/branch related")
	}
	return domain.Pass("NO_INTERNAL_BRANCH")
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// AssessTradeRisk combines buyer/seller assessments, party links, an
// internal-branch/shared-corporate-group check and the cross-border
// sub-flow into one decision. Party-links FAIL, internal-branch FAIL
// and an international FAIL override any PASS/WARN; a WARN from any of
// party-links or the international sub-flow upgrades an
// otherwise-PASS to WARN (spec §4.3.6).
func (e *Engine) AssessTradeRisk(ctx context.Context, buyer, seller *domain.Partner, availability *domain.Availability, commodity *domain.Commodity, tradeValue float64) (TradeRiskResult, error) {
	buyerAssessment := e.AssessBuyerRisk(buyer, tradeValue)
	sellerAssessment := e.AssessSellerRisk(seller, tradeValue)
	links, err := e.CheckPartyLinks(ctx, buyer, seller)
	if err != nil {
		return TradeRiskResult{}, err
	}

	internalBranch := e.CheckInternalBranch(buyer, seller)
	international := e.AssessInternationalFlow(ctx, buyer, seller, availability, commodity, tradeValue)

	worst := domain.Worst(buyerAssessment.Status, sellerAssessment.Status)
	worst = domain.Worst(worst, international.Status)
	if links.Status == domain.StatusFail || internalBranch.Status == domain.StatusFail {
		worst = domain.StatusFail
	} else if links.Status == domain.StatusWarn && worst == domain.StatusPass {
		worst = domain.StatusWarn
	}

	decidingCode := ""
	switch {
	case internalBranch.Status == domain.StatusFail:
		decidingCode = internalBranch.Code
	case links.Status == domain.StatusFail:
		decidingCode = links.Code
	case international.Status == domain.StatusFail:
		decidingCode = international.Code
	case worst == domain.StatusFail:
		decidingCode = "RISK_SCORE_FAIL"
	case links.Status == domain.StatusWarn:
		decidingCode = links.Code
	case international.Status == domain.StatusWarn:
		decidingCode = international.Code
	case worst == domain.StatusWarn:
		decidingCode = "RISK_SCORE_WARN"
	default:
		decidingCode = "PASS"
	}

	return TradeRiskResult{
		Status:           worst,
		Code:             decidingCode,
		BuyerAssessment:  buyerAssessment,
		SellerAssessment: sellerAssessment,
		PartyLinks:       links,
		InternalBranch:   internalBranch,
		International:    international,
	}, nil
}

// TradeRiskResult is the full explainable output of AssessTradeRisk.
type TradeRiskResult struct {
	Status           domain.Status
	Code             string
	BuyerAssessment  Assessment
	SellerAssessment Assessment
	PartyLinks       domain.Decision
	InternalBranch   domain.Decision
	International    InternationalFlowResult
}

// InternationalFlowResult is the explainable outcome of
// AssessInternationalFlow.
type InternationalFlowResult struct {
	Status   domain.Status
	Code     string
	Warnings []string
}

// AssessInternationalFlow runs the ordered, short-circuiting
// cross-border sub-flow (spec §4.3): sanctions and export/import
// license via C2, then currency compliance (FAIL), then
// phytosanitary, quality-standard and payment-terms advisories (WARN,
// non-blocking). A domestic trade (same PrimaryCountry on both sides)
// passes immediately without running any of these checks.
func (e *Engine) AssessInternationalFlow(ctx context.Context, buyer, seller *domain.Partner, availability *domain.Availability, commodity *domain.Commodity, tradeValue float64) InternationalFlowResult {
	if buyer.PrimaryCountry == seller.PrimaryCountry {
		return InternationalFlowResult{Status: domain.StatusPass, Code: "DOMESTIC"}
	}

	if e.capability != nil {
		if d := e.capability.Resolve(ctx, seller, domain.SideSell, buyer.PrimaryCountry, commodity); d.Status == domain.StatusFail {
			return InternationalFlowResult{Status: domain.StatusFail, Code: d.Code}
		}
		if d := e.capability.Resolve(ctx, buyer, domain.SideBuy, seller.PrimaryCountry, commodity); d.Status == domain.StatusFail {
			return InternationalFlowResult{Status: domain.StatusFail, Code: d.Code}
		}
	}

	if commodity != nil && availability != nil && len(commodity.SupportedCurrencies) > 0 && !containsID(commodity.SupportedCurrencies, availability.Currency) {
		return InternationalFlowResult{Status: domain.StatusFail, Code: "CURRENCY_NOT_SUPPORTED"}
	}

	var warnings []string
	if commodity != nil && commodity.ExportRegulations.PhytosanitaryRequired {
		warnings = append(warnings, "PHYTOSANITARY_ADVISORY")
	}
	if commodity != nil && availability != nil && len(commodity.QualityStandards) > 0 {
		quality := scoring.QualityScore(scoring.QualityInput{Accepted: commodity.QualityStandards, Reported: availability.QualityParams})
		if quality < 1.0 {
			warnings = append(warnings, "QUALITY_STANDARD_ADVISORY")
		}
	}
	threshold := defaultHighValueThreshold
	if commodity != nil && commodity.ExportRegulations.MinimumExportValue > 0 {
		threshold = commodity.ExportRegulations.MinimumExportValue
	}
	if tradeValue >= threshold {
		warnings = append(warnings, "PAYMENT_TERMS_ADVISORY")
	}

	if len(warnings) == 0 {
		return InternationalFlowResult{Status: domain.StatusPass, Code: "INTERNATIONAL_OK"}
	}
	return InternationalFlowResult{Status: domain.StatusWarn, Code: warnings[0], Warnings: warnings}
}

// MonitorExposure classifies a partner's credit utilisation into a
// GREEN/YELLOW/RED zone (spec §4.3.8).
func (e *Engine) MonitorExposure(partner *domain.Partner) string {
	u := partner.CreditUtilisation()
	switch {
	case u > exposureRedThreshold:
		return "RED"
	case u >= exposureYellowThreshold:
		return "YELLOW"
	default:
		return "GREEN"
	}
}

// DefaultRiskPrediction is the optional ML-free fallback output of
// predict_default_risk (spec §4.3.7).
type DefaultRiskPrediction struct {
	Probability float64
	RiskLevel   string
	Confidence  string
	Factors     map[string]float64
}

// PredictDefaultRisk derives a deterministic prediction from the
// rule-based assessment when no trained model is available, declaring
// "low" confidence as required by the spec.
func (e *Engine) PredictDefaultRisk(partner *domain.Partner, tradeValue float64) DefaultRiskPrediction {
	buyerLike := e.AssessPartnerRisk(partner, tradeValue, partner.PaymentPerformance)
	probability := clamp01(1 - buyerLike.Score/100.0)

	level := "LOW"
	switch {
	case probability >= 0.75:
		level = "CRITICAL"
	case probability >= 0.5:
		level = "HIGH"
	case probability >= 0.25:
		level = "MEDIUM"
	}

	return DefaultRiskPrediction{
		Probability: round3(probability),
		RiskLevel:   level,
		Confidence:  "low",
		Factors: map[string]float64{
			"credit_utilisation": round3(partner.CreditUtilisation()),
			"rating":             partner.Rating,
			"payment_performance": partner.PaymentPerformance,
		},
	}
}

var _ CapabilityChecker = (*capability.Resolver)(nil)
