// Package scoring implements the Scorer (C5): a weighted composite
// match score with a WARN penalty, an AI boost and per-commodity
// overrides (spec §4.5).
package scoring

import (
	"gonum.org/v1/gonum/stat"

	"github.com/rnrl/matchengine/internal/domain"
)

// QualityInput bundles the two sides of the quality sub-score:
// the requirement's accepted ranges and the availability's reported
// values.
type QualityInput struct {
	Accepted map[string]domain.QualityRange
	Reported map[string]float64
}

// Input is everything the composite score needs for one candidate
// pairing.
type Input struct {
	Quality       QualityInput
	TargetPrice   float64
	OfferedPrice  float64
	DeliveryScore float64 // pre-computed by internal/modules/location.DeliveryScoreFor
	RiskStatus    domain.Status
	AIRecommended bool
	Config        CommodityConfig
}

// QualityScore returns the fraction of accepted quality parameters
// whose reported value falls within range; a missing reported value
// or an out-of-range one contributes 0 (spec §4.5).
func QualityScore(in QualityInput) float64 {
	if len(in.Accepted) == 0 {
		return 1.0
	}
	inRange := 0
	for param, rng := range in.Accepted {
		v, ok := in.Reported[param]
		if ok && v >= rng.Min && v <= rng.Max {
			inRange++
		}
	}
	return float64(inRange) / float64(len(in.Accepted))
}

// PriceScore scores how favourably offeredPrice compares to
// targetPrice, clamped to [0,1] (spec §4.5).
func PriceScore(targetPrice, offeredPrice float64) float64 {
	if targetPrice <= 0 {
		return 0
	}
	raw := 1 - (offeredPrice-targetPrice)/targetPrice
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

// Result is the full explainable scoring outcome.
type Result struct {
	Composite float64
	Breakdown domain.ScoreBreakdown
}

// Score computes the composite match score: a weighted sum of the
// four sub-scores, then the WARN penalty and AI boost adjustments
// (spec §4.5). A FAIL risk status is expected to have already
// short-circuited the candidate upstream (C6); Score still honours it
// by contributing 0 to the risk sub-score rather than panicking.
func Score(in Input) Result {
	weights := in.Config.Weights.resolve()

	quality := QualityScore(in.Quality)
	price := PriceScore(in.TargetPrice, in.OfferedPrice)
	delivery := clamp01(in.DeliveryScore)
	risk := riskSubScore(in.RiskStatus)

	weighted := stat.Mean(
		[]float64{quality, price, delivery, risk},
		[]float64{weights.Quality, weights.Price, weights.Delivery, weights.Risk},
	)

	composite := weighted
	warnApplied := false
	if in.RiskStatus == domain.StatusWarn {
		composite *= warnPenalty
		warnApplied = true
	}

	aiApplied := false
	if in.AIRecommended {
		composite = clamp01(composite * aiBoost)
		aiApplied = true
	}

	return Result{
		Composite: round3(composite),
		Breakdown: domain.ScoreBreakdown{
			Quality:            round3(quality),
			Price:              round3(price),
			Delivery:           round3(delivery),
			Risk:               round3(risk),
			WarnPenaltyApplied: warnApplied,
			AIBoostApplied:     aiApplied,
		},
	}
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

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// ConfigStore resolves per-commodity scoring overrides, falling back
// to the package default when a commodity carries no override (spec
// §9's "single configuration document keyed by commodity_id with
// inheritance from a default").
type ConfigStore interface {
	ConfigFor(commodityID string) CommodityConfig
}

// StaticConfigStore is a ConfigStore backed by an in-memory map that
// the caller fills. Nothing in this module loads the document at
// Config.ScoringConfigPath into it.
type StaticConfigStore struct {
	Default    CommodityConfig
	ByCommodity map[string]CommodityConfig
}

func NewStaticConfigStore() *StaticConfigStore {
	return &StaticConfigStore{Default: DefaultCommodityConfig(), ByCommodity: map[string]CommodityConfig{}}
}

func (s *StaticConfigStore) ConfigFor(commodityID string) CommodityConfig {
	if cfg, ok := s.ByCommodity[commodityID]; ok {
		return cfg
	}
	return s.Default
}
