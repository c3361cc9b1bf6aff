package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rnrl/matchengine/internal/domain"
)

func TestScore_DomesticHappyPath(t *testing.T) {
	// Scenario A (spec §8.4): everything in range, exact location match,
	// PASS risk, no AI boost -> composite ~= 1.0.
	in := Input{
		Quality: QualityInput{
			Accepted: map[string]domain.QualityRange{"moisture": {Min: 0, Max: 14}},
			Reported: map[string]float64{"moisture": 10},
		},
		TargetPrice:   7200,
		OfferedPrice:  7150,
		DeliveryScore: 1.0,
		RiskStatus:    domain.StatusPass,
		Config:        DefaultCommodityConfig(),
	}
	result := Score(in)
	assert.InDelta(t, 1.0, result.Composite, 0.001)
	assert.False(t, result.Breakdown.WarnPenaltyApplied)
	assert.False(t, result.Breakdown.AIBoostApplied)
}

func TestScore_WarnPenaltyMultipliesComposite(t *testing.T) {
	base := Input{
		Quality:       QualityInput{},
		TargetPrice:   100,
		OfferedPrice:  100,
		DeliveryScore: 1.0,
		Config:        DefaultCommodityConfig(),
	}
	pass := base
	pass.RiskStatus = domain.StatusPass
	warn := base
	warn.RiskStatus = domain.StatusWarn

	passResult := Score(pass)
	warnResult := Score(warn)

	// WARN lowers the risk sub-score from 1.0 to 0.5 (losing half the
	// risk weight) and then applies the composite penalty.
	assert.InDelta(t, (passResult.Composite-defaultRiskWeight*0.5)*warnPenalty, warnResult.Composite, 0.001)
	assert.True(t, warnResult.Breakdown.WarnPenaltyApplied)
}

func TestScore_AIBoostCappedAtOne(t *testing.T) {
	in := Input{
		Quality:       QualityInput{},
		TargetPrice:   100,
		OfferedPrice:  100,
		DeliveryScore: 1.0,
		RiskStatus:    domain.StatusPass,
		AIRecommended: true,
		Config:        DefaultCommodityConfig(),
	}
	result := Score(in)
	assert.LessOrEqual(t, result.Composite, 1.0)
	assert.True(t, result.Breakdown.AIBoostApplied)
}

func TestQualityScore_OutOfRangeContributesZero(t *testing.T) {
	in := QualityInput{
		Accepted: map[string]domain.QualityRange{
			"moisture":      {Min: 0, Max: 14},
			"foreign_matter": {Min: 0, Max: 2},
		},
		Reported: map[string]float64{"moisture": 10, "foreign_matter": 5},
	}
	assert.InDelta(t, 0.5, QualityScore(in), 0.001)
}

func TestPriceScore_ClampedToZeroWhenAboveTarget(t *testing.T) {
	assert.InDelta(t, 0.0, PriceScore(100, 250), 0.001)
}

func TestPriceScore_ClampedToOneWhenBelowTarget(t *testing.T) {
	assert.InDelta(t, 1.0, PriceScore(100, 10), 0.001)
}
