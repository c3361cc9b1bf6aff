package risk

// Weighted-constant blocks for the partner risk score (spec §4.3.4).
// Mirrors the teacher's convention of naming every weight explicitly
// and keeping each block summing to 1.0.
const (
	creditWeight      = 0.40
	ratingWeight      = 0.30
	performanceWeight = 0.30

	ratingScale = 6.0 // rating in [0,5] -> component in [0,30]
	performanceScale = 0.3 // performance in [0,100] -> component in [0,30]

	passThreshold = 80.0
	warnThreshold = 60.0
)

// Exposure zone thresholds (spec §4.3.8): GREEN <60%, YELLOW 60-85%,
// RED >85% of credit_limit utilisation.
const (
	exposureYellowThreshold = 0.60
	exposureRedThreshold    = 0.85
)

// defaultHighValueThreshold is the payment-terms advisory's trade-value
// threshold (spec §4.3's international sub-flow) for commodities whose
// ExportRegulations.MinimumExportValue is unset.
const defaultHighValueThreshold = 50000.0

// round3 rounds to 3 decimal places, matching the teacher's scoring
// package convention for score breakdown stability.
func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
