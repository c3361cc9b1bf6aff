package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// DedupHash computes the dedup key used by invariant §3.3.4: no two
// active orders from the same partner for the same commodity with
// identical (quantity, price, delivery-location set, quality-params)
// may coexist. Enforced atomically via the unique partial indexes in
// core_schema.sql; this hash is the value those indexes key on.
func DedupHash(quantity, price float64, locationIDs []string, quality map[string]float64) string {
	sorted := append([]string(nil), locationIDs...)
	sort.Strings(sorted)

	qualityKeys := make([]string, 0, len(quality))
	for k := range quality {
		qualityKeys = append(qualityKeys, k)
	}
	sort.Strings(qualityKeys)
	qualityPairs := make([][2]any, 0, len(qualityKeys))
	for _, k := range qualityKeys {
		qualityPairs = append(qualityPairs, [2]any{k, quality[k]})
	}

	payload := struct {
		Quantity  float64
		Price     float64
		Locations []string
		Quality   [][2]any
	}{quantity, price, sorted, qualityPairs}

	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
