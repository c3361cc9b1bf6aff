package testing

import (
	"time"

	"github.com/rnrl/matchengine/internal/domain"
)

// NewRequirementFixtures returns two ACTIVE buy-side orders, one for
// wheat and one for rice.
func NewRequirementFixtures() []*domain.Requirement {
	now := time.Now().UTC()
	return []*domain.Requirement{
		{
			ID:          "req-wheat-001",
			BuyerID:     "buyer-acme",
			CommodityID: "wheat",
			Quantity:    500,
			Unit:        "MT",
			TargetPrice: 210.0,
			DeliveryLocations: []domain.Location{
				{LocationID: "loc-mumbai", Address: "Mumbai Port", Lat: 18.9388, Lng: 72.8354, Pincode: "400001", Region: "WEST"},
			},
			AcceptedQualityParams: map[string]domain.QualityRange{"moisture": {Min: 0, Max: 12}},
			ValidUntil:            now.Add(72 * time.Hour),
			Status:                domain.RequirementActive,
			RiskPrecheckStatus:    domain.Status{},
			DedupHash:             "dedup-req-wheat-001",
			IdempotencyKey:        "idem-req-wheat-001",
			Version:               1,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
		{
			ID:          "req-rice-001",
			BuyerID:     "buyer-globex",
			CommodityID: "rice",
			Quantity:    250,
			Unit:        "MT",
			TargetPrice: 340.0,
			DeliveryLocations: []domain.Location{
				{LocationID: "loc-chennai", Address: "Chennai Port", Lat: 13.0827, Lng: 80.2707, Pincode: "600001", Region: "SOUTH"},
			},
			AcceptedQualityParams: map[string]domain.QualityRange{"broken_percent": {Min: 0, Max: 5}},
			ValidUntil:            now.Add(48 * time.Hour),
			Status:                domain.RequirementActive,
			DedupHash:             "dedup-req-rice-001",
			IdempotencyKey:        "idem-req-rice-001",
			Version:               1,
			CreatedAt:             now,
			UpdatedAt:             now,
		},
	}
}

// NewAvailabilityFixtures returns a set of sell-side orders matched to
// the commodities in NewRequirementFixtures.
func NewAvailabilityFixtures() []*domain.Availability {
	now := time.Now().UTC()
	return []*domain.Availability{
		{
			ID:                "av-wheat-001",
			SellerID:          "seller-farmco",
			CommodityID:       "wheat",
			TotalQuantity:     800,
			RemainingQuantity: 800,
			BasePrice:         205.0,
			Currency:          "USD",
			Location:          domain.Location{LocationID: "loc-mumbai", Address: "Mumbai Port", Lat: 18.9388, Lng: 72.8354, Pincode: "400001", Region: "WEST"},
			QualityParams:     map[string]float64{"moisture": 10},
			ValidUntil:        now.Add(96 * time.Hour),
			Status:            domain.AvailabilityAvailable,
			DedupHash:         "dedup-av-wheat-001",
			IdempotencyKey:    "idem-av-wheat-001",
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:                "av-rice-001",
			SellerID:          "seller-padiagro",
			CommodityID:       "rice",
			TotalQuantity:     300,
			RemainingQuantity: 300,
			BasePrice:         330.0,
			Currency:          "USD",
			Location:          domain.Location{LocationID: "loc-chennai", Address: "Chennai Port", Lat: 13.0827, Lng: 80.2707, Pincode: "600001", Region: "SOUTH"},
			QualityParams:     map[string]float64{"broken_percent": 3},
			ValidUntil:        now.Add(72 * time.Hour),
			Status:            domain.AvailabilityAvailable,
			DedupHash:         "dedup-av-rice-001",
			IdempotencyKey:    "idem-av-rice-001",
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}

// NewMatchFixture returns a single proposed Match pairing the first
// wheat requirement and availability above.
func NewMatchFixture() *domain.Match {
	now := time.Now().UTC()
	return &domain.Match{
		ID:                "match-wheat-001",
		RequirementID:     "req-wheat-001",
		AvailabilityID:    "av-wheat-001",
		BuyerID:           "buyer-acme",
		SellerID:          "seller-farmco",
		AllocatedQuantity: 500,
		Score:             0.82,
		Status:            domain.MatchProposed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
