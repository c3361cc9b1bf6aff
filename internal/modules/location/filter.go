// Package location implements the Location Filter (C4): the
// database-level pre-filter that narrows candidates to those whose
// delivery locations overlap, before C6/C5 ever look at them
// (spec §4.4).
package location

import (
	"context"
	"math"

	"github.com/rnrl/matchengine/internal/domain"
)

// earthRadiusKm is the mean Earth radius used by the haversine
// distance calculation.
const earthRadiusKm = 6371.0

// DefaultMaxKm is the implicit delivery radius applied around a
// registered location descriptor when checking ad-hoc candidates; a
// registered-to-registered match is always exact id membership, never
// distance-based.
const DefaultMaxKm = 50.0

// HaversineKm returns the great-circle distance between two points in
// kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// LocationResolver resolves registered location ids to coordinates.
type LocationResolver interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Location, error)
}

// AvailabilityFinder is the narrow store dependency for the
// requirement-driven candidate query.
type AvailabilityFinder interface {
	FindAvailabilitiesByLocationAndCommodity(ctx context.Context, commodityID, locationID string) ([]domain.Availability, error)
	ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Availability, error)
}

// RequirementFinder is the narrow store dependency for the
// availability-driven (symmetric) candidate query.
type RequirementFinder interface {
	FindRequirementsAcceptingLocation(ctx context.Context, commodityID, locationID string) ([]domain.Requirement, error)
	ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Requirement, error)
}

// Filter narrows candidate counter-side orders to those whose
// delivery locations overlap.
type Filter struct {
	availabilities AvailabilityFinder
	requirements   RequirementFinder
	locations      LocationResolver
}

func NewFilter(availabilities AvailabilityFinder, requirements RequirementFinder, locations LocationResolver) *Filter {
	return &Filter{availabilities: availabilities, requirements: requirements, locations: locations}
}

// point is a resolved (lat,lng) with an optional membership id and
// the radius to apply when checking ad-hoc candidates against it.
type point struct {
	locationID string
	lat, lng   float64
	radiusKm   float64
	resolved   bool
}

func (f *Filter) resolvePoints(ctx context.Context, locs []domain.Location) ([]point, error) {
	var registeredIDs []string
	for _, l := range locs {
		if !l.IsAdHoc() {
			registeredIDs = append(registeredIDs, l.LocationID)
		}
	}
	var coordsByID map[string]domain.Location
	if len(registeredIDs) > 0 {
		resolved, err := f.locations.GetByIDs(ctx, registeredIDs)
		if err != nil {
			return nil, err
		}
		coordsByID = resolved
	}

	points := make([]point, 0, len(locs))
	for _, l := range locs {
		if l.IsAdHoc() {
			radius := l.RadiusKm
			if radius <= 0 {
				radius = DefaultMaxKm
			}
			points = append(points, point{lat: l.Lat, lng: l.Lng, radiusKm: radius, resolved: true})
			continue
		}
		coords, ok := coordsByID[l.LocationID]
		p := point{locationID: l.LocationID, radiusKm: DefaultMaxKm}
		if ok {
			p.lat, p.lng, p.resolved = coords.Lat, coords.Lng, true
		}
		points = append(points, p)
	}
	return points, nil
}

// overlaps reports whether an availability/requirement's Location
// satisfies any of the resolved delivery points: exact registered-id
// membership, or (for ad-hoc candidates) within radiusKm of a point
// that has resolved coordinates.
func overlaps(candidate domain.Location, points []point) bool {
	for _, p := range points {
		if !candidate.IsAdHoc() && p.locationID != "" && p.locationID == candidate.LocationID {
			return true
		}
		if candidate.IsAdHoc() && p.resolved {
			if HaversineKm(p.lat, p.lng, candidate.Lat, candidate.Lng) <= p.radiusKm {
				return true
			}
		}
	}
	return false
}

// CandidatesForRequirement returns open Availabilities whose location
// overlaps req's delivery_locations set (spec §4.4).
func (f *Filter) CandidatesForRequirement(ctx context.Context, req *domain.Requirement) ([]domain.Availability, error) {
	points, err := f.resolvePoints(ctx, req.DeliveryLocations)
	if err != nil {
		return nil, err
	}

	seen := map[string]domain.Availability{}
	hasRegistered := false
	for _, loc := range req.DeliveryLocations {
		if loc.IsAdHoc() {
			continue
		}
		hasRegistered = true
		candidates, err := f.availabilities.FindAvailabilitiesByLocationAndCommodity(ctx, req.CommodityID, loc.LocationID)
		if err != nil {
			return nil, err
		}
		for _, a := range candidates {
			if overlaps(a.Location, points) {
				seen[a.ID] = a
			}
		}
	}
	if !hasRegistered {
		all, err := f.availabilities.ListOpenByCommodity(ctx, req.CommodityID)
		if err != nil {
			return nil, err
		}
		for _, a := range all {
			if overlaps(a.Location, points) {
				seen[a.ID] = a
			}
		}
	}

	out := make([]domain.Availability, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	return out, nil
}

// CandidatesForAvailability is the symmetric query: open Requirements
// whose delivery_locations set overlaps the availability's location.
func (f *Filter) CandidatesForAvailability(ctx context.Context, av *domain.Availability) ([]domain.Requirement, error) {
	if av.Location.IsAdHoc() {
		all, err := f.requirements.ListOpenByCommodity(ctx, av.CommodityID)
		if err != nil {
			return nil, err
		}
		var out []domain.Requirement
		for _, r := range all {
			points, err := f.resolvePoints(ctx, r.DeliveryLocations)
			if err != nil {
				return nil, err
			}
			if overlaps(av.Location, points) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	candidates, err := f.requirements.FindRequirementsAcceptingLocation(ctx, av.CommodityID, av.Location.LocationID)
	if err != nil {
		return nil, err
	}
	var out []domain.Requirement
	for _, r := range candidates {
		points, err := f.resolvePoints(ctx, r.DeliveryLocations)
		if err != nil {
			return nil, err
		}
		if overlaps(av.Location, points) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeliveryScoreFor resolves reqLocations and returns the C5 delivery
// sub-score for candidateLocation: 1.0 on exact registered-id
// membership; for an ad-hoc candidate, the best (highest) linear-decay
// score across all resolved points, registered or ad-hoc, 0 if none are
// within range. A registered candidate with no id match scores 0.
func (f *Filter) DeliveryScoreFor(ctx context.Context, reqLocations []domain.Location, candidateLocation domain.Location) (float64, error) {
	points, err := f.resolvePoints(ctx, reqLocations)
	if err != nil {
		return 0, err
	}

	best := 0.0
	for _, p := range points {
		if !candidateLocation.IsAdHoc() && p.locationID != "" && p.locationID == candidateLocation.LocationID {
			return 1.0, nil
		}
		if candidateLocation.IsAdHoc() && p.resolved {
			d := HaversineKm(p.lat, p.lng, candidateLocation.Lat, candidateLocation.Lng)
			if s := DeliveryScore(d, p.radiusKm); s > best {
				best = s
			}
		}
	}
	return best, nil
}

// DeliveryScore scores a resolved distance on a linear decay from 1
// at distance 0 to 0 at maxKm, per spec §4.5's delivery sub-score.
func DeliveryScore(distanceKm, maxKm float64) float64 {
	if maxKm <= 0 {
		return 0
	}
	if distanceKm >= maxKm {
		return 0
	}
	score := 1 - distanceKm/maxKm
	if score < 0 {
		return 0
	}
	return score
}
