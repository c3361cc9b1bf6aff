package location

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
)

type fakeAvailabilities struct {
	byLocation map[string][]domain.Availability
	all        []domain.Availability
}

func (f *fakeAvailabilities) FindAvailabilitiesByLocationAndCommodity(ctx context.Context, commodityID, locationID string) ([]domain.Availability, error) {
	return f.byLocation[locationID], nil
}

func (f *fakeAvailabilities) ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Availability, error) {
	return f.all, nil
}

type fakeRequirements struct {
	byLocation map[string][]domain.Requirement
	all        []domain.Requirement
}

func (f *fakeRequirements) FindRequirementsAcceptingLocation(ctx context.Context, commodityID, locationID string) ([]domain.Requirement, error) {
	return f.byLocation[locationID], nil
}

func (f *fakeRequirements) ListOpenByCommodity(ctx context.Context, commodityID string) ([]domain.Requirement, error) {
	return f.all, nil
}

type fakeLocations struct {
	coords map[string]domain.Location
}

func (f *fakeLocations) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Location, error) {
	out := map[string]domain.Location{}
	for _, id := range ids {
		if l, ok := f.coords[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func TestCandidatesForRequirement_RegisteredLocationExactMatch(t *testing.T) {
	delhi := domain.Location{LocationID: "delhi", Lat: 28.6, Lng: 77.2}
	matching := domain.Availability{ID: "a1", Location: domain.Location{LocationID: "delhi"}}
	other := domain.Availability{ID: "a2", Location: domain.Location{LocationID: "mumbai"}}

	availabilities := &fakeAvailabilities{byLocation: map[string][]domain.Availability{
		"delhi": {matching, other},
	}}
	filter := NewFilter(availabilities, &fakeRequirements{}, &fakeLocations{coords: map[string]domain.Location{"delhi": delhi}})

	req := &domain.Requirement{CommodityID: "wheat", DeliveryLocations: []domain.Location{{LocationID: "delhi"}}}
	out, err := filter.CandidatesForRequirement(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0].ID)
}

func TestCandidatesForRequirement_AdHocWithinRadius(t *testing.T) {
	nearby := domain.Availability{ID: "near", Location: domain.Location{Lat: 28.61, Lng: 77.21}}
	far := domain.Availability{ID: "far", Location: domain.Location{Lat: 19.07, Lng: 72.87}} // Mumbai, far from Delhi

	availabilities := &fakeAvailabilities{all: []domain.Availability{nearby, far}}
	filter := NewFilter(availabilities, &fakeRequirements{}, &fakeLocations{})

	req := &domain.Requirement{
		CommodityID: "wheat",
		DeliveryLocations: []domain.Location{
			{Lat: 28.6, Lng: 77.2, RadiusKm: 50},
		},
	}
	out, err := filter.CandidatesForRequirement(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "near", out[0].ID)
}

func TestDeliveryScore(t *testing.T) {
	assert.Equal(t, 1.0, DeliveryScore(0, 100))
	assert.Equal(t, 0.5, DeliveryScore(50, 100))
	assert.Equal(t, 0.0, DeliveryScore(100, 100))
	assert.Equal(t, 0.0, DeliveryScore(150, 100))
}

func TestCandidatesForAvailability_Symmetric(t *testing.T) {
	reqAtDelhi := domain.Requirement{ID: "r1", DeliveryLocations: []domain.Location{{LocationID: "delhi"}}}
	requirements := &fakeRequirements{byLocation: map[string][]domain.Requirement{"delhi": {reqAtDelhi}}}
	filter := NewFilter(&fakeAvailabilities{}, requirements, &fakeLocations{})

	av := &domain.Availability{CommodityID: "wheat", Location: domain.Location{LocationID: "delhi"}}
	out, err := filter.CandidatesForAvailability(context.Background(), av)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
}
