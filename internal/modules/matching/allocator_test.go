package matching

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/config"
	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/location"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/modules/scoring"
)

func TestScoreSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, scoreSimilarity(0, 0))
	assert.InDelta(t, 1.0, scoreSimilarity(0.8, 0.8), 1e-9)
	assert.InDelta(t, 0.5, scoreSimilarity(0.5, 1.0), 1e-9)
}

func TestRankCandidates_SortsByScoreThenCreatedAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	candidates := []candidate{
		{availability: domain.Availability{ID: "low", CreatedAt: older}, result: scoring.Result{Composite: 0.5}},
		{availability: domain.Availability{ID: "high", CreatedAt: newer}, result: scoring.Result{Composite: 0.9}},
		{availability: domain.Availability{ID: "tie-old", CreatedAt: older}, result: scoring.Result{Composite: 0.7}},
		{availability: domain.Availability{ID: "tie-new", CreatedAt: newer}, result: scoring.Result{Composite: 0.7}},
	}

	ranked := rankCandidates(candidates, 0)
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.availability.ID
	}
	assert.Equal(t, []string{"high", "tie-old", "tie-new", "low"}, ids)
}

func TestRankCandidates_TruncatesToTopN(t *testing.T) {
	candidates := []candidate{
		{result: scoring.Result{Composite: 0.9}},
		{result: scoring.Result{Composite: 0.8}},
		{result: scoring.Result{Composite: 0.7}},
	}
	ranked := rankCandidates(candidates, 2)
	assert.Len(t, ranked, 2)
}

// --- evaluateCandidate / allocate integration fakes ---

type fakePartnerReader struct{ byID map[string]*domain.Partner }

func (f fakePartnerReader) GetByID(ctx context.Context, id string) (*domain.Partner, error) {
	return f.byID[id], nil
}

type fakeCommodityReader struct{ c *domain.Commodity }

func (f fakeCommodityReader) GetByID(ctx context.Context, id string) (*domain.Commodity, error) {
	return f.c, nil
}

type fakeMatchStore struct {
	activePairs   map[string]bool
	recentScores  []float64
	created       []*domain.Match
	byRequirement []domain.Match
}

func (f *fakeMatchStore) CreateTx(ctx context.Context, tx *sql.Tx, m *domain.Match) error {
	m.ID = domain.NewID()
	f.created = append(f.created, m)
	return nil
}
func (f *fakeMatchStore) HasActivePair(ctx context.Context, requirementID, availabilityID string) (bool, error) {
	return f.activePairs[requirementID+":"+availabilityID], nil
}
func (f *fakeMatchStore) RecentSimilarScores(ctx context.Context, requirementID, buyerID, sellerID string, since time.Time) ([]float64, error) {
	return f.recentScores, nil
}
func (f *fakeMatchStore) ListByRequirement(ctx context.Context, requirementID string, limit, offset int) ([]domain.Match, error) {
	return f.byRequirement, nil
}

type fakeOutbox struct{ events []events.EventData }

func (f *fakeOutbox) EnqueueTx(ctx context.Context, tx *sql.Tx, aggregateType events.AggregateType, aggregateID string, event events.EventData) error {
	f.events = append(f.events, event)
	return nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

type fakeAvailabilityStore struct{ av *domain.Availability }

func (f *fakeAvailabilityStore) GetByID(ctx context.Context, id string) (*domain.Availability, error) {
	return f.av, nil
}
func (f *fakeAvailabilityStore) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Availability, error) {
	return f.av, nil
}
func (f *fakeAvailabilityStore) AllocateTx(ctx context.Context, tx *sql.Tx, id string, allocate, newRemaining float64, newStatus domain.AvailabilityStatus, expectedVersion int) error {
	f.av.RemainingQuantity = newRemaining
	f.av.Status = newStatus
	f.av.Version++
	return nil
}

type fakeRequirementStore struct{ req *domain.Requirement }

func (f *fakeRequirementStore) GetByID(ctx context.Context, id string) (*domain.Requirement, error) {
	return f.req, nil
}
func (f *fakeRequirementStore) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, newStatus domain.RequirementStatus, expectedVersion int) error {
	f.req.Status = newStatus
	f.req.Version++
	return nil
}

func newTestEngine(t *testing.T, req *domain.Requirement, av *domain.Availability, buyer, seller *domain.Partner, matches *fakeMatchStore) (*Engine, *fakeOutbox) {
	t.Helper()
	cap := capability.NewResolver(fakeDocs{docs: []domain.PartnerDocument{
		verifiedDoc(domain.DocGST), verifiedDoc(domain.DocPAN),
	}}, capability.StaticSanctions{})
	riskEngine := risk.NewEngine(fakeOrderFinder{}, fakeOrderFinder{}, fakeLinker{}, fakeDedup{}, fakeDedup{}, cap)
	validator := NewValidator(cap, riskEngine)
	outbox := &fakeOutbox{}

	e := NewEngine(
		&fakeRequirementStore{req: req},
		&fakeAvailabilityStore{av: av},
		matches,
		fakePartnerReader{byID: map[string]*domain.Partner{buyer.ID: buyer, seller.ID: seller}},
		fakeCommodityReader{c: &domain.Commodity{ID: req.CommodityID}},
		location.NewFilter(nil, nil, nil),
		validator,
		scoring.NewStaticConfigStore(),
		outbox,
		fakeTxRunner{},
		config.Config{AllocationRetries: 3, TopNCandidates: 5},
		zerolog.Nop(),
	)
	return e, outbox
}

func TestEvaluateCandidate_ValidPairReturnsCandidate(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	matches := &fakeMatchStore{}
	e, _ := newTestEngine(t, req, av, buyer, seller, matches)

	cand, err := e.evaluateCandidate(context.Background(), req, av, buyer, commodity, time.Now())
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Greater(t, cand.result.Composite, 0.0)
}

func TestEvaluateCandidate_ActivePairSkipped(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	matches := &fakeMatchStore{activePairs: map[string]bool{req.ID + ":" + av.ID: true}}
	e, _ := newTestEngine(t, req, av, buyer, seller, matches)

	cand, err := e.evaluateCandidate(context.Background(), req, av, buyer, commodity, time.Now())
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestEvaluateCandidate_DuplicateRecentScoreSkipped(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	matches := &fakeMatchStore{}
	e, _ := newTestEngine(t, req, av, buyer, seller, matches)

	first, err := e.evaluateCandidate(context.Background(), req, av, buyer, commodity, time.Now())
	require.NoError(t, err)
	require.NotNil(t, first)

	matches.recentScores = []float64{first.result.Composite}
	second, err := e.evaluateCandidate(context.Background(), req, av, buyer, commodity, time.Now())
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestAllocate_FullyCoversRequirement(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	matches := &fakeMatchStore{}
	e, outbox := newTestEngine(t, req, av, buyer, seller, matches)

	cand, err := e.evaluateCandidate(context.Background(), req, av, buyer, commodity, time.Now())
	require.NoError(t, err)
	require.NotNil(t, cand)

	match, err := e.allocate(context.Background(), req, *cand, req.Quantity)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 100.0, match.AllocatedQuantity)
	assert.Equal(t, domain.AvailabilitySoldOut, av.Status)
	assert.Equal(t, domain.RequirementFulfilled, req.Status)
	assert.Len(t, outbox.events, 1)
}
