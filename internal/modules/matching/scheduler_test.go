package matching

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/config"
	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/location"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/modules/scoring"
)

func newIdleEngine(cfg config.Config) *Engine {
	cap := capability.NewResolver(fakeDocs{}, capability.StaticSanctions{})
	riskEngine := risk.NewEngine(fakeOrderFinder{}, fakeOrderFinder{}, fakeLinker{}, fakeDedup{}, fakeDedup{}, cap)
	validator := NewValidator(cap, riskEngine)
	return NewEngine(
		&fakeRequirementStore{req: &domain.Requirement{Status: domain.RequirementCancelled}},
		&fakeAvailabilityStore{av: &domain.Availability{Status: domain.AvailabilityCancelled}},
		&fakeMatchStore{},
		fakePartnerReader{byID: map[string]*domain.Partner{}},
		fakeCommodityReader{c: &domain.Commodity{}},
		location.NewFilter(nil, nil, nil),
		validator,
		scoring.NewStaticConfigStore(),
		&fakeOutbox{},
		fakeTxRunner{},
		cfg,
		zerolog.Nop(),
	)
}

func TestEnqueue_DedupsBySubjectAndUpgradesPriority(t *testing.T) {
	e := newIdleEngine(config.Config{})
	e.Enqueue(SubjectRequirement, "r1", PriorityLow)
	e.Enqueue(SubjectRequirement, "r1", PriorityHigh)

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.pending, 1)
	assert.Equal(t, PriorityHigh, e.pending["REQUIREMENT:r1"].Priority)
}

func TestEnqueue_NeverDowngradesPriority(t *testing.T) {
	e := newIdleEngine(config.Config{})
	e.Enqueue(SubjectRequirement, "r1", PriorityHigh)
	e.Enqueue(SubjectRequirement, "r1", PriorityLow)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, PriorityHigh, e.pending["REQUIREMENT:r1"].Priority)
}

func TestDrain_EmptiesQueueAndSkipsClosedRequirement(t *testing.T) {
	e := newIdleEngine(config.Config{MaxInFlightMatches: 4})
	e.Enqueue(SubjectRequirement, "r1", PriorityHigh)

	e.drain(context.Background())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.pending)
	assert.Empty(t, e.retry)
}

func TestSweep_ReenqueuesRetryListAsLowPriority(t *testing.T) {
	e := newIdleEngine(config.Config{})
	e.mu.Lock()
	e.retry = []WorkItem{{SubjectType: SubjectRequirement, SubjectID: "r2", Priority: PriorityHigh}}
	e.mu.Unlock()

	e.sweep(context.Background())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.retry)
	require.Contains(t, e.pending, "REQUIREMENT:r2")
	assert.Equal(t, PriorityLow, e.pending["REQUIREMENT:r2"].Priority)
}

func TestRunStop_ExitsCleanly(t *testing.T) {
	e := newIdleEngine(config.Config{SweeperInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	e.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

func TestMinDuration(t *testing.T) {
	assert.Equal(t, time.Second, minDuration(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, minDuration(2*time.Second, time.Second))
}
