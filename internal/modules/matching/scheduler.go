package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rnrl/matchengine/internal/config"
	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/location"
	"github.com/rnrl/matchengine/internal/modules/scoring"
	"github.com/rnrl/matchengine/internal/store"
)

// Engine is the Matching Engine (C7): an event-driven scheduler that
// coalesces newly-posted orders into micro-batches, ranks candidates
// produced by the Match Validator (C6) and the Scorer (C5), and
// allocates the winners under optimistic concurrency. Its queue and
// trigger/stop channel shape follows the teacher's work.Processor
// event loop, generalised from one-item-at-a-time execution to a
// bounded-parallelism worker pool sized by config.MaxInFlightMatches.
type Engine struct {
	requirements  RequirementStore
	availabilities AvailabilityStore
	matches       MatchStore
	partners      PartnerReader
	commodities   CommodityReader
	locations     *location.Filter
	validator     *Validator
	scoringConfig scoring.ConfigStore
	outbox        OutboxWriter
	txRunner      TxRunner
	config        config.Config
	logger        zerolog.Logger
	clock         func() time.Time

	sem *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]WorkItem
	retry   []WorkItem

	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func NewEngine(
	requirements RequirementStore,
	availabilities AvailabilityStore,
	matches MatchStore,
	partners PartnerReader,
	commodities CommodityReader,
	locations *location.Filter,
	validator *Validator,
	scoringConfig scoring.ConfigStore,
	outbox OutboxWriter,
	txRunner TxRunner,
	cfg config.Config,
	logger zerolog.Logger,
) *Engine {
	maxInFlight := int64(cfg.MaxInFlightMatches)
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Engine{
		requirements:   requirements,
		availabilities: availabilities,
		matches:        matches,
		partners:       partners,
		commodities:    commodities,
		locations:      locations,
		validator:      validator,
		scoringConfig:  scoringConfig,
		outbox:         outbox,
		txRunner:       txRunner,
		config:         cfg,
		logger:         logger,
		clock:          time.Now,
		sem:            semaphore.NewWeighted(maxInFlight),
		pending:        make(map[string]WorkItem),
		trigger:        make(chan struct{}, 1),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

// Enqueue schedules subject for a matching attempt. Re-enqueuing a
// subject already pending only upgrades its priority; it never
// duplicates work (mirrors the teacher's queuedItems dedup map).
func (e *Engine) Enqueue(subjectType SubjectType, subjectID string, priority Priority) {
	item := WorkItem{SubjectType: subjectType, SubjectID: subjectID, Priority: priority, EnqueuedAt: e.clock()}
	e.mu.Lock()
	if existing, ok := e.pending[item.key()]; !ok || priority > existing.Priority {
		e.pending[item.key()] = item
	}
	e.mu.Unlock()
	e.Trigger()
}

// Trigger wakes the scheduler to drain the pending queue; non-blocking.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop. It blocks until Stop is called, so
// callers run it in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)

	sweepInterval := e.config.SweeperInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-e.trigger:
			e.coalesceAndDrain(ctx)
		case <-ticker.C:
			e.sweep(ctx)
			e.coalesceAndDrain(ctx)
		}
	}
}

// Stop halts the scheduler loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.stopped
}

// coalesceAndDrain waits MicroBatchMinDelay, then keeps absorbing
// further triggers for up to MicroBatchMaxDelay before draining the
// pending queue in one pass, so a burst of order creations becomes
// one scheduling round instead of many (spec §4.7's micro-batching).
func (e *Engine) coalesceAndDrain(ctx context.Context) {
	minDelay, maxDelay := e.config.MicroBatchMinDelay, e.config.MicroBatchMaxDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	deadline := e.clock().Add(maxDelay)
	timer := time.NewTimer(minDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			e.drain(ctx)
			return
		case <-e.trigger:
			if remaining := time.Until(deadline); remaining > 0 {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(minDuration(remaining, minDelay))
				continue
			}
			e.drain(ctx)
			return
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// drain pops every pending work item and processes each concurrently,
// bounded by the semaphore sized at config.MaxInFlightMatches. Items
// acquire the semaphore in priority order, oldest first within a tier.
func (e *Engine) drain(ctx context.Context) {
	e.mu.Lock()
	items := make([]WorkItem, 0, len(e.pending))
	for _, item := range e.pending {
		items = append(items, item)
	}
	e.pending = make(map[string]WorkItem)
	e.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})

	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			e.process(ctx, item)
		}()
	}
	wg.Wait()
}

// process runs one matching attempt, moving a failed (transient-error)
// item onto the retry list for the next sweep instead of dropping it.
func (e *Engine) process(ctx context.Context, item WorkItem) {
	var err error
	switch item.SubjectType {
	case SubjectRequirement:
		err = e.matchRequirement(ctx, item.SubjectID)
	case SubjectAvailability:
		err = e.matchAvailability(ctx, item.SubjectID)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("subject_type", string(item.SubjectType)).Str("subject_id", item.SubjectID).Msg("matching attempt failed, scheduling retry")
		e.mu.Lock()
		e.retry = append(e.retry, item)
		e.mu.Unlock()
	}
}

// sweep is the periodic LOW-priority pass: it re-queues, at LOW
// priority, every item that process moved onto the retry list. It does
// not rescan the store for open orders, so an order whose event never
// reached Enqueue is not picked up here.
func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	retry := e.retry
	e.retry = nil
	e.mu.Unlock()

	for _, item := range retry {
		e.Enqueue(item.SubjectType, item.SubjectID, PriorityLow)
	}
}

// matchRequirement runs one full C7 pass for a single Requirement:
// candidate discovery (C4), validation+scoring (C6/C5) for each,
// ranking, and allocation against the top candidates in order until
// the requirement is covered or candidates are exhausted.
func (e *Engine) matchRequirement(ctx context.Context, requirementID string) error {
	req, err := e.requirements.GetByID(ctx, requirementID)
	if err != nil {
		return err
	}
	if !req.IsOpen() {
		return nil
	}

	buyer, err := e.partners.GetByID(ctx, req.BuyerID)
	if err != nil {
		return err
	}
	commodity, err := e.commodities.GetByID(ctx, req.CommodityID)
	if err != nil {
		return err
	}

	availabilities, err := e.locations.CandidatesForRequirement(ctx, req)
	if err != nil {
		return err
	}

	now := e.clock()
	var candidates []candidate
	for i := range availabilities {
		av := &availabilities[i]
		if !av.IsOpen() {
			continue
		}
		cand, err := e.evaluateCandidate(ctx, req, av, buyer, commodity, now)
		if err != nil {
			return err
		}
		if cand != nil {
			candidates = append(candidates, *cand)
		}
	}

	topN := e.config.TopNCandidates
	ranked := rankCandidates(candidates, topN)

	for _, cand := range ranked {
		uncovered, err := e.uncoveredQuantity(ctx, req)
		if err != nil {
			return err
		}
		if uncovered <= 0 {
			break
		}
		if _, err := e.allocate(ctx, req, cand, uncovered); err != nil && err != domain.ErrConflict {
			return err
		}
	}
	return nil
}

// matchAvailability is the symmetric pass initiated by a newly-posted
// sell-side order.
func (e *Engine) matchAvailability(ctx context.Context, availabilityID string) error {
	av, err := e.availabilities.GetByID(ctx, availabilityID)
	if err != nil {
		return err
	}
	if !av.IsOpen() {
		return nil
	}

	commodity, err := e.commodities.GetByID(ctx, av.CommodityID)
	if err != nil {
		return err
	}

	requirements, err := e.locations.CandidatesForAvailability(ctx, av)
	if err != nil {
		return err
	}

	now := e.clock()
	var pairs []pairCandidate
	for i := range requirements {
		req := &requirements[i]
		if !req.IsOpen() {
			continue
		}
		buyer, err := e.partners.GetByID(ctx, req.BuyerID)
		if err != nil {
			return err
		}
		cand, err := e.evaluateCandidate(ctx, req, av, buyer, commodity, now)
		if err != nil {
			return err
		}
		if cand != nil {
			pairs = append(pairs, pairCandidate{requirement: *req, candidate: *cand})
		}
	}

	ranked := rankPairs(pairs, e.config.TopNCandidates)
	for _, pc := range ranked {
		current, err := e.availabilities.GetByID(ctx, av.ID)
		if err != nil {
			return err
		}
		if !current.IsOpen() || current.RemainingQuantity <= 0 {
			break
		}
		uncovered, err := e.uncoveredQuantity(ctx, &pc.requirement)
		if err != nil {
			return err
		}
		if uncovered <= 0 {
			continue
		}
		if _, err := e.allocate(ctx, &pc.requirement, pc.candidate, uncovered); err != nil && err != domain.ErrConflict {
			return err
		}
	}
	return nil
}

func (e *Engine) uncoveredQuantity(ctx context.Context, req *domain.Requirement) (float64, error) {
	allocated, err := allocatedQuantityFor(ctx, e.matches, req.ID)
	if err != nil {
		return 0, err
	}
	return req.Quantity - allocated, nil
}

var (
	_ RequirementStore   = (*store.RequirementRepository)(nil)
	_ AvailabilityStore  = (*store.AvailabilityRepository)(nil)
	_ MatchStore         = (*store.MatchRepository)(nil)
	_ PartnerReader      = (*store.PartnerRepository)(nil)
	_ CommodityReader    = (*store.CommodityRepository)(nil)
	_ OutboxWriter       = (*store.OutboxRepository)(nil)
	_ TxRunner           = (*store.OutboxRepository)(nil)
)
