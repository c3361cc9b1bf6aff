// Package outbox runs the C10 background dispatcher: it polls the
// OutboxRepository for undispatched records, reads a due batch inside
// a transaction (no row lock; see OutboxRepository.ClaimBatch), fans
// each record out to its registered subscribers, and
// retries with the fixed backoff schedule until the record dead-
// letters (spec §4.10).
package outbox

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
)

// Store is the narrow C1 dependency: claim, mark-dispatched,
// mark-failed and the transactional seam they all run inside.
type Store interface {
	ClaimBatch(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]domain.OutboxRecord, error)
	MarkDispatchedTx(ctx context.Context, tx *sql.Tx, id string) error
	MarkFailedTx(ctx context.Context, tx *sql.Tx, id string, attempts int, backoff []time.Duration, maxAttempts int) error
	WithTx(fn func(tx *sql.Tx) error) error
}

// Subscriber handles one decoded domain event. Handlers run
// synchronously and in-process (spec §4.10); a Subscriber that only
// cares about some event types returns nil immediately for the rest.
type Subscriber interface {
	Handle(ctx context.Context, record domain.OutboxRecord, event events.EventData) error
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(ctx context.Context, record domain.OutboxRecord, event events.EventData) error

func (f SubscriberFunc) Handle(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
	return f(ctx, record, event)
}

// Dispatcher polls Store on a ticker and fans claimed records out to
// every Subscriber registered for that record's event type, mirroring
// the teacher's ticker-driven queue.Scheduler shape.
type Dispatcher struct {
	store       Store
	decode      func(eventType string, payload []byte) (events.EventData, error)
	subscribers map[string][]Subscriber

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoff      []time.Duration

	log zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(store Store, pollInterval time.Duration, batchSize, maxAttempts int, backoff []time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		decode:       events.Decode,
		subscribers:  make(map[string][]Subscriber),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		log:          log.With().Str("component", "outbox_dispatcher").Logger(),
		stop:         make(chan struct{}),
	}
}

// Subscribe registers sub to be called for every record whose
// event_type equals eventType. Subscriptions must be registered
// before Start.
func (d *Dispatcher) Subscribe(eventType events.EventType, sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(eventType)
	d.subscribers[key] = append(d.subscribers[key], sub)
}

// Start begins the poll loop in a background goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started && !d.stopped {
		d.log.Warn().Msg("outbox dispatcher already started, ignoring")
		return
	}
	if d.stopped {
		d.stop = make(chan struct{})
		d.stopped = false
	}
	d.started = true

	ticker := time.NewTicker(d.pollInterval)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				if err := d.pollOnce(context.Background()); err != nil {
					d.log.Error().Err(err).Msg("outbox poll cycle failed")
				}
			}
		}
	}()
	d.log.Info().Dur("interval", d.pollInterval).Msg("outbox dispatcher started")
}

// Stop signals the poll loop to exit and waits for it to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) pollOnce(ctx context.Context) error {
	now := time.Now().UTC()
	var claimed []domain.OutboxRecord
	err := d.store.WithTx(func(tx *sql.Tx) error {
		batch, err := d.store.ClaimBatch(ctx, tx, d.batchSize, now)
		if err != nil {
			return err
		}
		claimed = batch
		return nil
	})
	if err != nil {
		return err
	}

	for _, rec := range claimed {
		d.dispatchOne(ctx, rec)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rec domain.OutboxRecord) {
	event, err := d.decode(rec.EventType, rec.Payload)
	if err != nil {
		d.log.Error().Err(err).Str("record_id", rec.ID).Str("event_type", rec.EventType).
			Msg("undecodable outbox payload, dead-lettering")
		_ = d.store.WithTx(func(tx *sql.Tx) error {
			return d.store.MarkFailedTx(ctx, tx, rec.ID, d.maxAttempts, d.backoff, d.maxAttempts)
		})
		return
	}

	d.mu.Lock()
	subs := append([]Subscriber(nil), d.subscribers[rec.EventType]...)
	d.mu.Unlock()

	var dispatchErr error
	for _, sub := range subs {
		if err := sub.Handle(ctx, rec, event); err != nil {
			dispatchErr = err
			d.log.Error().Err(err).Str("record_id", rec.ID).Str("event_type", rec.EventType).
				Msg("subscriber failed to handle outbox record")
		}
	}

	attempts := rec.Attempts + 1
	err = d.store.WithTx(func(tx *sql.Tx) error {
		if dispatchErr != nil {
			return d.store.MarkFailedTx(ctx, tx, rec.ID, attempts, d.backoff, d.maxAttempts)
		}
		return d.store.MarkDispatchedTx(ctx, tx, rec.ID)
	})
	if err != nil {
		d.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to record outbox dispatch outcome")
	}
}
