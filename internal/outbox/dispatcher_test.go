package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
)

type fakeOutboxStore struct {
	mu      sync.Mutex
	records map[string]*domain.OutboxRecord
}

func newFakeOutboxStore(records ...domain.OutboxRecord) *fakeOutboxStore {
	s := &fakeOutboxStore{records: map[string]*domain.OutboxRecord{}}
	for i := range records {
		r := records[i]
		s.records[r.ID] = &r
	}
	return s
}

func (s *fakeOutboxStore) WithTx(fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (s *fakeOutboxStore) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxRecord
	for _, r := range s.records {
		if r.Dead || r.DispatchedAt != nil {
			continue
		}
		if r.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeOutboxStore) MarkDispatchedTx(ctx context.Context, tx *sql.Tx, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	r.DispatchedAt = &now
	return nil
}

func (s *fakeOutboxStore) MarkFailedTx(ctx context.Context, tx *sql.Tx, id string, attempts int, backoff []time.Duration, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Attempts = attempts
	if attempts >= maxAttempts {
		r.Dead = true
		return nil
	}
	delay := backoff[len(backoff)-1]
	if attempts-1 < len(backoff) {
		delay = backoff[attempts-1]
	}
	r.NextRetryAt = time.Now().UTC().Add(delay)
	return nil
}

func (s *fakeOutboxStore) get(id string) domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func requirementCreatedRecord(id string) domain.OutboxRecord {
	payload, _ := json.Marshal(events.RequirementCreatedData{RequirementID: "req-1", BuyerID: "buyer-1", CommodityID: "wheat"})
	return domain.OutboxRecord{
		ID: id, AggregateType: string(events.AggregateRequirement), AggregateID: "req-1",
		EventType: string(events.RequirementCreated), Payload: payload, CreatedAt: time.Now().UTC(),
	}
}

func TestDispatcher_DispatchesToSubscriber(t *testing.T) {
	store := newFakeOutboxStore(requirementCreatedRecord("rec-1"))
	d := NewDispatcher(store, time.Second, 10, 5, []time.Duration{10 * time.Millisecond}, testLogger())

	var handled int
	d.Subscribe(events.RequirementCreated, SubscriberFunc(func(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
		handled++
		_, ok := event.(*events.RequirementCreatedData)
		assert.True(t, ok)
		return nil
	}))

	require.NoError(t, d.pollOnce(context.Background()))

	assert.Equal(t, 1, handled)
	rec := store.get("rec-1")
	assert.NotNil(t, rec.DispatchedAt)
	assert.False(t, rec.Dead)
}

func TestDispatcher_RetriesOnSubscriberFailure(t *testing.T) {
	store := newFakeOutboxStore(requirementCreatedRecord("rec-2"))
	d := NewDispatcher(store, time.Second, 10, 3, []time.Duration{10 * time.Second, 30 * time.Second}, testLogger())

	d.Subscribe(events.RequirementCreated, SubscriberFunc(func(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
		return errors.New("downstream unavailable")
	}))

	require.NoError(t, d.pollOnce(context.Background()))

	rec := store.get("rec-2")
	assert.Nil(t, rec.DispatchedAt)
	assert.False(t, rec.Dead)
	assert.Equal(t, 1, rec.Attempts)
	assert.True(t, rec.NextRetryAt.After(time.Now()))
}

func TestDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	rec := requirementCreatedRecord("rec-3")
	rec.Attempts = 2
	store := newFakeOutboxStore(rec)
	d := NewDispatcher(store, time.Second, 10, 3, []time.Duration{10 * time.Millisecond}, testLogger())

	d.Subscribe(events.RequirementCreated, SubscriberFunc(func(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
		return errors.New("still failing")
	}))

	require.NoError(t, d.pollOnce(context.Background()))

	got := store.get("rec-3")
	assert.True(t, got.Dead)
	assert.Equal(t, 3, got.Attempts)
}

func TestDispatcher_UndecodablePayloadDeadLettersImmediately(t *testing.T) {
	rec := domain.OutboxRecord{
		ID: "rec-4", EventType: "NotARealEventType", Payload: []byte(`{}`), CreatedAt: time.Now().UTC(),
	}
	store := newFakeOutboxStore(rec)
	d := NewDispatcher(store, time.Second, 10, 5, []time.Duration{10 * time.Millisecond}, testLogger())

	require.NoError(t, d.pollOnce(context.Background()))

	got := store.get("rec-4")
	assert.True(t, got.Dead)
}

func TestDispatcher_SkipsRecordsNotYetDueForRetry(t *testing.T) {
	rec := requirementCreatedRecord("rec-5")
	rec.NextRetryAt = time.Now().Add(time.Hour)
	store := newFakeOutboxStore(rec)
	d := NewDispatcher(store, time.Second, 10, 5, []time.Duration{10 * time.Millisecond}, testLogger())

	var handled int
	d.Subscribe(events.RequirementCreated, SubscriberFunc(func(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
		handled++
		return nil
	}))

	require.NoError(t, d.pollOnce(context.Background()))
	assert.Equal(t, 0, handled)
}
