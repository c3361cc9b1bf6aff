// Package negotiation implements the Negotiation State Machine (C9):
// offer/counter-offer rounds between a buyer and a seller, and the
// non-binding AI counter-offer advisor (spec §4.9).
package negotiation

import (
	"context"
	"database/sql"
	"time"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
	"github.com/rnrl/matchengine/internal/store"
)

// defaultTTL backs StaticTTLStore when no per-commodity override is
// configured.
const defaultTTL = 72 * time.Hour

// Store is the narrow Entity Store (C1) dependency: the negotiation,
// offer and message persistence surface used by every transition.
type Store interface {
	CreateTx(ctx context.Context, tx *sql.Tx, n *domain.Negotiation) error
	GetByID(ctx context.Context, id string) (*domain.Negotiation, error)
	AdvanceRoundTx(ctx context.Context, tx *sql.Tx, id string, newRound int, actor domain.Actor, expectedVersion int) error
	TerminateTx(ctx context.Context, tx *sql.Tx, id string, status domain.NegotiationStatus) error
	CreateOfferTx(ctx context.Context, tx *sql.Tx, o *domain.Offer) error
	LastOffer(ctx context.Context, negotiationID string) (*domain.Offer, error)
	ListOffers(ctx context.Context, negotiationID string) ([]domain.Offer, error)
	CreateMessageTx(ctx context.Context, tx *sql.Tx, m *domain.Message) error
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]domain.Negotiation, error)
}

// OutboxWriter is the narrow C10 write-side dependency.
type OutboxWriter interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, aggregateType events.AggregateType, aggregateID string, event events.EventData) error
}

// TxRunner wraps one database transaction; *store.OutboxRepository
// already implements it.
type TxRunner interface {
	WithTx(fn func(tx *sql.Tx) error) error
}

// TTLStore resolves the per-commodity negotiation TTL override, with
// inheritance from a configured default (spec §4.9's "default 72h,
// configurable per commodity", mirroring internal/modules/scoring's
// ConfigStore pattern).
type TTLStore interface {
	TTLFor(commodityID string) time.Duration
}

// StaticTTLStore is a TTLStore backed by an in-memory map.
type StaticTTLStore struct {
	Default     time.Duration
	ByCommodity map[string]time.Duration
}

func NewStaticTTLStore(def time.Duration) *StaticTTLStore {
	if def <= 0 {
		def = defaultTTL
	}
	return &StaticTTLStore{Default: def, ByCommodity: map[string]time.Duration{}}
}

func (s *StaticTTLStore) TTLFor(commodityID string) time.Duration {
	if ttl, ok := s.ByCommodity[commodityID]; ok {
		return ttl
	}
	return s.Default
}

// Engine runs the C9 state machine. It holds no negotiation state of
// its own; every transition is read-check-write against Store under
// optimistic concurrency.
type Engine struct {
	store    Store
	outbox   OutboxWriter
	txRunner TxRunner
	ttl      TTLStore
}

func NewEngine(store Store, outbox OutboxWriter, txRunner TxRunner, ttl TTLStore) *Engine {
	return &Engine{store: store, outbox: outbox, txRunner: txRunner, ttl: ttl}
}

func actorFor(partnerID string, req *domain.Requirement, av *domain.Availability) (domain.Actor, bool) {
	switch partnerID {
	case req.BuyerID:
		return domain.ActorBuyer, true
	case av.SellerID:
		return domain.ActorSeller, true
	default:
		return "", false
	}
}

// Start creates a Negotiation in ACTIVE at round 1 with the
// initiator's opening offer. The initiator must be the buyer or the
// seller of the underlying (requirement, availability) pair.
func (e *Engine) Start(ctx context.Context, req *domain.Requirement, av *domain.Availability, initiatorID string, opening domain.Offer) (*domain.Negotiation, domain.Result, error) {
	actor, ok := actorFor(initiatorID, req, av)
	if !ok {
		return nil, domain.Fail(domain.CodeUnauthorized, "initiator is neither the buyer nor the seller of this pair"), nil
	}

	negotiation := &domain.Negotiation{
		RequirementID:  req.ID,
		AvailabilityID: av.ID,
		BuyerID:        req.BuyerID,
		SellerID:       av.SellerID,
		Status:         domain.NegotiationActive,
		LastActor:      actor,
		TTL:            e.ttl.TTLFor(req.CommodityID),
	}

	err := e.txRunner.WithTx(func(tx *sql.Tx) error {
		if err := e.store.CreateTx(ctx, tx, negotiation); err != nil {
			return err
		}
		opening.NegotiationID = negotiation.ID
		opening.Round = negotiation.CurrentRound
		opening.Actor = actor
		if err := e.store.CreateOfferTx(ctx, tx, &opening); err != nil {
			return err
		}
		return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, negotiation.ID, &events.NegotiationStartedData{
			NegotiationID:  negotiation.ID,
			RequirementID:  req.ID,
			AvailabilityID: av.ID,
			InitiatorID:    initiatorID,
		})
	})
	if err != nil {
		return nil, domain.Result{}, err
	}
	return negotiation, domain.OK(), nil
}

// Offer records a new round's counter-offer. Rejected if actor made
// the previous round's offer, or the negotiation is no longer ACTIVE.
// A stale version retries once before surfacing Conflict (spec
// §4.9's "Failure semantics").
func (e *Engine) Offer(ctx context.Context, negotiationID string, actor domain.Actor, offer domain.Offer) (domain.Result, error) {
	const maxAttempts = 2

	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := e.store.GetByID(ctx, negotiationID)
		if err != nil {
			return domain.Result{}, err
		}
		if current.IsTerminal() {
			return domain.Fail(domain.CodeNotActive, "negotiation is no longer active"), nil
		}
		if current.LastActor == actor {
			return domain.Fail(domain.CodeInvalidPair, "actor made the previous round's offer"), nil
		}

		newRound := current.CurrentRound + 1
		err = e.txRunner.WithTx(func(tx *sql.Tx) error {
			if err := e.store.AdvanceRoundTx(ctx, tx, negotiationID, newRound, actor, current.Version); err != nil {
				return err
			}
			offer.NegotiationID = negotiationID
			offer.Round = newRound
			offer.Actor = actor
			if err := e.store.CreateOfferTx(ctx, tx, &offer); err != nil {
				return err
			}
			return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, negotiationID, &events.OfferMadeData{
				NegotiationID: negotiationID,
				Round:         newRound,
				Actor:         string(actor),
				Price:         offer.Price,
			})
		})
		if err == nil {
			return domain.OK(), nil
		}
		if err != domain.ErrConflict {
			return domain.Result{}, err
		}
	}
	return domain.Fail(domain.CodeConflict, "negotiation was updated concurrently"), nil
}

// Accept transitions ACTIVE → ACCEPTED. Allowed only for the actor
// who did not make the last offer. A repeated accept against an
// already-ACCEPTED negotiation is an idempotent no-op (spec §4.9).
func (e *Engine) Accept(ctx context.Context, negotiationID string, actor domain.Actor) (domain.Result, error) {
	current, err := e.store.GetByID(ctx, negotiationID)
	if err != nil {
		return domain.Result{}, err
	}
	if current.Status == domain.NegotiationAccepted {
		return domain.Fail(domain.CodeAlreadyTerminal, "negotiation already accepted"), nil
	}
	if current.IsTerminal() {
		return domain.Fail(domain.CodeNotActive, "negotiation is no longer active"), nil
	}
	if current.LastActor == actor {
		return domain.Fail(domain.CodeInvalidPair, "actor who made the last offer cannot accept it"), nil
	}

	final, err := e.store.LastOffer(ctx, negotiationID)
	if err != nil {
		return domain.Result{}, err
	}

	err = e.txRunner.WithTx(func(tx *sql.Tx) error {
		if err := e.store.TerminateTx(ctx, tx, negotiationID, domain.NegotiationAccepted); err != nil {
			return err
		}
		return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, negotiationID, &events.NegotiationAcceptedData{
			NegotiationID: negotiationID,
			FinalPrice:    final.Price,
			FinalQuantity: final.Quantity,
			AcceptedBy:    string(actor),
		})
	})
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(), nil
}

// Reject transitions ACTIVE → REJECTED. Idempotent against an
// already-REJECTED negotiation.
func (e *Engine) Reject(ctx context.Context, negotiationID string, actor domain.Actor) (domain.Result, error) {
	return e.terminate(ctx, negotiationID, domain.NegotiationRejected, func() events.EventData {
		return &events.NegotiationRejectedData{NegotiationID: negotiationID, RejectedBy: string(actor)}
	})
}

// Withdraw transitions ACTIVE → WITHDRAWN, usable by either party
// (unlike Reject, which the spec frames as a response to an offer).
func (e *Engine) Withdraw(ctx context.Context, negotiationID string, initiatorID string) (domain.Result, error) {
	current, err := e.store.GetByID(ctx, negotiationID)
	if err != nil {
		return domain.Result{}, err
	}
	if current.BuyerID != initiatorID && current.SellerID != initiatorID {
		return domain.Fail(domain.CodeUnauthorized, "initiator is neither party to this negotiation"), nil
	}
	return e.terminate(ctx, negotiationID, domain.NegotiationWithdrawn, func() events.EventData {
		return &events.NegotiationRejectedData{NegotiationID: negotiationID, RejectedBy: initiatorID}
	})
}

func (e *Engine) terminate(ctx context.Context, negotiationID string, status domain.NegotiationStatus, event func() events.EventData) (domain.Result, error) {
	current, err := e.store.GetByID(ctx, negotiationID)
	if err != nil {
		return domain.Result{}, err
	}
	if current.Status == status {
		return domain.Fail(domain.CodeAlreadyTerminal, "negotiation already in this terminal state"), nil
	}
	if current.IsTerminal() {
		return domain.Fail(domain.CodeNotActive, "negotiation is no longer active"), nil
	}

	err = e.txRunner.WithTx(func(tx *sql.Tx) error {
		if err := e.store.TerminateTx(ctx, tx, negotiationID, status); err != nil {
			return err
		}
		return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, negotiationID, event())
	})
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(), nil
}

// Tick sweeps ACTIVE negotiations whose TTL has elapsed and expires
// them (spec §4.9's periodic expiry check).
func (e *Engine) Tick(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.ListActiveExpiredBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range expired {
		err := e.txRunner.WithTx(func(tx *sql.Tx) error {
			if err := e.store.TerminateTx(ctx, tx, n.ID, domain.NegotiationExpired); err != nil {
				return err
			}
			return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, n.ID, &events.NegotiationExpiredData{NegotiationID: n.ID})
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// SendMessage appends a chat entry; it never affects negotiation
// state (spec §4.9's "Messages are append-only").
func (e *Engine) SendMessage(ctx context.Context, negotiationID string, sender domain.Actor, body string) error {
	return e.txRunner.WithTx(func(tx *sql.Tx) error {
		msg := &domain.Message{NegotiationID: negotiationID, SenderRole: sender, Body: body}
		if err := e.store.CreateMessageTx(ctx, tx, msg); err != nil {
			return err
		}
		return e.outbox.EnqueueTx(ctx, tx, events.AggregateNegotiation, negotiationID, &events.MessageSentData{
			NegotiationID: negotiationID,
			SenderRole:    string(sender),
			Body:          body,
		})
	})
}

// SuggestCounter returns a non-binding counter-offer and confidence
// score; it never transitions state (spec §4.9's AI advisory). The
// heuristic here splits the gap between the last two offers — a
// placeholder for a real pricing model, documented as an Open
// Question resolution in the design ledger.
func (e *Engine) SuggestCounter(ctx context.Context, negotiationID string) (*domain.Offer, error) {
	offers, err := e.store.ListOffers(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, domain.ErrNotFound
	}
	last := offers[len(offers)-1]
	suggestion := last
	confidence := 0.5
	if len(offers) >= 2 {
		prev := offers[len(offers)-2]
		suggestion.Price = (prev.Price + last.Price) / 2
		confidence = 0.7
	}
	suggestion.Actor = domain.ActorAI
	suggestion.Confidence = &confidence
	return &suggestion, nil
}

var (
	_ Store        = (*store.NegotiationRepository)(nil)
	_ OutboxWriter = (*store.OutboxRepository)(nil)
	_ TxRunner     = (*store.OutboxRepository)(nil)
)
