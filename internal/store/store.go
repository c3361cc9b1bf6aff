// Package store implements the Entity Store (C1): typed persistence
// for partners, requirements, availabilities, matches, negotiations
// and their supporting records, with optimistic concurrency and the
// specialised queries the matching engine depends on.
//
// Write methods take a *sql.Tx. The repositories enqueue no events
// themselves: the callers that mutate orders, matches and negotiations
// enqueue the domain event in the Outbox (C10) within the same
// transaction (spec §4.1).
package store

import (
	"github.com/rnrl/matchengine/internal/database"
)

// Store aggregates the repositories backing the Entity Store. Core
// entities and the Outbox live in the `core` database (ProfileStandard)
// so a mutation and its OutboxRecord commit in one transaction
// (spec §8.1.6); the audit trail lives in `ledger` (ProfileLedger,
// fsync-always); ephemeral dedup/debounce state lives in `cache`
// (ProfileCache).
type Store struct {
	Partners       *PartnerRepository
	Documents      *DocumentRepository
	Commodities    *CommodityRepository
	Requirements   *RequirementRepository
	Availabilities *AvailabilityRepository
	Locations      *LocationRepository
	Matches        *MatchRepository
	Negotiations   *NegotiationRepository
	Outbox         *OutboxRepository
	Audit          *AuditRepository
	Cache          *CacheRepository
}

// New wires a Store over the three logical databases.
func New(core, ledger, cache *database.DB) *Store {
	return &Store{
		Partners:       &PartnerRepository{db: core},
		Documents:      &DocumentRepository{db: core},
		Commodities:    &CommodityRepository{db: core},
		Requirements:   &RequirementRepository{db: core},
		Availabilities: &AvailabilityRepository{db: core},
		Locations:      &LocationRepository{db: core},
		Matches:        &MatchRepository{db: core},
		Negotiations:   &NegotiationRepository{db: core},
		Outbox:         &OutboxRepository{db: core},
		Audit:          &AuditRepository{db: ledger},
		Cache:          &CacheRepository{db: cache},
	}
}
