// Package di wires the engine's databases, repositories and domain
// services together, staged the way the teacher's internal/di/wire.go
// does: each stage's failure unwinds every database opened by a prior
// stage before returning.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rnrl/matchengine/internal/app"
	"github.com/rnrl/matchengine/internal/config"
	"github.com/rnrl/matchengine/internal/database"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/location"
	"github.com/rnrl/matchengine/internal/modules/matching"
	"github.com/rnrl/matchengine/internal/modules/negotiation"
	"github.com/rnrl/matchengine/internal/modules/notifications"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/modules/scoring"
	"github.com/rnrl/matchengine/internal/outbox"
	"github.com/rnrl/matchengine/internal/reliability"
	"github.com/rnrl/matchengine/internal/store"
)

// Container holds every wired component cmd/server needs to start and
// stop the engine.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	CoreDB  *database.DB
	LedgerDB *database.DB
	CacheDB *database.DB

	Store *store.Store

	Capability  *capability.Resolver
	Risk        *risk.Engine
	Location    *location.Filter
	Scoring     *scoring.StaticConfigStore
	Matching    *matching.Engine
	Negotiation *negotiation.Engine
	Notifications *notifications.Router

	App *app.Service

	Outbox       *outbox.Dispatcher
	Reliability  *reliability.HealthMonitor
}

// Close shuts down every database connection. Safe to call on a
// partially-wired Container (nil fields are skipped).
func (c *Container) Close() {
	for _, db := range []*database.DB{c.CoreDB, c.LedgerDB, c.CacheDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}

// Wire constructs the full dependency graph in four stages —
// databases, repositories, domain services, background jobs —
// mirroring the teacher's Wire staging (spec §9's component list).
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	if err := c.initDatabases(cfg); err != nil {
		return nil, err
	}
	c.initStore()
	c.initServices(cfg, log)
	c.initJobs(cfg, log)

	return c, nil
}

func (c *Container) initDatabases(cfg *config.Config) error {
	coreDB, err := database.New(database.Config{
		Path: cfg.DataDir + "/core.db", Profile: database.ProfileStandard, Name: "core",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize core database: %w", err)
	}
	c.CoreDB = coreDB

	ledgerDB, err := database.New(database.Config{
		Path: cfg.DataDir + "/ledger.db", Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		coreDB.Close()
		return fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	c.LedgerDB = ledgerDB

	cacheDB, err := database.New(database.Config{
		Path: cfg.DataDir + "/cache.db", Profile: database.ProfileCache, Name: "cache",
	})
	if err != nil {
		coreDB.Close()
		ledgerDB.Close()
		return fmt.Errorf("failed to initialize cache database: %w", err)
	}
	c.CacheDB = cacheDB

	for _, db := range []*database.DB{coreDB, ledgerDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			c.Close()
			return fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}
	return nil
}

func (c *Container) initStore() {
	c.Store = store.New(c.CoreDB, c.LedgerDB, c.CacheDB)
}

func (c *Container) initServices(cfg *config.Config, log zerolog.Logger) {
	st := c.Store

	sanctions := capability.StaticSanctions{}
	c.Capability = capability.NewResolver(st.Documents, sanctions)

	c.Risk = risk.NewEngine(st.Requirements, st.Availabilities, st.Partners, st.Requirements, st.Availabilities, c.Capability)

	c.Location = location.NewFilter(st.Availabilities, st.Requirements, st.Locations)

	c.Scoring = scoring.NewStaticConfigStore()

	validator := matching.NewValidator(c.Capability, c.Risk)

	c.Matching = matching.NewEngine(
		st.Requirements, st.Availabilities, st.Matches, st.Partners, st.Commodities,
		c.Location, validator, c.Scoring, st.Outbox, st.Outbox,
		*cfg, log,
	)

	c.Negotiation = negotiation.NewEngine(
		st.Negotiations, st.Outbox, st.Outbox,
		negotiation.NewStaticTTLStore(cfg.NegotiationDefaultTTL),
	)

	c.Notifications = notifications.NewRouter(
		st.Cache, notifications.NewStaticPreferenceStore(), notifications.NewLoggingSender(log),
		cfg.NotificationDebounce, cfg.NotificationTopN,
	)

	c.App = app.NewService(st, c.Capability, c.Risk, c.Matching, c.Negotiation, log)
}

func (c *Container) initJobs(cfg *config.Config, log zerolog.Logger) {
	dispatcher := outbox.NewDispatcher(c.Store.Outbox, cfg.OutboxPollInterval, 50, cfg.OutboxMaxAttempts, cfg.OutboxBackoff, log)
	dispatcher.Subscribe("RequirementCreated", app.NewSchedulerSubscriber(c.Matching))
	dispatcher.Subscribe("AvailabilityCreated", app.NewSchedulerSubscriber(c.Matching))
	dispatcher.Subscribe("PartnerStatusChanged", app.NewSchedulerSubscriber(c.Matching))
	dispatcher.Subscribe("MatchProposed", app.NewNotificationSubscriber(c.Store.Matches, c.Notifications))
	c.Outbox = dispatcher

	c.Reliability = reliability.NewHealthMonitor(map[string]reliability.DatabaseChecker{
		"core": c.CoreDB, "ledger": c.LedgerDB, "cache": c.CacheDB,
	}, cfg.DataDir, cfg.SweeperInterval, log)
}
