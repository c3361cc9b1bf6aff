package app

import (
	"context"
	"sort"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/events"
	"github.com/rnrl/matchengine/internal/modules/matching"
	"github.com/rnrl/matchengine/internal/modules/notifications"
	"github.com/rnrl/matchengine/internal/outbox"
	"github.com/rnrl/matchengine/internal/store"
)

// SchedulerSubscriber re-enqueues the subject of a newly-created
// order for matching, the C10-to-C7 handoff named in spec §4.10
// ("RequirementCreated and AvailabilityCreated -> C7 scheduler").
type SchedulerSubscriber struct {
	scheduler MatchScheduler
}

func NewSchedulerSubscriber(scheduler MatchScheduler) *SchedulerSubscriber {
	return &SchedulerSubscriber{scheduler: scheduler}
}

func (s *SchedulerSubscriber) Handle(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
	switch e := event.(type) {
	case *events.RequirementCreatedData:
		s.scheduler.Enqueue(matching.SubjectRequirement, e.RequirementID, matching.PriorityHigh)
	case *events.AvailabilityCreatedData:
		s.scheduler.Enqueue(matching.SubjectAvailability, e.AvailabilityID, matching.PriorityHigh)
	case *events.PartnerStatusChangedData:
		// Re-evaluation on reinstatement: open orders belonging to the
		// partner are swept back in at low priority rather than
		// individually re-enqueued here (spec §4.10's "PartnerStatusChanged
		// -> C7 re-evaluation"; the periodic sweeper picks these up).
	}
	return nil
}

// NotificationSubscriber fans a persisted Match out to its buyer and
// seller via the Notification Router, ranking each recipient against
// their own open orders' competing matches for the top-N gate (spec
// §4.8).
type NotificationSubscriber struct {
	matches *store.MatchRepository
	router  *notifications.Router
}

func NewNotificationSubscriber(matches *store.MatchRepository, router *notifications.Router) *NotificationSubscriber {
	return &NotificationSubscriber{matches: matches, router: router}
}

func (s *NotificationSubscriber) Handle(ctx context.Context, record domain.OutboxRecord, event events.EventData) error {
	data, ok := event.(*events.MatchProposedData)
	if !ok {
		return nil
	}
	m, err := s.matches.GetByID(ctx, data.MatchID)
	if err != nil {
		return err
	}

	buyerRank, err := s.rankWithin(ctx, m.RequirementID, "", m.ID)
	if err != nil {
		return err
	}
	sellerRank, err := s.rankWithin(ctx, "", m.AvailabilityID, m.ID)
	if err != nil {
		return err
	}
	return s.router.NotifyMatch(ctx, *m, buyerRank, sellerRank)
}

// rankWithin returns the 1-based position of matchID by descending
// score among the active matches for the given requirement or
// availability, implementing the "notify only top-N" preference gate
// (spec §4.8).
func (s *NotificationSubscriber) rankWithin(ctx context.Context, requirementID, availabilityID, matchID string) (int, error) {
	const maxSiblings = 1000
	var siblings []domain.Match
	var err error
	if requirementID != "" {
		siblings, err = s.matches.ListByRequirement(ctx, requirementID, maxSiblings, 0)
	} else {
		siblings, err = s.matches.ListByAvailability(ctx, availabilityID, maxSiblings, 0)
	}
	if err != nil {
		return 0, err
	}
	sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Score > siblings[j].Score })
	for i, sib := range siblings {
		if sib.ID == matchID {
			return i + 1, nil
		}
	}
	return len(siblings) + 1, nil
}

var _ outbox.Subscriber = (*SchedulerSubscriber)(nil)
var _ outbox.Subscriber = (*NotificationSubscriber)(nil)
