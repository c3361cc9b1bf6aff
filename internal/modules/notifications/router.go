// Package notifications implements the Notification Router (C8):
// rate-limited, preference-filtered fan-out of MatchProposed events
// to the buyer and seller top-N users (spec §4.8).
package notifications

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rnrl/matchengine/internal/domain"
)

// Channel is one of the delivery surfaces a user may subscribe to.
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

// Preference is one recipient's opt-in configuration. A Recipient
// with OptOut set never receives a notification regardless of
// channel; TopNOnly caps how many competing matches they hear about
// per requirement/availability (spec §4.8's "notify only top-N").
type Preference struct {
	UserID   string
	OptOut   bool
	TopNOnly int
	Channels []Channel
}

// DebounceStore is the narrow C1 dependency backing the
// 1-notification-per-user-per-minute rule (spec §4.8), satisfied by
// store.CacheRepository.ShouldNotify.
type DebounceStore interface {
	ShouldNotify(ctx context.Context, userID, eventType string, now time.Time, window time.Duration) (bool, error)
}

// PreferenceStore resolves a user's notification preferences.
type PreferenceStore interface {
	PreferenceFor(ctx context.Context, userID string) (Preference, error)
}

// Sender delivers one payload over one channel. Implementations are
// expected to handle their own per-channel retry policy (spec §4.1's
// "each channel exposes send(user_id, payload) -> ack|failure").
type Sender interface {
	Send(ctx context.Context, channel Channel, userID string, payload Payload) error
}

// Payload is the privacy-filtered view of a MatchProposed event sent
// to one recipient: it never carries fields the recipient is not
// authorised to see, and match counts are never exposed to unmatched
// users (spec §4.8's privacy rule).
type Payload struct {
	MatchID        string
	RequirementID  string
	AvailabilityID string
	CounterpartyID string
	Quantity       float64
	Score          float64
	EventType      string
}

// Router is the C8 component. It holds one token-bucket limiter per
// user to smooth bursts beyond the debounce window, mirroring the
// teacher's per-resource rate limiting for outbound I/O.
type Router struct {
	debounce    DebounceStore
	preferences PreferenceStore
	sender      Sender
	window      time.Duration
	defaultTopN int

	limiters   map[string]*rate.Limiter
	limiterRPS rate.Limit
	burst      int
}

func NewRouter(debounce DebounceStore, preferences PreferenceStore, sender Sender, window time.Duration, defaultTopN int) *Router {
	return &Router{
		debounce:    debounce,
		preferences: preferences,
		sender:      sender,
		window:      window,
		defaultTopN: defaultTopN,
		limiters:    make(map[string]*rate.Limiter),
		limiterRPS:  rate.Every(time.Second),
		burst:       3,
	}
}

func (r *Router) limiterFor(userID string) *rate.Limiter {
	if l, ok := r.limiters[userID]; ok {
		return l
	}
	l := rate.NewLimiter(r.limiterRPS, r.burst)
	r.limiters[userID] = l
	return l
}

// NotifyMatch fans a MatchProposed event out to the buyer and seller,
// applying preference, top-N and debounce filtering per recipient
// (spec §4.8). Recipients are ranked candidates for this side of the
// book, most-relevant first; only the first TopN per recipient's
// preference (or the router default) are ever notified — so a
// recipient far down a crowded candidate list correctly hears
// nothing, the "top-N" gate, not a failure.
func (r *Router) NotifyMatch(ctx context.Context, m domain.Match, buyerRank, sellerRank int) error {
	if err := r.notifyOne(ctx, m.BuyerID, buyerRank, Payload{
		MatchID: m.ID, RequirementID: m.RequirementID, AvailabilityID: m.AvailabilityID,
		CounterpartyID: m.SellerID, Quantity: m.AllocatedQuantity, Score: m.Score,
		EventType: "MatchProposed",
	}); err != nil {
		return err
	}
	return r.notifyOne(ctx, m.SellerID, sellerRank, Payload{
		MatchID: m.ID, RequirementID: m.RequirementID, AvailabilityID: m.AvailabilityID,
		CounterpartyID: m.BuyerID, Quantity: m.AllocatedQuantity, Score: m.Score,
		EventType: "MatchProposed",
	})
}

func (r *Router) notifyOne(ctx context.Context, userID string, rank int, payload Payload) error {
	pref, err := r.preferences.PreferenceFor(ctx, userID)
	if err != nil {
		return err
	}
	if pref.OptOut {
		return nil
	}
	topN := pref.TopNOnly
	if topN <= 0 {
		topN = r.defaultTopN
	}
	if rank > topN {
		return nil
	}

	now := time.Now().UTC()
	ok, err := r.debounce.ShouldNotify(ctx, userID, payload.EventType, now, r.window)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if !r.limiterFor(userID).Allow() {
		return nil
	}

	channels := pref.Channels
	if len(channels) == 0 {
		channels = []Channel{ChannelInApp}
	}
	for _, ch := range channels {
		if err := r.sender.Send(ctx, ch, userID, payload); err != nil {
			return err
		}
	}
	return nil
}
