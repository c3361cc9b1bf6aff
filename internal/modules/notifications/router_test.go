package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
)

type fakeDebounceStore struct {
	allow map[string]bool
}

func (s *fakeDebounceStore) ShouldNotify(ctx context.Context, userID, eventType string, now time.Time, window time.Duration) (bool, error) {
	if s.allow == nil {
		return true, nil
	}
	if v, ok := s.allow[userID]; ok {
		return v, nil
	}
	return true, nil
}

type fakeSender struct {
	sent []Payload
}

func (s *fakeSender) Send(ctx context.Context, channel Channel, userID string, payload Payload) error {
	s.sent = append(s.sent, payload)
	return nil
}

func testMatch() domain.Match {
	return domain.Match{
		ID: "match-1", RequirementID: "req-1", AvailabilityID: "av-1",
		BuyerID: "buyer-1", SellerID: "seller-1", AllocatedQuantity: 100, Score: 0.9,
	}
}

func TestRouter_NotifiesWithinTopN(t *testing.T) {
	prefs := NewStaticPreferenceStore()
	sender := &fakeSender{}
	r := NewRouter(&fakeDebounceStore{}, prefs, sender, time.Minute, 5)

	require.NoError(t, r.NotifyMatch(context.Background(), testMatch(), 1, 2))

	// Both buyer and seller fall back to the two-channel default preference.
	assert.Len(t, sender.sent, 4)
}

func TestRouter_SkipsBeyondTopN(t *testing.T) {
	prefs := NewStaticPreferenceStore()
	prefs.Set("buyer-1", Preference{UserID: "buyer-1", TopNOnly: 3, Channels: []Channel{ChannelEmail}})
	sender := &fakeSender{}
	r := NewRouter(&fakeDebounceStore{}, prefs, sender, time.Minute, 5)

	require.NoError(t, r.NotifyMatch(context.Background(), testMatch(), 4, 1))

	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "buyer-1", sender.sent[0].CounterpartyID)
}

func TestRouter_SkipsOptOut(t *testing.T) {
	prefs := NewStaticPreferenceStore()
	prefs.Set("buyer-1", Preference{UserID: "buyer-1", OptOut: true})
	sender := &fakeSender{}
	r := NewRouter(&fakeDebounceStore{}, prefs, sender, time.Minute, 5)

	require.NoError(t, r.NotifyMatch(context.Background(), testMatch(), 1, 1))

	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "buyer-1", sender.sent[0].CounterpartyID)
}

func TestRouter_SkipsWithinDebounceWindow(t *testing.T) {
	prefs := NewStaticPreferenceStore()
	sender := &fakeSender{}
	r := NewRouter(&fakeDebounceStore{allow: map[string]bool{"buyer-1": false}}, prefs, sender, time.Minute, 5)

	require.NoError(t, r.NotifyMatch(context.Background(), testMatch(), 1, 1))

	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "buyer-1", sender.sent[0].CounterpartyID)
}

func TestRouter_RateLimitsBurstsPerUser(t *testing.T) {
	prefs := NewStaticPreferenceStore()
	sender := &fakeSender{}
	r := NewRouter(&fakeDebounceStore{}, prefs, sender, time.Minute, 5)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.NotifyMatch(context.Background(), testMatch(), 1, 100))
	}

	assert.Less(t, len(sender.sent), 10, "token bucket should have throttled some bursts")
}
