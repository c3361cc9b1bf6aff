package notifications

import (
	"context"

	"github.com/rs/zerolog"
)

// StaticPreferenceStore resolves preferences from an in-memory map,
// falling back to a channel-only default for any unknown user. It is
// the notification-side analogue of scoring.StaticConfigStore: a
// small table until a real preference-management surface exists.
type StaticPreferenceStore struct {
	byUser   map[string]Preference
	fallback Preference
}

func NewStaticPreferenceStore() *StaticPreferenceStore {
	return &StaticPreferenceStore{
		byUser:   make(map[string]Preference),
		fallback: Preference{Channels: []Channel{ChannelInApp, ChannelEmail}},
	}
}

func (s *StaticPreferenceStore) Set(userID string, pref Preference) {
	pref.UserID = userID
	s.byUser[userID] = pref
}

func (s *StaticPreferenceStore) PreferenceFor(ctx context.Context, userID string) (Preference, error) {
	if p, ok := s.byUser[userID]; ok {
		return p, nil
	}
	p := s.fallback
	p.UserID = userID
	return p, nil
}

// LoggingSender delivers notifications via structured log lines. It
// is the channel implementation wired by default; a production
// deployment replaces it with real PUSH/EMAIL/SMS integrations behind
// the same Sender interface.
type LoggingSender struct {
	log zerolog.Logger
}

func NewLoggingSender(log zerolog.Logger) *LoggingSender {
	return &LoggingSender{log: log.With().Str("component", "notifications").Logger()}
}

func (s *LoggingSender) Send(ctx context.Context, channel Channel, userID string, payload Payload) error {
	s.log.Info().
		Str("channel", string(channel)).
		Str("user_id", userID).
		Str("match_id", payload.MatchID).
		Str("event_type", payload.EventType).
		Float64("score", payload.Score).
		Msg("notification dispatched")
	return nil
}

var _ PreferenceStore = (*StaticPreferenceStore)(nil)
var _ Sender = (*LoggingSender)(nil)
