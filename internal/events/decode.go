package events

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a persisted OutboxRecord payload back into its
// typed EventData, keyed by the event_type column (spec §9's
// "persisted JSON is a serialisation boundary only").
func Decode(eventType string, payload []byte) (EventData, error) {
	var out EventData
	switch EventType(eventType) {
	case RequirementCreated:
		out = &RequirementCreatedData{}
	case RequirementStatusChanged:
		out = &RequirementStatusChangedData{}
	case RequirementCancelled:
		out = &RequirementCancelledData{}
	case AvailabilityCreated:
		out = &AvailabilityCreatedData{}
	case AvailabilityStatusChanged:
		out = &AvailabilityStatusChangedData{}
	case AvailabilityCancelled:
		out = &AvailabilityCancelledData{}
	case PartnerStatusChanged:
		out = &PartnerStatusChangedData{}
	case MatchProposed:
		out = &MatchProposedData{}
	case MatchNotified:
		out = &MatchNotifiedData{}
	case MatchRejected:
		out = &MatchRejectedData{}
	case MatchExpired:
		out = &MatchExpiredData{}
	case NegotiationStarted:
		out = &NegotiationStartedData{}
	case OfferMade:
		out = &OfferMadeData{}
	case NegotiationAccepted:
		out = &NegotiationAcceptedData{}
	case NegotiationRejected:
		out = &NegotiationRejectedData{}
	case NegotiationExpired:
		out = &NegotiationExpiredData{}
	case MessageSent:
		out = &MessageSentData{}
	case RiskWarning:
		out = &RiskWarningData{}
	case RiskBlock:
		out = &RiskBlockData{}
	default:
		return nil, fmt.Errorf("events: unknown event type %q", eventType)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("events: decode %q: %w", eventType, err)
	}
	return out, nil
}
