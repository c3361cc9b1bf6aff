package events

// EventType enumerates the domain events published via the Outbox
// (spec §6.2).
type EventType string

const (
	RequirementCreated       EventType = "RequirementCreated"
	RequirementUpdated       EventType = "RequirementUpdated"
	RequirementCancelled     EventType = "RequirementCancelled"
	RequirementStatusChanged EventType = "RequirementStatusChanged"

	AvailabilityCreated       EventType = "AvailabilityCreated"
	AvailabilityUpdated       EventType = "AvailabilityUpdated"
	AvailabilityCancelled     EventType = "AvailabilityCancelled"
	AvailabilityStatusChanged EventType = "AvailabilityStatusChanged"

	PartnerStatusChanged EventType = "PartnerStatusChanged"

	MatchProposed EventType = "MatchProposed"
	MatchNotified EventType = "MatchNotified"
	MatchRejected EventType = "MatchRejected"
	MatchExpired  EventType = "MatchExpired"

	NegotiationStarted   EventType = "NegotiationStarted"
	OfferMade            EventType = "OfferMade"
	NegotiationAccepted  EventType = "NegotiationAccepted"
	NegotiationRejected  EventType = "NegotiationRejected"
	NegotiationExpired   EventType = "NegotiationExpired"
	MessageSent          EventType = "MessageSent"

	RiskWarning EventType = "RiskWarning"
	RiskBlock   EventType = "RiskBlock"
)

// AggregateType names the aggregate an OutboxRecord belongs to.
type AggregateType string

const (
	AggregatePartner      AggregateType = "partner"
	AggregateRequirement  AggregateType = "requirement"
	AggregateAvailability AggregateType = "availability"
	AggregateMatch        AggregateType = "match"
	AggregateNegotiation  AggregateType = "negotiation"
)
