package events

// EventData is the interface every typed event payload implements.
// Payloads are re-encoded through a tagged, validated struct rather
// than carried as loose JSON maps — persisted JSON is a serialisation
// boundary only (spec §9).
type EventData interface {
	EventType() EventType
}

// RequirementCreatedData carries the fields needed to schedule a
// newly-posted buy order for matching.
type RequirementCreatedData struct {
	RequirementID string  `json:"requirement_id"`
	BuyerID       string  `json:"buyer_id"`
	CommodityID   string  `json:"commodity_id"`
	Quantity      float64 `json:"quantity"`
	TargetPrice   float64 `json:"target_price"`
}

func (d *RequirementCreatedData) EventType() EventType { return RequirementCreated }

// RequirementStatusChangedData reports a Requirement lifecycle
// transition.
type RequirementStatusChangedData struct {
	RequirementID string `json:"requirement_id"`
	FromStatus    string `json:"from_status"`
	ToStatus      string `json:"to_status"`
}

func (d *RequirementStatusChangedData) EventType() EventType { return RequirementStatusChanged }

// RequirementCancelledData reports a Requirement cancellation.
type RequirementCancelledData struct {
	RequirementID string `json:"requirement_id"`
	ActorID       string `json:"actor_id"`
}

func (d *RequirementCancelledData) EventType() EventType { return RequirementCancelled }

// AvailabilityCreatedData carries the fields needed to schedule a
// newly-posted sell order for matching.
type AvailabilityCreatedData struct {
	AvailabilityID string  `json:"availability_id"`
	SellerID       string  `json:"seller_id"`
	CommodityID    string  `json:"commodity_id"`
	TotalQuantity  float64 `json:"total_quantity"`
	BasePrice      float64 `json:"base_price"`
}

func (d *AvailabilityCreatedData) EventType() EventType { return AvailabilityCreated }

// AvailabilityStatusChangedData reports an Availability lifecycle
// transition.
type AvailabilityStatusChangedData struct {
	AvailabilityID string `json:"availability_id"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
}

func (d *AvailabilityStatusChangedData) EventType() EventType { return AvailabilityStatusChanged }

// AvailabilityCancelledData reports an Availability cancellation.
type AvailabilityCancelledData struct {
	AvailabilityID string `json:"availability_id"`
	ActorID        string `json:"actor_id"`
}

func (d *AvailabilityCancelledData) EventType() EventType { return AvailabilityCancelled }

// PartnerStatusChangedData triggers cache invalidation and
// re-evaluation of the partner's open orders.
type PartnerStatusChangedData struct {
	PartnerID  string `json:"partner_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

func (d *PartnerStatusChangedData) EventType() EventType { return PartnerStatusChanged }

// MatchProposedData is emitted when C7 persists a new Match; it
// drives C8 notification fan-out.
type MatchProposedData struct {
	MatchID        string  `json:"match_id"`
	RequirementID  string  `json:"requirement_id"`
	AvailabilityID string  `json:"availability_id"`
	BuyerID        string  `json:"buyer_id"`
	SellerID       string  `json:"seller_id"`
	Score          float64 `json:"score"`
	RiskDecision   string  `json:"risk_decision"`
}

func (d *MatchProposedData) EventType() EventType { return MatchProposed }

// MatchNotifiedData marks that C8 completed fan-out for a Match.
type MatchNotifiedData struct {
	MatchID string `json:"match_id"`
}

func (d *MatchNotifiedData) EventType() EventType { return MatchNotified }

// MatchRejectedData reports a Match rejection.
type MatchRejectedData struct {
	MatchID string `json:"match_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (d *MatchRejectedData) EventType() EventType { return MatchRejected }

// MatchExpiredData reports a Match expiring unacted on.
type MatchExpiredData struct {
	MatchID string `json:"match_id"`
}

func (d *MatchExpiredData) EventType() EventType { return MatchExpired }

// NegotiationStartedData is emitted when C9 creates a Negotiation.
type NegotiationStartedData struct {
	NegotiationID  string `json:"negotiation_id"`
	RequirementID  string `json:"requirement_id"`
	AvailabilityID string `json:"availability_id"`
	InitiatorID    string `json:"initiator_id"`
}

func (d *NegotiationStartedData) EventType() EventType { return NegotiationStarted }

// OfferMadeData is emitted for every Offer round.
type OfferMadeData struct {
	NegotiationID string  `json:"negotiation_id"`
	Round         int     `json:"round"`
	Actor         string  `json:"actor"`
	Price         float64 `json:"price"`
}

func (d *OfferMadeData) EventType() EventType { return OfferMade }

// NegotiationAcceptedData carries the final accepted offer terms for
// downstream trade formation (out of scope).
type NegotiationAcceptedData struct {
	NegotiationID string  `json:"negotiation_id"`
	FinalPrice    float64 `json:"final_price"`
	FinalQuantity float64 `json:"final_quantity"`
	AcceptedBy    string  `json:"accepted_by"`
}

func (d *NegotiationAcceptedData) EventType() EventType { return NegotiationAccepted }

// NegotiationRejectedData reports a Negotiation rejection.
type NegotiationRejectedData struct {
	NegotiationID string `json:"negotiation_id"`
	RejectedBy    string `json:"rejected_by"`
}

func (d *NegotiationRejectedData) EventType() EventType { return NegotiationRejected }

// NegotiationExpiredData reports a Negotiation TTL expiry.
type NegotiationExpiredData struct {
	NegotiationID string `json:"negotiation_id"`
}

func (d *NegotiationExpiredData) EventType() EventType { return NegotiationExpired }

// MessageSentData is dispatched to both negotiation parties via C8
// channels in real time.
type MessageSentData struct {
	NegotiationID string `json:"negotiation_id"`
	SenderRole    string `json:"sender_role"`
	Body          string `json:"body"`
}

func (d *MessageSentData) EventType() EventType { return MessageSent }

// RiskWarningData records a non-blocking WARN decision for audit and
// back-office visibility.
type RiskWarningData struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

func (d *RiskWarningData) EventType() EventType { return RiskWarning }

// RiskBlockData records a blocking FAIL decision, e.g. a denied
// international license pairing (Scenario B).
type RiskBlockData struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

func (d *RiskBlockData) EventType() EventType { return RiskBlock }
