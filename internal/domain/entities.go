package domain

import (
	"time"

	"github.com/google/uuid"
)

// PartnerType enumerates the legal role a Partner trades under.
type PartnerType string

const (
	PartnerBuyer           PartnerType = "BUYER"
	PartnerSeller          PartnerType = "SELLER"
	PartnerTrader          PartnerType = "TRADER"
	PartnerBroker          PartnerType = "BROKER"
	PartnerTransporter     PartnerType = "TRANSPORTER"
	PartnerServiceProvider PartnerType = "SERVICE_PROVIDER"
	PartnerInternal        PartnerType = "INTERNAL"
)

// PartnerStatus is the lifecycle state of a Partner account.
type PartnerStatus string

const (
	PartnerPending   PartnerStatus = "PENDING"
	PartnerActive    PartnerStatus = "ACTIVE"
	PartnerSuspended PartnerStatus = "SUSPENDED"
)

// Side identifies which side of a trade a partner or order represents.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Partner is a legal trading entity.
type Partner struct {
	ID                  string
	LegalName           string
	PartnerType         PartnerType
	PrimaryCountry      string
	TaxID               string
	NationalID          string
	Mobile              string
	Email               string
	Rating              float64
	PaymentPerformance  float64
	DeliveryPerformance float64
	CreditLimit         float64
	CreditUsed          float64
	CorporateGroupID    string
	ParentPartnerID     string
	Status              PartnerStatus
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreditHeadroom returns the unused portion of the partner's credit
// limit.
func (p Partner) CreditHeadroom() float64 {
	h := p.CreditLimit - p.CreditUsed
	if h < 0 {
		return 0
	}
	return h
}

// CreditUtilisation returns credit used as a fraction of the limit,
// or 0 if no limit is set.
func (p Partner) CreditUtilisation() float64 {
	if p.CreditLimit <= 0 {
		return 0
	}
	return p.CreditUsed / p.CreditLimit
}

// DocumentType enumerates the kinds of regulatory documents a partner
// may hold.
type DocumentType string

const (
	DocGST                    DocumentType = "GST"
	DocPAN                    DocumentType = "PAN"
	DocIEC                    DocumentType = "IEC"
	DocForeignExportLicense   DocumentType = "FOREIGN_EXPORT_LICENSE"
	DocForeignImportLicense   DocumentType = "FOREIGN_IMPORT_LICENSE"
)

// PartnerDocument is a verifiable regulatory document belonging to a
// Partner.
type PartnerDocument struct {
	ID           string
	PartnerID    string
	DocumentType DocumentType
	OCRData      map[string]string
	IssueDate    *time.Time
	ExpiryDate   *time.Time
	Verified     bool
	CreatedAt    time.Time
}

// IsExpired reports whether the document's expiry date has passed.
func (d PartnerDocument) IsExpired(now time.Time) bool {
	if d.ExpiryDate == nil {
		return false
	}
	return now.After(*d.ExpiryDate)
}

// Usable reports whether the document can be relied on for a
// capability decision: verified and not expired.
func (d PartnerDocument) Usable(now time.Time) bool {
	return d.Verified && !d.IsExpired(now)
}

// LicenseCountries parses ocr_data.license_countries, a comma
// separated list, or the literal "ALL".
func (d PartnerDocument) LicenseCountries() []string {
	raw, ok := d.OCRData["license_countries"]
	if !ok || raw == "" {
		return nil
	}
	return splitCSV(raw)
}

func splitCSV(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// ExportRegulations describes a commodity's export constraints.
type ExportRegulations struct {
	LicenseRequired      bool
	AcceptedLicenseTypes []DocumentType
	RestrictedCountries  []string
	MinimumExportValue   float64
	PhytosanitaryRequired bool
}

// ImportRegulations describes a commodity's import constraints.
type ImportRegulations struct {
	LicenseRequired      bool
	AcceptedLicenseTypes []DocumentType
	RestrictedCountries  []string
}

// Commodity is a tradeable good with regulatory metadata.
type Commodity struct {
	ID                   string
	Name                 string
	Category             string
	ExportRegulations    ExportRegulations
	ImportRegulations    ImportRegulations
	SupportedCurrencies  []string
	QualityStandards     map[string]QualityRange
	SeasonalCommodity    bool
	HarvestSeason        string
	ShelfLifeDays         int
}

// QualityRange is an accepted [Min,Max] band for one quality
// parameter (e.g. moisture %, foreign-matter %).
type QualityRange struct {
	Min float64
	Max float64
}

// RequirementStatus is the lifecycle state of a buy-side order.
type RequirementStatus string

const (
	RequirementDraft              RequirementStatus = "DRAFT"
	RequirementActive             RequirementStatus = "ACTIVE"
	RequirementPartiallyFulfilled RequirementStatus = "PARTIALLY_FULFILLED"
	RequirementFulfilled          RequirementStatus = "FULFILLED"
	RequirementCancelled          RequirementStatus = "CANCELLED"
	RequirementExpired            RequirementStatus = "EXPIRED"
)

// Location is either a registered location id or an ad-hoc
// coordinate descriptor. RadiusKm is only meaningful on a
// Requirement's delivery_locations entries: it bounds how far an
// ad-hoc Availability may sit from this point and still be a
// candidate (spec §4.4).
type Location struct {
	LocationID string
	Address    string
	Lat        float64
	Lng        float64
	Pincode    string
	Region     string
	RadiusKm   float64
}

// IsAdHoc reports whether this Location has no registered id.
func (l Location) IsAdHoc() bool {
	return l.LocationID == ""
}

// Requirement is an active buy-side order (spec §3.1).
type Requirement struct {
	ID                    string
	BuyerID               string
	CommodityID           string
	Quantity              float64
	Unit                  string
	TargetPrice           float64
	MaxPrice              *float64
	DeliveryLocations     []Location
	AcceptedQualityParams map[string]QualityRange
	ValidUntil            time.Time
	Status                RequirementStatus
	RiskPrecheckStatus    Status
	AIBudgetFlag          bool
	DedupHash             string
	IdempotencyKey        string
	Version               int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsOpen reports whether the requirement can still take allocations:
// its status is ACTIVE or PARTIALLY_FULFILLED.
func (r Requirement) IsOpen() bool {
	return r.Status == RequirementActive || r.Status == RequirementPartiallyFulfilled
}

// AvailabilityStatus is the lifecycle state of a sell-side order.
type AvailabilityStatus string

const (
	AvailabilityAvailable     AvailabilityStatus = "AVAILABLE"
	AvailabilityPartiallySold AvailabilityStatus = "PARTIALLY_SOLD"
	AvailabilitySoldOut       AvailabilityStatus = "SOLD_OUT"
	AvailabilityCancelled     AvailabilityStatus = "CANCELLED"
	AvailabilityExpired       AvailabilityStatus = "EXPIRED"
)

// Availability is an active sell-side order (spec §3.1).
type Availability struct {
	ID                   string
	SellerID             string
	CommodityID          string
	TotalQuantity        float64
	RemainingQuantity    float64
	BasePrice            float64
	Currency             string
	Location             Location
	QualityParams        map[string]float64
	ValidUntil           time.Time
	Status               AvailabilityStatus
	AISuggestedMaxPrice  *float64
	AIRecommendedSellers []string
	DedupHash            string
	IdempotencyKey       string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsOpen reports whether the availability still accepts allocations.
func (a Availability) IsOpen() bool {
	return a.Status == AvailabilityAvailable || a.Status == AvailabilityPartiallySold
}

// MatchStatus is the lifecycle state of a proposed pairing.
type MatchStatus string

const (
	MatchProposed         MatchStatus = "PROPOSED"
	MatchNotified         MatchStatus = "NOTIFIED"
	MatchAcceptedByBuyer  MatchStatus = "ACCEPTED_BY_BUYER"
	MatchInNegotiation    MatchStatus = "IN_NEGOTIATION"
	MatchConcluded        MatchStatus = "CONCLUDED"
	MatchRejected         MatchStatus = "REJECTED"
	MatchExpired          MatchStatus = "EXPIRED"
)

// ActiveMatchStatuses are statuses counted toward the "at most one
// active match per (requirement, availability)" invariant (§3.3.3).
var ActiveMatchStatuses = []MatchStatus{
	MatchProposed, MatchNotified, MatchAcceptedByBuyer, MatchInNegotiation,
}

// ScoreBreakdown retains each sub-score for explainability (§4.7).
type ScoreBreakdown struct {
	Quality  float64
	Price    float64
	Delivery float64
	Risk     float64
	WarnPenaltyApplied bool
	AIBoostApplied     bool
}

// Match is an engine-proposed pairing of a Requirement with an
// Availability (spec §3.1).
type Match struct {
	ID                string
	RequirementID     string
	AvailabilityID    string
	BuyerID           string
	SellerID          string
	AllocatedQuantity float64
	Score             float64
	ScoreBreakdown    ScoreBreakdown
	RiskDecision      Status
	RiskDetails       map[string]any
	Status            MatchStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NegotiationStatus is the lifecycle state of a negotiation (§3.4).
type NegotiationStatus string

const (
	NegotiationActive     NegotiationStatus = "ACTIVE"
	NegotiationAccepted   NegotiationStatus = "ACCEPTED"
	NegotiationRejected   NegotiationStatus = "REJECTED"
	NegotiationExpired    NegotiationStatus = "EXPIRED"
	NegotiationWithdrawn  NegotiationStatus = "WITHDRAWN"
)

// Negotiation is a bounded sequence of Offers between the parties of
// a (Requirement, Availability) pair.
type Negotiation struct {
	ID              string
	RequirementID   string
	AvailabilityID  string
	BuyerID         string
	SellerID        string
	CurrentRound    int
	Status          NegotiationStatus
	LastActor       Actor
	TTL             time.Duration
	Version         int
	CreatedAt       time.Time
	TerminatedAt    *time.Time
}

// IsTerminal reports whether the negotiation has reached one of its
// one-way terminal states (§3.3.7).
func (n Negotiation) IsTerminal() bool {
	return n.Status != NegotiationActive
}

// IsExpired reports whether the negotiation's TTL has elapsed as of
// `now` (§4.9 tick).
func (n Negotiation) IsExpired(now time.Time) bool {
	return now.After(n.CreatedAt.Add(n.TTL))
}

// Actor identifies who made an Offer or sent a Message.
type Actor string

const (
	ActorBuyer   Actor = "BUYER"
	ActorSeller  Actor = "SELLER"
	ActorAI      Actor = "AI_ADVISORY"
	ActorSystem  Actor = "SYSTEM"
)

// Offer is one round's price/terms proposal within a Negotiation.
type Offer struct {
	ID             string
	NegotiationID  string
	Round          int
	Actor          Actor
	Price          float64
	Quantity       float64
	DeliveryTerms  string
	PaymentTerms   string
	QualityTerms   string
	Confidence     *float64
	CreatedAt      time.Time
}

// Message is an append-only chat entry attached to a Negotiation.
type Message struct {
	ID             string
	NegotiationID  string
	SenderRole     Actor
	Body           string
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// OutboxRecord is a transactionally-written domain event awaiting
// dispatch (C10).
type OutboxRecord struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	Attempts      int
	NextRetryAt   time.Time
	Dead          bool
}

// AuditEntry records a decision or state change for explainability
// and compliance review.
type AuditEntry struct {
	ID             string
	ActorID        string
	Action         string
	TargetType     string
	TargetID       string
	BeforeSnapshot []byte
	AfterSnapshot  []byte
	CreatedAt      time.Time
}

// NewID generates a new entity identifier.
func NewID() string {
	return uuid.New().String()
}
