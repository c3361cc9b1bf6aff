package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/store"
)

type stubOrderFinder struct{ found bool }

func (s stubOrderFinder) FindOpenOrdersSameDay(ctx context.Context, partnerID, commodityID string, date time.Time) (bool, error) {
	return s.found, nil
}

type stubLinker struct{ links store.PartnerLinks }

func (s stubLinker) FindPartnerLinks(ctx context.Context, p *domain.Partner) (*store.PartnerLinks, error) {
	return &s.links, nil
}

type stubDedup struct{ exists bool }

func (s stubDedup) ExistsByDedupHash(ctx context.Context, partnerID, commodityID, dedupHash string) (bool, error) {
	return s.exists, nil
}

type stubCapability struct{ decision domain.Decision }

func (s stubCapability) Resolve(ctx context.Context, partner *domain.Partner, side domain.Side, tradeCountry string, commodity *domain.Commodity) domain.Decision {
	if s.decision.Status == "" {
		return domain.Pass("ALLOWED")
	}
	return s.decision
}

func newEngine(opposite bool, links store.PartnerLinks) *Engine {
	return NewEngine(stubOrderFinder{found: opposite}, stubOrderFinder{found: opposite}, stubLinker{links: links}, stubDedup{}, stubDedup{}, stubCapability{})
}

func TestValidateRole(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})

	trader := &domain.Partner{PartnerType: domain.PartnerTrader}
	assert.Equal(t, domain.StatusPass, e.ValidateRole(trader, domain.SideSell).Status)

	buyer := &domain.Partner{PartnerType: domain.PartnerBuyer}
	d := e.ValidateRole(buyer, domain.SideSell)
	assert.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "ROLE_VIOLATION", d.Code)

	seller := &domain.Partner{PartnerType: domain.PartnerSeller}
	d = e.ValidateRole(seller, domain.SideBuy)
	assert.Equal(t, domain.StatusFail, d.Status)
}

func TestCheckCircularTrading_TraderSameDayOppositeSideFails(t *testing.T) {
	trader := &domain.Partner{ID: domain.NewID(), PartnerType: domain.PartnerTrader}
	today := time.Now()

	e := newEngine(true, store.PartnerLinks{})
	d, err := e.CheckCircularTrading(context.Background(), trader, "wheat", domain.SideBuy, today)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "CIRCULAR_TRADING", d.Code)
}

func TestCheckCircularTrading_CrossDayFlipAllowed(t *testing.T) {
	trader := &domain.Partner{ID: domain.NewID(), PartnerType: domain.PartnerTrader}
	e := newEngine(false, store.PartnerLinks{})

	d, err := e.CheckCircularTrading(context.Background(), trader, "wheat", domain.SideSell, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPass, d.Status)
}

func TestCheckCircularTrading_NonTraderAlwaysPasses(t *testing.T) {
	buyer := &domain.Partner{ID: domain.NewID(), PartnerType: domain.PartnerBuyer}
	e := newEngine(true, store.PartnerLinks{})

	d, err := e.CheckCircularTrading(context.Background(), buyer, "wheat", domain.SideBuy, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPass, d.Status)
}

func TestAssessPartnerRisk_HighCreditGoodRatingPasses(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	p := &domain.Partner{CreditLimit: 100000, CreditUsed: 10000, Rating: 4.5, PaymentPerformance: 95}

	a := e.AssessBuyerRisk(p, 20000)
	assert.Equal(t, domain.StatusPass, a.Status)
	assert.True(t, a.Score >= passThreshold)
}

func TestAssessPartnerRisk_NoHeadroomFails(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	p := &domain.Partner{CreditLimit: 1000, CreditUsed: 999, Rating: 1.0, PaymentPerformance: 20}

	a := e.AssessSellerRisk(p, 50000)
	assert.Equal(t, domain.StatusFail, a.Status)
}

func TestCheckPartyLinks(t *testing.T) {
	seller := &domain.Partner{ID: "seller-1"}
	buyer := &domain.Partner{ID: "buyer-1"}

	t.Run("same national id fails", func(t *testing.T) {
		e := newEngine(false, store.PartnerLinks{SameNationalID: []string{"seller-1"}})
		d, err := e.CheckPartyLinks(context.Background(), buyer, seller)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFail, d.Status)
		assert.Equal(t, "SAME_PAN", d.Code)
	})

	t.Run("same mobile warns", func(t *testing.T) {
		e := newEngine(false, store.PartnerLinks{SameMobile: []string{"seller-1"}})
		d, err := e.CheckPartyLinks(context.Background(), buyer, seller)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusWarn, d.Status)
	})

	t.Run("unrelated partners pass", func(t *testing.T) {
		e := newEngine(false, store.PartnerLinks{})
		d, err := e.CheckPartyLinks(context.Background(), buyer, seller)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPass, d.Status)
	})
}

func TestAssessTradeRisk_PartyLinksFailOverridesPassingScores(t *testing.T) {
	buyer := &domain.Partner{ID: "buyer-1", CreditLimit: 100000, CreditUsed: 1000, Rating: 5, PaymentPerformance: 99}
	seller := &domain.Partner{ID: "seller-1", CreditLimit: 100000, CreditUsed: 1000, Rating: 5, DeliveryPerformance: 99}

	e := newEngine(false, store.PartnerLinks{SameTaxID: []string{"seller-1"}})
	result, err := e.AssessTradeRisk(context.Background(), buyer, seller, nil, nil, 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFail, result.Status)
	assert.Equal(t, "SAME_TAX_ID", result.Code)
}

func TestAssessTradeRisk_SamePartnerIsInsiderTrading(t *testing.T) {
	partner := &domain.Partner{ID: "p-1", CreditLimit: 100000, CreditUsed: 0, Rating: 5, PaymentPerformance: 100, DeliveryPerformance: 100}
	e := newEngine(false, store.PartnerLinks{})

	result, err := e.AssessTradeRisk(context.Background(), partner, partner, nil, nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFail, result.Status)
	assert.Equal(t, "INSIDER_TRADING", result.Code)
}

func TestMonitorExposure(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})

	green := &domain.Partner{CreditLimit: 100000, CreditUsed: 10000}
	assert.Equal(t, "GREEN", e.MonitorExposure(green))

	yellow := &domain.Partner{CreditLimit: 100000, CreditUsed: 70000}
	assert.Equal(t, "YELLOW", e.MonitorExposure(yellow))

	red := &domain.Partner{CreditLimit: 100000, CreditUsed: 90000}
	assert.Equal(t, "RED", e.MonitorExposure(red))
}

func TestCheckDuplicate(t *testing.T) {
	e := NewEngine(stubOrderFinder{}, stubOrderFinder{}, stubLinker{}, stubDedup{exists: true}, stubDedup{exists: false}, stubCapability{})

	d, err := e.CheckDuplicate(context.Background(), domain.SideBuy, "buyer-1", "wheat", "hash")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "DUPLICATE_ORDER", d.Code)

	d, err = e.CheckDuplicate(context.Background(), domain.SideSell, "seller-1", "wheat", "hash")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPass, d.Status)
}

func TestPredictDefaultRisk_LowConfidenceAlwaysDeclared(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	p := &domain.Partner{CreditLimit: 100000, CreditUsed: 95000, Rating: 1, PaymentPerformance: 10}

	pred := e.PredictDefaultRisk(p, 20000)
	assert.Equal(t, "low", pred.Confidence)
	assert.Equal(t, "CRITICAL", pred.RiskLevel)
}

func TestAssessInternationalFlow_SameCountryIsDomestic(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	buyer := &domain.Partner{ID: "buyer-1", PrimaryCountry: "IN"}
	seller := &domain.Partner{ID: "seller-1", PrimaryCountry: "IN"}

	result := e.AssessInternationalFlow(context.Background(), buyer, seller, nil, nil, 1000)
	assert.Equal(t, domain.StatusPass, result.Status)
	assert.Equal(t, "DOMESTIC", result.Code)
}

func TestAssessInternationalFlow_CapabilityFailShortCircuits(t *testing.T) {
	e := NewEngine(stubOrderFinder{}, stubOrderFinder{}, stubLinker{}, stubDedup{}, stubDedup{},
		stubCapability{decision: domain.FailDecision("SANCTIONED_COUNTRY", "blocked")})
	buyer := &domain.Partner{ID: "buyer-1", PrimaryCountry: "IN"}
	seller := &domain.Partner{ID: "seller-1", PrimaryCountry: "US"}

	result := e.AssessInternationalFlow(context.Background(), buyer, seller, nil, nil, 1000)
	assert.Equal(t, domain.StatusFail, result.Status)
	assert.Equal(t, "SANCTIONED_COUNTRY", result.Code)
}

func TestAssessInternationalFlow_UnsupportedCurrencyFails(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	buyer := &domain.Partner{ID: "buyer-1", PrimaryCountry: "IN"}
	seller := &domain.Partner{ID: "seller-1", PrimaryCountry: "US"}
	av := &domain.Availability{Currency: "EUR"}
	commodity := &domain.Commodity{SupportedCurrencies: []string{"USD", "INR"}}

	result := e.AssessInternationalFlow(context.Background(), buyer, seller, av, commodity, 1000)
	assert.Equal(t, domain.StatusFail, result.Status)
	assert.Equal(t, "CURRENCY_NOT_SUPPORTED", result.Code)
}

func TestAssessInternationalFlow_AdvisoriesWarnButPass(t *testing.T) {
	e := newEngine(false, store.PartnerLinks{})
	buyer := &domain.Partner{ID: "buyer-1", PrimaryCountry: "IN"}
	seller := &domain.Partner{ID: "seller-1", PrimaryCountry: "US"}
	av := &domain.Availability{Currency: "USD", QualityParams: map[string]float64{"moisture": 20}}
	commodity := &domain.Commodity{
		SupportedCurrencies: []string{"USD"},
		QualityStandards:    map[string]domain.QualityRange{"moisture": {Min: 0, Max: 12}},
		ExportRegulations:   domain.ExportRegulations{PhytosanitaryRequired: true, MinimumExportValue: 5000},
	}

	result := e.AssessInternationalFlow(context.Background(), buyer, seller, av, commodity, 10000)
	assert.Equal(t, domain.StatusWarn, result.Status)
	assert.Contains(t, result.Warnings, "PHYTOSANITARY_ADVISORY")
	assert.Contains(t, result.Warnings, "QUALITY_STANDARD_ADVISORY")
	assert.Contains(t, result.Warnings, "PAYMENT_TERMS_ADVISORY")
}
