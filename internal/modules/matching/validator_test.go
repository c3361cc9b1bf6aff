package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/store"
)

type fakeDocs struct{ docs []domain.PartnerDocument }

func (f fakeDocs) ListByPartner(ctx context.Context, partnerID string) ([]domain.PartnerDocument, error) {
	return f.docs, nil
}

type fakeOrderFinder struct{}

func (fakeOrderFinder) FindOpenOrdersSameDay(ctx context.Context, partnerID, commodityID string, date time.Time) (bool, error) {
	return false, nil
}

type fakeLinker struct{ links store.PartnerLinks }

func (f fakeLinker) FindPartnerLinks(ctx context.Context, p *domain.Partner) (*store.PartnerLinks, error) {
	return &f.links, nil
}

type fakeDedup struct{}

func (fakeDedup) ExistsByDedupHash(ctx context.Context, partnerID, commodityID, dedupHash string) (bool, error) {
	return false, nil
}

func verifiedDoc(docType domain.DocumentType) domain.PartnerDocument {
	return domain.PartnerDocument{ID: domain.NewID(), DocumentType: docType, Verified: true}
}

func newTestValidator(links store.PartnerLinks) *Validator {
	cap := capability.NewResolver(fakeDocs{docs: []domain.PartnerDocument{
		verifiedDoc(domain.DocGST), verifiedDoc(domain.DocPAN),
	}}, capability.StaticSanctions{})
	riskEngine := risk.NewEngine(fakeOrderFinder{}, fakeOrderFinder{}, fakeLinker{links: links}, fakeDedup{}, fakeDedup{}, cap)
	return NewValidator(cap, riskEngine)
}

func baseFixtures() (*domain.Requirement, *domain.Availability, *domain.Partner, *domain.Partner, *domain.Commodity) {
	now := time.Now()
	commodity := &domain.Commodity{ID: "wheat"}
	buyer := &domain.Partner{
		ID: domain.NewID(), PartnerType: domain.PartnerBuyer, PrimaryCountry: "IN",
		Rating: 4.5, PaymentPerformance: 90, DeliveryPerformance: 90, CreditLimit: 1000000,
	}
	seller := &domain.Partner{
		ID: domain.NewID(), PartnerType: domain.PartnerSeller, PrimaryCountry: "IN",
		Rating: 4.5, PaymentPerformance: 90, DeliveryPerformance: 90, CreditLimit: 1000000,
	}
	req := &domain.Requirement{
		ID:          domain.NewID(),
		BuyerID:     buyer.ID,
		CommodityID: commodity.ID,
		Quantity:    100,
		TargetPrice: 100,
		ValidUntil:  now.Add(24 * time.Hour),
		Status:      domain.RequirementActive,
	}
	av := &domain.Availability{
		ID:                domain.NewID(),
		SellerID:          seller.ID,
		CommodityID:       commodity.ID,
		TotalQuantity:     100,
		RemainingQuantity: 100,
		BasePrice:         95,
		ValidUntil:        now.Add(24 * time.Hour),
		Status:            domain.AvailabilityAvailable,
	}
	return req, av, buyer, seller, commodity
}

func TestValidate_HappyPathPasses(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reasons)
}

func TestValidate_CommodityMismatchFails(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	av.CommodityID = "cotton"

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"COMMODITY_MISMATCH"}, result.Reasons)
}

func TestValidate_ExpiredRequirementFails(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	req.ValidUntil = time.Now().Add(-time.Hour)

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"REQUIREMENT_NOT_ACTIVE"}, result.Reasons)
}

func TestValidate_InsufficientQuantityFails(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	av.RemainingQuantity = 10

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"INSUFFICIENT_QUANTITY"}, result.Reasons)
}

func TestValidate_PriceAboveMaxFails(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	maxPrice := 90.0
	req.MaxPrice = &maxPrice

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"PRICE_ABOVE_MAX"}, result.Reasons)
}

func TestValidate_SamePartnerFailsAsInsiderTrading(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, _, commodity := baseFixtures()
	seller := buyer
	av.SellerID = seller.ID

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"INSIDER_TRADING"}, result.Reasons)
}

func TestValidate_SameCorporateGroupFails(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	buyer.CorporateGroupID = "group-1"
	seller.CorporateGroupID = "group-1"

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"SAME_CORPORATE_GROUP"}, result.Reasons)
}

func TestValidate_SharedNationalIDFails(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	v := newTestValidator(store.PartnerLinks{SameNationalID: []string{seller.ID}})

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"SAME_PAN"}, result.Reasons)
}

func TestValidate_SharedMobileWarnsButPasses(t *testing.T) {
	req, av, buyer, seller, commodity := baseFixtures()
	v := newTestValidator(store.PartnerLinks{SameMobile: []string{seller.ID}})

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings, "SAME_MOBILE")
}

func TestValidate_AIBudgetFlagWarnsButPasses(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	req.AIBudgetFlag = true

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings, "AI_BUDGET_UNREALISTIC")
}

func TestValidate_AISuggestedPriceExceededWarns(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	suggested := 80.0
	av.AISuggestedMaxPrice = &suggested // base_price 95 > 80*1.10

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings, "AI_PRICE_ABOVE_SUGGESTED")
}

func TestValidate_LowAdvisoryConfidenceWarns(t *testing.T) {
	v := newTestValidator(store.PartnerLinks{})
	req, av, buyer, seller, commodity := baseFixtures()
	confidence := 0.3

	result, err := v.Validate(context.Background(), req, av, buyer, seller, commodity, &confidence)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings, "AI_LOW_CONFIDENCE")
}
