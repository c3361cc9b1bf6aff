package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/modules/capability"
	"github.com/rnrl/matchengine/internal/modules/negotiation"
	"github.com/rnrl/matchengine/internal/modules/risk"
	"github.com/rnrl/matchengine/internal/store"
	itesting "github.com/rnrl/matchengine/internal/testing"
)

func newTestService(t *testing.T) (*Service, *store.Store, *itesting.MockMatchScheduler) {
	t.Helper()

	coreDB, cleanupCore := itesting.NewCoreTestDB(t)
	t.Cleanup(cleanupCore)
	ledgerDB, cleanupLedger := itesting.NewLedgerTestDB(t)
	t.Cleanup(cleanupLedger)
	cacheDB, cleanupCache := itesting.NewCacheTestDB(t)
	t.Cleanup(cleanupCache)

	st := store.New(coreDB, ledgerDB, cacheDB)

	cap := capability.NewResolver(st.Documents, capability.StaticSanctions{})
	riskEngine := risk.NewEngine(st.Requirements, st.Availabilities, st.Partners, st.Requirements, st.Availabilities, cap)
	negotiationEngine := negotiation.NewEngine(st.Negotiations, st.Outbox, st.Outbox, negotiation.NewStaticTTLStore(72*time.Hour))
	scheduler := itesting.NewMockMatchScheduler()

	svc := NewService(st, cap, riskEngine, scheduler, negotiationEngine, zerolog.Nop())
	return svc, st, scheduler
}

func createTestPartner(t *testing.T, st *store.Store, id string, partnerType domain.PartnerType) *domain.Partner {
	t.Helper()
	p := &domain.Partner{
		ID: id, LegalName: id, PartnerType: partnerType, PrimaryCountry: "IN",
		Status: domain.PartnerActive,
	}
	require.NoError(t, st.Partners.Create(context.Background(), nil, p))
	return p
}

func TestCreateRequirement_PersistsAndSchedulesMatching(t *testing.T) {
	svc, _, scheduler := newTestService(t)
	createTestPartner(t, svc.store, "buyer-1", domain.PartnerBuyer)

	cmd := CreateRequirementCommand{
		BuyerID: "buyer-1", CommodityID: "wheat", Quantity: 100, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour),
		IdempotencyKey: "idem-1",
	}

	req, res, err := svc.CreateRequirement(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.IsOK())
	require.NotNil(t, req)
	assert.Equal(t, domain.RequirementActive, req.Status)
	assert.Equal(t, 1, scheduler.Len())
}

func TestCreateRequirement_IdempotentReplayReturnsSameEntity(t *testing.T) {
	svc, _, scheduler := newTestService(t)
	createTestPartner(t, svc.store, "buyer-1", domain.PartnerBuyer)

	cmd := CreateRequirementCommand{
		BuyerID: "buyer-1", CommodityID: "wheat", Quantity: 100, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour),
		IdempotencyKey: "idem-replay",
	}

	first, res, err := svc.CreateRequirement(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.IsOK())

	second, res2, err := svc.CreateRequirement(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res2.IsOK())

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, scheduler.Len(), "replayed command must not re-enqueue matching")
}

func TestCreateRequirement_RejectsInactivePartner(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := createTestPartner(t, st, "buyer-2", domain.PartnerBuyer)
	require.NoError(t, st.Outbox.WithTx(func(tx *sql.Tx) error {
		return st.Partners.UpdateStatusTx(context.Background(), tx, p.ID, domain.PartnerSuspended, p.Version)
	}))

	cmd := CreateRequirementCommand{
		BuyerID: "buyer-2", CommodityID: "wheat", Quantity: 100, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour),
		IdempotencyKey: "idem-2",
	}

	_, res, err := svc.CreateRequirement(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, res.IsOK())
	assert.Equal(t, domain.CodeUnauthorized, res.Code)
}

func TestCreateRequirement_RejectsSellerPostingABuyOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	createTestPartner(t, svc.store, "seller-as-buyer", domain.PartnerSeller)

	cmd := CreateRequirementCommand{
		BuyerID: "seller-as-buyer", CommodityID: "wheat", Quantity: 100, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour),
		IdempotencyKey: "idem-3",
	}

	_, res, err := svc.CreateRequirement(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, res.IsOK())
	assert.Equal(t, domain.CodeRoleViolation, res.Code)
}

func TestCreateAvailability_RejectsAmbiguousLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	createTestPartner(t, svc.store, "seller-1", domain.PartnerSeller)

	cmd := CreateAvailabilityCommand{
		SellerID: "seller-1", CommodityID: "wheat", TotalQuantity: 100, BasePrice: 190,
		Currency: "USD", Location: domain.Location{LocationID: "loc-1", Address: "also set"},
		ValidUntil: time.Now().Add(48 * time.Hour), IdempotencyKey: "idem-av-1",
	}

	_, res, err := svc.CreateAvailability(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, res.IsOK())
	assert.Equal(t, domain.CodeAdHocLocationInvalid, res.Code)
}

func TestCancelOrder_RejectsNonOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	createTestPartner(t, svc.store, "buyer-1", domain.PartnerBuyer)

	req, res, err := svc.CreateRequirement(context.Background(), CreateRequirementCommand{
		BuyerID: "buyer-1", CommodityID: "wheat", Quantity: 50, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour), IdempotencyKey: "idem-cancel-1",
	})
	require.NoError(t, err)
	require.True(t, res.IsOK())

	cancelRes, err := svc.CancelOrder(context.Background(), req.ID, "someone-else")
	require.NoError(t, err)
	assert.False(t, cancelRes.IsOK())
	assert.Equal(t, domain.CodeUnauthorized, cancelRes.Code)
}

func TestCancelOrder_RejectsDoubleCancel(t *testing.T) {
	svc, _, _ := newTestService(t)
	createTestPartner(t, svc.store, "buyer-1", domain.PartnerBuyer)

	req, res, err := svc.CreateRequirement(context.Background(), CreateRequirementCommand{
		BuyerID: "buyer-1", CommodityID: "wheat", Quantity: 50, Unit: "MT",
		TargetPrice: 200, ValidUntil: time.Now().Add(48 * time.Hour), IdempotencyKey: "idem-cancel-2",
	})
	require.NoError(t, err)
	require.True(t, res.IsOK())

	first, err := svc.CancelOrder(context.Background(), req.ID, "buyer-1")
	require.NoError(t, err)
	require.True(t, first.IsOK())

	second, err := svc.CancelOrder(context.Background(), req.ID, "buyer-1")
	require.NoError(t, err)
	assert.False(t, second.IsOK())
	assert.Equal(t, domain.CodeAlreadyTerminal, second.Code)
}
