package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnrl/matchengine/internal/domain"
)

type fakeDocs struct {
	docs []domain.PartnerDocument
}

func (f *fakeDocs) ListByPartner(ctx context.Context, partnerID string) ([]domain.PartnerDocument, error) {
	return f.docs, nil
}

func verifiedDoc(docType domain.DocumentType, ocr map[string]string) domain.PartnerDocument {
	return domain.PartnerDocument{ID: domain.NewID(), DocumentType: docType, OCRData: ocr, Verified: true}
}

func TestResolve_ServiceProviderAlwaysDenied(t *testing.T) {
	r := NewResolver(&fakeDocs{}, StaticSanctions{})
	p := &domain.Partner{PartnerType: domain.PartnerServiceProvider, PrimaryCountry: "IN"}

	d := r.Resolve(context.Background(), p, domain.SideSell, "IN", nil)
	assert.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "SERVICE_PROVIDER_DENIED", d.Code)
}

func TestResolve_DomesticRequiresGSTAndPAN(t *testing.T) {
	docs := &fakeDocs{docs: []domain.PartnerDocument{
		verifiedDoc(domain.DocGST, nil),
	}}
	r := NewResolver(docs, StaticSanctions{})
	p := &domain.Partner{PartnerType: domain.PartnerSeller, PrimaryCountry: "IN"}

	d := r.Resolve(context.Background(), p, domain.SideSell, "IN", nil)
	require.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "DOMESTIC_DOCUMENTS_MISSING", d.Code)

	docs.docs = append(docs.docs, verifiedDoc(domain.DocPAN, nil))
	d = r.Resolve(context.Background(), p, domain.SideSell, "IN", nil)
	assert.True(t, d.Status == domain.StatusPass)
}

func TestResolve_SanctionsOverridesEverything(t *testing.T) {
	r := NewResolver(&fakeDocs{}, StaticSanctions{"KP": true})
	p := &domain.Partner{PartnerType: domain.PartnerSeller, PrimaryCountry: "IN"}

	d := r.Resolve(context.Background(), p, domain.SideSell, "KP", nil)
	assert.Equal(t, domain.StatusFail, d.Status)
	assert.Equal(t, "SANCTIONED_COUNTRY", d.Code)
}

func TestResolve_RestrictedDestinationBeatsMissingLicense(t *testing.T) {
	r := NewResolver(&fakeDocs{}, StaticSanctions{})
	p := &domain.Partner{PartnerType: domain.PartnerSeller, PrimaryCountry: "IN"}
	commodity := &domain.Commodity{
		ExportRegulations: domain.ExportRegulations{
			LicenseRequired:     true,
			RestrictedCountries: []string{"US"},
		},
	}

	d := r.Resolve(context.Background(), p, domain.SideSell, "US", commodity)
	assert.Equal(t, "RESTRICTED_DESTINATION", d.Code)
}

func TestResolve_CrossBorderRequiresLicenseCoveringCountry(t *testing.T) {
	docs := &fakeDocs{docs: []domain.PartnerDocument{
		verifiedDoc(domain.DocIEC, map[string]string{"license_countries": "US,CA"}),
	}}
	r := NewResolver(docs, StaticSanctions{})
	p := &domain.Partner{PartnerType: domain.PartnerSeller, PrimaryCountry: "IN"}

	d := r.Resolve(context.Background(), p, domain.SideSell, "US", nil)
	assert.Equal(t, domain.StatusPass, d.Status)

	d = r.Resolve(context.Background(), p, domain.SideSell, "DE", nil)
	assert.Equal(t, "DESTINATION_NOT_COVERED", d.Code)
}

func TestResolve_ExpiredLicenseIsNotUsable(t *testing.T) {
	expired := time.Now().Add(-24 * time.Hour)
	doc := verifiedDoc(domain.DocIEC, map[string]string{"license_countries": "ALL"})
	doc.ExpiryDate = &expired
	docs := &fakeDocs{docs: []domain.PartnerDocument{doc}}
	r := NewResolver(docs, StaticSanctions{})
	p := &domain.Partner{PartnerType: domain.PartnerSeller, PrimaryCountry: "IN"}
	commodity := &domain.Commodity{ExportRegulations: domain.ExportRegulations{LicenseRequired: true}}

	d := r.Resolve(context.Background(), p, domain.SideSell, "US", commodity)
	assert.Equal(t, "EXPORT_LICENSE_EXPIRED", d.Code)
}
