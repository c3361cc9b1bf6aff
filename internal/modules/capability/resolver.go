// Package capability implements the Capability Resolver (C2): what a
// partner may buy/sell where, derived from verified documents and
// partner-type rules (spec §4.2).
package capability

import (
	"context"
	"time"

	"github.com/rnrl/matchengine/internal/domain"
	"github.com/rnrl/matchengine/internal/store"
)

// homeCountry is the regulator whose domestic document rules this
// resolver enforces (GST+PAN for domestic, IEC for international),
// per spec §4.2's worked example.
const homeCountry = "IN"

// DocumentReader is the narrow read-only view of the Document
// service (spec §6.3) the resolver depends on.
type DocumentReader interface {
	ListByPartner(ctx context.Context, partnerID string) ([]domain.PartnerDocument, error)
}

// SanctionsList is the external collaborator from spec §6.3; this
// repo treats it as configured data rather than a live feed.
type SanctionsList interface {
	IsSanctioned(countryCode string) bool
}

// StaticSanctions is a SanctionsList backed by a fixed set, suitable
// for configuration-file-driven deployment.
type StaticSanctions map[string]bool

func (s StaticSanctions) IsSanctioned(countryCode string) bool { return s[countryCode] }

// Resolver computes ALLOWED/DENIED/WARN capability decisions.
type Resolver struct {
	docs      DocumentReader
	sanctions SanctionsList
	clock     func() time.Time
}

func NewResolver(docs DocumentReader, sanctions SanctionsList) *Resolver {
	return &Resolver{docs: docs, sanctions: sanctions, clock: time.Now}
}

// Resolve returns the capability decision for `partner` trading
// `side` where the counterparty's country is `tradeCountry`.
func (r *Resolver) Resolve(ctx context.Context, partner *domain.Partner, side domain.Side, tradeCountry string, commodity *domain.Commodity) domain.Decision {
	// Sanctions take highest precedence.
	if r.sanctions != nil && r.sanctions.IsSanctioned(tradeCountry) {
		return domain.FailDecision("SANCTIONED_COUNTRY", "counterparty country is on the sanctions list")
	}

	if partner.PartnerType == domain.PartnerServiceProvider {
		return domain.FailDecision("SERVICE_PROVIDER_DENIED", "service providers may not trade")
	}

	docs, err := r.docs.ListByPartner(ctx, partner.ID)
	if err != nil {
		return domain.FailDecision("DOCUMENT_LOOKUP_FAILED", err.Error())
	}
	now := r.clock()

	crossBorder := tradeCountry != "" && tradeCountry != partner.PrimaryCountry

	// Commodity-specific overrides, checked before general capability
	// rules so RESTRICTED_DESTINATION wins over a missing-license
	// reason (spec §4.2).
	if commodity != nil {
		regs := regulationsFor(side, commodity)
		for _, restricted := range regs.RestrictedCountries {
			if restricted == tradeCountry {
				return domain.FailDecision("RESTRICTED_DESTINATION", "destination country is restricted for this commodity")
			}
		}
		if regs.LicenseRequired {
			if !hasUsableLicense(docs, regs.AcceptedLicenseTypes, tradeCountry, now) {
				if anyExpired(docs, regs.AcceptedLicenseTypes, now) {
					return domain.FailDecision("EXPORT_LICENSE_EXPIRED", "required export/import license has expired")
				}
				return domain.FailDecision("EXPORT_LICENSE_MISSING", "required export/import license is missing or unverified")
			}
		}
	}

	if !crossBorder {
		if partner.PrimaryCountry != homeCountry && tradeCountry == homeCountry {
			return domain.FailDecision("FOREIGN_DOMESTIC_DENIED", "foreign entities may not trade domestically inside "+homeCountry)
		}
		if partner.PrimaryCountry == homeCountry {
			if !hasVerified(docs, domain.DocGST, now) || !hasVerified(docs, domain.DocPAN, now) {
				return domain.FailDecision("DOMESTIC_DOCUMENTS_MISSING", "GST and PAN must be verified for domestic trade")
			}
		}
		return domain.Pass("ALLOWED")
	}

	// Cross-border: require a verified, non-expired IEC or
	// export/import license covering tradeCountry or "ALL".
	licenseTypes := []domain.DocumentType{domain.DocIEC, domain.DocForeignExportLicense, domain.DocForeignImportLicense}
	if !hasUsableLicense(docs, licenseTypes, tradeCountry, now) {
		return domain.FailDecision("DESTINATION_NOT_COVERED", "no verified license covers the destination country")
	}
	return domain.Pass("ALLOWED")
}

func regulationsFor(side domain.Side, c *domain.Commodity) struct {
	LicenseRequired     bool
	AcceptedLicenseTypes []domain.DocumentType
	RestrictedCountries []string
} {
	if side == domain.SideSell {
		return struct {
			LicenseRequired     bool
			AcceptedLicenseTypes []domain.DocumentType
			RestrictedCountries []string
		}{c.ExportRegulations.LicenseRequired, c.ExportRegulations.AcceptedLicenseTypes, c.ExportRegulations.RestrictedCountries}
	}
	return struct {
		LicenseRequired     bool
		AcceptedLicenseTypes []domain.DocumentType
		RestrictedCountries []string
	}{c.ImportRegulations.LicenseRequired, c.ImportRegulations.AcceptedLicenseTypes, c.ImportRegulations.RestrictedCountries}
}

func hasVerified(docs []domain.PartnerDocument, docType domain.DocumentType, now time.Time) bool {
	for _, d := range docs {
		if d.DocumentType == docType && d.Usable(now) {
			return true
		}
	}
	return false
}

func anyExpired(docs []domain.PartnerDocument, types []domain.DocumentType, now time.Time) bool {
	for _, d := range docs {
		if docTypeIn(d.DocumentType, types) && d.Verified && d.IsExpired(now) {
			return true
		}
	}
	return false
}

func hasUsableLicense(docs []domain.PartnerDocument, types []domain.DocumentType, country string, now time.Time) bool {
	for _, d := range docs {
		if !docTypeIn(d.DocumentType, types) || !d.Usable(now) {
			continue
		}
		for _, c := range d.LicenseCountries() {
			if c == "ALL" || c == country {
				return true
			}
		}
		if len(types) == 0 {
			return true
		}
	}
	return false
}

func docTypeIn(t domain.DocumentType, types []domain.DocumentType) bool {
	if len(types) == 0 {
		return t == domain.DocIEC || t == domain.DocForeignExportLicense || t == domain.DocForeignImportLicense
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

var _ DocumentReader = (*store.DocumentRepository)(nil)
