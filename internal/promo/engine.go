package promo

import (
	"errors"
	"strings"

	"github.com/sahajkart/checkout-core/internal/pricing"
)

// Rejection reasons. Each one is a distinct signal surfaced verbatim to the
// end user; none may be coerced into another outcome.
var (
	ErrNotFound                = errors.New("NOT_FOUND")
	ErrInactive                = errors.New("INACTIVE")
	ErrUsageLimitExceeded      = errors.New("USAGE_LIMIT_EXCEEDED")
	ErrZoneNotAllowed          = errors.New("ZONE_NOT_ALLOWED")
	ErrPostalPatternNotAllowed = errors.New("POSTAL_PATTERN_NOT_ALLOWED")
)

// Kind is the promotion effect family. Exactly one effect applies per code.
type Kind string

const (
	// KindPercentage takes a percentage off the goods subtotal.
	KindPercentage Kind = "PERCENTAGE"
	// KindShippingDiscount takes a percentage off the final shipping charge.
	KindShippingDiscount Kind = "SHIPPING_DISCOUNT"
)

// Rule captures the runtime constraints of a promotion code.
type Rule struct {
	Code                  string
	Kind                  Kind
	PercentBps            int32
	AllowedZones          []string
	AllowedPostalPatterns []string
	MaxUses               *int32
	CurrentUses           int32
	Active                bool
}

// Evaluate checks the rule against the resolved delivery context. It returns
// one of the sentinel rejections, or nil when the code is applicable.
// CurrentUses must be the authoritative counter at evaluation time, never a
// client-cached value.
func (r Rule) Evaluate(zoneName, pincode string) error {
	if !r.Active {
		return ErrInactive
	}
	if r.MaxUses != nil && *r.MaxUses >= 0 && r.CurrentUses >= *r.MaxUses {
		return ErrUsageLimitExceeded
	}
	if len(r.AllowedZones) > 0 && !MatchZone(r.AllowedZones, zoneName) {
		return ErrZoneNotAllowed
	}
	if len(r.AllowedPostalPatterns) > 0 && !MatchPostal(r.AllowedPostalPatterns, pincode) {
		return ErrPostalPatternNotAllowed
	}
	return nil
}

// Grant converts the rule into the engine-facing promo effect.
func (r Rule) Grant() pricing.PromoGrant {
	effect := pricing.EffectPercentage
	if r.Kind == KindShippingDiscount {
		effect = pricing.EffectShippingDiscount
	}
	return pricing.PromoGrant{Code: r.Code, Effect: effect, PercentBps: r.PercentBps}
}

// MatchZone reports whether the zone matches any allow-list entry. Matching
// is case-insensitive substring: the entry "KARNATAKA" matches the zone as
// stored regardless of casing or qualifiers around it.
func MatchZone(allowed []string, zoneName string) bool {
	z := strings.ToUpper(strings.TrimSpace(zoneName))
	if z == "" {
		return false
	}
	for _, entry := range allowed {
		e := strings.ToUpper(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if strings.Contains(z, e) {
			return true
		}
	}
	return false
}

// MatchPostal reports whether the pincode matches any pattern. A pattern
// containing the "%" wildcard matches by prefix up to the marker; "56%"
// matches any pincode starting with 56. Patterns without a wildcard are
// treated as prefixes too.
func MatchPostal(patterns []string, pincode string) bool {
	pin := strings.TrimSpace(pincode)
	if pin == "" {
		return false
	}
	for _, pattern := range patterns {
		p := strings.TrimSpace(pattern)
		if p == "" {
			continue
		}
		if idx := strings.IndexByte(p, '%'); idx >= 0 {
			p = p[:idx]
		}
		if strings.HasPrefix(pin, p) {
			return true
		}
	}
	return false
}
