package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/sahajkart/checkout-core/internal/pricing"
)

// Store is the persistence contract for promotion codes. RedeemUsage must be
// a compare-and-check increment: it fails with ErrUsageLimitExceeded when the
// counter already sits at the cap, so concurrent checkouts cannot over-redeem.
type Store interface {
	GetRule(ctx context.Context, code string) (Rule, error)
	RedeemUsage(ctx context.Context, code string) error
}

// Service evaluates promotion codes against the authoritative store.
type Service struct {
	Store Store
}

// Evaluate re-reads the rule and checks applicability for the resolved
// delivery context. A shipping-discount code evaluated before the delivery
// address is known (empty zone and pincode) yields no grant and no error: its
// effect is zero until shipping is resolved.
func (s *Service) Evaluate(ctx context.Context, code, zoneName, pincode string) (*pricing.PromoGrant, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("promo service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, ErrNotFound
	}
	rule, err := s.Store.GetRule(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if rule.Kind == KindShippingDiscount && zoneName == "" && pincode == "" {
		if err := ruleBaseCheck(rule); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := rule.Evaluate(zoneName, pincode); err != nil {
		return nil, err
	}
	grant := rule.Grant()
	return &grant, nil
}

// Redeem increments the usage counter for a committed order.
func (s *Service) Redeem(ctx context.Context, code string) error {
	if s == nil || s.Store == nil {
		return errors.New("promo service not configured")
	}
	return s.Store.RedeemUsage(ctx, strings.TrimSpace(code))
}

func ruleBaseCheck(r Rule) error {
	if !r.Active {
		return ErrInactive
	}
	if r.MaxUses != nil && *r.MaxUses >= 0 && r.CurrentUses >= *r.MaxUses {
		return ErrUsageLimitExceeded
	}
	return nil
}
