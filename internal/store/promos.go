package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahajkart/checkout-core/internal/promo"
)

// Promos is the Postgres-backed promotion rule store.
type Promos struct {
	Pool *pgxpool.Pool
}

const promoGetSQL = `
SELECT code, kind, percent_bps, allowed_zones, allowed_postal_patterns,
       max_uses, current_uses, active
FROM promo_codes
WHERE code = $1`

// GetRule loads the authoritative rule for a code, including the live usage
// counter.
func (s *Promos) GetRule(ctx context.Context, code string) (promo.Rule, error) {
	var (
		rule    promo.Rule
		kind    string
		maxUses pgtype.Int4
	)
	err := s.Pool.QueryRow(ctx, promoGetSQL, code).Scan(
		&rule.Code,
		&kind,
		&rule.PercentBps,
		&rule.AllowedZones,
		&rule.AllowedPostalPatterns,
		&maxUses,
		&rule.CurrentUses,
		&rule.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Rule{}, promo.ErrNotFound
		}
		return promo.Rule{}, fmt.Errorf("get promo rule: %w", err)
	}
	rule.Kind = promo.Kind(kind)
	if maxUses.Valid {
		v := maxUses.Int32
		rule.MaxUses = &v
	}
	return rule, nil
}

// The increment only lands while the counter is below the cap, so two
// concurrent settlements cannot both take the last use.
const promoRedeemSQL = `
UPDATE promo_codes
SET current_uses = current_uses + 1, updated_at = now()
WHERE code = $1
  AND active
  AND (max_uses IS NULL OR current_uses < max_uses)`

const promoRedeemProbeSQL = `
SELECT active, max_uses, current_uses FROM promo_codes WHERE code = $1`

// RedeemUsage records one redemption. When the guarded update matches no
// row, the rule is re-read to report the precise rejection.
func (s *Promos) RedeemUsage(ctx context.Context, code string) error {
	tag, err := s.Pool.Exec(ctx, promoRedeemSQL, code)
	if err != nil {
		return fmt.Errorf("redeem promo: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var (
		active      bool
		maxUses     pgtype.Int4
		currentUses int32
	)
	err = s.Pool.QueryRow(ctx, promoRedeemProbeSQL, code).Scan(&active, &maxUses, &currentUses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.ErrNotFound
		}
		return fmt.Errorf("probe promo: %w", err)
	}
	if !active {
		return promo.ErrInactive
	}
	return promo.ErrUsageLimitExceeded
}
