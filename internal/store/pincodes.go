package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahajkart/checkout-core/internal/shipping"
)

// Pincodes is the Postgres-backed pincode directory.
type Pincodes struct {
	Pool *pgxpool.Pool
}

const pincodeLookupSQL = `
SELECT pincode, zone, district, deliverable, cod_allowed
FROM pincodes
WHERE pincode = $1`

// Lookup returns the deliverability record for a pincode.
func (s *Pincodes) Lookup(ctx context.Context, pincode string) (shipping.Record, error) {
	var rec shipping.Record
	err := s.Pool.QueryRow(ctx, pincodeLookupSQL, pincode).Scan(
		&rec.Pincode,
		&rec.Zone,
		&rec.District,
		&rec.Deliverable,
		&rec.CODAllowed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shipping.Record{}, shipping.ErrNotFound
		}
		return shipping.Record{}, fmt.Errorf("lookup pincode: %w", err)
	}
	return rec, nil
}
