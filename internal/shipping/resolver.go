package shipping

import (
	"context"
	"errors"

	"github.com/sahajkart/checkout-core/internal/pricing"
	"github.com/sahajkart/checkout-core/internal/zone"
)

// ErrNotFound is returned by a Directory when the pincode has no record.
var ErrNotFound = errors.New("pincode not found")

// Record is the deliverability entry for a single pincode.
type Record struct {
	Pincode     string
	Zone        string
	District    string
	Deliverable bool
	CODAllowed  bool
}

// Directory looks up pincode deliverability. Implementations live outside the
// settlement core; the resolver only consumes the contract.
type Directory interface {
	Lookup(ctx context.Context, pincode string) (Record, error)
}

// Quote is the resolved serviceability and rate for a delivery pincode. When
// Serviceable is false all rate fields are zero values and the caller must
// branch before pricing.
type Quote struct {
	Serviceable    bool          `json:"serviceable"`
	Zone           string        `json:"zone,omitempty"`
	District       string        `json:"district,omitempty"`
	ShippingCharge pricing.Money `json:"shippingCharge,omitempty"`
	TransitDays    int           `json:"transitDays,omitempty"`
	CODEligible    bool          `json:"codEligible,omitempty"`
}

// Resolver combines the pincode directory with the static zone rate table.
type Resolver struct {
	Directory Directory
	Rates     *zone.Table
}

// Resolve returns the delivery quote for a pincode. Callers must validate the
// six-digit input contract first; an unknown or undeliverable pincode is a
// normal non-serviceable outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, pincode string) (Quote, error) {
	if r == nil || r.Directory == nil {
		return Quote{}, errors.New("shipping resolver not configured")
	}
	rec, err := r.Directory.Lookup(ctx, pincode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Quote{}, nil
		}
		return Quote{}, err
	}
	if !rec.Deliverable {
		return Quote{}, nil
	}
	rate, ok := r.Rates.Lookup(rec.Zone)
	if !ok {
		// Unknown zone falls back to the generic rate with the pincode
		// record's own COD flag.
		rate = zone.GenericRate
		rate.CODEligible = rec.CODAllowed
	}
	return Quote{
		Serviceable:    true,
		Zone:           rec.Zone,
		District:       rec.District,
		ShippingCharge: rate.ShippingCharge,
		TransitDays:    rate.TransitDays,
		CODEligible:    rec.CODAllowed && rate.CODEligible,
	}, nil
}

// IsPincode reports whether the value satisfies the six-digit input contract.
func IsPincode(value string) bool {
	if len(value) != 6 {
		return false
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
