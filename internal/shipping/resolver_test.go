package shipping

import (
	"context"
	"testing"

	"github.com/sahajkart/checkout-core/internal/zone"
)

type fakeDirectory map[string]Record

func (d fakeDirectory) Lookup(_ context.Context, pincode string) (Record, error) {
	rec, ok := d[pincode]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func newResolver(d Directory) *Resolver {
	return &Resolver{Directory: d, Rates: zone.DefaultTable()}
}

func TestResolveServiceable(t *testing.T) {
	r := newResolver(fakeDirectory{
		"560001": {Pincode: "560001", Zone: "KARNATAKA", District: "Bengaluru", Deliverable: true, CODAllowed: true},
	})
	q, err := r.Resolve(context.Background(), "560001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Serviceable {
		t.Fatal("expected serviceable quote")
	}
	if q.ShippingCharge != 40_00 || q.TransitDays != 2 {
		t.Fatalf("unexpected rate in quote: %+v", q)
	}
	if !q.CODEligible {
		t.Fatal("expected COD eligible")
	}
}

func TestResolveUnknownPincodeIsNotAnError(t *testing.T) {
	r := newResolver(fakeDirectory{})
	q, err := r.Resolve(context.Background(), "999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Serviceable {
		t.Fatal("unknown pincode must be non-serviceable")
	}
}

func TestResolveUndeliverableRecord(t *testing.T) {
	r := newResolver(fakeDirectory{
		"190001": {Pincode: "190001", Zone: "JAMMU AND KASHMIR", Deliverable: false, CODAllowed: true},
	})
	q, err := r.Resolve(context.Background(), "190001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Serviceable {
		t.Fatal("undeliverable record must be non-serviceable")
	}
}

func TestResolveUnknownZoneFallsBack(t *testing.T) {
	r := newResolver(fakeDirectory{
		"744101": {Pincode: "744101", Zone: "LAKSHADWEEP", Deliverable: true, CODAllowed: true},
	})
	q, err := r.Resolve(context.Background(), "744101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Serviceable {
		t.Fatal("unknown zone must still be serviceable")
	}
	if q.ShippingCharge != 100_00 || q.TransitDays != 3 {
		t.Fatalf("expected generic fallback rate, got %+v", q)
	}
	if !q.CODEligible {
		t.Fatal("fallback should defer COD to the pincode record flag")
	}
}

func TestCODRequiresBothFlags(t *testing.T) {
	// Zone allows COD but the pincode record does not.
	r := newResolver(fakeDirectory{
		"560099": {Pincode: "560099", Zone: "KARNATAKA", Deliverable: true, CODAllowed: false},
	})
	q, err := r.Resolve(context.Background(), "560099")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CODEligible {
		t.Fatal("record-level COD flag must independently disable COD")
	}

	// Pincode allows COD but the zone does not.
	r = newResolver(fakeDirectory{
		"194101": {Pincode: "194101", Zone: "LADAKH", Deliverable: true, CODAllowed: true},
	})
	q, err = r.Resolve(context.Background(), "194101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CODEligible {
		t.Fatal("zone-level COD flag must independently disable COD")
	}
}

func TestIsPincode(t *testing.T) {
	cases := map[string]bool{
		"560001":  true,
		"56001":   false,
		"5600011": false,
		"56000a":  false,
		"":        false,
	}
	for in, want := range cases {
		if got := IsPincode(in); got != want {
			t.Fatalf("IsPincode(%q) = %v, want %v", in, got, want)
		}
	}
}
