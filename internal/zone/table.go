package zone

import (
	"strings"

	"github.com/sahajkart/checkout-core/internal/pricing"
)

// Rate is the static shipping rate record for a geographic zone.
type Rate struct {
	Zone           string
	ShippingCharge pricing.Money
	TransitDays    int
	CODEligible    bool
}

// GenericRate is applied when a serviceable pincode resolves to a zone the
// table does not know. Unknown zones must never block checkout.
var GenericRate = Rate{Zone: "GENERIC", ShippingCharge: 100_00, TransitDays: 3, CODEligible: true}

// Table maps zone names to rates. Lookups are case-insensitive. Reference
// data only; never mutated after construction.
type Table struct {
	rates map[string]Rate
}

// NewTable builds a table from the provided rates.
func NewTable(rates []Rate) *Table {
	m := make(map[string]Rate, len(rates))
	for _, r := range rates {
		m[strings.ToUpper(strings.TrimSpace(r.Zone))] = r
	}
	return &Table{rates: m}
}

// Lookup returns the rate for the named zone.
func (t *Table) Lookup(name string) (Rate, bool) {
	if t == nil {
		return Rate{}, false
	}
	r, ok := t.rates[strings.ToUpper(strings.TrimSpace(name))]
	return r, ok
}

// DefaultTable returns the production state-level zone rates.
func DefaultTable() *Table {
	return NewTable([]Rate{
		{Zone: "KARNATAKA", ShippingCharge: 40_00, TransitDays: 2, CODEligible: true},
		{Zone: "TAMIL NADU", ShippingCharge: 50_00, TransitDays: 3, CODEligible: true},
		{Zone: "KERALA", ShippingCharge: 55_00, TransitDays: 3, CODEligible: true},
		{Zone: "ANDHRA PRADESH", ShippingCharge: 55_00, TransitDays: 3, CODEligible: true},
		{Zone: "TELANGANA", ShippingCharge: 50_00, TransitDays: 3, CODEligible: true},
		{Zone: "MAHARASHTRA", ShippingCharge: 60_00, TransitDays: 4, CODEligible: true},
		{Zone: "GOA", ShippingCharge: 60_00, TransitDays: 4, CODEligible: true},
		{Zone: "GUJARAT", ShippingCharge: 70_00, TransitDays: 5, CODEligible: true},
		{Zone: "DELHI", ShippingCharge: 70_00, TransitDays: 4, CODEligible: true},
		{Zone: "HARYANA", ShippingCharge: 75_00, TransitDays: 5, CODEligible: true},
		{Zone: "PUNJAB", ShippingCharge: 80_00, TransitDays: 5, CODEligible: true},
		{Zone: "UTTAR PRADESH", ShippingCharge: 80_00, TransitDays: 5, CODEligible: true},
		{Zone: "RAJASTHAN", ShippingCharge: 80_00, TransitDays: 5, CODEligible: true},
		{Zone: "MADHYA PRADESH", ShippingCharge: 80_00, TransitDays: 5, CODEligible: true},
		{Zone: "WEST BENGAL", ShippingCharge: 85_00, TransitDays: 6, CODEligible: true},
		{Zone: "BIHAR", ShippingCharge: 90_00, TransitDays: 6, CODEligible: true},
		{Zone: "ODISHA", ShippingCharge: 85_00, TransitDays: 6, CODEligible: true},
		{Zone: "ASSAM", ShippingCharge: 110_00, TransitDays: 7, CODEligible: false},
		{Zone: "MEGHALAYA", ShippingCharge: 120_00, TransitDays: 8, CODEligible: false},
		{Zone: "TRIPURA", ShippingCharge: 120_00, TransitDays: 8, CODEligible: false},
		{Zone: "MANIPUR", ShippingCharge: 130_00, TransitDays: 9, CODEligible: false},
		{Zone: "NAGALAND", ShippingCharge: 130_00, TransitDays: 9, CODEligible: false},
		{Zone: "JAMMU AND KASHMIR", ShippingCharge: 130_00, TransitDays: 9, CODEligible: false},
		{Zone: "LADAKH", ShippingCharge: 140_00, TransitDays: 10, CODEligible: false},
		{Zone: "ANDAMAN AND NICOBAR", ShippingCharge: 150_00, TransitDays: 12, CODEligible: false},
	})
}
