package pricing

import "errors"

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// ErrCODNotEligible is returned when cash on delivery is requested for an
// order that fails the COD eligibility gate. The caller must surface this to
// the payer instead of downgrading the payment method.
var ErrCODNotEligible = errors.New("cash on delivery not eligible for this order")

// Method is the closed set of supported payment methods.
type Method int

const (
	// MethodPrepaid covers any payment settled online before dispatch.
	MethodPrepaid Method = iota + 1
	// MethodCOD is cash on delivery.
	MethodCOD
)

func (m Method) String() string {
	switch m {
	case MethodPrepaid:
		return "PREPAID"
	case MethodCOD:
		return "COD"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod maps a wire value onto the closed Method set.
func ParseMethod(value string) (Method, bool) {
	switch value {
	case "PREPAID", "prepaid":
		return MethodPrepaid, true
	case "COD", "cod":
		return MethodCOD, true
	default:
		return 0, false
	}
}

// PromoEffect identifies which price component a promotion reduces.
type PromoEffect int

const (
	// EffectPercentage reduces the goods subtotal. It never touches shipping.
	EffectPercentage PromoEffect = iota + 1
	// EffectShippingDiscount reduces the final shipping charge. It never
	// touches the subtotal.
	EffectShippingDiscount
)

// PromoGrant is an already-validated promotion passed into the engine. The
// evaluator owns applicability (active, usage, geography); the engine only
// applies the arithmetic.
type PromoGrant struct {
	Code       string
	Effect     PromoEffect
	PercentBps int32
}

// Input carries everything the engine needs to produce a breakdown.
type Input struct {
	Subtotal        Money
	ComboDiscount   Money
	ShippingCharge  Money
	Method          Method
	ZoneCODEligible bool
	Promo           *PromoGrant
}

// Breakdown is the complete, auditable output of a pricing run. Subtotal is
// the goods value after any percentage promo; Total is always reproducible as
// Subtotal + ShippingFinal + CODCharge - PrepaidDiscount, clamped at zero.
type Breakdown struct {
	Subtotal          Money `json:"subtotal"`
	ComboDiscount     Money `json:"comboDiscount"`
	PromoDiscount     Money `json:"promoDiscount"`
	ShippingOriginal  Money `json:"shippingChargeOriginal"`
	ShippingFinal     Money `json:"shippingChargeFinal"`
	FreeDelivery      bool  `json:"isFreeDelivery"`
	CODCharge         Money `json:"codCharge"`
	PrepaidDiscount   Money `json:"prepaidDiscount"`
	Total             Money `json:"total"`
	CODEligible       bool  `json:"codEligibleForOrder"`
	NeedsManualReview bool  `json:"needsManualReview,omitempty"`
}

// Engine evaluates the storefront pricing rules. Thresholds are stored in
// minor units; rates are basis points.
type Engine struct {
	CODMaxOrderValue        Money
	FreeDeliveryGuaranteed  Money
	FreeDeliveryMinOrder    Money
	FreeDeliveryMaxShipping Money
	CODCharge               Money
	PrepaidDiscountBps      int32
}

// DefaultEngine returns an engine with the production rule thresholds.
func DefaultEngine() Engine {
	return Engine{
		CODMaxOrderValue:        1300_00,
		FreeDeliveryGuaranteed:  600_00,
		FreeDeliveryMinOrder:    400_00,
		FreeDeliveryMaxShipping: 45_00,
		CODCharge:               35_00,
		PrepaidDiscountBps:      500,
	}
}

// Price computes the breakdown for the given input. Pure and deterministic:
// identical inputs always yield identical output.
func (e Engine) Price(in Input) (Breakdown, error) {
	subtotal := in.Subtotal
	if subtotal < 0 {
		subtotal = 0
	}
	shippingOriginal := in.ShippingCharge
	if shippingOriginal < 0 {
		shippingOriginal = 0
	}

	// A percentage promo reduces the subtotal before any other rule reads it,
	// so the COD gate, free-delivery thresholds and prepaid discount all see
	// the discounted goods value.
	var promoDiscount Money
	if in.Promo != nil && in.Promo.Effect == EffectPercentage && in.Promo.PercentBps > 0 {
		promoDiscount = subtotal * Money(in.Promo.PercentBps) / 10000
		if promoDiscount > subtotal {
			promoDiscount = subtotal
		}
		subtotal -= promoDiscount
	}

	codEligible := subtotal < e.CODMaxOrderValue && in.ZoneCODEligible
	if in.Method == MethodCOD && !codEligible {
		return Breakdown{}, ErrCODNotEligible
	}

	freeDelivery := subtotal >= e.FreeDeliveryGuaranteed ||
		(subtotal >= e.FreeDeliveryMinOrder && shippingOriginal < e.FreeDeliveryMaxShipping)
	shippingFinal := shippingOriginal
	if freeDelivery {
		shippingFinal = 0
	}

	if in.Promo != nil && in.Promo.Effect == EffectShippingDiscount && in.Promo.PercentBps > 0 {
		cut := shippingFinal * Money(in.Promo.PercentBps) / 10000
		if cut > shippingFinal {
			cut = shippingFinal
		}
		promoDiscount += cut
		shippingFinal -= cut
	}

	var codCharge Money
	if in.Method == MethodCOD {
		codCharge = e.CODCharge
	}

	var prepaidDiscount Money
	if in.Method == MethodPrepaid {
		prepaidDiscount = subtotal * Money(e.PrepaidDiscountBps) / 10000
	}

	total := subtotal + shippingFinal + codCharge - prepaidDiscount
	review := false
	if total < 0 {
		total = 0
		review = true
	}

	return Breakdown{
		Subtotal:          subtotal,
		ComboDiscount:     in.ComboDiscount,
		PromoDiscount:     promoDiscount,
		ShippingOriginal:  shippingOriginal,
		ShippingFinal:     shippingFinal,
		FreeDelivery:      freeDelivery,
		CODCharge:         codCharge,
		PrepaidDiscount:   prepaidDiscount,
		Total:             total,
		CODEligible:       codEligible,
		NeedsManualReview: review,
	}, nil
}
