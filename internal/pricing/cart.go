package pricing

// Line is a single cart position. TierDiscountBps carries the buy-3/buy-6
// style quantity price break already resolved for the line's quantity.
type Line struct {
	ProductID       string
	UnitPrice       Money
	Qty             int
	TierDiscountBps int32
}

// Cart is an immutable snapshot of the cart at pricing time.
type Cart struct {
	Lines []Line
}

// Subtotal returns the goods value after per-line tier discounts, along with
// the total tier discount taken.
func (c Cart) Subtotal() (subtotal, comboDiscount Money) {
	for _, ln := range c.Lines {
		if ln.Qty <= 0 || ln.UnitPrice <= 0 {
			continue
		}
		gross := Money(ln.Qty) * ln.UnitPrice
		var cut Money
		if ln.TierDiscountBps > 0 {
			cut = gross * Money(ln.TierDiscountBps) / 10000
			if cut > gross {
				cut = gross
			}
		}
		subtotal += gross - cut
		comboDiscount += cut
	}
	return subtotal, comboDiscount
}
