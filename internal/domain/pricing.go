package domain

// CouponQuote captures the outcome of a successful coupon validation: the
// coupon, its parent offer, and the discount computed over the eligible base.
type CouponQuote struct {
	Coupon           DiscountCoupon
	Offer            DiscountOffer
	DiscountableBase float64
	DiscountAmount   float64
	EligibleSKUs     []string
}

// DisplayPrice is the listing price for a product derived from its variants;
// From indicates the candidate variants disagree and the amount is a floor.
type DisplayPrice struct {
	Amount float64
	From   bool
}

// ShippingProgress feeds free-shipping progress indicators on the cart page.
type ShippingProgress struct {
	AmountNeeded float64
	Fraction     float64
}

// CartEstimate summarises the totals shown alongside a cart.
type CartEstimate struct {
	Subtotal float64
	Discount float64
	Shipping float64
	Total    float64
	Progress ShippingProgress
}
