package services

import (
	domain "github.com/craftline/commerce-api/internal/domain"
)

// Default shipping policy values applied when configuration leaves them unset.
const (
	defaultFreeShippingThreshold = 1000.0
	defaultFlatShippingRate      = 50.0
)

// ResolveUnitPrice derives the tax-inclusive unit price from the variant's
// stored sales price and tax percentage. Stored prices are always tax
// exclusive; the MRP shown to customers is computed on the fly.
func ResolveUnitPrice(salesPrice, taxPercent float64) float64 {
	return salesPrice * (1 + taxPercent/100)
}

// VariantUnitPrice resolves the tax-inclusive price for a variant.
func VariantUnitPrice(v domain.ProductVariant) float64 {
	return ResolveUnitPrice(v.SalesPrice, v.SalesTaxPercent)
}

// ProductDisplayPrice derives the listing price from the variant matrix. Only
// in-stock variants are considered; when every variant is out of stock the
// whole matrix is used so the listing still shows a price. From is set when
// the candidates disagree, signalling the amount is a "from" floor.
func ProductDisplayPrice(variants []domain.ProductVariant) domain.DisplayPrice {
	if len(variants) == 0 {
		return domain.DisplayPrice{}
	}

	candidates := make([]domain.ProductVariant, 0, len(variants))
	for _, v := range variants {
		if v.Stock > 0 {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		candidates = variants
	}

	min := VariantUnitPrice(candidates[0])
	max := min
	for _, v := range candidates[1:] {
		price := VariantUnitPrice(v)
		if price < min {
			min = price
		}
		if price > max {
			max = price
		}
	}
	return domain.DisplayPrice{
		Amount: domain.Round2(min),
		From:   max-min >= 0.01,
	}
}

// ShippingPolicy computes shipping cost and free-shipping progress from the
// discounted cart amount.
type ShippingPolicy struct {
	FreeThreshold float64
	FlatRate      float64
}

// NewShippingPolicy fills zero values with the default threshold and rate.
func NewShippingPolicy(freeThreshold, flatRate float64) ShippingPolicy {
	if freeThreshold <= 0 {
		freeThreshold = defaultFreeShippingThreshold
	}
	if flatRate < 0 {
		flatRate = defaultFlatShippingRate
	}
	return ShippingPolicy{FreeThreshold: freeThreshold, FlatRate: flatRate}
}

// Cost returns the shipping charge for the discounted cart amount. Amounts at
// or above the threshold ship free.
func (p ShippingPolicy) Cost(amount float64) float64 {
	if amount >= p.FreeThreshold {
		return 0
	}
	return p.FlatRate
}

// Progress reports how far the amount is from free shipping. Fraction is
// clamped to [0,1] and AmountNeeded is zero once the threshold is reached.
func (p ShippingPolicy) Progress(amount float64) domain.ShippingProgress {
	if p.FreeThreshold <= 0 || amount >= p.FreeThreshold {
		return domain.ShippingProgress{AmountNeeded: 0, Fraction: 1}
	}
	if amount < 0 {
		amount = 0
	}
	return domain.ShippingProgress{
		AmountNeeded: domain.Round2(p.FreeThreshold - amount),
		Fraction:     amount / p.FreeThreshold,
	}
}

// AssembleTotals rolls a raw subtotal and discount into order totals. The
// discount is clamped to the subtotal, shipping is decided on the discounted
// amount, and each figure is rounded once at this boundary.
func (p ShippingPolicy) AssembleTotals(subtotal, discount float64) domain.OrderTotals {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	discounted := subtotal - discount
	shipping := p.Cost(discounted)
	return domain.OrderTotals{
		ItemsPrice: domain.Round2(subtotal),
		Discount:   domain.Round2(discount),
		Shipping:   domain.Round2(shipping),
		Total:      domain.Round2(discounted + shipping),
	}
}

// Estimate prices a cart for display, combining totals with shipping progress.
func (p ShippingPolicy) Estimate(cart domain.Cart, discount float64) domain.CartEstimate {
	totals := p.AssembleTotals(cart.Subtotal(), discount)
	discounted := totals.ItemsPrice - totals.Discount
	return domain.CartEstimate{
		Subtotal: totals.ItemsPrice,
		Discount: totals.Discount,
		Shipping: totals.Shipping,
		Total:    totals.Total,
		Progress: p.Progress(discounted),
	}
}

// ComputeDiscount applies the offer to the discountable base. Percentage
// offers scale the base; flat offers are clamped so the discount never
// exceeds what the eligible items are worth.
func ComputeDiscount(offer domain.DiscountOffer, base float64) float64 {
	if base <= 0 {
		return 0
	}
	var discount float64
	switch offer.DiscountType {
	case domain.DiscountPercentage:
		discount = base * offer.DiscountValue / 100
	case domain.DiscountFlat:
		discount = offer.DiscountValue
		if discount > base {
			discount = base
		}
	default:
		return 0
	}
	if discount < 0 {
		return 0
	}
	return domain.Round2(discount)
}

// DiscountableBase sums the eligible lines under the coupon's rule set. An
// empty rule set makes the whole cart eligible; otherwise a line qualifies
// when any of its master-data ids appears in the rules. It returns the base
// at full precision and the eligible SKUs in cart order.
func DiscountableBase(lines []domain.CartLine, rules []string) (float64, []string) {
	if len(rules) == 0 {
		var base float64
		skus := make([]string, 0, len(lines))
		for _, line := range lines {
			base += line.Total()
			skus = append(skus, line.SKU)
		}
		return base, skus
	}

	ruleSet := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		ruleSet[rule] = struct{}{}
	}

	var base float64
	var skus []string
	for _, line := range lines {
		for _, id := range line.RuleIDs() {
			if _, ok := ruleSet[id]; ok {
				base += line.Total()
				skus = append(skus, line.SKU)
				break
			}
		}
	}
	return base, skus
}
