package services

import (
	"math"
	"testing"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestResolveUnitPrice(t *testing.T) {
	cases := []struct {
		name       string
		salesPrice float64
		taxPercent float64
		want       float64
	}{
		{name: "standard tax", salesPrice: 100, taxPercent: 18, want: 118},
		{name: "zero tax", salesPrice: 250, taxPercent: 0, want: 250},
		{name: "fractional price", salesPrice: 99.5, taxPercent: 12, want: 111.44},
		{name: "zero price", salesPrice: 0, taxPercent: 18, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.Round2(ResolveUnitPrice(tc.salesPrice, tc.taxPercent))
			if got != tc.want {
				t.Fatalf("ResolveUnitPrice(%v, %v) = %v want %v", tc.salesPrice, tc.taxPercent, got, tc.want)
			}
		})
	}
}

func TestProductDisplayPrice_MinOverInStock(t *testing.T) {
	variants := []domain.ProductVariant{
		{SKU: "A", Stock: 0, SalesPrice: 50, SalesTaxPercent: 18},
		{SKU: "B", Stock: 3, SalesPrice: 100, SalesTaxPercent: 18},
		{SKU: "C", Stock: 1, SalesPrice: 80, SalesTaxPercent: 18},
	}

	price := ProductDisplayPrice(variants)
	if !almostEqual(price.Amount, 94.40) {
		t.Fatalf("expected 94.40 got %v", price.Amount)
	}
	if !price.From {
		t.Fatalf("expected From flag when in-stock prices differ")
	}
}

func TestProductDisplayPrice_IgnoresCheaperOutOfStock(t *testing.T) {
	variants := []domain.ProductVariant{
		{SKU: "CHEAP", Stock: 0, SalesPrice: 10, SalesTaxPercent: 0},
		{SKU: "ONLY", Stock: 5, SalesPrice: 200, SalesTaxPercent: 0},
	}

	price := ProductDisplayPrice(variants)
	if price.Amount != 200 {
		t.Fatalf("expected 200 got %v", price.Amount)
	}
	if price.From {
		t.Fatalf("single in-stock candidate should not set From")
	}
}

func TestProductDisplayPrice_AllOutOfStockFallsBack(t *testing.T) {
	variants := []domain.ProductVariant{
		{SKU: "A", Stock: 0, SalesPrice: 120, SalesTaxPercent: 0},
		{SKU: "B", Stock: 0, SalesPrice: 150, SalesTaxPercent: 0},
	}

	price := ProductDisplayPrice(variants)
	if price.Amount != 120 {
		t.Fatalf("expected fallback to full matrix minimum 120 got %v", price.Amount)
	}
	if !price.From {
		t.Fatalf("expected From flag over differing fallback prices")
	}
}

func TestProductDisplayPrice_Empty(t *testing.T) {
	price := ProductDisplayPrice(nil)
	if price.Amount != 0 || price.From {
		t.Fatalf("expected zero display price got %+v", price)
	}
}

func TestShippingPolicy_CostThresholdInclusive(t *testing.T) {
	policy := NewShippingPolicy(0, -1)

	if got := policy.Cost(999.99); got != 50 {
		t.Fatalf("expected flat rate below threshold got %v", got)
	}
	if got := policy.Cost(1000); got != 0 {
		t.Fatalf("expected free shipping at exact threshold got %v", got)
	}
	if got := policy.Cost(1500); got != 0 {
		t.Fatalf("expected free shipping above threshold got %v", got)
	}
}

func TestShippingPolicy_Progress(t *testing.T) {
	policy := NewShippingPolicy(1000, 50)

	progress := policy.Progress(750)
	if progress.AmountNeeded != 250 {
		t.Fatalf("expected 250 needed got %v", progress.AmountNeeded)
	}
	if !almostEqual(progress.Fraction, 0.75) {
		t.Fatalf("expected fraction 0.75 got %v", progress.Fraction)
	}

	progress = policy.Progress(1000)
	if progress.AmountNeeded != 0 || progress.Fraction != 1 {
		t.Fatalf("expected completed progress got %+v", progress)
	}

	progress = policy.Progress(-5)
	if progress.AmountNeeded != 1000 || progress.Fraction != 0 {
		t.Fatalf("expected clamped progress got %+v", progress)
	}
}

func TestShippingPolicy_AssembleTotals(t *testing.T) {
	policy := NewShippingPolicy(1000, 50)

	totals := policy.AssembleTotals(1200, 250)
	if totals.ItemsPrice != 1200 || totals.Discount != 250 {
		t.Fatalf("unexpected items/discount %+v", totals)
	}
	if totals.Shipping != 50 {
		t.Fatalf("discounted amount 950 should be charged shipping, got %v", totals.Shipping)
	}
	if totals.Total != 1000 {
		t.Fatalf("expected total 1000 got %v", totals.Total)
	}
}

func TestShippingPolicy_AssembleTotalsDiscountPushesBelowThreshold(t *testing.T) {
	policy := NewShippingPolicy(1000, 50)

	totals := policy.AssembleTotals(1050, 100)
	if totals.Shipping != 50 {
		t.Fatalf("post-discount 950 must pay shipping, got %v", totals.Shipping)
	}

	totals = policy.AssembleTotals(1100, 100)
	if totals.Shipping != 0 {
		t.Fatalf("post-discount 1000 ships free, got %v", totals.Shipping)
	}
}

func TestShippingPolicy_AssembleTotalsClampsDiscount(t *testing.T) {
	policy := NewShippingPolicy(1000, 50)

	totals := policy.AssembleTotals(200, 500)
	if totals.Discount != 200 {
		t.Fatalf("discount must clamp to subtotal, got %v", totals.Discount)
	}
	if totals.Total != 50 {
		t.Fatalf("expected shipping-only total got %v", totals.Total)
	}

	totals = policy.AssembleTotals(200, -10)
	if totals.Discount != 0 {
		t.Fatalf("negative discount must clamp to zero, got %v", totals.Discount)
	}
}

func TestShippingPolicy_RoundsOnceAtBoundary(t *testing.T) {
	policy := NewShippingPolicy(1000, 50)

	// Three lines at 33.335 keep full precision until assembly.
	subtotal := 33.335 * 3
	totals := policy.AssembleTotals(subtotal, 0)
	if totals.ItemsPrice != 100.01 {
		t.Fatalf("expected 100.01 after single rounding got %v", totals.ItemsPrice)
	}
	if totals.Total != 150.01 {
		t.Fatalf("expected 150.01 got %v", totals.Total)
	}
}

func TestComputeDiscount(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	percent, err := domain.NewDiscountOffer("o1", "Ten percent", domain.DiscountPercentage, 10, domain.ChannelBoth, start, end)
	if err != nil {
		t.Fatalf("NewDiscountOffer: %v", err)
	}
	flat, err := domain.NewDiscountOffer("o2", "Flat 300", domain.DiscountFlat, 300, domain.ChannelBoth, start, end)
	if err != nil {
		t.Fatalf("NewDiscountOffer: %v", err)
	}

	if got := ComputeDiscount(percent, 1500); got != 150 {
		t.Fatalf("expected 150 got %v", got)
	}
	if got := ComputeDiscount(flat, 1500); got != 300 {
		t.Fatalf("expected 300 got %v", got)
	}
	if got := ComputeDiscount(flat, 200); got != 200 {
		t.Fatalf("flat discount must clamp to base, got %v", got)
	}
	if got := ComputeDiscount(percent, 0); got != 0 {
		t.Fatalf("zero base yields zero discount, got %v", got)
	}
}

func TestDiscountableBase_EmptyRulesCoverWholeCart(t *testing.T) {
	lines := []domain.CartLine{
		testCartLine("A", 2, 100, "cat-shoes"),
		testCartLine("B", 1, 50, "cat-shirts"),
	}

	base, skus := DiscountableBase(lines, nil)
	if base != 250 {
		t.Fatalf("expected 250 got %v", base)
	}
	if len(skus) != 2 {
		t.Fatalf("expected both SKUs eligible got %v", skus)
	}
}

func TestDiscountableBase_RuleMatchingByAnyID(t *testing.T) {
	lines := []domain.CartLine{
		testCartLine("A", 2, 100, "cat-shoes"),
		testCartLine("B", 1, 50, "cat-shirts"),
	}
	lines[1].BrandID = "brand-acme"

	base, skus := DiscountableBase(lines, []string{"brand-acme"})
	if base != 50 {
		t.Fatalf("expected only line B eligible got %v", base)
	}
	if len(skus) != 1 || skus[0] != "B" {
		t.Fatalf("unexpected eligible SKUs %v", skus)
	}
}

func TestDiscountableBase_NoMatches(t *testing.T) {
	lines := []domain.CartLine{
		testCartLine("A", 2, 100, "cat-shoes"),
	}

	base, skus := DiscountableBase(lines, []string{"cat-hats"})
	if base != 0 || len(skus) != 0 {
		t.Fatalf("expected no eligible lines got base=%v skus=%v", base, skus)
	}
}
