package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
)

func cartFixtureProduct() domain.Product {
	return domain.Product{
		ID:         "prod-1",
		Name:       "Trail Runner",
		ImageURL:   "https://cdn.example.com/trail.png",
		CategoryID: "cat-shoes",
		BrandID:    "brand-acme",
		Variants: []domain.ProductVariant{
			{SKU: "TR-42", Color: "black", Size: "42", Stock: 5, SalesPrice: 100, SalesTaxPercent: 18},
			{SKU: "TR-43", Color: "black", Size: "43", Stock: 0, SalesPrice: 100, SalesTaxPercent: 18},
		},
	}
}

func newTestCartService(t *testing.T, carts *stubCartRepository, catalog *stubCatalogRepository, coupons CouponService) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:    carts,
		Catalog:  catalog,
		Coupons:  coupons,
		Shipping: NewShippingPolicy(1000, 50),
		Clock: func() time.Time {
			return time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartService_AddLine_CapturesUnitPrice(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	cart, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1",
		ProductID:  "prod-1",
		SKU:        "TR-42",
		Quantity:   2,
	})
	if err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("expected one line got %d", len(cart.Lines))
	}
	line := cart.Lines[0]
	if line.UnitPrice != 118 {
		t.Fatalf("expected captured MRP 118 got %v", line.UnitPrice)
	}
	if line.CategoryID != "cat-shoes" || line.BrandID != "brand-acme" {
		t.Fatalf("line must snapshot rule ids, got %+v", line)
	}
	if line.Color != "black" || line.Size != "42" {
		t.Fatalf("line must snapshot variant attributes, got %+v", line)
	}
}

func TestCartService_AddLine_PriceEditDoesNotTouchExistingLine(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	if _, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 1,
	}); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}

	product := catalog.products["prod-1"]
	product.Variants[0].SalesPrice = 200
	catalog.products["prod-1"] = product

	cart, err := svc.UpdateQuantity(context.Background(), UpdateCartLineCommand{
		CustomerID: "cust-1", SKU: "TR-42", Quantity: 3,
	})
	if err != nil {
		t.Fatalf("UpdateQuantity returned error: %v", err)
	}
	if cart.Lines[0].UnitPrice != 118 {
		t.Fatalf("captured price must survive variant edits, got %v", cart.Lines[0].UnitPrice)
	}
	if cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected quantity 3 got %d", cart.Lines[0].Quantity)
	}
}

func TestCartService_AddLine_MergesSameSKU(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	cmd := AddCartLineCommand{CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 2}
	if _, err := svc.AddLine(context.Background(), cmd); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	cart, err := svc.AddLine(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second AddLine returned error: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 4 {
		t.Fatalf("expected merged quantity 4 got %+v", cart.Lines)
	}
}

func TestCartService_AddLine_OutOfStock(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	_, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 6,
	})
	var oos *OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatalf("expected OutOfStockError got %v", err)
	}
	if oos.Available != 5 || oos.Requested != 6 {
		t.Fatalf("unexpected stock error %+v", oos)
	}
}

func TestCartService_AddLine_MergeExceedsStock(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	if _, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 4,
	}); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}
	_, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 3,
	})
	var oos *OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatalf("expected OutOfStockError got %v", err)
	}
	if oos.Requested != 7 || oos.Available != 5 {
		t.Fatalf("unexpected stock error %+v", oos)
	}
}

func TestCartService_AddLine_UnknownSKU(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	if _, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-99", Quantity: 1,
	}); !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected ErrCartProductNotFound got %v", err)
	}

	if _, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 0,
	}); !errors.Is(err, ErrCartInvalidQuantity) {
		t.Fatalf("expected ErrCartInvalidQuantity got %v", err)
	}
}

func TestCartService_UpdateQuantity_BelowOneRemoves(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{products: map[string]domain.Product{"prod-1": cartFixtureProduct()}}
	svc := newTestCartService(t, carts, catalog, nil)

	if _, err := svc.AddLine(context.Background(), AddCartLineCommand{
		CustomerID: "cust-1", ProductID: "prod-1", SKU: "TR-42", Quantity: 2,
	}); err != nil {
		t.Fatalf("AddLine returned error: %v", err)
	}

	cart, err := svc.UpdateQuantity(context.Background(), UpdateCartLineCommand{
		CustomerID: "cust-1", SKU: "TR-42", Quantity: 0,
	})
	if err != nil {
		t.Fatalf("UpdateQuantity returned error: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart got %+v", cart.Lines)
	}
}

func TestCartService_RemoveLine_Idempotent(t *testing.T) {
	carts := &stubCartRepository{
		cart: domain.Cart{
			ID:         "cust-1",
			CustomerID: "cust-1",
			Lines:      []domain.CartLine{testCartLine("A", 1, 100, "")},
		},
	}
	catalog := &stubCatalogRepository{}
	svc := newTestCartService(t, carts, catalog, nil)

	cart, err := svc.RemoveLine(context.Background(), "cust-1", "ZZZ")
	if err != nil {
		t.Fatalf("removing absent SKU must not fail: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("cart must be untouched, got %+v", cart.Lines)
	}

	cart, err = svc.RemoveLine(context.Background(), "cust-1", "a")
	if err != nil {
		t.Fatalf("RemoveLine returned error: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected line removed got %+v", cart.Lines)
	}
}

func TestCartService_GetCart_MissingIsEmpty(t *testing.T) {
	carts := &stubCartRepository{missing: true}
	catalog := &stubCatalogRepository{}
	svc := newTestCartService(t, carts, catalog, nil)

	cart, err := svc.GetCart(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if cart.CustomerID != "cust-1" || len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart for customer got %+v", cart)
	}
}

func TestCartService_Estimate_ShippingProgress(t *testing.T) {
	carts := &stubCartRepository{
		cart: domain.Cart{
			ID:         "cust-1",
			CustomerID: "cust-1",
			Lines:      []domain.CartLine{testCartLine("A", 3, 250, "")},
		},
	}
	catalog := &stubCatalogRepository{}
	svc := newTestCartService(t, carts, catalog, nil)

	result, err := svc.Estimate(context.Background(), EstimateCartCommand{
		CustomerID: "cust-1",
		Channel:    domain.ChannelWebsite,
	})
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	est := result.Estimate
	if est.Subtotal != 750 || est.Shipping != 50 || est.Total != 800 {
		t.Fatalf("unexpected estimate %+v", est)
	}
	if est.Progress.AmountNeeded != 250 {
		t.Fatalf("expected 250 to free shipping got %v", est.Progress.AmountNeeded)
	}
}

func TestCartService_Estimate_CouponAppliedAndFreeShipping(t *testing.T) {
	now := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	coupons, offers, orders := couponFixture(t, now)
	couponSvc := newTestCouponService(t, now, coupons, offers, orders)

	carts := &stubCartRepository{
		cart: domain.Cart{
			ID:         "cust-1",
			CustomerID: "cust-1",
			Lines:      []domain.CartLine{testCartLine("A", 2, 600, "")},
		},
	}
	svc := newTestCartService(t, carts, &stubCatalogRepository{}, couponSvc)

	result, err := svc.Estimate(context.Background(), EstimateCartCommand{
		CustomerID: "cust-1",
		Channel:    domain.ChannelWebsite,
		CouponCode: "FEST10",
	})
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	if result.Quote == nil || result.Quote.DiscountAmount != 120 {
		t.Fatalf("expected applied quote of 120 got %+v", result.Quote)
	}
	est := result.Estimate
	if est.Discount != 120 || est.Shipping != 0 || est.Total != 1080 {
		t.Fatalf("unexpected estimate %+v", est)
	}
}

func TestCartService_Estimate_CouponRejectionKeepsTotals(t *testing.T) {
	now := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	coupons, offers, orders := couponFixture(t, now)
	couponSvc := newTestCouponService(t, now, coupons, offers, orders)

	carts := &stubCartRepository{
		cart: domain.Cart{
			ID:         "cust-1",
			CustomerID: "cust-1",
			Lines:      []domain.CartLine{testCartLine("A", 2, 600, "")},
		},
	}
	svc := newTestCartService(t, carts, &stubCatalogRepository{}, couponSvc)

	result, err := svc.Estimate(context.Background(), EstimateCartCommand{
		CustomerID: "cust-1",
		Channel:    domain.ChannelWebsite,
		CouponCode: "MISSING",
	})
	if err != nil {
		t.Fatalf("rejection must not fail the estimate: %v", err)
	}
	if !errors.Is(result.CouponError, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound in result got %v", result.CouponError)
	}
	if result.Estimate.Discount != 0 || result.Estimate.Total != 1200 {
		t.Fatalf("totals must ignore the rejected coupon, got %+v", result.Estimate)
	}
}
