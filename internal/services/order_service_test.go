package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/repositories"
)

type orderFixture struct {
	carts     *stubCartRepository
	catalog   *stubCatalogRepository
	orders    *stubOrderRepository
	invoices  *stubInvoiceRepository
	coupons   *stubCouponRepository
	offers    *stubOfferRepository
	publisher *stubOrderPublisher
	svc       OrderService
	now       time.Time
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	now := time.Date(2026, time.May, 20, 9, 30, 0, 0, time.UTC)

	coupons, offers, stubOrders := couponFixture(t, now)
	couponSvc := newTestCouponService(t, now, coupons, offers, stubOrders)

	f := &orderFixture{
		carts: &stubCartRepository{
			cart: domain.Cart{
				ID:         "cust-1",
				CustomerID: "cust-1",
				Lines: []domain.CartLine{
					{SKU: "TR-42", ProductID: "prod-1", Name: "Trail Runner", Quantity: 2, UnitPrice: 600, CategoryID: "cat-shoes"},
					{SKU: "TS-M", ProductID: "prod-2", Name: "Tee", Quantity: 1, UnitPrice: 300, CategoryID: "cat-shirts"},
				},
			},
		},
		catalog: &stubCatalogRepository{products: map[string]domain.Product{
			"prod-1": {ID: "prod-1", Variants: []domain.ProductVariant{{SKU: "TR-42", Stock: 5}}},
			"prod-2": {ID: "prod-2", Variants: []domain.ProductVariant{{SKU: "TS-M", Stock: 10}}},
		}},
		orders:    stubOrders,
		invoices:  &stubInvoiceRepository{},
		coupons:   coupons,
		offers:    offers,
		publisher: &stubOrderPublisher{},
		now:       now,
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Carts:     f.carts,
		Catalog:   f.catalog,
		Orders:    f.orders,
		Invoices:  f.invoices,
		Coupons:   couponSvc,
		Publisher: f.publisher,
		Shipping:  NewShippingPolicy(1000, 50),
		Clock:     func() time.Time { return now },
		IDGen:     sequentialIDs("ord"),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func TestOrderService_Confirm_WithCoupon(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		CouponCode: "FEST10",
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}

	// Subtotal 1500, 10% off, post-discount 1350 ships free.
	if order.Totals.ItemsPrice != 1500 || order.Totals.Discount != 150 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if order.Totals.Shipping != 0 || order.Totals.Total != 1350 {
		t.Fatalf("unexpected shipping/total %+v", order.Totals)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment got %s", order.Status)
	}
	if order.CouponCode != "FEST10" {
		t.Fatalf("expected coupon code on order got %q", order.CouponCode)
	}

	if len(f.catalog.decremented) != 1 || len(f.catalog.decremented[0]) != 2 {
		t.Fatalf("expected one stock decrement batch, got %+v", f.catalog.decremented)
	}
	if len(f.coupons.redeemed) != 1 || f.coupons.redeemed[0] != "c1" {
		t.Fatalf("expected coupon redeemed once, got %v", f.coupons.redeemed)
	}
	if f.coupons.coupons["c1"].UsedCount != 1 {
		t.Fatalf("expected usedCount 1 got %d", f.coupons.coupons["c1"].UsedCount)
	}
	if len(f.orders.inserted) != 1 {
		t.Fatalf("expected order persisted, got %d", len(f.orders.inserted))
	}
	if len(f.invoices.inserted) != 1 {
		t.Fatalf("expected invoice persisted, got %d", len(f.invoices.inserted))
	}
	invoice := f.invoices.inserted[0]
	if invoice.DiscountAmount != 150 || invoice.TotalAmount != 1350 {
		t.Fatalf("invoice totals must mirror the order, got %+v", invoice)
	}
	if len(f.carts.cleared) != 1 {
		t.Fatalf("expected cart cleared, got %v", f.carts.cleared)
	}
	if len(f.publisher.messages) != 1 {
		t.Fatalf("expected one published event got %d", len(f.publisher.messages))
	}
	msg := f.publisher.messages[0]
	if msg.OrderID != order.ID || msg.Total != 1350 || msg.CouponCode != "FEST10" {
		t.Fatalf("unexpected event payload %+v", msg)
	}
}

func TestOrderService_Confirm_WithoutCoupon(t *testing.T) {
	f := newOrderFixture(t)
	f.carts.cart.Lines = []domain.CartLine{
		{SKU: "TS-M", ProductID: "prod-2", Name: "Tee", Quantity: 1, UnitPrice: 300},
	}

	order, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer: domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if order.Totals.Discount != 0 || order.Totals.Shipping != 50 || order.Totals.Total != 350 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(f.coupons.redeemed) != 0 {
		t.Fatalf("no coupon should be redeemed, got %v", f.coupons.redeemed)
	}
}

func TestOrderService_Confirm_EmptyCart(t *testing.T) {
	f := newOrderFixture(t)
	f.carts.cart.Lines = nil

	_, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer: domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
	})
	if !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected ErrOrderEmptyCart got %v", err)
	}
}

func TestOrderService_Confirm_PaymentRefMarksPaid(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		PaymentRef: "pi_123",
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status got %s", order.Status)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(f.now) {
		t.Fatalf("expected paidAt set to clock, got %v", order.PaidAt)
	}
}

func TestOrderService_Confirm_StockChangedIsRetryable(t *testing.T) {
	f := newOrderFixture(t)
	f.catalog.decrementErr = repositories.NewStockError(repositories.StockErrorInsufficient, "TR-42", 1, "insufficient stock for TR-42", nil)

	_, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		CouponCode: "FEST10",
	})
	var oos *OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatalf("expected OutOfStockError got %v", err)
	}
	if oos.SKU != "TR-42" || oos.Available != 1 {
		t.Fatalf("unexpected stock error %+v", oos)
	}
	if len(f.coupons.redeemed) != 0 {
		t.Fatalf("coupon must not be redeemed when stock fails, got %v", f.coupons.redeemed)
	}
	if len(f.orders.inserted) != 0 {
		t.Fatalf("no order should persist, got %d", len(f.orders.inserted))
	}
}

func TestOrderService_Confirm_CouponRaceRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	// The coupon validates but a concurrent order consumes the last use
	// before this confirmation redeems it.
	f.coupons.redeemErr = repositories.NewCouponError(repositories.CouponErrorExhausted, "coupon FEST10 usage limit reached", nil)

	_, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		CouponCode: "FEST10",
	})
	if !errors.Is(err, ErrCouponUsageLimitReached) {
		t.Fatalf("expected ErrCouponUsageLimitReached got %v", err)
	}
	if len(f.catalog.decremented) != 1 {
		t.Fatalf("stock decrement should have happened, got %+v", f.catalog.decremented)
	}
	if len(f.catalog.restored) != 1 {
		t.Fatalf("stock must be restored after coupon failure, got %+v", f.catalog.restored)
	}
	if len(f.orders.inserted) != 0 {
		t.Fatalf("no order should persist, got %d", len(f.orders.inserted))
	}
	if len(f.carts.cleared) != 0 {
		t.Fatalf("cart must survive a failed confirmation, got %v", f.carts.cleared)
	}
}

func TestOrderService_Confirm_PersistFailureRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.insertErr = &stubRepoError{unavailable: true}

	_, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer: domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable got %v", err)
	}
	if len(f.catalog.restored) != 1 {
		t.Fatalf("stock must be restored after persist failure, got %+v", f.catalog.restored)
	}
}

func TestOrderService_Confirm_PersistFailureReleasesCouponUse(t *testing.T) {
	f := newOrderFixture(t)
	coupon := f.coupons.coupons["c1"]
	coupon.UsageLimit = 1
	f.coupons.coupons["c1"] = coupon
	f.orders.insertErr = &stubRepoError{unavailable: true}

	_, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		CouponCode: "FEST10",
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable got %v", err)
	}
	if len(f.catalog.restored) != 1 {
		t.Fatalf("stock must be restored after persist failure, got %+v", f.catalog.restored)
	}
	if len(f.coupons.released) != 1 || f.coupons.released[0] != "c1" {
		t.Fatalf("coupon use must be handed back, got %v", f.coupons.released)
	}
	if f.coupons.coupons["c1"].UsedCount != 0 {
		t.Fatalf("expected usedCount back at 0 got %d", f.coupons.coupons["c1"].UsedCount)
	}

	// With the use handed back the single-use coupon still works on retry.
	f.orders.insertErr = nil
	order, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer:   domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
		CouponCode: "FEST10",
	})
	if err != nil {
		t.Fatalf("retry after persist failure must succeed: %v", err)
	}
	if order.CouponCode != "FEST10" {
		t.Fatalf("expected coupon applied on retry got %q", order.CouponCode)
	}
	if f.coupons.coupons["c1"].UsedCount != 1 {
		t.Fatalf("expected usedCount 1 after retry got %d", f.coupons.coupons["c1"].UsedCount)
	}
}

func TestOrderService_Confirm_InvoiceFailureDoesNotFailOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.invoices.insertErr = &stubRepoError{unavailable: true}

	order, err := f.svc.Confirm(context.Background(), ConfirmOrderCommand{
		Customer: domain.CustomerContext{CustomerID: "cust-1", Channel: domain.ChannelWebsite},
	})
	if err != nil {
		t.Fatalf("invoice failure must not fail confirmation: %v", err)
	}
	if len(f.orders.inserted) != 1 || f.orders.inserted[0].ID != order.ID {
		t.Fatalf("order must persist, got %+v", f.orders.inserted)
	}
}

func TestOrderService_GetOrder_HidesOtherCustomers(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.SalesOrder{
		"ord-9": {ID: "ord-9", CustomerID: "cust-other"},
	}

	if _, err := f.svc.GetOrder(context.Background(), "cust-1", "ord-9"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}

func TestOrderService_GetInvoice_DisplayDiscount(t *testing.T) {
	f := newOrderFixture(t)
	f.invoices.invoices = map[string]domain.CustomerInvoice{
		"ord-1": {
			ID:         "inv-1",
			OrderID:    "ord-1",
			CustomerID: "cust-1",
			Lines: []domain.OrderLine{
				{SKU: "A", Quantity: 2, UnitPrice: 600, Total: 1200},
			},
			ItemsPrice:    1200,
			ShippingPrice: 0,
			TotalAmount:   1080,
		},
	}

	view, err := f.svc.GetInvoice(context.Background(), "cust-1", "ord-1")
	if err != nil {
		t.Fatalf("GetInvoice returned error: %v", err)
	}
	if view.DisplayDiscount != 120 {
		t.Fatalf("expected reconstructed discount 120 got %v", view.DisplayDiscount)
	}
}

func TestDisplayDiscount(t *testing.T) {
	cases := []struct {
		name    string
		invoice domain.CustomerInvoice
		want    float64
	}{
		{
			name: "stored amount wins",
			invoice: domain.CustomerInvoice{
				DiscountAmount: 150,
				Lines:          []domain.OrderLine{{Quantity: 1, UnitPrice: 1000, Total: 1000}},
				ShippingPrice:  0,
				TotalAmount:    850,
			},
			want: 150,
		},
		{
			name: "derived from totals",
			invoice: domain.CustomerInvoice{
				Lines:         []domain.OrderLine{{Quantity: 2, UnitPrice: 500, Total: 1000}},
				ShippingPrice: 50,
				TotalAmount:   950,
			},
			want: 100,
		},
		{
			name: "line total missing falls back to qty times price",
			invoice: domain.CustomerInvoice{
				Lines:         []domain.OrderLine{{Quantity: 2, UnitPrice: 500}},
				ShippingPrice: 50,
				TotalAmount:   950,
			},
			want: 100,
		},
		{
			name: "rounding noise clamps to zero",
			invoice: domain.CustomerInvoice{
				Lines:       []domain.OrderLine{{Quantity: 1, UnitPrice: 100, Total: 100}},
				TotalAmount: 99.995,
			},
			want: 0,
		},
		{
			name: "negative difference clamps to zero",
			invoice: domain.CustomerInvoice{
				Lines:       []domain.OrderLine{{Quantity: 1, UnitPrice: 100, Total: 100}},
				TotalAmount: 120,
			},
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DisplayDiscount(tc.invoice); got != tc.want {
				t.Fatalf("DisplayDiscount = %v want %v", got, tc.want)
			}
		})
	}
}
