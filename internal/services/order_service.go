package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderEmptyCart indicates confirmation was attempted on an empty cart.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNotFound indicates no order exists for the customer and id.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvoiceNotFound indicates no invoice has been issued for the order.
	ErrOrderInvoiceNotFound = errors.New("order: invoice not found")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Carts     repositories.CartRepository
	Catalog   repositories.CatalogRepository
	Orders    repositories.OrderRepository
	Invoices  repositories.InvoiceRepository
	Coupons   CouponService
	Publisher OrderEventPublisher
	Shipping  ShippingPolicy
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	IDGen     func() string
}

type orderService struct {
	carts     repositories.CartRepository
	catalog   repositories.CatalogRepository
	orders    repositories.OrderRepository
	invoices  repositories.InvoiceRepository
	coupons   CouponService
	publisher OrderEventPublisher
	shipping  ShippingPolicy
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	newID     func() string
}

// NewOrderService constructs an OrderService validating required dependencies.
// The publisher is optional; without it confirmations skip event publication.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("order service: invoice repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	shipping := deps.Shipping
	if shipping.FreeThreshold <= 0 {
		shipping = NewShippingPolicy(shipping.FreeThreshold, shipping.FlatRate)
	}

	return &orderService{
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		orders:    deps.Orders,
		invoices:  deps.Invoices,
		coupons:   deps.Coupons,
		publisher: deps.Publisher,
		shipping:  shipping,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// Confirm turns the customer's cart into a persisted order. Stock is committed
// first, then the coupon use; a coupon failure restores the stock, and a
// persistence failure restores the stock and hands the coupon use back so the
// customer can retry. Validation rejections surface unchanged so callers can
// distinguish retryable conflicts from terminal ineligibility.
func (s *orderService) Confirm(ctx context.Context, cmd ConfirmOrderCommand) (domain.SalesOrder, error) {
	if s == nil || s.carts == nil || s.orders == nil {
		return domain.SalesOrder{}, ErrOrderUnavailable
	}
	customerID := strings.TrimSpace(cmd.Customer.CustomerID)
	if customerID == "" {
		return domain.SalesOrder{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	cart, err := s.loadCart(ctx, customerID)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	if len(cart.Lines) == 0 {
		return domain.SalesOrder{}, ErrOrderEmptyCart
	}

	var quote *domain.CouponQuote
	code := domain.NormalizeCouponCode(cmd.CouponCode)
	if code != "" {
		q, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code:     code,
			Customer: domain.CustomerContext{CustomerID: customerID, Channel: cmd.Customer.Channel},
			Lines:    cart.Lines,
		})
		if err != nil {
			return domain.SalesOrder{}, err
		}
		quote = &q
	}

	var discount float64
	if quote != nil {
		discount = quote.DiscountAmount
	}
	totals := s.shipping.AssembleTotals(cart.Subtotal(), discount)
	now := s.now()

	stockLines := make([]repositories.StockLine, len(cart.Lines))
	for i, line := range cart.Lines {
		stockLines[i] = repositories.StockLine{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
		}
	}
	if _, err := s.catalog.DecrementStock(ctx, repositories.StockDecrementRequest{Lines: stockLines, Now: now}); err != nil {
		return domain.SalesOrder{}, s.translateStockError(err)
	}

	if quote != nil {
		if _, err := s.coupons.Redeem(ctx, quote.Coupon.ID); err != nil {
			s.restoreStock(ctx, stockLines, customerID, "order.coupon_redeem_failed")
			return domain.SalesOrder{}, err
		}
	}

	order := s.buildOrder(cart, totals, quote, cmd, now)
	if err := s.orders.Insert(ctx, order); err != nil {
		s.restoreStock(ctx, stockLines, customerID, "order.persist_failed")
		if quote != nil {
			s.releaseCouponUse(ctx, quote.Coupon.ID, customerID, "order.persist_failed")
		}
		s.logger(ctx, "order.persist_failed", map[string]any{
			"customerId": customerID,
			"orderId":    order.ID,
			"error":      err.Error(),
		})
		return domain.SalesOrder{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}

	if err := s.invoices.Insert(ctx, s.buildInvoice(order, now)); err != nil {
		s.logger(ctx, "order.invoice_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	if err := s.carts.ClearCart(ctx, customerID); err != nil {
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"customerId": customerID,
			"orderId":    order.ID,
			"error":      err.Error(),
		})
	}

	s.publishConfirmed(ctx, order, now)
	return order, nil
}

// GetOrder loads a customer's order, hiding other customers' orders.
func (s *orderService) GetOrder(ctx context.Context, customerID, orderID string) (domain.SalesOrder, error) {
	if s == nil || s.orders == nil {
		return domain.SalesOrder{}, ErrOrderUnavailable
	}
	cid := strings.TrimSpace(customerID)
	oid := strings.TrimSpace(orderID)
	if cid == "" || oid == "" {
		return domain.SalesOrder{}, fmt.Errorf("%w: customer and order ids are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.SalesOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, oid)
		}
		return domain.SalesOrder{}, s.translateOrderError(err)
	}
	if order.CustomerID != cid {
		return domain.SalesOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, oid)
	}
	return order, nil
}

// ListOrders returns the customer's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.SalesOrder, error) {
	if s == nil || s.orders == nil {
		return nil, ErrOrderUnavailable
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByCustomer(ctx, cid, limit)
	if err != nil {
		return nil, s.translateOrderError(err)
	}
	return orders, nil
}

// GetInvoice loads the invoice for a customer's order, reconstructing the
// display discount for legacy records that predate the stored amount.
func (s *orderService) GetInvoice(ctx context.Context, customerID, orderID string) (InvoiceView, error) {
	if s == nil || s.invoices == nil {
		return InvoiceView{}, ErrOrderUnavailable
	}
	cid := strings.TrimSpace(customerID)
	oid := strings.TrimSpace(orderID)
	if cid == "" || oid == "" {
		return InvoiceView{}, fmt.Errorf("%w: customer and order ids are required", ErrOrderInvalidInput)
	}

	invoice, err := s.invoices.FindByOrder(ctx, oid)
	if err != nil {
		if isRepoNotFound(err) {
			return InvoiceView{}, fmt.Errorf("%w: order %s", ErrOrderInvoiceNotFound, oid)
		}
		return InvoiceView{}, s.translateOrderError(err)
	}
	if invoice.CustomerID != cid {
		return InvoiceView{}, fmt.Errorf("%w: order %s", ErrOrderInvoiceNotFound, oid)
	}
	return InvoiceView{Invoice: invoice, DisplayDiscount: DisplayDiscount(invoice)}, nil
}

// ListInvoices returns the customer's invoices with display discounts resolved.
func (s *orderService) ListInvoices(ctx context.Context, customerID string, limit int) ([]InvoiceView, error) {
	if s == nil || s.invoices == nil {
		return nil, ErrOrderUnavailable
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	invoices, err := s.invoices.ListByCustomer(ctx, cid, limit)
	if err != nil {
		return nil, s.translateOrderError(err)
	}
	views := make([]InvoiceView, len(invoices))
	for i, invoice := range invoices {
		views[i] = InvoiceView{Invoice: invoice, DisplayDiscount: DisplayDiscount(invoice)}
	}
	return views, nil
}

// DisplayDiscount resolves the discount shown on an invoice. The stored amount
// wins when present; otherwise the discount is reconstructed from the totals,
// with sub-cent noise clamped to zero.
func DisplayDiscount(invoice domain.CustomerInvoice) float64 {
	if invoice.DiscountAmount > 0 {
		return invoice.DiscountAmount
	}
	derived := invoice.ItemsSubtotal() + invoice.ShippingPrice - invoice.TotalAmount
	if derived < 0.01 {
		return 0
	}
	return domain.Round2(derived)
}

func (s *orderService) loadCart(ctx context.Context, customerID string) (domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, customerID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{ID: customerID, CustomerID: customerID}, nil
		}
		return domain.Cart{}, s.translateOrderError(err)
	}
	return cart, nil
}

func (s *orderService) buildOrder(cart domain.Cart, totals domain.OrderTotals, quote *domain.CouponQuote, cmd ConfirmOrderCommand, now time.Time) domain.SalesOrder {
	id := s.newID()
	lines := make([]domain.OrderLine, len(cart.Lines))
	for i, line := range cart.Lines {
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     domain.Round2(line.Total()),
		}
	}

	order := domain.SalesOrder{
		ID:          id,
		OrderNumber: "ORD-" + id,
		CustomerID:  cart.CustomerID,
		Status:      domain.OrderStatusPendingPayment,
		Channel:     cmd.Customer.Channel,
		Lines:       lines,
		Totals:      totals,
		PaymentRef:  strings.TrimSpace(cmd.PaymentRef),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if quote != nil {
		order.CouponCode = quote.Coupon.Code
	}
	if order.PaymentRef != "" {
		order.Status = domain.OrderStatusPaid
		paidAt := now
		order.PaidAt = &paidAt
	}
	return order
}

func (s *orderService) buildInvoice(order domain.SalesOrder, now time.Time) domain.CustomerInvoice {
	id := s.newID()
	return domain.CustomerInvoice{
		ID:             id,
		InvoiceNumber:  "INV-" + id,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Lines:          order.Lines,
		ItemsPrice:     order.Totals.ItemsPrice,
		DiscountAmount: order.Totals.Discount,
		ShippingPrice:  order.Totals.Shipping,
		TotalAmount:    order.Totals.Total,
		IssuedAt:       now,
	}
}

func (s *orderService) restoreStock(ctx context.Context, lines []repositories.StockLine, customerID, reason string) {
	if err := s.catalog.RestoreStock(ctx, repositories.StockRestoreRequest{Lines: lines, Now: s.now()}); err != nil {
		s.logger(ctx, "order.stock_restore_failed", map[string]any{
			"customerId": customerID,
			"reason":     reason,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) releaseCouponUse(ctx context.Context, couponID, customerID, reason string) {
	if _, err := s.coupons.Release(ctx, couponID); err != nil {
		s.logger(ctx, "order.coupon_release_failed", map[string]any{
			"customerId": customerID,
			"couponId":   couponID,
			"reason":     reason,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) publishConfirmed(ctx context.Context, order domain.SalesOrder, now time.Time) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishOrderConfirmed(ctx, OrderConfirmedMessage{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Channel:     string(order.Channel),
		CouponCode:  order.CouponCode,
		ItemsPrice:  order.Totals.ItemsPrice,
		Discount:    order.Totals.Discount,
		Shipping:    order.Totals.Shipping,
		Total:       order.Totals.Total,
		ConfirmedAt: now,
	})
	if err != nil {
		s.logger(ctx, "order.publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &OutOfStockError{
				SKU:       stockErr.SKU,
				Available: stockErr.Available,
			}
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrCartProductNotFound, stockErr.SKU)
		}
	}
	return s.translateOrderError(err)
}

func (s *orderService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		default:
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
