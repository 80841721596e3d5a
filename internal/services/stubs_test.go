package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/payments"
	"github.com/craftline/commerce-api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string {
	return fmt.Sprintf("stub repo error notFound=%v conflict=%v unavailable=%v", e.notFound, e.conflict, e.unavailable)
}

func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubCatalogRepository struct {
	products     map[string]domain.Product
	findErr      error
	decrementErr error
	restoreErr   error
	decremented  [][]repositories.StockLine
	restored     [][]repositories.StockLine
	upserted     []domain.Product
}

func (s *stubCatalogRepository) FindProduct(_ context.Context, productID string) (domain.Product, error) {
	if s.findErr != nil {
		return domain.Product{}, s.findErr
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, &stubRepoError{notFound: true}
	}
	return product, nil
}

func (s *stubCatalogRepository) ListProducts(context.Context, repositories.ProductListFilter) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubCatalogRepository) UpsertProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.upserted = append(s.upserted, product)
	return product, nil
}

func (s *stubCatalogRepository) DecrementStock(_ context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if s.decrementErr != nil {
		return repositories.StockDecrementResult{}, s.decrementErr
	}
	s.decremented = append(s.decremented, req.Lines)
	remaining := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		if product, ok := s.products[line.ProductID]; ok {
			if variant, ok := product.Variant(line.SKU); ok {
				remaining[line.SKU] = variant.Stock - line.Quantity
			}
		}
	}
	return repositories.StockDecrementResult{Remaining: remaining}, nil
}

func (s *stubCatalogRepository) RestoreStock(_ context.Context, req repositories.StockRestoreRequest) error {
	if s.restoreErr != nil {
		return s.restoreErr
	}
	s.restored = append(s.restored, req.Lines)
	return nil
}

type stubCartRepository struct {
	cart       domain.Cart
	missing    bool
	getErr     error
	replaceErr error
	cleared    []string
}

func (s *stubCartRepository) GetCart(_ context.Context, customerID string) (domain.Cart, error) {
	if s.getErr != nil {
		return domain.Cart{}, s.getErr
	}
	if s.missing {
		return domain.Cart{}, &stubRepoError{notFound: true}
	}
	return s.cart, nil
}

func (s *stubCartRepository) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	s.cart = cart
	s.missing = false
	return cart, nil
}

func (s *stubCartRepository) ReplaceLines(_ context.Context, customerID string, lines []domain.CartLine) (domain.Cart, error) {
	if s.replaceErr != nil {
		return domain.Cart{}, s.replaceErr
	}
	s.cart.ID = customerID
	s.cart.CustomerID = customerID
	s.cart.Lines = lines
	s.missing = false
	return s.cart, nil
}

func (s *stubCartRepository) ClearCart(_ context.Context, customerID string) error {
	s.cleared = append(s.cleared, customerID)
	s.cart.Lines = nil
	return nil
}

type stubOfferRepository struct {
	offers   map[string]domain.DiscountOffer
	inserted []domain.DiscountOffer
}

func (s *stubOfferRepository) Insert(_ context.Context, offer domain.DiscountOffer) (domain.DiscountOffer, error) {
	s.inserted = append(s.inserted, offer)
	return offer, nil
}

func (s *stubOfferRepository) FindByID(_ context.Context, offerID string) (domain.DiscountOffer, error) {
	offer, ok := s.offers[offerID]
	if !ok {
		return domain.DiscountOffer{}, &stubRepoError{notFound: true}
	}
	return offer, nil
}

func (s *stubOfferRepository) List(context.Context) ([]domain.DiscountOffer, error) {
	out := make([]domain.DiscountOffer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	return out, nil
}

type stubCouponRepository struct {
	coupons    map[string]domain.DiscountCoupon
	redeemErr  error
	releaseErr error
	redeemed   []string
	released   []string
	inserted   []domain.DiscountCoupon
}

func (s *stubCouponRepository) Insert(_ context.Context, coupon domain.DiscountCoupon) (domain.DiscountCoupon, error) {
	s.inserted = append(s.inserted, coupon)
	return coupon, nil
}

func (s *stubCouponRepository) FindByCode(_ context.Context, code string) (domain.DiscountCoupon, error) {
	normalized := domain.NormalizeCouponCode(code)
	for _, coupon := range s.coupons {
		if coupon.Code == normalized {
			return coupon, nil
		}
	}
	return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", normalized), nil)
}

func (s *stubCouponRepository) List(context.Context) ([]domain.DiscountCoupon, error) {
	out := make([]domain.DiscountCoupon, 0, len(s.coupons))
	for _, c := range s.coupons {
		out = append(out, c)
	}
	return out, nil
}

func (s *stubCouponRepository) Redeem(_ context.Context, couponID string, now time.Time) (domain.DiscountCoupon, error) {
	if s.redeemErr != nil {
		return domain.DiscountCoupon{}, s.redeemErr
	}
	coupon, ok := s.coupons[couponID]
	if !ok {
		return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", couponID), nil)
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorExhausted, fmt.Sprintf("coupon %s usage limit reached", coupon.Code), nil)
	}
	coupon.UsedCount++
	s.coupons[couponID] = coupon
	s.redeemed = append(s.redeemed, couponID)
	return coupon, nil
}

func (s *stubCouponRepository) ReleaseUse(_ context.Context, couponID string, _ time.Time) (domain.DiscountCoupon, error) {
	if s.releaseErr != nil {
		return domain.DiscountCoupon{}, s.releaseErr
	}
	coupon, ok := s.coupons[couponID]
	if !ok {
		return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", couponID), nil)
	}
	if coupon.UsedCount > 0 {
		coupon.UsedCount--
	}
	s.coupons[couponID] = coupon
	s.released = append(s.released, couponID)
	return coupon, nil
}

type stubOrderRepository struct {
	orders    map[string]domain.SalesOrder
	inserted  []domain.SalesOrder
	paidCount int
	countErr  error
	insertErr error
}

func (s *stubOrderRepository) Insert(_ context.Context, order domain.SalesOrder) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.orders == nil {
		s.orders = make(map[string]domain.SalesOrder)
	}
	s.orders[order.ID] = order
	s.inserted = append(s.inserted, order)
	return nil
}

func (s *stubOrderRepository) Update(_ context.Context, order domain.SalesOrder) error {
	if s.orders == nil {
		s.orders = make(map[string]domain.SalesOrder)
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.SalesOrder, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.SalesOrder{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) ListByCustomer(_ context.Context, customerID string, _ int) ([]domain.SalesOrder, error) {
	var out []domain.SalesOrder
	for _, order := range s.orders {
		if order.CustomerID == customerID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *stubOrderRepository) CountPaid(context.Context, string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.paidCount, nil
}

type stubInvoiceRepository struct {
	invoices  map[string]domain.CustomerInvoice
	inserted  []domain.CustomerInvoice
	insertErr error
}

func (s *stubInvoiceRepository) Insert(_ context.Context, invoice domain.CustomerInvoice) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.invoices == nil {
		s.invoices = make(map[string]domain.CustomerInvoice)
	}
	s.invoices[invoice.OrderID] = invoice
	s.inserted = append(s.inserted, invoice)
	return nil
}

func (s *stubInvoiceRepository) FindByID(_ context.Context, invoiceID string) (domain.CustomerInvoice, error) {
	for _, invoice := range s.invoices {
		if invoice.ID == invoiceID {
			return invoice, nil
		}
	}
	return domain.CustomerInvoice{}, &stubRepoError{notFound: true}
}

func (s *stubInvoiceRepository) FindByOrder(_ context.Context, orderID string) (domain.CustomerInvoice, error) {
	invoice, ok := s.invoices[orderID]
	if !ok {
		return domain.CustomerInvoice{}, &stubRepoError{notFound: true}
	}
	return invoice, nil
}

func (s *stubInvoiceRepository) ListByCustomer(_ context.Context, customerID string, _ int) ([]domain.CustomerInvoice, error) {
	var out []domain.CustomerInvoice
	for _, invoice := range s.invoices {
		if invoice.CustomerID == customerID {
			out = append(out, invoice)
		}
	}
	return out, nil
}

type stubOrderPublisher struct {
	messages []OrderConfirmedMessage
	err      error
}

func (s *stubOrderPublisher) PublishOrderConfirmed(_ context.Context, message OrderConfirmedMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return fmt.Sprintf("msg-%d", len(s.messages)), nil
}

type stubPaymentManager struct {
	lastCtx payments.PaymentContext
	lastReq payments.CheckoutSessionRequest
	session payments.CheckoutSession
	err     error
}

func (s *stubPaymentManager) CreateCheckoutSession(_ context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.lastCtx = paymentCtx
	s.lastReq = req
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	session := s.session
	if session.ID == "" {
		session.ID = "sess_test"
	}
	return session, nil
}

func sequentialIDs(prefix string) func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func testCartLine(sku string, qty int, unitPrice float64, ruleID string) domain.CartLine {
	line := domain.CartLine{
		SKU:       sku,
		ProductID: "prod-" + strings.ToLower(sku),
		Name:      "Item " + sku,
		Quantity:  qty,
		UnitPrice: unitPrice,
	}
	if ruleID != "" {
		line.CategoryID = ruleID
	}
	return line
}
