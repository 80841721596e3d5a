package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/payments"
	"github.com/craftline/commerce-api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartEmpty indicates a session was requested for an empty cart.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts      repositories.CartRepository
	Coupons    CouponService
	Payments   checkoutSessionManager
	Shipping   ShippingPolicy
	Currency   string
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts      repositories.CartRepository
	coupons    CouponService
	payments   checkoutSessionManager
	shipping   ShippingPolicy
	currency   string
	successURL string
	cancelURL  string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	shipping := deps.Shipping
	if shipping.FreeThreshold <= 0 {
		shipping = NewShippingPolicy(shipping.FreeThreshold, shipping.FlatRate)
	}

	return &checkoutService{
		carts:      deps.Carts,
		coupons:    deps.Coupons,
		payments:   deps.Payments,
		shipping:   shipping,
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession prices the cart, applying the coupon when present, and opens a
// hosted PSP session for the resulting total. Stock and coupon usage stay
// untouched until the order is confirmed.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	if s == nil || s.carts == nil || s.payments == nil {
		return CheckoutSessionResult{}, ErrCheckoutUnavailable
	}
	customerID := strings.TrimSpace(cmd.Customer.CustomerID)
	if customerID == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	if successURL == "" {
		successURL = s.successURL
	}
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}
	if successURL == "" || cancelURL == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, customerID)
	if err != nil {
		if !isRepoNotFound(err) {
			return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		cart = domain.Cart{ID: customerID, CustomerID: customerID}
	}
	if len(cart.Lines) == 0 {
		return CheckoutSessionResult{}, ErrCheckoutCartEmpty
	}

	var discount float64
	couponCode := domain.NormalizeCouponCode(cmd.CouponCode)
	if couponCode != "" {
		quote, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code:     couponCode,
			Customer: domain.CustomerContext{CustomerID: customerID, Channel: cmd.Customer.Channel},
			Lines:    cart.Lines,
		})
		if err != nil {
			return CheckoutSessionResult{}, err
		}
		discount = quote.DiscountAmount
	}

	totals := s.shipping.AssembleTotals(cart.Subtotal(), discount)
	idempotencyKey := s.sessionIdempotencyKey(cart, couponCode, totals)

	metadata := map[string]string{
		"customerId": customerID,
		"channel":    string(cmd.Customer.Channel),
	}
	if couponCode != "" {
		metadata["couponCode"] = couponCode
	}

	session, err := s.payments.CreateCheckoutSession(ctx,
		payments.PaymentContext{
			PreferredProvider: strings.TrimSpace(cmd.PSP),
			Currency:          s.currency,
			Metadata:          metadata,
		},
		payments.CheckoutSessionRequest{
			Amount:         domain.MinorUnits(totals.Total),
			Currency:       s.currency,
			CustomerID:     customerID,
			SuccessURL:     successURL,
			CancelURL:      cancelURL,
			Metadata:       metadata,
			IdempotencyKey: idempotencyKey,
			Items:          s.buildLineItems(cart, totals),
		})
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"customerId": customerID,
			"error":      err.Error(),
		})
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	return CheckoutSessionResult{
		SessionID:    session.ID,
		Provider:     session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		Amount:       totals.Total,
		Currency:     s.currency,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}, nil
}

// buildLineItems maps cart lines into PSP line items. Items carry gross
// amounts; the session amount is authoritative for what gets charged.
func (s *checkoutService) buildLineItems(cart domain.Cart, totals domain.OrderTotals) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(cart.Lines)+1)
	for _, line := range cart.Lines {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Name,
			SKU:      line.SKU,
			Quantity: int64(line.Quantity),
			Amount:   domain.MinorUnits(line.UnitPrice),
			Currency: s.currency,
		})
	}
	if totals.Shipping > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   domain.MinorUnits(totals.Shipping),
			Currency: s.currency,
		})
	}
	return items
}

func (s *checkoutService) sessionIdempotencyKey(cart domain.Cart, couponCode string, totals domain.OrderTotals) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.2f", cart.CustomerID, couponCode, totals.Total)
	for _, line := range cart.Lines {
		fmt.Fprintf(h, "|%s:%d", line.SKU, line.Quantity)
	}
	return "checkout_" + hex.EncodeToString(h.Sum(nil))[:32]
}
