package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/services"
)

func TestCouponHandlersValidateSuccess(t *testing.T) {
	carts := &stubCartService{
		getFunc: func(ctx context.Context, customerID string) (domain.Cart, error) {
			return domain.Cart{
				ID:         customerID,
				CustomerID: customerID,
				Lines:      []domain.CartLine{{SKU: "TR-42", Quantity: 2, UnitPrice: 750}},
			}, nil
		},
	}
	coupons := &stubCouponService{
		validateFunc: func(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error) {
			if cmd.Code != "FEST10" {
				t.Fatalf("expected code FEST10, got %q", cmd.Code)
			}
			if cmd.Customer.CustomerID != "cust-1" || cmd.Customer.Channel != domain.ChannelWebsite {
				t.Fatalf("unexpected customer %#v", cmd.Customer)
			}
			if len(cmd.Lines) != 1 {
				t.Fatalf("expected cart lines to be forwarded, got %d", len(cmd.Lines))
			}
			return domain.CouponQuote{
				Coupon:           domain.DiscountCoupon{Code: "FEST10"},
				Offer:            domain.DiscountOffer{Name: "Festival", DiscountType: domain.DiscountPercentage},
				DiscountableBase: 1500,
				DiscountAmount:   150,
				EligibleSKUs:     []string{"TR-42"},
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/coupons", NewCouponHandlers(coupons, carts).Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"FEST10"}`))
	req.Header.Set(headerCustomerID, "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Valid || resp.Coupon.DiscountAmount != 150 {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestCouponHandlersValidateRejection(t *testing.T) {
	coupons := &stubCouponService{
		validateFunc: func(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error) {
			return domain.CouponQuote{}, &services.MinimumCartValueError{Required: 1000, CartValue: 750}
		},
	}

	router := chi.NewRouter()
	router.Route("/coupons", NewCouponHandlers(coupons, &stubCartService{}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"BIG"}`))
	req.Header.Set(headerCustomerID, "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "coupon_min_cart_value" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
	if resp["amount_needed"] != float64(250) {
		t.Fatalf("expected amount_needed 250, got %v", resp["amount_needed"])
	}
}

func TestCouponHandlersValidateNotFound(t *testing.T) {
	coupons := &stubCouponService{
		validateFunc: func(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error) {
			return domain.CouponQuote{}, services.ErrCouponNotFound
		},
	}

	router := chi.NewRouter()
	router.Route("/coupons", NewCouponHandlers(coupons, &stubCartService{}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"NOPE"}`))
	req.Header.Set(headerCustomerID, "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "coupon_not_found" {
		t.Fatalf("unexpected error code %v", resp["error"])
	}
}

func TestCouponHandlersValidateRequiresCode(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/coupons", NewCouponHandlers(&stubCouponService{}, &stubCartService{}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"  "}`))
	req.Header.Set(headerCustomerID, "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateRateLimited(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return now })

	coupons := &stubCouponService{
		validateFunc: func(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error) {
			return domain.CouponQuote{Coupon: domain.DiscountCoupon{Code: cmd.Code}}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/coupons", NewCouponHandlers(coupons, &stubCartService{}, WithCouponRateLimiter(limiter)).Routes)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"FEST10"}`))
		req.Header.Set(headerCustomerID, "cust-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"FEST10"}`))
	req.Header.Set(headerCustomerID, "cust-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}

	// A different customer still has attempts left.
	req = httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"FEST10"}`))
	req.Header.Set(headerCustomerID, "cust-2")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for second customer, got %d", rr.Code)
	}
}

type stubCouponService struct {
	validateFunc     func(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error)
	redeemFunc       func(ctx context.Context, couponID string) (domain.DiscountCoupon, error)
	releaseFunc      func(ctx context.Context, couponID string) (domain.DiscountCoupon, error)
	createOfferFunc  func(ctx context.Context, cmd services.CreateOfferCommand) (domain.DiscountOffer, error)
	listOffersFunc   func(ctx context.Context) ([]domain.DiscountOffer, error)
	createCouponFunc func(ctx context.Context, cmd services.CreateCouponCommand) (domain.DiscountCoupon, error)
	listCouponsFunc  func(ctx context.Context) ([]domain.DiscountCoupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponQuote, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, cmd)
	}
	return domain.CouponQuote{}, nil
}

func (s *stubCouponService) Redeem(ctx context.Context, couponID string) (domain.DiscountCoupon, error) {
	if s.redeemFunc != nil {
		return s.redeemFunc(ctx, couponID)
	}
	return domain.DiscountCoupon{}, nil
}

func (s *stubCouponService) Release(ctx context.Context, couponID string) (domain.DiscountCoupon, error) {
	if s.releaseFunc != nil {
		return s.releaseFunc(ctx, couponID)
	}
	return domain.DiscountCoupon{}, nil
}

func (s *stubCouponService) CreateOffer(ctx context.Context, cmd services.CreateOfferCommand) (domain.DiscountOffer, error) {
	if s.createOfferFunc != nil {
		return s.createOfferFunc(ctx, cmd)
	}
	return domain.DiscountOffer{}, nil
}

func (s *stubCouponService) ListOffers(ctx context.Context) ([]domain.DiscountOffer, error) {
	if s.listOffersFunc != nil {
		return s.listOffersFunc(ctx)
	}
	return nil, nil
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.CreateCouponCommand) (domain.DiscountCoupon, error) {
	if s.createCouponFunc != nil {
		return s.createCouponFunc(ctx, cmd)
	}
	return domain.DiscountCoupon{}, nil
}

func (s *stubCouponService) ListCoupons(ctx context.Context) ([]domain.DiscountCoupon, error) {
	if s.listCouponsFunc != nil {
		return s.listCouponsFunc(ctx)
	}
	return nil, nil
}
