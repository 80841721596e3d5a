package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craftline/commerce-api/internal/platform/httpx"
	"github.com/craftline/commerce-api/internal/services"
)

// CouponHandlers exposes coupon validation against the customer's live cart.
type CouponHandlers struct {
	coupons services.CouponService
	carts   services.CartService
	limiter rateLimiter
}

const (
	maxCouponBodySize      = 4 * 1024
	couponValidateLimit    = 20
	couponValidateInterval = time.Minute
)

// CouponHandlerOption customises the coupon handlers.
type CouponHandlerOption func(*CouponHandlers)

// WithCouponRateLimiter overrides the per-customer validation limiter.
func WithCouponRateLimiter(limiter rateLimiter) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.limiter = limiter
	}
}

// NewCouponHandlers constructs handlers over the coupon and cart services.
func NewCouponHandlers(coupons services.CouponService, carts services.CartService, opts ...CouponHandlerOption) *CouponHandlers {
	h := &CouponHandlers{
		coupons: coupons,
		carts:   carts,
		limiter: newFixedWindowLimiter(couponValidateLimit, couponValidateInterval, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /coupons endpoints onto the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validate)
}

// validate runs the eligibility chain against the customer's current cart
// without consuming the coupon. Rejections map to 422 with a machine code so
// the storefront can render the exact reason.
func (h *CouponHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(customer.CustomerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many validation attempts; try again later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req validateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.GetCart(ctx, customer.CustomerID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	quote, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:     req.Code,
		Customer: customer,
		Lines:    cart.Lines,
	})
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Valid:  true,
		Coupon: buildCouponQuotePayload(quote),
	})
}

func (h *CouponHandlers) writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if rejection := buildCouponRejectionPayload(err); rejection != nil {
		details := map[string]any{"reason": rejection.Code}
		if rejection.AmountNeeded != nil {
			details["amount_needed"] = *rejection.AmountNeeded
		}
		httpx.WriteError(ctx, w, httpx.NewError(rejection.Code, rejection.Message, http.StatusUnprocessableEntity).
			WithDetails(details))
		return
	}

	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to validate coupon", http.StatusInternalServerError))
	}
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type validateCouponResponse struct {
	Valid  bool               `json:"valid"`
	Coupon couponQuotePayload `json:"coupon"`
}
