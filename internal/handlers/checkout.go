package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftline/commerce-api/internal/platform/httpx"
	"github.com/craftline/commerce-api/internal/services"
)

// CheckoutHandlers exposes hosted payment session creation.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

const maxCheckoutBodySize = 8 * 1024

// NewCheckoutHandlers constructs handlers over the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.createSession)
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CreateCheckoutSessionCommand{Customer: customer}
	if r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxCheckoutBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
		if err == nil {
			var req createSessionRequest
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
			cmd.CouponCode = strings.TrimSpace(req.CouponCode)
			cmd.SuccessURL = strings.TrimSpace(req.SuccessURL)
			cmd.CancelURL = strings.TrimSpace(req.CancelURL)
			cmd.PSP = strings.TrimSpace(req.PSP)
		}
	}

	session, err := h.checkout.CreateSession(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutSessionPayload{
		SessionID:    session.SessionID,
		Provider:     session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		Amount:       session.Amount,
		Currency:     session.Currency,
	}
	if !session.ExpiresAt.IsZero() {
		payload.ExpiresAt = formatTime(session.ExpiresAt)
	}
	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{Session: payload})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

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
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to check out", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment provider rejected the session", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create checkout session", http.StatusInternalServerError))
	}
}

type createSessionRequest struct {
	CouponCode string `json:"coupon_code"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	PSP        string `json:"psp"`
}

type checkoutSessionResponse struct {
	Session checkoutSessionPayload `json:"session"`
}

type checkoutSessionPayload struct {
	SessionID    string  `json:"session_id"`
	Provider     string  `json:"provider"`
	ClientSecret string  `json:"client_secret,omitempty"`
	RedirectURL  string  `json:"redirect_url,omitempty"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
}
