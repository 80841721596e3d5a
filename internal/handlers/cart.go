package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/platform/httpx"
	"github.com/craftline/commerce-api/internal/services"
)

// CartHandlers exposes the customer cart endpoints.
type CartHandlers struct {
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers over the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{sku}", h.updateItem)
	r.Delete("/items/{sku}", h.removeItem)
}

// getCart prices the cart, optionally under the coupon passed as ?coupon=.
// A rejected coupon does not fail the request; the response carries the
// rejection alongside the undiscounted totals.
func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.carts.Estimate(ctx, services.EstimateCartCommand{
		CustomerID: customer.CustomerID,
		Channel:    customer.Channel,
		CouponCode: strings.TrimSpace(r.URL.Query().Get("coupon")),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartEstimateResponse{
		Cart:     buildCartPayload(result.Cart),
		Estimate: buildEstimatePayload(result.Estimate),
	}
	if result.Quote != nil {
		quote := buildCouponQuotePayload(*result.Quote)
		payload.Coupon = &quote
	}
	if result.CouponError != nil {
		payload.CouponRejection = buildCouponRejectionPayload(result.CouponError)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddLine(ctx, services.AddCartLineCommand{
		CustomerID: customer.CustomerID,
		ProductID:  strings.TrimSpace(req.ProductID),
		SKU:        strings.TrimSpace(req.SKU),
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, services.UpdateCartLineCommand{
		CustomerID: customer.CustomerID,
		SKU:        strings.TrimSpace(chi.URLParam(r, "sku")),
		Quantity:   *req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveLine(ctx, customer.CustomerID, strings.TrimSpace(chi.URLParam(r, "sku")))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	if err := h.carts.Clear(ctx, customer.CustomerID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.OutOfStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"sku":       stockErr.SKU,
				"available": stockErr.Available,
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrCartInvalidInput), errors.Is(err, services.ErrCartInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		Lines:      buildCartLinePayloads(cart.Lines),
		LinesCount: len(cart.Lines),
		Subtotal:   domain.Round2(cart.Subtotal()),
	}
	if hint := strings.TrimSpace(cart.CouponHint); hint != "" {
		payload.CouponHint = hint
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartLinePayloads(lines []domain.CartLine) []cartLinePayload {
	if len(lines) == 0 {
		return []cartLinePayload{}
	}
	payload := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		entry := cartLinePayload{
			SKU:       line.SKU,
			ProductID: line.ProductID,
			Name:      line.Name,
			ImageURL:  line.ImageURL,
			Color:     line.Color,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     domain.Round2(line.Total()),
		}
		if !line.AddedAt.IsZero() {
			entry.AddedAt = formatTime(line.AddedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildEstimatePayload(estimate domain.CartEstimate) estimatePayload {
	return estimatePayload{
		Subtotal: estimate.Subtotal,
		Discount: estimate.Discount,
		Shipping: estimate.Shipping,
		Total:    estimate.Total,
		FreeShippingProgress: shippingProgressPayload{
			AmountNeeded: estimate.Progress.AmountNeeded,
			Fraction:     estimate.Progress.Fraction,
		},
	}
}

func buildCouponQuotePayload(quote domain.CouponQuote) couponQuotePayload {
	return couponQuotePayload{
		Code:             quote.Coupon.Code,
		OfferName:        quote.Offer.Name,
		DiscountType:     string(quote.Offer.DiscountType),
		DiscountableBase: quote.DiscountableBase,
		DiscountAmount:   quote.DiscountAmount,
		EligibleSKUs:     quote.EligibleSKUs,
	}
}

func buildCouponRejectionPayload(err error) *couponRejectionPayload {
	code := services.CouponRejectionCode(err)
	if code == "" {
		return nil
	}
	payload := &couponRejectionPayload{
		Code:    code,
		Message: err.Error(),
	}
	var minErr *services.MinimumCartValueError
	if errors.As(err, &minErr) {
		shortfall := minErr.Shortfall()
		payload.AmountNeeded = &shortfall
	}
	return payload
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartEstimateResponse struct {
	Cart            cartPayload             `json:"cart"`
	Estimate        estimatePayload         `json:"estimate"`
	Coupon          *couponQuotePayload     `json:"coupon,omitempty"`
	CouponRejection *couponRejectionPayload `json:"coupon_rejection,omitempty"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Lines      []cartLinePayload `json:"lines"`
	LinesCount int               `json:"lines_count"`
	Subtotal   float64           `json:"subtotal"`
	CouponHint string            `json:"coupon_hint,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	SKU       string  `json:"sku"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Total     float64 `json:"total"`
	AddedAt   string  `json:"added_at,omitempty"`
}

type estimatePayload struct {
	Subtotal             float64                 `json:"subtotal"`
	Discount             float64                 `json:"discount"`
	Shipping             float64                 `json:"shipping"`
	Total                float64                 `json:"total"`
	FreeShippingProgress shippingProgressPayload `json:"free_shipping_progress"`
}

type shippingProgressPayload struct {
	AmountNeeded float64 `json:"amount_needed"`
	Fraction     float64 `json:"fraction"`
}

type couponQuotePayload struct {
	Code             string   `json:"code"`
	OfferName        string   `json:"offer_name"`
	DiscountType     string   `json:"discount_type"`
	DiscountableBase float64  `json:"discountable_base"`
	DiscountAmount   float64  `json:"discount_amount"`
	EligibleSKUs     []string `json:"eligible_skus,omitempty"`
}

type couponRejectionPayload struct {
	Code         string   `json:"code"`
	Message      string   `json:"message"`
	AmountNeeded *float64 `json:"amount_needed,omitempty"`
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}
