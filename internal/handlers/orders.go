package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/platform/httpx"
	"github.com/craftline/commerce-api/internal/services"
)

// OrderHandlers exposes order confirmation and the customer order history.
type OrderHandlers struct {
	orders services.OrderService
}

const maxOrderBodySize = 16 * 1024

// NewOrderHandlers constructs handlers over the order service.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.confirmOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/invoice", h.getInvoice)
}

// confirmOrder turns the customer's cart into a persisted order. Stock and
// coupon failures are retryable; the cart is left intact.
func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.ConfirmOrderCommand{Customer: customer}
	if r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxOrderBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
		if err == nil {
			var req confirmOrderRequest
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
			cmd.CouponCode = strings.TrimSpace(req.CouponCode)
			cmd.PaymentRef = strings.TrimSpace(req.PaymentRef)
		}
	}

	order, err := h.orders.Confirm(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListOrders(ctx, customer.CustomerID, limit)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Orders: payload, Count: len(payload)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, customer.CustomerID, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customer, err := customerFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	view, err := h.orders.GetInvoice(ctx, customer.CustomerID, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(view)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.OutOfStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"sku":       stockErr.SKU,
				"available": stockErr.Available,
				"retryable": true,
			}))
		return
	}

	if rejection := buildCouponRejectionPayload(err); rejection != nil {
		details := map[string]any{"reason": rejection.Code, "retryable": true}
		if rejection.AmountNeeded != nil {
			details["amount_needed"] = *rejection.AmountNeeded
		}
		httpx.WriteError(ctx, w, httpx.NewError(rejection.Code, rejection.Message, http.StatusUnprocessableEntity).
			WithDetails(details))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to confirm", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrCouponUnavailable), errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order domain.SalesOrder) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Channel:     string(order.Channel),
		Lines:       buildOrderLinePayloads(order.Lines),
		Totals:      buildTotalsPayload(order.Totals),
		CouponCode:  order.CouponCode,
		PaymentRef:  order.PaymentRef,
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(order.CreatedAt)
	}
	if order.PaidAt != nil && !order.PaidAt.IsZero() {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	return payload
}

func buildOrderLinePayloads(lines []domain.OrderLine) []orderLinePayload {
	if len(lines) == 0 {
		return []orderLinePayload{}
	}
	payload := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		payload = append(payload, orderLinePayload{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
		})
	}
	return payload
}

func buildTotalsPayload(totals domain.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		ItemsPrice: totals.ItemsPrice,
		Discount:   totals.Discount,
		Shipping:   totals.Shipping,
		Total:      totals.Total,
	}
}

func buildInvoicePayload(view services.InvoiceView) invoicePayload {
	invoice := view.Invoice
	payload := invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		CustomerID:    invoice.CustomerID,
		Lines:         buildOrderLinePayloads(invoice.Lines),
		ItemsPrice:    invoice.ItemsPrice,
		Discount:      view.DisplayDiscount,
		Shipping:      invoice.ShippingPrice,
		Total:         invoice.TotalAmount,
	}
	if !invoice.IssuedAt.IsZero() {
		payload.IssuedAt = formatTime(invoice.IssuedAt)
	}
	return payload
}

type confirmOrderRequest struct {
	CouponCode string `json:"coupon_code"`
	PaymentRef string `json:"payment_ref"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
	Count  int            `json:"count"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	Status      string             `json:"status"`
	Channel     string             `json:"channel"`
	Lines       []orderLinePayload `json:"lines"`
	Totals      orderTotalsPayload `json:"totals"`
	CouponCode  string             `json:"coupon_code,omitempty"`
	PaymentRef  string             `json:"payment_ref,omitempty"`
	CreatedAt   string             `json:"created_at,omitempty"`
	PaidAt      string             `json:"paid_at,omitempty"`
}

type orderLinePayload struct {
	ProductID string  `json:"product_id"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Total     float64 `json:"total"`
}

type orderTotalsPayload struct {
	ItemsPrice float64 `json:"items_price"`
	Discount   float64 `json:"discount"`
	Shipping   float64 `json:"shipping"`
	Total      float64 `json:"total"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	ID            string             `json:"id"`
	InvoiceNumber string             `json:"invoice_number"`
	OrderID       string             `json:"order_id"`
	CustomerID    string             `json:"customer_id"`
	Lines         []orderLinePayload `json:"lines"`
	ItemsPrice    float64            `json:"items_price"`
	Discount      float64            `json:"discount"`
	Shipping      float64            `json:"shipping"`
	Total         float64            `json:"total"`
	IssuedAt      string             `json:"issued_at,omitempty"`
}
