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

// AdminHandlers exposes back-office management of offers, coupons and products.
type AdminHandlers struct {
	coupons services.CouponService
	catalog services.CatalogService
}

const maxAdminBodySize = 64 * 1024

// NewAdminHandlers constructs handlers over the coupon and catalog services.
func NewAdminHandlers(coupons services.CouponService, catalog services.CatalogService) *AdminHandlers {
	return &AdminHandlers{
		coupons: coupons,
		catalog: catalog,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/offers", h.createOffer)
	r.Get("/offers", h.listOffers)
	r.Post("/coupons", h.createCoupon)
	r.Get("/coupons", h.listCoupons)
	r.Post("/products", h.saveProduct)
}

func (h *AdminHandlers) createOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOfferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	start, err := parseRFC3339(strings.TrimSpace(req.StartDate))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_date must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	end, err := parseRFC3339(strings.TrimSpace(req.EndDate))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "end_date must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	offer, err := h.coupons.CreateOffer(ctx, services.CreateOfferCommand{
		Name:          strings.TrimSpace(req.Name),
		DiscountType:  domain.DiscountType(strings.TrimSpace(req.DiscountType)),
		DiscountValue: req.DiscountValue,
		Channel:       domain.SalesChannel(strings.ToLower(strings.TrimSpace(req.Channel))),
		StartDate:     start,
		EndDate:       end,
	})
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, offerResponse{Offer: buildOfferPayload(offer)})
}

func (h *AdminHandlers) listOffers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
		return
	}

	offers, err := h.coupons.ListOffers(ctx)
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	payload := make([]offerPayload, 0, len(offers))
	for _, offer := range offers {
		payload = append(payload, buildOfferPayload(offer))
	}
	writeJSONResponse(w, http.StatusOK, offerListResponse{Offers: payload, Count: len(payload)})
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	expiresAt, err := parseRFC3339(strings.TrimSpace(req.ExpiresAt))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expires_at must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:            req.Code,
		OfferID:         strings.TrimSpace(req.OfferID),
		ContactID:       strings.TrimSpace(req.ContactID),
		MinCartValue:    req.MinCartValue,
		ApplicableRules: req.ApplicableRules,
		FirstTimeOnly:   req.FirstTimeOnly,
		UsageLimit:      req.UsageLimit,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
		return
	}

	coupons, err := h.coupons.ListCoupons(ctx)
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	payload := make([]couponPayload, 0, len(coupons))
	for _, coupon := range coupons {
		payload = append(payload, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{Coupons: payload, Count: len(payload)})
}

func (h *AdminHandlers) saveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req saveProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.SaveProductCommand{
		ID:         strings.TrimSpace(req.ID),
		Name:       strings.TrimSpace(req.Name),
		ImageURL:   strings.TrimSpace(req.ImageURL),
		CategoryID: strings.TrimSpace(req.CategoryID),
		BrandID:    strings.TrimSpace(req.BrandID),
		StyleID:    strings.TrimSpace(req.StyleID),
		TypeID:     strings.TrimSpace(req.TypeID),
		Variants:   make([]services.SaveVariantCommand, 0, len(req.Variants)),
	}
	for _, variant := range req.Variants {
		cmd.Variants = append(cmd.Variants, services.SaveVariantCommand{
			SKU:                variant.SKU,
			Color:              variant.Color,
			Size:               variant.Size,
			Stock:              variant.Stock,
			SalesPrice:         variant.SalesPrice,
			SalesTaxPercent:    variant.SalesTaxPercent,
			PurchasePrice:      variant.PurchasePrice,
			PurchaseTaxPercent: variant.PurchaseTaxPercent,
		})
	}

	product, err := h.catalog.SaveProduct(ctx, cmd)
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{
		Product: buildProductPayload(services.ProductView{
			Product: product,
			Price:   services.ProductDisplayPrice(product.Variants),
		}),
	})
}

func (h *AdminHandlers) writeAdminError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput),
		errors.Is(err, domain.ErrInvalidRecord):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("offer_not_found", "referenced offer does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", "coupon code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCouponUnavailable), errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("admin_service_unavailable", "admin service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("admin_error", "failed to process admin request", http.StatusInternalServerError))
	}
}

func buildOfferPayload(offer domain.DiscountOffer) offerPayload {
	return offerPayload{
		ID:            offer.ID,
		Name:          offer.Name,
		DiscountType:  string(offer.DiscountType),
		DiscountValue: offer.DiscountValue,
		Channel:       string(offer.Channel),
		StartDate:     formatTime(offer.StartDate),
		EndDate:       formatTime(offer.EndDate),
	}
}

func buildCouponPayload(coupon domain.DiscountCoupon) couponPayload {
	payload := couponPayload{
		ID:              coupon.ID,
		Code:            coupon.Code,
		OfferID:         coupon.OfferID,
		ContactID:       coupon.ContactID,
		MinCartValue:    coupon.MinCartValue,
		ApplicableRules: coupon.ApplicableRules,
		FirstTimeOnly:   coupon.FirstTimeOnly,
		UsageLimit:      coupon.UsageLimit,
		UsedCount:       coupon.UsedCount,
		ExpiresAt:       formatTime(coupon.ExpiresAt),
	}
	if !coupon.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(coupon.CreatedAt)
	}
	return payload
}

type createOfferRequest struct {
	Name          string  `json:"name"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	Channel       string  `json:"channel"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
}

type offerResponse struct {
	Offer offerPayload `json:"offer"`
}

type offerListResponse struct {
	Offers []offerPayload `json:"offers"`
	Count  int            `json:"count"`
}

type offerPayload struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	Channel       string  `json:"channel"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
}

type createCouponRequest struct {
	Code            string   `json:"code"`
	OfferID         string   `json:"offer_id"`
	ContactID       string   `json:"contact_id"`
	MinCartValue    float64  `json:"min_cart_value"`
	ApplicableRules []string `json:"applicable_rules"`
	FirstTimeOnly   bool     `json:"first_time_only"`
	UsageLimit      int      `json:"usage_limit"`
	ExpiresAt       string   `json:"expires_at"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponListResponse struct {
	Coupons []couponPayload `json:"coupons"`
	Count   int             `json:"count"`
}

type couponPayload struct {
	ID              string   `json:"id"`
	Code            string   `json:"code"`
	OfferID         string   `json:"offer_id"`
	ContactID       string   `json:"contact_id,omitempty"`
	MinCartValue    float64  `json:"min_cart_value"`
	ApplicableRules []string `json:"applicable_rules,omitempty"`
	FirstTimeOnly   bool     `json:"first_time_only"`
	UsageLimit      int      `json:"usage_limit"`
	UsedCount       int      `json:"used_count"`
	ExpiresAt       string   `json:"expires_at"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

type saveProductRequest struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	ImageURL   string               `json:"image_url"`
	CategoryID string               `json:"category_id"`
	BrandID    string               `json:"brand_id"`
	StyleID    string               `json:"style_id"`
	TypeID     string               `json:"type_id"`
	Variants   []saveVariantRequest `json:"variants"`
}

type saveVariantRequest struct {
	SKU                string  `json:"sku"`
	Color              string  `json:"color"`
	Size               string  `json:"size"`
	Stock              int     `json:"stock"`
	SalesPrice         float64 `json:"sales_price"`
	SalesTaxPercent    float64 `json:"sales_tax_percent"`
	PurchasePrice      float64 `json:"purchase_price"`
	PurchaseTaxPercent float64 `json:"purchase_tax_percent"`
}
