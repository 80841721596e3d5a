package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/platform/httpx"
	"github.com/craftline/commerce-api/internal/services"
)

// CatalogHandlers exposes the public product listing endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs handlers over the catalog service.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the /products endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.ProductListQuery{
		CategoryID: strings.TrimSpace(r.URL.Query().Get("category")),
		BrandID:    strings.TrimSpace(r.URL.Query().Get("brand")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		query.Limit = limit
	}

	views, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	products := make([]productPayload, 0, len(views))
	for _, view := range views {
		products = append(products, buildProductPayload(view))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Products: products, Count: len(products)})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	view, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(view)})
}

func (h *CatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load products", http.StatusInternalServerError))
	}
}

func buildProductPayload(view services.ProductView) productPayload {
	product := view.Product
	payload := productPayload{
		ID:         product.ID,
		Name:       product.Name,
		ImageURL:   product.ImageURL,
		CategoryID: product.CategoryID,
		BrandID:    product.BrandID,
		StyleID:    product.StyleID,
		TypeID:     product.TypeID,
		Price: displayPricePayload{
			Amount: view.Price.Amount,
			From:   view.Price.From,
		},
		Variants: buildVariantPayloads(product.Variants),
	}
	if !product.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(product.CreatedAt)
	}
	if !product.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(product.UpdatedAt)
	}
	return payload
}

func buildVariantPayloads(variants []domain.ProductVariant) []variantPayload {
	if len(variants) == 0 {
		return []variantPayload{}
	}
	payload := make([]variantPayload, 0, len(variants))
	for _, variant := range variants {
		payload = append(payload, variantPayload{
			SKU:       variant.SKU,
			Color:     variant.Color,
			Size:      variant.Size,
			Stock:     variant.Stock,
			UnitPrice: domain.Round2(services.VariantUnitPrice(variant)),
			InStock:   variant.Stock > 0,
		})
	}
	return payload
}

type productListResponse struct {
	Products []productPayload `json:"products"`
	Count    int              `json:"count"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	ImageURL   string              `json:"image_url,omitempty"`
	CategoryID string              `json:"category_id,omitempty"`
	BrandID    string              `json:"brand_id,omitempty"`
	StyleID    string              `json:"style_id,omitempty"`
	TypeID     string              `json:"type_id,omitempty"`
	Price      displayPricePayload `json:"price"`
	Variants   []variantPayload    `json:"variants"`
	CreatedAt  string              `json:"created_at,omitempty"`
	UpdatedAt  string              `json:"updated_at,omitempty"`
}

type displayPricePayload struct {
	Amount float64 `json:"amount"`
	From   bool    `json:"from"`
}

type variantPayload struct {
	SKU       string  `json:"sku"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
	Stock     int     `json:"stock"`
	UnitPrice float64 `json:"unit_price"`
	InStock   bool    `json:"in_stock"`
}
