package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftline/commerce-api/internal/domain"
	pfirestore "github.com/craftline/commerce-api/internal/platform/firestore"
	"github.com/craftline/commerce-api/internal/repositories"
)

const productCollection = "products"

// CatalogRepository persists products and their variant stock in Firestore.
type CatalogRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection)
	return &CatalogRepository{provider: provider, base: base}, nil
}

// FindProduct loads a product by document id.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListProducts returns products matching the filter ordered by name.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.CategoryID); category != "" {
			q = q.Where("categoryId", "==", category)
		}
		if brand := strings.TrimSpace(filter.BrandID); brand != "" {
			q = q.Where("brandId", "==", brand)
		}
		return q.OrderBy("name", firestore.Asc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

// UpsertProduct persists the product document, keeping timestamps stable on update.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}

	now := time.Now().UTC()
	doc := newProductDocument(product)
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(id), nil
}

// DecrementStock reduces variant stock for every requested line inside one
// transaction; any shortfall aborts the whole batch.
func (r *CatalogRepository) DecrementStock(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockDecrementResult{}, errors.New("catalog repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockDecrementResult{}, errors.New("catalog decrement: at least one line is required")
	}

	now := req.Now.UTC()
	var result repositories.StockDecrementResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		remaining := make(map[string]int, len(req.Lines))
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		pending := make(map[string]*pendingWrite)

		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			productID := strings.TrimSpace(line.ProductID)
			if sku == "" || productID == "" {
				return repositories.NewStockError(repositories.StockErrorNotFound, sku, 0, "catalog decrement: product id and sku are required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, sku, 0, fmt.Sprintf("catalog decrement: quantity for %s must be > 0", sku), nil)
			}

			write, ok := pending[productID]
			if !ok {
				ref, err := r.base.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewStockError(repositories.StockErrorNotFound, sku, 0, fmt.Sprintf("product %s not found", productID), err)
					}
					return err
				}
				var doc productDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				write = &pendingWrite{ref: ref, doc: doc}
				pending[productID] = write
			}

			idx := write.doc.variantIndex(sku)
			if idx < 0 {
				return repositories.NewStockError(repositories.StockErrorNotFound, sku, 0, fmt.Sprintf("variant %s not found on product %s", sku, productID), nil)
			}
			if write.doc.Variants[idx].Stock < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, sku, write.doc.Variants[idx].Stock, fmt.Sprintf("insufficient stock for %s", sku), nil)
			}
			write.doc.Variants[idx].Stock -= line.Quantity
			remaining[sku] = write.doc.Variants[idx].Stock
		}

		for _, write := range pending {
			write.doc.UpdatedAt = now
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}

		result = repositories.StockDecrementResult{Remaining: remaining}
		return nil
	})
	if err != nil {
		return repositories.StockDecrementResult{}, wrapStockError("catalog.decrement", err)
	}
	return result, nil
}

// RestoreStock adds quantities back after a failed confirmation. Missing
// products or variants are skipped rather than failing the compensation.
func (r *CatalogRepository) RestoreStock(ctx context.Context, req repositories.StockRestoreRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	if len(req.Lines) == 0 {
		return nil
	}

	now := req.Now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		pending := make(map[string]*pendingWrite)

		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			productID := strings.TrimSpace(line.ProductID)
			if sku == "" || productID == "" || line.Quantity <= 0 {
				continue
			}

			write, ok := pending[productID]
			if !ok {
				ref, err := r.base.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				var doc productDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				write = &pendingWrite{ref: ref, doc: doc}
				pending[productID] = write
			}

			idx := write.doc.variantIndex(sku)
			if idx < 0 {
				continue
			}
			write.doc.Variants[idx].Stock += line.Quantity
		}

		for _, write := range pending {
			write.doc.UpdatedAt = now
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStockError("catalog.restore", err)
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name       string            `firestore:"name"`
	ImageURL   string            `firestore:"imageUrl,omitempty"`
	CategoryID string            `firestore:"categoryId,omitempty"`
	BrandID    string            `firestore:"brandId,omitempty"`
	StyleID    string            `firestore:"styleId,omitempty"`
	TypeID     string            `firestore:"typeId,omitempty"`
	Variants   []variantDocument `firestore:"variants"`
	CreatedAt  time.Time         `firestore:"createdAt"`
	UpdatedAt  time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	SKU                string  `firestore:"sku"`
	Color              string  `firestore:"color,omitempty"`
	Size               string  `firestore:"size,omitempty"`
	Stock              int     `firestore:"stock"`
	SalesPrice         float64 `firestore:"salesPrice"`
	SalesTaxPercent    float64 `firestore:"salesTax"`
	PurchasePrice      float64 `firestore:"purchasePrice,omitempty"`
	PurchaseTaxPercent float64 `firestore:"purchaseTax,omitempty"`
}

func (d productDocument) variantIndex(sku string) int {
	for i, v := range d.Variants {
		if strings.EqualFold(strings.TrimSpace(v.SKU), sku) {
			return i
		}
	}
	return -1
}

func newProductDocument(product domain.Product) productDocument {
	variants := make([]variantDocument, len(product.Variants))
	for i, v := range product.Variants {
		variants[i] = variantDocument{
			SKU:                strings.TrimSpace(v.SKU),
			Color:              strings.TrimSpace(v.Color),
			Size:               strings.TrimSpace(v.Size),
			Stock:              v.Stock,
			SalesPrice:         v.SalesPrice,
			SalesTaxPercent:    v.SalesTaxPercent,
			PurchasePrice:      v.PurchasePrice,
			PurchaseTaxPercent: v.PurchaseTaxPercent,
		}
	}
	return productDocument{
		Name:       strings.TrimSpace(product.Name),
		ImageURL:   strings.TrimSpace(product.ImageURL),
		CategoryID: strings.TrimSpace(product.CategoryID),
		BrandID:    strings.TrimSpace(product.BrandID),
		StyleID:    strings.TrimSpace(product.StyleID),
		TypeID:     strings.TrimSpace(product.TypeID),
		Variants:   variants,
		CreatedAt:  product.CreatedAt.UTC(),
		UpdatedAt:  product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.ProductVariant, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = domain.ProductVariant{
			SKU:                strings.TrimSpace(v.SKU),
			Color:              strings.TrimSpace(v.Color),
			Size:               strings.TrimSpace(v.Size),
			Stock:              v.Stock,
			SalesPrice:         v.SalesPrice,
			SalesTaxPercent:    v.SalesTaxPercent,
			PurchasePrice:      v.PurchasePrice,
			PurchaseTaxPercent: v.PurchaseTaxPercent,
		}
	}
	return domain.Product{
		ID:         id,
		Name:       strings.TrimSpace(d.Name),
		ImageURL:   strings.TrimSpace(d.ImageURL),
		CategoryID: strings.TrimSpace(d.CategoryID),
		BrandID:    strings.TrimSpace(d.BrandID),
		StyleID:    strings.TrimSpace(d.StyleID),
		TypeID:     strings.TrimSpace(d.TypeID),
		Variants:   variants,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
