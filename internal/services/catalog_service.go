package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input parameters.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogUnavailable indicates catalog dependencies are currently unavailable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
	// ErrCatalogNotFound indicates no product exists for the id.
	ErrCatalogNotFound = errors.New("catalog: product not found")
)

// CatalogServiceDeps wires the dependencies required by the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	IDGen   func() string
}

type catalogService struct {
	catalog repositories.CatalogRepository
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
	newID   func() string
}

// NewCatalogService constructs a CatalogService validating required dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &catalogService{
		catalog: deps.Catalog,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// GetProduct loads one product with its derived listing price.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (ProductView, error) {
	if s == nil || s.catalog == nil {
		return ProductView{}, ErrCatalogUnavailable
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return ProductView{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.catalog.FindProduct(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return ProductView{}, fmt.Errorf("%w: %s", ErrCatalogNotFound, id)
		}
		return ProductView{}, s.translateCatalogError(err)
	}
	return ProductView{Product: product, Price: ProductDisplayPrice(product.Variants)}, nil
}

// ListProducts returns products matching the query, each with its listing price.
func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) ([]ProductView, error) {
	if s == nil || s.catalog == nil {
		return nil, ErrCatalogUnavailable
	}

	products, err := s.catalog.ListProducts(ctx, repositories.ProductListFilter{
		CategoryID: strings.TrimSpace(query.CategoryID),
		BrandID:    strings.TrimSpace(query.BrandID),
		Limit:      query.Limit,
	})
	if err != nil {
		return nil, s.translateCatalogError(err)
	}

	views := make([]ProductView, len(products))
	for i, product := range products {
		views[i] = ProductView{Product: product, Price: ProductDisplayPrice(product.Variants)}
	}
	return views, nil
}

// SaveProduct validates and persists admin product master data. An empty id
// creates a new product.
func (s *catalogService) SaveProduct(ctx context.Context, cmd SaveProductCommand) (domain.Product, error) {
	if s == nil || s.catalog == nil {
		return domain.Product{}, ErrCatalogUnavailable
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if len(cmd.Variants) == 0 {
		return domain.Product{}, fmt.Errorf("%w: at least one variant is required", ErrCatalogInvalidInput)
	}

	variants := make([]domain.ProductVariant, 0, len(cmd.Variants))
	seen := make(map[string]struct{}, len(cmd.Variants))
	for _, v := range cmd.Variants {
		variant, err := domain.NewProductVariant(v.SKU, v.Stock, v.SalesPrice, v.SalesTaxPercent)
		if err != nil {
			return domain.Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		}
		key := strings.ToUpper(variant.SKU)
		if _, dup := seen[key]; dup {
			return domain.Product{}, fmt.Errorf("%w: duplicate sku %s", ErrCatalogInvalidInput, variant.SKU)
		}
		seen[key] = struct{}{}
		variant.Color = strings.TrimSpace(v.Color)
		variant.Size = strings.TrimSpace(v.Size)
		variant.PurchasePrice = v.PurchasePrice
		variant.PurchaseTaxPercent = v.PurchaseTaxPercent
		variants = append(variants, variant)
	}

	now := s.now()
	product := domain.Product{
		ID:         strings.TrimSpace(cmd.ID),
		Name:       name,
		ImageURL:   strings.TrimSpace(cmd.ImageURL),
		CategoryID: strings.TrimSpace(cmd.CategoryID),
		BrandID:    strings.TrimSpace(cmd.BrandID),
		StyleID:    strings.TrimSpace(cmd.StyleID),
		TypeID:     strings.TrimSpace(cmd.TypeID),
		Variants:   variants,
		UpdatedAt:  now,
	}
	if product.ID == "" {
		product.ID = s.newID()
		product.CreatedAt = now
	}

	saved, err := s.catalog.UpsertProduct(ctx, product)
	if err != nil {
		return domain.Product{}, s.translateCatalogError(err)
	}
	return saved, nil
}

func (s *catalogService) translateCatalogError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		default:
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
}
