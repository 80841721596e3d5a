package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input parameters.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates cart dependencies are currently unavailable.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartProductNotFound indicates the referenced product or SKU does not exist.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartLineNotFound indicates the cart holds no line for the SKU.
	ErrCartLineNotFound = errors.New("cart: line not found")
	// ErrCartInvalidQuantity indicates the requested quantity is not positive.
	ErrCartInvalidQuantity = errors.New("cart: quantity must be at least 1")
)

// OutOfStockError reports that the requested quantity exceeds live stock,
// carrying the available count so clients can offer the remainder.
type OutOfStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	if e.Requested > 0 {
		return fmt.Sprintf("cart: only %d of %s in stock, requested %d", e.Available, e.SKU, e.Requested)
	}
	return fmt.Sprintf("cart: only %d of %s in stock", e.Available, e.SKU)
}

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Catalog  repositories.CatalogRepository
	Coupons  CouponService
	Shipping ShippingPolicy
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	catalog  repositories.CatalogRepository
	coupons  CouponService
	shipping ShippingPolicy
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs a CartService validating required dependencies.
// The coupon service is optional; without it estimates ignore coupon codes.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
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

	return &cartService{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		coupons:  deps.Coupons,
		shipping: shipping,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetCart loads the customer's cart, treating an absent document as empty.
func (s *cartService) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	if s == nil || s.carts == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, cid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{ID: cid, CustomerID: cid}, nil
		}
		return domain.Cart{}, s.translateCartError(err)
	}
	return cart, nil
}

// AddLine puts a SKU into the cart, capturing the tax-inclusive unit price at
// add time. Adding a SKU already in the cart merges quantities and keeps the
// originally captured price.
func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (domain.Cart, error) {
	if s == nil || s.carts == nil || s.catalog == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	cid := strings.TrimSpace(cmd.CustomerID)
	productID := strings.TrimSpace(cmd.ProductID)
	sku := strings.TrimSpace(cmd.SKU)
	if cid == "" || productID == "" || sku == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer, product, and sku are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return domain.Cart{}, ErrCartInvalidQuantity
	}

	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{}, fmt.Errorf("%w: product %s", ErrCartProductNotFound, productID)
		}
		return domain.Cart{}, s.translateCartError(err)
	}
	variant, ok := product.Variant(sku)
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: sku %s", ErrCartProductNotFound, sku)
	}

	cart, err := s.GetCart(ctx, cid)
	if err != nil {
		return domain.Cart{}, err
	}

	now := s.now()
	lines := cloneCartLines(cart.Lines)
	merged := false
	for i := range lines {
		if !strings.EqualFold(lines[i].SKU, variant.SKU) {
			continue
		}
		requested := lines[i].Quantity + cmd.Quantity
		if requested > variant.Stock {
			return domain.Cart{}, &OutOfStockError{SKU: variant.SKU, Requested: requested, Available: variant.Stock}
		}
		lines[i].Quantity = requested
		lines[i].UpdatedAt = &now
		merged = true
		break
	}
	if !merged {
		if cmd.Quantity > variant.Stock {
			return domain.Cart{}, &OutOfStockError{SKU: variant.SKU, Requested: cmd.Quantity, Available: variant.Stock}
		}
		lines = append(lines, domain.CartLine{
			SKU:        variant.SKU,
			ProductID:  product.ID,
			Name:       product.Name,
			ImageURL:   product.ImageURL,
			Color:      variant.Color,
			Size:       variant.Size,
			Quantity:   cmd.Quantity,
			UnitPrice:  VariantUnitPrice(variant),
			CategoryID: product.CategoryID,
			BrandID:    product.BrandID,
			StyleID:    product.StyleID,
			TypeID:     product.TypeID,
			AddedAt:    now,
		})
	}

	saved, err := s.carts.ReplaceLines(ctx, cid, lines)
	if err != nil {
		return domain.Cart{}, s.translateCartError(err)
	}
	return saved, nil
}

// UpdateQuantity sets the quantity of an existing line. A quantity below one
// removes the line. The captured unit price is never recomputed here.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (domain.Cart, error) {
	if s == nil || s.carts == nil || s.catalog == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	cid := strings.TrimSpace(cmd.CustomerID)
	sku := strings.TrimSpace(cmd.SKU)
	if cid == "" || sku == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer and sku are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return s.RemoveLine(ctx, cid, sku)
	}

	cart, err := s.GetCart(ctx, cid)
	if err != nil {
		return domain.Cart{}, err
	}

	idx := -1
	for i := range cart.Lines {
		if strings.EqualFold(cart.Lines[i].SKU, sku) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Cart{}, fmt.Errorf("%w: sku %s", ErrCartLineNotFound, sku)
	}
	line := cart.Lines[idx]

	product, err := s.catalog.FindProduct(ctx, line.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{}, fmt.Errorf("%w: product %s", ErrCartProductNotFound, line.ProductID)
		}
		return domain.Cart{}, s.translateCartError(err)
	}
	variant, ok := product.Variant(line.SKU)
	if !ok {
		return domain.Cart{}, fmt.Errorf("%w: sku %s", ErrCartProductNotFound, line.SKU)
	}
	if cmd.Quantity > variant.Stock {
		return domain.Cart{}, &OutOfStockError{SKU: variant.SKU, Requested: cmd.Quantity, Available: variant.Stock}
	}

	now := s.now()
	lines := cloneCartLines(cart.Lines)
	lines[idx].Quantity = cmd.Quantity
	lines[idx].UpdatedAt = &now

	saved, err := s.carts.ReplaceLines(ctx, cid, lines)
	if err != nil {
		return domain.Cart{}, s.translateCartError(err)
	}
	return saved, nil
}

// RemoveLine drops the SKU from the cart. Removing an absent SKU is a no-op.
func (s *cartService) RemoveLine(ctx context.Context, customerID, sku string) (domain.Cart, error) {
	if s == nil || s.carts == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	cid := strings.TrimSpace(customerID)
	target := strings.TrimSpace(sku)
	if cid == "" || target == "" {
		return domain.Cart{}, fmt.Errorf("%w: customer and sku are required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cid)
	if err != nil {
		return domain.Cart{}, err
	}

	lines := make([]domain.CartLine, 0, len(cart.Lines))
	removed := false
	for _, line := range cart.Lines {
		if strings.EqualFold(line.SKU, target) {
			removed = true
			continue
		}
		lines = append(lines, line)
	}
	if !removed {
		return cart, nil
	}

	saved, err := s.carts.ReplaceLines(ctx, cid, lines)
	if err != nil {
		return domain.Cart{}, s.translateCartError(err)
	}
	return saved, nil
}

// Clear empties the customer's cart.
func (s *cartService) Clear(ctx context.Context, customerID string) error {
	if s == nil || s.carts == nil {
		return ErrCartUnavailable
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	if err := s.carts.ClearCart(ctx, cid); err != nil {
		return s.translateCartError(err)
	}
	return nil
}

// Estimate prices the cart, applying the coupon when it validates. A coupon
// rejection does not fail the estimate; the rejection travels back in the
// result so clients can show both the totals and the reason.
func (s *cartService) Estimate(ctx context.Context, cmd EstimateCartCommand) (CartEstimateResult, error) {
	if s == nil || s.carts == nil {
		return CartEstimateResult{}, ErrCartUnavailable
	}

	cart, err := s.GetCart(ctx, cmd.CustomerID)
	if err != nil {
		return CartEstimateResult{}, err
	}

	result := CartEstimateResult{Cart: cart}
	var discount float64

	code := domain.NormalizeCouponCode(cmd.CouponCode)
	if code != "" && s.coupons != nil {
		quote, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code: code,
			Customer: domain.CustomerContext{
				CustomerID: cart.CustomerID,
				Channel:    cmd.Channel,
			},
			Lines: cart.Lines,
		})
		switch {
		case err == nil:
			result.Quote = &quote
			discount = quote.DiscountAmount
		case CouponRejectionCode(err) != "":
			result.CouponError = err
		default:
			return CartEstimateResult{}, err
		}
	}

	result.Estimate = s.shipping.Estimate(cart, discount)
	return result, nil
}

func (s *cartService) translateCartError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartLineNotFound, err)
		default:
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func cloneCartLines(lines []domain.CartLine) []domain.CartLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	return out
}
