package repositories

import (
	"context"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository persists products with their embedded variant matrix and
// owns transactional stock adjustments.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	// DecrementStock atomically reduces variant stock for every line or fails
	// the whole batch when any SKU lacks availability.
	DecrementStock(ctx context.Context, req StockDecrementRequest) (StockDecrementResult, error)
	// RestoreStock adds quantities back after a failed confirmation.
	RestoreStock(ctx context.Context, req StockRestoreRequest) error
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	CategoryID string
	BrandID    string
	Limit      int
}

// StockLine identifies one SKU adjustment within a batch.
type StockLine struct {
	ProductID string
	SKU       string
	Quantity  int
}

// StockDecrementRequest carries the lines to commit and the mutation instant.
type StockDecrementRequest struct {
	Lines []StockLine
	Now   time.Time
}

// StockDecrementResult reports remaining stock per SKU after the batch commits.
type StockDecrementResult struct {
	Remaining map[string]int
}

// StockRestoreRequest reverses a previously committed decrement.
type StockRestoreRequest struct {
	Lines []StockLine
	Now   time.Time
}

// CartRepository owns cart header and line persistence keyed by customer id.
type CartRepository interface {
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	ReplaceLines(ctx context.Context, customerID string, lines []domain.CartLine) (domain.Cart, error)
	ClearCart(ctx context.Context, customerID string) error
}

// OfferRepository stores master discount offers.
type OfferRepository interface {
	Insert(ctx context.Context, offer domain.DiscountOffer) (domain.DiscountOffer, error)
	FindByID(ctx context.Context, offerID string) (domain.DiscountOffer, error)
	List(ctx context.Context) ([]domain.DiscountOffer, error)
}

// CouponRepository stores coupon codes and owns the transactional usage
// increment performed at order confirmation.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.DiscountCoupon) (domain.DiscountCoupon, error)
	// FindByCode looks up a coupon by its normalised (uppercase) code.
	FindByCode(ctx context.Context, code string) (domain.DiscountCoupon, error)
	List(ctx context.Context) ([]domain.DiscountCoupon, error)
	// Redeem increments usedCount only while usedCount < usageLimit; callers
	// receive a CouponError with CouponErrorExhausted when the limit was hit
	// by a concurrent redemption.
	Redeem(ctx context.Context, couponID string, now time.Time) (domain.DiscountCoupon, error)
	// ReleaseUse hands one use back when a confirmation fails after the
	// redemption step. The decrement floors at zero.
	ReleaseUse(ctx context.Context, couponID string, now time.Time) (domain.DiscountCoupon, error)
}

// OrderRepository persists order headers and provides customer-scoped queries.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.SalesOrder) error
	Update(ctx context.Context, order domain.SalesOrder) error
	FindByID(ctx context.Context, orderID string) (domain.SalesOrder, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.SalesOrder, error)
	// CountPaid reports how many non-pending, non-canceled orders the customer
	// has placed; it backs first-time coupon eligibility.
	CountPaid(ctx context.Context, customerID string) (int, error)
}

// HealthRepository evaluates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// InvoiceRepository stores invoice read models for back-office display.
type InvoiceRepository interface {
	Insert(ctx context.Context, invoice domain.CustomerInvoice) error
	FindByID(ctx context.Context, invoiceID string) (domain.CustomerInvoice, error)
	FindByOrder(ctx context.Context, orderID string) (domain.CustomerInvoice, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.CustomerInvoice, error)
}
