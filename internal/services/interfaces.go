package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	"github.com/craftline/commerce-api/internal/repositories"
)

// CatalogService exposes product listing and the derived display price.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (ProductView, error)
	ListProducts(ctx context.Context, query ProductListQuery) ([]ProductView, error)
	SaveProduct(ctx context.Context, cmd SaveProductCommand) (domain.Product, error)
}

// ProductListQuery narrows a product listing request.
type ProductListQuery struct {
	CategoryID string
	BrandID    string
	Limit      int
}

// ProductView pairs a product with its derived listing price.
type ProductView struct {
	Product domain.Product
	Price   domain.DisplayPrice
}

// SaveProductCommand carries admin product master data.
type SaveProductCommand struct {
	ID         string
	Name       string
	ImageURL   string
	CategoryID string
	BrandID    string
	StyleID    string
	TypeID     string
	Variants   []SaveVariantCommand
}

// SaveVariantCommand carries one variant row of a product save.
type SaveVariantCommand struct {
	SKU                string
	Color              string
	Size               string
	Stock              int
	SalesPrice         float64
	SalesTaxPercent    float64
	PurchasePrice      float64
	PurchaseTaxPercent float64
}

// CartService owns cart mutation and totals estimation for a customer.
type CartService interface {
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	AddLine(ctx context.Context, cmd AddCartLineCommand) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (domain.Cart, error)
	RemoveLine(ctx context.Context, customerID, sku string) (domain.Cart, error)
	Clear(ctx context.Context, customerID string) error
	// Estimate prices the cart with an optional coupon applied, without
	// consuming the coupon.
	Estimate(ctx context.Context, cmd EstimateCartCommand) (CartEstimateResult, error)
}

// AddCartLineCommand adds a SKU to the customer's cart.
type AddCartLineCommand struct {
	CustomerID string
	ProductID  string
	SKU        string
	Quantity   int
}

// UpdateCartLineCommand sets the quantity of an existing cart line. A quantity
// below one removes the line.
type UpdateCartLineCommand struct {
	CustomerID string
	SKU        string
	Quantity   int
}

// EstimateCartCommand prices a cart, optionally under a coupon.
type EstimateCartCommand struct {
	CustomerID string
	Channel    domain.SalesChannel
	CouponCode string
}

// CartEstimateResult carries the cart alongside its priced totals. CouponError
// holds the rejection when the requested coupon did not apply; the totals then
// reflect the undiscounted cart.
type CartEstimateResult struct {
	Cart        domain.Cart
	Estimate    domain.CartEstimate
	Quote       *domain.CouponQuote
	CouponError error
}

// CouponService owns coupon validation, redemption, and offer administration.
type CouponService interface {
	// Validate runs the full eligibility chain and computes the discount
	// without mutating any usage counter.
	Validate(ctx context.Context, cmd ValidateCouponCommand) (domain.CouponQuote, error)
	// Redeem consumes one use of the coupon after eligibility was re-checked.
	Redeem(ctx context.Context, couponID string) (domain.DiscountCoupon, error)
	// Release hands a redeemed use back when the confirmation it belonged to
	// failed before an order was persisted.
	Release(ctx context.Context, couponID string) (domain.DiscountCoupon, error)
	CreateOffer(ctx context.Context, cmd CreateOfferCommand) (domain.DiscountOffer, error)
	ListOffers(ctx context.Context) ([]domain.DiscountOffer, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (domain.DiscountCoupon, error)
	ListCoupons(ctx context.Context) ([]domain.DiscountCoupon, error)
}

// ValidateCouponCommand validates a code against a customer's cart.
type ValidateCouponCommand struct {
	Code     string
	Customer domain.CustomerContext
	Lines    []domain.CartLine
}

// CreateOfferCommand carries admin offer master data.
type CreateOfferCommand struct {
	Name          string
	DiscountType  domain.DiscountType
	DiscountValue float64
	Channel       domain.SalesChannel
	StartDate     time.Time
	EndDate       time.Time
}

// CreateCouponCommand carries admin coupon master data.
type CreateCouponCommand struct {
	Code            string
	OfferID         string
	ContactID       string
	MinCartValue    float64
	ApplicableRules []string
	FirstTimeOnly   bool
	UsageLimit      int
	ExpiresAt       time.Time
}

// OrderService owns order confirmation and the customer order history.
type OrderService interface {
	// Confirm turns the customer's cart into a persisted order, committing
	// stock and coupon usage along the way.
	Confirm(ctx context.Context, cmd ConfirmOrderCommand) (domain.SalesOrder, error)
	GetOrder(ctx context.Context, customerID, orderID string) (domain.SalesOrder, error)
	ListOrders(ctx context.Context, customerID string, limit int) ([]domain.SalesOrder, error)
	GetInvoice(ctx context.Context, customerID, orderID string) (InvoiceView, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]InvoiceView, error)
}

// ConfirmOrderCommand confirms the customer's current cart into an order.
type ConfirmOrderCommand struct {
	Customer   domain.CustomerContext
	CouponCode string
	PaymentRef string
}

// InvoiceView pairs a stored invoice with the discount reconstructed for
// display when the stored amount is missing.
type InvoiceView struct {
	Invoice         domain.CustomerInvoice
	DisplayDiscount float64
}

// CheckoutService creates hosted PSP sessions for the customer's cart.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
}

// CreateCheckoutSessionCommand starts a hosted payment session.
type CreateCheckoutSessionCommand struct {
	Customer   domain.CustomerContext
	CouponCode string
	SuccessURL string
	CancelURL  string
	PSP        string
}

// CheckoutSessionResult is the client-facing view of a PSP session.
type CheckoutSessionResult struct {
	SessionID    string
	Provider     string
	ClientSecret string
	RedirectURL  string
	Amount       float64
	Currency     string
	ExpiresAt    time.Time
}

// OrderConfirmedMessage is the event payload published after confirmation.
type OrderConfirmedMessage struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	CustomerID  string    `json:"customerId"`
	Channel     string    `json:"channel"`
	CouponCode  string    `json:"couponCode,omitempty"`
	ItemsPrice  float64   `json:"itemsPrice"`
	Discount    float64   `json:"discountAmount"`
	Shipping    float64   `json:"shippingPrice"`
	Total       float64   `json:"totalAmount"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// OrderEventPublisher pushes confirmed order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, message OrderConfirmedMessage) (string, error)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
