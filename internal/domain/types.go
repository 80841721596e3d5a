package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SalesChannel identifies where an order or coupon redemption originates.
type SalesChannel string

const (
	// ChannelWebsite marks storefront checkout traffic.
	ChannelWebsite SalesChannel = "website"
	// ChannelSales marks back-office orders created by the sales team.
	ChannelSales SalesChannel = "sales"
	// ChannelBoth marks offers redeemable from either channel.
	ChannelBoth SalesChannel = "both"
)

// DiscountType enumerates the supported discount computations for an offer.
type DiscountType string

const (
	// DiscountPercentage applies value as a percentage of the discountable base.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFlat applies value as an absolute amount, clamped to the base.
	DiscountFlat DiscountType = "flat"
)

// OrderStatus enumerates lifecycle states for sales orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid indicates payment succeeded.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled indicates the order was canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// ErrInvalidRecord flags constructor-time validation failures on domain records.
var ErrInvalidRecord = errors.New("domain: invalid record")

// ProductVariant is a sellable SKU within a product's variant matrix.
// The tax-inclusive unit price is always derived, never stored.
type ProductVariant struct {
	SKU                string
	Color              string
	Size               string
	Stock              int
	SalesPrice         float64
	SalesTaxPercent    float64
	PurchasePrice      float64
	PurchaseTaxPercent float64
}

// NewProductVariant validates and normalises a variant record.
func NewProductVariant(sku string, stock int, salesPrice, salesTaxPercent float64) (ProductVariant, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return ProductVariant{}, fmt.Errorf("%w: variant sku is required", ErrInvalidRecord)
	}
	if stock < 0 {
		return ProductVariant{}, fmt.Errorf("%w: variant %s stock cannot be negative", ErrInvalidRecord, sku)
	}
	if salesPrice < 0 {
		return ProductVariant{}, fmt.Errorf("%w: variant %s sales price cannot be negative", ErrInvalidRecord, sku)
	}
	if salesTaxPercent < 0 || salesTaxPercent > 100 {
		return ProductVariant{}, fmt.Errorf("%w: variant %s sales tax must be within [0,100]", ErrInvalidRecord, sku)
	}
	return ProductVariant{
		SKU:             sku,
		Stock:           stock,
		SalesPrice:      salesPrice,
		SalesTaxPercent: salesTaxPercent,
	}, nil
}

// Product groups variants with the master-data references used by coupon rules.
type Product struct {
	ID         string
	Name       string
	ImageURL   string
	CategoryID string
	BrandID    string
	StyleID    string
	TypeID     string
	Variants   []ProductVariant
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Variant returns the variant matching the SKU, if present.
func (p Product) Variant(sku string) (ProductVariant, bool) {
	target := strings.TrimSpace(sku)
	for _, v := range p.Variants {
		if strings.EqualFold(v.SKU, target) {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// RuleIDs returns the master-data ids a coupon rule set can match against.
func (p Product) RuleIDs() []string {
	return ruleIDs(p.CategoryID, p.BrandID, p.StyleID, p.TypeID)
}

// CartLine is a SKU entry within one customer's cart. The unit price is the
// tax-inclusive MRP captured at add time; later variant price edits do not
// retroactively change the line.
type CartLine struct {
	SKU        string
	ProductID  string
	Name       string
	ImageURL   string
	Color      string
	Size       string
	Quantity   int
	UnitPrice  float64
	CategoryID string
	BrandID    string
	StyleID    string
	TypeID     string
	AddedAt    time.Time
	UpdatedAt  *time.Time
}

// RuleIDs returns the master-data ids recorded on the line for rule matching.
func (l CartLine) RuleIDs() []string {
	return ruleIDs(l.CategoryID, l.BrandID, l.StyleID, l.TypeID)
}

// Total returns the line total at full precision.
func (l CartLine) Total() float64 {
	return float64(l.Quantity) * l.UnitPrice
}

// Cart aggregates the mutable cart state for a customer. The cart document id
// is the customer id.
type Cart struct {
	ID         string
	CustomerID string
	Lines      []CartLine
	CouponHint string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subtotal sums quantity times captured unit price over all lines.
func (c Cart) Subtotal() float64 {
	var subtotal float64
	for _, line := range c.Lines {
		subtotal += line.Total()
	}
	return subtotal
}

// DiscountOffer is the master offer a coupon references. Offers are treated as
// immutable once coupons point at them.
type DiscountOffer struct {
	ID            string
	Name          string
	DiscountType  DiscountType
	DiscountValue float64
	Channel       SalesChannel
	StartDate     time.Time
	EndDate       time.Time
}

// NewDiscountOffer validates and normalises a master offer.
func NewDiscountOffer(id, name string, dtype DiscountType, value float64, channel SalesChannel, start, end time.Time) (DiscountOffer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DiscountOffer{}, fmt.Errorf("%w: offer name is required", ErrInvalidRecord)
	}
	switch dtype {
	case DiscountPercentage, DiscountFlat:
	default:
		return DiscountOffer{}, fmt.Errorf("%w: offer discount type %q is not supported", ErrInvalidRecord, dtype)
	}
	if value < 0 {
		return DiscountOffer{}, fmt.Errorf("%w: offer discount value cannot be negative", ErrInvalidRecord)
	}
	if dtype == DiscountPercentage && value > 100 {
		return DiscountOffer{}, fmt.Errorf("%w: percentage offer value cannot exceed 100", ErrInvalidRecord)
	}
	switch channel {
	case ChannelWebsite, ChannelSales, ChannelBoth:
	default:
		return DiscountOffer{}, fmt.Errorf("%w: offer channel %q is not supported", ErrInvalidRecord, channel)
	}
	if end.Before(start) {
		return DiscountOffer{}, fmt.Errorf("%w: offer end date precedes start date", ErrInvalidRecord)
	}
	return DiscountOffer{
		ID:            strings.TrimSpace(id),
		Name:          name,
		DiscountType:  dtype,
		DiscountValue: value,
		Channel:       channel,
		StartDate:     start.UTC(),
		EndDate:       end.UTC(),
	}, nil
}

// Live reports whether the offer window covers the given instant (inclusive).
func (o DiscountOffer) Live(now time.Time) bool {
	now = now.UTC()
	return !now.Before(o.StartDate) && !now.After(o.EndDate)
}

// AvailableOn reports whether the offer can be redeemed from the channel.
func (o DiscountOffer) AvailableOn(channel SalesChannel) bool {
	if o.Channel == ChannelBoth {
		return channel == ChannelWebsite || channel == ChannelSales
	}
	return o.Channel == channel
}

// DiscountCoupon is a redeemable code bound to a master offer with its own
// eligibility restrictions and usage accounting.
type DiscountCoupon struct {
	ID              string
	Code            string
	OfferID         string
	ContactID       string
	MinCartValue    float64
	ApplicableRules []string
	FirstTimeOnly   bool
	UsageLimit      int
	UsedCount       int
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// NormalizeCouponCode canonicalises user-entered coupon codes for lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewDiscountCoupon validates and normalises a coupon record.
func NewDiscountCoupon(id, code, offerID string, minCartValue float64, usageLimit int, expiresAt time.Time) (DiscountCoupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return DiscountCoupon{}, fmt.Errorf("%w: coupon code is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(offerID) == "" {
		return DiscountCoupon{}, fmt.Errorf("%w: coupon %s requires a parent offer", ErrInvalidRecord, code)
	}
	if minCartValue < 0 {
		return DiscountCoupon{}, fmt.Errorf("%w: coupon %s minimum cart value cannot be negative", ErrInvalidRecord, code)
	}
	if usageLimit < 1 {
		return DiscountCoupon{}, fmt.Errorf("%w: coupon %s usage limit must be at least 1", ErrInvalidRecord, code)
	}
	return DiscountCoupon{
		ID:           strings.TrimSpace(id),
		Code:         code,
		OfferID:      strings.TrimSpace(offerID),
		MinCartValue: minCartValue,
		UsageLimit:   usageLimit,
		ExpiresAt:    expiresAt.UTC(),
	}, nil
}

// Expired reports whether the coupon expiry has passed at the given instant.
func (c DiscountCoupon) Expired(now time.Time) bool {
	return now.UTC().After(c.ExpiresAt)
}

// Exhausted reports whether the usage limit has been reached.
func (c DiscountCoupon) Exhausted() bool {
	return c.UsedCount >= c.UsageLimit
}

// CustomerContext carries the request-scoped customer facts the coupon engine
// needs; first-time eligibility is resolved against paid order history.
type CustomerContext struct {
	CustomerID string
	Channel    SalesChannel
}

// OrderLine mirrors a cart line at the moment of order creation.
type OrderLine struct {
	ProductID  string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  float64
	TaxPercent float64
	Total      float64
}

// OrderTotals holds the rolled-up monetary fields of an order or invoice,
// rounded to two decimals.
type OrderTotals struct {
	ItemsPrice float64
	Discount   float64
	Shipping   float64
	Total      float64
}

// SalesOrder is the persisted order header.
type SalesOrder struct {
	ID          string
	OrderNumber string
	CustomerID  string
	Status      OrderStatus
	Channel     SalesChannel
	Lines       []OrderLine
	Totals      OrderTotals
	CouponCode  string
	PaymentRef  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
}

// CustomerInvoice is the read-model record for invoice display. Legacy records
// may lack DiscountAmount, which display logic reconstructs from the totals.
type CustomerInvoice struct {
	ID             string
	InvoiceNumber  string
	OrderID        string
	CustomerID     string
	Lines          []OrderLine
	ItemsPrice     float64
	DiscountAmount float64
	ShippingPrice  float64
	TotalAmount    float64
	IssuedAt       time.Time
}

// ItemsSubtotal recomputes the invoice items subtotal from its lines.
func (i CustomerInvoice) ItemsSubtotal() float64 {
	var subtotal float64
	for _, line := range i.Lines {
		if line.Total > 0 {
			subtotal += line.Total
			continue
		}
		subtotal += float64(line.Quantity) * line.UnitPrice
	}
	return subtotal
}

func ruleIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
