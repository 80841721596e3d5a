package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftline/commerce-api/internal/domain"
	pfirestore "github.com/craftline/commerce-api/internal/platform/firestore"
	"github.com/craftline/commerce-api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order headers in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{base: base}, nil
}

// Insert persists a new order document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.SalesOrder) error {
	return r.save(ctx, order)
}

// Update overwrites an existing order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.SalesOrder) error {
	return r.save(ctx, order)
}

func (r *OrderRepository) save(ctx context.Context, order domain.SalesOrder) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	doc := newOrderDocument(order)
	_, err := r.base.Set(ctx, id, doc)
	return err
}

// FindByID loads an order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.SalesOrder, error) {
	if r == nil || r.base == nil {
		return domain.SalesOrder{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.SalesOrder{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.SalesOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.SalesOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, errors.New("order repository: customer id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerRef", "==", cid).OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.SalesOrder, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// CountPaid counts the customer's orders that completed payment. Pending and
// canceled orders do not count towards first-time eligibility.
func (r *OrderRepository) CountPaid(ctx context.Context, customerID string) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("order repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return 0, errors.New("order repository: customer id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerRef", "==", cid).
			Where("status", "in", []string{
				string(domain.OrderStatusPaid),
				string(domain.OrderStatusShipped),
				string(domain.OrderStatusDelivered),
			})
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber string              `firestore:"orderNumber"`
	CustomerRef string              `firestore:"customerRef"`
	Status      string              `firestore:"status"`
	Channel     string              `firestore:"channel"`
	Lines       []orderLineDocument `firestore:"lines"`
	ItemsPrice  float64             `firestore:"itemsPrice"`
	Discount    float64             `firestore:"discountAmount"`
	Shipping    float64             `firestore:"shippingPrice"`
	Total       float64             `firestore:"totalAmount"`
	CouponCode  string              `firestore:"couponCode,omitempty"`
	PaymentRef  string              `firestore:"paymentRef,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	PaidAt      *time.Time          `firestore:"paidAt,omitempty"`
}

type orderLineDocument struct {
	ProductRef string  `firestore:"productRef"`
	SKU        string  `firestore:"sku"`
	Name       string  `firestore:"name"`
	Quantity   int     `firestore:"qty"`
	UnitPrice  float64 `firestore:"unitPrice"`
	TaxPercent float64 `firestore:"taxPercent"`
	Total      float64 `firestore:"total"`
}

func newOrderDocument(order domain.SalesOrder) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ProductRef: strings.TrimSpace(line.ProductID),
			SKU:        strings.TrimSpace(line.SKU),
			Name:       strings.TrimSpace(line.Name),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TaxPercent: line.TaxPercent,
			Total:      line.Total,
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerRef: strings.TrimSpace(order.CustomerID),
		Status:      string(order.Status),
		Channel:     string(order.Channel),
		Lines:       lines,
		ItemsPrice:  order.Totals.ItemsPrice,
		Discount:    order.Totals.Discount,
		Shipping:    order.Totals.Shipping,
		Total:       order.Totals.Total,
		CouponCode:  strings.TrimSpace(order.CouponCode),
		PaymentRef:  strings.TrimSpace(order.PaymentRef),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		PaidAt:      order.PaidAt,
	}
}

func (d orderDocument) toDomain(id string) domain.SalesOrder {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ProductID:  strings.TrimSpace(line.ProductRef),
			SKU:        strings.TrimSpace(line.SKU),
			Name:       strings.TrimSpace(line.Name),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TaxPercent: line.TaxPercent,
			Total:      line.Total,
		}
	}
	return domain.SalesOrder{
		ID:          id,
		OrderNumber: strings.TrimSpace(d.OrderNumber),
		CustomerID:  strings.TrimSpace(d.CustomerRef),
		Status:      domain.OrderStatus(strings.TrimSpace(d.Status)),
		Channel:     domain.SalesChannel(strings.TrimSpace(d.Channel)),
		Lines:       lines,
		Totals: domain.OrderTotals{
			ItemsPrice: d.ItemsPrice,
			Discount:   d.Discount,
			Shipping:   d.Shipping,
			Total:      d.Total,
		},
		CouponCode: strings.TrimSpace(d.CouponCode),
		PaymentRef: strings.TrimSpace(d.PaymentRef),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		PaidAt:     d.PaidAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
