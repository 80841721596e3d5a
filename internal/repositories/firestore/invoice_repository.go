package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftline/commerce-api/internal/domain"
	pfirestore "github.com/craftline/commerce-api/internal/platform/firestore"
	"github.com/craftline/commerce-api/internal/repositories"
)

const invoiceCollection = "invoices"

// InvoiceRepository stores invoice read models in Firestore.
type InvoiceRepository struct {
	base *pfirestore.BaseRepository[invoiceDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[invoiceDocument](provider, invoiceCollection)
	return &InvoiceRepository{base: base}, nil
}

// Insert persists a new invoice document.
func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.CustomerInvoice) error {
	if r == nil || r.base == nil {
		return errors.New("invoice repository not initialised")
	}
	id := strings.TrimSpace(invoice.ID)
	if id == "" {
		return errors.New("invoice repository: invoice id is required")
	}

	doc := newInvoiceDocument(invoice)
	_, err := r.base.Set(ctx, id, doc)
	return err
}

// FindByID loads an invoice by document id.
func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.CustomerInvoice, error) {
	if r == nil || r.base == nil {
		return domain.CustomerInvoice{}, errors.New("invoice repository not initialised")
	}
	id := strings.TrimSpace(invoiceID)
	if id == "" {
		return domain.CustomerInvoice{}, errors.New("invoice repository: invoice id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CustomerInvoice{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOrder returns the invoice issued for the given order.
func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.CustomerInvoice, error) {
	if r == nil || r.base == nil {
		return domain.CustomerInvoice{}, errors.New("invoice repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.CustomerInvoice{}, errors.New("invoice repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderRef", "==", oid).Limit(1)
	})
	if err != nil {
		return domain.CustomerInvoice{}, err
	}
	if len(docs) == 0 {
		return domain.CustomerInvoice{}, pfirestore.WrapError("invoices.findByOrder", status.Errorf(codes.NotFound, "invoice for order %s not found", oid))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByCustomer returns the customer's invoices, newest first.
func (r *InvoiceRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.CustomerInvoice, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("invoice repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, errors.New("invoice repository: customer id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerRef", "==", cid).OrderBy("issuedAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.CustomerInvoice, 0, len(docs))
	for _, doc := range docs {
		invoices = append(invoices, doc.Data.toDomain(doc.ID))
	}
	return invoices, nil
}

// Helper structures ---------------------------------------------------------

type invoiceDocument struct {
	InvoiceNumber string              `firestore:"invoiceNumber"`
	OrderRef      string              `firestore:"orderRef"`
	CustomerRef   string              `firestore:"customerRef"`
	Lines         []orderLineDocument `firestore:"lines"`
	ItemsPrice    float64             `firestore:"itemsPrice"`
	Discount      float64             `firestore:"discountAmount"`
	Shipping      float64             `firestore:"shippingPrice"`
	Total         float64             `firestore:"totalAmount"`
	IssuedAt      time.Time           `firestore:"issuedAt"`
}

func newInvoiceDocument(invoice domain.CustomerInvoice) invoiceDocument {
	lines := make([]orderLineDocument, len(invoice.Lines))
	for i, line := range invoice.Lines {
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
	return invoiceDocument{
		InvoiceNumber: strings.TrimSpace(invoice.InvoiceNumber),
		OrderRef:      strings.TrimSpace(invoice.OrderID),
		CustomerRef:   strings.TrimSpace(invoice.CustomerID),
		Lines:         lines,
		ItemsPrice:    invoice.ItemsPrice,
		Discount:      invoice.DiscountAmount,
		Shipping:      invoice.ShippingPrice,
		Total:         invoice.TotalAmount,
		IssuedAt:      invoice.IssuedAt.UTC(),
	}
}

func (d invoiceDocument) toDomain(id string) domain.CustomerInvoice {
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
	return domain.CustomerInvoice{
		ID:             id,
		InvoiceNumber:  strings.TrimSpace(d.InvoiceNumber),
		OrderID:        strings.TrimSpace(d.OrderRef),
		CustomerID:     strings.TrimSpace(d.CustomerRef),
		Lines:          lines,
		ItemsPrice:     d.ItemsPrice,
		DiscountAmount: d.Discount,
		ShippingPrice:  d.Shipping,
		TotalAmount:    d.Total,
		IssuedAt:       d.IssuedAt,
	}
}

var _ repositories.InvoiceRepository = (*InvoiceRepository)(nil)
