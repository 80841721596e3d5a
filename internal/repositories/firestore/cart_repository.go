package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/craftline/commerce-api/internal/domain"
	pfirestore "github.com/craftline/commerce-api/internal/platform/firestore"
	"github.com/craftline/commerce-api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts within Firestore keyed by customer id.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{base: base, provider: provider}, nil
}

// GetCart loads the cart for the given customer id.
func (r *CartRepository) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, cid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertCart persists the full cart document using the customer id as document identifier.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(firstCartID(cart))
	if cid == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := newCartDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	result, err := r.base.Set(ctx, cid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(cid)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// ReplaceLines swaps the cart's line array, creating the cart document when absent.
func (r *CartRepository) ReplaceLines(ctx context.Context, customerID string, lines []domain.CartLine) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	cart, err := r.GetCart(ctx, cid)
	if err != nil {
		repoErr, ok := err.(repositories.RepositoryError)
		if !ok || !repoErr.IsNotFound() {
			return domain.Cart{}, err
		}
		cart = domain.Cart{ID: cid, CustomerID: cid}
	}

	cart.Lines = lines
	cart.UpdatedAt = time.Now().UTC()
	return r.UpsertCart(ctx, cart)
}

// ClearCart removes every line from the customer's cart. Clearing an absent
// cart is a no-op.
func (r *CartRepository) ClearCart(ctx context.Context, customerID string) error {
	_, err := r.ReplaceLines(ctx, customerID, nil)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return nil
		}
	}
	return err
}

func firstCartID(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) != "" {
		return strings.TrimSpace(cart.ID)
	}
	return strings.TrimSpace(cart.CustomerID)
}

// Helper structures ---------------------------------------------------------

type cartDocument struct {
	Lines      []cartLineDocument `firestore:"items"`
	CouponHint string             `firestore:"couponHint,omitempty"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	SKU        string     `firestore:"sku"`
	ProductID  string     `firestore:"productRef"`
	Name       string     `firestore:"name"`
	ImageURL   string     `firestore:"imageUrl,omitempty"`
	Color      string     `firestore:"color,omitempty"`
	Size       string     `firestore:"size,omitempty"`
	Quantity   int        `firestore:"qty"`
	UnitPrice  float64    `firestore:"unitPrice"`
	CategoryID string     `firestore:"categoryId,omitempty"`
	BrandID    string     `firestore:"brandId,omitempty"`
	StyleID    string     `firestore:"styleId,omitempty"`
	TypeID     string     `firestore:"typeId,omitempty"`
	AddedAt    time.Time  `firestore:"addedAt"`
	UpdatedAt  *time.Time `firestore:"updatedAt,omitempty"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	lines := make([]cartLineDocument, len(cart.Lines))
	for i, line := range cart.Lines {
		lines[i] = cartLineDocument{
			SKU:        strings.TrimSpace(line.SKU),
			ProductID:  strings.TrimSpace(line.ProductID),
			Name:       strings.TrimSpace(line.Name),
			ImageURL:   strings.TrimSpace(line.ImageURL),
			Color:      strings.TrimSpace(line.Color),
			Size:       strings.TrimSpace(line.Size),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			CategoryID: strings.TrimSpace(line.CategoryID),
			BrandID:    strings.TrimSpace(line.BrandID),
			StyleID:    strings.TrimSpace(line.StyleID),
			TypeID:     strings.TrimSpace(line.TypeID),
			AddedAt:    line.AddedAt.UTC(),
			UpdatedAt:  line.UpdatedAt,
		}
	}
	return cartDocument{
		Lines:      lines,
		CouponHint: strings.TrimSpace(cart.CouponHint),
	}
}

func (d cartDocument) toDomain(id string) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			SKU:        strings.TrimSpace(line.SKU),
			ProductID:  strings.TrimSpace(line.ProductID),
			Name:       strings.TrimSpace(line.Name),
			ImageURL:   strings.TrimSpace(line.ImageURL),
			Color:      strings.TrimSpace(line.Color),
			Size:       strings.TrimSpace(line.Size),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			CategoryID: strings.TrimSpace(line.CategoryID),
			BrandID:    strings.TrimSpace(line.BrandID),
			StyleID:    strings.TrimSpace(line.StyleID),
			TypeID:     strings.TrimSpace(line.TypeID),
			AddedAt:    line.AddedAt,
			UpdatedAt:  line.UpdatedAt,
		}
	}
	return domain.Cart{
		ID:         id,
		CustomerID: id,
		Lines:      lines,
		CouponHint: strings.TrimSpace(d.CouponHint),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
