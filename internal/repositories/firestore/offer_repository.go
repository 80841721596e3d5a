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

const offerCollection = "offers"

// OfferRepository stores master discount offers in Firestore.
type OfferRepository struct {
	base *pfirestore.BaseRepository[offerDocument]
}

// NewOfferRepository constructs a Firestore-backed offer repository.
func NewOfferRepository(provider *pfirestore.Provider) (*OfferRepository, error) {
	if provider == nil {
		return nil, errors.New("offer repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[offerDocument](provider, offerCollection)
	return &OfferRepository{base: base}, nil
}

// Insert persists a new offer document.
func (r *OfferRepository) Insert(ctx context.Context, offer domain.DiscountOffer) (domain.DiscountOffer, error) {
	if r == nil || r.base == nil {
		return domain.DiscountOffer{}, errors.New("offer repository not initialised")
	}
	id := strings.TrimSpace(offer.ID)
	if id == "" {
		return domain.DiscountOffer{}, errors.New("offer repository: offer id is required")
	}

	doc := newOfferDocument(offer)
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.DiscountOffer{}, err
	}
	return doc.toDomain(id), nil
}

// FindByID loads an offer by document id.
func (r *OfferRepository) FindByID(ctx context.Context, offerID string) (domain.DiscountOffer, error) {
	if r == nil || r.base == nil {
		return domain.DiscountOffer{}, errors.New("offer repository not initialised")
	}
	id := strings.TrimSpace(offerID)
	if id == "" {
		return domain.DiscountOffer{}, errors.New("offer repository: offer id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.DiscountOffer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns all offers ordered by start date, newest first.
func (r *OfferRepository) List(ctx context.Context) ([]domain.DiscountOffer, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("offer repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("startDate", firestore.Desc).Limit(200)
	})
	if err != nil {
		return nil, err
	}

	offers := make([]domain.DiscountOffer, 0, len(docs))
	for _, doc := range docs {
		offers = append(offers, doc.Data.toDomain(doc.ID))
	}
	return offers, nil
}

type offerDocument struct {
	Name          string    `firestore:"name"`
	DiscountType  string    `firestore:"discountType"`
	DiscountValue float64   `firestore:"discountValue"`
	Channel       string    `firestore:"channel"`
	StartDate     time.Time `firestore:"startDate"`
	EndDate       time.Time `firestore:"endDate"`
}

func newOfferDocument(offer domain.DiscountOffer) offerDocument {
	return offerDocument{
		Name:          strings.TrimSpace(offer.Name),
		DiscountType:  string(offer.DiscountType),
		DiscountValue: offer.DiscountValue,
		Channel:       string(offer.Channel),
		StartDate:     offer.StartDate.UTC(),
		EndDate:       offer.EndDate.UTC(),
	}
}

func (d offerDocument) toDomain(id string) domain.DiscountOffer {
	return domain.DiscountOffer{
		ID:            id,
		Name:          strings.TrimSpace(d.Name),
		DiscountType:  domain.DiscountType(strings.TrimSpace(d.DiscountType)),
		DiscountValue: d.DiscountValue,
		Channel:       domain.SalesChannel(strings.TrimSpace(d.Channel)),
		StartDate:     d.StartDate,
		EndDate:       d.EndDate,
	}
}

var _ repositories.OfferRepository = (*OfferRepository)(nil)
