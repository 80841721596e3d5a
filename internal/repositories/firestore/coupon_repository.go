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

const couponCollection = "coupons"

// CouponRepository stores coupon codes and usage counters in Firestore.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection)
	return &CouponRepository{provider: provider, base: base}, nil
}

// Insert persists a new coupon document.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.DiscountCoupon) (domain.DiscountCoupon, error) {
	if r == nil || r.base == nil {
		return domain.DiscountCoupon{}, errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(coupon.ID)
	if id == "" {
		return domain.DiscountCoupon{}, errors.New("coupon repository: coupon id is required")
	}

	now := time.Now().UTC()
	doc := newCouponDocument(coupon)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.DiscountCoupon{}, err
	}
	return doc.toDomain(id), nil
}

// FindByCode looks up a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.DiscountCoupon, error) {
	if r == nil || r.base == nil {
		return domain.DiscountCoupon{}, errors.New("coupon repository not initialised")
	}
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon repository: code is required", nil)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.DiscountCoupon{}, err
	}
	if len(docs) == 0 {
		return domain.DiscountCoupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", normalized), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns all coupons ordered by creation time, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]domain.DiscountCoupon, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("coupon repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(200)
	})
	if err != nil {
		return nil, err
	}

	coupons := make([]domain.DiscountCoupon, 0, len(docs))
	for _, doc := range docs {
		coupons = append(coupons, doc.Data.toDomain(doc.ID))
	}
	return coupons, nil
}

// Redeem increments the usage counter inside a transaction, holding the
// usedCount < usageLimit precondition so concurrent redemptions cannot push
// the counter past the limit.
func (r *CouponRepository) Redeem(ctx context.Context, couponID string, now time.Time) (domain.DiscountCoupon, error) {
	if r == nil || r.provider == nil {
		return domain.DiscountCoupon{}, errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return domain.DiscountCoupon{}, errors.New("coupon repository: coupon id is required")
	}

	var redeemed domain.DiscountCoupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", id), err)
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", id, err)
		}
		if doc.UsedCount >= doc.UsageLimit {
			return repositories.NewCouponError(repositories.CouponErrorExhausted, fmt.Sprintf("coupon %s usage limit reached", doc.Code), nil)
		}
		doc.UsedCount++
		doc.LastRedeemedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.DiscountCoupon{}, wrapCouponError("coupons.redeem", err)
	}
	return redeemed, nil
}

// ReleaseUse hands a consumed use back after a confirmation failed past the
// redemption step. The decrement runs in the same transactional shape as
// Redeem and floors at zero, so a duplicate release cannot underflow the
// counter.
func (r *CouponRepository) ReleaseUse(ctx context.Context, couponID string, _ time.Time) (domain.DiscountCoupon, error) {
	if r == nil || r.provider == nil {
		return domain.DiscountCoupon{}, errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return domain.DiscountCoupon{}, errors.New("coupon repository: coupon id is required")
	}

	var released domain.DiscountCoupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", id), err)
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", id, err)
		}
		if doc.UsedCount > 0 {
			doc.UsedCount--
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		released = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.DiscountCoupon{}, wrapCouponError("coupons.release_use", err)
	}
	return released, nil
}

// Helper structures ---------------------------------------------------------

type couponDocument struct {
	Code            string    `firestore:"code"`
	OfferID         string    `firestore:"offerRef"`
	ContactID       string    `firestore:"contactRef,omitempty"`
	MinCartValue    float64   `firestore:"minCartValue"`
	ApplicableRules []string  `firestore:"applicableRules,omitempty"`
	FirstTimeOnly   bool      `firestore:"firstTimeOnly"`
	UsageLimit      int       `firestore:"usageLimit"`
	UsedCount       int       `firestore:"usedCount"`
	ExpiresAt       time.Time `firestore:"expiresAt"`
	LastRedeemedAt  time.Time `firestore:"lastRedeemedAt,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

func newCouponDocument(coupon domain.DiscountCoupon) couponDocument {
	rules := make([]string, 0, len(coupon.ApplicableRules))
	for _, rule := range coupon.ApplicableRules {
		if trimmed := strings.TrimSpace(rule); trimmed != "" {
			rules = append(rules, trimmed)
		}
	}
	return couponDocument{
		Code:            domain.NormalizeCouponCode(coupon.Code),
		OfferID:         strings.TrimSpace(coupon.OfferID),
		ContactID:       strings.TrimSpace(coupon.ContactID),
		MinCartValue:    coupon.MinCartValue,
		ApplicableRules: rules,
		FirstTimeOnly:   coupon.FirstTimeOnly,
		UsageLimit:      coupon.UsageLimit,
		UsedCount:       coupon.UsedCount,
		ExpiresAt:       coupon.ExpiresAt.UTC(),
		CreatedAt:       coupon.CreatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.DiscountCoupon {
	return domain.DiscountCoupon{
		ID:              id,
		Code:            strings.TrimSpace(d.Code),
		OfferID:         strings.TrimSpace(d.OfferID),
		ContactID:       strings.TrimSpace(d.ContactID),
		MinCartValue:    d.MinCartValue,
		ApplicableRules: d.ApplicableRules,
		FirstTimeOnly:   d.FirstTimeOnly,
		UsageLimit:      d.UsageLimit,
		UsedCount:       d.UsedCount,
		ExpiresAt:       d.ExpiresAt,
		CreatedAt:       d.CreatedAt,
	}
}

func wrapCouponError(op string, err error) error {
	if err == nil {
		return nil
	}
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		if couponErr.Op == "" {
			couponErr.Op = op
		}
		return couponErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
