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

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Offers  repositories.OfferRepository
	Orders  repositories.OrderRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	IDGen   func() string
}

type couponService struct {
	coupons repositories.CouponRepository
	offers  repositories.OfferRepository
	orders  repositories.OrderRepository
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
	newID   func() string
}

// NewCouponService constructs a CouponService validating required dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Offers == nil {
		return nil, errors.New("coupon service: offer repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("coupon service: order repository is required")
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

	return &couponService{
		coupons: deps.Coupons,
		offers:  deps.Offers,
		orders:  deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// Validate runs the eligibility chain in its fixed order and short-circuits on
// the first failing rule. It never mutates usage counters; redemption happens
// separately at order confirmation.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (domain.CouponQuote, error) {
	if s == nil || s.coupons == nil {
		return domain.CouponQuote{}, ErrCouponUnavailable
	}

	code := domain.NormalizeCouponCode(cmd.Code)
	if code == "" {
		return domain.CouponQuote{}, fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.Customer.CustomerID)
	if customerID == "" {
		return domain.CouponQuote{}, fmt.Errorf("%w: customer id is required", ErrCouponInvalidInput)
	}

	now := s.now()

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return domain.CouponQuote{}, s.translateCouponError(err)
	}
	if coupon.Expired(now) {
		return domain.CouponQuote{}, fmt.Errorf("%w: %s expired on %s", ErrCouponExpired, coupon.Code, coupon.ExpiresAt.Format("2006-01-02"))
	}
	if coupon.Exhausted() {
		return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponUsageLimitReached, coupon.Code)
	}

	offer, err := s.offers.FindByID(ctx, coupon.OfferID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "coupon.offer_missing", map[string]any{
				"couponId": coupon.ID,
				"offerId":  coupon.OfferID,
			})
			return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponOfferNotAvailable, coupon.Code)
		}
		return domain.CouponQuote{}, s.translateCouponError(err)
	}
	if !offer.Live(now) || !offer.AvailableOn(cmd.Customer.Channel) {
		return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponOfferNotAvailable, coupon.Code)
	}

	if coupon.ContactID != "" && coupon.ContactID != customerID {
		return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponNotAssigned, coupon.Code)
	}

	if coupon.FirstTimeOnly {
		paid, err := s.orders.CountPaid(ctx, customerID)
		if err != nil {
			return domain.CouponQuote{}, s.translateCouponError(err)
		}
		if paid > 0 {
			return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponFirstOrderOnly, coupon.Code)
		}
	}

	var subtotal float64
	for _, line := range cmd.Lines {
		subtotal += line.Total()
	}
	if subtotal < coupon.MinCartValue {
		return domain.CouponQuote{}, &MinimumCartValueError{
			Required:  coupon.MinCartValue,
			CartValue: subtotal,
		}
	}

	base, eligible := DiscountableBase(cmd.Lines, coupon.ApplicableRules)
	if len(coupon.ApplicableRules) > 0 && len(eligible) == 0 {
		return domain.CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponNoEligibleItems, coupon.Code)
	}

	return domain.CouponQuote{
		Coupon:           coupon,
		Offer:            offer,
		DiscountableBase: base,
		DiscountAmount:   ComputeDiscount(offer, base),
		EligibleSKUs:     eligible,
	}, nil
}

// Redeem consumes one use of the coupon. The repository holds the usage
// precondition transactionally, so a concurrent redemption surfaces here as
// ErrCouponUsageLimitReached rather than an overshoot.
func (s *couponService) Redeem(ctx context.Context, couponID string) (domain.DiscountCoupon, error) {
	if s == nil || s.coupons == nil {
		return domain.DiscountCoupon{}, ErrCouponUnavailable
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return domain.DiscountCoupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.Redeem(ctx, id, s.now())
	if err != nil {
		return domain.DiscountCoupon{}, s.translateCouponError(err)
	}
	return coupon, nil
}

// Release hands a consumed use back after a confirmation failed past the
// redemption step. The repository floors the counter at zero.
func (s *couponService) Release(ctx context.Context, couponID string) (domain.DiscountCoupon, error) {
	if s == nil || s.coupons == nil {
		return domain.DiscountCoupon{}, ErrCouponUnavailable
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return domain.DiscountCoupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.ReleaseUse(ctx, id, s.now())
	if err != nil {
		return domain.DiscountCoupon{}, s.translateCouponError(err)
	}
	return coupon, nil
}

// CreateOffer registers a master offer.
func (s *couponService) CreateOffer(ctx context.Context, cmd CreateOfferCommand) (domain.DiscountOffer, error) {
	if s == nil || s.offers == nil {
		return domain.DiscountOffer{}, ErrCouponUnavailable
	}

	offer, err := domain.NewDiscountOffer(s.newID(), cmd.Name, cmd.DiscountType, cmd.DiscountValue, cmd.Channel, cmd.StartDate, cmd.EndDate)
	if err != nil {
		return domain.DiscountOffer{}, fmt.Errorf("%w: %v", ErrCouponInvalidInput, err)
	}

	saved, err := s.offers.Insert(ctx, offer)
	if err != nil {
		return domain.DiscountOffer{}, s.translateCouponError(err)
	}
	return saved, nil
}

// ListOffers returns the master offer list.
func (s *couponService) ListOffers(ctx context.Context) ([]domain.DiscountOffer, error) {
	if s == nil || s.offers == nil {
		return nil, ErrCouponUnavailable
	}
	offers, err := s.offers.List(ctx)
	if err != nil {
		return nil, s.translateCouponError(err)
	}
	return offers, nil
}

// CreateCoupon registers a coupon against an existing offer.
func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (domain.DiscountCoupon, error) {
	if s == nil || s.coupons == nil || s.offers == nil {
		return domain.DiscountCoupon{}, ErrCouponUnavailable
	}

	coupon, err := domain.NewDiscountCoupon(s.newID(), cmd.Code, cmd.OfferID, cmd.MinCartValue, cmd.UsageLimit, cmd.ExpiresAt)
	if err != nil {
		return domain.DiscountCoupon{}, fmt.Errorf("%w: %v", ErrCouponInvalidInput, err)
	}

	if _, err := s.offers.FindByID(ctx, coupon.OfferID); err != nil {
		if isRepoNotFound(err) {
			return domain.DiscountCoupon{}, fmt.Errorf("%w: offer %s does not exist", ErrCouponInvalidInput, coupon.OfferID)
		}
		return domain.DiscountCoupon{}, s.translateCouponError(err)
	}

	coupon.ContactID = strings.TrimSpace(cmd.ContactID)
	coupon.FirstTimeOnly = cmd.FirstTimeOnly
	coupon.CreatedAt = s.now()
	for _, rule := range cmd.ApplicableRules {
		if trimmed := strings.TrimSpace(rule); trimmed != "" {
			coupon.ApplicableRules = append(coupon.ApplicableRules, trimmed)
		}
	}

	saved, err := s.coupons.Insert(ctx, coupon)
	if err != nil {
		return domain.DiscountCoupon{}, s.translateCouponError(err)
	}
	return saved, nil
}

// ListCoupons returns the coupon list with usage counters.
func (s *couponService) ListCoupons(ctx context.Context) ([]domain.DiscountCoupon, error) {
	if s == nil || s.coupons == nil {
		return nil, ErrCouponUnavailable
	}
	coupons, err := s.coupons.List(ctx)
	if err != nil {
		return nil, s.translateCouponError(err)
	}
	return coupons, nil
}

func (s *couponService) translateCouponError(err error) error {
	if err == nil {
		return nil
	}

	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorNotFound:
			return fmt.Errorf("%w: %s", ErrCouponNotFound, couponErr.Message)
		case repositories.CouponErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCouponUsageLimitReached, couponErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		default:
			return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
}
