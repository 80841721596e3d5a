package services

import (
	"errors"
	"fmt"

	domain "github.com/craftline/commerce-api/internal/domain"
)

var (
	// ErrCouponInvalidInput indicates the caller supplied invalid input parameters.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponUnavailable indicates coupon dependencies are currently unavailable.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
	// ErrCouponConflict indicates a concurrent modification interrupted the operation.
	ErrCouponConflict = errors.New("coupon: conflict")

	// ErrCouponNotFound indicates no coupon exists for the normalised code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponExpired indicates the coupon expiry date has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponUsageLimitReached indicates every permitted use has been consumed.
	ErrCouponUsageLimitReached = errors.New("coupon: usage limit reached")
	// ErrCouponOfferNotAvailable indicates the parent offer is outside its
	// active window or not redeemable from the caller's channel.
	ErrCouponOfferNotAvailable = errors.New("coupon: offer not available")
	// ErrCouponNotAssigned indicates the coupon is reserved for a different customer.
	ErrCouponNotAssigned = errors.New("coupon: not assigned to customer")
	// ErrCouponFirstOrderOnly indicates the coupon is restricted to first-time
	// customers and the caller already has a paid order.
	ErrCouponFirstOrderOnly = errors.New("coupon: first order only")
	// ErrCouponMinCartValue indicates the cart total is below the coupon's minimum.
	ErrCouponMinCartValue = errors.New("coupon: minimum cart value not met")
	// ErrCouponNoEligibleItems indicates no cart line matched the coupon's rules.
	ErrCouponNoEligibleItems = errors.New("coupon: no eligible items")
)

// MinimumCartValueError reports how far the cart is from the coupon's
// threshold so clients can nudge the customer.
type MinimumCartValueError struct {
	Required  float64
	CartValue float64
}

// Shortfall is the additional amount needed to qualify, rounded for display.
func (e *MinimumCartValueError) Shortfall() float64 {
	return domain.Round2(e.Required - e.CartValue)
}

func (e *MinimumCartValueError) Error() string {
	return fmt.Sprintf("coupon: add %.2f more to use this coupon", e.Shortfall())
}

// Unwrap ties the typed error to the ErrCouponMinCartValue sentinel.
func (e *MinimumCartValueError) Unwrap() error {
	return ErrCouponMinCartValue
}

// CouponRejectionCode maps a validation failure to the machine-readable code
// surfaced in API responses. It returns an empty string for errors that are
// not coupon rejections.
func CouponRejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, ErrCouponExpired):
		return "coupon_expired"
	case errors.Is(err, ErrCouponUsageLimitReached):
		return "coupon_usage_limit_reached"
	case errors.Is(err, ErrCouponOfferNotAvailable):
		return "coupon_offer_not_available"
	case errors.Is(err, ErrCouponNotAssigned):
		return "coupon_not_assigned"
	case errors.Is(err, ErrCouponFirstOrderOnly):
		return "coupon_first_order_only"
	case errors.Is(err, ErrCouponMinCartValue):
		return "coupon_min_cart_value"
	case errors.Is(err, ErrCouponNoEligibleItems):
		return "coupon_no_eligible_items"
	default:
		return ""
	}
}
