package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/shopspring/decimal"
)

// CouponResolver turns a coupon code into a discount percentage.
type CouponResolver struct {
	coupons repository.CouponRepository
	now     func() time.Time
}

func NewCouponResolver(coupons repository.CouponRepository) *CouponResolver {
	return &CouponResolver{coupons: coupons, now: time.Now}
}

// Resolve returns the discount percent (0-100) of an active coupon. Unknown and
// expired codes both fail with domain.ErrInvalidOrExpired.
func (r *CouponResolver) Resolve(ctx context.Context, code string) (float64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, domain.ErrInvalidOrExpired
	}

	c, err := r.coupons.GetCouponByName(ctx, code)
	if errors.Is(err, repository.ErrCouponNotFound) {
		return 0, domain.ErrInvalidOrExpired
	}
	if err != nil {
		return 0, fmt.Errorf("resolve coupon: %w", err)
	}
	if !c.IsActive(r.now()) {
		return 0, domain.ErrInvalidOrExpired
	}
	return c.Discount, nil
}

// ApplyDiscount returns subtotal - subtotal*percent/100 rounded half away from
// zero to 2 decimal places.
func ApplyDiscount(subtotal, percent float64) float64 {
	s := decimal.NewFromFloat(subtotal)
	off := s.Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100))
	return s.Sub(off).Round(2).InexactFloat64()
}
