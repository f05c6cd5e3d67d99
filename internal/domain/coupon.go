package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponPercentage CouponType = "percentage"
	CouponFixed      CouponType = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Coupon is a discount code. Nil limits mean unlimited.
type Coupon struct {
	ID             string              `json:"id"`
	Code           string              `json:"code"`
	Type           CouponType          `json:"type"`
	Value          decimal.Decimal     `json:"value"`
	MinOrderAmount decimal.Decimal     `json:"minOrderAmount"`
	MaxDiscount    decimal.NullDecimal `json:"maxDiscount"`
	MaxUses        *int                `json:"maxUses,omitempty"`
	UsedCount      int                 `json:"usedCount"`
	MaxUsesPerUser *int                `json:"maxUsesPerUser,omitempty"`
	UserID         string              `json:"userId,omitempty"`
	StartsAt       *time.Time          `json:"startsAt,omitempty"`
	ExpiresAt      *time.Time          `json:"expiresAt,omitempty"`
	Active         bool                `json:"isActive"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// CheckUsage covers every rule that does not depend on the order amount.
// userRedemptions is how many times userID already redeemed this coupon.
func (c Coupon) CheckUsage(now time.Time, userID string, userRedemptions int) error {
	var reason CouponReason
	switch {
	case !c.Active:
		reason = CouponInactive
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		reason = CouponNotStarted
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		reason = CouponExpired
	case c.MaxUses != nil && c.UsedCount >= *c.MaxUses:
		reason = CouponExhausted
	case c.UserID != "" && c.UserID != userID:
		reason = CouponNotApplicable
	case c.MaxUsesPerUser != nil && userID == "":
		// per-user caps cannot be enforced for guests
		reason = CouponNotApplicable
	case c.MaxUsesPerUser != nil && userRedemptions >= *c.MaxUsesPerUser:
		reason = CouponUserLimitReached
	default:
		return nil
	}
	return NewCouponError(c.Code, reason)
}

// Eligible runs CheckUsage and the minimum order amount rule.
func (c Coupon) Eligible(now time.Time, userID string, userRedemptions int, subtotal decimal.Decimal) error {
	if err := c.CheckUsage(now, userID, userRedemptions); err != nil {
		return err
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return NewCouponError(c.Code, CouponMinAmountNotMet)
	}
	return nil
}

// DiscountFor returns the discount for subtotal, capped by MaxDiscount and by
// the subtotal itself so totals never go negative.
func (c Coupon) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.Type {
	case CouponPercentage:
		discount = subtotal.Mul(c.Value).Div(hundred).Round(2)
	default:
		discount = c.Value
	}
	if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
		discount = c.MaxDiscount.Decimal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal)
}
