package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"aquavo-api/internal/domain"
	couponrepo "aquavo-api/internal/repository/coupon"
	"github.com/shopspring/decimal"
)

type Service struct {
	repo couponrepo.Repository
	now  func() time.Time
}

func New(repo couponrepo.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Quote is a coupon that passed every eligibility rule for a given subtotal.
type Quote struct {
	Coupon   domain.Coupon   `json:"coupon"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Resolve looks code up case-insensitively and checks it against userID and
// subtotal. Rejections are *domain.CouponError; anything else is a storage
// failure.
func (s *Service) Resolve(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Quote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.NewCouponError(code, domain.CouponInvalid)
	}
	c, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewCouponError(code, domain.CouponInvalid)
		}
		return nil, err
	}

	redemptions := 0
	if userID != "" && c.MaxUsesPerUser != nil {
		if redemptions, err = s.repo.CountUserRedemptions(ctx, c.ID, userID); err != nil {
			return nil, err
		}
	}
	if err := c.Eligible(s.now(), userID, redemptions, subtotal); err != nil {
		return nil, err
	}

	discount := c.DiscountFor(subtotal)
	return &Quote{
		Coupon:   *c,
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal.Sub(discount),
	}, nil
}
