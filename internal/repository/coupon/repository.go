package coupon

import (
	"context"

	"aquavo-api/internal/domain"
)

type Repository interface {
	// GetByCode matches code case-insensitively.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error)
	Upsert(ctx context.Context, c domain.Coupon) (*domain.Coupon, error)
}
