package seed

import (
	"context"
	"fmt"
	"time"

	"aquavo-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type productUpserter interface {
	Upsert(ctx context.Context, product domain.Product) (*domain.Product, error)
}

type couponUpserter interface {
	Upsert(ctx context.Context, c domain.Coupon) (*domain.Coupon, error)
}

type productSeed struct {
	Slug        string
	Name        string
	Description string
	Price       int64
	Stock       int
	Image       string
}

var products = []productSeed{
	{
		Slug:        "neon-tetra",
		Name:        "سمكة نيون تترا",
		Description: "Small schooling fish for planted community tanks",
		Price:       1500,
		Stock:       200,
		Image:       "https://images.unsplash.com/photo-1522069169874-c58ec4b76be5",
	},
	{
		Slug:        "betta-splendens",
		Name:        "سمكة البيتا",
		Description: "Male betta, hand picked",
		Price:       7500,
		Stock:       30,
		Image:       "https://images.unsplash.com/photo-1520301255226-bf5f144451c1",
	},
	{
		Slug:        "canister-filter-1200",
		Name:        "فلتر خارجي 1200 لتر/ساعة",
		Description: "External canister filter for tanks up to 300 litres",
		Price:       95000,
		Stock:       12,
	},
	{
		Slug:        "aquarium-60l",
		Name:        "حوض زجاجي 60 لتر",
		Description: "Glass aquarium with lid and LED light",
		Price:       120000,
		Stock:       5,
	},
}

func intPtr(v int) *int { return &v }

func coupons(now time.Time) []domain.Coupon {
	expires := now.AddDate(0, 3, 0)
	return []domain.Coupon{
		{
			Code:           "WELCOME10",
			Type:           domain.CouponPercentage,
			Value:          decimal.NewFromInt(10),
			MaxDiscount:    decimal.NewNullDecimal(decimal.NewFromInt(25000)),
			MaxUsesPerUser: intPtr(1),
			ExpiresAt:      &expires,
			Active:         true,
		},
		{
			Code:           "FISH5000",
			Type:           domain.CouponFixed,
			Value:          decimal.NewFromInt(5000),
			MinOrderAmount: decimal.NewFromInt(50000),
			MaxUses:        intPtr(100),
			Active:         true,
		},
	}
}

// Apply inserts demo catalog and coupon data. It is idempotent: products
// upsert on slug and coupons on code.
func Apply(ctx context.Context, productRepo productUpserter, couponRepo couponUpserter, logger logrus.FieldLogger) error {
	for _, p := range products {
		product := domain.Product{
			Slug:        p.Slug,
			Name:        p.Name,
			Description: p.Description,
			Price:       decimal.NewFromInt(p.Price),
			Currency:    "IQD",
			Stock:       p.Stock,
		}
		if p.Image != "" {
			product.Images = []string{p.Image}
		}
		saved, err := productRepo.Upsert(ctx, product)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.Slug, err)
		}
		logger.WithFields(logrus.Fields{"slug": saved.Slug, "id": saved.ID}).Debug("seeded product")
	}

	for _, c := range coupons(time.Now()) {
		if _, err := couponRepo.Upsert(ctx, c); err != nil {
			return fmt.Errorf("upsert coupon %s: %w", c.Code, err)
		}
	}
	logger.WithFields(logrus.Fields{"products": len(products), "coupons": 2}).Info("seed applied")
	return nil
}
