package coupon

import (
	"context"
	"errors"
	"fmt"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

func NewPostgres(pool *pgxpool.Pool, logger logrus.FieldLogger) Repository {
	if logger == nil {
		logger = logging.Discard()
	}
	return &postgresRepo{pool: pool, logger: logger.WithField("repo", "coupon")}
}

// Columns is the select list understood by Scan. The order repository reuses
// it when it locks a coupon inside its own transaction.
const Columns = `id::text, code, type, value::text, min_order_amount::text, max_discount::text,
max_uses, used_count, max_uses_per_user, COALESCE(user_id, ''), starts_at, expires_at, is_active, created_at`

func (r *postgresRepo) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	const q = `
SELECT ` + Columns + `
FROM coupons
WHERE lower(code) = lower($1)
`
	c, err := Scan(r.pool.QueryRow(ctx, q, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.WithError(err).WithField("code", code).Error("get coupon")
		return nil, err
	}
	return c, nil
}

func (r *postgresRepo) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	const q = `
SELECT count(*)
FROM coupon_redemptions
WHERE coupon_id = $1 AND user_id = $2
`
	var n int
	if err := r.pool.QueryRow(ctx, q, couponID, userID).Scan(&n); err != nil {
		r.logger.WithError(err).WithField("coupon_id", couponID).Error("count redemptions")
		return 0, err
	}
	return n, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, c domain.Coupon) (*domain.Coupon, error) {
	const q = `
INSERT INTO coupons (code, type, value, min_order_amount, max_discount, max_uses, max_uses_per_user, user_id, starts_at, expires_at, is_active)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, NULLIF($8, ''), $9, $10, $11)
ON CONFLICT ((lower(code))) DO UPDATE SET
    type = EXCLUDED.type,
    value = EXCLUDED.value,
    min_order_amount = EXCLUDED.min_order_amount,
    max_discount = EXCLUDED.max_discount,
    max_uses = EXCLUDED.max_uses,
    max_uses_per_user = EXCLUDED.max_uses_per_user,
    user_id = EXCLUDED.user_id,
    starts_at = EXCLUDED.starts_at,
    expires_at = EXCLUDED.expires_at,
    is_active = EXCLUDED.is_active
RETURNING ` + Columns
	var maxDiscount *string
	if c.MaxDiscount.Valid {
		s := c.MaxDiscount.Decimal.String()
		maxDiscount = &s
	}
	res, err := Scan(r.pool.QueryRow(ctx, q,
		c.Code,
		string(c.Type),
		c.Value.String(),
		c.MinOrderAmount.String(),
		maxDiscount,
		c.MaxUses,
		c.MaxUsesPerUser,
		c.UserID,
		c.StartsAt,
		c.ExpiresAt,
		c.Active,
	))
	if err != nil {
		r.logger.WithError(err).WithField("code", c.Code).Error("upsert coupon")
		return nil, err
	}
	return res, nil
}

// Scan reads a row selected with Columns.
func Scan(row pgx.Row) (*domain.Coupon, error) {
	var (
		c                     domain.Coupon
		typ, value, minAmount string
		maxDiscount           *string
	)
	err := row.Scan(&c.ID, &c.Code, &typ, &value, &minAmount, &maxDiscount,
		&c.MaxUses, &c.UsedCount, &c.MaxUsesPerUser, &c.UserID, &c.StartsAt, &c.ExpiresAt, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = domain.CouponType(typ)
	if c.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse coupon value: %w", err)
	}
	if c.MinOrderAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("parse coupon min amount: %w", err)
	}
	if maxDiscount != nil {
		d, err := decimal.NewFromString(*maxDiscount)
		if err != nil {
			return nil, fmt.Errorf("parse coupon max discount: %w", err)
		}
		c.MaxDiscount = decimal.NewNullDecimal(d)
	}
	return &c, nil
}
