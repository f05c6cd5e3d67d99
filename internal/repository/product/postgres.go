package product

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
	return &postgresRepo{pool: pool, logger: logger.WithField("repo", "product")}
}

const productColumns = `id::text, slug, name, COALESCE(description, ''), price::text, currency, stock, images, created_at`

func (r *postgresRepo) List(ctx context.Context) ([]domain.Product, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
ORDER BY created_at DESC
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		r.logger.WithError(err).Error("list products")
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		r.logger.WithError(err).Error("list products rows")
		return nil, err
	}
	r.logger.WithField("count", len(result)).Debug("listed products")
	return result, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE id = $1
`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WithField("id", id).Debug("product not found")
			return nil, domain.ErrNotFound
		}
		r.logger.WithError(err).WithField("id", id).Error("get product")
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, product domain.Product) (*domain.Product, error) {
	const q = `
INSERT INTO products (id, slug, name, description, price, currency, stock, images)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, NULLIF($4, ''), $5::numeric, $6, $7, COALESCE($8, '[]'::jsonb))
ON CONFLICT (slug) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    price = EXCLUDED.price,
    currency = EXCLUDED.currency,
    stock = EXCLUDED.stock,
    images = EXCLUDED.images
RETURNING id::text, created_at
`
	images := product.Images
	if images == nil {
		images = []string{}
	}
	res := product
	err := r.pool.QueryRow(ctx, q,
		product.ID,
		product.Slug,
		product.Name,
		product.Description,
		product.Price.String(),
		product.Currency,
		product.Stock,
		images,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		r.logger.WithError(err).WithField("slug", product.Slug).Error("upsert product")
		return nil, err
	}
	if product.ID != "" && res.ID != product.ID {
		return nil, fmt.Errorf("product repo: id mismatch for slug=%s existing_id=%s import_id=%s", product.Slug, res.ID, product.ID)
	}
	r.logger.WithFields(logrus.Fields{"slug": res.Slug, "id": res.ID}).Debug("upserted product")
	return &res, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &price, &p.Currency, &p.Stock, &p.Images, &p.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = d
	return &p, nil
}
