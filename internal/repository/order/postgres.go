package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/logging"
	couponrepo "aquavo-api/internal/repository/coupon"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewPostgres(pool *pgxpool.Pool, logger logrus.FieldLogger) Repository {
	if logger == nil {
		logger = logging.Discard()
	}
	return &postgresRepo{pool: pool, logger: logger.WithField("repo", "order"), now: time.Now}
}

func (r *postgresRepo) Create(ctx context.Context, o domain.Order) (*domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock order is always coupon first, then products by id, so two
	// checkouts can never wait on each other in opposite directions.
	if o.CouponID != "" {
		if err := r.claimCoupon(ctx, tx, o); err != nil {
			return nil, err
		}
	}
	if err := reserveStock(ctx, tx, o.Items); err != nil {
		return nil, err
	}

	const insertOrder = `
INSERT INTO orders (user_id, status, subtotal, discount, total, coupon_id, coupon_code,
                    customer_name, customer_phone, customer_email, address, notes)
VALUES (NULLIF($1, ''), $2, $3::numeric, $4::numeric, $5::numeric, NULLIF($6, '')::uuid, NULLIF($7, ''),
        $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''))
RETURNING id::text, created_at, updated_at
`
	if o.Status == "" {
		o.Status = domain.StatusPending
	}
	err = tx.QueryRow(ctx, insertOrder,
		o.UserID, string(o.Status), o.Subtotal.String(), o.Discount.String(), o.Total.String(),
		o.CouponID, o.CouponCode,
		o.Customer.Name, o.Customer.Phone, o.Customer.Email, o.Customer.Address, o.Customer.Notes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	const insertItem = `
INSERT INTO order_items (order_id, position, product_id, name, unit_price, quantity, image)
VALUES ($1, $2, $3, $4, $5::numeric, $6, NULLIF($7, ''))
`
	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(insertItem, o.ID, i, it.ProductID, it.Name, it.Price.String(), it.Quantity, it.Image)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert order items: %w", err)
	}

	if o.CouponID != "" {
		const redeem = `
INSERT INTO coupon_redemptions (coupon_id, order_id, user_id)
VALUES ($1, $2, NULLIF($3, ''))
`
		if _, err := tx.Exec(ctx, redeem, o.CouponID, o.ID, o.UserID); err != nil {
			return nil, fmt.Errorf("insert coupon redemption: %w", err)
		}
	}

	actor := o.UserID
	if actor == "" {
		actor = domain.AuditActorGuest
	}
	err = insertAudit(ctx, tx, domain.AuditEntry{
		Actor:      actor,
		Action:     domain.AuditActionCreate,
		EntityType: domain.AuditEntityOrder,
		EntityID:   o.ID,
		Changes:    map[string]any{"total": o.Total, "items": len(o.Items)},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"order_id": o.ID, "items": len(o.Items), "coupon": o.CouponCode}).Info("order created")
	return &o, nil
}

// claimCoupon locks the coupon row, re-runs every eligibility rule against
// the locked state and takes one use.
func (r *postgresRepo) claimCoupon(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	const q = `
SELECT ` + couponrepo.Columns + `
FROM coupons
WHERE id = $1
FOR UPDATE
`
	c, err := couponrepo.Scan(tx.QueryRow(ctx, q, o.CouponID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewCouponError(o.CouponCode, domain.CouponInvalid)
		}
		return fmt.Errorf("lock coupon: %w", err)
	}

	redemptions := 0
	if o.UserID != "" && c.MaxUsesPerUser != nil {
		const count = `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`
		if err := tx.QueryRow(ctx, count, c.ID, o.UserID).Scan(&redemptions); err != nil {
			return fmt.Errorf("count coupon redemptions: %w", err)
		}
	}
	if err := c.Eligible(r.now(), o.UserID, redemptions, o.Subtotal); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, c.ID); err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}

// reserveStock locks every ordered product, checks the submitted prices
// against the catalog and decrements stock.
func reserveStock(ctx context.Context, tx pgx.Tx, items []domain.OrderItem) error {
	wanted := make(map[string]int, len(items))
	for _, it := range items {
		wanted[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	prices := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		var (
			price string
			stock int
		)
		err := tx.QueryRow(ctx, `SELECT price::text, stock FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&price, &stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &domain.ProductError{ProductID: id, Err: domain.ErrProductUnavailable}
			}
			return fmt.Errorf("lock product %s: %w", id, err)
		}
		if stock < wanted[id] {
			return &domain.ProductError{ProductID: id, Err: domain.ErrOutOfStock}
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("parse price of %s: %w", id, err)
		}
		prices[id] = d
	}

	for _, it := range items {
		if !it.Price.Equal(prices[it.ProductID]) {
			return &domain.ProductError{ProductID: it.ProductID, Err: domain.ErrPriceChanged}
		}
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1`, id, wanted[id]); err != nil {
			return fmt.Errorf("decrement stock of %s: %w", id, err)
		}
	}
	return nil
}

const orderColumns = `id::text, COALESCE(user_id, ''), status, subtotal::text, discount::text, total::text,
COALESCE(coupon_id::text, ''), COALESCE(coupon_code, ''), customer_name, customer_phone,
COALESCE(customer_email, ''), address, COALESCE(notes, ''), created_at, updated_at`

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	const q = `
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.WithError(err).WithField("order_id", id).Error("get order")
		return nil, err
	}
	orders := []domain.Order{*o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	const q = `
SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("list orders")
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *postgresRepo) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []domain.OrderItem{}
	}

	const q = `
SELECT order_id::text, product_id::text, name, unit_price::text, quantity, COALESCE(image, '')
FROM order_items
WHERE order_id = ANY($1::text[]::uuid[])
ORDER BY order_id, position
`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, price string
			it             domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &price, &it.Quantity, &it.Image); err != nil {
			return err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parse item price: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func (r *postgresRepo) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, actor string) (*domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current domain.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, next)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(next)); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = domain.AuditActorAdmin
	}
	err = insertAudit(ctx, tx, domain.AuditEntry{
		Actor:      actor,
		Action:     domain.AuditActionUpdate,
		EntityType: domain.AuditEntityOrder,
		EntityID:   id,
		Changes:    map[string]any{"status": next, "previousStatus": current},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{"order_id": id, "from": current, "to": next, "actor": actor}).Info("order status changed")
	return r.GetByID(ctx, id)
}

func insertAudit(ctx context.Context, tx pgx.Tx, e domain.AuditEntry) error {
	const q = `
INSERT INTO audit_logs (user_id, action, entity_type, entity_id, changes)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, q, e.Actor, e.Action, e.EntityType, e.EntityID, e.Changes); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *postgresRepo) AuditTrail(ctx context.Context, orderID string) ([]domain.AuditEntry, error) {
	const q = `
SELECT id::text, user_id, action, entity_type, entity_id, changes, created_at
FROM audit_logs
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at, id
`
	rows, err := r.pool.Query(ctx, q, domain.AuditEntityOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Changes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                         domain.Order
		status                    string
		subtotal, discount, total string
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &subtotal, &discount, &total,
		&o.CouponID, &o.CouponCode, &o.Customer.Name, &o.Customer.Phone,
		&o.Customer.Email, &o.Customer.Address, &o.Customer.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Discount, discount}, {&o.Total, total}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse order amount: %w", err)
		}
		*f.dst = d
	}
	return &o, nil
}
