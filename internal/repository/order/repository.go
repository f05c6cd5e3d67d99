package order

import (
	"context"

	"aquavo-api/internal/domain"
)

type Repository interface {
	// Create persists the order, its items, stock reservations and coupon
	// redemption in one transaction. Coupon and stock rules are re-checked
	// against locked rows, so concurrent checkouts cannot oversell a coupon
	// or a product. An audit entry for the new order is written in the same
	// transaction.
	Create(ctx context.Context, o domain.Order) (*domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// UpdateStatus moves the order to next and records actor in the audit
	// log, atomically.
	UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, actor string) (*domain.Order, error)
	// AuditTrail lists the audit entries of one order, oldest first.
	AuditTrail(ctx context.Context, orderID string) ([]domain.AuditEntry, error)
}
