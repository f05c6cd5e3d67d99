package domain

import "time"

const (
	AuditActorGuest = "guest"
	AuditActorAdmin = "admin"

	AuditActionCreate = "create"
	AuditActionUpdate = "update"

	AuditEntityOrder = "order"
)

// AuditEntry records one change to an entity. Actor is a user id, or
// AuditActorGuest / AuditActorAdmin when the caller has none.
type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"userId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Changes    map[string]any `json:"changes,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
