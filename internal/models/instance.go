package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Instance state machine: Purchased -> ListedForResale -> Purchased (new
// owner), Purchased -> Used (terminal). ListedForResale -> Used is forbidden.
const (
	InstancePurchased       = "Purchased"
	InstanceListedForResale = "ListedForResale"
	InstanceUsed            = "Used"
)

type TicketInstance struct {
	bun.BaseModel `bun:"table:ticket_instances"`

	InstanceID       string     `bun:"instance_id,pk" json:"instance_id"`
	BatchID          string     `bun:"batch_id,notnull" json:"batch_id"`
	EventID          string     `bun:"event_id,notnull" json:"event_id"`
	OriginalIssuerID string     `bun:"original_issuer_id,notnull" json:"original_issuer_id"`
	CurrentOwnerID   string     `bun:"current_owner_id,notnull" json:"current_owner_id"`
	CurrentOwnerRole string     `bun:"current_owner_role,notnull" json:"current_owner_role"`
	Status           string     `bun:"status,notnull" json:"status"`
	UnitPrice        int64      `bun:"unit_price,notnull" json:"unit_price"`
	PurchaseDate     time.Time  `bun:"purchase_date,notnull" json:"purchase_date"`
	ResalePrice      int64      `bun:"resale_price,nullzero" json:"resale_price,omitempty"`
	ResaleListedAt   *time.Time `bun:"resale_listed_at,nullzero" json:"resale_listed_at,omitempty"`
	UsedAt           *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
}
