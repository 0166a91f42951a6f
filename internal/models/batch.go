package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Advisory batch statuses set by the issuer. Purchase is gated by
// remaining_quantity alone, never by status (except Cancelled).
const (
	BatchAvailable           = "Available"
	BatchSoldOut             = "SoldOut"
	BatchListedForResaleOnly = "ListedForResaleOnly"
	BatchCancelled           = "Cancelled"
)

type TicketBatch struct {
	bun.BaseModel `bun:"table:ticket_batches"`

	BatchID           string    `bun:"batch_id,pk" json:"batch_id"`
	EventID           string    `bun:"event_id,notnull" json:"event_id"`
	IssuerID          string    `bun:"issuer_id,notnull" json:"issuer_id"`
	Name              string    `bun:"name,notnull" json:"name"`
	Venue             string    `bun:"venue" json:"venue"`
	Description       string    `bun:"description" json:"description"`
	EventDate         time.Time `bun:"event_date,notnull" json:"event_date"`
	UnitPrice         int64     `bun:"unit_price,notnull" json:"unit_price"`
	TotalQuantity     int       `bun:"total_quantity,notnull" json:"total_quantity"`
	RemainingQuantity int       `bun:"remaining_quantity,notnull" json:"remaining_quantity"`
	Status            string    `bun:"status,notnull" json:"status"`
	CreatedAt         time.Time `bun:"created_at,notnull" json:"created_at"`
}
