package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ReservationPending  = "pending"
	ReservationConsumed = "consumed"
	ReservationReleased = "released"
)

// Reservation is a short-lived hold on batch inventory. The decrement happens
// when the reservation is created; a reservation that is never consumed is
// released by the janitor and the quantity re-credited.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ReservationID string    `bun:"reservation_id,pk" json:"reservation_id"`
	BatchID       string    `bun:"batch_id,notnull" json:"batch_id"`
	Count         int       `bun:"count,notnull" json:"count"`
	Status        string    `bun:"status,notnull" json:"status"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
