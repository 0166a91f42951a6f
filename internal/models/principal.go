package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleSupplier    = "supplier"
	RoleDistributor = "distributor"
)

// Principal is the ledger's read-only view of an identity: a stable id and a
// role. Profile fields are owned by the identity directory.
type Principal struct {
	bun.BaseModel `bun:"table:principals"`

	ID        string    `bun:"id,pk" json:"id"`
	Role      string    `bun:"role,notnull" json:"role"`
	Name      string    `bun:"name" json:"name"`
	Email     string    `bun:"email" json:"email"`
	Company   string    `bun:"company" json:"company"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
