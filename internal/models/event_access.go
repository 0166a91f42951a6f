package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	AccessKindPOS     = "pos"
	AccessKindScanner = "scanner"
)

// EventGate holds the per-event redemption secret. Created alongside the
// batch; the secret never leaves the service except inside encrypted QR codes.
type EventGate struct {
	bun.BaseModel `bun:"table:event_gates"`

	EventID   string    `bun:"event_id,pk" json:"event_id"`
	IssuerID  string    `bun:"issuer_id,notnull" json:"issuer_id"`
	Secret    []byte    `bun:"secret,notnull" json:"-"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// EventAccessEntry authorizes a principal as POS or scanner for one event.
type EventAccessEntry struct {
	bun.BaseModel `bun:"table:event_access"`

	EventID     string    `bun:"event_id,pk" json:"event_id"`
	PrincipalID string    `bun:"principal_id,pk" json:"principal_id"`
	Kind        string    `bun:"kind,pk" json:"kind"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}
