package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Ledger event types, appended in the same transaction as the mutation they
// record. The batch/instance/access projections are reconstructable from this
// log alone.
const (
	EventBatchCreated     = "batch_created"
	EventBatchStatusSet   = "batch_status_set"
	EventBatchCancelled   = "batch_cancelled"
	EventReserved         = "reserved"
	EventReservationFreed = "reservation_released"
	EventMaterialized     = "instances_materialized"
	EventListedForResale  = "listed_for_resale"
	EventTransferred      = "ownership_transferred"
	EventRedeemed         = "redeemed"
	EventGateCreated      = "gate_created"
	EventAccessGranted    = "access_granted"
)

type LedgerEvent struct {
	bun.BaseModel `bun:"table:ledger_events"`

	Seq       int64           `bun:"seq,pk,autoincrement" json:"seq"`
	EventType string          `bun:"event_type,notnull" json:"event_type"`
	EntityID  string          `bun:"entity_id,notnull" json:"entity_id"`
	Payload   json.RawMessage `bun:"payload" json:"payload"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"created_at"`
}
