package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticket-ledger/internal/models"
)

// The ledger is event-sourced at the storage layer: every mutating operation
// appends one event here inside the same transaction that updates the
// current-value projections. Rebuild replays the log into fresh projections,
// which is the crash-recovery and audit path.

// ReservationChange is the payload for reservation events; it carries the
// post-mutation reservation together with the batch it debited or credited.
type ReservationChange struct {
	Reservation models.Reservation `json:"reservation"`
	Batch       models.TicketBatch `json:"batch"`
}

// Materialization records the instances created for a consumed reservation.
type Materialization struct {
	Reservation models.Reservation      `json:"reservation"`
	Instances   []models.TicketInstance `json:"instances"`
}

// GateRecord is the ledger payload for gate creation. The gate model hides
// its secret from JSON at the API boundary, but the ledger must carry it or
// a rebuild would lose every redemption key.
type GateRecord struct {
	EventID   string    `json:"event_id"`
	IssuerID  string    `json:"issuer_id"`
	Secret    []byte    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// NewGateRecord captures a gate for the ledger.
func NewGateRecord(gate models.EventGate) GateRecord {
	return GateRecord{
		EventID:   gate.EventID,
		IssuerID:  gate.IssuerID,
		Secret:    gate.Secret,
		CreatedAt: gate.CreatedAt,
	}
}

// Append writes one event inside the caller's transaction. The payload must
// carry the full post-mutation state of every entity the operation changed.
func Append(ctx context.Context, db bun.IDB, eventType, entityID string, payload interface{}, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ledger payload: %w", err)
	}
	event := models.LedgerEvent{
		EventType: eventType,
		EntityID:  entityID,
		Payload:   raw,
		CreatedAt: at,
	}
	if _, err := db.NewInsert().Model(&event).Exec(ctx); err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}
	return nil
}

// Events returns the full log in append order.
func Events(ctx context.Context, db bun.IDB) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := db.NewSelect().
		Model(&events).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Rebuild truncates the current-value projections and replays the event log
// into them. Runs in one transaction so readers never see a half-built
// projection.
func Rebuild(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		events, err := Events(ctx, tx)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}

		for _, model := range []interface{}{
			(*models.TicketBatch)(nil),
			(*models.TicketInstance)(nil),
			(*models.Reservation)(nil),
			(*models.EventGate)(nil),
			(*models.EventAccessEntry)(nil),
		} {
			if _, err := tx.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
				return fmt.Errorf("clear projection: %w", err)
			}
		}

		for _, event := range events {
			if err := apply(ctx, tx, event); err != nil {
				return fmt.Errorf("replay seq %d (%s): %w", event.Seq, event.EventType, err)
			}
		}
		return nil
	})
}

func apply(ctx context.Context, tx bun.Tx, event models.LedgerEvent) error {
	switch event.EventType {
	case models.EventBatchCreated, models.EventBatchStatusSet, models.EventBatchCancelled:
		var batch models.TicketBatch
		if err := json.Unmarshal(event.Payload, &batch); err != nil {
			return err
		}
		return replace(ctx, tx, &batch, "batch_id", batch.BatchID)

	case models.EventReserved, models.EventReservationFreed:
		var change ReservationChange
		if err := json.Unmarshal(event.Payload, &change); err != nil {
			return err
		}
		if err := replace(ctx, tx, &change.Batch, "batch_id", change.Batch.BatchID); err != nil {
			return err
		}
		return replace(ctx, tx, &change.Reservation, "reservation_id", change.Reservation.ReservationID)

	case models.EventMaterialized:
		var mat Materialization
		if err := json.Unmarshal(event.Payload, &mat); err != nil {
			return err
		}
		if err := replace(ctx, tx, &mat.Reservation, "reservation_id", mat.Reservation.ReservationID); err != nil {
			return err
		}
		for i := range mat.Instances {
			if err := replace(ctx, tx, &mat.Instances[i], "instance_id", mat.Instances[i].InstanceID); err != nil {
				return err
			}
		}
		return nil

	case models.EventListedForResale, models.EventTransferred, models.EventRedeemed:
		var instance models.TicketInstance
		if err := json.Unmarshal(event.Payload, &instance); err != nil {
			return err
		}
		return replace(ctx, tx, &instance, "instance_id", instance.InstanceID)

	case models.EventGateCreated:
		var record GateRecord
		if err := json.Unmarshal(event.Payload, &record); err != nil {
			return err
		}
		gate := models.EventGate{
			EventID:   record.EventID,
			IssuerID:  record.IssuerID,
			Secret:    record.Secret,
			CreatedAt: record.CreatedAt,
		}
		return replace(ctx, tx, &gate, "event_id", gate.EventID)

	case models.EventAccessGranted:
		var entry models.EventAccessEntry
		if err := json.Unmarshal(event.Payload, &entry); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*models.EventAccessEntry)(nil)).
			Where("event_id = ? AND principal_id = ? AND kind = ?", entry.EventID, entry.PrincipalID, entry.Kind).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(&entry).Exec(ctx)
		return err

	default:
		return fmt.Errorf("unknown event type %q", event.EventType)
	}
}

// replace is a dialect-neutral upsert: delete by key, then insert the
// post-mutation state.
func replace(ctx context.Context, tx bun.Tx, model interface{}, keyColumn, key string) error {
	if _, err := tx.NewDelete().Model(model).Where(keyColumn+" = ?", key).Exec(ctx); err != nil {
		return err
	}
	_, err := tx.NewInsert().Model(model).Exec(ctx)
	return err
}
