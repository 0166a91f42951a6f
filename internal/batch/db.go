package batch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/store"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateBatch(ctx context.Context, batch models.TicketBatch, gate models.EventGate) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}
		if err := store.Append(ctx, tx, models.EventBatchCreated, batch.BatchID, batch, batch.CreatedAt); err != nil {
			return err
		}

		exists, err := tx.NewSelect().
			Model((*models.EventGate)(nil)).
			Where("event_id = ?", gate.EventID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.NewInsert().Model(&gate).Exec(ctx); err != nil {
			return err
		}
		return store.Append(ctx, tx, models.EventGateCreated, gate.EventID, store.NewGateRecord(gate), gate.CreatedAt)
	})
}

func (d *DB) GetBatch(ctx context.Context, batchID string) (*models.TicketBatch, error) {
	var batch models.TicketBatch
	err := d.Bun.NewSelect().
		Model(&batch).
		Where("batch_id = ?", batchID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (d *DB) ListBatches(ctx context.Context, from, to *time.Time) ([]models.TicketBatch, error) {
	var batches []models.TicketBatch
	q := d.Bun.NewSelect().Model(&batches).Order("event_date ASC")
	if from != nil {
		q = q.Where("event_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("event_date <= ?", *to)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return batches, nil
}

// Reserve decrements remaining_quantity and records a pending reservation in
// one transaction. The decrement is a compare-and-swap: it only lands when
// enough quantity remains and the batch is not cancelled, so two concurrent
// reservations on the last unit can never both succeed.
func (d *DB) Reserve(ctx context.Context, batchID string, count int, reservation models.Reservation) (*models.Reservation, error) {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketBatch)(nil)).
			Set("remaining_quantity = remaining_quantity - ?", count).
			Where("batch_id = ?", batchID).
			Where("status <> ?", models.BatchCancelled).
			Where("remaining_quantity >= ?", count).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return classifyReserveFailure(ctx, tx, batchID)
		}

		if _, err := tx.NewInsert().Model(&reservation).Exec(ctx); err != nil {
			return err
		}

		var batch models.TicketBatch
		if err := tx.NewSelect().Model(&batch).Where("batch_id = ?", batchID).Scan(ctx); err != nil {
			return err
		}
		change := store.ReservationChange{Reservation: reservation, Batch: batch}
		return store.Append(ctx, tx, models.EventReserved, reservation.ReservationID, change, reservation.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func classifyReserveFailure(ctx context.Context, tx bun.Tx, batchID string) error {
	var batch models.TicketBatch
	err := tx.NewSelect().Model(&batch).Where("batch_id = ?", batchID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrBatchNotFound
	}
	if err != nil {
		return err
	}
	if batch.Status == models.BatchCancelled {
		return domain.ErrBatchCancelled
	}
	return domain.ErrInsufficientInventory
}

// Release re-credits a pending reservation back to its batch. Used both as
// purchase compensation and by the expiry janitor. Releasing a reservation
// that is no longer pending is a no-op.
func (d *DB) Release(ctx context.Context, reservationID string, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var reservation models.Reservation
		err := tx.NewSelect().
			Model(&reservation).
			Where("reservation_id = ?", reservationID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.NewUpdate().
			Model((*models.Reservation)(nil)).
			Set("status = ?", models.ReservationReleased).
			Where("reservation_id = ?", reservationID).
			Where("status = ?", models.ReservationPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		reservation.Status = models.ReservationReleased

		if _, err := tx.NewUpdate().
			Model((*models.TicketBatch)(nil)).
			Set("remaining_quantity = remaining_quantity + ?", reservation.Count).
			Where("batch_id = ?", reservation.BatchID).
			Exec(ctx); err != nil {
			return err
		}

		var batch models.TicketBatch
		if err := tx.NewSelect().Model(&batch).Where("batch_id = ?", reservation.BatchID).Scan(ctx); err != nil {
			return err
		}
		change := store.ReservationChange{Reservation: reservation, Batch: batch}
		return store.Append(ctx, tx, models.EventReservationFreed, reservationID, change, now)
	})
}

// ExpiredReservations lists pending reservations past their lease window.
func (d *DB) ExpiredReservations(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var expired []models.Reservation
	err := d.Bun.NewSelect().
		Model(&expired).
		Where("status = ?", models.ReservationPending).
		Where("expires_at <= ?", now).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (d *DB) SetStatus(ctx context.Context, batchID, status string, at time.Time) (*models.TicketBatch, error) {
	var batch models.TicketBatch
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketBatch)(nil)).
			Set("status = ?", status).
			Where("batch_id = ?", batchID).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrBatchNotFound
		}
		if err := tx.NewSelect().Model(&batch).Where("batch_id = ?", batchID).Scan(ctx); err != nil {
			return err
		}
		eventType := models.EventBatchStatusSet
		if status == models.BatchCancelled {
			eventType = models.EventBatchCancelled
		}
		return store.Append(ctx, tx, eventType, batchID, batch, at)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
