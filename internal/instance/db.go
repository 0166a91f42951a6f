package instance

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

func (d *DB) GetInstance(ctx context.Context, instanceID string) (*models.TicketInstance, error) {
	var instance models.TicketInstance
	err := d.Bun.NewSelect().
		Model(&instance).
		Where("instance_id = ?", instanceID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
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

// InsertInstances consumes the reservation and creates its instances in one
// transaction. The pending -> consumed CAS is the replay guard: a reservation
// id submitted twice materializes once and conflicts the second time, and no
// observer can see a consumed reservation without its instances.
func (d *DB) InsertInstances(ctx context.Context, reservation models.Reservation, instances []models.TicketInstance, at time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Reservation)(nil)).
			Set("status = ?", models.ReservationConsumed).
			Where("reservation_id = ?", reservation.ReservationID).
			Where("status = ?", models.ReservationPending).
			Where("expires_at > ?", at).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return classifyConsumeFailure(ctx, tx, reservation.ReservationID)
		}

		if _, err := tx.NewInsert().Model(&instances).Exec(ctx); err != nil {
			return err
		}
		consumed := reservation
		consumed.Status = models.ReservationConsumed
		mat := store.Materialization{Reservation: consumed, Instances: instances}
		return store.Append(ctx, tx, models.EventMaterialized, reservation.ReservationID, mat, at)
	})
}

func classifyConsumeFailure(ctx context.Context, tx bun.Tx, reservationID string) error {
	var reservation models.Reservation
	err := tx.NewSelect().Model(&reservation).Where("reservation_id = ?", reservationID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrReservationExpired
	}
	if err != nil {
		return err
	}
	if reservation.Status == models.ReservationConsumed {
		return domain.ErrReservationConsumed
	}
	return domain.ErrReservationExpired
}

// MarkListed transitions Purchased -> ListedForResale under a CAS on both
// status and owner.
func (d *DB) MarkListed(ctx context.Context, instanceID, ownerID string, price int64, at time.Time) (*models.TicketInstance, error) {
	var instance models.TicketInstance
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketInstance)(nil)).
			Set("status = ?", models.InstanceListedForResale).
			Set("resale_price = ?", price).
			Set("resale_listed_at = ?", at).
			Where("instance_id = ?", instanceID).
			Where("current_owner_id = ?", ownerID).
			Where("status = ?", models.InstancePurchased).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrInvalidState
		}
		if err := tx.NewSelect().Model(&instance).Where("instance_id = ?", instanceID).Scan(ctx); err != nil {
			return err
		}
		return store.Append(ctx, tx, models.EventListedForResale, instanceID, instance, at)
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// Transfer moves a listed instance to a new owner. The CAS pins the listing
// state and price observed during validation; a concurrent relist or a second
// buyer makes rows == 0.
func (d *DB) Transfer(ctx context.Context, instanceID string, price int64, buyer models.Principal, at time.Time) (*models.TicketInstance, error) {
	var instance models.TicketInstance
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketInstance)(nil)).
			Set("current_owner_id = ?", buyer.ID).
			Set("current_owner_role = ?", buyer.Role).
			Set("status = ?", models.InstancePurchased).
			Set("purchase_date = ?", at).
			Set("resale_price = NULL").
			Set("resale_listed_at = NULL").
			Where("instance_id = ?", instanceID).
			Where("status = ?", models.InstanceListedForResale).
			Where("resale_price = ?", price).
			Where("current_owner_id <> ?", buyer.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return classifyTransferFailure(ctx, tx, instanceID, buyer.ID)
		}
		if err := tx.NewSelect().Model(&instance).Where("instance_id = ?", instanceID).Scan(ctx); err != nil {
			return err
		}
		return store.Append(ctx, tx, models.EventTransferred, instanceID, instance, at)
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func classifyTransferFailure(ctx context.Context, tx bun.Tx, instanceID, buyerID string) error {
	var instance models.TicketInstance
	err := tx.NewSelect().Model(&instance).Where("instance_id = ?", instanceID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	if instance.CurrentOwnerID == buyerID {
		return domain.ErrSelfPurchase
	}
	return domain.ErrNotListed
}

// Relist restores a listing from its pre-transfer snapshot. Compensation path
// for a failed settlement commit.
func (d *DB) Relist(ctx context.Context, prev models.TicketInstance, at time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketInstance)(nil)).
			Set("current_owner_id = ?", prev.CurrentOwnerID).
			Set("current_owner_role = ?", prev.CurrentOwnerRole).
			Set("status = ?", models.InstanceListedForResale).
			Set("purchase_date = ?", prev.PurchaseDate).
			Set("resale_price = ?", prev.ResalePrice).
			Set("resale_listed_at = ?", prev.ResaleListedAt).
			Where("instance_id = ?", prev.InstanceID).
			Where("status <> ?", models.InstanceUsed).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// Already redeemed. The projection stays Used and the log must
			// not record a listing that never took effect.
			return nil
		}
		restored := prev
		restored.Status = models.InstanceListedForResale
		return store.Append(ctx, tx, models.EventListedForResale, prev.InstanceID, restored, at)
	})
}

// MarkUsed is the terminal transition. The CAS on status makes concurrent
// redeem attempts resolve to exactly one success.
func (d *DB) MarkUsed(ctx context.Context, instanceID string, at time.Time) (*models.TicketInstance, error) {
	var instance models.TicketInstance
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketInstance)(nil)).
			Set("status = ?", models.InstanceUsed).
			Set("used_at = ?", at).
			Where("instance_id = ?", instanceID).
			Where("status = ?", models.InstancePurchased).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return classifyRedeemFailure(ctx, tx, instanceID)
		}
		if err := tx.NewSelect().Model(&instance).Where("instance_id = ?", instanceID).Scan(ctx); err != nil {
			return err
		}
		return store.Append(ctx, tx, models.EventRedeemed, instanceID, instance, at)
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func classifyRedeemFailure(ctx context.Context, tx bun.Tx, instanceID string) error {
	var instance models.TicketInstance
	err := tx.NewSelect().Model(&instance).Where("instance_id = ?", instanceID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	switch instance.Status {
	case models.InstanceUsed:
		return domain.ErrAlreadyUsed
	case models.InstanceListedForResale:
		return domain.ErrNotRedeemable
	default:
		return domain.ErrInvalidState
	}
}

func (d *DB) ListByOwner(ctx context.Context, ownerID string) ([]models.TicketInstance, error) {
	var instances []models.TicketInstance
	err := d.Bun.NewSelect().
		Model(&instances).
		Where("current_owner_id = ?", ownerID).
		Order("purchase_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// ListResales returns instances listed for resale, excluding the caller's own
// listings.
func (d *DB) ListResales(ctx context.Context, excludeOwnerID string) ([]models.TicketInstance, error) {
	var instances []models.TicketInstance
	q := d.Bun.NewSelect().
		Model(&instances).
		Where("status = ?", models.InstanceListedForResale).
		Order("resale_listed_at DESC")
	if excludeOwnerID != "" {
		q = q.Where("current_owner_id <> ?", excludeOwnerID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return instances, nil
}

func (d *DB) ListByBatch(ctx context.Context, batchID string) ([]models.TicketInstance, error) {
	var instances []models.TicketInstance
	err := d.Bun.NewSelect().
		Model(&instances).
		Where("batch_id = ?", batchID).
		Order("purchase_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}
