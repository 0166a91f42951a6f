package redemption

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

// AnyEvent marks an access entry that applies to every event, used for
// globally registered POS operators.
const AnyEvent = "*"

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetGate(ctx context.Context, eventID string) (*models.EventGate, error) {
	var gate models.EventGate
	err := d.Bun.NewSelect().
		Model(&gate).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnknownEvent
	}
	if err != nil {
		return nil, err
	}
	return &gate, nil
}

// GrantAccess is idempotent: granting the same entry twice is a no-op.
func (d *DB) GrantAccess(ctx context.Context, entry models.EventAccessEntry, at time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.EventAccessEntry)(nil)).
			Where("event_id = ? AND principal_id = ? AND kind = ?", entry.EventID, entry.PrincipalID, entry.Kind).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.NewInsert().Model(&entry).Exec(ctx); err != nil {
			return err
		}
		return store.Append(ctx, tx, models.EventAccessGranted, entry.EventID, entry, at)
	})
}

func (d *DB) HasAccess(ctx context.Context, eventID, principalID, kind string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.EventAccessEntry)(nil)).
		Where("principal_id = ? AND kind = ?", principalID, kind).
		Where("event_id IN (?, ?)", eventID, AnyEvent).
		Exists(ctx)
}
