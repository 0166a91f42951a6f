package instance_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/instance"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/store"
)

func setupTestDB(t *testing.T) (*instance.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketBatch)(nil),
		(*models.TicketInstance)(nil),
		(*models.Reservation)(nil),
		(*models.LedgerEvent)(nil),
		(*models.EventGate)(nil),
		(*models.EventAccessEntry)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	return &instance.DB{Bun: bunDB}, bunDB
}

func seedReservation(t *testing.T, bunDB *bun.DB, id string, status string, expiresAt time.Time) models.Reservation {
	t.Helper()
	reservation := models.Reservation{
		ReservationID: id,
		BatchID:       "bat_1",
		Count:         2,
		Status:        status,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := bunDB.NewInsert().Model(&reservation).Exec(context.Background())
	assert.NoError(t, err)
	return reservation
}

func seedInstance(t *testing.T, bunDB *bun.DB, id, ownerID, status string, resalePrice int64) models.TicketInstance {
	t.Helper()
	now := time.Now().UTC()
	inst := models.TicketInstance{
		InstanceID:       id,
		BatchID:          "bat_1",
		EventID:          "evt_1",
		OriginalIssuerID: "sup_1",
		CurrentOwnerID:   ownerID,
		CurrentOwnerRole: models.RoleDistributor,
		Status:           status,
		UnitPrice:        2500,
		PurchaseDate:     now,
	}
	if status == models.InstanceListedForResale {
		inst.ResalePrice = resalePrice
		inst.ResaleListedAt = &now
	}
	_, err := bunDB.NewInsert().Model(&inst).Exec(context.Background())
	assert.NoError(t, err)
	return inst
}

func twoInstances() []models.TicketInstance {
	now := time.Now().UTC()
	build := func(id string) models.TicketInstance {
		return models.TicketInstance{
			InstanceID:       id,
			BatchID:          "bat_1",
			EventID:          "evt_1",
			OriginalIssuerID: "sup_1",
			CurrentOwnerID:   "dist_1",
			CurrentOwnerRole: models.RoleDistributor,
			Status:           models.InstancePurchased,
			UnitPrice:        2500,
			PurchaseDate:     now,
		}
	}
	return []models.TicketInstance{build("tkt_1"), build("tkt_2")}
}

func TestInsertInstancesConsumesReservation(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	reservation := seedReservation(t, bunDB, "rsv_1", models.ReservationPending, now.Add(5*time.Minute))

	err := instanceDB.InsertInstances(ctx, reservation, twoInstances(), now)
	assert.NoError(t, err)

	var consumed models.Reservation
	err = bunDB.NewSelect().Model(&consumed).Where("reservation_id = ?", "rsv_1").Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, models.ReservationConsumed, consumed.Status)

	got, err := instanceDB.GetInstance(ctx, "tkt_1")
	assert.NoError(t, err)
	assert.Equal(t, models.InstancePurchased, got.Status)
	assert.Equal(t, "dist_1", got.CurrentOwnerID)
}

func TestInsertInstancesReplayConflicts(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	reservation := seedReservation(t, bunDB, "rsv_1", models.ReservationPending, now.Add(5*time.Minute))

	assert.NoError(t, instanceDB.InsertInstances(ctx, reservation, twoInstances(), now))

	// Submitting the same reservation again conflicts instead of
	// double-creating.
	replay := []models.TicketInstance{
		{InstanceID: "tkt_3", BatchID: "bat_1", EventID: "evt_1", OriginalIssuerID: "sup_1",
			CurrentOwnerID: "dist_1", CurrentOwnerRole: models.RoleDistributor,
			Status: models.InstancePurchased, UnitPrice: 2500, PurchaseDate: now},
	}
	err := instanceDB.InsertInstances(ctx, reservation, replay, now)
	assert.ErrorIs(t, err, domain.ErrReservationConsumed)

	_, err = instanceDB.GetInstance(ctx, "tkt_3")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestInsertInstancesExpiredReservation(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	reservation := seedReservation(t, bunDB, "rsv_1", models.ReservationPending, now.Add(-time.Minute))

	err := instanceDB.InsertInstances(ctx, reservation, twoInstances(), now)
	assert.ErrorIs(t, err, domain.ErrReservationExpired)
}

func TestMarkListed(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstancePurchased, 0)

	listed, err := instanceDB.MarkListed(ctx, "tkt_1", "dist_1", 3000, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, models.InstanceListedForResale, listed.Status)
	assert.Equal(t, int64(3000), listed.ResalePrice)
	assert.NotNil(t, listed.ResaleListedAt)

	// Listing an already listed ticket fails the CAS.
	_, err = instanceDB.MarkListed(ctx, "tkt_1", "dist_1", 3500, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// So does listing under the wrong owner.
	seedInstance(t, bunDB, "tkt_2", "dist_1", models.InstancePurchased, 0)
	_, err = instanceDB.MarkListed(ctx, "tkt_2", "dist_other", 3000, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTransfer(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstanceListedForResale, 3000)
	buyer := models.Principal{ID: "dist_2", Role: models.RoleDistributor}

	transferred, err := instanceDB.Transfer(ctx, "tkt_1", 3000, buyer, time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, "dist_2", transferred.CurrentOwnerID)
	assert.Equal(t, models.InstancePurchased, transferred.Status)
	assert.Equal(t, int64(0), transferred.ResalePrice)
	assert.Nil(t, transferred.ResaleListedAt)

	// The issuer lineage survives the ownership change.
	assert.Equal(t, "sup_1", transferred.OriginalIssuerID)
}

func TestTransferFailures(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := instanceDB.Transfer(ctx, "missing", 3000, models.Principal{ID: "dist_2"}, now)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstanceListedForResale, 3000)
	_, err = instanceDB.Transfer(ctx, "tkt_1", 3000, models.Principal{ID: "dist_1", Role: models.RoleDistributor}, now)
	assert.ErrorIs(t, err, domain.ErrSelfPurchase)

	seedInstance(t, bunDB, "tkt_2", "dist_1", models.InstancePurchased, 0)
	_, err = instanceDB.Transfer(ctx, "tkt_2", 3000, models.Principal{ID: "dist_2", Role: models.RoleDistributor}, now)
	assert.ErrorIs(t, err, domain.ErrNotListed)

	// A price that no longer matches the listing fails too: the buyer saw a
	// stale listing.
	_, err = instanceDB.Transfer(ctx, "tkt_1", 9999, models.Principal{ID: "dist_2", Role: models.RoleDistributor}, now)
	assert.ErrorIs(t, err, domain.ErrNotListed)
}

func TestRelistRestoresListing(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	prev := seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstanceListedForResale, 3000)
	buyer := models.Principal{ID: "dist_2", Role: models.RoleDistributor}
	_, err := instanceDB.Transfer(ctx, "tkt_1", 3000, buyer, now)
	assert.NoError(t, err)

	assert.NoError(t, instanceDB.Relist(ctx, prev, now))

	restored, err := instanceDB.GetInstance(ctx, "tkt_1")
	assert.NoError(t, err)
	assert.Equal(t, "dist_1", restored.CurrentOwnerID)
	assert.Equal(t, models.InstanceListedForResale, restored.Status)
	assert.Equal(t, int64(3000), restored.ResalePrice)
}

func TestRelistAfterRedeemIsNoOp(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	// Drive the full flow through the ledgered operations so the log alone
	// can reconstruct the instance.
	reservation := seedReservation(t, bunDB, "rsv_1", models.ReservationPending, now.Add(5*time.Minute))
	assert.NoError(t, instanceDB.InsertInstances(ctx, reservation, twoInstances(), now))
	prev, err := instanceDB.MarkListed(ctx, "tkt_1", "dist_1", 3000, now)
	assert.NoError(t, err)
	_, err = instanceDB.Transfer(ctx, "tkt_1", 3000, models.Principal{ID: "dist_2", Role: models.RoleDistributor}, now)
	assert.NoError(t, err)
	_, err = instanceDB.MarkUsed(ctx, "tkt_1", now)
	assert.NoError(t, err)

	// The buyer redeemed before the compensation ran. The relist must not
	// touch the row and must not record a listing either.
	assert.NoError(t, instanceDB.Relist(ctx, *prev, now))

	got, err := instanceDB.GetInstance(ctx, "tkt_1")
	assert.NoError(t, err)
	assert.Equal(t, models.InstanceUsed, got.Status)
	assert.Equal(t, "dist_2", got.CurrentOwnerID)

	events, err := store.Events(ctx, bunDB)
	assert.NoError(t, err)
	assert.Equal(t, models.EventRedeemed, events[len(events)-1].EventType)

	// Replaying the log keeps the ticket redeemed.
	assert.NoError(t, store.Rebuild(ctx, bunDB))
	rebuilds, err := instanceDB.GetInstance(ctx, "tkt_1")
	assert.NoError(t, err)
	assert.Equal(t, models.InstanceUsed, rebuilds.Status)
	assert.Equal(t, "dist_2", rebuilds.CurrentOwnerID)
}

func TestMarkUsed(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstancePurchased, 0)

	used, err := instanceDB.MarkUsed(ctx, "tkt_1", now)
	assert.NoError(t, err)
	assert.Equal(t, models.InstanceUsed, used.Status)
	assert.NotNil(t, used.UsedAt)

	// Second redemption attempt conflicts.
	_, err = instanceDB.MarkUsed(ctx, "tkt_1", now)
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)

	// A listed ticket cannot be redeemed without being withdrawn first.
	seedInstance(t, bunDB, "tkt_2", "dist_1", models.InstanceListedForResale, 3000)
	_, err = instanceDB.MarkUsed(ctx, "tkt_2", now)
	assert.ErrorIs(t, err, domain.ErrNotRedeemable)

	_, err = instanceDB.MarkUsed(ctx, "missing", now)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestListQueries(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedInstance(t, bunDB, "tkt_1", "dist_1", models.InstancePurchased, 0)
	seedInstance(t, bunDB, "tkt_2", "dist_1", models.InstanceListedForResale, 3000)
	seedInstance(t, bunDB, "tkt_3", "dist_2", models.InstanceListedForResale, 4000)

	owned, err := instanceDB.ListByOwner(ctx, "dist_1")
	assert.NoError(t, err)
	assert.Len(t, owned, 2)

	// Resale browsing hides the caller's own listings.
	resales, err := instanceDB.ListResales(ctx, "dist_1")
	assert.NoError(t, err)
	assert.Len(t, resales, 1)
	assert.Equal(t, "tkt_3", resales[0].InstanceID)

	all, err := instanceDB.ListResales(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	byBatch, err := instanceDB.ListByBatch(ctx, "bat_1")
	assert.NoError(t, err)
	assert.Len(t, byBatch, 3)
}

func TestMutationsAppendLedgerEvents(t *testing.T) {
	instanceDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	reservation := seedReservation(t, bunDB, "rsv_1", models.ReservationPending, now.Add(5*time.Minute))
	assert.NoError(t, instanceDB.InsertInstances(ctx, reservation, twoInstances(), now))
	_, err := instanceDB.MarkListed(ctx, "tkt_1", "dist_1", 3000, now)
	assert.NoError(t, err)
	_, err = instanceDB.Transfer(ctx, "tkt_1", 3000, models.Principal{ID: "dist_2", Role: models.RoleDistributor}, now)
	assert.NoError(t, err)
	_, err = instanceDB.MarkUsed(ctx, "tkt_1", now)
	assert.NoError(t, err)

	events, err := store.Events(ctx, bunDB)
	assert.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, models.EventMaterialized, events[0].EventType)
	assert.Equal(t, models.EventListedForResale, events[1].EventType)
	assert.Equal(t, models.EventTransferred, events[2].EventType)
	assert.Equal(t, models.EventRedeemed, events[3].EventType)
}
