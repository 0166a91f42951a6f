package transfer

import (
	"context"
	"fmt"

	"ticket-ledger/internal/config"
	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/instance"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
)

type Inventory interface {
	Reserve(ctx context.Context, batchID string, count int) (*models.Reservation, error)
	LeaseAlive(ctx context.Context, reservationID string) (bool, error)
	Release(ctx context.Context, reservationID string) error
}

type InstanceLedger interface {
	Materialize(ctx context.Context, reservation models.Reservation, buyer models.Principal) ([]models.TicketInstance, error)
	ListForResale(ctx context.Context, owner models.Principal, instanceID string, price int64) (*models.TicketInstance, error)
	TransferOwnership(ctx context.Context, instanceID string, buyer models.Principal) (*models.TicketInstance, *instance.SettlementBreakdown, error)
	Snapshot(ctx context.Context, instanceID string) (*models.TicketInstance, error)
	Relist(ctx context.Context, prev models.TicketInstance) error
}

// Settlement is the external commit collaborator. Commit is called after the
// local transfer is validated and applied; a commit error triggers
// compensation of the local state.
type Settlement interface {
	Commit(ctx context.Context, instanceID string, breakdown instance.SettlementBreakdown) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// Engine composes BatchInventory and TicketInstanceLedger into the atomic
// purchase operations. It owns the compensation contract: any failure after a
// reservation succeeds releases the reservation; a settlement failure after a
// resale transfer restores the listing.
type Engine struct {
	Batches    Inventory
	Instances  InstanceLedger
	Settlement Settlement
	Publisher  Publisher
	Topics     config.TopicConfig
	Logger     *logger.Logger
}

func NewEngine(batches Inventory, instances InstanceLedger, settlement Settlement, publisher Publisher, topics config.TopicConfig, log *logger.Logger) *Engine {
	return &Engine{
		Batches:    batches,
		Instances:  instances,
		Settlement: settlement,
		Publisher:  publisher,
		Topics:     topics,
		Logger:     log,
	}
}

// PurchaseFromBatch reserves count units and materializes the instances.
// Materialize consumes the reservation and creates the instances in one
// database transaction; any failure after the reserve releases the hold, so
// the decrement and its instances are never left observably inconsistent.
func (e *Engine) PurchaseFromBatch(ctx context.Context, buyer models.Principal, batchID string, count int) ([]models.TicketInstance, error) {
	reservation, err := e.Batches.Reserve(ctx, batchID, count)
	if err != nil {
		return nil, err
	}

	alive, err := e.Batches.LeaseAlive(ctx, reservation.ReservationID)
	if err == nil && !alive {
		err = fmt.Errorf("reservation %s lease lapsed: %w", reservation.ReservationID, domain.ErrReservationExpired)
	}
	if err != nil {
		e.release(ctx, reservation.ReservationID)
		return nil, err
	}

	instances, err := e.Instances.Materialize(ctx, *reservation, buyer)
	if err != nil {
		e.release(ctx, reservation.ReservationID)
		return nil, err
	}

	if pubErr := e.Publisher.Publish(ctx, e.Topics.TicketIssued, batchID, instances); pubErr != nil {
		e.Logger.Error("KAFKA", fmt.Sprintf("publish ticket-issued: %v", pubErr))
	}
	return instances, nil
}

func (e *Engine) release(ctx context.Context, reservationID string) {
	if err := e.Batches.Release(ctx, reservationID); err != nil {
		e.Logger.Error("TRANSFER", fmt.Sprintf("release of %s failed, janitor will retry: %v", reservationID, err))
	}
}

// ListForResale delegates to the ledger and announces the listing.
func (e *Engine) ListForResale(ctx context.Context, owner models.Principal, instanceID string, price int64) (*models.TicketInstance, error) {
	listed, err := e.Instances.ListForResale(ctx, owner, instanceID, price)
	if err != nil {
		return nil, err
	}
	if pubErr := e.Publisher.Publish(ctx, e.Topics.TicketListed, instanceID, listed); pubErr != nil {
		e.Logger.Error("KAFKA", fmt.Sprintf("publish ticket-listed: %v", pubErr))
	}
	return listed, nil
}

// PurchaseResale applies the local ownership transfer, then commits the
// settlement synchronously. A failed commit restores the listing so the
// ledger and the settlement layer never disagree about who owns the ticket.
func (e *Engine) PurchaseResale(ctx context.Context, buyer models.Principal, instanceID string) (*models.TicketInstance, *instance.SettlementBreakdown, error) {
	prev, err := e.Instances.Snapshot(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	transferred, breakdown, err := e.Instances.TransferOwnership(ctx, instanceID, buyer)
	if err != nil {
		return nil, nil, err
	}

	if err := e.Settlement.Commit(ctx, instanceID, *breakdown); err != nil {
		if relistErr := e.Instances.Relist(ctx, *prev); relistErr != nil {
			e.Logger.Error("TRANSFER", fmt.Sprintf("compensation relist %s failed: %v", instanceID, relistErr))
		}
		return nil, nil, fmt.Errorf("settlement commit for %s: %w", instanceID, err)
	}

	if pubErr := e.Publisher.Publish(ctx, e.Topics.TicketTransferred, instanceID, transferred); pubErr != nil {
		e.Logger.Error("KAFKA", fmt.Sprintf("publish ticket-transferred: %v", pubErr))
	}
	return transferred, breakdown, nil
}
