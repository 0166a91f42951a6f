package instance

import (
	"context"
	"fmt"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/utils"
)

type DBLayer interface {
	GetInstance(ctx context.Context, instanceID string) (*models.TicketInstance, error)
	GetBatch(ctx context.Context, batchID string) (*models.TicketBatch, error)
	InsertInstances(ctx context.Context, reservation models.Reservation, instances []models.TicketInstance, at time.Time) error
	MarkListed(ctx context.Context, instanceID, ownerID string, price int64, at time.Time) (*models.TicketInstance, error)
	Transfer(ctx context.Context, instanceID string, price int64, buyer models.Principal, at time.Time) (*models.TicketInstance, error)
	Relist(ctx context.Context, prev models.TicketInstance, at time.Time) error
	MarkUsed(ctx context.Context, instanceID string, at time.Time) (*models.TicketInstance, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.TicketInstance, error)
	ListResales(ctx context.Context, excludeOwnerID string) ([]models.TicketInstance, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.TicketInstance, error)
}

// Service is the TicketInstanceLedger: individual ticket records, their
// ownership, and the status state machine. Instances are only ever created
// from a consumed reservation and are never deleted.
type Service struct {
	DB     DBLayer
	Clock  clock.Clock
	Logger *logger.Logger
	Fees   FeePolicy
}

func NewService(db DBLayer, clk clock.Clock, log *logger.Logger, fees FeePolicy) *Service {
	return &Service{DB: db, Clock: clk, Logger: log, Fees: fees}
}

// Materialize creates exactly reservation.Count instances for the buyer.
// The caller (transfer engine) has already consumed the reservation; a replay
// of the same reservation id fails at that consume step, so this cannot
// double-create.
func (s *Service) Materialize(ctx context.Context, reservation models.Reservation, buyer models.Principal) ([]models.TicketInstance, error) {
	if buyer.Role != models.RoleDistributor {
		return nil, fmt.Errorf("only distributors purchase from a batch: %w", domain.ErrWrongRole)
	}

	batch, err := s.DB.GetBatch(ctx, reservation.BatchID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	instances := make([]models.TicketInstance, 0, reservation.Count)
	for i := 0; i < reservation.Count; i++ {
		instances = append(instances, models.TicketInstance{
			InstanceID:       utils.NewInstanceID(),
			BatchID:          batch.BatchID,
			EventID:          batch.EventID,
			OriginalIssuerID: batch.IssuerID,
			CurrentOwnerID:   buyer.ID,
			CurrentOwnerRole: models.RoleDistributor,
			Status:           models.InstancePurchased,
			UnitPrice:        batch.UnitPrice,
			PurchaseDate:     now,
		})
	}

	if err := s.DB.InsertInstances(ctx, reservation, instances, now); err != nil {
		return nil, fmt.Errorf("materialize reservation %s: %w", reservation.ReservationID, err)
	}
	s.Logger.LogTransfer("MATERIALIZE", reservation.ReservationID,
		fmt.Sprintf("%d instances for %s", len(instances), buyer.ID))
	return instances, nil
}

func (s *Service) ListForResale(ctx context.Context, owner models.Principal, instanceID string, price int64) (*models.TicketInstance, error) {
	if price <= 0 {
		return nil, fmt.Errorf("resale price must be positive: %w", domain.ErrInvalidPrice)
	}

	instance, err := s.DB.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.CurrentOwnerID != owner.ID {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrNotOwner)
	}
	if instance.Status != models.InstancePurchased {
		return nil, fmt.Errorf("instance %s is %s: %w", instanceID, instance.Status, domain.ErrInvalidState)
	}

	listed, err := s.DB.MarkListed(ctx, instanceID, owner.ID, price, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	s.Logger.LogTransfer("LIST", instanceID, fmt.Sprintf("listed at %d by %s", price, owner.ID))
	return listed, nil
}

// TransferOwnership moves a listed instance to buyer and returns the
// settlement breakdown computed from the listing price. The commission part
// is routed to the original issuer regardless of resale depth.
func (s *Service) TransferOwnership(ctx context.Context, instanceID string, buyer models.Principal) (*models.TicketInstance, *SettlementBreakdown, error) {
	if buyer.Role != models.RoleDistributor {
		return nil, nil, fmt.Errorf("only distributors buy resales: %w", domain.ErrWrongRole)
	}

	instance, err := s.DB.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if instance.Status != models.InstanceListedForResale {
		return nil, nil, fmt.Errorf("instance %s is %s: %w", instanceID, instance.Status, domain.ErrNotListed)
	}
	if instance.CurrentOwnerID == buyer.ID {
		return nil, nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrSelfPurchase)
	}

	commission, platformFee, net := s.Fees.Split(instance.ResalePrice)
	breakdown := &SettlementBreakdown{
		ResalePrice:         instance.ResalePrice,
		Commission:          commission,
		PlatformFee:         platformFee,
		NetToSeller:         net,
		CommissionRecipient: instance.OriginalIssuerID,
		SellerID:            instance.CurrentOwnerID,
	}

	transferred, err := s.DB.Transfer(ctx, instanceID, instance.ResalePrice, buyer, s.Clock.Now())
	if err != nil {
		return nil, nil, err
	}
	s.Logger.LogTransfer("RESALE", instanceID,
		fmt.Sprintf("%s -> %s at %d", breakdown.SellerID, buyer.ID, breakdown.ResalePrice))
	return transferred, breakdown, nil
}

// Snapshot returns the instance for compensation bookkeeping.
func (s *Service) Snapshot(ctx context.Context, instanceID string) (*models.TicketInstance, error) {
	return s.DB.GetInstance(ctx, instanceID)
}

// Relist restores a listing after a failed settlement commit.
func (s *Service) Relist(ctx context.Context, prev models.TicketInstance) error {
	if err := s.DB.Relist(ctx, prev, s.Clock.Now()); err != nil {
		return err
	}
	s.Logger.LogTransfer("RELIST", prev.InstanceID, "transfer compensated, listing restored")
	return nil
}

// MarkUsed performs the terminal transition. Only the redemption validator
// calls this.
func (s *Service) MarkUsed(ctx context.Context, instanceID string) (*models.TicketInstance, error) {
	used, err := s.DB.MarkUsed(ctx, instanceID, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	s.Logger.LogRedemption("USED", instanceID, "terminal transition applied")
	return used, nil
}

func (s *Service) Get(ctx context.Context, instanceID string) (*models.TicketInstance, error) {
	return s.DB.GetInstance(ctx, instanceID)
}

func (s *Service) OwnedBy(ctx context.Context, ownerID string) ([]models.TicketInstance, error) {
	return s.DB.ListByOwner(ctx, ownerID)
}

func (s *Service) ResalesExcluding(ctx context.Context, ownerID string) ([]models.TicketInstance, error) {
	return s.DB.ListResales(ctx, ownerID)
}

func (s *Service) ByBatch(ctx context.Context, batchID string) ([]models.TicketInstance, error) {
	return s.DB.ListByBatch(ctx, batchID)
}
