package batch

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/utils"
)

type DBLayer interface {
	CreateBatch(ctx context.Context, batch models.TicketBatch, gate models.EventGate) error
	GetBatch(ctx context.Context, batchID string) (*models.TicketBatch, error)
	ListBatches(ctx context.Context, from, to *time.Time) ([]models.TicketBatch, error)
	Reserve(ctx context.Context, batchID string, count int, reservation models.Reservation) (*models.Reservation, error)
	Release(ctx context.Context, reservationID string, now time.Time) error
	ExpiredReservations(ctx context.Context, now time.Time) ([]models.Reservation, error)
	SetStatus(ctx context.Context, batchID, status string, at time.Time) (*models.TicketBatch, error)
}

type LeaseKeeper interface {
	Acquire(ctx context.Context, reservationID, batchID string, ttl time.Duration) error
	Alive(ctx context.Context, reservationID string) (bool, error)
	Drop(ctx context.Context, reservationID string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// Service is the BatchInventory: it owns bulk batches and their
// remaining-quantity counters. Quantity only ever decreases through Reserve
// and is only re-credited by releasing an unconsumed reservation.
type Service struct {
	DB        DBLayer
	Lease     LeaseKeeper
	Publisher Publisher
	Topic     string
	Clock     clock.Clock
	Logger    *logger.Logger
	TTL       time.Duration
}

func NewService(db DBLayer, lease LeaseKeeper, publisher Publisher, topic string, clk clock.Clock, log *logger.Logger, ttl time.Duration) *Service {
	return &Service{DB: db, Lease: lease, Publisher: publisher, Topic: topic, Clock: clk, Logger: log, TTL: ttl}
}

type CreateSpec struct {
	EventID       string    `json:"event_id"`
	Name          string    `json:"name"`
	Venue         string    `json:"venue"`
	Description   string    `json:"description"`
	EventDate     time.Time `json:"event_date"`
	UnitPrice     int64     `json:"unit_price"`
	TotalQuantity int       `json:"total_quantity"`
}

func (s *Service) Create(ctx context.Context, issuer models.Principal, spec CreateSpec) (*models.TicketBatch, error) {
	if issuer.Role != models.RoleSupplier {
		return nil, fmt.Errorf("only suppliers issue batches: %w", domain.ErrWrongRole)
	}
	if spec.TotalQuantity < 1 {
		return nil, fmt.Errorf("total quantity must be at least 1: %w", domain.ErrInvalidSpec)
	}
	if spec.UnitPrice < 0 {
		return nil, fmt.Errorf("unit price must not be negative: %w", domain.ErrInvalidSpec)
	}
	if spec.EventDate.IsZero() {
		return nil, fmt.Errorf("event date is required: %w", domain.ErrInvalidSpec)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrInvalidSpec)
	}

	now := s.Clock.Now()
	batch := models.TicketBatch{
		BatchID:           utils.NewBatchID(),
		EventID:           spec.EventID,
		IssuerID:          issuer.ID,
		Name:              spec.Name,
		Venue:             spec.Venue,
		Description:       spec.Description,
		EventDate:         spec.EventDate,
		UnitPrice:         spec.UnitPrice,
		TotalQuantity:     spec.TotalQuantity,
		RemainingQuantity: spec.TotalQuantity,
		Status:            models.BatchAvailable,
		CreatedAt:         now,
	}
	// Without an explicit event the batch is its own event.
	if batch.EventID == "" {
		batch.EventID = batch.BatchID
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate event secret: %w", err)
	}
	gate := models.EventGate{
		EventID:   batch.EventID,
		IssuerID:  issuer.ID,
		Secret:    secret,
		CreatedAt: now,
	}

	if err := s.DB.CreateBatch(ctx, batch, gate); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	s.Logger.LogBatch("CREATE", batch.BatchID, fmt.Sprintf("%d tickets for %s", batch.TotalQuantity, batch.Name))
	if pubErr := s.Publisher.Publish(ctx, s.Topic, batch.BatchID, batch); pubErr != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish batch-created: %v", pubErr))
	}
	return &batch, nil
}

// Reserve takes a short-lived hold on count units. The decrement happens here;
// the matching instances are created when the transfer engine consumes the
// reservation, or the hold lapses and the janitor re-credits it.
func (s *Service) Reserve(ctx context.Context, batchID string, count int) (*models.Reservation, error) {
	if count < 1 {
		return nil, fmt.Errorf("reserve count must be at least 1: %w", domain.ErrInvalidQuantity)
	}

	now := s.Clock.Now()
	reservation := models.Reservation{
		ReservationID: utils.NewReservationID(),
		BatchID:       batchID,
		Count:         count,
		Status:        models.ReservationPending,
		ExpiresAt:     now.Add(s.TTL),
		CreatedAt:     now,
	}

	created, err := s.DB.Reserve(ctx, batchID, count, reservation)
	if err != nil {
		return nil, err
	}

	if err := s.Lease.Acquire(ctx, created.ReservationID, batchID, s.TTL); err != nil {
		// Lease bookkeeping failed; give the quantity back rather than hold
		// inventory we cannot track.
		_ = s.DB.Release(ctx, created.ReservationID, now)
		return nil, fmt.Errorf("acquire reservation lease: %w", err)
	}

	s.Logger.LogBatch("RESERVE", batchID, fmt.Sprintf("%d units held as %s", count, created.ReservationID))
	return created, nil
}

// LeaseAlive reports whether the reservation's redis lease still exists. A
// dead lease means the hold window lapsed even if the janitor has not yet
// re-credited the row.
func (s *Service) LeaseAlive(ctx context.Context, reservationID string) (bool, error) {
	alive, err := s.Lease.Alive(ctx, reservationID)
	if err != nil {
		return false, fmt.Errorf("check reservation lease: %w", err)
	}
	return alive, nil
}

func (s *Service) Release(ctx context.Context, reservationID string) error {
	if err := s.DB.Release(ctx, reservationID, s.Clock.Now()); err != nil {
		return err
	}
	return s.Lease.Drop(ctx, reservationID)
}

func (s *Service) Cancel(ctx context.Context, issuer models.Principal, batchID string) (*models.TicketBatch, error) {
	return s.setStatus(ctx, issuer, batchID, models.BatchCancelled)
}

// SetStatus updates the advisory status. It never gates purchases except for
// Cancelled, and never touches quantities or issued instances.
func (s *Service) SetStatus(ctx context.Context, issuer models.Principal, batchID, status string) (*models.TicketBatch, error) {
	switch status {
	case models.BatchAvailable, models.BatchSoldOut, models.BatchListedForResaleOnly, models.BatchCancelled:
	default:
		return nil, fmt.Errorf("unknown batch status %q: %w", status, domain.ErrInvalidSpec)
	}
	return s.setStatus(ctx, issuer, batchID, status)
}

func (s *Service) setStatus(ctx context.Context, issuer models.Principal, batchID, status string) (*models.TicketBatch, error) {
	batch, err := s.DB.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.IssuerID != issuer.ID {
		return nil, fmt.Errorf("batch %s belongs to another issuer: %w", batchID, domain.ErrNotIssuer)
	}

	updated, err := s.DB.SetStatus(ctx, batchID, status, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	s.Logger.LogBatch("STATUS", batchID, status)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, batchID string) (*models.TicketBatch, error) {
	return s.DB.GetBatch(ctx, batchID)
}

func (s *Service) List(ctx context.Context, from, to *time.Time) ([]models.TicketBatch, error) {
	return s.DB.ListBatches(ctx, from, to)
}

// ReleaseExpired re-credits every pending reservation past its window.
func (s *Service) ReleaseExpired(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	expired, err := s.DB.ExpiredReservations(ctx, now)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, reservation := range expired {
		if err := s.DB.Release(ctx, reservation.ReservationID, now); err != nil {
			s.Logger.Error("BATCH", fmt.Sprintf("release expired %s: %v", reservation.ReservationID, err))
			continue
		}
		_ = s.Lease.Drop(ctx, reservation.ReservationID)
		released++
	}
	if released > 0 {
		s.Logger.LogBatch("JANITOR", "-", fmt.Sprintf("released %d expired reservations", released))
	}
	return released, nil
}

// StartJanitor runs ReleaseExpired on a ticker until ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReleaseExpired(ctx); err != nil {
					s.Logger.Error("BATCH", fmt.Sprintf("janitor pass failed: %v", err))
				}
			}
		}
	}()
}
