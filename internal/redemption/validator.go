package redemption

import (
	"context"
	"fmt"
	"time"

	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
)

type AccessDB interface {
	GetGate(ctx context.Context, eventID string) (*models.EventGate, error)
	GrantAccess(ctx context.Context, entry models.EventAccessEntry, at time.Time) error
	HasAccess(ctx context.Context, eventID, principalID, kind string) (bool, error)
}

type InstanceLedger interface {
	Get(ctx context.Context, instanceID string) (*models.TicketInstance, error)
	MarkUsed(ctx context.Context, instanceID string) (*models.TicketInstance, error)
}

type Locker interface {
	TryLock(ctx context.Context, instanceID, scannerID string) (bool, error)
	Unlock(ctx context.Context, instanceID, scannerID string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// Validator gates the terminal Used transition: scanner authorization,
// payload verification, then the check-and-set. All validation is
// side-effect-free and runs before any lock is taken.
type Validator struct {
	DB        AccessDB
	Instances InstanceLedger
	Lock      Locker
	QR        *QRGenerator
	Publisher Publisher
	Topic     string
	Clock     clock.Clock
	Logger    *logger.Logger
}

func NewValidator(db AccessDB, instances InstanceLedger, lock Locker, qr *QRGenerator, publisher Publisher, topic string, clk clock.Clock, log *logger.Logger) *Validator {
	return &Validator{
		DB:        db,
		Instances: instances,
		Lock:      lock,
		QR:        qr,
		Publisher: publisher,
		Topic:     topic,
		Clock:     clk,
		Logger:    log,
	}
}

func (v *Validator) Redeem(ctx context.Context, scanner models.Principal, instanceID, payload string) (*models.TicketInstance, error) {
	instance, err := v.Instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	gate, err := v.DB.GetGate(ctx, instance.EventID)
	if err != nil {
		return nil, err
	}

	authorized, err := v.DB.HasAccess(ctx, gate.EventID, scanner.ID, models.AccessKindScanner)
	if err != nil {
		return nil, fmt.Errorf("check scanner access: %w", err)
	}
	if !authorized {
		v.Logger.LogRedemption("DENY", instanceID, fmt.Sprintf("scanner %s not in event %s set", scanner.ID, gate.EventID))
		return nil, fmt.Errorf("scanner %s, event %s: %w", scanner.ID, gate.EventID, domain.ErrUnauthorizedScanner)
	}

	switch instance.Status {
	case models.InstanceUsed:
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrAlreadyUsed)
	case models.InstanceListedForResale:
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrNotRedeemable)
	case models.InstancePurchased:
	default:
		return nil, fmt.Errorf("instance %s is %s: %w", instanceID, instance.Status, domain.ErrInvalidState)
	}

	if !PayloadMatches(payload, instanceID, gate.Secret) {
		v.Logger.LogRedemption("DENY", instanceID, "payload mismatch")
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrInvalidPayload)
	}

	// Validation done; the only exclusive section is the terminal CAS.
	locked, err := v.Lock.TryLock(ctx, instanceID, scanner.ID)
	if err != nil {
		return nil, fmt.Errorf("redeem lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("instance %s held by concurrent redeem: %w", instanceID, domain.ErrAlreadyUsed)
	}

	used, err := v.Instances.MarkUsed(ctx, instanceID)
	if err != nil {
		_ = v.Lock.Unlock(ctx, instanceID, scanner.ID)
		return nil, err
	}

	if pubErr := v.Publisher.Publish(ctx, v.Topic, instanceID, used); pubErr != nil {
		v.Logger.Error("KAFKA", fmt.Sprintf("publish ticket-redeemed: %v", pubErr))
	}
	v.Logger.LogRedemption("REDEEM", instanceID, fmt.Sprintf("by scanner %s", scanner.ID))
	return used, nil
}

// AddPOS registers a POS operator for every event of the issuer's venue.
func (v *Validator) AddPOS(ctx context.Context, issuer models.Principal, principalID string) error {
	if issuer.Role != models.RoleSupplier {
		return fmt.Errorf("only suppliers manage POS access: %w", domain.ErrWrongRole)
	}
	return v.grant(ctx, AnyEvent, principalID, models.AccessKindPOS)
}

func (v *Validator) AddPOSForEvent(ctx context.Context, issuer models.Principal, eventID, principalID string) error {
	if err := v.requireIssuer(ctx, issuer, eventID); err != nil {
		return err
	}
	return v.grant(ctx, eventID, principalID, models.AccessKindPOS)
}

func (v *Validator) AddScanner(ctx context.Context, issuer models.Principal, eventID, principalID string) error {
	if err := v.requireIssuer(ctx, issuer, eventID); err != nil {
		return err
	}
	return v.grant(ctx, eventID, principalID, models.AccessKindScanner)
}

func (v *Validator) requireIssuer(ctx context.Context, issuer models.Principal, eventID string) error {
	gate, err := v.DB.GetGate(ctx, eventID)
	if err != nil {
		return err
	}
	if gate.IssuerID != issuer.ID {
		return fmt.Errorf("event %s belongs to another issuer: %w", eventID, domain.ErrNotIssuer)
	}
	return nil
}

func (v *Validator) grant(ctx context.Context, eventID, principalID, kind string) error {
	entry := models.EventAccessEntry{
		EventID:     eventID,
		PrincipalID: principalID,
		Kind:        kind,
		CreatedAt:   v.Clock.Now(),
	}
	if err := v.DB.GrantAccess(ctx, entry, entry.CreatedAt); err != nil {
		return fmt.Errorf("grant %s access: %w", kind, err)
	}
	v.Logger.LogRedemption("GRANT", eventID, fmt.Sprintf("%s as %s", principalID, kind))
	return nil
}

// PassFor renders the owner's QR pass for an instance.
func (v *Validator) PassFor(ctx context.Context, owner models.Principal, instanceID string) ([]byte, error) {
	instance, err := v.Instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.CurrentOwnerID != owner.ID {
		return nil, fmt.Errorf("instance %s: %w", instanceID, domain.ErrNotOwner)
	}
	gate, err := v.DB.GetGate(ctx, instance.EventID)
	if err != nil {
		return nil, err
	}
	pass := Pass{
		InstanceID: instanceID,
		Payload:    ExpectedPayload(instanceID, gate.Secret),
	}
	return v.QR.GeneratePass(pass)
}
