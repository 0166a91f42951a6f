package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticket-ledger/internal/domain"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/utils"
)

// Directory resolves a principal id to its role and display attributes. The
// ledger consults it for authorization and never mutates it during ledger
// operations.
type Directory interface {
	Resolve(ctx context.Context, id string) (*models.Principal, error)
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) Resolve(ctx context.Context, id string) (*models.Principal, error) {
	var principal models.Principal
	err := d.Bun.NewSelect().
		Model(&principal).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnknownPrincipal
	}
	if err != nil {
		return nil, err
	}
	return &principal, nil
}

type Registration struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

// Register inserts a new principal. The identity provider in front of the
// service normally owns this; it is exposed for deployments where the ledger
// doubles as the directory.
func (d *DB) Register(ctx context.Context, reg Registration) (*models.Principal, error) {
	if reg.Role != models.RoleSupplier && reg.Role != models.RoleDistributor {
		return nil, fmt.Errorf("role must be supplier or distributor: %w", domain.ErrInvalidSpec)
	}
	if reg.Name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrInvalidSpec)
	}

	principal := models.Principal{
		ID:        utils.NewPrincipalID(reg.Role),
		Role:      reg.Role,
		Name:      reg.Name,
		Email:     reg.Email,
		Company:   reg.Company,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := d.Bun.NewInsert().Model(&principal).Exec(ctx); err != nil {
		return nil, fmt.Errorf("register principal: %w", err)
	}
	return &principal, nil
}
