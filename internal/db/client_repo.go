package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stowage/internal/types"
)

// ClientRepository reads client invoicing profiles.
type ClientRepository struct {
	db DBTX
}

// NewClientRepository creates a ClientRepository.
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

// GetBillingProfile returns the contact and payment-provider data of a
// client.
func (r *ClientRepository) GetBillingProfile(ctx context.Context, clientID string) (*types.ClientBillingProfile, error) {
	var p types.ClientBillingProfile
	err := r.db.QueryRow(ctx, `
		SELECT id::text, name, billing_email, stripe_customer_id
		FROM clients
		WHERE id::text = $1 AND deleted_at IS NULL`,
		clientID,
	).Scan(&p.ClientID, &p.Name, &p.Email, &p.StripeCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClient, fmt.Sprintf("client %s not found", clientID), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get client billing profile", err)
	}
	return &p, nil
}
