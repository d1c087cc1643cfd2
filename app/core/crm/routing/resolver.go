package routing

import (
	"context"
	"database/sql"
	"errors"

	"leadrouter/app/core/crm/store"
)

// LeadTx is the slice of the routing transaction the resolver needs.
type LeadTx interface {
	FindLeadByExternalID(ctx context.Context, externalID string) (store.Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) (store.Lead, error)
	FindLeadByEmail(ctx context.Context, email string) (store.Lead, error)
	CreateLead(ctx context.Context, externalID, phone, email string) (store.Lead, error)
}

// ResolveOrCreateLead matches an existing lead by external_id, then
// phone, then email; the first hit wins and later keys never override
// it. With no hit (including the all-keys-absent case) a new lead is
// created from whatever fields were given.
func ResolveOrCreateLead(ctx context.Context, tx LeadTx, externalID, phone, email string) (store.Lead, error) {
	if externalID != "" {
		lead, err := tx.FindLeadByExternalID(ctx, externalID)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Lead{}, err
		}
	}
	if phone != "" {
		lead, err := tx.FindLeadByPhone(ctx, phone)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Lead{}, err
		}
	}
	if email != "" {
		lead, err := tx.FindLeadByEmail(ctx, email)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Lead{}, err
		}
	}
	return tx.CreateLead(ctx, externalID, phone, email)
}
