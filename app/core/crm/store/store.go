package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"leadrouter/app/core/crm/db"
)

const (
	StatusNew        = "new"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

type Operator struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	IsActive      bool   `json:"is_active"`
	MaxConcurrent int    `json:"max_concurrent"`
}

type Source struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Lead struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

type Contact struct {
	ID         int64           `json:"id"`
	LeadID     int64           `json:"lead_id"`
	SourceID   int64           `json:"source_id"`
	OperatorID *int64          `json:"operator_id"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

type WeightRow struct {
	OperatorID int64   `json:"operator_id"`
	Weight     float64 `json:"weight"`
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// WithRoutingTx runs fn inside one transaction so a routing decision and
// its writes either all land or all roll back.
func (s *Store) WithRoutingTx(ctx context.Context, fn func(*RoutingTx) error) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&RoutingTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func scanContact(row *sql.Row) (Contact, error) {
	var (
		c          Contact
		operatorID sql.NullInt64
		payload    sql.NullString
	)
	err := row.Scan(&c.ID, &c.LeadID, &c.SourceID, &operatorID, &c.Status, &payload, &c.CreatedAt)
	if err != nil {
		return Contact{}, err
	}
	if operatorID.Valid {
		c.OperatorID = &operatorID.Int64
	}
	if payload.Valid && payload.String != "" {
		c.Payload = json.RawMessage(payload.String)
	}
	return c, nil
}
