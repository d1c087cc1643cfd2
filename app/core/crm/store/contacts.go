package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

type OperatorContactCount struct {
	OperatorID int64  `json:"operator_id"`
	Name       string `json:"name"`
	Total      int    `json:"total"`
	Open       int    `json:"open"`
}

type SourceContactCount struct {
	SourceID int64  `json:"source_id"`
	Code     string `json:"code"`
	Total    int    `json:"total"`
	Assigned int    `json:"assigned"`
}

func (s *Store) GetContact(ctx context.Context, contactID int64) (Contact, error) {
	return scanContact(s.db.Conn().QueryRowContext(ctx,
		`SELECT id, lead_id, source_id, operator_id, status, payload, created_at FROM contacts WHERE id = ?`,
		contactID))
}

func (s *Store) ContactsForLead(ctx context.Context, leadID int64) ([]Contact, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, lead_id, source_id, operator_id, status, payload, created_at FROM contacts WHERE lead_id = ? ORDER BY created_at ASC, id ASC`,
		leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Contact, 0, 8)
	for rows.Next() {
		var (
			c          Contact
			operatorID sql.NullInt64
			payload    sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.LeadID, &c.SourceID, &operatorID, &c.Status, &payload, &c.CreatedAt); err != nil {
			return nil, err
		}
		if operatorID.Valid {
			c.OperatorID = &operatorID.Int64
		}
		if payload.Valid && payload.String != "" {
			c.Payload = json.RawMessage(payload.String)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// OpenContactCount counts contacts holding operator capacity: only
// assigned and in_progress, never new or closed.
func (s *Store) OpenContactCount(ctx context.Context, operatorID int64) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE operator_id = ? AND status IN ('assigned', 'in_progress')`,
		operatorID,
	).Scan(&n)
	return n, err
}

func (s *Store) CountContactsByOperator(ctx context.Context) ([]OperatorContactCount, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT o.id, o.name,
	COUNT(c.id),
	COALESCE(SUM(CASE WHEN c.status IN ('assigned', 'in_progress') THEN 1 ELSE 0 END), 0)
FROM operators o
LEFT JOIN contacts c ON c.operator_id = o.id
GROUP BY o.id, o.name
ORDER BY o.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]OperatorContactCount, 0, 16)
	for rows.Next() {
		var r OperatorContactCount
		if err := rows.Scan(&r.OperatorID, &r.Name, &r.Total, &r.Open); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *Store) CountContactsBySource(ctx context.Context) ([]SourceContactCount, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT s.id, s.code,
	COUNT(c.id),
	COALESCE(SUM(CASE WHEN c.operator_id IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM sources s
LEFT JOIN contacts c ON c.source_id = s.id
GROUP BY s.id, s.code
ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]SourceContactCount, 0, 8)
	for rows.Next() {
		var r SourceContactCount
		if err := rows.Scan(&r.SourceID, &r.Code, &r.Total, &r.Assigned); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
