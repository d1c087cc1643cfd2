package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// RoutingTx is the transaction-scoped view the routing engine works
// through. Every read it serves comes from the same transaction that
// will write the contact, so a SourceNotFound rolls back lead creation
// along with everything else.
type RoutingTx struct {
	tx *sql.Tx
}

func (t *RoutingTx) FindLeadByExternalID(ctx context.Context, externalID string) (Lead, error) {
	return t.findLead(ctx, `external_id`, externalID)
}

func (t *RoutingTx) FindLeadByPhone(ctx context.Context, phone string) (Lead, error) {
	return t.findLead(ctx, `phone`, phone)
}

func (t *RoutingTx) FindLeadByEmail(ctx context.Context, email string) (Lead, error) {
	return t.findLead(ctx, `email`, email)
}

func (t *RoutingTx) findLead(ctx context.Context, column, value string) (Lead, error) {
	var lead Lead
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, COALESCE(external_id, ''), COALESCE(phone, ''), COALESCE(email, ''), created_at
		 FROM leads WHERE `+column+` = ? ORDER BY id LIMIT 1`,
		value,
	).Scan(&lead.ID, &lead.ExternalID, &lead.Phone, &lead.Email, &lead.CreatedAt)
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (t *RoutingTx) CreateLead(ctx context.Context, externalID, phone, email string) (Lead, error) {
	now := time.Now().Unix()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO leads (external_id, phone, email, created_at) VALUES (NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`,
		externalID, phone, email, now,
	)
	if err != nil {
		return Lead{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Lead{}, err
	}
	return Lead{
		ID:         id,
		ExternalID: externalID,
		Phone:      phone,
		Email:      email,
		CreatedAt:  now,
	}, nil
}

func (t *RoutingTx) SourceByCode(ctx context.Context, code string) (Source, error) {
	var src Source
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, code, name, COALESCE(description, '') FROM sources WHERE code = ?`,
		code,
	).Scan(&src.ID, &src.Code, &src.Name, &src.Description)
	if err != nil {
		return Source{}, err
	}
	return src, nil
}

// OperatorsForSource loads every operator linked to the source through
// the weight table, active or not. Eligibility filtering happens above.
func (t *RoutingTx) OperatorsForSource(ctx context.Context, sourceID int64) ([]Operator, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT o.id, o.name, o.is_active, o.max_concurrent
FROM operators o
JOIN operator_source_weights w ON w.operator_id = o.id
WHERE w.source_id = ?
ORDER BY o.id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Operator, 0, 8)
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.IsActive, &op.MaxConcurrent); err != nil {
			return nil, err
		}
		items = append(items, op)
	}
	return items, rows.Err()
}

func (t *RoutingTx) WeightsForSource(ctx context.Context, sourceID int64) (map[int64]float64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT operator_id, weight FROM operator_source_weights WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	weights := make(map[int64]float64, 8)
	for rows.Next() {
		var (
			operatorID int64
			weight     float64
		)
		if err := rows.Scan(&operatorID, &weight); err != nil {
			return nil, err
		}
		weights[operatorID] = weight
	}
	return weights, rows.Err()
}

func (t *RoutingTx) OpenContactCount(ctx context.Context, operatorID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE operator_id = ? AND status IN ('assigned', 'in_progress')`,
		operatorID,
	).Scan(&n)
	return n, err
}

// ClaimAssignedContact inserts the contact only if the operator is
// still active and strictly below max_concurrent at insert time. A
// false return means the operator filled up (or was deactivated) after
// the eligibility snapshot; the caller redraws.
func (t *RoutingTx) ClaimAssignedContact(ctx context.Context, leadID, sourceID, operatorID int64, payload json.RawMessage) (Contact, bool, error) {
	now := time.Now().Unix()
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO contacts (lead_id, source_id, operator_id, status, payload, created_at)
SELECT ?, ?, o.id, 'assigned', ?, ?
FROM operators o
WHERE o.id = ?
  AND o.is_active = 1
  AND (SELECT COUNT(*) FROM contacts c
       WHERE c.operator_id = o.id AND c.status IN ('assigned', 'in_progress')) < o.max_concurrent`,
		leadID, sourceID, payloadArg(payload), now, operatorID)
	if err != nil {
		return Contact{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Contact{}, false, err
	}
	if affected == 0 {
		return Contact{}, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Contact{}, false, err
	}
	opID := operatorID
	return Contact{
		ID:         id,
		LeadID:     leadID,
		SourceID:   sourceID,
		OperatorID: &opID,
		Status:     StatusAssigned,
		Payload:    payload,
		CreatedAt:  now,
	}, true, nil
}

func (t *RoutingTx) CreateUnassignedContact(ctx context.Context, leadID, sourceID int64, payload json.RawMessage) (Contact, error) {
	now := time.Now().Unix()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO contacts (lead_id, source_id, operator_id, status, payload, created_at) VALUES (?, ?, NULL, 'new', ?, ?)`,
		leadID, sourceID, payloadArg(payload), now)
	if err != nil {
		return Contact{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Contact{}, err
	}
	return Contact{
		ID:        id,
		LeadID:    leadID,
		SourceID:  sourceID,
		Status:    StatusNew,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

func (t *RoutingTx) Operator(ctx context.Context, operatorID int64) (Operator, error) {
	var op Operator
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, is_active, max_concurrent FROM operators WHERE id = ?`,
		operatorID,
	).Scan(&op.ID, &op.Name, &op.IsActive, &op.MaxConcurrent)
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

func payloadArg(payload json.RawMessage) interface{} {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
