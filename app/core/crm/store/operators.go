package store

import (
	"context"
	"fmt"
	"strings"
)

func (s *Store) CreateOperator(ctx context.Context, name string, isActive bool, maxConcurrent int) (Operator, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Operator{}, fmt.Errorf("operator name is required")
	}
	if maxConcurrent < 0 {
		return Operator{}, fmt.Errorf("max_concurrent must be >= 0, got %d", maxConcurrent)
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO operators (name, is_active, max_concurrent) VALUES (?, ?, ?)`,
		name, isActive, maxConcurrent,
	)
	if err != nil {
		return Operator{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Operator{}, err
	}
	return Operator{
		ID:            id,
		Name:          name,
		IsActive:      isActive,
		MaxConcurrent: maxConcurrent,
	}, nil
}

func (s *Store) GetOperator(ctx context.Context, operatorID int64) (Operator, error) {
	var op Operator
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, name, is_active, max_concurrent FROM operators WHERE id = ?`,
		operatorID,
	).Scan(&op.ID, &op.Name, &op.IsActive, &op.MaxConcurrent)
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

func (s *Store) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, name, is_active, max_concurrent FROM operators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Operator, 0, 16)
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.IsActive, &op.MaxConcurrent); err != nil {
			return nil, err
		}
		items = append(items, op)
	}
	return items, rows.Err()
}

// UpdateOperator applies a partial update; nil fields stay untouched.
// The read and write run in one transaction so concurrent partial
// updates never overwrite each other's fields. Activity and capacity
// may change concurrently with routing; the assignment guard reads the
// live row, so updates take effect on the next claim.
func (s *Store) UpdateOperator(ctx context.Context, operatorID int64, name *string, isActive *bool, maxConcurrent *int) (Operator, error) {
	if name != nil && strings.TrimSpace(*name) == "" {
		return Operator{}, fmt.Errorf("operator name is required")
	}
	if maxConcurrent != nil && *maxConcurrent < 0 {
		return Operator{}, fmt.Errorf("max_concurrent must be >= 0, got %d", *maxConcurrent)
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Operator{}, err
	}
	defer tx.Rollback()

	var op Operator
	err = tx.QueryRowContext(ctx,
		`SELECT id, name, is_active, max_concurrent FROM operators WHERE id = ?`,
		operatorID,
	).Scan(&op.ID, &op.Name, &op.IsActive, &op.MaxConcurrent)
	if err != nil {
		return Operator{}, err
	}
	if name != nil {
		op.Name = strings.TrimSpace(*name)
	}
	if isActive != nil {
		op.IsActive = *isActive
	}
	if maxConcurrent != nil {
		op.MaxConcurrent = *maxConcurrent
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE operators SET name = ?, is_active = ?, max_concurrent = ? WHERE id = ?`,
		op.Name, op.IsActive, op.MaxConcurrent, op.ID,
	); err != nil {
		return Operator{}, err
	}
	if err := tx.Commit(); err != nil {
		return Operator{}, err
	}
	return op, nil
}
