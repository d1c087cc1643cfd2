package store

import (
	"context"
	"fmt"
)

// ReplaceWeights swaps the whole weight set for a source in one
// transaction. Full replace, never a merge: callers resend every row.
func (s *Store) ReplaceWeights(ctx context.Context, sourceID int64, rows []WeightRow) error {
	for _, r := range rows {
		if r.Weight < 0 {
			return fmt.Errorf("weight for operator %d must be >= 0, got %v", r.OperatorID, r.Weight)
		}
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM operator_source_weights WHERE source_id = ?`, sourceID); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO operator_source_weights (operator_id, source_id, weight) VALUES (?, ?, ?)`,
			r.OperatorID, sourceID, r.Weight); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) WeightsForSource(ctx context.Context, sourceID int64) ([]WeightRow, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT operator_id, weight FROM operator_source_weights WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]WeightRow, 0, 8)
	for rows.Next() {
		var r WeightRow
		if err := rows.Scan(&r.OperatorID, &r.Weight); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
