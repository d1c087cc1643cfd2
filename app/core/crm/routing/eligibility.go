package routing

import (
	"context"

	"leadrouter/app/core/crm/store"
)

// OperatorTx is the slice of the routing transaction the eligibility
// filter needs.
type OperatorTx interface {
	OperatorsForSource(ctx context.Context, sourceID int64) ([]store.Operator, error)
	OpenContactCount(ctx context.Context, operatorID int64) (int, error)
}

// EligibleOperators returns the operators linked to the source that are
// active and strictly below their concurrency cap. An empty result is
// not an error; it is the unassigned-routing signal. The load counts
// are a snapshot; the final word on capacity is the claim at insert
// time.
func EligibleOperators(ctx context.Context, tx OperatorTx, sourceID int64) ([]store.Operator, error) {
	linked, err := tx.OperatorsForSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	eligible := make([]store.Operator, 0, len(linked))
	for _, op := range linked {
		if !op.IsActive {
			continue
		}
		load, err := tx.OpenContactCount(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		if load < op.MaxConcurrent {
			eligible = append(eligible, op)
		}
	}
	return eligible, nil
}
