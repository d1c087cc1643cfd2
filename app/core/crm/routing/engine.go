package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"leadrouter/app/core/crm/store"
	"leadrouter/app/pkg/logger"
)

// RouteRequest is the single entry-point contract: a source code, up to
// three identity keys and an opaque payload stored verbatim.
type RouteRequest struct {
	SourceCode string
	ExternalID string
	Phone      string
	Email      string
	Payload    json.RawMessage
}

// Result carries the persisted contact plus the resolved references.
// Operator is nil when no eligible operator existed.
type Result struct {
	Contact  store.Contact
	Lead     store.Lead
	Source   store.Source
	Operator *store.Operator
}

type Engine struct {
	store          *store.Store
	selector       *Selector
	allowAnonymous bool
	maxRedraws     int
}

func NewEngine(st *store.Store, selector *Selector, allowAnonymous bool, maxRedraws int) *Engine {
	if selector == nil {
		selector = NewSelector(nil)
	}
	if maxRedraws <= 0 {
		maxRedraws = 8
	}
	return &Engine{
		store:          st,
		selector:       selector,
		allowAnonymous: allowAnonymous,
		maxRedraws:     maxRedraws,
	}
}

// RouteContact resolves the lead, validates the source, picks an
// operator and records the contact, all inside one transaction. No
// retries: any persistence failure rolls the whole operation back and
// surfaces to the caller.
func (e *Engine) RouteContact(ctx context.Context, req RouteRequest) (Result, error) {
	if !e.allowAnonymous && req.ExternalID == "" && req.Phone == "" && req.Email == "" {
		return Result{}, ErrAnonymousLead
	}

	var out Result
	err := e.store.WithRoutingTx(ctx, func(tx *store.RoutingTx) error {
		lead, err := ResolveOrCreateLead(ctx, tx, req.ExternalID, req.Phone, req.Email)
		if err != nil {
			return persistence("resolve lead", err)
		}
		out.Lead = lead

		source, err := tx.SourceByCode(ctx, req.SourceCode)
		if errors.Is(err, sql.ErrNoRows) {
			return &SourceNotFoundError{Code: req.SourceCode}
		}
		if err != nil {
			return persistence("lookup source", err)
		}
		out.Source = source

		eligible, err := EligibleOperators(ctx, tx, source.ID)
		if err != nil {
			return persistence("filter operators", err)
		}
		weights, err := tx.WeightsForSource(ctx, source.ID)
		if err != nil {
			return persistence("load weights", err)
		}

		contact, operator, err := e.assign(ctx, tx, lead.ID, source, eligible, weights, req.Payload)
		if err != nil {
			return persistence("create contact", err)
		}
		out.Contact = contact
		out.Operator = operator
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

// assign draws an operator and claims capacity atomically. A failed
// claim means the operator saturated (or went inactive) after the
// eligibility snapshot; that operator is dropped and the draw repeats
// over the remainder, so max_concurrent is never exceeded.
func (e *Engine) assign(ctx context.Context, tx *store.RoutingTx, leadID int64, source store.Source, eligible []store.Operator, weights map[int64]float64, payload json.RawMessage) (store.Contact, *store.Operator, error) {
	for attempt := 0; len(eligible) > 0 && attempt < e.maxRedraws; attempt++ {
		picked := e.selector.Pick(eligible, weights)
		if picked == nil {
			break
		}

		contact, claimed, err := tx.ClaimAssignedContact(ctx, leadID, source.ID, picked.ID, payload)
		if err != nil {
			return store.Contact{}, nil, err
		}
		if claimed {
			op := *picked
			return contact, &op, nil
		}

		logger.Info("operator %d saturated during claim for source %s, redrawing", picked.ID, source.Code)
		eligible = dropOperator(eligible, picked.ID)
	}

	contact, err := tx.CreateUnassignedContact(ctx, leadID, source.ID, payload)
	if err != nil {
		return store.Contact{}, nil, err
	}
	return contact, nil, nil
}

func dropOperator(ops []store.Operator, id int64) []store.Operator {
	out := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			out = append(out, op)
		}
	}
	return out
}
