package routing

import (
	"errors"
	"fmt"
)

// ErrAnonymousLead is returned only when anonymous leads are disabled
// in config; by default a request with no identity fields still routes.
var ErrAnonymousLead = errors.New("contact request carries no identity fields")

// SourceNotFoundError aborts the whole routing call; nothing is
// persisted, including the lead resolved earlier in the transaction.
type SourceNotFoundError struct {
	Code string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found: %s", e.Code)
}

// PersistenceError marks a storage failure surfaced out of the routing
// transaction. The transaction is rolled back before it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
