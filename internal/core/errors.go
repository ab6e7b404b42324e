package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// NotFoundError reports an unknown identifier.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

// ValidationError reports malformed or missing input. Messages holds one
// entry per problem so callers can surface all of them at once.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// InvalidTransitionError is returned when the document state machine rejects
// an action, including double approval and mutation of a terminal document.
type InvalidTransitionError struct {
	DocumentID int
	From       DocumentStatus
	Action     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("document %d: cannot %s from status %s", e.DocumentID, e.Action, e.From)
}

// UnauthorizedError indicates the acting user's role tier is below the tier
// the action requires.
type UnauthorizedError struct {
	Action   string
	Role     Role
	Required Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("role %s may not %s (requires %s)", e.Role, e.Action, e.Required)
}

// InsufficientStockError is returned when an allocation cannot be satisfied
// and partial issuance is not allowed.
type InsufficientStockError struct {
	ItemID      int
	WarehouseID int
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d in warehouse %d: requested %s, available %s",
		e.ItemID, e.WarehouseID, e.Requested.StringFixed(4), e.Available.StringFixed(4))
}

// InvariantViolationError means a ledger delta would break a tracked
// invariant. If engine logic is correct this is unreachable; it is treated
// as a fatal programming error and never swallowed.
type InvariantViolationError struct {
	Record string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Record, e.Detail)
}

// ConcurrencyConflictError is returned when a concurrent writer won the
// transaction. The caller should retry the whole command.
type ConcurrencyConflictError struct {
	Key string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent update on %s, retry the command", e.Key)
}

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapConflict turns Postgres serialization and deadlock failures into
// ConcurrencyConflictError so the caller can retry; other errors pass
// through untouched.
func mapConflict(err error, key string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected {
			return &ConcurrencyConflictError{Key: key}
		}
	}
	return err
}

// IsRetryable reports whether err is a concurrency conflict the caller is
// expected to retry automatically.
func IsRetryable(err error) bool {
	var cc *ConcurrencyConflictError
	return errors.As(err, &cc)
}
