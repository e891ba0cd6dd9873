package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes with repository meaning.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// Constraint names referenced by repositories.
const (
	ConstraintMovementPerOrderItem = "stock_movements_order_item_type_key"
	ConstraintServiceCode          = "services_code_key"
	ConstraintOrderNumber          = "orders_number_key"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error classifies a pgx failure for the service layer; it satisfies
// repositories.RepositoryError.
type Error struct {
	op         string
	err        error
	constraint string
	kind       errorKind
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// Constraint is the violated constraint name, empty when not a constraint error.
func (e *Error) Constraint() string {
	if e == nil {
		return ""
	}
	return e.constraint
}

// NotFound reports a lookup that matched no row.
func NotFound(op string) error {
	return &Error{op: op, err: pgx.ErrNoRows, kind: kindNotFound}
}

// WrapError classifies err under op. Context errors pass through untouched so
// callers can tell a cancelled request from a database failure.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, kind: classify(err), constraint: constraintOf(err)}
}

func classify(err error) errorKind {
	if errors.Is(err, pgx.ErrNoRows) {
		return kindNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation, codeCheckViolation,
			codeSerializationFailure, codeDeadlockDetected:
			return kindConflict
		case codeTooManyConnections, codeAdminShutdown, codeCannotConnectNow:
			return kindUnavailable
		}
		return kindOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return kindUnavailable
	}
	return kindOther
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
