package records

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when no row matches the given id.
var ErrNotFound = errors.New("record not found")

// ConflictError is a unique constraint violation, usually a duplicate slug.
type ConflictError struct {
	Constraint string
	Message    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record conflict (%s): %s", e.Constraint, e.Message)
}

// RejectedError is a data or integrity violation other than a duplicate.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("record rejected (%s): %s", e.Code, e.Message)
}

// mapError converts driver errors into the package error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return &ConflictError{Constraint: pqErr.Constraint, Message: pqErr.Message}
		case pqErr.Code.Class() == "22" || pqErr.Code.Class() == "23":
			return &RejectedError{Code: string(pqErr.Code), Message: pqErr.Message}
		}
	}
	return fmt.Errorf("db error: %w", err)
}
