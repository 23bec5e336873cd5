package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/upb/tenantguard/repositories"
)

// SQLSTATE codes for constraint failures
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

// wrapWriteError maps constraint violations to repositories.ErrDuplicate
func wrapWriteError(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, repositories.ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// wrapDeleteError maps a row still referenced by a foreign key to repositories.ErrInUse
func wrapDeleteError(what string, err error) error {
	if hasCode(err, foreignKeyViolation) {
		return fmt.Errorf("delete %s: %w", what, repositories.ErrInUse)
	}
	return fmt.Errorf("failed to delete %s: %w", what, err)
}

// wrapReadError maps sql.ErrNoRows to repositories.ErrNotFound
func wrapReadError(what string, key interface{}, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s not found: %v: %w", what, key, repositories.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// expectAffected turns a zero-row update or delete into ErrNotFound
func expectAffected(result sql.Result, what string, key interface{}) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %v: %w", what, key, repositories.ErrNotFound)
	}
	return nil
}
