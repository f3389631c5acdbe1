package services

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
)

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsIntegrityViolation matches any class 23 error (unique, foreign key, not null, check, exclusion).
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

func isValidationError(err error) bool {
	var vErrs validator.ValidationErrors
	return errors.As(err, &vErrs)
}

// isRecoverable reports whether a write failure only affects the row being written.
func isRecoverable(err error) bool {
	return isValidationError(err) || IsIntegrityViolation(err)
}
