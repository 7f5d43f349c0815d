package database

import (
	stderrors "errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/questline/questline-bot/internal/errors"
)

// PostgreSQL error classes that indicate a concurrent mutation and are safe
// to retry as a whole workflow.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// Classify maps a driver error onto the application error taxonomy.
// Serialization failures and deadlocks become ConflictError (retry the
// workflow); everything else is a storage outage.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected:
			return errors.NewConflictError(fmt.Sprintf("%s: concurrent mutation detected: %s", op, pqErr.Message))
		}
	}

	return errors.NewSubsystemError("storage", fmt.Errorf("%s: %w", op, err))
}

// IsUniqueViolation reports whether err is a unique-constraint violation,
// which idempotent append paths treat as "already applied".
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
