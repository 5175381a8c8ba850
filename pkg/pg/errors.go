package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrRetriesExhausted         = errors.New("transaction retries exhausted")
)

// SQLSTATE codes the stores react to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

func IsTxClosedError(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrTxClosed)
}

func IsDuplicateKeyError(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

func IsForeignKeyViolationError(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

// IsConflictError reports errors caused by concurrent writers: unique
// violations from racing inserts, serialization failures, deadlocks and
// NOWAIT lock failures. Such transactions are safe to retry from scratch.
func IsConflictError(err error) bool {
	return hasCode(err, codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable)
}

func hasCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}
