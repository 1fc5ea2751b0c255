package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for constraint violations reported by the database.
var (
	ErrUniqueViolation     = errors.New("unique violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrNotNullViolation    = errors.New("not null violation")
)

// PostgreSQL SQLSTATE codes of the integrity constraint violation class.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// Classify maps a driver error to one of the sentinel errors. The result
// wraps both the sentinel and the original error. Errors that are not
// constraint violations are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := classify(err); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrUniqueViolation
		case pgForeignKeyViolation:
			return ErrForeignKeyViolation
		case pgNotNullViolation:
			return ErrNotNullViolation
		}
		return nil
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrUniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrForeignKeyViolation
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return ErrNotNullViolation
		}
		// Without extended result codes only the message tells them apart.
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return ErrUniqueViolation
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return ErrForeignKeyViolation
		case strings.Contains(msg, "NOT NULL constraint failed"):
			return ErrNotNullViolation
		}
	}
	return nil
}
