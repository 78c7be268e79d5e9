// Package store is the storage collaborator of the admin graph. The graph never
// plans queries itself: it hands a Query (predicates, ordering, window) to a Store
// and receives records back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists records of registered models
type Store interface {
	// Find returns the records of model matching q, ordered and windowed
	Find(ctx context.Context, model string, q Query) ([]*record.Record, error)
	// Count returns how many records match q, ignoring its window
	Count(ctx context.Context, model string, q Query) (int, error)
	// Get returns a single record or ErrNotFound
	Get(ctx context.Context, model string, id int64) (*record.Record, error)
	// Insert stores a new record and returns it with its assigned id
	Insert(ctx context.Context, rec *record.Record) (*record.Record, error)
	// Update replaces the stored fields of rec
	Update(ctx context.Context, rec *record.Record) error
	// Delete removes a record
	Delete(ctx context.Context, model string, id int64) error
}

// Query selects records. A zero Query selects every record of a model.
type Query struct {
	Where *query.PredicateGroup
	// OrderBy lists field names, "-" prefix for descending order
	OrderBy []string
	// Limit of zero means unbounded
	Limit  int
	Offset int
}

// Common store errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrUnknownModel is returned for models the store has no table for
	ErrUnknownModel = errors.New("unknown model")
)

// ConvertDBError converts database-specific errors to store errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.Detail)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, pgErr.Detail)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: column %s", ErrNotNullViolation, pgErr.ColumnName)
		}
	}

	return err
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
