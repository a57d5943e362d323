package pgsession

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for store operations.
// These errors are part of the Store's public API and should be checked using errors.Is().
//
// Example:
//
//	sess, err := store.ReadSession(ctx, key)
//	if errors.Is(err, pgsession.ErrNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrNotFound indicates the requested key, or a required parent key
	// for a create, does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates a create was attempted with a key that
	// already exists. The existing row is left unchanged.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConstraintViolation indicates an integrity rule failed for a
	// reason other than a missing parent or duplicate key.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConnection indicates the database is unreachable or a transaction
	// could not be committed for infrastructural reasons. Retrying is the
	// caller's responsibility; the store never retries.
	ErrConnection = errors.New("database connection failed")
)

// classify maps a database error onto the store's error taxonomy.
// Errors outside the taxonomy (including context cancellation) pass
// through unchanged so callers can still inspect them.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.Message)
		case pgErr.Code == pgerrcode.ForeignKeyViolation:
			// A failed FK check on insert means the parent row is absent.
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return fmt.Errorf("%w: %s", ErrConnection, pgErr.Message)
		}
		return err
	}

	// Network-level failures surface before the server can produce a
	// PgError: dial errors (connection refused, no route to host),
	// other socket errors, and timeouts.
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return err
}
