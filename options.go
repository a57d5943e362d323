package pgsession

import (
	"fmt"
	"log/slog"
)

// maxIdentifierLength is PostgreSQL's identifier length limit.
const maxIdentifierLength = 63

// Tables names the three backing tables. Hosts that extend the schema can
// point the store at their own tables as long as the columns the store
// reads and writes keep their default names; extra columns and extension
// data belong in the JSONB documents.
type Tables struct {
	Sessions string
	Agents   string
	Messages string
}

// DefaultTables returns the table names created by db/migrations.
func DefaultTables() Tables {
	return Tables{
		Sessions: "sessions",
		Agents:   "agents",
		Messages: "messages",
	}
}

// validate checks that every table name is a safe SQL identifier.
// Names are interpolated into statements, so anything else is rejected.
func (t Tables) validate() error {
	for _, name := range []string{t.Sessions, t.Agents, t.Messages} {
		if !isValidIdentifier(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// isValidIdentifier reports whether s is a plain PostgreSQL identifier:
// a letter or underscore followed by letters, digits, or underscores.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > maxIdentifierLength {
		return false
	}

	first := s[0]
	if (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') && first != '_' {
		return false
	}

	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}

	return true
}

// Option configures a Store during construction.
type Option func(*Store)

// WithLogger sets the diagnostic logging sink. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTables overrides the backing table names. Names are validated by
// New; an invalid name fails construction rather than a later query.
func WithTables(tables Tables) Option {
	return func(s *Store) {
		s.tables = tables
	}
}
