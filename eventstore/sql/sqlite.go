package sql

import (
	"database/sql"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/authapp/iamcore/eventstore"
)

// SQLite opens the event store's SQLite backend, used for single-node and
// development deployments; Postgres is the primary backend for
// multi-node production use.
type SQLite struct {
	File string
}

// Open connects, runs migrations, and returns a ready eventstore.Store.
func (s *SQLite) Open(logger *slog.Logger) (eventstore.Store, error) {
	db, err := sql.Open("sqlite3", s.File)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// A single connection serializes all access; any concurrent writer
	// waits rather than hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	uniqueViolation := func(err error) bool {
		sqlErr, ok := err.(sqlite3.Error)
		return ok && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	c := &conn{db: db, flavor: flavorSQLite3, logger: logger, uniqueViolation: uniqueViolation}
	if _, err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}
