// Package sql provides Postgres and SQLite backends for the event store,
// using a single connection/flavor abstraction so one query string
// serves both drivers.
package sql

import (
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"time"

	"github.com/lib/pq"
)

// flavor translates a Postgres-flavored query string to the target
// driver's dialect and supplies a transaction-retry strategy for
// serialization failures.
type flavor struct {
	queryReplacers    []replacer
	executeTx         func(db *sql.DB, fn func(*sql.Tx) error) error
	supportsTimezones bool
}

type replacer struct {
	re   *regexp.Regexp
	with string
}

var bindRegexp = regexp.MustCompile(`\$\d+`)

func matchLiteral(s string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`)
}

var (
	// flavorPostgres is the reference flavor; every query in this package
	// is written against it and translated for other drivers.
	flavorPostgres = flavor{
		executeTx: func(db *sql.DB, fn func(sqlTx *sql.Tx) error) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
			for {
				tx, err := db.BeginTx(ctx, opts)
				if err != nil {
					return err
				}
				if err := fn(tx); err != nil {
					if isSerializationFailure(err) {
						continue
					}
					return err
				}
				if err := tx.Commit(); err != nil {
					if isSerializationFailure(err) {
						continue
					}
					return err
				}
				return nil
			}
		},
		supportsTimezones: true,
	}

	flavorSQLite3 = flavor{
		queryReplacers: []replacer{
			{bindRegexp, "?"},
			{matchLiteral("bytea"), "blob"},
			{matchLiteral("timestamptz"), "timestamp"},
			{matchLiteral("bigserial"), "integer"},
			{matchLiteral("bigint"), "integer"},
			{regexp.MustCompile(`\bnow\(\)`), "strftime('%Y-%m-%d %H:%M:%f', 'now')"},
		},
	}
)

func isSerializationFailure(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "serialization_failure"
}

func (f flavor) translate(query string) string {
	for _, r := range f.queryReplacers {
		query = r.re.ReplaceAllString(query, r.with)
	}
	return query
}

func (c *conn) translateArgs(args []interface{}) []interface{} {
	if c.flavor.supportsTimezones {
		return args
	}
	for i, arg := range args {
		if t, ok := arg.(time.Time); ok {
			args[i] = t.UTC()
		}
	}
	return args
}

// conn is the main database handle shared by the Push/Filter implementation.
type conn struct {
	db              *sql.DB
	flavor          flavor
	logger          *slog.Logger
	uniqueViolation func(err error) bool
}

func (c *conn) Close() error { return c.db.Close() }

func (c *conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = c.flavor.translate(query)
	return c.db.ExecContext(ctx, query, c.translateArgs(args)...)
}

func (c *conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	query = c.flavor.translate(query)
	return c.db.QueryContext(ctx, query, c.translateArgs(args)...)
}

func (c *conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	query = c.flavor.translate(query)
	return c.db.QueryRowContext(ctx, query, c.translateArgs(args)...)
}

// ExecTx runs fn inside a transaction, retrying on serialization failure
// when the flavor supports it (Postgres's SERIALIZABLE isolation, used so
// the optimistic-concurrency check in Push is itself race-free).
func (c *conn) ExecTx(fn func(tx *trans) error) error {
	if c.flavor.executeTx != nil {
		return c.flavor.executeTx(c.db, func(sqlTx *sql.Tx) error {
			return fn(&trans{sqlTx, c})
		})
	}
	sqlTx, err := c.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(&trans{sqlTx, c}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type trans struct {
	tx *sql.Tx
	c  *conn
}

func (t *trans) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = t.c.flavor.translate(query)
	return t.tx.ExecContext(ctx, query, t.c.translateArgs(args)...)
}

func (t *trans) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	query = t.c.flavor.translate(query)
	return t.tx.QueryContext(ctx, query, t.c.translateArgs(args)...)
}

func (t *trans) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	query = t.c.flavor.translate(query)
	return t.tx.QueryRowContext(ctx, query, t.c.translateArgs(args)...)
}
