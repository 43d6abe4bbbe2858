// Package dbschema provides the thin database-access layer the migration
// runner and the schema generator are built on: connection management for
// PostgreSQL, single-in-flight transaction scope, and query execution that
// attaches the offending SQL to every error.
//
// A DatabaseConnection is not safe for concurrent use; each caller owns one
// connection for the duration of one call graph.
package dbschema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"
)

// Registered database/sql driver names for PostgreSQL.
const (
	DriverPgx = "pgx"      // jackc/pgx via stdlib (default)
	DriverPq  = "postgres" // lib/pq
)

// Info describes an open connection.
type Info struct {
	Driver string `json:"driver"`
	URL    string `json:"url"`
}

// DatabaseConnection wraps a *sql.DB together with an optional active
// transaction. While a transaction is open, all statements are routed
// through it.
type DatabaseConnection struct {
	db   *sql.DB
	tx   *sql.Tx
	info Info
}

// QueryError wraps a failed statement with the SQL text that caused it.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v\nsql: %s", e.Err, e.SQL)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ConnectToDatabase opens a PostgreSQL connection using the pgx driver.
func ConnectToDatabase(dbURL string) (*DatabaseConnection, error) {
	return ConnectToDatabaseWithDriver(dbURL, DriverPgx)
}

// ConnectToDatabaseWithDriver opens a PostgreSQL connection using the given
// registered driver (DriverPgx or DriverPq).
func ConnectToDatabaseWithDriver(dbURL, driverName string) (*DatabaseConnection, error) {
	driverName = NormalizeDriver(driverName)
	if driverName == "" {
		return nil, fmt.Errorf("unsupported database driver")
	}

	// pgx pool parameters are meaningful to pgxpool only and are rejected
	// when handed to database/sql.
	cleanURL := removePostgresPoolParams(dbURL)

	db, err := sql.Open(driverName, cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return NewDatabaseConnection(db, Info{Driver: driverName, URL: cleanURL}), nil
}

// NewDatabaseConnection wraps an already-open *sql.DB. Callers that manage
// their own pool (or tests injecting a fake driver) use this directly.
func NewDatabaseConnection(db *sql.DB, info Info) *DatabaseConnection {
	return &DatabaseConnection{db: db, info: info}
}

// NormalizeDriver maps accepted driver aliases to registered driver names.
// Unknown drivers normalize to the empty string.
func NormalizeDriver(driverName string) string {
	switch strings.ToLower(driverName) {
	case "", "pgx", "postgresql":
		return DriverPgx
	case "postgres", "pq":
		return DriverPq
	default:
		return ""
	}
}

// DB exposes the underlying database handle.
func (c *DatabaseConnection) DB() *sql.DB {
	return c.db
}

// Info returns connection metadata.
func (c *DatabaseConnection) Info() Info {
	return c.info
}

// Close closes the underlying database handle.
func (c *DatabaseConnection) Close() error {
	return c.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *DatabaseConnection) querier() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// ExecContext executes a statement and returns the number of rows affected.
// Failures, including a driver that cannot report rows affected, are wrapped
// in a *QueryError carrying the SQL text.
func (c *DatabaseConnection) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.querier().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &QueryError{SQL: query, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &QueryError{SQL: query, Err: err}
	}
	return n, nil
}

// QueryContext runs a query returning rows. Failures are wrapped in a
// *QueryError carrying the SQL text.
func (c *DatabaseConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.querier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return rows, nil
}

// QueryRowContext runs a query expected to return at most one row.
func (c *DatabaseConnection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.querier().QueryRowContext(ctx, query, args...)
}

// BeginTransaction opens a transaction on the connection. Only one
// transaction may be active at a time.
func (c *DatabaseConnection) BeginTransaction(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("transaction already in progress")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

// CommitTransaction commits the active transaction.
func (c *DatabaseConnection) CommitTransaction() error {
	if c.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the active transaction.
func (c *DatabaseConnection) RollbackTransaction() error {
	if c.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether a transaction is currently active.
func (c *DatabaseConnection) InTransaction() bool {
	return c.tx != nil
}

// WithinTransaction runs fn inside a transaction, committing on success and
// rolling back on any error. Every exit path releases the transaction.
func (c *DatabaseConnection) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.BeginTransaction(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		_ = c.RollbackTransaction()
		return err
	}
	return c.CommitTransaction()
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505), under either driver.
func IsUniqueViolation(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}

// removePostgresPoolParams strips pgxpool-specific query parameters from a
// connection URL. Unparseable URLs are returned unchanged.
func removePostgresPoolParams(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return dbURL
	}
	q := u.Query()
	if !q.Has("pool_max_conns") && !q.Has("pool_min_conns") {
		return dbURL
	}
	q.Del("pool_max_conns")
	q.Del("pool_min_conns")
	u.RawQuery = q.Encode()
	return u.String()
}
