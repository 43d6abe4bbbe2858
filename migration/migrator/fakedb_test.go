package migrator_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seshatdb/seshat/dbschema"
)

// fakeState is the shared state of a scripted in-memory database. It models
// just enough of PostgreSQL for the migrator: a tracking table with a
// primary key on identifier, arbitrary DDL capture, and per-statement
// failure injection.
type fakeState struct {
	tableExists bool
	rows        []executedRow
	ddl         []string

	// failOn makes any statement containing the substring fail.
	failOn string
}

type executedRow struct {
	identifier int64
	name       string
	executedAt time.Time
}

func (s *fakeState) snapshot() fakeState {
	clone := *s
	clone.rows = append([]executedRow(nil), s.rows...)
	clone.ddl = append([]string(nil), s.ddl...)
	return clone
}

// newFakeConnection opens a dbschema connection backed by state.
func newFakeConnection(state *fakeState) *dbschema.DatabaseConnection {
	db := sql.OpenDB(&fakeConnector{state: state})
	return dbschema.NewDatabaseConnection(db, dbschema.Info{
		Driver: dbschema.DriverPgx,
		URL:    "postgres://fake",
	})
}

type fakeConnector struct {
	state *fakeState
}

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{state: c.state}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("use the connector")
}

type fakeConn struct {
	state *fakeState

	// holds the pre-transaction state for rollback while a tx is open
	saved *fakeState
}

var (
	_ driver.Conn           = (*fakeConn)(nil)
	_ driver.ExecerContext  = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
	_ driver.ConnBeginTx    = (*fakeConn)(nil)
)

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare is not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	saved := c.state.snapshot()
	c.saved = &saved
	return &fakeTx{conn: c}, nil
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit() error {
	t.conn.saved = nil
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.conn.saved != nil {
		*t.conn.state = *t.conn.saved
		t.conn.saved = nil
	}
	return nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.state.failOn != "" && strings.Contains(query, c.state.failOn) {
		return nil, fmt.Errorf("scripted failure on %q", c.state.failOn)
	}

	switch {
	case strings.Contains(query, "CREATE SCHEMA"):
		return driver.RowsAffected(0), nil

	case strings.Contains(query, "identifier BIGINT PRIMARY KEY"):
		c.state.tableExists = true
		return driver.RowsAffected(0), nil

	case strings.Contains(query, "INSERT INTO") && strings.Contains(query, "identifier, name, executed_at"):
		identifier := args[0].Value.(int64)
		for _, row := range c.state.rows {
			if row.identifier == identifier {
				return nil, &pgconn.PgError{
					Code:    "23505",
					Message: "duplicate key value violates unique constraint",
				}
			}
		}
		c.state.rows = append(c.state.rows, executedRow{
			identifier: identifier,
			name:       args[1].Value.(string),
			executedAt: args[2].Value.(time.Time),
		})
		return driver.RowsAffected(1), nil

	default:
		c.state.ddl = append(c.state.ddl, query)
		return driver.RowsAffected(0), nil
	}
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.state.failOn != "" && strings.Contains(query, c.state.failOn) {
		return nil, fmt.Errorf("scripted failure on %q", c.state.failOn)
	}

	switch {
	case strings.Contains(query, "information_schema.tables"):
		return singleValueRows("exists", c.state.tableExists), nil

	case strings.Contains(query, "SELECT COUNT(*)"):
		return singleValueRows("count", int64(len(c.state.rows))), nil

	case strings.Contains(query, "SELECT identifier, name, executed_at"):
		rows := &fakeRows{columns: []string{"identifier", "name", "executed_at"}}
		for _, row := range c.state.rows {
			rows.values = append(rows.values, []driver.Value{row.identifier, row.name, row.executedAt})
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("unscripted query: %s", query)
	}
}

func singleValueRows(column string, value driver.Value) *fakeRows {
	return &fakeRows{
		columns: []string{column},
		values:  [][]driver.Value{{value}},
	}
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}
