package schemagen_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/seshatdb/seshat/dbschema"
	"github.com/seshatdb/seshat/dbschema/types"
	"github.com/seshatdb/seshat/migration/schemagen"
)

type stubReader struct {
	schema *types.DBSchema
}

func (r *stubReader) ReadSchema(context.Context) (*types.DBSchema, error) {
	return r.schema, nil
}

// trackerConn is a minimal scripted connection serving only the tracking
// table queries the generator issues.
type trackerConn struct {
	tableExists bool
	latest      []driver.Value // identifier, name, executed_at
}

func (c *trackerConn) Connect(context.Context) (driver.Conn, error) { return c, nil }
func (c *trackerConn) Driver() driver.Driver                        { return nil }

func (c *trackerConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare is not supported")
}
func (c *trackerConn) Close() error              { return nil }
func (c *trackerConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("no transactions") }

func (c *trackerConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	switch {
	case strings.Contains(query, "information_schema.tables"):
		return &stubRows{columns: []string{"exists"}, values: [][]driver.Value{{c.tableExists}}}, nil
	case strings.Contains(query, "SELECT identifier, name, executed_at"):
		rows := &stubRows{columns: []string{"identifier", "name", "executed_at"}}
		if c.latest != nil {
			rows.values = [][]driver.Value{c.latest}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unscripted query: %s", query)
	}
}

type stubRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}

func newTrackerConnection(c *trackerConn) *dbschema.DatabaseConnection {
	db := sql.OpenDB(c)
	return dbschema.NewDatabaseConnection(db, dbschema.Info{Driver: dbschema.DriverPgx})
}

func TestGenerator_Generate_versionFromTracker(t *testing.T) {
	c := qt.New(t)

	conn := newTrackerConnection(&trackerConn{
		tableExists: true,
		latest:      []driver.Value{int64(202401011200), "Create Orders", time.Now().UTC()},
	})
	defer conn.Close()

	g := schemagen.NewGenerator(conn, schemagen.Options{}).
		WithReader(&stubReader{schema: fixtureSchema()})

	script, err := g.Generate(t.Context())
	c.Assert(err, qt.IsNil)
	c.Assert(script, qt.Contains, "-- Migration version: 202401011200 (Create Orders)\n")
}

func TestGenerator_Generate_noTrackingTable(t *testing.T) {
	c := qt.New(t)

	conn := newTrackerConnection(&trackerConn{tableExists: false})
	defer conn.Close()

	g := schemagen.NewGenerator(conn, schemagen.Options{}).
		WithReader(&stubReader{schema: fixtureSchema()})

	script, err := g.Generate(t.Context())
	c.Assert(err, qt.IsNil)
	c.Assert(script, qt.Contains, "-- Migration version: (none)\n")
}

func TestGenerator_Generate_ignoresDefaultExtensions(t *testing.T) {
	c := qt.New(t)

	schema := fixtureSchema()
	schema.Extensions = append(schema.Extensions, types.DBExtension{Name: "plpgsql", Version: "1.0"})

	conn := newTrackerConnection(&trackerConn{tableExists: false})
	defer conn.Close()

	g := schemagen.NewGenerator(conn, schemagen.Options{}).
		WithReader(&stubReader{schema: schema})

	script, err := g.Generate(t.Context())
	c.Assert(err, qt.IsNil)
	c.Assert(script, qt.Contains, `CREATE EXTENSION IF NOT EXISTS "pgcrypto"`)
	c.Assert(script, qt.Not(qt.Contains), `CREATE EXTENSION IF NOT EXISTS "plpgsql"`)
}
