package migrator

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/seshatdb/seshat/core/sqlutil"
	"github.com/seshatdb/seshat/dbschema"
)

// MigrationFunc applies one migration's changes on the given connection.
// While the migration runs, the connection routes statements through the
// migration's transaction.
type MigrationFunc func(context.Context, *dbschema.DatabaseConnection) error

// Migration is a named, uniquely identified, one-time schema change.
// The identifier is a 12-digit timestamp-like integer (YYYYMMDDHHmm) acting
// as a strictly monotonic version key; identifiers within one provider must
// be unique. There is no down direction: the engine does not roll back.
type Migration struct {
	Identifier int64
	Name       string
	Up         MigrationFunc
}

// NoopMigrationFunc is a no-op migration function.
func NoopMigrationFunc(_ context.Context, _ *dbschema.DatabaseConnection) error {
	return nil
}

// SplitSQLStatements strips comments and splits sql into individual
// statements, respecting string literals and dollar-quoted bodies.
func SplitSQLStatements(sql string) []string {
	return sqlutil.SplitSQLStatements(sqlutil.StripComments(sql))
}

// MigrationFromSQL creates a migration whose up-action executes the given
// SQL, statement by statement.
func MigrationFromSQL(identifier int64, name, upSQL string) *Migration {
	return &Migration{
		Identifier: identifier,
		Name:       name,
		Up: func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
			return executeSQLStatements(ctx, conn, upSQL)
		},
	}
}

// MigrationFuncFromSQLFile returns a migration function that reads SQL from
// a file in the provided filesystem and executes it on the connection.
func MigrationFuncFromSQLFile(filename string, fsys fs.FS) MigrationFunc {
	return func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
		sql, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		return executeSQLStatements(ctx, conn, string(sql))
	}
}

func executeSQLStatements(ctx context.Context, conn *dbschema.DatabaseConnection, sql string) error {
	for _, stmt := range SplitSQLStatements(sql) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
