package migrator

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/seshatdb/seshat/core/sqlutil"
	"github.com/seshatdb/seshat/dbschema"
)

//go:embed base/schema.sql
var trackingSchemaSQL string

//go:embed base/insert_migration.sql
var insertMigrationSQL string

//go:embed base/select_migrations.sql
var selectMigrationsSQL string

//go:embed base/count_migrations.sql
var countMigrationsSQL string

//go:embed base/table_exists.sql
var tableExistsSQL string

const (
	// DefaultTrackingSchema is the schema holding the migration tracking table.
	DefaultTrackingSchema = "seshat"

	// DefaultTrackingTable is the name of the migration tracking table.
	DefaultTrackingTable = "migrations"
)

// TableConfig locates the migration tracking table.
type TableConfig struct {
	Schema string
	Table  string
}

// DefaultTableConfig returns the default tracking table location.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		Schema: DefaultTrackingSchema,
		Table:  DefaultTrackingTable,
	}
}

// ExecutedMigration is one row of the tracking table.
type ExecutedMigration struct {
	Identifier int64
	Name       string
	ExecutedAt time.Time
}

// TrackingStore reads and writes the migration tracking table.
type TrackingStore struct {
	conn *dbschema.DatabaseConnection
	cfg  TableConfig
}

// NewTrackingStore creates a tracking store over conn. Empty config fields
// fall back to the defaults.
func NewTrackingStore(conn *dbschema.DatabaseConnection, cfg TableConfig) *TrackingStore {
	if cfg.Schema == "" {
		cfg.Schema = DefaultTrackingSchema
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTrackingTable
	}
	return &TrackingStore{conn: conn, cfg: cfg}
}

func (s *TrackingStore) qualifiedTable() string {
	return sqlutil.QualifyIdentifier(s.cfg.Schema, s.cfg.Table)
}

// EnsureTableExists creates the tracking schema and table if missing.
func (s *TrackingStore) EnsureTableExists(ctx context.Context) error {
	ddl := fmt.Sprintf(trackingSchemaSQL,
		sqlutil.QuoteIdentifier(s.cfg.Schema),
		sqlutil.QuoteIdentifier(s.cfg.Table),
	)
	for _, stmt := range sqlutil.SplitSQLStatements(ddl) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create migration tracking table: %w", err)
		}
	}
	return nil
}

// TableExists reports whether the tracking table exists in the database.
func (s *TrackingStore) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	row := s.conn.QueryRowContext(ctx, tableExistsSQL, s.cfg.Schema, s.cfg.Table)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration tracking table: %w", err)
	}
	return exists, nil
}

// Count returns the number of recorded migrations.
func (s *TrackingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf(countMigrationsSQL, s.qualifiedTable())
	row := s.conn.QueryRowContext(ctx, query)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executed migrations: %w", err)
	}
	return count, nil
}

// Insert records a migration as executed. The tracking table's primary key
// makes a second insert for the same identifier fail, which is how
// concurrent runners are serialized.
func (s *TrackingStore) Insert(ctx context.Context, identifier int64, name string, executedAt time.Time) error {
	query := fmt.Sprintf(insertMigrationSQL, s.qualifiedTable())
	if _, err := s.conn.ExecContext(ctx, query, identifier, name, executedAt.UTC()); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", identifier, err)
	}
	return nil
}

// SelectAll returns all recorded migrations ordered by identifier.
func (s *TrackingStore) SelectAll(ctx context.Context) ([]ExecutedMigration, error) {
	query := fmt.Sprintf(selectMigrationsSQL, s.qualifiedTable())
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list executed migrations: %w", err)
	}
	defer rows.Close()

	var executed []ExecutedMigration
	for rows.Next() {
		var m ExecutedMigration
		if err := rows.Scan(&m.Identifier, &m.Name, &m.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan executed migration: %w", err)
		}
		executed = append(executed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list executed migrations: %w", err)
	}
	return executed, nil
}
