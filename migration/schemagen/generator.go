// Package schemagen turns a live database into a single idempotent SQL
// script reproducing its schema. The script doubles as a bootstrap snapshot
// for the migrator: its header records the migration version the database
// was at when the script was generated.
package schemagen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seshatdb/seshat/core/schemaheader"
	"github.com/seshatdb/seshat/dbschema"
	"github.com/seshatdb/seshat/dbschema/postgres"
	"github.com/seshatdb/seshat/dbschema/types"
	"github.com/seshatdb/seshat/migration/migrator"
)

// Options configures schema generation.
type Options struct {
	// TableConfig locates the migration tracking table, which supplies the
	// header version and is excluded from the generated script. Zero value
	// means the migrator defaults.
	TableConfig migrator.TableConfig

	// ExcludedSchemas are additional schemas to leave out of the script,
	// on top of the system schemas and the tracking schema.
	ExcludedSchemas []string

	// IgnoredExtensions are extensions to leave out. Nil means the default
	// of plpgsql, which every database has preinstalled.
	IgnoredExtensions []string
}

// Generator produces schema scripts from a live database.
type Generator struct {
	conn    *dbschema.DatabaseConnection
	reader  types.SchemaReader
	tracker *migrator.TrackingStore
	opts    Options
	now     func() time.Time
}

// NewGenerator creates a generator reading from conn.
func NewGenerator(conn *dbschema.DatabaseConnection, opts Options) *Generator {
	if opts.IgnoredExtensions == nil {
		opts.IgnoredExtensions = []string{"plpgsql"}
	}
	tracker := migrator.NewTrackingStore(conn, opts.TableConfig)

	excluded := append([]string{}, opts.ExcludedSchemas...)
	excluded = append(excluded, trackingSchema(opts.TableConfig))

	return &Generator{
		conn:    conn,
		reader:  postgres.NewReader(conn, excluded...),
		tracker: tracker,
		opts:    opts,
		now:     time.Now,
	}
}

// WithReader returns a copy of the generator using reader instead of the
// default catalog reader.
func (g *Generator) WithReader(reader types.SchemaReader) *Generator {
	clone := *g
	clone.reader = reader
	return &clone
}

func trackingSchema(cfg migrator.TableConfig) string {
	if cfg.Schema == "" {
		return migrator.DefaultTrackingSchema
	}
	return cfg.Schema
}

// Generate reads the catalog and renders the schema script. Any catalog
// query failure propagates immediately; no partial script is produced.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	schema, err := g.reader.ReadSchema(ctx)
	if err != nil {
		return "", err
	}
	schema.Extensions = filterExtensions(schema.Extensions, g.opts.IgnoredExtensions)

	version, err := g.currentVersion(ctx)
	if err != nil {
		return "", err
	}

	return Render(schema, version, g.now()), nil
}

// currentVersion reads the latest recorded migration from the tracking
// table. A missing or empty table means the database predates version
// tracking and yields no version.
func (g *Generator) currentVersion(ctx context.Context) (*schemaheader.Version, error) {
	exists, err := g.tracker.TableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	executed, err := g.tracker.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(executed) == 0 {
		return nil, nil
	}
	latest := executed[len(executed)-1]
	return &schemaheader.Version{Identifier: latest.Identifier, Name: latest.Name}, nil
}

func filterExtensions(extensions []types.DBExtension, ignored []string) []types.DBExtension {
	if len(ignored) == 0 {
		return extensions
	}
	skip := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		skip[name] = struct{}{}
	}
	kept := extensions[:0]
	for _, ext := range extensions {
		if _, ok := skip[ext.Name]; !ok {
			kept = append(kept, ext)
		}
	}
	return kept
}

// WriteOptions configures where a generated snapshot is written.
type WriteOptions struct {
	// OutputDir is the directory receiving the snapshot file. It is created
	// if missing.
	OutputDir string

	// Environment qualifies the snapshot name: schema.<environment>.sql.
	// Empty produces the plain schema.sql fallback name.
	Environment string
}

// WriteSnapshot generates the schema script and writes it as a snapshot
// file the migrator's discovery convention will find. It returns the path
// of the written file.
func (g *Generator) WriteSnapshot(ctx context.Context, opts WriteOptions) (string, error) {
	script, err := g.Generate(ctx)
	if err != nil {
		return "", err
	}

	name := "schema.sql"
	if opts.Environment != "" {
		name = fmt.Sprintf("schema.%s.sql", opts.Environment)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	path := filepath.Join(opts.OutputDir, name)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return "", fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return path, nil
}
