// Package schema implements the seshat schema command: introspect a live
// database and emit an idempotent SQL script reproducing its schema.
package schema

import (
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/seshatdb/seshat/config"
	"github.com/seshatdb/seshat/dbschema"
	"github.com/seshatdb/seshat/migration/schemagen"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate an idempotent SQL script from a live database",
	Long: `Read the database catalog and render a single idempotent SQL script
reproducing the schema: extensions, schemas, types, sequences, tables,
constraints, indexes, functions, triggers and views, in dependency order.

The script header records the migration version the database was at, so the
script doubles as a bootstrap snapshot for the migrate command. By default
the script is printed to stdout; with --write it is saved under the snapshot
directory as schema.sql (or schema.<environment>.sql).`,
	RunE: schemaCommand,
}

const (
	configFlag      = "config"
	dbURLFlag       = "db-url"
	driverFlag      = "driver"
	environmentFlag = "env"
	snapshotDirFlag = "snapshot-dir"
	writeFlag       = "write"
	excludeFlag     = "exclude-schema"
)

var schemaFlags = map[string]cobraflags.Flag{
	configFlag: &cobraflags.StringFlag{
		Name:  configFlag,
		Value: "",
		Usage: "Path to a config file (default: ./seshat.yaml if present)",
	},
	dbURLFlag: &cobraflags.StringFlag{
		Name:  dbURLFlag,
		Value: "",
		Usage: "Database connection URL (overrides config)",
	},
	driverFlag: &cobraflags.StringFlag{
		Name:  driverFlag,
		Value: "",
		Usage: "Database driver: pgx or postgres (overrides config)",
	},
	environmentFlag: &cobraflags.StringFlag{
		Name:  environmentFlag,
		Value: "",
		Usage: "Environment qualifying the snapshot name (overrides config)",
	},
	snapshotDirFlag: &cobraflags.StringFlag{
		Name:  snapshotDirFlag,
		Value: "",
		Usage: "Directory receiving the snapshot file with --write (overrides config)",
	},
	writeFlag: &cobraflags.BoolFlag{
		Name:  writeFlag,
		Value: false,
		Usage: "Write the script as a snapshot file instead of printing it",
	},
	excludeFlag: &cobraflags.StringFlag{
		Name:  excludeFlag,
		Value: "",
		Usage: "Additional schemas to exclude, comma-separated",
	},
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cobraflags.RegisterMap(schemaCmd, schemaFlags)
	return schemaCmd
}

func schemaCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(schemaFlags[configFlag].GetString())
	if err != nil {
		return err
	}
	if v := schemaFlags[dbURLFlag].GetString(); v != "" {
		cfg.DatabaseURL = v
	}
	if v := schemaFlags[driverFlag].GetString(); v != "" {
		cfg.Driver = v
	}
	if v := schemaFlags[environmentFlag].GetString(); v != "" {
		cfg.Environment = v
	}
	if v := schemaFlags[snapshotDirFlag].GetString(); v != "" {
		cfg.SnapshotDir = v
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("no database URL configured (use --db-url or SESHAT_DATABASE_URL)")
	}

	conn, err := dbschema.ConnectToDatabaseWithDriver(cfg.DatabaseURL, cfg.Driver)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	var excluded []string
	if raw := schemaFlags[excludeFlag].GetString(); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				excluded = append(excluded, name)
			}
		}
	}

	generator := schemagen.NewGenerator(conn, schemagen.Options{
		TableConfig:     cfg.TableConfig(),
		ExcludedSchemas: excluded,
	})

	if schemaFlags[writeFlag].GetBool() {
		path, err := generator.WriteSnapshot(cmd.Context(), schemagen.WriteOptions{
			OutputDir:   cfg.SnapshotDir,
			Environment: cfg.Environment,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written: %s\n", path)
		return nil
	}

	script, err := generator.Generate(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(script)
	return nil
}
