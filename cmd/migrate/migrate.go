// Package migrate implements the seshat migrate command: apply pending
// migrations from a directory of SQL files, optionally bootstrapping an
// empty database from a schema snapshot.
package migrate

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/seshatdb/seshat/config"
	"github.com/seshatdb/seshat/dbschema"
	"github.com/seshatdb/seshat/migration/migrator"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending migrations in ascending identifier order.

Migrations are SQL files named <12 digits>_<name>.sql (e.g.
202401011200_create_users.sql). Each migration runs in its own transaction
and is recorded in the tracking table; already-recorded migrations are
skipped.

On an empty database, a schema snapshot found in the snapshot directory
(schema.<environment>.sql, falling back to schema.sql) is applied instead of
replaying the full history.`,
	RunE: migrateCommand,
}

const (
	configFlag        = "config"
	dbURLFlag         = "db-url"
	driverFlag        = "driver"
	migrationsDirFlag = "migrations-dir"
	snapshotDirFlag   = "snapshot-dir"
	environmentFlag   = "env"
	targetFlag        = "target"
)

var migrateFlags = map[string]cobraflags.Flag{
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
	migrationsDirFlag: &cobraflags.StringFlag{
		Name:  migrationsDirFlag,
		Value: "",
		Usage: "Directory containing migration SQL files (overrides config)",
	},
	snapshotDirFlag: &cobraflags.StringFlag{
		Name:  snapshotDirFlag,
		Value: "",
		Usage: "Directory searched for schema snapshot files (overrides config)",
	},
	environmentFlag: &cobraflags.StringFlag{
		Name:  environmentFlag,
		Value: "",
		Usage: "Environment qualifying the snapshot name (overrides config)",
	},
	targetFlag: &cobraflags.StringFlag{
		Name:  targetFlag,
		Value: "",
		Usage: "Migrate up to and including this identifier (default: latest)",
	},
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cobraflags.RegisterMap(migrateCmd, migrateFlags)
	return migrateCmd
}

func migrateCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("no database URL configured (use --db-url or SESHAT_DATABASE_URL)")
	}

	conn, err := dbschema.ConnectToDatabaseWithDriver(cfg.DatabaseURL, cfg.Driver)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if _, err := os.Stat(cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations directory %q: %w", cfg.MigrationsDir, err)
	}

	m, err := migrator.NewFSMigrator(conn, os.DirFS(cfg.MigrationsDir))
	if err != nil {
		return err
	}
	m = m.WithTableConfig(cfg.TableConfig())

	if cfg.SnapshotDir != "" {
		if _, err := os.Stat(cfg.SnapshotDir); err == nil {
			m = m.WithSnapshotSource(
				migrator.NewFSSnapshotSource(cfg.Environment, os.DirFS(cfg.SnapshotDir)))
		}
	}

	if raw := migrateFlags[targetFlag].GetString(); raw != "" {
		target, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid target identifier %q: %w", raw, err)
		}
		return m.MigrateTo(cmd.Context(), target)
	}
	return m.MigrateToLatest(cmd.Context())
}

// loadConfig merges the config file, environment and CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(migrateFlags[configFlag].GetString())
	if err != nil {
		return nil, err
	}
	if v := migrateFlags[dbURLFlag].GetString(); v != "" {
		cfg.DatabaseURL = v
	}
	if v := migrateFlags[driverFlag].GetString(); v != "" {
		cfg.Driver = v
	}
	if v := migrateFlags[migrationsDirFlag].GetString(); v != "" {
		cfg.MigrationsDir = v
	}
	if v := migrateFlags[snapshotDirFlag].GetString(); v != "" {
		cfg.SnapshotDir = v
	}
	if v := migrateFlags[environmentFlag].GetString(); v != "" {
		cfg.Environment = v
	}
	return cfg, nil
}
