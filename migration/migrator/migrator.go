package migrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/seshatdb/seshat/dbschema"
)

// Migrator applies registered migrations to a database and records them in
// the tracking table. On an empty database it can bootstrap from a schema
// snapshot instead of replaying every migration.
type Migrator struct {
	conn      *dbschema.DatabaseConnection
	provider  MigrationProvider
	tracker   *TrackingStore
	snapshots *SnapshotSource
	logger    *slog.Logger
}

// NewMigrator creates a migrator over conn using the given provider and the
// default tracking table.
func NewMigrator(conn *dbschema.DatabaseConnection, provider MigrationProvider) *Migrator {
	return &Migrator{
		conn:     conn,
		provider: provider,
		tracker:  NewTrackingStore(conn, DefaultTableConfig()),
		logger:   slog.Default(),
	}
}

// NewFSMigrator creates a migrator loading migrations from fsys.
func NewFSMigrator(conn *dbschema.DatabaseConnection, fsys fs.FS) (*Migrator, error) {
	provider, err := NewFSMigrationProvider(fsys)
	if err != nil {
		return nil, err
	}
	return NewMigrator(conn, provider), nil
}

// WithLogger returns a copy of the migrator using logger.
func (m *Migrator) WithLogger(logger *slog.Logger) *Migrator {
	clone := *m
	clone.logger = logger
	return &clone
}

// WithTableConfig returns a copy of the migrator tracking migrations in the
// given table.
func (m *Migrator) WithTableConfig(cfg TableConfig) *Migrator {
	clone := *m
	clone.tracker = NewTrackingStore(m.conn, cfg)
	return &clone
}

// WithSnapshotSource returns a copy of the migrator bootstrapping empty
// databases from source.
func (m *Migrator) WithSnapshotSource(source *SnapshotSource) *Migrator {
	clone := *m
	clone.snapshots = source
	return &clone
}

// MigrationProvider returns the migrator's provider.
func (m *Migrator) MigrationProvider() MigrationProvider {
	return m.provider
}

// TableConfig returns the tracking table location in use.
func (m *Migrator) TableConfig() TableConfig {
	return m.tracker.cfg
}

// MigrateToLatest applies all pending migrations in ascending identifier
// order.
func (m *Migrator) MigrateToLatest(ctx context.Context) error {
	return m.migrate(ctx, nil)
}

// MigrateTo applies pending migrations with identifiers up to and including
// target.
func (m *Migrator) MigrateTo(ctx context.Context, target int64) error {
	return m.migrate(ctx, &target)
}

// IsDatabaseEmpty reports whether no migration has ever been recorded:
// either the tracking table is missing, or it holds zero rows.
func (m *Migrator) IsDatabaseEmpty(ctx context.Context) (bool, error) {
	exists, err := m.tracker.TableExists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	count, err := m.tracker.Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// ExecutedMigrations returns the recorded migrations in ascending identifier
// order. A missing tracking table yields an empty result and is not created.
func (m *Migrator) ExecutedMigrations(ctx context.Context) ([]ExecutedMigration, error) {
	exists, err := m.tracker.TableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return m.tracker.SelectAll(ctx)
}

// Pending returns the registered migrations that have not been executed yet,
// in ascending identifier order.
func (m *Migrator) Pending(ctx context.Context) ([]*Migration, error) {
	executed, err := m.ExecutedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]struct{}, len(executed))
	for _, e := range executed {
		done[e.Identifier] = struct{}{}
	}

	var pending []*Migration
	for _, migration := range m.orderedMigrations() {
		if _, ok := done[migration.Identifier]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// orderedMigrations returns the provider's migrations sorted by ascending
// identifier. Providers only promise a stable, deduplicated set, so ordering
// is enforced here rather than trusted.
func (m *Migrator) orderedMigrations() []*Migration {
	migrations := m.provider.Migrations()
	ordered := make([]*Migration, len(migrations))
	copy(ordered, migrations)
	sortMigrations(ordered)
	return ordered
}

// RunOne executes a single migration and records it, both inside one
// transaction. Failures roll the transaction back and are reported as a
// *MigrationError; context cancellation is passed through unwrapped.
func (m *Migrator) RunOne(ctx context.Context, migration *Migration) error {
	m.logger.Info("Executing migration",
		"identifier", migration.Identifier,
		"name", migration.Name,
	)

	err := m.conn.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := migration.Up(ctx, m.conn); err != nil {
			return err
		}
		return m.tracker.Insert(ctx, migration.Identifier, migration.Name, time.Now().UTC())
	})
	if err != nil {
		if isCancellation(err) {
			return err
		}
		return &MigrationError{
			Identifier: migration.Identifier,
			Name:       migration.Name,
			Err:        err,
		}
	}
	return nil
}

func (m *Migrator) migrate(ctx context.Context, target *int64) error {
	bootstrapped, err := m.maybeApplySnapshot(ctx, target)
	if err != nil {
		return err
	}
	if !bootstrapped {
		if err := m.tracker.EnsureTableExists(ctx); err != nil {
			return err
		}
	}

	executed, err := m.tracker.SelectAll(ctx)
	if err != nil {
		return err
	}
	done := make(map[int64]struct{}, len(executed))
	for _, e := range executed {
		done[e.Identifier] = struct{}{}
	}

	applied := 0
	for _, migration := range m.orderedMigrations() {
		if target != nil && migration.Identifier > *target {
			continue
		}
		if _, ok := done[migration.Identifier]; ok {
			continue
		}
		if err := m.RunOne(ctx, migration); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		m.logger.Info("No pending migrations")
	} else {
		m.logger.Info("Migrations applied", "count", applied)
	}
	return nil
}

// maybeApplySnapshot bootstraps an empty database from the configured schema
// snapshot. The snapshot SQL, the tracking table DDL and the snapshot's
// version record are all applied in one transaction. It reports whether a
// snapshot was applied.
func (m *Migrator) maybeApplySnapshot(ctx context.Context, target *int64) (bool, error) {
	if m.snapshots == nil {
		return false, nil
	}
	snap, ok, err := m.snapshots.Find()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	empty, err := m.IsDatabaseEmpty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		return false, nil
	}

	// A snapshot newer than the requested target cannot be used: the target
	// must be reached by replaying individual migrations instead.
	if target != nil && snap.Version != nil && snap.Version.Identifier > *target {
		m.logger.Info("Skipping schema snapshot newer than target",
			"resource", snap.Resource,
			"snapshot", snap.Version.Identifier,
			"target", *target,
		)
		return false, nil
	}

	m.logger.Info("Bootstrapping from schema snapshot", "resource", snap.Resource)

	err = m.conn.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := executeSQLStatements(ctx, m.conn, snap.SQL); err != nil {
			return err
		}
		if err := m.tracker.EnsureTableExists(ctx); err != nil {
			return err
		}
		if snap.Version != nil {
			name := snap.Version.Name
			if name == "" {
				name = fmt.Sprintf("Schema snapshot %s", snap.Resource)
			}
			return m.tracker.Insert(ctx, snap.Version.Identifier, name, time.Now().UTC())
		}
		return nil
	})
	if err != nil {
		if isCancellation(err) {
			return false, err
		}
		return false, &SnapshotError{Resource: snap.Resource, Err: err}
	}

	if snap.Version != nil {
		m.logger.Info("Schema snapshot applied",
			"resource", snap.Resource,
			"identifier", snap.Version.Identifier,
		)
	} else {
		m.logger.Info("Schema snapshot applied", "resource", snap.Resource)
	}
	return true, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
