package migrator

import "fmt"

// MigrationError wraps the failure of a single migration: its up-action
// returned an error, or recording it in the tracking table failed. The
// migration's transaction has been rolled back by the time this surfaces.
type MigrationError struct {
	Identifier int64
	Name       string
	Err        error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Identifier, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// SnapshotError wraps a failure while bootstrapping from a schema snapshot.
// The entire bootstrap transaction has been rolled back, so a retry is safe.
type SnapshotError struct {
	Resource string
	Err      error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("applying schema snapshot %q failed: %v", e.Resource, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}
