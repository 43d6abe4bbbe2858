package migrator

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/seshatdb/seshat/core/schemaheader"
)

// ResourceContainer is a named collection of readable resources, typically
// an embedded or on-disk directory of SQL files.
type ResourceContainer interface {
	ListResourceNames() ([]string, error)
	OpenResource(name string) (io.ReadCloser, error)
}

// FSResourceContainer adapts an fs.FS into a ResourceContainer.
type FSResourceContainer struct {
	fsys fs.FS
}

// NewFSResourceContainer creates a resource container over fsys.
func NewFSResourceContainer(fsys fs.FS) *FSResourceContainer {
	return &FSResourceContainer{fsys: fsys}
}

// ListResourceNames returns the paths of all regular files in the container.
func (c *FSResourceContainer) ListResourceNames() ([]string, error) {
	var names []string
	err := fs.WalkDir(c.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot resources: %w", err)
	}
	return names, nil
}

// OpenResource opens the named resource for reading.
func (c *FSResourceContainer) OpenResource(name string) (io.ReadCloser, error) {
	f, err := c.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot resource %q: %w", name, err)
	}
	return f, nil
}

// SchemaSnapshot is a discovered schema snapshot script with its declared
// version, if any.
type SchemaSnapshot struct {
	Resource string
	SQL      string
	Version  *schemaheader.Version
}

// SnapshotSource locates the schema snapshot for an environment across one
// or more resource containers.
type SnapshotSource struct {
	environment string
	containers  []ResourceContainer
}

// NewSnapshotSource creates a snapshot source. environment selects
// schema.<environment>.sql over the plain schema.sql fallback; an empty
// environment prefers schema.sql, accepting any schema.*.sql when no plain
// snapshot exists.
func NewSnapshotSource(environment string, containers ...ResourceContainer) *SnapshotSource {
	return &SnapshotSource{environment: environment, containers: containers}
}

// NewFSSnapshotSource is a convenience wrapping filesystems in resource
// containers.
func NewFSSnapshotSource(environment string, filesystems ...fs.FS) *SnapshotSource {
	containers := make([]ResourceContainer, 0, len(filesystems))
	for _, fsys := range filesystems {
		containers = append(containers, NewFSResourceContainer(fsys))
	}
	return NewSnapshotSource(environment, containers...)
}

// Find returns the first matching snapshot across the containers, in
// container order. Absence of a snapshot is not an error: it returns
// (nil, false, nil).
func (s *SnapshotSource) Find() (*SchemaSnapshot, bool, error) {
	for _, container := range s.containers {
		names, err := container.ListResourceNames()
		if err != nil {
			return nil, false, err
		}
		name, ok := s.locateSnapshot(names)
		if !ok {
			continue
		}

		r, err := container.OpenResource(name)
		if err != nil {
			return nil, false, err
		}
		data, err := io.ReadAll(r)
		closeErr := r.Close()
		if err != nil {
			return nil, false, fmt.Errorf("failed to read snapshot resource %q: %w", name, err)
		}
		if closeErr != nil {
			return nil, false, fmt.Errorf("failed to close snapshot resource %q: %w", name, closeErr)
		}

		snap := &SchemaSnapshot{Resource: name, SQL: string(data)}
		if version, ok := schemaheader.Parse(snap.SQL); ok {
			snap.Version = version
		}
		return snap, true, nil
	}
	return nil, false, nil
}

// locateSnapshot picks the best snapshot name from the list. With an
// environment configured its schema.<env>.sql wins, falling back to plain
// schema.sql. Without one, plain schema.sql wins before any
// environment-specific file is considered.
func (s *SnapshotSource) locateSnapshot(names []string) (string, bool) {
	if s.environment != "" {
		target := "schema." + strings.ToLower(s.environment) + ".sql"
		for _, name := range names {
			if matchesSuffix(name, target) {
				return name, true
			}
		}
	}
	for _, name := range names {
		if matchesSuffix(name, "schema.sql") {
			return name, true
		}
	}
	if s.environment == "" {
		for _, name := range names {
			if matchesAnyEnvironment(name) {
				return name, true
			}
		}
	}
	return "", false
}

// matchesSuffix reports whether name is target itself or ends with target
// at a path ("/") or namespace (".") boundary. Matching is case-insensitive.
func matchesSuffix(name, target string) bool {
	lower := strings.ToLower(name)
	if lower == target {
		return true
	}
	return strings.HasSuffix(lower, "/"+target) || strings.HasSuffix(lower, "."+target)
}

// matchesAnyEnvironment reports whether name contains a schema.<env>.sql
// segment for any environment, at a boundary.
func matchesAnyEnvironment(name string) bool {
	lower := strings.ToLower(name)
	for i := 0; ; {
		j := strings.Index(lower[i:], "schema.")
		if j < 0 {
			return false
		}
		j += i
		atBoundary := j == 0 || lower[j-1] == '/' || lower[j-1] == '.'
		if atBoundary {
			if ok, _ := path.Match("schema.*.sql", lower[j:]); ok {
				return true
			}
		}
		i = j + 1
	}
}
