package migrator

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MigrationProvider provides a stable, deduplicated set of migrations per
// call. Enumeration order is not part of the contract; the orchestrator
// sorts by identifier before applying.
type MigrationProvider interface {
	Migrations() []*Migration
}

// RegisteredMigrationProvider is an in-memory implementation of
// MigrationProvider for explicitly constructed migrations.
type RegisteredMigrationProvider struct {
	migrations []*Migration
	sorted     bool
}

// NewRegisteredMigrationProvider creates an in-memory provider with the
// given migrations.
func NewRegisteredMigrationProvider(migrations ...*Migration) *RegisteredMigrationProvider {
	return &RegisteredMigrationProvider{migrations: migrations}
}

// Register adds a migration to the provider. Identifier uniqueness is the
// caller's contract; duplicates are not resolved here.
func (p *RegisteredMigrationProvider) Register(migration *Migration) {
	p.migrations = append(p.migrations, migration)
	p.sorted = false
}

// Migrations returns the registered migrations sorted by identifier.
func (p *RegisteredMigrationProvider) Migrations() []*Migration {
	if !p.sorted {
		sortMigrations(p.migrations)
		p.sorted = true
	}
	return p.migrations
}

// FSMigrationProvider loads migrations from a filesystem. Files named
// <12 digits>_<name>.sql become up-only migrations; other files are ignored.
type FSMigrationProvider struct {
	fsys       fs.FS
	migrations []*Migration
}

// NewFSMigrationProvider scans fsys for migration files. Two files declaring
// the same identifier are an error.
func NewFSMigrationProvider(fsys fs.FS) (*FSMigrationProvider, error) {
	p := &FSMigrationProvider{fsys: fsys}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Migrations returns the migrations found on the filesystem, sorted by
// identifier in ascending order.
func (p *FSMigrationProvider) Migrations() []*Migration {
	return p.migrations
}

func (p *FSMigrationProvider) load() error {
	seen := make(map[int64]string)

	err := fs.WalkDir(p.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}

		base := d.Name()[:len(d.Name())-len(".sql")]
		identifier, err := ParseIdentifier(base)
		if err != nil {
			// Not a migration file.
			return nil
		}
		name, err := ParseName(base)
		if err != nil {
			return nil
		}

		if prev, ok := seen[identifier]; ok {
			return fmt.Errorf("duplicate migration identifier %d in %q and %q", identifier, prev, path)
		}
		seen[identifier] = path

		p.migrations = append(p.migrations, &Migration{
			Identifier: identifier,
			Name:       HumanizeName(name),
			Up:         MigrationFuncFromSQLFile(path, p.fsys),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	sortMigrations(p.migrations)
	return nil
}

func sortMigrations(migrations []*Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Identifier < migrations[j].Identifier
	})
}

// NameError reports a string that does not follow the migration naming
// convention <12 digits>_<name>.
type NameError struct {
	Input  string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid migration name %q: %s", e.Input, e.Reason)
}

const identifierDigits = 12

var validNameRx = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// splitConvention splits a convention string like "202401011200_create_users"
// (an optional leading underscore is tolerated) into its identifier digits
// and name segment.
func splitConvention(s string) (digits, name string, err error) {
	input := s
	s = strings.TrimPrefix(s, "_")
	if len(s) < identifierDigits+2 {
		return "", "", &NameError{Input: input, Reason: "too short for <12 digits>_<name>"}
	}
	digits, rest := s[:identifierDigits], s[identifierDigits:]
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return "", "", &NameError{Input: input, Reason: "identifier is not 12 digits"}
		}
	}
	if rest[0] != '_' {
		return "", "", &NameError{Input: input, Reason: "missing underscore after identifier"}
	}
	name = rest[1:]
	if !IsValidName(name) {
		return "", "", &NameError{Input: input, Reason: "name must start with a letter and contain only letters, digits and underscores"}
	}
	return digits, name, nil
}

// ParseIdentifier extracts the 12-digit identifier from a convention string.
func ParseIdentifier(s string) (int64, error) {
	digits, _, err := splitConvention(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, &NameError{Input: s, Reason: "identifier does not fit in int64"}
	}
	return id, nil
}

// ParseName extracts the name segment from a convention string.
func ParseName(s string) (string, error) {
	_, name, err := splitConvention(s)
	if err != nil {
		return "", err
	}
	return name, nil
}

// IsValidName reports whether s is a valid migration name segment.
func IsValidName(s string) bool {
	return validNameRx.MatchString(s)
}

var nameCaser = cases.Title(language.English)

// HumanizeName turns an underscored name segment into a display name:
// "create_users_table" becomes "Create Users Table".
func HumanizeName(name string) string {
	return nameCaser.String(strings.ReplaceAll(name, "_", " "))
}
