// Package schemaheader reads and writes the migration-version line embedded
// in the comment header of generated schema snapshot files.
//
// The line looks like one of:
//
//	-- Migration version: 202401011200 (create_users)
//	-- Migration version: (none)
//
// Matching is case-insensitive and tolerant of extra whitespace. The line
// does not have to be the first line of the document; the first matching
// line wins.
package schemaheader

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version identifies the migration a schema snapshot corresponds to.
type Version struct {
	Identifier int64
	Name       string
}

var (
	headerLineRx = regexp.MustCompile(`(?i)^\s*--+\s*migration\s+version:\s*(.+?)\s*$`)
	versionRx    = regexp.MustCompile(`^(\d+)\s*\((.*)\)$`)
)

// Parse scans doc for the first migration-version line and returns the
// declared version. The second return is false when no version is declared:
// the line is absent, reads "(none)", or its identifier does not parse.
// Malformed input is never an error; callers treat it as a snapshot that
// predates version tracking.
func Parse(doc string) (*Version, bool) {
	scanner := bufio.NewScanner(strings.NewReader(doc))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := headerLineRx.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		return parsePayload(m[1])
	}
	return nil, false
}

func parsePayload(payload string) (*Version, bool) {
	if strings.EqualFold(payload, "(none)") {
		return nil, false
	}
	m := versionRx.FindStringSubmatch(payload)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, false
	}
	return &Version{Identifier: id, Name: m[2]}, true
}

// Render writes the migration-version line for v. A nil v renders the
// explicit no-version form. Render and Parse round-trip for every
// representable version.
func Render(v *Version) string {
	if v == nil {
		return "-- Migration version: (none)"
	}
	return fmt.Sprintf("-- Migration version: %d (%s)", v.Identifier, v.Name)
}
