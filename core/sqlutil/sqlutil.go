// Package sqlutil provides small SQL text helpers shared by the migration
// runner and the schema script generator.
//
// The helpers distinguish identifiers (quoted, never parameterized) from
// values (escaped as literals or passed through the driver's parameter
// mechanism). Statement splitting understands string literals, quoted
// identifiers, dollar-quoted bodies and both comment styles, so semicolons
// inside any of those never split a statement.
package sqlutil

import (
	"strings"
)

// QuoteIdentifier quotes a single SQL identifier, doubling any embedded
// double quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifyIdentifier quotes and joins a schema-qualified identifier.
func QualifyIdentifier(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteLiteral renders s as a SQL string literal, doubling any embedded
// single quotes.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateLineComment
	stateBlockComment
	stateDollarQuote
)

// SplitSQLStatements splits sql into individual statements on top-level
// semicolons. Statements are trimmed; empty statements are dropped. The
// returned slice is never nil.
func SplitSQLStatements(sql string) []string {
	statements := []string{}
	var (
		buf       strings.Builder
		state     = stateNormal
		dollarTag string
	)

	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch state {
		case stateNormal:
			switch {
			case ch == ';':
				flush()
				continue
			case ch == '\'':
				state = stateSingleQuote
			case ch == '"':
				state = stateDoubleQuote
			case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stateLineComment
			case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stateBlockComment
			case ch == '$':
				if tag, ok := dollarTagAt(sql, i); ok {
					state = stateDollarQuote
					dollarTag = tag
					buf.WriteString(tag)
					i += len(tag) - 1
					continue
				}
			}
		case stateSingleQuote:
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if ch == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				buf.WriteByte(ch)
				buf.WriteByte(sql[i+1])
				i++
				state = stateNormal
				continue
			}
		case stateDollarQuote:
			if ch == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				buf.WriteString(dollarTag)
				i += len(dollarTag) - 1
				state = stateNormal
				continue
			}
		}

		buf.WriteByte(ch)
	}
	flush()

	return statements
}

// StripComments removes line and block comments from sql, leaving string
// literals, quoted identifiers and dollar-quoted bodies intact.
func StripComments(sql string) string {
	var (
		buf       strings.Builder
		state     = stateNormal
		dollarTag string
	)

	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		switch state {
		case stateNormal:
			switch {
			case ch == '\'':
				state = stateSingleQuote
			case ch == '"':
				state = stateDoubleQuote
			case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stateLineComment
				i++
				continue
			case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stateBlockComment
				i++
				continue
			case ch == '$':
				if tag, ok := dollarTagAt(sql, i); ok {
					state = stateDollarQuote
					dollarTag = tag
					buf.WriteString(tag)
					i += len(tag) - 1
					continue
				}
			}
		case stateSingleQuote:
			if ch == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if ch == '\n' {
				state = stateNormal
				buf.WriteByte(ch)
			}
			continue
		case stateBlockComment:
			if ch == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				state = stateNormal
				i++
			}
			continue
		case stateDollarQuote:
			if ch == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				buf.WriteString(dollarTag)
				i += len(dollarTag) - 1
				state = stateNormal
				continue
			}
		}

		buf.WriteByte(ch)
	}

	return buf.String()
}

// dollarTagAt reports whether a dollar-quote tag ($$, $body$, ...) starts at
// position i and returns the full tag including both dollar signs.
func dollarTagAt(sql string, i int) (string, bool) {
	if sql[i] != '$' {
		return "", false
	}
	for j := i + 1; j < len(sql); j++ {
		ch := sql[j]
		switch {
		case ch == '$':
			return sql[i : j+1], true
		case ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9' && j > i+1):
			// tag characters
		default:
			return "", false
		}
	}
	return "", false
}
