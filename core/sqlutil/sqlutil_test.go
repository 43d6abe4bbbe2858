package sqlutil_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/seshatdb/seshat/core/sqlutil"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain identifier",
			input:    "users",
			expected: `"users"`,
		},
		{
			name:     "mixed case preserved",
			input:    "UserAccounts",
			expected: `"UserAccounts"`,
		},
		{
			name:     "embedded double quote doubled",
			input:    `we"ird`,
			expected: `"we""ird"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(sqlutil.QuoteIdentifier(tt.input), qt.Equals, tt.expected)
		})
	}
}

func TestQualifyIdentifier(t *testing.T) {
	c := qt.New(t)

	c.Assert(sqlutil.QualifyIdentifier("seshat", "migrations"), qt.Equals, `"seshat"."migrations"`)
	c.Assert(sqlutil.QualifyIdentifier("", "migrations"), qt.Equals, `"migrations"`)
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain literal",
			input:    "active",
			expected: "'active'",
		},
		{
			name:     "embedded single quote doubled",
			input:    "it's",
			expected: "'it''s'",
		},
		{
			name:     "empty literal",
			input:    "",
			expected: "''",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(sqlutil.QuoteLiteral(tt.input), qt.Equals, tt.expected)
		})
	}
}

func TestSplitSQLStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name: "single statement",
			sql:  "CREATE TABLE users (id SERIAL PRIMARY KEY);",
			expected: []string{
				"CREATE TABLE users (id SERIAL PRIMARY KEY)",
			},
		},
		{
			name: "multiple statements",
			sql:  "CREATE TABLE users (id SERIAL PRIMARY KEY); CREATE INDEX idx_users_id ON users(id);",
			expected: []string{
				"CREATE TABLE users (id SERIAL PRIMARY KEY)",
				"CREATE INDEX idx_users_id ON users(id)",
			},
		},
		{
			name: "semicolon inside string literal",
			sql:  "INSERT INTO notes (body) VALUES ('one; two'); SELECT 1;",
			expected: []string{
				"INSERT INTO notes (body) VALUES ('one; two')",
				"SELECT 1",
			},
		},
		{
			name: "semicolon inside dollar-quoted body",
			sql:  "DO $$\nBEGIN\n  PERFORM 1;\nEND\n$$; SELECT 2;",
			expected: []string{
				"DO $$\nBEGIN\n  PERFORM 1;\nEND\n$$",
				"SELECT 2",
			},
		},
		{
			name: "tagged dollar quote",
			sql:  "CREATE FUNCTION f() RETURNS void LANGUAGE sql AS $body$SELECT 1;$body$;",
			expected: []string{
				"CREATE FUNCTION f() RETURNS void LANGUAGE sql AS $body$SELECT 1;$body$",
			},
		},
		{
			name: "semicolon inside line comment",
			sql:  "SELECT 1 -- trailing; comment\n; SELECT 2;",
			expected: []string{
				"SELECT 1 -- trailing; comment",
				"SELECT 2",
			},
		},
		{
			name:     "empty SQL",
			sql:      "",
			expected: []string{},
		},
		{
			name:     "whitespace only",
			sql:      "  \n\t ;; ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(sqlutil.SplitSQLStatements(tt.sql), qt.DeepEquals, tt.expected)
		})
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{
			name:     "line comment removed",
			sql:      "-- create users\nCREATE TABLE users (id INT)",
			expected: "\nCREATE TABLE users (id INT)",
		},
		{
			name:     "block comment removed",
			sql:      "CREATE /* inline */ TABLE users (id INT)",
			expected: "CREATE  TABLE users (id INT)",
		},
		{
			name:     "comment marker inside string kept",
			sql:      "SELECT '-- not a comment'",
			expected: "SELECT '-- not a comment'",
		},
		{
			name:     "comment marker inside dollar quote kept",
			sql:      "DO $$ -- still body $$",
			expected: "DO $$ -- still body $$",
		},
		{
			name:     "only comments",
			sql:      "-- one\n/* two */",
			expected: "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(sqlutil.StripComments(tt.sql), qt.Equals, tt.expected)
		})
	}
}
