package schemagen_test

import (
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/seshatdb/seshat/core/schemaheader"
	"github.com/seshatdb/seshat/dbschema/types"
	"github.com/seshatdb/seshat/migration/schemagen"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func fixtureSchema() *types.DBSchema {
	return &types.DBSchema{
		Schemas: []types.DBSchemaName{
			{Name: "public", Owner: "postgres"},
			{Name: "app", Owner: "postgres"},
		},
		Extensions: []types.DBExtension{
			{Name: "pgcrypto", Version: "1.3", Schema: "public", Relocatable: true},
		},
		Enums: []types.DBEnum{
			{Schema: "public", Name: "order_status", Values: []string{"pending", "shipped", "it's done"}},
		},
		Composites: []types.DBCompositeType{
			{Schema: "public", Name: "money_value", Attributes: []types.DBCompositeAttribute{
				{Name: "amount", DataType: "numeric"},
				{Name: "currency", DataType: "text"},
			}},
		},
		Domains: []types.DBDomain{
			{Schema: "public", Name: "positive_int", BaseType: "integer", NotNull: true,
				CheckClause: strPtr("CHECK (VALUE > 0)")},
		},
		Sequences: []types.DBSequence{
			{Schema: "public", Name: "order_seq", DataType: "bigint",
				StartValue: 1, Increment: 1, MinValue: 1, MaxValue: 9223372036854775807},
		},
		Tables: []types.DBTable{
			{Schema: "public", Name: "orders", Comment: "customer orders", Columns: []types.DBColumn{
				{Name: "id", DataType: "bigint", IsNullable: "NO", OrdinalPosition: 1},
				{Name: "status", DataType: "USER-DEFINED", UDTSchema: "public", UDTName: "order_status",
					IsNullable: "NO", ColumnDefault: strPtr("'pending'::order_status"), OrdinalPosition: 2},
				{Name: "note", DataType: "character varying", CharacterMaxLength: intPtr(255),
					IsNullable: "YES", OrdinalPosition: 3},
				{Name: "tags", DataType: "ARRAY", UDTName: "_text", IsNullable: "YES", OrdinalPosition: 4},
			}},
		},
		Constraints: []types.DBConstraint{
			{Schema: "public", Table: "orders", Name: "orders_status_fkey",
				Type: types.ConstraintForeignKey, Definition: "FOREIGN KEY (status) REFERENCES statuses(name)"},
			{Schema: "public", Table: "orders", Name: "orders_pkey",
				Type: types.ConstraintPrimaryKey, Definition: "PRIMARY KEY (id)"},
			// Catalog occasionally reports rows without a kind; they must be
			// skipped, not rendered.
			{Schema: "public", Table: "orders", Name: "mystery", Type: "", Definition: "???"},
		},
		Indexes: []types.DBIndex{
			{Schema: "public", Table: "orders", Name: "orders_pkey", IsUnique: true, IsPrimary: true,
				BacksConstraint: true, Definition: "CREATE UNIQUE INDEX orders_pkey ON public.orders USING btree (id)"},
			{Schema: "public", Table: "orders", Name: "orders_note_idx",
				Definition: "CREATE INDEX orders_note_idx ON public.orders USING btree (note)"},
			{Schema: "public", Table: "orders", Name: "orders_note_uniq", IsUnique: true,
				Definition: "CREATE UNIQUE INDEX orders_note_uniq ON public.orders USING btree (note)"},
		},
		Functions: []types.DBFunction{
			{Schema: "public", Name: "touch_updated_at", Kind: "f",
				Definition: "CREATE OR REPLACE FUNCTION public.touch_updated_at()\n RETURNS trigger\n LANGUAGE plpgsql\nAS $function$\nBEGIN\n    NEW.updated_at := now();\n    RETURN NEW;\nEND;\n$function$\n"},
		},
		Triggers: []types.DBTrigger{
			{Schema: "public", Table: "orders", Name: "orders_touch",
				Definition: "CREATE TRIGGER orders_touch BEFORE UPDATE ON public.orders FOR EACH ROW EXECUTE FUNCTION touch_updated_at()"},
		},
		Views: []types.DBView{
			{Schema: "public", Name: "open_orders",
				Definition: " SELECT id, note\n   FROM orders\n  WHERE status = 'pending'::order_status;"},
		},
	}
}

func TestRender_headerRoundTrip(t *testing.T) {
	c := qt.New(t)

	version := &schemaheader.Version{Identifier: 202401011200, Name: "Create Orders"}
	generatedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	script := schemagen.Render(fixtureSchema(), version, generatedAt)

	c.Assert(script, qt.Contains, "-- PostgreSQL database schema\n")
	c.Assert(script, qt.Contains, "-- Generated: 2024-06-01T12:00:00Z\n")

	parsed, ok := schemaheader.Parse(script)
	c.Assert(ok, qt.IsTrue)
	c.Assert(parsed, qt.DeepEquals, version)
}

func TestRender_noVersion(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())
	c.Assert(script, qt.Contains, "-- Migration version: (none)\n")

	_, ok := schemaheader.Parse(script)
	c.Assert(ok, qt.IsFalse)
}

func TestRender_sectionOrder(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())

	markers := []string{
		`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,
		`CREATE SCHEMA IF NOT EXISTS "app"`,
		`CREATE TYPE "public"."order_status" AS ENUM`,
		`CREATE TYPE "public"."money_value" AS`,
		`CREATE DOMAIN "public"."positive_int" AS integer NOT NULL CHECK (VALUE > 0)`,
		`CREATE SEQUENCE IF NOT EXISTS "public"."order_seq"`,
		`CREATE TABLE IF NOT EXISTS "public"."orders"`,
		`ADD CONSTRAINT "orders_pkey" PRIMARY KEY (id)`,
		`ADD CONSTRAINT "orders_status_fkey" FOREIGN KEY`,
		`CREATE INDEX IF NOT EXISTS orders_note_idx`,
		`CREATE OR REPLACE FUNCTION public.touch_updated_at()`,
		`CREATE OR REPLACE TRIGGER orders_touch`,
		`CREATE OR REPLACE VIEW "public"."open_orders" AS`,
	}

	pos := -1
	for _, marker := range markers {
		idx := strings.Index(script, marker)
		c.Assert(idx >= 0, qt.IsTrue, qt.Commentf("missing %q", marker))
		c.Assert(idx > pos, qt.IsTrue, qt.Commentf("%q out of order", marker))
		pos = idx
	}
}

func TestRender_idempotentForms(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())

	// Types and constraints have no native IF NOT EXISTS and get DO-block
	// existence guards instead.
	c.Assert(script, qt.Contains, "IF NOT EXISTS (SELECT 1 FROM pg_type")
	c.Assert(script, qt.Contains,
		`IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'orders_pkey' AND conrelid = '"public"."orders"'::regclass)`)

	c.Assert(script, qt.Contains, "CREATE UNIQUE INDEX IF NOT EXISTS orders_note_uniq")

	// The primary key's backing index is created by the constraint itself.
	c.Assert(script, qt.Not(qt.Contains), "CREATE UNIQUE INDEX IF NOT EXISTS orders_pkey")

	// pg_get_viewdef's trailing semicolon must not double up.
	c.Assert(script, qt.Not(qt.Contains), ";;")
}

func TestRender_quoting(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())

	// Embedded single quotes in enum labels are doubled.
	c.Assert(script, qt.Contains, "'it''s done'")
	c.Assert(script, qt.Contains, "COMMENT ON TABLE \"public\".\"orders\" IS 'customer orders';")
}

func TestRender_skipsRowsWithMissingEssentials(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())
	c.Assert(script, qt.Not(qt.Contains), "mystery")
}

func TestRender_columns(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(fixtureSchema(), nil, time.Now())

	c.Assert(script, qt.Contains, `"id" bigint NOT NULL`)
	c.Assert(script, qt.Contains, `"status" "public"."order_status" NOT NULL DEFAULT 'pending'::order_status`)
	c.Assert(script, qt.Contains, `"note" character varying(255)`)
	c.Assert(script, qt.Contains, `"tags" text[]`)
}

func TestRender_emptySchema(t *testing.T) {
	c := qt.New(t)

	script := schemagen.Render(&types.DBSchema{}, nil, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	// Just the header block.
	c.Assert(script, qt.Equals, `--
-- PostgreSQL database schema
-- Generated: 2024-06-01T00:00:00Z
-- Migration version: (none)
--
`)
}
