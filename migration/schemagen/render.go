package schemagen

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seshatdb/seshat/core/schemaheader"
	"github.com/seshatdb/seshat/core/sqlutil"
	"github.com/seshatdb/seshat/dbschema/types"
)

// Render turns a catalog snapshot into a single idempotent SQL script.
// Sections are emitted in dependency order: later sections reference objects
// created by earlier ones. The script is pure text generation over the
// snapshot; it performs no database access and is safe to call concurrently.
func Render(schema *types.DBSchema, version *schemaheader.Version, generatedAt time.Time) string {
	var b strings.Builder

	renderScriptHeader(&b, version, generatedAt)
	renderExtensions(&b, schema.Extensions)
	renderSchemas(&b, schema.Schemas)
	renderEnums(&b, schema.Enums)
	renderComposites(&b, schema.Composites)
	renderDomains(&b, schema.Domains)
	renderSequences(&b, schema.Sequences)
	renderTables(&b, schema.Tables)
	renderConstraints(&b, schema.Constraints)
	renderIndexes(&b, schema.Indexes)
	renderFunctions(&b, schema.Functions)
	renderTriggers(&b, schema.Triggers)
	renderViews(&b, schema.Views)

	return b.String()
}

func renderScriptHeader(b *strings.Builder, version *schemaheader.Version, generatedAt time.Time) {
	b.WriteString("--\n")
	b.WriteString("-- PostgreSQL database schema\n")
	fmt.Fprintf(b, "-- Generated: %s\n", generatedAt.UTC().Format(time.RFC3339))
	b.WriteString(schemaheader.Render(version))
	b.WriteString("\n--\n")
}

func renderSectionHeader(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n--\n-- %s\n--\n\n", title)
}

func renderExtensions(b *strings.Builder, extensions []types.DBExtension) {
	if len(extensions) == 0 {
		return
	}
	renderSectionHeader(b, "Extensions")
	for _, ext := range extensions {
		fmt.Fprintf(b, "CREATE EXTENSION IF NOT EXISTS %s", sqlutil.QuoteIdentifier(ext.Name))
		if ext.Schema != "" && ext.Relocatable {
			fmt.Fprintf(b, " WITH SCHEMA %s", sqlutil.QuoteIdentifier(ext.Schema))
		}
		b.WriteString(";\n")
	}
}

func renderSchemas(b *strings.Builder, schemas []types.DBSchemaName) {
	var names []string
	for _, s := range schemas {
		if s.Name == "public" {
			continue
		}
		names = append(names, s.Name)
	}
	if len(names) == 0 {
		return
	}
	renderSectionHeader(b, "Schemas")
	for _, name := range names {
		fmt.Fprintf(b, "CREATE SCHEMA IF NOT EXISTS %s;\n", sqlutil.QuoteIdentifier(name))
	}
}

// typeGuard wraps stmt in a DO block that only runs it when the named type
// does not exist yet. CREATE TYPE and CREATE DOMAIN have no IF NOT EXISTS
// form.
func typeGuard(b *strings.Builder, schema, name, stmt string) {
	b.WriteString("DO $$\nBEGIN\n")
	fmt.Fprintf(b, "    IF NOT EXISTS (SELECT 1 FROM pg_type t JOIN pg_namespace n ON n.oid = t.typnamespace WHERE t.typname = %s AND n.nspname = %s) THEN\n",
		sqlutil.QuoteLiteral(name), sqlutil.QuoteLiteral(schema))
	fmt.Fprintf(b, "        %s;\n", stmt)
	b.WriteString("    END IF;\nEND\n$$;\n")
}

func renderEnums(b *strings.Builder, enums []types.DBEnum) {
	if len(enums) == 0 {
		return
	}
	renderSectionHeader(b, "Enum types")
	for _, enum := range enums {
		labels := make([]string, 0, len(enum.Values))
		for _, v := range enum.Values {
			labels = append(labels, sqlutil.QuoteLiteral(v))
		}
		stmt := fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)",
			sqlutil.QualifyIdentifier(enum.Schema, enum.Name),
			strings.Join(labels, ", "))
		typeGuard(b, enum.Schema, enum.Name, stmt)
	}
}

func renderComposites(b *strings.Builder, composites []types.DBCompositeType) {
	if len(composites) == 0 {
		return
	}
	renderSectionHeader(b, "Composite types")
	for _, composite := range composites {
		attrs := make([]string, 0, len(composite.Attributes))
		for _, attr := range composite.Attributes {
			attrs = append(attrs, fmt.Sprintf("%s %s", sqlutil.QuoteIdentifier(attr.Name), attr.DataType))
		}
		stmt := fmt.Sprintf("CREATE TYPE %s AS (%s)",
			sqlutil.QualifyIdentifier(composite.Schema, composite.Name),
			strings.Join(attrs, ", "))
		typeGuard(b, composite.Schema, composite.Name, stmt)
	}
}

func renderDomains(b *strings.Builder, domains []types.DBDomain) {
	if len(domains) == 0 {
		return
	}
	renderSectionHeader(b, "Domain types")
	for _, domain := range domains {
		stmt := fmt.Sprintf("CREATE DOMAIN %s AS %s",
			sqlutil.QualifyIdentifier(domain.Schema, domain.Name), domain.BaseType)
		if domain.Default != nil {
			stmt += " DEFAULT " + *domain.Default
		}
		if domain.NotNull {
			stmt += " NOT NULL"
		}
		if domain.CheckClause != nil {
			stmt += " " + *domain.CheckClause
		}
		typeGuard(b, domain.Schema, domain.Name, stmt)
	}
}

func renderSequences(b *strings.Builder, sequences []types.DBSequence) {
	if len(sequences) == 0 {
		return
	}
	renderSectionHeader(b, "Sequences")
	for _, seq := range sequences {
		fmt.Fprintf(b, "CREATE SEQUENCE IF NOT EXISTS %s", sqlutil.QualifyIdentifier(seq.Schema, seq.Name))
		if seq.DataType != "" {
			fmt.Fprintf(b, " AS %s", seq.DataType)
		}
		fmt.Fprintf(b, " START WITH %d INCREMENT BY %d MINVALUE %d MAXVALUE %d",
			seq.StartValue, seq.Increment, seq.MinValue, seq.MaxValue)
		if seq.Cycle {
			b.WriteString(" CYCLE")
		}
		b.WriteString(";\n")
	}
}

func renderTables(b *strings.Builder, tables []types.DBTable) {
	if len(tables) == 0 {
		return
	}
	renderSectionHeader(b, "Tables")
	for _, table := range tables {
		qualified := sqlutil.QualifyIdentifier(table.Schema, table.Name)
		fmt.Fprintf(b, "CREATE TABLE IF NOT EXISTS %s (\n", qualified)
		for i, column := range table.Columns {
			b.WriteString("    " + renderColumn(column))
			if i < len(table.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(");\n")
		if table.Comment != "" {
			fmt.Fprintf(b, "COMMENT ON TABLE %s IS %s;\n", qualified, sqlutil.QuoteLiteral(table.Comment))
		}
	}
}

func renderColumn(column types.DBColumn) string {
	def := fmt.Sprintf("%s %s", sqlutil.QuoteIdentifier(column.Name), columnType(column))
	if column.IsNullable == "NO" {
		def += " NOT NULL"
	}
	if column.ColumnDefault != nil {
		def += " DEFAULT " + *column.ColumnDefault
	}
	return def
}

// columnType maps an information_schema column description back to a type
// expression. USER-DEFINED and ARRAY columns fall back to the underlying
// udt_name, which is always precise enough to recreate the column.
func columnType(column types.DBColumn) string {
	switch column.DataType {
	case "USER-DEFINED":
		return sqlutil.QualifyIdentifier(column.UDTSchema, column.UDTName)
	case "ARRAY":
		return strings.TrimPrefix(column.UDTName, "_") + "[]"
	case "character varying":
		if column.CharacterMaxLength != nil {
			return fmt.Sprintf("character varying(%d)", *column.CharacterMaxLength)
		}
	case "character":
		if column.CharacterMaxLength != nil {
			return fmt.Sprintf("character(%d)", *column.CharacterMaxLength)
		}
	case "numeric":
		if column.NumericPrecision != nil && column.NumericScale != nil {
			return fmt.Sprintf("numeric(%d,%d)", *column.NumericPrecision, *column.NumericScale)
		}
	}
	return column.DataType
}

// constraintRank orders constraints so that primary keys come before the
// foreign keys that may reference them.
func constraintRank(constraintType string) int {
	switch constraintType {
	case types.ConstraintPrimaryKey:
		return 0
	case types.ConstraintUnique:
		return 1
	case types.ConstraintCheck:
		return 2
	case types.ConstraintForeignKey:
		return 3
	case types.ConstraintExclude:
		return 4
	default:
		return 5
	}
}

func renderConstraints(b *strings.Builder, constraints []types.DBConstraint) {
	// Rows with no recognized constraint kind or no name are skipped: the
	// catalog occasionally reports such rows and there is no valid SQL to
	// emit for them.
	kept := make([]types.DBConstraint, 0, len(constraints))
	for _, constraint := range constraints {
		if constraint.Type == "" || constraint.Name == "" || constraint.Definition == "" {
			continue
		}
		kept = append(kept, constraint)
	}
	if len(kept) == 0 {
		return
	}

	sort.SliceStable(kept, func(i, j int) bool {
		ri, rj := constraintRank(kept[i].Type), constraintRank(kept[j].Type)
		if ri != rj {
			return ri < rj
		}
		if kept[i].Schema != kept[j].Schema {
			return kept[i].Schema < kept[j].Schema
		}
		if kept[i].Table != kept[j].Table {
			return kept[i].Table < kept[j].Table
		}
		return kept[i].Name < kept[j].Name
	})

	renderSectionHeader(b, "Constraints")
	for _, constraint := range kept {
		qualified := sqlutil.QualifyIdentifier(constraint.Schema, constraint.Table)
		b.WriteString("DO $$\nBEGIN\n")
		fmt.Fprintf(b, "    IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = %s AND conrelid = %s::regclass) THEN\n",
			sqlutil.QuoteLiteral(constraint.Name), sqlutil.QuoteLiteral(qualified))
		fmt.Fprintf(b, "        ALTER TABLE %s ADD CONSTRAINT %s %s;\n",
			qualified, sqlutil.QuoteIdentifier(constraint.Name), constraint.Definition)
		b.WriteString("    END IF;\nEND\n$$;\n")
	}
}

func renderIndexes(b *strings.Builder, indexes []types.DBIndex) {
	kept := make([]types.DBIndex, 0, len(indexes))
	for _, index := range indexes {
		// Indexes backing a constraint are created by the constraint.
		if index.IsPrimary || index.BacksConstraint || index.Definition == "" {
			continue
		}
		kept = append(kept, index)
	}
	if len(kept) == 0 {
		return
	}

	renderSectionHeader(b, "Indexes")
	for _, index := range kept {
		b.WriteString(idempotentIndexDefinition(index.Definition))
		b.WriteString(";\n")
	}
}

// idempotentIndexDefinition rewrites pg_get_indexdef output to use
// CREATE [UNIQUE] INDEX IF NOT EXISTS.
func idempotentIndexDefinition(definition string) string {
	for _, prefix := range []string{"CREATE UNIQUE INDEX ", "CREATE INDEX "} {
		if strings.HasPrefix(definition, prefix) {
			return prefix + "IF NOT EXISTS " + definition[len(prefix):]
		}
	}
	return definition
}

func renderFunctions(b *strings.Builder, functions []types.DBFunction) {
	if len(functions) == 0 {
		return
	}
	renderSectionHeader(b, "Functions and procedures")
	for _, function := range functions {
		if function.Definition == "" {
			continue
		}
		// pg_get_functiondef already emits CREATE OR REPLACE.
		b.WriteString(strings.TrimRight(function.Definition, "\n"))
		b.WriteString(";\n\n")
	}
}

func renderTriggers(b *strings.Builder, triggers []types.DBTrigger) {
	if len(triggers) == 0 {
		return
	}
	renderSectionHeader(b, "Triggers")
	for _, trigger := range triggers {
		if trigger.Definition == "" {
			continue
		}
		definition := trigger.Definition
		// pg_get_triggerdef emits plain CREATE TRIGGER.
		if stripped, ok := strings.CutPrefix(definition, "CREATE TRIGGER "); ok {
			definition = "CREATE OR REPLACE TRIGGER " + stripped
		}
		b.WriteString(definition)
		b.WriteString(";\n")
	}
}

func renderViews(b *strings.Builder, views []types.DBView) {
	if len(views) == 0 {
		return
	}
	renderSectionHeader(b, "Views")
	for _, view := range views {
		if view.Definition == "" {
			continue
		}
		// pg_get_viewdef output ends with a semicolon of its own.
		definition := strings.TrimRight(strings.TrimSpace(view.Definition), ";")
		fmt.Fprintf(b, "CREATE OR REPLACE VIEW %s AS\n%s;\n",
			sqlutil.QualifyIdentifier(view.Schema, view.Name), definition)
	}
}
