// Package postgres implements the catalog query set: a fixed collection of
// read-only queries against the PostgreSQL system catalogs, each producing
// one typed collection. Nothing here mutates the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/seshatdb/seshat/dbschema"
	"github.com/seshatdb/seshat/dbschema/types"
)

// systemSchemas are never introspected.
var systemSchemas = []string{"pg_catalog", "information_schema", "pg_toast"}

// Reader reads schema objects from a PostgreSQL database, excluding system
// schemas, temporary-schema name patterns and any additionally excluded
// schemas (notably the migration-tracking schema).
type Reader struct {
	conn     *dbschema.DatabaseConnection
	excluded []string
}

// NewReader creates a catalog reader. extraExcluded lists schemas to hide on
// top of the built-in system schema denylist.
func NewReader(conn *dbschema.DatabaseConnection, extraExcluded ...string) *Reader {
	excluded := make([]string, 0, len(systemSchemas)+len(extraExcluded))
	excluded = append(excluded, systemSchemas...)
	excluded = append(excluded, extraExcluded...)
	return &Reader{conn: conn, excluded: excluded}
}

// ReadSchema reads the complete catalog snapshot. Collections are read
// sequentially; the snapshot is valid only for the instant of the read.
func (r *Reader) ReadSchema(ctx context.Context) (*types.DBSchema, error) {
	schema := &types.DBSchema{}

	var err error
	if schema.Schemas, err = r.readSchemas(ctx); err != nil {
		return nil, fmt.Errorf("failed to read schemas: %w", err)
	}
	if schema.Extensions, err = r.readExtensions(ctx); err != nil {
		return nil, fmt.Errorf("failed to read extensions: %w", err)
	}
	if schema.Enums, err = r.readEnums(ctx); err != nil {
		return nil, fmt.Errorf("failed to read enums: %w", err)
	}
	if schema.Composites, err = r.readComposites(ctx); err != nil {
		return nil, fmt.Errorf("failed to read composite types: %w", err)
	}
	if schema.Domains, err = r.readDomains(ctx); err != nil {
		return nil, fmt.Errorf("failed to read domains: %w", err)
	}
	if schema.Sequences, err = r.readSequences(ctx); err != nil {
		return nil, fmt.Errorf("failed to read sequences: %w", err)
	}
	if schema.Tables, err = r.readTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	if schema.Constraints, err = r.readConstraints(ctx); err != nil {
		return nil, fmt.Errorf("failed to read constraints: %w", err)
	}
	if schema.Indexes, err = r.readIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	if schema.Functions, err = r.readFunctions(ctx); err != nil {
		return nil, fmt.Errorf("failed to read functions: %w", err)
	}
	if schema.Triggers, err = r.readTriggers(ctx); err != nil {
		return nil, fmt.Errorf("failed to read triggers: %w", err)
	}
	if schema.Views, err = r.readViews(ctx); err != nil {
		return nil, fmt.Errorf("failed to read views: %w", err)
	}

	return schema, nil
}

// schemaFilter builds a WHERE fragment excluding denylisted schemas and
// temporary-schema name patterns for the given column expression. The schema
// names themselves are always parameterized.
func (r *Reader) schemaFilter(col string) (string, []any) {
	placeholders := make([]string, len(r.excluded))
	args := make([]any, len(r.excluded))
	for i, name := range r.excluded {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	clause := fmt.Sprintf(
		"%s NOT IN (%s) AND %s NOT LIKE 'pg_temp_%%' AND %s NOT LIKE 'pg_toast_temp_%%'",
		col, strings.Join(placeholders, ", "), col, col,
	)
	return clause, args
}

func (r *Reader) readSchemas(ctx context.Context) ([]types.DBSchemaName, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, pg_get_userbyid(n.nspowner) AS owner
		FROM pg_namespace n
		WHERE %s
		ORDER BY n.nspname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []types.DBSchemaName
	for rows.Next() {
		var s types.DBSchemaName
		if err := rows.Scan(&s.Name, &s.Owner); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

func (r *Reader) readExtensions(ctx context.Context) ([]types.DBExtension, error) {
	// pg_extension and pg_namespace are stable across PostgreSQL versions.
	query := `
		SELECT
			e.extname,
			e.extversion,
			n.nspname,
			e.extrelocatable,
			obj_description(e.oid, 'pg_extension') AS comment
		FROM pg_extension e
		JOIN pg_namespace n ON n.oid = e.extnamespace
		ORDER BY e.extname`

	rows, err := r.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var extensions []types.DBExtension
	for rows.Next() {
		var (
			ext     types.DBExtension
			comment sql.NullString
		)
		if err := rows.Scan(&ext.Name, &ext.Version, &ext.Schema, &ext.Relocatable, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan extension: %w", err)
		}
		if comment.Valid {
			ext.Comment = &comment.String
		}
		extensions = append(extensions, ext)
	}
	return extensions, rows.Err()
}

func (r *Reader) readEnums(ctx context.Context) ([]types.DBEnum, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE %s
		ORDER BY n.nspname, t.typname, e.enumsortorder`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enums []types.DBEnum
	for rows.Next() {
		var schema, name, label string
		if err := rows.Scan(&schema, &name, &label); err != nil {
			return nil, fmt.Errorf("failed to scan enum: %w", err)
		}
		if n := len(enums); n > 0 && enums[n-1].Schema == schema && enums[n-1].Name == name {
			enums[n-1].Values = append(enums[n-1].Values, label)
			continue
		}
		enums = append(enums, types.DBEnum{Schema: schema, Name: name, Values: []string{label}})
	}
	return enums, rows.Err()
}

func (r *Reader) readComposites(ctx context.Context) ([]types.DBCompositeType, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, t.typname, a.attname, format_type(a.atttypid, a.atttypmod)
		FROM pg_type t
		JOIN pg_namespace n ON n.oid = t.typnamespace
		JOIN pg_class c ON c.oid = t.typrelid AND c.relkind = 'c'
		JOIN pg_attribute a ON a.attrelid = c.oid
		WHERE a.attnum > 0 AND NOT a.attisdropped AND %s
		ORDER BY n.nspname, t.typname, a.attnum`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var composites []types.DBCompositeType
	for rows.Next() {
		var schema, name, attr, attrType string
		if err := rows.Scan(&schema, &name, &attr, &attrType); err != nil {
			return nil, fmt.Errorf("failed to scan composite type: %w", err)
		}
		attribute := types.DBCompositeAttribute{Name: attr, DataType: attrType}
		if n := len(composites); n > 0 && composites[n-1].Schema == schema && composites[n-1].Name == name {
			composites[n-1].Attributes = append(composites[n-1].Attributes, attribute)
			continue
		}
		composites = append(composites, types.DBCompositeType{
			Schema:     schema,
			Name:       name,
			Attributes: []types.DBCompositeAttribute{attribute},
		})
	}
	return composites, rows.Err()
}

func (r *Reader) readDomains(ctx context.Context) ([]types.DBDomain, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT
			n.nspname,
			t.typname,
			format_type(t.typbasetype, t.typtypmod),
			t.typnotnull,
			t.typdefault,
			(SELECT pg_get_constraintdef(c.oid)
			 FROM pg_constraint c
			 WHERE c.contypid = t.oid
			 ORDER BY c.conname
			 LIMIT 1)
		FROM pg_type t
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE t.typtype = 'd' AND %s
		ORDER BY n.nspname, t.typname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []types.DBDomain
	for rows.Next() {
		var (
			d          types.DBDomain
			defaultVal sql.NullString
			check      sql.NullString
		)
		if err := rows.Scan(&d.Schema, &d.Name, &d.BaseType, &d.NotNull, &defaultVal, &check); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		if defaultVal.Valid {
			d.Default = &defaultVal.String
		}
		if check.Valid {
			d.CheckClause = &check.String
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (r *Reader) readSequences(ctx context.Context) ([]types.DBSequence, error) {
	filter, args := r.schemaFilter("s.schemaname")
	query := fmt.Sprintf(`
		SELECT
			s.schemaname,
			s.sequencename,
			s.data_type::text,
			s.start_value,
			s.increment_by,
			s.min_value,
			s.max_value,
			s.cycle
		FROM pg_sequences s
		WHERE %s
		ORDER BY s.schemaname, s.sequencename`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sequences []types.DBSequence
	for rows.Next() {
		var seq types.DBSequence
		err := rows.Scan(
			&seq.Schema,
			&seq.Name,
			&seq.DataType,
			&seq.StartValue,
			&seq.Increment,
			&seq.MinValue,
			&seq.MaxValue,
			&seq.Cycle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}
	return sequences, rows.Err()
}

func (r *Reader) readTables(ctx context.Context) ([]types.DBTable, error) {
	filter, args := r.schemaFilter("t.table_schema")
	query := fmt.Sprintf(`
		SELECT t.table_schema, t.table_name,
		       COALESCE(obj_description(c.oid), '') AS table_comment
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type = 'BASE TABLE' AND %s
		ORDER BY t.table_schema, t.table_name`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []types.DBTable
	for rows.Next() {
		var table types.DBTable
		if err := rows.Scan(&table.Schema, &table.Name, &table.Comment); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Columns are read per table to keep each result set small and ordered.
	for i := range tables {
		columns, err := r.readColumns(ctx, tables[i].Schema, tables[i].Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns for table %s.%s: %w", tables[i].Schema, tables[i].Name, err)
		}
		tables[i].Columns = columns
	}

	return tables, nil
}

func (r *Reader) readColumns(ctx context.Context, schema, table string) ([]types.DBColumn, error) {
	query := `
		SELECT
			column_name,
			data_type,
			udt_schema,
			udt_name,
			is_nullable,
			column_default,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := r.conn.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []types.DBColumn
	for rows.Next() {
		var col types.DBColumn
		err := rows.Scan(
			&col.Name,
			&col.DataType,
			&col.UDTSchema,
			&col.UDTName,
			&col.IsNullable,
			&col.ColumnDefault,
			&col.CharacterMaxLength,
			&col.NumericPrecision,
			&col.NumericScale,
			&col.OrdinalPosition,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (r *Reader) readConstraints(ctx context.Context) ([]types.DBConstraint, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT
			n.nspname,
			cl.relname,
			c.conname,
			CASE c.contype
				WHEN 'p' THEN 'PRIMARY KEY'
				WHEN 'u' THEN 'UNIQUE'
				WHEN 'c' THEN 'CHECK'
				WHEN 'f' THEN 'FOREIGN KEY'
				WHEN 'x' THEN 'EXCLUDE'
			END AS constraint_type,
			pg_get_constraintdef(c.oid)
		FROM pg_constraint c
		JOIN pg_class cl ON cl.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = cl.relnamespace
		WHERE c.contype IN ('p', 'u', 'c', 'f', 'x') AND %s
		ORDER BY n.nspname, cl.relname, c.conname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var constraints []types.DBConstraint
	for rows.Next() {
		var (
			constraint     types.DBConstraint
			constraintType sql.NullString
		)
		err := rows.Scan(
			&constraint.Schema,
			&constraint.Table,
			&constraint.Name,
			&constraintType,
			&constraint.Definition,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		// A null constraint type leaves Type empty; consumers skip such rows.
		if constraintType.Valid {
			constraint.Type = constraintType.String
		}
		constraints = append(constraints, constraint)
	}
	return constraints, rows.Err()
}

func (r *Reader) readIndexes(ctx context.Context) ([]types.DBIndex, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT
			n.nspname,
			t.relname,
			i.relname,
			ix.indisunique,
			ix.indisprimary,
			EXISTS (
				SELECT 1 FROM pg_constraint c WHERE c.conindid = i.oid
			) AS backs_constraint,
			pg_get_indexdef(i.oid)
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE %s
		ORDER BY n.nspname, t.relname, i.relname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []types.DBIndex
	for rows.Next() {
		var idx types.DBIndex
		err := rows.Scan(
			&idx.Schema,
			&idx.Table,
			&idx.Name,
			&idx.IsUnique,
			&idx.IsPrimary,
			&idx.BacksConstraint,
			&idx.Definition,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// readFunctions reads user functions and procedures. Extension-owned routines
// are excluded via pg_depend so the generated script never tries to recreate
// objects an extension manages.
func (r *Reader) readFunctions(ctx context.Context) ([]types.DBFunction, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, p.proname, p.prokind::text, pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		JOIN pg_language l ON l.oid = p.prolang
		WHERE p.prokind IN ('f', 'p')
		AND l.lanname NOT IN ('internal', 'c')
		AND NOT EXISTS (
			SELECT 1 FROM pg_depend d
			JOIN pg_extension e ON e.oid = d.refobjid
			WHERE d.objid = p.oid AND d.deptype = 'e'
		)
		AND %s
		ORDER BY n.nspname, p.proname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var functions []types.DBFunction
	for rows.Next() {
		var fn types.DBFunction
		if err := rows.Scan(&fn.Schema, &fn.Name, &fn.Kind, &fn.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan function: %w", err)
		}
		functions = append(functions, fn)
	}
	return functions, rows.Err()
}

func (r *Reader) readTriggers(ctx context.Context) ([]types.DBTrigger, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, cl.relname, t.tgname, pg_get_triggerdef(t.oid)
		FROM pg_trigger t
		JOIN pg_class cl ON cl.oid = t.tgrelid
		JOIN pg_namespace n ON n.oid = cl.relnamespace
		WHERE NOT t.tgisinternal AND %s
		ORDER BY n.nspname, cl.relname, t.tgname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []types.DBTrigger
	for rows.Next() {
		var trg types.DBTrigger
		if err := rows.Scan(&trg.Schema, &trg.Table, &trg.Name, &trg.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, trg)
	}
	return triggers, rows.Err()
}

func (r *Reader) readViews(ctx context.Context) ([]types.DBView, error) {
	filter, args := r.schemaFilter("n.nspname")
	query := fmt.Sprintf(`
		SELECT n.nspname, c.relname, pg_get_viewdef(c.oid, true)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'v' AND %s
		ORDER BY n.nspname, c.relname`, filter)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []types.DBView
	for rows.Next() {
		var view types.DBView
		if err := rows.Scan(&view.Schema, &view.Name, &view.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views = append(views, view)
	}
	return views, rows.Err()
}
