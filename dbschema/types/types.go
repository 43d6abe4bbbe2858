// Package types defines the read-only projections of live PostgreSQL catalog
// state produced by the catalog query set. Records are valid only for the
// instant of the query and are fully reconstructed on each extraction.
package types

import "context"

// DBSchema is the complete catalog snapshot read from a database.
type DBSchema struct {
	Schemas     []DBSchemaName    `json:"schemas"`
	Extensions  []DBExtension     `json:"extensions"`
	Enums       []DBEnum          `json:"enums"`
	Composites  []DBCompositeType `json:"composites"`
	Domains     []DBDomain        `json:"domains"`
	Sequences   []DBSequence      `json:"sequences"`
	Tables      []DBTable         `json:"tables"`
	Constraints []DBConstraint    `json:"constraints"`
	Indexes     []DBIndex         `json:"indexes"`
	Functions   []DBFunction      `json:"functions"`
	Triggers    []DBTrigger       `json:"triggers"`
	Views       []DBView          `json:"views"`
}

// DBSchemaName is a user-created schema (namespace).
type DBSchemaName struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// DBExtension is an installed PostgreSQL extension.
type DBExtension struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Schema      string  `json:"schema"`
	Relocatable bool    `json:"relocatable"`
	Comment     *string `json:"comment"`
}

// DBEnum is an enum type with its labels in sort order.
type DBEnum struct {
	Schema string   `json:"schema"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// DBCompositeType is a user-defined composite (row) type.
type DBCompositeType struct {
	Schema     string                 `json:"schema"`
	Name       string                 `json:"name"`
	Attributes []DBCompositeAttribute `json:"attributes"`
}

// DBCompositeAttribute is one attribute of a composite type, in declared order.
type DBCompositeAttribute struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// DBDomain is a domain type over a base type.
type DBDomain struct {
	Schema      string  `json:"schema"`
	Name        string  `json:"name"`
	BaseType    string  `json:"base_type"`
	NotNull     bool    `json:"not_null"`
	Default     *string `json:"default"`
	CheckClause *string `json:"check_clause"` // full CHECK (...) text, if any
}

// DBSequence is a sequence with its generation parameters.
type DBSequence struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	StartValue int64  `json:"start_value"`
	Increment  int64  `json:"increment"`
	MinValue   int64  `json:"min_value"`
	MaxValue   int64  `json:"max_value"`
	Cycle      bool   `json:"cycle"`
}

// DBTable is a base table and its columns.
type DBTable struct {
	Schema  string     `json:"schema"`
	Name    string     `json:"name"`
	Comment string     `json:"comment"`
	Columns []DBColumn `json:"columns"`
}

// DBColumn is one column of a table, in ordinal order.
type DBColumn struct {
	Name               string  `json:"name"`
	DataType           string  `json:"data_type"`
	UDTSchema          string  `json:"udt_schema"`
	UDTName            string  `json:"udt_name"`
	IsNullable         string  `json:"is_nullable"` // YES/NO
	ColumnDefault      *string `json:"column_default"`
	CharacterMaxLength *int    `json:"character_max_length"`
	NumericPrecision   *int    `json:"numeric_precision"`
	NumericScale       *int    `json:"numeric_scale"`
	OrdinalPosition    int     `json:"ordinal_position"`
}

// Constraint kinds as reported by the catalog query set.
const (
	ConstraintPrimaryKey = "PRIMARY KEY"
	ConstraintUnique     = "UNIQUE"
	ConstraintCheck      = "CHECK"
	ConstraintForeignKey = "FOREIGN KEY"
	ConstraintExclude    = "EXCLUDE"
)

// DBConstraint is a table constraint together with its full definition text
// from pg_get_constraintdef. Type is empty when the catalog reported an
// unrecognized constraint kind; such rows are skipped by consumers.
type DBConstraint struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Definition string `json:"definition"`
}

// DBIndex is an index with its full definition from pg_get_indexdef.
// BacksConstraint marks indexes implementing a constraint (primary key,
// unique, exclusion); those are created by the constraint itself.
type DBIndex struct {
	Schema          string `json:"schema"`
	Table           string `json:"table"`
	Name            string `json:"name"`
	IsUnique        bool   `json:"is_unique"`
	IsPrimary       bool   `json:"is_primary"`
	BacksConstraint bool   `json:"backs_constraint"`
	Definition      string `json:"definition"`
}

// DBFunction is a function or procedure with its full definition from
// pg_get_functiondef. Kind is "f" for functions, "p" for procedures.
type DBFunction struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Definition string `json:"definition"`
}

// DBTrigger is a user trigger with its full definition from pg_get_triggerdef.
type DBTrigger struct {
	Schema     string `json:"schema"`
	Table      string `json:"table"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// DBView is a view with its defining query from pg_get_viewdef.
type DBView struct {
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// SchemaReader reads a catalog snapshot from a live database.
type SchemaReader interface {
	ReadSchema(ctx context.Context) (*DBSchema, error)
}
