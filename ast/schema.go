// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"sort"

	"github.com/openstack-archive/congress-sub001/internal/levenshtein"
)

// TableSchema describes the columns of one table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns,omitempty"`

	// arity is used for tables whose column names are not known.
	arity int
}

// NewTableSchema returns a schema for a table with named columns.
func NewTableSchema(name string, columns ...string) *TableSchema {
	return &TableSchema{Name: name, Columns: columns, arity: len(columns)}
}

// Arity returns the number of columns.
func (ts *TableSchema) Arity() int {
	if len(ts.Columns) > 0 {
		return len(ts.Columns)
	}
	return ts.arity
}

// ColumnIndex returns the position of the named column.
func (ts *TableSchema) ColumnIndex(column string) (int, bool) {
	for i, c := range ts.Columns {
		if c == column {
			return i, true
		}
	}
	return -1, false
}

// Schema describes the tables of one module: a data source or a policy.
type Schema struct {
	Tables map[string]*TableSchema `json:"tables"`

	// Complete indicates that every table of the module is listed. References
	// to unlisted tables of a complete schema are errors.
	Complete bool `json:"complete"`
}

// NewSchema returns a complete schema built from a table to column mapping.
func NewSchema(tables map[string][]string) *Schema {
	s := &Schema{Tables: map[string]*TableSchema{}, Complete: true}
	for name, cols := range tables {
		s.Tables[name] = NewTableSchema(name, cols...)
	}
	return s
}

// NewOpenSchema returns an incomplete schema that records arities only.
func NewOpenSchema(arities map[string]int) *Schema {
	s := &Schema{Tables: map[string]*TableSchema{}}
	for name, arity := range arities {
		s.Tables[name] = &TableSchema{Name: name, arity: arity}
	}
	return s
}

// Table returns the schema for table.
func (s *Schema) Table(table string) (*TableSchema, bool) {
	if s == nil {
		return nil, false
	}
	ts, ok := s.Tables[table]
	return ts, ok
}

// Arity returns the arity of table if known.
func (s *Schema) Arity(table string) (int, bool) {
	ts, ok := s.Table(table)
	if !ok {
		return 0, false
	}
	return ts.Arity(), true
}

// TableNames returns the sorted table names.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModuleSchemas maps module names to their schemas.
type ModuleSchemas map[string]*Schema

// Table returns the schema of module:table.
func (ms ModuleSchemas) Table(module, table string) (*TableSchema, bool) {
	s, ok := ms[module]
	if !ok {
		return nil, false
	}
	return s.Table(table)
}

// Copy returns a shallow copy of ms that can be extended without modifying
// ms.
func (ms ModuleSchemas) Copy() ModuleSchemas {
	cpy := make(ModuleSchemas, len(ms))
	for k, v := range ms {
		cpy[k] = v
	}
	return cpy
}

// checkLiteral reports schema errors for a qualified literal: an unknown
// module, an unknown table of a complete schema or an arity mismatch.
func (ms ModuleSchemas) checkLiteral(lit *Literal) *Error {
	module, table := SplitTable(lit.Table)
	if module == "" {
		return nil
	}
	table = UpdateBase(table)
	schema, ok := ms[module]
	if !ok {
		return NewError(SchemaErr, lit.Location, "unknown module %v referenced by %v%v",
			module, lit.Table, levenshtein.Suggest(module, ms.moduleNames()))
	}
	ts, ok := schema.Table(table)
	if !ok {
		if !schema.Complete {
			return nil
		}
		return NewError(SchemaErr, lit.Location, "unknown table %v in module %v%v",
			table, module, levenshtein.Suggest(table, schema.TableNames()))
	}
	if ts.Arity() != len(lit.Args) {
		return NewError(SchemaErr, lit.Location, "%v has arity %v but %v arguments were given",
			lit.Table, ts.Arity(), len(lit.Args))
	}
	return nil
}

func (ms ModuleSchemas) moduleNames() []string {
	names := make([]string, 0, len(ms))
	for name := range ms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ts *TableSchema) String() string {
	return fmt.Sprintf("%v%v", ts.Name, ts.Columns)
}
