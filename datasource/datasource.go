// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package datasource defines the tables exchanged with data sources and
// subscribers, and polls data sources for table snapshots.
package datasource

import (
	"context"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
)

// Row is one tuple of a table.
type Row []ast.Value

// NewRow returns a row built from Go values. It panics if a value has no
// counterpart in the rule language.
func NewRow(xs ...interface{}) Row {
	row := make(Row, len(xs))
	for i, x := range xs {
		v, err := ast.ValueFromInterface(x)
		if err != nil {
			panic(err)
		}
		row[i] = v
	}
	return row
}

// Key returns a string that identifies the row among the rows of a table.
func (r Row) Key() string {
	buf := make([]string, len(r))
	for i := range r {
		buf[i] = r[i].String()
	}
	return strings.Join(buf, ", ")
}

// Literal returns the fact that states row in table.
func (r Row) Literal(table string) *ast.Literal {
	args := make([]*ast.Term, len(r))
	for i := range r {
		args[i] = ast.NewTerm(r[i])
	}
	return ast.NewLiteral(table, args...)
}

// RowOf returns the arguments of the ground literal lit as a row.
func RowOf(lit *ast.Literal) Row {
	row := make(Row, len(lit.Args))
	for i, arg := range lit.Args {
		row[i] = arg.Value
	}
	return row
}

// TableData is the content of a table or a change to it. A snapshot lists
// every row in Rows. A delta lists the rows added and removed since the
// previous update.
type TableData struct {
	Snapshot bool  `json:"snapshot"`
	Rows     []Row `json:"rows,omitempty"`
	Added    []Row `json:"added,omitempty"`
	Removed  []Row `json:"removed,omitempty"`
}

// NewSnapshot returns a snapshot holding rows.
func NewSnapshot(rows []Row) TableData {
	return TableData{Snapshot: true, Rows: rows}
}

// NewDelta returns a delta that adds and removes rows.
func NewDelta(added, removed []Row) TableData {
	return TableData{Added: added, Removed: removed}
}

// IsEmpty returns true if the delta changes nothing. Snapshots are never
// empty.
func (d TableData) IsEmpty() bool {
	return !d.Snapshot && len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff returns the rows of next missing from prev and the rows of prev
// missing from next. Duplicate rows are ignored.
func Diff(prev, next []Row) (added, removed []Row) {
	before := make(map[string]struct{}, len(prev))
	for _, r := range prev {
		before[r.Key()] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, r := range next {
		k := r.Key()
		if _, ok := after[k]; ok {
			continue
		}
		after[k] = struct{}{}
		if _, ok := before[k]; !ok {
			added = append(added, r)
		}
	}
	for _, r := range prev {
		k := r.Key()
		if _, ok := after[k]; !ok {
			removed = append(removed, r)
			after[k] = struct{}{}
		}
	}
	return added, removed
}

// Apply returns the rows of prev changed by the delta d. A snapshot replaces
// prev.
func Apply(prev []Row, d TableData) []Row {
	if d.Snapshot {
		return d.Rows
	}
	removed := make(map[string]struct{}, len(d.Removed))
	for _, r := range d.Removed {
		removed[r.Key()] = struct{}{}
	}
	seen := map[string]struct{}{}
	var result []Row
	for _, rows := range [][]Row{prev, d.Added} {
		for _, r := range rows {
			k := r.Key()
			if _, ok := removed[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			result = append(result, r)
		}
	}
	return result
}

// Driver fetches the current content of the tables of a data source.
type Driver interface {
	// Tables returns the names of the tables the driver serves.
	Tables() []string

	// Poll returns a snapshot of every table.
	Poll(ctx context.Context) (map[string][]Row, error)
}

// Receiver accepts table updates from a data source.
type Receiver interface {
	ReceiveData(ctx context.Context, publisher, table string, data TableData) error
}
