// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package sql implements a data source driver that reads tables from a SQL
// database.
package sql

import (
	"context"
	dbsql "database/sql"
	"fmt"

	"github.com/huandu/go-sqlbuilder"

	// Database drivers for the supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/datasource"
)

var flavors = map[string]sqlbuilder.Flavor{
	"sqlite":    sqlbuilder.SQLite,
	"postgres":  sqlbuilder.PostgreSQL,
	"mysql":     sqlbuilder.MySQL,
	"sqlserver": sqlbuilder.SQLServer,
}

type table struct {
	name    string
	columns []string
	query   string
}

// Driver polls tables of a SQL database.
type Driver struct {
	db     *dbsql.DB
	tables []table
}

// Open connects to the database described by c.
func Open(c config.DataSourceConfig) (*Driver, error) {
	flavor, ok := flavors[c.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", c.Driver)
	}
	db, err := dbsql.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, err
	}
	return New(db, flavor, c.Tables), nil
}

// New returns a driver that reads tables from db. The queries are built for
// the SQL dialect of flavor.
func New(db *dbsql.DB, flavor sqlbuilder.Flavor, tables []config.TableConfig) *Driver {
	d := &Driver{db: db}
	for _, t := range tables {
		source := t.Source
		if source == "" {
			source = t.Name
		}
		d.tables = append(d.tables, table{
			name:    t.Name,
			columns: t.Columns,
			query:   selectQuery(flavor, source, t.Columns),
		})
	}
	return d
}

func selectQuery(flavor sqlbuilder.Flavor, source string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = flavor.Quote(c)
	}
	sb := flavor.NewSelectBuilder()
	sb.Select(quoted...).From(flavor.Quote(source)).OrderBy(quoted...)
	query, _ := sb.Build()
	return query
}

// Tables returns the names of the tables the driver serves.
func (d *Driver) Tables() []string {
	names := make([]string, len(d.tables))
	for i := range d.tables {
		names[i] = d.tables[i].name
	}
	return names
}

// Poll returns the rows of every table.
func (d *Driver) Poll(ctx context.Context) (map[string][]datasource.Row, error) {
	result := make(map[string][]datasource.Row, len(d.tables))
	for _, t := range d.tables {
		rows, err := d.read(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", t.name, err)
		}
		result[t.name] = rows
	}
	return result, nil
}

func (d *Driver) read(ctx context.Context, t table) ([]datasource.Row, error) {
	rows, err := d.db.QueryContext(ctx, t.query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []datasource.Row
	for rows.Next() {
		values := make([]interface{}, len(t.columns))
		ptrs := make([]interface{}, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(datasource.Row, len(values))
		for i, x := range values {
			v, err := ast.ValueFromInterface(x)
			if err != nil {
				return nil, fmt.Errorf("column %v: %w", t.columns[i], err)
			}
			row[i] = v
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}
