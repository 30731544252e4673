// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/datasource"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/theory"
)

// RegisterDataSource registers a data source. Policies reference its tables
// as name:table. If schema is nil the data source accepts any table.
func (r *Runtime) RegisterDataSource(ctx context.Context, name string, schema *ast.Schema) error {
	_, span := r.startSpan(ctx, "RegisterDataSource", attribute.String("datasource", name))

	r.mtx.Lock()
	err := r.registerDataSource(name, schema)
	r.mtx.Unlock()

	endSpan(span, err)
	return err
}

func (r *Runtime) registerDataSource(name string, schema *ast.Schema) error {
	if err := checkName(name); err != nil {
		return err
	}
	if r.exists(name) {
		return alreadyExistsError("%v already exists", name)
	}
	if schema == nil {
		schema = ast.NewOpenSchema(nil)
	}
	r.schemas[name] = schema
	delete(r.open, name)
	r.queries.Purge()

	r.sources[name] = &dataSource{
		theory: theory.NewDatabase(name, theory.Params{Schemas: r.schemas, Logger: r.logger}),
		schema: schema,
		last:   map[string][]datasource.Row{},
	}
	r.logger.WithFields(map[string]interface{}{"datasource": name}).Info("Registered data source.")
	return nil
}

// DataSources returns the names of the registered data sources.
func (r *Runtime) DataSources() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReceiveData applies an update of a table of a data source. A snapshot
// replaces the rows received before, a delta adds and removes rows. The
// policies that use the table are refreshed.
func (r *Runtime) ReceiveData(ctx context.Context, publisher, table string, data datasource.TableData) error {
	ctx, span := r.startSpan(ctx, "ReceiveData",
		attribute.String("datasource", publisher),
		attribute.String("table", table),
		attribute.Bool("snapshot", data.Snapshot))

	var out outbox
	err := metrics.Timed(r.metrics, metrics.DataSourceReceive, func() error {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		return r.receiveData(ctx, publisher, table, data, &out)
	})

	r.deliver(ctx, out)
	endSpan(span, err)
	return err
}

func (r *Runtime) receiveData(ctx context.Context, publisher, table string, data datasource.TableData, out *outbox) error {
	ds, ok := r.sources[publisher]
	if !ok {
		return notFoundError("data source %v is not registered", publisher)
	}

	arity, known := ds.schema.Arity(table)
	if !known && ds.schema.Complete {
		return notFoundError("data source %v has no table %v", publisher, table)
	}
	for _, rows := range [][]datasource.Row{data.Rows, data.Added, data.Removed} {
		for _, row := range rows {
			if known && len(row) != arity {
				return invalidError(nil, "%v has arity %v but row (%v) has %v values", ast.QualifyTable(publisher, table), arity, row.Key(), len(row))
			}
			for _, v := range row {
				if !v.IsGround() {
					return invalidError(nil, "row (%v) of %v is not ground", row.Key(), ast.QualifyTable(publisher, table))
				}
			}
		}
	}

	prev := ds.last[table]
	var added, removed []datasource.Row
	if data.Snapshot {
		added, removed = datasource.Diff(prev, data.Rows)
	} else {
		added, removed = data.Added, data.Removed
	}

	events := make([]theory.Event, 0, len(added)+len(removed))
	for _, row := range removed {
		events = append(events, theory.NewDelete(publisher, row.Literal(table)))
	}
	for _, row := range added {
		events = append(events, theory.NewInsert(publisher, row.Literal(table)))
	}

	changes, err := ds.theory.Update(events)
	if err != nil {
		return invalidError(err, "data source %v", publisher)
	}
	ds.last[table] = datasource.Apply(prev, data)

	r.logger.WithFields(map[string]interface{}{
		"datasource": publisher,
		"table":      table,
		"snapshot":   data.Snapshot,
		"changes":    len(changes),
	}).Debug("Received data.")

	if len(changes) == 0 {
		return nil
	}
	return r.changed(ctx, []string{publisher}, nil, out)
}
