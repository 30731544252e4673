// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package sql

import (
	"context"
	dbsql "database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/datasource"
)

func openTestDB(t *testing.T) *dbsql.DB {
	t.Helper()
	db, err := dbsql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE servers (id TEXT, name TEXT, vcpus INTEGER, load REAL)`,
		`INSERT INTO servers VALUES ('b', 'web', 2, 0.5), ('a', 'db', 8, 1.25)`,
		`CREATE TABLE nova_flavors (id TEXT, vcpus INTEGER)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func rowKeys(rows []datasource.Row) []string {
	result := []string{}
	for _, r := range rows {
		result = append(result, r.Key())
	}
	return result
}

func TestPoll(t *testing.T) {
	db := openTestDB(t)
	d := New(db, sqlbuilder.SQLite, []config.TableConfig{
		{Name: "servers", Columns: []string{"id", "vcpus", "load"}},
		{Name: "flavors", Source: "nova_flavors", Columns: []string{"id", "vcpus"}},
	})

	if d := cmp.Diff([]string{"servers", "flavors"}, d.Tables()); d != "" {
		t.Fatalf("unexpected tables (-want, +got):\n%v", d)
	}

	tables, err := d.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	exp := map[string][]string{
		"servers": {`"a", 8, 1.25`, `"b", 2, 0.5`},
		"flavors": {},
	}
	got := map[string][]string{}
	for name, rows := range tables {
		got[name] = rowKeys(rows)
	}
	if d := cmp.Diff(exp, got); d != "" {
		t.Fatalf("unexpected rows (-want, +got):\n%v", d)
	}
}

func TestPollMissingTable(t *testing.T) {
	db := openTestDB(t)
	d := New(db, sqlbuilder.SQLite, []config.TableConfig{{Name: "ports", Columns: []string{"id"}}})
	if _, err := d.Poll(context.Background()); err == nil {
		t.Fatal("Expected error for missing table")
	}
}

func TestSelectQuery(t *testing.T) {
	tests := []struct {
		note   string
		flavor sqlbuilder.Flavor
		exp    string
	}{
		{"mysql", sqlbuilder.MySQL, "SELECT `id`, `name` FROM `servers` ORDER BY `id`, `name`"},
		{"postgres", sqlbuilder.PostgreSQL, `SELECT "id", "name" FROM "servers" ORDER BY "id", "name"`},
	}
	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			if q := selectQuery(tc.flavor, "servers", []string{"id", "name"}); q != tc.exp {
				t.Fatalf("Expected %q but got %q", tc.exp, q)
			}
		})
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(config.DataSourceConfig{Name: "x", Driver: "oracle"}); err == nil {
		t.Fatal("Expected error")
	}
}
