// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/theory"
)

func startTestEngine(t *testing.T, params runCommandParams) *engine {
	t.Helper()
	ctx := context.Background()
	e, err := newEngine(ctx, params, logging.NewNoOpLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); err != nil {
		e.Abort(ctx)
		t.Fatal(err)
	}
	return e
}

func selectAnswers(t *testing.T, e *engine, policy, query string) []string {
	t.Helper()
	answers, err := e.rt.Select(context.Background(), policy, query, theory.QueryOptions{FindAll: true})
	if err != nil {
		t.Fatal(err)
	}
	result := make([]string, len(answers))
	for i := range answers {
		result[i] = answers[i].String()
	}
	sort.Strings(result)
	return result
}

func TestEngineDataSource(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"views.cg": `error(x) :- nova:servers(x, "ERROR")`,
	})

	dbPath := filepath.Join(dir, "nova.db")
	db, err := dbsql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE servers (id TEXT, status TEXT)`,
		`INSERT INTO servers VALUES ('vm1', 'ACTIVE'), ('vm2', 'ERROR')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	configFile := filepath.Join(dir, "config.yaml")
	writeConfig(t, configFile, fmt.Sprintf(`
datasources:
- name: nova
  driver: sqlite
  dsn: %q
  poll_interval: 50ms
  tables:
  - name: servers
    columns: [id, status]
policies:
- name: views
  files: [%q]
storage:
  in_memory: true
`, dbPath, filepath.Join(dir, "views.cg")))

	params := newRunCommandParams()
	params.configFile = configFile
	e := startTestEngine(t, params)

	exp := []string{`error("vm2")`}
	deadline := time.Now().Add(10 * time.Second)
	for {
		answers := selectAnswers(t, e, "views", "error(x)")
		if cmp.Equal(exp, answers) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %v but got %v", exp, answers)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEngineReload(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.cg": `p(1). q(x) :- p(x).`,
		"b.cg": `p(2).`,
	})
	a, b := filepath.Join(dir, "a.cg"), filepath.Join(dir, "b.cg")

	params := newRunCommandParams()
	params.files = []string{"test=" + a, "test=" + b}
	e := startTestEngine(t, params)
	defer e.Abort(context.Background())

	files := map[string][]string{"test": {a, b}}
	ctx := context.Background()

	tests := []struct {
		note string
		a    string
		b    string
		exp  []string
	}{
		{
			note: "replace facts",
			a:    `p(1). q(x) :- p(x).`,
			b:    `p(3).`,
			exp:  []string{"q(1)", "q(3)"},
		},
		{
			note: "replace rules",
			a:    `p(1). q(x) :- p(x), r(x). r(3).`,
			b:    `p(3).`,
			exp:  []string{"q(3)"},
		},
		{
			note: "rejected",
			a:    `p(1). q(x) :- p(y).`,
			b:    `p(4).`,
			exp:  []string{"q(3)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			e.reload(ctx, files, map[string]string{a: tc.a, b: tc.b})
			if d := cmp.Diff(tc.exp, selectAnswers(t, e, "test", "q(x)")); d != "" {
				t.Fatalf("Unexpected answers (-want, +got):\n%v", d)
			}
		})
	}

	if exp := "p(1). q(x) :- p(x), r(x). r(3).\np(3)."; e.loaded["test"] != exp {
		t.Fatalf("Expected loaded text %q but got %q", exp, e.loaded["test"])
	}
}

func TestEngineSaveRestore(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	writeConfig(t, configFile, fmt.Sprintf(`
policies:
- name: scratch
storage:
  dir: %q
`, filepath.Join(dir, "data")))

	params := newRunCommandParams()
	params.configFile = configFile
	ctx := context.Background()

	e := startTestEngine(t, params)
	result, err := e.rt.InsertText(ctx, "scratch", `p(1). p(2).`)
	if err != nil || !result.Permitted {
		t.Fatalf("Unexpected insert result %v: %v", result.Errors, err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	e = startTestEngine(t, params)
	defer e.Stop(ctx)
	if d := cmp.Diff([]string{"p(1)", "p(2)"}, selectAnswers(t, e, "scratch", "p(x)")); d != "" {
		t.Fatalf("Unexpected answers (-want, +got):\n%v", d)
	}
}

func TestEngineStartErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{"test.cg": `p(1).`})

	tests := []struct {
		note   string
		params func(*runCommandParams)
		exp    string
	}{
		{
			note: "bad subscription",
			params: func(p *runCommandParams) {
				p.subscribe = []string{"test"}
			},
			exp: "invalid subscription",
		},
		{
			note: "missing file",
			params: func(p *runCommandParams) {
				p.files = []string{filepath.Join(dir, "missing.cg")}
			},
			exp: "missing.cg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			params := newRunCommandParams()
			params.files = []string{filepath.Join(dir, "test.cg")}
			tc.params(&params)

			ctx := context.Background()
			e, err := newEngine(ctx, params, logging.NewNoOpLogger())
			if err != nil {
				t.Fatal(err)
			}
			defer e.Abort(ctx)

			err = e.Start(ctx)
			if err == nil || !strings.Contains(err.Error(), tc.exp) {
				t.Fatalf("Expected error containing %q but got %v", tc.exp, err)
			}
		})
	}
}
