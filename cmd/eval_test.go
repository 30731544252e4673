// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEvalRaw(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"nova.cg":  `servers("vm1", "ACTIVE"). servers("vm2", "ERROR").`,
		"views.cg": `error(x) :- nova:servers(x, "ERROR")`,
		"test.cg":  `p(1). q(x) :- p(x).`,
	})

	tests := []struct {
		note    string
		files   []string
		policy  string
		query   string
		defined bool
		exp     string
	}{
		{
			note:    "single file",
			files:   []string{"test.cg"},
			query:   "q(1)",
			defined: true,
			exp:     "q(1)\n",
		},
		{
			note:  "undefined",
			files: []string{"test.cg"},
			query: "q(2)",
			exp:   "",
		},
		{
			note:    "cross policy",
			files:   []string{"nova.cg", "views.cg"},
			policy:  "views",
			query:   "error(x)",
			defined: true,
			exp:     "error(\"vm2\")\n",
		},
		{
			note:    "named policy",
			files:   []string{"other=test.cg"},
			policy:  "other",
			query:   "p(x)",
			defined: true,
			exp:     "p(1)\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			params := newEvalCommandParams()
			if err := params.outputFormat.Set(formatRaw); err != nil {
				t.Fatal(err)
			}
			params.policy = tc.policy
			for _, f := range tc.files {
				if i := strings.Index(f, "="); i > 0 {
					params.files = append(params.files, f[:i+1]+filepath.Join(dir, f[i+1:]))
				} else {
					params.files = append(params.files, filepath.Join(dir, f))
				}
			}

			var buf bytes.Buffer
			defined, err := eval([]string{tc.query}, params, &buf)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if defined != tc.defined {
				t.Fatalf("Expected defined %v but got %v", tc.defined, defined)
			}
			if buf.String() != tc.exp {
				t.Fatalf("Expected %q but got %q", tc.exp, buf.String())
			}
		})
	}
}

func TestEvalJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"test.cg": `p(1, "a"). p(2, "b").`,
	})

	params := newEvalCommandParams()
	if err := params.outputFormat.Set(formatJSON); err != nil {
		t.Fatal(err)
	}
	params.files = []string{filepath.Join(dir, "test.cg")}

	var buf bytes.Buffer
	defined, err := eval([]string{`p(x, "b")`}, params, &buf)
	if err != nil || !defined {
		t.Fatalf("Expected defined result but got %v, %v", defined, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	exp := map[string]interface{}{
		"result": []interface{}{
			map[string]interface{}{"answer": `p(2, "b")`, "bindings": map[string]interface{}{"x": float64(2)}},
		},
	}
	if d := cmp.Diff(exp, result); d != "" {
		t.Fatalf("Unexpected output (-want, +got):\n%v", d)
	}
}

func TestEvalErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.cg":      `p(1).`,
		"b.cg":      `q(1).`,
		"unsafe.cg": `p(x) :- q(y).`,
	})

	tests := []struct {
		note  string
		files []string
		query string
		exp   string
	}{
		{"no policy", []string{"a.cg", "b.cg"}, "p(x)", "specify the policy"},
		{"bad query", []string{"a.cg"}, "p(x", "congress_parse_error"},
		{"unsafe file", []string{"unsafe.cg"}, "p(x)", "unsafe.cg"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			params := newEvalCommandParams()
			if err := params.outputFormat.Set(formatJSON); err != nil {
				t.Fatal(err)
			}
			for _, f := range tc.files {
				params.files = append(params.files, filepath.Join(dir, f))
			}

			var buf bytes.Buffer
			_, err := eval([]string{tc.query}, params, &buf)
			if _, ok := err.(evalError); !ok {
				t.Fatalf("Expected eval error but got %v", err)
			}

			var output struct {
				Errors []map[string]interface{} `json:"errors"`
			}
			if err := json.Unmarshal(buf.Bytes(), &output); err != nil {
				t.Fatal(err)
			}
			if len(output.Errors) == 0 || !strings.Contains(buf.String(), tc.exp) {
				t.Fatalf("Expected errors containing %q but got:\n%v", tc.exp, buf.String())
			}
		})
	}
}
