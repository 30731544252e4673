// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimulate(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"test.cg":   `p(2).`,
		"action.cg": `action("q"). p+(x) :- q(x).`,
		"seq.cg":    `p-(2).`,
	})
	configFile := filepath.Join(dir, "config.yaml")
	writeConfig(t, configFile, fmt.Sprintf(`
policies:
- name: action
  kind: action
  files: [%q]
`, filepath.Join(dir, "action.cg")))

	tests := []struct {
		note         string
		sequence     string
		sequenceFile string
		delta        bool
		exp          string
	}{
		{
			note:     "action delta",
			sequence: `q(1)`,
			delta:    true,
			exp:      "p+(1)\n",
		},
		{
			note:     "updates delta",
			sequence: `p+(3). p-(2).`,
			delta:    true,
			exp:      "p+(3)\np-(2)\n",
		},
		{
			note:         "sequence file",
			sequenceFile: filepath.Join(dir, "seq.cg"),
			exp:          "",
		},
		{
			note:     "answers",
			sequence: `p-(2). p+(5).`,
			exp:      "p(5)\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			params := newSimulateCommandParams()
			if err := params.outputFormat.Set(formatRaw); err != nil {
				t.Fatal(err)
			}
			params.configFile = configFile
			params.files = []string{filepath.Join(dir, "test.cg")}
			params.sequence = tc.sequence
			params.sequenceFile = tc.sequenceFile
			params.delta = tc.delta

			var buf bytes.Buffer
			if err := simulate([]string{"p(x)"}, params, &buf); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if buf.String() != tc.exp {
				t.Fatalf("Expected %q but got %q", tc.exp, buf.String())
			}
		})
	}
}

func TestSimulateError(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"test.cg": `p(2).`,
	})

	params := newSimulateCommandParams()
	params.files = []string{filepath.Join(dir, "test.cg")}
	params.sequence = `p(`

	var buf bytes.Buffer
	err := simulate([]string{"p(x)"}, params, &buf)
	if _, ok := err.(evalError); !ok {
		t.Fatalf("Expected eval error but got %v", err)
	}
	if !strings.Contains(buf.String(), "congress_parse_error") {
		t.Fatalf("Expected parse error but got:\n%v", buf.String())
	}
}
