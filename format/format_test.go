// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package format

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openstack-archive/congress-sub001/ast"
)

func TestRule(t *testing.T) {
	tests := []struct {
		note string
		rule string
		exp  string
	}{
		{
			note: "fact",
			rule: `p(1, "a")`,
			exp:  `p(1, "a")`,
		},
		{
			note: "single literal body",
			rule: `p(x) :- q(x)`,
			exp:  "p(x) :-\n    q(x)",
		},
		{
			note: "negation and builtins",
			rule: `p(x, y) :- q(x), not r(x), plus(x, 1, y)`,
			exp:  "p(x, y) :-\n    q(x),\n    not r(x),\n    plus(x, 1, y)",
		},
		{
			note: "multiple heads",
			rule: `p(x), q(x) :- r(x)`,
			exp:  "p(x), q(x) :-\n    r(x)",
		},
		{
			note: "qualified table",
			rule: `p(x) :- nova:servers(x, 1.5)`,
			exp:  "p(x) :-\n    nova:servers(x, 1.5)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			result := Rule(ast.MustParseRule(tc.rule))
			if result != tc.exp {
				t.Fatalf("Expected:\n\n%v\n\nbut got:\n\n%v", tc.exp, result)
			}
		})
	}
}

func TestSource(t *testing.T) {
	src := `# servers that are down
p(x) :- q(x), not r(x).
q(1)
r(2)   .
s(x, y) :- q(x),
  q(y)
`
	exp := `p(x) :-
    q(x),
    not r(x)
q(1)
r(2)
s(x, y) :-
    q(x),
    q(y)
`
	bs, err := Source("test.cl", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(exp, string(bs)); d != "" {
		t.Fatalf("unexpected output (-want, +got):\n%v", d)
	}

	// Canonical form is a fixed point.
	again, err := Source("test.cl", bs)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, bs) {
		t.Fatalf("Expected formatting to be stable but got:\n\n%s", again)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	src := `p(x) :- q(x, y), not r(y), lt(y, 10)
q(1, 2)
q(2, 20)
t(x), u(x) :- q(x, _)
`
	orig := ast.MustParseRules(src)

	bs, err := Source("", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	parsed := ast.MustParseRules(string(bs))

	if len(orig) != len(parsed) {
		t.Fatalf("Expected %d statements but got %d", len(orig), len(parsed))
	}
	for i := range orig {
		if ast.AsRule(orig[i]).Key() != ast.AsRule(parsed[i]).Key() {
			t.Fatalf("Expected %v but got %v", orig[i], parsed[i])
		}
	}
}

func TestSourceError(t *testing.T) {
	_, err := Source("bad.cl", []byte("p(x :- q(x)"))
	if !ast.IsError(ast.ParseErr, err) {
		t.Fatalf("Expected parse error but got: %v", err)
	}
}
