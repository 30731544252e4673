// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"testing"

	"github.com/openstack-archive/congress-sub001/ast"
)

func TestUnifyLiterals(t *testing.T) {

	tests := []struct {
		note     string
		a        string
		b        string
		ok       bool
		pluggedA string
		pluggedB string
	}{
		{"constants", `p(1, "a")`, `p(1, "a")`, true, `p(1, "a")`, `p(1, "a")`},
		{"constant mismatch", `p(1)`, `p(2)`, false, "", ""},
		{"int and float differ", `p(1)`, `p(1.0)`, false, "", ""},
		{"arity mismatch", `p(1)`, `p(1, 2)`, false, "", ""},
		{"var to constant", `p(x, 2)`, `p(1, y)`, true, `p(1, 2)`, `p(1, 2)`},
		{"repeated var", `p(x, x)`, `p(1, y)`, true, `p(1, 1)`, `p(1, 1)`},
		{"repeated var conflict", `p(x, x)`, `p(1, 2)`, false, "", ""},
		{"var to var", `p(x)`, `p(y)`, true, `p(y_2)`, `p(y)`},
		{"same name different namespace", `p(x, 1)`, `p(2, x)`, true, `p(2, 1)`, `p(2, 1)`},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			a := ast.MustParseLiteral(tc.a)
			b := ast.MustParseLiteral(tc.b)
			ua := newBindings(1)
			ub := newBindings(2)

			und, ok := unifyLiterals(a, ua, b, ub)
			if ok != tc.ok {
				t.Fatalf("Expected ok=%v but got %v", tc.ok, ok)
			}

			if !ok {
				if len(ua.values) != 0 || len(ub.values) != 0 {
					t.Fatalf("Expected partial bindings to be undone but got %v and %v", ua, ub)
				}
				return
			}

			if s := ua.PlugLiteral(a).String(); s != tc.pluggedA {
				t.Fatalf("Expected %v but got %v", tc.pluggedA, s)
			}

			if s := ub.PlugLiteral(b).String(); s != tc.pluggedB {
				t.Fatalf("Expected %v but got %v", tc.pluggedB, s)
			}

			und.Undo()

			if len(ua.values) != 0 || len(ub.values) != 0 {
				t.Fatalf("Expected bindings to be undone but got %v and %v", ua, ub)
			}
		})
	}
}

func TestBindingsChain(t *testing.T) {
	ua := newBindings(1)
	ub := newBindings(2)
	uc := newBindings(3)

	und, ok := unify(ast.VarTerm("x"), ua, ast.VarTerm("y"), ub, nil)
	if !ok {
		t.Fatal("Expected unification to succeed")
	}

	und, ok = unify(ast.VarTerm("y"), ub, ast.VarTerm("z"), uc, und)
	if !ok {
		t.Fatal("Expected unification to succeed")
	}

	if s := ua.Plug(ast.VarTerm("x")).String(); s != "z_3" {
		t.Fatalf("Expected unbound var renamed to z_3 but got %v", s)
	}

	und, ok = unify(ast.VarTerm("z"), uc, ast.StringTerm("a"), nil, und)
	if !ok {
		t.Fatal("Expected unification to succeed")
	}

	if s := ua.Plug(ast.VarTerm("x")).String(); s != `"a"` {
		t.Fatalf(`Expected "a" but got %v`, s)
	}

	und.Undo()

	if s := ua.Plug(ast.VarTerm("x")).String(); s != "x" {
		t.Fatalf("Expected x to be unbound but got %v", s)
	}
}
