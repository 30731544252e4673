// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openstack-archive/congress-sub001/ast"
)

func factStrings(lits []*ast.Literal) []string {
	result := make([]string, 0, len(lits))
	for _, lit := range lits {
		result = append(result, lit.String())
	}
	sort.Strings(result)
	return result
}

func collect(f func(string, *ast.Literal, func(*ast.Literal) bool) bool, table string, query string) []string {
	var lit *ast.Literal
	if query != "" {
		lit = ast.MustParseLiteral(query)
	}
	var lits []*ast.Literal
	f(table, lit, func(l *ast.Literal) bool {
		lits = append(lits, l)
		return false
	})
	return factStrings(lits)
}

func TestRuleSetAddRemove(t *testing.T) {
	rs := NewRuleSet()

	for _, s := range []string{`p(1)`, `p(2)`, `q(x) :- p(x)`} {
		added, err := rs.Add(ast.MustParseRules(s)[0])
		if err != nil || !added {
			t.Fatalf("Expected %v to be added: %v %v", s, added, err)
		}
	}

	added, err := rs.Add(ast.MustParseLiteral(`p(1)`))
	if err != nil || added {
		t.Fatalf("Expected duplicate fact to be ignored: %v %v", added, err)
	}

	added, err = rs.Add(ast.MustParseRule(`q(y) :- p(y)`))
	if err != nil || !added {
		t.Fatalf("Expected rule with renamed vars to be distinct: %v %v", added, err)
	}

	if !rs.Contains(ast.MustParseRule(`q(x) :- p(x)`)) {
		t.Fatal("Expected rule to be contained")
	}

	if !rs.Contains(ast.NewRule(ast.MustParseLiteral(`p(2)`), nil)) {
		t.Fatal("Expected empty body rule to be contained as fact")
	}

	if exp, got := []string{"p", "q"}, rs.Tables(); !cmp.Equal(exp, got) {
		t.Fatalf("Expected tables %v but got %v", exp, got)
	}

	if rs.Len() != 4 {
		t.Fatalf("Expected 4 formulas but got %v", rs.Len())
	}

	if !rs.Remove(ast.MustParseLiteral(`p(1)`)) || !rs.Remove(ast.MustParseLiteral(`p(2)`)) {
		t.Fatal("Expected facts to be removed")
	}

	if rs.Remove(ast.MustParseLiteral(`p(2)`)) {
		t.Fatal("Expected second remove to be a no-op")
	}

	if rs.HasTable("p") {
		t.Fatal("Expected empty table to be removed")
	}

	rs.Remove(ast.MustParseRule(`q(x) :- p(x)`))
	rs.Remove(ast.MustParseRule(`q(y) :- p(y)`))

	if len(rs.Tables()) != 0 || rs.Len() != 0 {
		t.Fatalf("Expected empty rule set but got %v", rs.Formulas())
	}
}

func TestRuleSetInvalidFacts(t *testing.T) {
	tests := []struct {
		note string
		lit  *ast.Literal
	}{
		{"non-ground", ast.MustParseLiteral(`p(x)`)},
		{"negated", ast.MustParseLiteral(`not p(1)`)},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			_, err := NewRuleSet().Add(tc.lit)
			if !IsInvalid(err) {
				t.Fatalf("Expected invalid error but got: %v", err)
			}
		})
	}
}

func TestRuleSetMultiHead(t *testing.T) {
	rs := NewRuleSet()
	rule := ast.MustParseRule(`a(x), b(x) :- p(x)`)
	rs.AddRule(rule)

	if len(rs.Rules("a")) != 1 || len(rs.Rules("b")) != 1 {
		t.Fatalf("Expected rule under both heads")
	}

	rs.RemoveRule(ast.MustParseRule(`a(x), b(x) :- p(x)`))

	if rs.HasTable("a") || rs.HasTable("b") {
		t.Fatalf("Expected heads to be removed but got %v", rs.Tables())
	}
}

func TestRuleSetFactIndex(t *testing.T) {
	rs := NewRuleSet()
	for _, s := range []string{`p(1, "a")`, `p(2, "a")`, `p(2, "b")`, `p(3, "c", 4)`, `p(1.0, "a")`} {
		rs.AddFact(ast.MustParseLiteral(s))
	}

	tests := []struct {
		note     string
		query    string
		expected []string
	}{
		{"no literal", "", []string{`p(1, "a")`, `p(1.0, "a")`, `p(2, "a")`, `p(2, "b")`, `p(3, "c", 4)`}},
		{"unbound", `p(x, y)`, []string{`p(1, "a")`, `p(1.0, "a")`, `p(2, "a")`, `p(2, "b")`, `p(3, "c", 4)`}},
		{"first column", `p(2, y)`, []string{`p(2, "a")`, `p(2, "b")`}},
		{"second column", `p(x, "a")`, []string{`p(1, "a")`, `p(1.0, "a")`, `p(2, "a")`}},
		{"int and float distinct", `p(1, y)`, []string{`p(1, "a")`}},
		{"both columns", `p(2, "b")`, []string{`p(2, "b")`}},
		{"missing value", `p(9, y)`, []string{}},
		{"beyond columns", `p(x, y, z, 1)`, []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			got := collect(rs.Facts, "p", tc.query)
			if diff := cmp.Diff(tc.expected, got); diff != "" {
				t.Fatalf("Unexpected facts (-want, +got):\n%v", diff)
			}
		})
	}
}

func TestRuleSetFormulasAndCopy(t *testing.T) {
	rs := NewRuleSet()
	for _, f := range ast.MustParseRules(`q(x) :- p(x). p(2). p(1). r("a").`) {
		if _, err := rs.Add(f); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	for _, f := range rs.Formulas() {
		got = append(got, f.String())
	}

	exp := []string{`p(1)`, `p(2)`, `r("a")`, `q(x) :- p(x)`}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("Unexpected formulas (-want, +got):\n%v", diff)
	}

	cpy := rs.Copy()
	cpy.RemoveFact(ast.MustParseLiteral(`p(1)`))

	if !rs.Contains(ast.MustParseLiteral(`p(1)`)) {
		t.Fatal("Expected copy to be independent")
	}
}

func TestDatabaseProofs(t *testing.T) {
	db := NewDatabase()
	lit := ast.MustParseLiteral(`q(1)`)
	rule := ast.MustParseRule(`q(x) :- p(x, y)`)

	p1 := NewProof(rule, map[ast.Var]ast.Value{"x": ast.Int(1), "y": ast.Int(2)})
	p2 := NewProof(rule, map[ast.Var]ast.Value{"y": ast.Int(3), "x": ast.Int(1)})

	if !db.Insert(lit, p1) {
		t.Fatal("Expected first proof to add tuple")
	}

	if db.Insert(lit, p2) {
		t.Fatal("Expected second proof to keep tuple")
	}

	if db.Insert(lit, p1) {
		t.Fatal("Expected duplicate proof to be ignored")
	}

	if n := len(db.Proofs(lit)); n != 2 {
		t.Fatalf("Expected 2 proofs but got %v", n)
	}

	if exp := "q(x) :- p(x, y); x=1; y=3"; p2.Key() != exp {
		t.Fatalf("Expected key %q but got %q", exp, p2.Key())
	}

	if v, ok := p2.Lookup("y"); !ok || !v.Equal(ast.Int(3)) {
		t.Fatalf("Expected y=3 but got %v", v)
	}

	if db.Delete(lit, p1) {
		t.Fatal("Expected tuple to survive while it has a proof")
	}

	if !db.Contains(lit) || db.HasProof(lit, p1) || !db.HasProof(lit, p2) {
		t.Fatal("Unexpected proof state after delete")
	}

	if !db.Delete(lit, p2) {
		t.Fatal("Expected tuple to be removed with its last proof")
	}

	if db.Contains(lit) || len(db.Tables()) != 0 {
		t.Fatalf("Expected empty database but got %v", db)
	}
}

func TestDatabaseBaseProofAndCopy(t *testing.T) {
	db := NewDatabase()
	db.Insert(ast.MustParseLiteral(`p(1)`), Proof{})
	db.Insert(ast.MustParseLiteral(`p(2)`), Proof{})

	if !(Proof{}).IsBase() {
		t.Fatal("Expected empty proof to be base")
	}

	cpy := db.Copy()
	if !cpy.DeleteAll(ast.MustParseLiteral(`p(1)`)) {
		t.Fatal("Expected tuple in copy")
	}

	if db.Len() != 2 || cpy.Len() != 1 {
		t.Fatalf("Expected independent copies but got %v and %v", db.Len(), cpy.Len())
	}

	if got := collect(db.Facts, "p", `p(2)`); !cmp.Equal(got, []string{"p(2)"}) {
		t.Fatalf("Unexpected facts: %v", got)
	}
}
