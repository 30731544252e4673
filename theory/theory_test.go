// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown"
)

type resolver map[string]Theory

func (r resolver) Theory(name string) (topdown.Source, bool) {
	th, ok := r[name]
	if !ok {
		return nil, false
	}
	return th, true
}

func (resolver) IsDataSource(string) bool {
	return false
}

func newTheory(t *testing.T, kind Kind) Theory {
	t.Helper()
	th, err := New("test", kind, Params{})
	if err != nil {
		t.Fatal(err)
	}
	return th
}

func parseEvents(text string, insert bool) []Event {
	var events []Event
	for _, f := range ast.MustParseRules(text) {
		events = append(events, Event{Formula: f, Insert: insert, Target: "test"})
	}
	return events
}

func mustInsert(t *testing.T, th Theory, text string) {
	t.Helper()
	if _, err := th.Update(parseEvents(text, true)); err != nil {
		t.Fatalf("Unexpected error inserting %q: %v", text, err)
	}
}

func mustDelete(t *testing.T, th Theory, text string) {
	t.Helper()
	if _, err := th.Update(parseEvents(text, false)); err != nil {
		t.Fatalf("Unexpected error deleting %q: %v", text, err)
	}
}

func selectStrings(t *testing.T, th Theory, query string) []string {
	t.Helper()
	answers, err := th.Select(context.Background(), ast.MustParseQuery(query), QueryOptions{FindAll: true})
	if err != nil {
		t.Fatalf("Unexpected error selecting %q: %v", query, err)
	}
	var result []string
	for _, a := range answers {
		result = append(result, a.String())
	}
	sort.Strings(result)
	return result
}

func formulaStrings(th Theory) []string {
	var result []string
	for _, f := range th.Formulas() {
		result = append(result, f.String())
	}
	return result
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		note     string
		input    string
		expected Kind
		err      bool
	}{
		{note: "default", input: "", expected: NonrecursiveKind},
		{note: "materialized", input: "Materialized", expected: MaterializedKind},
		{note: "action", input: "action", expected: ActionKind},
		{note: "database", input: "database", expected: DatabaseKind},
		{note: "unknown", input: "graph", err: true},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			kind, err := ParseKind(tc.input)
			if tc.err {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil || kind != tc.expected {
				t.Fatalf("Expected %v but got %v (err: %v)", tc.expected, kind, err)
			}
		})
	}
}

func TestInsertIdempotent(t *testing.T) {
	for _, kind := range []Kind{NonrecursiveKind, ActionKind, MaterializedKind} {
		t.Run(string(kind), func(t *testing.T) {
			th := newTheory(t, kind)
			events := parseEvents(`p(1). q(x) :- p(x).`, true)

			changes, err := th.Update(events)
			if err != nil {
				t.Fatal(err)
			}
			if len(changes) != 2 {
				t.Fatalf("Expected 2 changes but got %v", changes)
			}

			before := formulaStrings(th)

			changes, err = th.Update(events)
			if err != nil {
				t.Fatal(err)
			}
			if len(changes) != 0 {
				t.Fatalf("Expected no changes but got %v", changes)
			}

			if diff := cmp.Diff(before, formulaStrings(th)); diff != "" {
				t.Fatalf("Content changed (-before, +after):\n%v", diff)
			}
		})
	}
}

func TestUpdateReturnsChanges(t *testing.T) {
	th := newTheory(t, NonrecursiveKind)
	mustInsert(t, th, `p(2).`)

	changes, err := th.Update([]Event{
		NewInsert("test", ast.MustParseLiteral(`p(1)`)),
		NewInsert("test", ast.MustParseLiteral(`p(1)`)),
		NewDelete("test", ast.MustParseLiteral(`p(3)`)),
		NewDelete("test", ast.MustParseLiteral(`p(2)`)),
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range changes {
		got = append(got, c.String())
	}

	exp := []string{"insert[test:p(1)]", "delete[test:p(2)]"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("Unexpected changes (-want, +got):\n%v", diff)
	}
}

func TestInsertDeleteInverse(t *testing.T) {
	formulas := []string{
		`p(1)`,
		`q(x) :- p(x)`,
		`r(x) :- q(x), not s(x)`,
		`s(2)`,
		`p(2)`,
		`t(x, z) :- p(x), plus(x, 1, z)`,
	}

	for _, kind := range []Kind{NonrecursiveKind, MaterializedKind} {
		t.Run(string(kind), func(t *testing.T) {
			th := newTheory(t, kind)
			mustInsert(t, th, `p(5).`)
			before := formulaStrings(th)

			for _, f := range formulas {
				if ok, err := th.Insert(ast.MustParseRules(f)[0]); err != nil || !ok {
					t.Fatalf("Expected %v to be inserted: %v %v", f, ok, err)
				}
			}

			if exp, got := []string{"r(1)", "r(5)"}, selectStrings(t, th, `r(x)`); !cmp.Equal(exp, got) {
				t.Fatalf("Expected %v but got %v", exp, got)
			}

			for i := len(formulas) - 1; i >= 0; i-- {
				if ok, err := th.Delete(ast.MustParseRules(formulas[i])[0]); err != nil || !ok {
					t.Fatalf("Expected %v to be deleted: %v %v", formulas[i], ok, err)
				}
			}

			if diff := cmp.Diff(before, formulaStrings(th)); diff != "" {
				t.Fatalf("Content not restored (-before, +after):\n%v", diff)
			}

			if exp, got := []string{"p"}, th.Tables(); !cmp.Equal(exp, got) {
				t.Fatalf("Expected tables %v but got %v", exp, got)
			}

			if got := selectStrings(t, th, `q(x)`); len(got) != 0 {
				t.Fatalf("Expected no derived tuples but got %v", got)
			}
		})
	}
}

func TestUpdateErrors(t *testing.T) {
	tests := []struct {
		note     string
		kind     Kind
		text     string
		expected []ast.ErrCode
	}{
		{
			note:     "head safety",
			kind:     NonrecursiveKind,
			text:     `p(x) :- q(y).`,
			expected: []ast.ErrCode{ast.UnsafeVarErr},
		},
		{
			note:     "self recursion in action theory",
			kind:     ActionKind,
			text:     `p(x) :- p(x).`,
			expected: []ast.ErrCode{ast.RecursionErr},
		},
		{
			note:     "mutual recursion",
			kind:     NonrecursiveKind,
			text:     `p(x) :- q(x). q(x) :- p(x).`,
			expected: []ast.ErrCode{ast.RecursionErr},
		},
		{
			note:     "update head outside action theory",
			kind:     NonrecursiveKind,
			text:     `p+(x) :- q(x).`,
			expected: []ast.ErrCode{ast.CompileErr},
		},
		{
			note: "update head in action theory",
			kind: ActionKind,
			text: `p+(x) :- q(x).`,
		},
		{
			note:     "rule in database theory",
			kind:     DatabaseKind,
			text:     `p(x) :- q(x).`,
			expected: []ast.ErrCode{ast.CompileErr},
		},
		{
			note: "fact in database theory",
			kind: DatabaseKind,
			text: `p(1).`,
		},
		{
			note:     "non-ground fact",
			kind:     NonrecursiveKind,
			text:     `p(x).`,
			expected: []ast.ErrCode{ast.UnsafeVarErr},
		},
		{
			note:     "builtin fact",
			kind:     NonrecursiveKind,
			text:     `lt(1, 2).`,
			expected: []ast.ErrCode{ast.CompileErr},
		},
		{
			note: "transitive closure in materialized theory",
			kind: MaterializedKind,
			text: `q(x, y) :- p(x, y). q(x, y) :- p(x, z), q(z, y).`,
		},
		{
			note:     "negation cycle in materialized theory",
			kind:     MaterializedKind,
			text:     `p(x) :- q(x), not r(x). r(x) :- q(x), p(x).`,
			expected: []ast.ErrCode{ast.StratificationErr},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			th := newTheory(t, tc.kind)
			errs := th.UpdateWouldCauseErrors(parseEvents(tc.text, true))
			if diff := cmp.Diff(tc.expected, errs.Codes(), cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Unexpected error codes (-want, +got):\n%v\nerrors: %v", diff, errs)
			}

			_, err := th.Update(parseEvents(tc.text, true))
			if (err != nil) != (len(tc.expected) > 0) {
				t.Fatalf("Unexpected update result: %v", err)
			}
			if err != nil && len(th.Formulas()) != 0 {
				t.Fatalf("Expected failed update to leave theory empty but got %v", th.Formulas())
			}
		})
	}
}

func TestEventTargetMismatch(t *testing.T) {
	th := newTheory(t, NonrecursiveKind)
	errs := th.UpdateWouldCauseErrors([]Event{NewInsert("other", ast.MustParseLiteral(`p(1)`))})
	if len(errs) != 1 {
		t.Fatalf("Expected one error but got %v", errs)
	}
}

func TestSelfQualifiedFormulas(t *testing.T) {
	for _, kind := range []Kind{NonrecursiveKind, MaterializedKind} {
		t.Run(string(kind), func(t *testing.T) {
			th := newTheory(t, kind)
			mustInsert(t, th, `test:q(x) :- test:p(x). test:p(1).`)

			if exp, got := []string{"q(x) :- p(x)", "p(1)"}, formulaStrings(th); !cmp.Equal(sortedCopy(exp), sortedCopy(got)) {
				t.Fatalf("Expected %v but got %v", exp, got)
			}

			if exp, got := []string{"q(1)"}, selectStrings(t, th, `q(x)`); !cmp.Equal(exp, got) {
				t.Fatalf("Expected %v but got %v", exp, got)
			}

			if !th.Contains(ast.MustParseLiteral(`test:p(1)`)) {
				t.Fatal("Expected qualified fact to be contained")
			}
		})
	}
}

func sortedCopy(s []string) []string {
	cpy := append([]string(nil), s...)
	sort.Strings(cpy)
	return cpy
}

func TestBuiltinArithmetic(t *testing.T) {
	for _, kind := range []Kind{NonrecursiveKind, MaterializedKind} {
		t.Run(string(kind), func(t *testing.T) {
			th := newTheory(t, kind)
			mustInsert(t, th, `p(x, z) :- q(x, y), plus(x, y, z). q(1, 2). q(2, 3).`)

			exp := []string{"p(1, 3)", "p(2, 5)"}
			if diff := cmp.Diff(exp, selectStrings(t, th, `p(x, y)`)); diff != "" {
				t.Fatalf("Unexpected answers (-want, +got):\n%v", diff)
			}
		})
	}
}

func TestStratifiedNegation(t *testing.T) {
	tests := []struct {
		note  string
		rules string
		// toggle inserts and deletes the support of r(2)
		toggle string
	}{
		{note: "base", rules: `p(x) :- q(x), not r(x).`, toggle: `r(2).`},
		{note: "derived", rules: `p(x) :- q(x), not r(x). r(x) :- s(x).`, toggle: `s(2).`},
		{note: "negation first", rules: `p(x) :- not r(x), q(x).`, toggle: `r(2).`},
	}

	for _, kind := range []Kind{NonrecursiveKind, MaterializedKind} {
		for _, tc := range tests {
			t.Run(string(kind)+"/"+tc.note, func(t *testing.T) {
				th := newTheory(t, kind)
				mustInsert(t, th, tc.rules)
				mustInsert(t, th, `q(1). q(2).`)
				mustInsert(t, th, tc.toggle)

				if exp, got := []string{"p(1)"}, selectStrings(t, th, `p(x)`); !cmp.Equal(exp, got) {
					t.Fatalf("Expected %v but got %v", exp, got)
				}

				mustDelete(t, th, tc.toggle)

				if exp, got := []string{"p(1)", "p(2)"}, selectStrings(t, th, `p(x)`); !cmp.Equal(exp, got) {
					t.Fatalf("After delete expected %v but got %v", exp, got)
				}

				mustInsert(t, th, tc.toggle)

				if exp, got := []string{"p(1)"}, selectStrings(t, th, `p(x)`); !cmp.Equal(exp, got) {
					t.Fatalf("After reinsert expected %v but got %v", exp, got)
				}
			})
		}
	}
}

func TestMultiProofRetraction(t *testing.T) {
	for _, kind := range []Kind{NonrecursiveKind, MaterializedKind} {
		t.Run(string(kind), func(t *testing.T) {
			th := newTheory(t, kind)
			mustInsert(t, th, `p(1) :- q(1). p(1) :- r(1). q(1). r(1).`)

			mustDelete(t, th, `q(1).`)

			if exp, got := []string{"p(1)"}, selectStrings(t, th, `p(x)`); !cmp.Equal(exp, got) {
				t.Fatalf("Expected %v but got %v", exp, got)
			}

			mustDelete(t, th, `r(1).`)

			if got := selectStrings(t, th, `p(x)`); len(got) != 0 {
				t.Fatalf("Expected p to be empty but got %v", got)
			}
		})
	}
}

func TestMaterializedProofs(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `q(x) :- p(x, y). p(1, 2). p(1, 3).`)

	proofs := th.Proofs(ast.MustParseLiteral(`q(1)`))
	var got []string
	for _, p := range proofs {
		got = append(got, p.String())
	}

	exp := []string{"q(x) :- p(x, y); x=1; y=2", "q(x) :- p(x, y); x=1; y=3"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("Unexpected proofs (-want, +got):\n%v", diff)
	}

	mustDelete(t, th, `p(1, 2).`)

	if n := len(th.Proofs(ast.MustParseLiteral(`q(1)`))); n != 1 {
		t.Fatalf("Expected one proof left but got %v", n)
	}
}

func TestMaterializedTransitiveClosure(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `q(x, y) :- p(x, y). q(x, y) :- p(x, z), q(z, y).`)
	mustInsert(t, th, `p(1, 2). p(2, 3). p(3, 4).`)

	exp := []string{"q(1, 2)", "q(1, 3)", "q(1, 4)"}
	if diff := cmp.Diff(exp, selectStrings(t, th, `q(1, y)`)); diff != "" {
		t.Fatalf("Unexpected answers (-want, +got):\n%v", diff)
	}

	mustDelete(t, th, `p(2, 3).`)

	exp = []string{"q(1, 2)", "q(3, 4)"}
	if diff := cmp.Diff(exp, selectStrings(t, th, `q(x, y)`)); diff != "" {
		t.Fatalf("Unexpected answers after delete (-want, +got):\n%v", diff)
	}
}

func TestMaterializedCyclicSupport(t *testing.T) {
	tests := []struct {
		note     string
		rules    string
		facts    string
		del      string
		query    string
		before   []string
		expected []string
	}{
		{
			note:     "cycle",
			rules:    `q(x, y) :- p(x, y). q(x, y) :- p(x, z), q(z, y).`,
			facts:    `p(1, 2). p(2, 1).`,
			del:      `p(2, 1).`,
			query:    `q(x, y)`,
			before:   []string{"q(1, 1)", "q(1, 2)", "q(2, 1)", "q(2, 2)"},
			expected: []string{"q(1, 2)"},
		},
		{
			note:     "self support",
			rules:    `p(x) :- q(x). p(x) :- r(x, y), p(y).`,
			facts:    `q(1). r(1, 1).`,
			del:      `q(1).`,
			query:    `p(x)`,
			before:   []string{"p(1)"},
			expected: nil,
		},
		{
			note:     "alternative support survives",
			rules:    `p(x) :- q(x). p(x) :- r(x, y), p(y).`,
			facts:    `q(1). q(2). r(1, 2). r(1, 1).`,
			del:      `q(1).`,
			query:    `p(x)`,
			before:   []string{"p(1)", "p(2)"},
			expected: []string{"p(1)", "p(2)"},
		},
		{
			note:     "base fact in recursive table",
			rules:    `p(x) :- r(x, y), p(y).`,
			facts:    `p(1). r(1, 1). r(2, 1).`,
			del:      `r(1, 1).`,
			query:    `p(x)`,
			before:   []string{"p(1)", "p(2)"},
			expected: []string{"p(1)", "p(2)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			th := NewMaterialized("test", Params{})
			mustInsert(t, th, tc.rules)
			mustInsert(t, th, tc.facts)

			if diff := cmp.Diff(tc.before, selectStrings(t, th, tc.query)); diff != "" {
				t.Fatalf("Unexpected answers before delete (-want, +got):\n%v", diff)
			}

			mustDelete(t, th, tc.del)

			if diff := cmp.Diff(tc.expected, selectStrings(t, th, tc.query)); diff != "" {
				t.Fatalf("Unexpected answers after delete (-want, +got):\n%v", diff)
			}
		})
	}
}

func TestMaterializedRuleInsertDelete(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `p(1). p(2). s(2).`)
	mustInsert(t, th, `q(x) :- p(x), not s(x).`)

	if exp, got := []string{"q(1)"}, selectStrings(t, th, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected %v but got %v", exp, got)
	}

	_, err := th.Insert(ast.MustParseRule(`s(x) :- q(x)`))
	if !ast.IsError(ast.StratificationErr, err) {
		t.Fatalf("Expected stratification error but got %v", err)
	}

	if len(th.Content()) != 1 {
		t.Fatalf("Expected rejected rule to leave one rule but got %v", th.Content())
	}

	mustDelete(t, th, `q(x) :- p(x), not s(x).`)

	if got := selectStrings(t, th, `q(x)`); len(got) != 0 {
		t.Fatalf("Expected q to be empty but got %v", got)
	}
}

func TestMaterializedExplain(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `p(x) :- q(x). p(x) :- r(x). q(1). r(1).`)

	proofs, err := th.Explain(context.Background(), ast.MustParseQuery(`p(1)`), QueryOptions{FindAll: true})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, p := range proofs {
		for _, r := range p {
			got = append(got, r.String())
		}
	}
	sort.Strings(got)

	exp := []string{"p(1) :- q(1)", "p(1) :- r(1)"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("Unexpected explanation (-want, +got):\n%v", diff)
	}
}

func TestMaterializedMirrors(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `p(x) :- nova:servers(x, "ACTIVE").`)

	if _, err := th.Insert(ast.MustParseLiteral(`nova:servers(1, "ACTIVE")`)); err != nil {
		t.Fatal(err)
	}

	if exp, got := []string{"p(1)"}, selectStrings(t, th, `p(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected %v but got %v", exp, got)
	}

	if exp, got := []TableRef{{Table: "nova:servers", Arity: 2}}, th.MirroredTables(); !cmp.Equal(exp, got) {
		t.Fatalf("Expected %v but got %v", exp, got)
	}

	if exp, got := []string{`p(x) :- nova:servers(x, "ACTIVE")`}, formulaStrings(th); !cmp.Equal(exp, got) {
		t.Fatalf("Expected mirrors to be excluded from formulas but got %v", got)
	}

	if len(th.Mirror("nova:servers")) != 1 {
		t.Fatalf("Expected one mirrored tuple")
	}
}

func TestNonrecursiveFork(t *testing.T) {
	base := NewNonrecursive("test", Params{})
	mustInsert(t, base, `p(1). p(2). q(x) :- p(x).`)

	fork := base.Fork()

	if ok, err := fork.Delete(ast.MustParseLiteral(`p(1)`)); err != nil || !ok {
		t.Fatalf("Expected base fact to be masked: %v %v", ok, err)
	}
	if ok, err := fork.Insert(ast.MustParseLiteral(`p(3)`)); err != nil || !ok {
		t.Fatalf("Expected fact to be inserted: %v %v", ok, err)
	}
	if ok, _ := fork.Insert(ast.MustParseLiteral(`p(2)`)); ok {
		t.Fatal("Expected base fact to be contained in fork")
	}

	if exp, got := []string{"q(2)", "q(3)"}, selectStrings(t, fork, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected fork answers %v but got %v", exp, got)
	}

	if exp, got := []string{"q(1)", "q(2)"}, selectStrings(t, base, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected base answers %v but got %v", exp, got)
	}

	if exp, got := []string{"p(2)", "p(3)", "q(x) :- p(x)"}, formulaStrings(fork); !cmp.Equal(exp, got) {
		t.Fatalf("Expected fork formulas %v but got %v", exp, got)
	}

	if ok, _ := fork.Insert(ast.MustParseLiteral(`p(1)`)); !ok {
		t.Fatal("Expected masked fact to be restored")
	}

	nested := fork.Fork()
	if ok, _ := nested.Delete(ast.MustParseLiteral(`p(1)`)); !ok {
		t.Fatal("Expected fact of the base to be masked in nested fork")
	}
	if ok, _ := nested.Delete(ast.MustParseRule(`q(x) :- p(x)`)); !ok {
		t.Fatal("Expected rule of the base to be masked in nested fork")
	}

	if got := selectStrings(t, nested, `q(x)`); len(got) != 0 {
		t.Fatalf("Expected no answers in nested fork but got %v", got)
	}

	if exp, got := []string{"p(2)", "p(3)"}, selectStrings(t, nested, `p(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected nested answers %v but got %v", exp, got)
	}

	if exp, got := []string{"q(1)", "q(2)", "q(3)"}, selectStrings(t, fork, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected fork answers %v but got %v", exp, got)
	}
}

func TestMaterializedFork(t *testing.T) {
	base := NewMaterialized("test", Params{})
	mustInsert(t, base, `p(1). q(x) :- p(x).`)

	fork := base.Fork()
	mustInsert(t, fork, `p(2).`)
	mustDelete(t, fork, `p(1).`)

	if exp, got := []string{"q(2)"}, selectStrings(t, fork, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected fork answers %v but got %v", exp, got)
	}

	if exp, got := []string{"q(1)"}, selectStrings(t, base, `q(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected base answers %v but got %v", exp, got)
	}
}

func TestCrossTheorySelect(t *testing.T) {
	r := resolver{}
	a := NewNonrecursive("a", Params{Resolver: r})
	b := NewMaterialized("b", Params{Resolver: r})
	r["a"] = a
	r["b"] = b

	mustInsertNamed(t, b, `q(x) :- s(x). s(1). s(2).`)
	mustInsertNamed(t, a, `p(x) :- b:q(x), not excluded(x). excluded(2).`)

	if exp, got := []string{"p(1)"}, selectStrings(t, a, `p(x)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected %v but got %v", exp, got)
	}

	_, err := a.Select(context.Background(), ast.MustParseQuery(`c:p(x)`), QueryOptions{})
	if !topdown.IsNotFound(err) {
		t.Fatalf("Expected not found error but got %v", err)
	}
}

func mustInsertNamed(t *testing.T, th Theory, text string) {
	t.Helper()
	var events []Event
	for _, f := range ast.MustParseRules(text) {
		events = append(events, NewInsert(th.Name(), f))
	}
	if _, err := th.Update(events); err != nil {
		t.Fatal(err)
	}
}

func TestActionAbduce(t *testing.T) {
	th := NewAction("test", Params{})
	mustInsert(t, th, `p+(x) :- q(x), r(x). r(1).`)

	rules, err := th.Abduce(context.Background(), ast.MustParseQuery(`p+(x)`), []string{"q"}, QueryOptions{FindAll: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(rules) != 1 || rules[0].String() != "p+(1) :- q(1)" {
		t.Fatalf("Unexpected abduction: %v", rules)
	}
}

func TestArity(t *testing.T) {
	schemas := ast.ModuleSchemas{"test": ast.NewSchema(map[string][]string{"servers": {"id", "status"}})}
	th := NewNonrecursive("test", Params{Schemas: schemas})
	mustInsert(t, th, `p(x, y, z) :- q(x, y, z).`)

	tests := []struct {
		table string
		arity int
		ok    bool
	}{
		{"servers", 2, true},
		{"p", 3, true},
		{"q", 3, true},
		{"r", 0, false},
	}

	for _, tc := range tests {
		n, ok := th.Arity(tc.table)
		if n != tc.arity || ok != tc.ok {
			t.Fatalf("Expected arity of %v to be %v (%v) but got %v (%v)", tc.table, tc.arity, tc.ok, n, ok)
		}
	}
}

func TestMaterializedNegationRemovesOnlySupport(t *testing.T) {
	th := NewMaterialized("test", Params{})
	mustInsert(t, th, `q(x, y) :- e(x, z), q(z, y). q(x, y) :- f(x), f(y), not e(x, y).`)
	mustInsert(t, th, `f(3).`)

	if exp, got := []string{"q(3, 3)"}, selectStrings(t, th, `q(x, y)`); !cmp.Equal(exp, got) {
		t.Fatalf("Expected %v but got %v", exp, got)
	}

	// e(3, 3) blocks the only proof of q(3, 3) that does not go through
	// q(3, 3) itself.
	mustInsert(t, th, `e(3, 3).`)

	if got := selectStrings(t, th, `q(x, y)`); len(got) != 0 {
		t.Fatalf("Expected q to be empty but got %v", got)
	}

	mustDelete(t, th, `e(3, 3).`)

	if exp, got := []string{"q(3, 3)"}, selectStrings(t, th, `q(x, y)`); !cmp.Equal(exp, got) {
		t.Fatalf("After delete expected %v but got %v", exp, got)
	}
}
