// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"reflect"
	"strings"
	"testing"
)

func TestRuleErrorsSafety(t *testing.T) {
	tests := []struct {
		note     string
		rule     string
		expected []string
	}{
		{
			note: "safe",
			rule: "p(x) :- q(x), not r(x)",
		},
		{
			note:     "unsafe head",
			rule:     "p(x, y) :- q(x)",
			expected: []string{"var y in rule head p(x, y) is unsafe"},
		},
		{
			note:     "head var only in negated literal",
			rule:     "p(x, y) :- q(x), not r(y)",
			expected: []string{"var y in rule head", "var y in negated literal"},
		},
		{
			note:     "unsafe negation",
			rule:     "p(x) :- q(x), not r(x, y)",
			expected: []string{"var y in negated literal not r(x, y) is unsafe"},
		},
		{
			note:     "unsafe builtin input",
			rule:     "p(x) :- q(x), plus(x, y, z)",
			expected: []string{"var y in built-in literal plus(x, y, z) is unsafe"},
		},
		{
			note: "builtin output binds head",
			rule: "p(z) :- q(x), plus(x, 1, z)",
		},
		{
			note: "builtin chain",
			rule: "p(w) :- q(x), plus(x, 1, z), mul(z, 2, w)",
		},
		{
			note: "builtin input bound by later literal",
			rule: "p(x) :- lt(x, 3), q(x)",
		},
		{
			note: "all unsafe",
			rule: "p(x, y) :- not q(x, y)",
			expected: []string{
				"var x in rule head", "var y in rule head",
				"var x in negated literal", "var y in negated literal",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			errs := RuleErrors(MustParseRule(tc.rule), CheckOptions{})
			assertErrors(t, errs, tc.expected)
			for _, err := range errs {
				if err.Code != UnsafeVarErr {
					t.Errorf("Expected unsafe var error but got %v", err)
				}
			}
		})
	}
}

func TestRuleErrorsSchema(t *testing.T) {
	tests := []struct {
		note     string
		rule     string
		action   bool
		expected []string
	}{
		{
			note: "known table",
			rule: "p(x) :- nova:servers(x, y, z)",
		},
		{
			note:     "arity mismatch",
			rule:     "p(x) :- nova:servers(x)",
			expected: []string{"nova:servers has arity 3 but 1 arguments were given"},
		},
		{
			note:     "unknown table",
			rule:     "p(x) :- nova:server(x, y, z)",
			expected: []string{"unknown table server in module nova (did you mean servers?)"},
		},
		{
			note:     "unknown module",
			rule:     "p(x) :- neutron:ports(x)",
			expected: []string{"unknown module neutron"},
		},
		{
			note:   "action update head",
			rule:   "nova:servers+(x, y, z) :- q(x, y, z)",
			action: true,
		},
		{
			note:     "action update head arity",
			rule:     "nova:servers+(x) :- q(x)",
			action:   true,
			expected: []string{"nova:servers+ has arity 3"},
		},
		{
			note:   "action update head of unknown module",
			rule:   "p+(x) :- q(x)",
			action: true,
		},
		{
			note:     "update head outside action theory",
			rule:     "p+(x) :- q(x)",
			expected: []string{"defines an update outside of an action theory"},
		},
		{
			note:     "qualified head",
			rule:     "nova:servers(x, y, z) :- q(x, y, z)",
			expected: []string{"must not reference another module"},
		},
		{
			note:     "builtin head",
			rule:     "plus(x, y, z) :- q(x, y, z)",
			expected: []string{"redefines a built-in"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			errs := RuleErrors(MustParseRule(tc.rule), CheckOptions{Schemas: testSchemas(), Action: tc.action})
			assertErrors(t, errs, tc.expected)
		})
	}
}

func TestLiteralErrors(t *testing.T) {
	opts := CheckOptions{Schemas: testSchemas()}
	if errs := LiteralErrors(MustParseLiteral(`p(1, "a")`), opts); len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if errs := LiteralErrors(MustParseLiteral(`p(x)`), opts); !IsError(UnsafeVarErr, errs) {
		t.Fatalf("Expected unsafe var error but got %v", errs)
	}
	if errs := LiteralErrors(MustParseLiteral(`nova:servers(1)`), opts); !IsError(SchemaErr, errs) {
		t.Fatalf("Expected schema error but got %v", errs)
	}
}

func assertErrors(t *testing.T, errs Errors, expected []string) {
	t.Helper()
	if len(errs) != len(expected) {
		t.Fatalf("Expected %d errors but got %d: %v", len(expected), len(errs), errs)
	}
	for _, want := range expected {
		found := false
		for _, err := range errs {
			if strings.Contains(err.Message, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected error containing %q in %v", want, errs)
		}
	}
}

func TestReorderForSafety(t *testing.T) {
	tests := []struct {
		note     string
		body     string
		expected string
	}{
		{
			note:     "already safe",
			body:     "q(x), not r(x)",
			expected: "q(x), not r(x)",
		},
		{
			note:     "negation and builtin moved",
			body:     "not r(x), plus(x, 1, y), q(x)",
			expected: "q(x), not r(x), plus(x, 1, y)",
		},
		{
			note:     "builtin chain",
			body:     "mul(z, 2, w), plus(x, 1, z), q(x)",
			expected: "q(x), plus(x, 1, z), mul(z, 2, w)",
		},
		{
			note:     "positive order kept",
			body:     "not s(y), b(y), a(x)",
			expected: "b(y), not s(y), a(x)",
		},
		{
			note:     "unsafe appended",
			body:     "not r(z), q(x)",
			expected: "q(x), not r(z)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			result := ReorderForSafety(MustParseQuery(tc.body))
			if result.String() != tc.expected {
				t.Fatalf("Expected %v but got %v", tc.expected, result)
			}
		})
	}
}

func parseRuleSet(t *testing.T, rules ...string) []*Rule {
	t.Helper()
	result := make([]*Rule, len(rules))
	for i := range rules {
		result[i] = MustParseRule(rules[i])
	}
	return result
}

func TestIsRecursive(t *testing.T) {
	tests := []struct {
		note      string
		rules     []string
		recursive bool
	}{
		{"empty", nil, false},
		{"chain", []string{"p(x) :- q(x)", "q(x) :- r(x)"}, false},
		{"self", []string{"p(x) :- p(x)"}, true},
		{"mutual", []string{"p(x) :- q(x)", "q(x) :- p(x)"}, true},
		{"through negation", []string{"p(x) :- q(x), not r(x)", "r(x) :- p(x)"}, true},
		{"builtin literals add no edges", []string{"p(x) :- q(x), plus(x, 1, y)", "plus(x, y, z) :- p(x)"}, false},
		{"diamond", []string{"p(x) :- q(x), r(x)", "q(x) :- s(x)", "r(x) :- s(x)"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			if result := IsRecursive(parseRuleSet(t, tc.rules...)); result != tc.recursive {
				t.Fatalf("Expected %v but got %v", tc.recursive, result)
			}
		})
	}
}

func TestRecursiveTables(t *testing.T) {
	rules := parseRuleSet(t,
		"path(x, y) :- edge(x, y)",
		"path(x, z) :- edge(x, y), path(y, z)",
		"reach(x) :- path(\"a\", x)",
	)
	result := RecursiveTables(rules)
	if _, ok := result["path"]; !ok || len(result) != 1 {
		t.Fatalf("Expected only path to be recursive but got %v", result)
	}
}

func TestStratification(t *testing.T) {
	tests := []struct {
		note     string
		rules    []string
		expected map[string]int
	}{
		{
			note:     "no negation",
			rules:    []string{"p(x) :- q(x)", "q(x) :- p(x)"},
			expected: map[string]int{"p": 0, "q": 0},
		},
		{
			note:     "one level",
			rules:    []string{"p(x) :- q(x), not r(x)", "r(x) :- s(x)"},
			expected: map[string]int{"p": 1, "q": 0, "r": 0, "s": 0},
		},
		{
			note:     "propagated",
			rules:    []string{"p(x) :- q(x)", "q(x) :- r(x), not s(x)", "s(x) :- t(x)"},
			expected: map[string]int{"p": 1, "q": 1, "r": 0, "s": 0, "t": 0},
		},
		{
			note:     "two levels",
			rules:    []string{"p(x) :- q(x), not r(x)", "r(x) :- q(x), not s(x)"},
			expected: map[string]int{"p": 2, "q": 0, "r": 1, "s": 0},
		},
		{
			note:  "negative self loop",
			rules: []string{"p(x) :- q(x), not p(x)"},
		},
		{
			note:  "negative cycle",
			rules: []string{"p(x) :- q(x), not r(x)", "r(x) :- p(x)"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			strata, ok := Stratification(parseRuleSet(t, tc.rules...))
			if tc.expected == nil {
				if ok {
					t.Fatalf("Expected rules to be unstratified but got %v", strata)
				}
				if errs := StratificationErrors(parseRuleSet(t, tc.rules...)); !IsError(StratificationErr, errs) {
					t.Fatalf("Expected stratification error but got %v", errs)
				}
				return
			}
			if !ok {
				t.Fatal("Expected rules to be stratified")
			}
			if !reflect.DeepEqual(strata, tc.expected) {
				t.Fatalf("Expected %v but got %v", tc.expected, strata)
			}
		})
	}
}
