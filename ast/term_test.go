// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		note     string
		value    Value
		expected string
	}{
		{"var", Var("x"), "x"},
		{"string", String(`a"b`), `"a\"b"`},
		{"int", Int(-42), "-42"},
		{"float", Float(2.5), "2.5"},
		{"integral float", Float(2), "2.0"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			if s := tc.value.String(); s != tc.expected {
				t.Fatalf("Expected %v but got %v", tc.expected, s)
			}
		})
	}
}

func TestValueCompare(t *testing.T) {
	tests := []struct {
		note string
		a, b Value
		cmp  int
	}{
		{"var before number", Var("x"), Int(1), -1},
		{"number before string", Int(100), String("1"), -1},
		{"ints", Int(1), Int(2), -1},
		{"int float", Int(2), Float(1.5), 1},
		{"int equals float", Int(1), Float(1), -1},
		{"strings", String("b"), String("a"), 1},
		{"equal", String("a"), String("a"), 0},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			c := tc.a.Compare(tc.b)
			if (c < 0 && tc.cmp >= 0) || (c > 0 && tc.cmp <= 0) || (c == 0 && tc.cmp != 0) {
				t.Fatalf("Expected compare(%v, %v) to be %v but got %v", tc.a, tc.b, tc.cmp, c)
			}
		})
	}
}

func TestValueEqualAndHash(t *testing.T) {
	if Int(1).Equal(Float(1)) {
		t.Fatal("Expected int and float to be distinct constants")
	}
	if Int(1).Hash() == Float(1).Hash() {
		t.Fatal("Expected int and float hashes to differ")
	}
	if String("x").Equal(Var("x")) || String("x").Hash() == Var("x").Hash() {
		t.Fatal("Expected string and var to be distinct")
	}
	a := MustParseLiteral(`p(1, "a", x)`)
	b := MustParseLiteral(`p(1, "a", x)`)
	if !a.Equal(b) || a.Hash() != b.Hash() {
		t.Fatal("Expected equal literals to have equal hashes")
	}
	if a.ID() == b.ID() {
		t.Fatal("Expected literal instances to have distinct identities")
	}
}

func TestValueFromInterface(t *testing.T) {
	tests := []struct {
		note     string
		input    interface{}
		expected Value
	}{
		{"string", "abc", String("abc")},
		{"bytes", []byte("abc"), String("abc")},
		{"int", 7, Int(7)},
		{"int64", int64(-7), Int(-7)},
		{"float", 1.5, Float(1.5)},
		{"bool", true, String("true")},
		{"nil", nil, String("None")},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			v, err := ValueFromInterface(tc.input)
			if err != nil {
				t.Fatal(err)
			}
			if !v.Equal(tc.expected) {
				t.Fatalf("Expected %v but got %v", tc.expected, v)
			}
		})
	}

	if _, err := ValueFromInterface(struct{}{}); err == nil {
		t.Fatal("Expected error for unsupported type")
	}
}

func TestLiteralHelpers(t *testing.T) {
	lit := MustParseLiteral("nova:servers+(x, 1)")
	if lit.Theory() != "nova" || lit.TableName() != "servers+" {
		t.Fatalf("Unexpected split: %v %v", lit.Theory(), lit.TableName())
	}
	if !lit.IsUpdate() || !lit.IsInsert() {
		t.Fatal("Expected insert update literal")
	}
	if UpdateBase(lit.Table) != "nova:servers" {
		t.Fatalf("Unexpected base: %v", UpdateBase(lit.Table))
	}
	if QualifyTable("a", "p") != "a:p" || QualifyTable("a", "b:p") != "b:p" {
		t.Fatal("Unexpected qualification")
	}
	c := lit.Complement()
	if !c.Negated || lit.Negated {
		t.Fatal("Expected complement to flip negation on a copy")
	}
}

func TestRuleCopySharesID(t *testing.T) {
	r := MustParseRule("p(x) :- q(x)")
	cpy := r.Copy()
	if cpy.ID() != r.ID() || !cpy.Equal(r) {
		t.Fatal("Expected copy to equal the original and share its identifier")
	}
	other := MustParseRule("p(x) :- q(x)")
	if other.ID() == r.ID() {
		t.Fatal("Expected distinct rule instances to have distinct identifiers")
	}
}
