// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown/builtins"
)

type compareFunc func(cmp int) bool

func compareGreaterThan(cmp int) bool   { return cmp > 0 }
func compareGreaterThanEq(cmp int) bool { return cmp >= 0 }
func compareLessThan(cmp int) bool      { return cmp < 0 }
func compareLessThanEq(cmp int) bool    { return cmp <= 0 }
func compareEqual(cmp int) bool         { return cmp == 0 }

// compareConstants orders two numbers numerically or two strings
// lexically. Any other combination is a type error.
func compareConstants(a, b ast.Value) (int, error) {
	switch a := a.(type) {
	case ast.String:
		s, err := builtins.StringOperand(b, 2)
		if err != nil {
			return 0, err
		}
		return strings.Compare(string(a), string(s)), nil
	}
	x, y, err := numberOperands(a, b)
	if err != nil {
		return 0, err
	}
	if !x.IsFloat && !y.IsFloat {
		switch {
		case x.Int < y.Int:
			return -1, nil
		case x.Int > y.Int:
			return 1, nil
		}
		return 0, nil
	}
	switch fx, fy := x.AsFloat(), y.AsFloat(); {
	case fx < fy:
		return -1, nil
	case fx > fy:
		return 1, nil
	}
	return 0, nil
}

func evalIneq(cmp compareFunc) PredicateBuiltin2 {
	return func(a, b ast.Value) (bool, error) {
		c, err := compareConstants(a, b)
		if err != nil {
			return false, err
		}
		return cmp(c), nil
	}
}

// builtinEqual compares numbers by value and all other constants
// structurally. It never raises a type error.
func builtinEqual(a, b ast.Value) (bool, error) {
	if c, err := compareConstants(a, b); err == nil {
		return c == 0, nil
	}
	return a.Equal(b), nil
}

func builtinMax(a, b ast.Value) (ast.Value, error) {
	c, err := compareConstants(a, b)
	if err != nil {
		return nil, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}

func init() {
	RegisterPredicateBuiltin2(declOf("lt"), evalIneq(compareLessThan))
	RegisterPredicateBuiltin2(declOf("lteq"), evalIneq(compareLessThanEq))
	RegisterPredicateBuiltin2(declOf("gt"), evalIneq(compareGreaterThan))
	RegisterPredicateBuiltin2(declOf("gteq"), evalIneq(compareGreaterThanEq))
	RegisterPredicateBuiltin2(declOf("equal"), builtinEqual)
	RegisterFunctionalBuiltin2(declOf("max"), builtinMax)
}
