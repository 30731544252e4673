// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"errors"
	"math"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown/builtins"
)

type arithArity2 func(a, b builtins.Number) (ast.Value, error)

func arithPlus(a, b builtins.Number) (ast.Value, error) {
	if !a.IsFloat && !b.IsFloat {
		return ast.Int(a.Int + b.Int), nil
	}
	return ast.Float(a.AsFloat() + b.AsFloat()), nil
}

func arithMinus(a, b builtins.Number) (ast.Value, error) {
	if !a.IsFloat && !b.IsFloat {
		return ast.Int(a.Int - b.Int), nil
	}
	return ast.Float(a.AsFloat() - b.AsFloat()), nil
}

func arithMultiply(a, b builtins.Number) (ast.Value, error) {
	if !a.IsFloat && !b.IsFloat {
		return ast.Int(a.Int * b.Int), nil
	}
	return ast.Float(a.AsFloat() * b.AsFloat()), nil
}

// arithDivide always produces a float.
func arithDivide(a, b builtins.Number) (ast.Value, error) {
	if b.AsFloat() == 0 {
		return nil, errors.New("divide by zero")
	}
	return ast.Float(a.AsFloat() / b.AsFloat()), nil
}

func builtinArithArity2(fn arithArity2) FunctionalBuiltin2 {
	return func(a, b ast.Value) (ast.Value, error) {
		n1, n2, err := numberOperands(a, b)
		if err != nil {
			return nil, err
		}
		return fn(n1, n2)
	}
}

func builtinFloat(a ast.Value) (ast.Value, error) {
	n, err := builtins.NumericOperand(a, 1)
	if err != nil {
		return nil, err
	}
	return ast.Float(n.AsFloat()), nil
}

// builtinInt truncates towards zero.
func builtinInt(a ast.Value) (ast.Value, error) {
	n, err := builtins.NumericOperand(a, 1)
	if err != nil {
		return nil, err
	}
	if !n.IsFloat {
		return ast.Int(n.Int), nil
	}
	if math.IsNaN(n.Float) || math.IsInf(n.Float, 0) {
		return nil, builtins.NewOperandErr(1, "must be finite but got %v", n.Float)
	}
	if n.Float >= math.MaxInt64 || n.Float < math.MinInt64 {
		return nil, builtins.NewOperandErr(1, "%v is out of the integer range", n.Float)
	}
	return ast.Int(int64(n.Float)), nil
}

func init() {
	RegisterFunctionalBuiltin2(declOf("plus"), builtinArithArity2(arithPlus))
	RegisterFunctionalBuiltin2(declOf("minus"), builtinArithArity2(arithMinus))
	RegisterFunctionalBuiltin2(declOf("mul"), builtinArithArity2(arithMultiply))
	RegisterFunctionalBuiltin2(declOf("div"), builtinArithArity2(arithDivide))
	RegisterFunctionalBuiltin1(declOf("float"), builtinFloat)
	RegisterFunctionalBuiltin1(declOf("int"), builtinInt)
}
