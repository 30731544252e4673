// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown/builtins"
)

type (
	// BuiltinContext contains context from the evaluator that may be used by
	// built-in tables.
	BuiltinContext struct {
		Context  context.Context
		Location *ast.Location

		// Time is the instant the query started. The now built-in reports it so
		// that every literal of one query sees the same clock.
		Time time.Time
	}

	// BuiltinFunc defines the implementation of a built-in table. It is
	// called with the values of the input arguments, which are always
	// ground. It returns the values of the output arguments and ok=true if
	// the tuple belongs to the table. An error fails the literal.
	BuiltinFunc func(bctx BuiltinContext, inputs []ast.Value) (outputs []ast.Value, ok bool, err error)

	// FunctionalBuiltin1 computes one output from one input.
	FunctionalBuiltin1 func(op1 ast.Value) (output ast.Value, err error)

	// FunctionalBuiltin2 computes one output from two inputs.
	FunctionalBuiltin2 func(op1, op2 ast.Value) (output ast.Value, err error)

	// PredicateBuiltin2 reports whether two inputs belong to the table.
	PredicateBuiltin2 func(op1, op2 ast.Value) (bool, error)
)

var builtinsMu sync.RWMutex
var builtinFunctions = map[string]BuiltinFunc{}

// RegisterBuiltinFunc adds a new built-in table to the evaluation engine. The
// table must be declared in the ast package.
func RegisterBuiltinFunc(decl *ast.Builtin, f BuiltinFunc) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	builtinFunctions[decl.Key()] = builtinErrorWrapper(decl, f)
}

// RegisterBuiltin declares a new built-in table and registers its
// implementation.
func RegisterBuiltin(decl *ast.Builtin, f BuiltinFunc) {
	ast.RegisterBuiltin(decl)
	RegisterBuiltinFunc(decl, f)
}

// RegisterFunctionalBuiltin1 adds a new built-in table with one input and
// one output.
func RegisterFunctionalBuiltin1(decl *ast.Builtin, fun FunctionalBuiltin1) {
	RegisterBuiltinFunc(decl, func(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
		out, err := fun(inputs[0])
		if err != nil {
			return nil, false, err
		}
		return []ast.Value{out}, true, nil
	})
}

// RegisterFunctionalBuiltin2 adds a new built-in table with two inputs and
// one output.
func RegisterFunctionalBuiltin2(decl *ast.Builtin, fun FunctionalBuiltin2) {
	RegisterBuiltinFunc(decl, func(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
		out, err := fun(inputs[0], inputs[1])
		if err != nil {
			return nil, false, err
		}
		return []ast.Value{out}, true, nil
	})
}

// RegisterPredicateBuiltin2 adds a new built-in table with two inputs and no
// outputs.
func RegisterPredicateBuiltin2(decl *ast.Builtin, fun PredicateBuiltin2) {
	RegisterBuiltinFunc(decl, func(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
		ok, err := fun(inputs[0], inputs[1])
		return nil, ok, err
	})
}

// GetBuiltin returns a built-in implementation, nil if no built-in found.
func GetBuiltin(decl *ast.Builtin) BuiltinFunc {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	return builtinFunctions[decl.Key()]
}

// BuiltinError wraps errors raised by built-in implementations.
type BuiltinError struct {
	Name string
	Err  error
}

func (e *BuiltinError) Error() string {
	return fmt.Sprintf("%v: %v", e.Name, e.Err)
}

func (e *BuiltinError) Unwrap() error {
	return e.Err
}

func builtinErrorWrapper(decl *ast.Builtin, fn BuiltinFunc) BuiltinFunc {
	return func(bctx BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
		outputs, ok, err := fn(bctx, inputs)
		if err != nil {
			return nil, false, &BuiltinError{Name: decl.Name, Err: err}
		}
		if ok && len(outputs) != decl.Arity-decl.NumInputs {
			return nil, false, &BuiltinError{Name: decl.Name, Err: fmt.Errorf("returned %v outputs but declares %v", len(outputs), decl.Arity-decl.NumInputs)}
		}
		return outputs, ok, nil
	}
}

func declOf(name string) *ast.Builtin {
	for _, b := range ast.DefaultBuiltins {
		if b.Name == name {
			return b
		}
	}
	panic("undeclared built-in " + name)
}

// numberOperands is shared by the arithmetic and comparison built-ins.
func numberOperands(a, b ast.Value) (builtins.Number, builtins.Number, error) {
	x, err := builtins.NumberOperand(a, 1)
	if err != nil {
		return x, x, err
	}
	y, err := builtins.NumberOperand(b, 2)
	return x, y, err
}
