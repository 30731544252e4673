// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package builtins contains utilities for implementing built-in tables.
package builtins

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/openstack-archive/congress-sub001/ast"
)

// ErrOperand represents an invalid operand has been passed to a built-in
// table. Built-ins should return ErrOperand to indicate a type error has
// occurred.
type ErrOperand string

func (err ErrOperand) Error() string {
	return string(err)
}

// NewOperandErr returns a generic operand error.
func NewOperandErr(pos int, f string, a ...interface{}) error {
	f = fmt.Sprintf("operand %v ", pos) + f
	return ErrOperand(fmt.Sprintf(f, a...))
}

// NewOperandTypeErr returns an operand error indicating the operand's type was wrong.
func NewOperandTypeErr(pos int, got ast.Value, expected ...string) error {

	if len(expected) == 1 {
		return NewOperandErr(pos, "must be %v but got %v", expected[0], ast.TypeOf(got))
	}

	return NewOperandErr(pos, "must be one of {%v} but got %v", strings.Join(expected, ", "), ast.TypeOf(got))
}

// Number is a numeric operand. Integers stay exact until they are mixed with
// floats.
type Number struct {
	Int     int64
	Float   float64
	IsFloat bool
}

// Value returns the number as a constant.
func (n Number) Value() ast.Value {
	if n.IsFloat {
		return ast.Float(n.Float)
	}
	return ast.Int(n.Int)
}

// AsFloat returns the number as a float64.
func (n Number) AsFloat() float64 {
	if n.IsFloat {
		return n.Float
	}
	return float64(n.Int)
}

// NumberOperand converts x to a number. If the cast fails, a descriptive error is
// returned.
func NumberOperand(x ast.Value, pos int) (Number, error) {
	switch x := x.(type) {
	case ast.Int:
		return Number{Int: int64(x)}, nil
	case ast.Float:
		return Number{Float: float64(x), IsFloat: true}, nil
	}
	return Number{}, NewOperandTypeErr(pos, x, "number")
}

// NumericOperand converts x to a number, parsing strings that hold a
// number.
func NumericOperand(x ast.Value, pos int) (Number, error) {
	if s, ok := x.(ast.String); ok {
		text := strings.TrimSpace(string(s))
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Number{Int: i}, nil
		}
		f, err := cast.ToFloat64E(text)
		if err != nil {
			return Number{}, NewOperandErr(pos, "must be a number but got %v", x)
		}
		return Number{Float: f, IsFloat: true}, nil
	}
	return NumberOperand(x, pos)
}

// IntOperand converts x to an int. If the cast fails, a descriptive error is
// returned.
func IntOperand(x ast.Value, pos int) (int, error) {
	n, err := NumberOperand(x, pos)
	if err != nil {
		return 0, err
	}
	if n.IsFloat {
		if n.Float != float64(int64(n.Float)) {
			return 0, NewOperandErr(pos, "must be integer number but got floating-point number")
		}
		return int(n.Float), nil
	}
	return int(n.Int), nil
}

// StringOperand converts x to a string. If the cast fails, a descriptive error is
// returned.
func StringOperand(x ast.Value, pos int) (ast.String, error) {
	s, ok := x.(ast.String)
	if !ok {
		return ast.String(""), NewOperandTypeErr(pos, x, "string")
	}
	return s, nil
}

// TextOperand returns the text form of a constant: strings unquoted and
// numbers in their literal form.
func TextOperand(x ast.Value, pos int) (string, error) {
	if _, ok := x.(ast.Var); ok {
		return "", NewOperandTypeErr(pos, x, "string", "number")
	}
	if f, ok := x.(ast.Float); ok {
		return f.String(), nil
	}
	s, err := cast.ToStringE(ast.ValueToInterface(x))
	if err != nil {
		return "", NewOperandErr(pos, "cannot be converted to a string: %v", err)
	}
	return s, nil
}
