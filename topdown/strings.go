// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"unicode/utf8"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown/builtins"
)

// builtinConcat joins the text forms of its inputs, so numbers may be
// concatenated with strings.
func builtinConcat(a, b ast.Value) (ast.Value, error) {
	x, err := builtins.TextOperand(a, 1)
	if err != nil {
		return nil, err
	}
	y, err := builtins.TextOperand(b, 2)
	if err != nil {
		return nil, err
	}
	return ast.String(x + y), nil
}

func builtinLen(a ast.Value) (ast.Value, error) {
	s, err := builtins.StringOperand(a, 1)
	if err != nil {
		return nil, err
	}
	return ast.Int(utf8.RuneCountInString(string(s))), nil
}

func init() {
	RegisterFunctionalBuiltin2(declOf("concat"), builtinConcat)
	RegisterFunctionalBuiltin1(declOf("len"), builtinLen)
}
