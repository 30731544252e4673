// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"github.com/openstack-archive/congress-sub001/ast"
)

// NewDatabase returns an empty database theory. Database theories hold the
// facts received from data sources and reject rules.
func NewDatabase(name string, params Params) *Nonrecursive {
	return newNonrecursive(name, DatabaseKind, params)
}

func databaseRuleError(name string, rule *ast.Rule) *ast.Error {
	return ast.NewError(ast.CompileErr, rule.Location, "database policy %v holds only facts but got rule %v", name, rule)
}
