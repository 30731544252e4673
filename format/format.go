// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package format implements the canonical text form of policy statements.
package format

import (
	"bytes"
	"io"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
)

const indent = "    "

// Source parses src and returns its statements in canonical form. Comments
// are not preserved.
func Source(filename string, src []byte) ([]byte, error) {
	fs, err := ast.ParseRules(filename, string(src), nil)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Theory(&buf, fs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Theory writes formulas to w, one statement per line. Rules with a body
// put each body literal on its own indented line.
func Theory(w io.Writer, formulas []ast.Formula) error {
	for _, f := range formulas {
		if _, err := io.WriteString(w, Formula(f)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Formula returns the canonical form of f.
func Formula(f ast.Formula) string {
	switch f := f.(type) {
	case *ast.Literal:
		return f.String()
	case *ast.Rule:
		return Rule(f)
	}
	return ""
}

// Rule returns the canonical form of rule:
//
//	head :-
//	    lit1,
//	    lit2
func Rule(rule *ast.Rule) string {
	heads := make([]string, len(rule.Heads))
	for i := range rule.Heads {
		heads[i] = rule.Heads[i].String()
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(heads, ", "))
	if len(rule.Body) == 0 {
		return sb.String()
	}

	sb.WriteString(" :-")
	for i, lit := range rule.Body {
		sb.WriteString("\n")
		sb.WriteString(indent)
		sb.WriteString(lit.String())
		if i < len(rule.Body)-1 {
			sb.WriteString(",")
		}
	}
	return sb.String()
}
