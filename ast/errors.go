// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"sort"
	"strings"
)

// Errors represents a series of errors encountered during parsing, compiling,
// etc.
type Errors []*Error

func (e Errors) Error() string {

	if len(e) == 0 {
		return "no error(s)"
	}

	if len(e) == 1 {
		return fmt.Sprintf("1 error occurred: %v", e[0].Error())
	}

	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}

	return fmt.Sprintf("%d errors occurred:\n%s", len(e), strings.Join(s, "\n"))
}

// Sort sorts the error slice by location. If the locations are equal then the
// error message is compared.
func (e Errors) Sort() {
	sort.SliceStable(e, func(i, j int) bool {
		a, b := e[i], e[j]
		if a.Location != nil && b.Location != nil {
			if a.Location.File != b.Location.File {
				return a.Location.File < b.Location.File
			}
			if a.Location.Row != b.Location.Row {
				return a.Location.Row < b.Location.Row
			}
			if a.Location.Col != b.Location.Col {
				return a.Location.Col < b.Location.Col
			}
		}
		return a.Message < b.Message
	})
}

// Codes returns the error codes in order.
func (e Errors) Codes() []ErrCode {
	codes := make([]ErrCode, len(e))
	for i := range e {
		codes[i] = e[i].Code
	}
	return codes
}

// ErrCode defines the types of errors returned during parsing, compiling, etc.
type ErrCode string

const (
	// ParseErr indicates a syntax error in policy source.
	ParseErr ErrCode = "congress_parse_error"

	// CompileErr indicates an unclassified compile error occurred.
	CompileErr ErrCode = "congress_compile_error"

	// UnsafeVarErr indicates a head, negation or builtin safety violation.
	UnsafeVarErr ErrCode = "congress_unsafe_var_error"

	// SchemaErr indicates a reference to an unknown module or table, or an
	// arity mismatch with a known table.
	SchemaErr ErrCode = "congress_schema_error"

	// UnknownColumnErr indicates a named argument that the table's schema
	// does not define.
	UnknownColumnErr ErrCode = "congress_unknown_column_error"

	// DuplicateColumnErr indicates a column bound more than once by name.
	DuplicateColumnErr ErrCode = "congress_duplicate_column_error"

	// ColumnConflictErr indicates a named argument for a column already
	// bound positionally.
	ColumnConflictErr ErrCode = "congress_column_conflict_error"

	// RecursionErr indicates recursion in a set of rules that must be
	// acyclic, within one theory or across theories.
	RecursionErr ErrCode = "congress_recursion_error"

	// StratificationErr indicates recursion through negation.
	StratificationErr ErrCode = "congress_stratification_error"
)

// IsError returns true if err is an AST error with code.
func IsError(code ErrCode, err error) bool {
	switch err := err.(type) {
	case *Error:
		return err.Code == code
	case Errors:
		for _, e := range err {
			if e.Code == code {
				return true
			}
		}
	}
	return false
}

// Error represents a single error caught during parsing, compiling, etc.
type Error struct {
	Code     ErrCode   `json:"code"`
	Location *Location `json:"location,omitempty"`
	Message  string    `json:"message"`
}

func (e *Error) Error() string {

	var prefix string

	if e.Location != nil {
		if len(e.Location.File) > 0 {
			prefix += e.Location.File + ":" + fmt.Sprint(e.Location.Row)
		} else {
			prefix += fmt.Sprint(e.Location.Row) + ":" + fmt.Sprint(e.Location.Col)
		}
	}

	msg := fmt.Sprintf("%v: %v", e.Code, e.Message)

	if len(prefix) > 0 {
		msg = prefix + ": " + msg
	}

	return msg
}

// NewError returns a new Error object.
func NewError(code ErrCode, loc *Location, f string, a ...interface{}) *Error {
	return &Error{
		Code:     code,
		Location: loc,
		Message:  fmt.Sprintf(f, a...),
	}
}
