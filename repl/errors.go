// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package repl

import "fmt"

// Error is the error type returned by the REPL commands.
type Error struct {
	Code    string
	Message string
}

const (
	// BadArgsErr indicates bad arguments were provided to a built-in REPL
	// command.
	BadArgsErr string = "bad arguments"

	// NoPolicyErr indicates a statement or query was entered while no
	// policy is active.
	NoPolicyErr string = "no active policy"
)

func (err *Error) Error() string {
	return err.Message
}

func newError(code, f string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(f, a...)}
}

// stop is returned by the exit command.
type stop struct{}

func (stop) Error() string {
	return "<stop>"
}
