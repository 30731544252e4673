// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"errors"
	"fmt"
)

const (
	// NotFoundErr indicates the policy, data source or table does not
	// exist.
	NotFoundErr string = "runtime_not_found_error"

	// AlreadyExistsErr indicates a policy or data source with the same name
	// exists.
	AlreadyExistsErr string = "runtime_already_exists_error"

	// InvalidErr indicates the request was malformed, for example a query
	// that does not parse.
	InvalidErr string = "runtime_invalid_error"
)

// Error is the error type returned by the runtime.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Code, e.Message)
}

// Unwrap returns the error that caused e, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// IsNotFound returns true if err is a NotFoundErr.
func IsNotFound(err error) bool {
	return hasCode(err, NotFoundErr)
}

// IsAlreadyExists returns true if err is an AlreadyExistsErr.
func IsAlreadyExists(err error) bool {
	return hasCode(err, AlreadyExistsErr)
}

// IsInvalid returns true if err is an InvalidErr.
func IsInvalid(err error) bool {
	return hasCode(err, InvalidErr)
}

func hasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func notFoundError(f string, a ...interface{}) *Error {
	return &Error{Code: NotFoundErr, Message: fmt.Sprintf(f, a...)}
}

func alreadyExistsError(f string, a ...interface{}) *Error {
	return &Error{Code: AlreadyExistsErr, Message: fmt.Sprintf(f, a...)}
}

func invalidError(err error, f string, a ...interface{}) *Error {
	msg := fmt.Sprintf(f, a...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Code: InvalidErr, Message: msg, err: err}
}
