// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"errors"
	"fmt"
)

// ErrCode represents the collection of errors that may be returned by the
// storage layer.
type ErrCode int

const (
	// InternalErr indicates an unknown, internal error has occurred.
	InternalErr ErrCode = iota

	// NotFoundErr indicates the policy or table used in the storage operation
	// does not exist.
	NotFoundErr = iota

	// InvalidErr indicates the caller attempted to store a formula that does
	// not fit the container, for example a non-ground fact.
	InvalidErr = iota
)

// Error is the error type returned by the storage layer.
type Error struct {
	Code    ErrCode
	Message string
}

func (err *Error) Error() string {
	return fmt.Sprintf("storage error (code: %d): %v", err.Code, err.Message)
}

// IsNotFound returns true if this error is a NotFoundErr.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == NotFoundErr
}

// IsInvalid returns true if this error is an InvalidErr.
func IsInvalid(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == InvalidErr
}

func internalError(f string, a ...interface{}) *Error {
	return &Error{
		Code:    InternalErr,
		Message: fmt.Sprintf(f, a...),
	}
}

func invalidError(f string, a ...interface{}) *Error {
	return &Error{
		Code:    InvalidErr,
		Message: fmt.Sprintf(f, a...),
	}
}

// NotFoundErrorf returns a NotFoundErr with the formatted message.
func NotFoundErrorf(f string, a ...interface{}) *Error {
	return &Error{
		Code:    NotFoundErr,
		Message: fmt.Sprintf(f, a...),
	}
}
