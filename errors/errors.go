// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds error codes plus the typed
// constraint error raised by the journal and the index engine.
package errors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded                 Code = "Uncoded"
	ErrConstraintViolation     Code = "ConstraintViolation"
	ErrDataCorruption          Code = "DataCorruption"
	ErrUnsupportedOperation    Code = "UnsupportedOperation"
	ErrScope                   Code = "ScopeViolation"
	ErrInvalidTransactionState Code = "InvalidTransactionState"
	ErrBinding                 Code = "Binding"
	ErrSyntax                  Code = "Syntax"
	ErrNotFound                Code = "NotFound"
	ErrClosed                  Code = "Closed"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code carried by err, or the empty code if err was not
// created by this package.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var cv *ConstraintError
	if errors.As(err, &cv) {
		return ErrConstraintViolation
	}
	return ""
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Wrapped string `json:"wrapped,omitempty"`
}

func (ce codedError) Error() string {
	if ce.Wrapped != "" {
		return ce.Wrapped
	}
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// ConstraintKind identifies which rule a ConstraintError broke.
type ConstraintKind string

const (
	NotNull    ConstraintKind = "not-null"
	Unique     ConstraintKind = "unique"
	ForeignKey ConstraintKind = "foreign-key"
	Restrict   ConstraintKind = "restrict"
)

// ConstraintError is returned for not-null, uniqueness and foreign key
// violations. It matches ErrConstraintViolation under Is.
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Constraint string // column, index or foreign key name
	Deferred   bool
	Key        interface{}
}

// NewConstraintError returns a ConstraintError carrying a stack trace.
func NewConstraintError(kind ConstraintKind, table, constraint string, key interface{}) error {
	return errors.WithStack(&ConstraintError{
		Kind:       kind,
		Table:      table,
		Constraint: constraint,
		Key:        key,
	})
}

func (e *ConstraintError) Error() string {
	var when string
	if e.Deferred {
		when = " (deferred)"
	}
	switch e.Kind {
	case NotNull:
		return fmt.Sprintf("constraint violation%s: %s.%s is not nullable", when, e.Table, e.Constraint)
	case Unique:
		return fmt.Sprintf("constraint violation%s: duplicate key %v in unique index %s", when, e.Key, e.Constraint)
	case ForeignKey:
		return fmt.Sprintf("constraint violation%s: %s references missing key %v (%s)", when, e.Table, e.Key, e.Constraint)
	case Restrict:
		return fmt.Sprintf("constraint violation%s: %s row with key %v is still referenced (%s)", when, e.Table, e.Key, e.Constraint)
	}
	return fmt.Sprintf("constraint violation%s: %s on %s", when, e.Constraint, e.Table)
}

// Is reports true for the ErrConstraintViolation code so that constraint
// errors can be checked like any other coded error.
func (e *ConstraintError) Is(err error) bool {
	if ce, ok := err.(codedError); ok {
		return ce.Code == ErrConstraintViolation
	}
	return false
}

// MarshalJSON returns the provided error as a json object (as a string)
// representing a codedError. If err is not already a codedError, the json
// object will still represent a codedError but its `code` value will be empty.
func MarshalJSON(err error) string {
	cause := Cause(err)

	var out *codedError

	switch v := cause.(type) {
	case codedError:
		v.Wrapped = err.Error()
		out = &v
	case *ConstraintError:
		out = &codedError{
			Code:    ErrConstraintViolation,
			Message: v.Error(),
			Wrapped: err.Error(),
		}
	default:
		out = &codedError{
			Message: cause.Error(),
			Wrapped: err.Error(),
		}
	}

	j, jerr := json.Marshal(out)
	if jerr != nil {
		return out.Error()
	}

	return string(j)
}

// UnmarshalJSON converts the byte slice into a codedError. If the bytes can't
// unmarshal to a codedError, a normal error will be returned containing the
// string value of the byte slice.
func UnmarshalJSON(r io.Reader) error {
	b, _ := io.ReadAll(r)

	out := &codedError{}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.New(string(b))
	}
	return *out
}
