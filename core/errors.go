// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors crossing the API boundary
type ErrorKind int

// all error kinds
const (
	KindInternal ErrorKind = iota
	KindInput
	KindReference
	KindFormat
	KindType
	KindConstraint
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindReference:
		return "reference"
	case KindFormat:
		return "format"
	case KindType:
		return "type"
	case KindConstraint:
		return "constraint"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not found"
	default:
		return "internal"
	}
}

// Error is a classified error. Field and Value are set for translation
// errors and name the offending field and input.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Value   interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match on the kind for sentinel errors
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// the sentinel errors. Their messages are fixed so that the caller learns
// nothing about which part of a credential was wrong.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "Access Denied"}
	ErrAuthorization  = &Error{Kind: KindAuthorization, Message: "Access Error"}
)

// InputError reports a malformed or missing request input
func InputError(format string, args ...interface{}) error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

// ReferenceError reports a foreign id that does not exist
func ReferenceError(field string, value interface{}) error {
	return &Error{
		Kind:    KindReference,
		Message: fmt.Sprintf("Invalid ID %v for field '%s'", value, field),
		Field:   field,
		Value:   value,
	}
}

// FormatError reports a value that does not match the format of its field
func FormatError(field string, value interface{}, what string) error {
	return &Error{
		Kind:    KindFormat,
		Message: fmt.Sprintf("Invalid %s format for field '%s': %v", what, field, value),
		Field:   field,
		Value:   value,
	}
}

// TypeError reports a value of a type the field cannot hold
func TypeError(field string, value interface{}) error {
	return &Error{
		Kind:    KindType,
		Message: fmt.Sprintf("Invalid %s value for field '%s'", describe(value), field),
		Field:   field,
		Value:   value,
	}
}

// ConstraintError reports a store integrity violation
func ConstraintError(detail string, err error) error {
	return &Error{Kind: KindConstraint, Message: detail, Err: err}
}

// ValidationError reports a domain validation failure
func ValidationError(message string, err error) error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// NotFoundError reports a missing entity or action
func NotFoundError(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InternalError wraps an unexpected error
func InternalError(err error) error {
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err, KindInternal if it is unclassified
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func describe(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
