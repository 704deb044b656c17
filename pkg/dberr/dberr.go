// Package dberr defines the error taxonomy shared by the catalog, the filter
// compiler, and the executor. Every rejected or failed request carries a
// stable Kind the transport layer maps to an HTTP status.
package dberr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	UnknownTable         Kind = "unknown_table"
	InvalidFilter        Kind = "invalid_filter"
	InvalidFilterColumn  Kind = "invalid_filter_column"
	FilterTypeMismatch   Kind = "filter_type_mismatch"
	InvalidColumn        Kind = "invalid_column"
	InvalidValues        Kind = "invalid_values"
	ValueTypeMismatch    Kind = "value_type_mismatch"
	EmptyValues          Kind = "empty_values"
	MissingPrimaryKey    Kind = "missing_primary_key"
	DuplicateKey         Kind = "duplicate_key"
	UnsupportedOperation Kind = "unsupported_operation"
	StoreUnavailable     Kind = "store_unavailable"
)

// Error tags an error with a Kind. The wrapped error, if any, is reachable
// through errors.Unwrap for store-level diagnostics.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New returns a kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error, typically from the store driver.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the Kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
