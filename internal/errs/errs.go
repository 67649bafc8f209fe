// Package errs defines the error taxonomy used across Serengeti:
// ParseError, CatalogConflict, NotFound, IOError (transient/permanent),
// NetworkError, and Cancellation. Callers use errors.Is/errors.As
// against the sentinel Kind values; the executor and HTTP boundary map
// these onto the {executed,error} response shape.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller-side branching.
type Kind int

const (
	KindParse Kind = iota
	KindCatalogConflict
	KindNotFound
	KindIOTransient
	KindIOPermanent
	KindNetwork
	KindOutOfMemory
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindCatalogConflict:
		return "catalog_conflict"
	case KindNotFound:
		return "not_found"
	case KindIOTransient:
		return "io_error_transient"
	case KindIOPermanent:
		return "io_error_permanent"
	case KindNetwork:
		return "network_error"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Parse(msg string) *Error             { return New(KindParse, msg) }
func CatalogConflict(msg string) *Error   { return New(KindCatalogConflict, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func Network(msg string, err error) *Error { return Wrap(KindNetwork, msg, err) }
func Cancellation(msg string) *Error      { return New(KindCancellation, msg) }

func IOTransient(msg string, err error) *Error {
	return Wrap(KindIOTransient, msg, err)
}

func IOPermanent(msg string, err error) *Error {
	return Wrap(KindIOPermanent, msg, err)
}

// Is reports whether err carries the given Kind, matching errors.Is
// semantics through chains of fmt.Errorf("...: %w", err) wrapping.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or returns false if err does not
// carry one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
