// Package pdferr defines the error conditions reported by the parser, the
// object store and the writer.
//
// Every condition is an *Error whose Kind matches one of the sentinel values
// below, so callers test with errors.Is regardless of wrapping:
//
//	if errors.Is(err, pdferr.ErrEncryptedDocument) { ... }
package pdferr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind sentinels.
var (
	ErrMalformedSyntax     = errors.New("malformed syntax")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrEncryptedDocument   = errors.New("document is encrypted")
	ErrMissingTrailer      = errors.New("missing or corrupt trailer")
	ErrInvalidObjectStream = errors.New("invalid object stream")
	ErrInvalidXRefStream   = errors.New("invalid xref stream")
	ErrUsage               = errors.New("usage error")
	ErrAllocationLimit     = errors.New("allocation limit exceeded")
	ErrNotFound            = errors.New("object not found")
)

// Error carries enough context to locate the problem in the input file.
// Offset and ObjectNum are -1 when unknown.
type Error struct {
	Kind      error
	Op        string
	Offset    int64
	ObjectNum int
	ObjectGen int
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.ObjectNum >= 0 {
		fmt.Fprintf(&b, " (object %d %d)", e.ObjectNum, e.ObjectGen)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error with unknown location.
func New(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Offset: -1, ObjectNum: -1, Err: cause}
}

// Newf is New with a formatted cause.
func Newf(kind error, op, format string, args ...interface{}) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// AtOffset returns a copy of e located at a byte offset.
func (e *Error) AtOffset(off int64) *Error {
	c := *e
	c.Offset = off
	return &c
}

// ForObject returns a copy of e attributed to an object.
func (e *Error) ForObject(num, gen int) *Error {
	c := *e
	c.ObjectNum = num
	c.ObjectGen = gen
	return &c
}

// KindOf reports the taxonomy kind of err, or nil if err is not a pdferr
// condition.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
