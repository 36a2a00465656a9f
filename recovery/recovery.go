// Package recovery decides what the parser does when it meets malformed input.
//
// A Strategy is consulted at every recoverable failure. Strict parsing fails
// on the first problem; lenient parsing records a Diagnostic and carries on,
// so tolerant mode differs only in the data it returns.
package recovery

import (
	"fmt"
)

type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s at offset %d (object %d %d)", l.Component, l.ByteOffset, l.ObjectNum, l.ObjectGen)
	}
	return fmt.Sprintf("%s at offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Continue reports whether parsing proceeds after a.
func (a Action) Continue() bool { return a != ActionFail }

type Context interface{ Done() <-chan struct{} }

// Diagnostic is one tolerated problem.
type Diagnostic struct {
	Location Location
	Err      error
	Action   Action
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %v (%s)", d.Location, d.Err, d.Action)
}

// Decide consults s, treating a nil strategy as strict.
func Decide(s Strategy, ctx Context, err error, loc Location) Action {
	if s == nil {
		return ActionFail
	}
	return s.OnError(ctx, err, loc)
}
