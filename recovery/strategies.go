package recovery

import (
	"github.com/wudi/pdfrev/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy tolerates every recoverable error and keeps a record of it.
type LenientStrategy struct {
	Diagnostics []Diagnostic
	// Logger receives one Warn entry per diagnostic. Nil means silent.
	Logger observability.Logger
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	d := Diagnostic{Location: location, Err: err, Action: ActionWarn}
	s.Diagnostics = append(s.Diagnostics, d)
	if s.Logger != nil {
		s.Logger.Warn("tolerated malformed input",
			observability.String("component", location.Component),
			observability.Int64("offset", location.ByteOffset),
			observability.Int("object", location.ObjectNum),
			observability.Error("error", err),
		)
	}
	return ActionWarn
}

// Errors returns the tolerated errors in the order they were seen.
func (s *LenientStrategy) Errors() []error {
	out := make([]error, len(s.Diagnostics))
	for i, d := range s.Diagnostics {
		out[i] = d.Err
	}
	return out
}

// Reset drops collected diagnostics.
func (s *LenientStrategy) Reset() { s.Diagnostics = nil }
