package airreplay

import (
	"fmt"
	"runtime"
)

// FatalError marks two conditions the engine aborts the process for: replay
// divergence past the attempt budget, and programmer misuse of the engine's
// API. Both are raised via panic(*FatalError) rather than returned — there
// is no recovery path for either.
type FatalError struct {
	Kind  string
	Msg   string
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("airreplay: fatal %s: %s", e.Kind, e.Msg)
}

func newFatalError(kind, format string, args ...any) *FatalError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &FatalError{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, args...),
		Stack: buf[:n],
	}
}

func abortMisuse(format string, args ...any) {
	panic(newFatalError("misuse", format, args...))
}

func abortDivergence(format string, args ...any) {
	panic(newFatalError("divergence", format, args...))
}
