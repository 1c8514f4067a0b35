package policy

import "fmt"

// ValidationError wraps a deep (post-decode) validation failure. Structural
// decode failures (unknown op, wrong arity) surface directly from
// Condition.UnmarshalJSON as plain errors; both kinds are InvalidPolicy from
// the caller's perspective.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

func newInvalidPolicyf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
