package step

import (
	"errors"
	"fmt"
)

// Kind classifies why a step, or the suite body, did not succeed.
type Kind int

const (
	KindNone Kind = iota
	KindStepFailure
	KindTimeout
	KindEnvironmentUnavailable
	KindSuiteBody
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindStepFailure:
		return "StepFailure"
	case KindTimeout:
		return "Timeout"
	case KindEnvironmentUnavailable:
		return "EnvironmentUnavailable"
	case KindSuiteBody:
		return "SuiteBodyError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrEnvironmentUnavailable is matched by every error a runner escalates
// instead of recording an outcome.
var ErrEnvironmentUnavailable = errors.New("environment unavailable")

// EnvironmentError reports that the target of a step could not be reached.
type EnvironmentError struct {
	Step  Descriptor
	Cause error
}

func NewEnvironmentError(d Descriptor, cause error) *EnvironmentError {
	return &EnvironmentError{Step: d, Cause: cause}
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s: step %s: %v", ErrEnvironmentUnavailable, e.Step.Reference(), e.Cause)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Cause
}

func (e *EnvironmentError) Is(target error) bool {
	return target == ErrEnvironmentUnavailable
}
