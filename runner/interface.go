package runner

import (
	"context"

	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/step"
)

// Environment is what a step needs from its execution context.
type Environment interface {
	Connection(ctx context.Context) (connector.Connection, error)
	WorkDir() string
	Env() map[string]string
	// Discard drops a connection that failed at the transport level.
	Discard()
}

// StepRunner executes one step. Ordinary failures come back as a FAILURE
// outcome; only an unusable environment is returned as an error, and that
// error matches step.ErrEnvironmentUnavailable.
type StepRunner interface {
	Run(ctx context.Context, d step.Descriptor, env Environment) (step.Outcome, error)
}
