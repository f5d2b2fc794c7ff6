package pipeline

import (
	"context"

	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
)

// SuiteBody is the test run between setup and teardown. Its internals are
// opaque to the orchestrator: it only sees the result.
//
// A returned error (or a panic) is recorded as a body FAILURE of kind
// SuiteBody; an ordinary test failure should come back as report.BodyFailed.
type SuiteBody interface {
	Run(ctx context.Context, env runner.Environment) (report.BodyResult, error)
}

// BodyFunc adapts a function to SuiteBody.
type BodyFunc func(ctx context.Context, env runner.Environment) (report.BodyResult, error)

func (f BodyFunc) Run(ctx context.Context, env runner.Environment) (report.BodyResult, error) {
	return f(ctx, env)
}
