package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
	"github.com/mensylisir/xmsuite/step"
)

// ScriptBody runs a list of test scripts through the same runner as the
// setup and teardown steps. Every test runs; failures do not halt the list.
type ScriptBody struct {
	tests []string
	seq   *phase.Sequencer
	now   func() time.Time
}

func NewScriptBody(tests []string, r runner.StepRunner, opts ...phase.Option) *ScriptBody {
	t := make([]string, len(tests))
	copy(t, tests)
	return &ScriptBody{tests: t, seq: phase.NewSequencer(r, opts...), now: time.Now}
}

func (b *ScriptBody) Run(ctx context.Context, env runner.Environment) (report.BodyResult, error) {
	start := b.now()
	res := b.seq.Run(ctx, step.PhaseTest, step.Descriptors(step.PhaseTest, b.tests), env, phase.PolicyFor(step.PhaseTest))
	if err := res.Err(); err != nil {
		return report.BodyResult{}, err
	}
	if !res.Success() {
		detail := fmt.Sprintf("%d of %d test(s) failed", res.Count(step.StatusFailure), len(b.tests))
		if skipped := res.Count(step.StatusSkipped); skipped > 0 {
			detail += fmt.Sprintf(", %d skipped", skipped)
		}
		return report.BodyFailed(b.now().Sub(start), detail), nil
	}
	return report.BodyPassed(b.now().Sub(start)), nil
}
