package phase

import (
	"time"

	"github.com/mensylisir/xmsuite/step"
)

// Result is the ordered outcome list of one phase. It is never modified
// after the sequencer returns it.
type Result struct {
	phase    step.Phase
	outcomes []step.Outcome
	err      error
	duration time.Duration
}

// NewResult builds a Result from already known outcomes.
func NewResult(p step.Phase, outcomes []step.Outcome, err error) *Result {
	out := make([]step.Outcome, len(outcomes))
	copy(out, outcomes)
	return &Result{phase: p, outcomes: out, err: err}
}

func (r *Result) Phase() step.Phase {
	return r.phase
}

// Outcomes returns one outcome per descriptor, in descriptor order.
func (r *Result) Outcomes() []step.Outcome {
	out := make([]step.Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Status is SUCCESS iff every outcome is SUCCESS. An empty phase succeeds.
func (r *Result) Status() step.Status {
	for _, o := range r.outcomes {
		if o.Status() != step.StatusSuccess {
			return step.StatusFailure
		}
	}
	return step.StatusSuccess
}

func (r *Result) Success() bool {
	return r.Status() == step.StatusSuccess
}

// Failed returns the outcomes that are not SUCCESS, in order.
func (r *Result) Failed() []step.Outcome {
	var failed []step.Outcome
	for _, o := range r.outcomes {
		if o.Status() != step.StatusSuccess {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err is the error that aborted the phase: an environment that became
// unavailable, or ErrMixedPhases. Ordinary step failures are not errors.
func (r *Result) Err() error {
	return r.err
}

func (r *Result) Duration() time.Duration {
	return r.duration
}

// Count returns how many outcomes have status s.
func (r *Result) Count(s step.Status) int {
	n := 0
	for _, o := range r.outcomes {
		if o.Status() == s {
			n++
		}
	}
	return n
}
