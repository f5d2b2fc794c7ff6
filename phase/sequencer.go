package phase

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/hook"
	"github.com/mensylisir/xmsuite/logger"
	"github.com/mensylisir/xmsuite/runner"
	"github.com/mensylisir/xmsuite/step"
)

// ErrMixedPhases is returned when a descriptor list holds steps of another phase.
var ErrMixedPhases = errors.New("descriptors belong to more than one phase")

// Skip reasons recorded on SKIPPED outcomes.
const (
	ReasonCancelled   = "cancelled"
	ReasonUnavailable = "environment unavailable"
	ReasonMixedPhases = "phase mismatch"
)

// Policy controls what a failing step does to the rest of its phase.
type Policy struct {
	HaltOnFailure bool
}

// PolicyFor returns the default policy of p: setup halts, teardown and tests continue.
func PolicyFor(p step.Phase) Policy {
	return Policy{HaltOnFailure: p == step.PhasePre}
}

// Observer is told about every step as the sequencer works through a phase.
type Observer interface {
	StepStarted(d step.Descriptor)
	StepFinished(o step.Outcome)
}

type Sequencer struct {
	runner   runner.StepRunner
	observer Observer
	log      *logrus.Entry
	now      func() time.Time
}

type Option func(*Sequencer)

func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithLogger sets the entry step logs are derived from.
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Sequencer) { s.log = entry }
}

func NewSequencer(r runner.StepRunner, opts ...Option) *Sequencer {
	s := &Sequencer{runner: r, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logger.Log.Logger)
	}
	return s
}

// Run executes descriptors one at a time in list order and returns one outcome
// per descriptor. Once ctx is done no further step starts; the step in flight
// is left to finish or time out.
//
// A panicking runner fails its step and sets Err; a panic anywhere else skips
// the steps not yet recorded. Either way the outcomes already recorded are kept.
func (s *Sequencer) Run(ctx context.Context, p step.Phase, descriptors []step.Descriptor, env runner.Environment, policy Policy) (result *Result) {
	start := s.now()
	log := s.log.WithField(common.PhaseName, p.String())
	result = &Result{phase: p, outcomes: make([]step.Outcome, 0, len(descriptors))}
	defer func() { result.duration = s.now().Sub(start) }()
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("%s aborted by panic: %v", p, r)
			log.WithError(err).Error("Phase aborted")
			log.Debugf("Recovered panic stack:\n%s", debug.Stack())
			result.err = err
			for _, d := range descriptors[len(result.outcomes):] {
				result.outcomes = append(result.outcomes, step.Skipped(d, "aborted: "+err.Error()))
			}
		}
	}()

	for _, d := range descriptors {
		if d.Phase() != p {
			log.Errorf("step %s belongs to phase %s, refusing to run phase", d.Reference(), d.Phase())
			result.err = errors.Wrapf(ErrMixedPhases, "%s in %s", d, p)
			s.skipFrom(result, descriptors, 0, ReasonMixedPhases)
			return result
		}
	}

	log.Infof("Running %d %s step(s), halt on failure: %t", len(descriptors), p, policy.HaltOnFailure)

	for i, d := range descriptors {
		if ctx.Err() != nil {
			log.Warnf("Run cancelled, skipping %d remaining step(s)", len(descriptors)-i)
			s.skipFrom(result, descriptors, i, ReasonCancelled)
			return result
		}

		stepLog := log.WithFields(logrus.Fields{
			common.StepName: d.Name(),
			"step_index":    fmt.Sprintf("%d/%d", i+1, len(descriptors)),
		})
		stepLog.Infof("Executing step: %s", d.Reference())
		if s.observer != nil {
			s.observer.StepStarted(d)
		}

		stepStart := s.now()
		outcome, err := s.runStep(ctx, d, env)
		if err != nil {
			kind := step.KindStepFailure
			if errors.Is(err, step.ErrEnvironmentUnavailable) {
				kind = step.KindEnvironmentUnavailable
			}
			outcome = step.Failed(d, kind, s.now().Sub(stepStart), err.Error())
		}
		s.record(result, outcome)

		var pe *hook.PanicError
		if errors.As(err, &pe) {
			stepLog.Debugf("Recovered panic stack:\n%s", pe.Stack)
			result.err = err
		}

		switch {
		case outcome.Kind() == step.KindEnvironmentUnavailable:
			stepLog.WithError(err).Error("Environment unavailable, aborting phase")
			result.err = err
			s.skipFrom(result, descriptors, i+1, ReasonUnavailable)
			return result
		case outcome.Success():
			stepLog.Infof("Step %s completed successfully in %s", d.Name(), outcome.Duration().Round(time.Millisecond))
		default:
			stepLog.Errorf("Step %s failed: %s", d.Name(), outcome.Detail())
			if policy.HaltOnFailure {
				log.Errorf("Halting %s at step %s", p, d.Name())
				s.skipFrom(result, descriptors, i+1, fmt.Sprintf("step %s failed", d.Name()))
				return result
			}
		}
	}
	return result
}

func (s *Sequencer) runStep(ctx context.Context, d step.Descriptor, env runner.Environment) (outcome step.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.runner.Run(ctx, d, env)
}

func (s *Sequencer) record(result *Result, o step.Outcome) {
	result.outcomes = append(result.outcomes, o)
	if s.observer != nil {
		s.observer.StepFinished(o)
	}
}

func (s *Sequencer) skipFrom(result *Result, descriptors []step.Descriptor, from int, reason string) {
	for _, d := range descriptors[from:] {
		s.record(result, step.Skipped(d, reason))
	}
}
