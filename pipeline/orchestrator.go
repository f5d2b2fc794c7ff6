package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/config"
	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/hook"
	"github.com/mensylisir/xmsuite/logger"
	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
	"github.com/mensylisir/xmsuite/step"
)

// Body skip reasons.
const (
	ReasonPreFailed = "pre_suite failed"
	ReasonNoBody    = "no suite body"
)

// Orchestrator drives one suite: setup, body, teardown.
// It holds no per-run state and may be shared between goroutines.
type Orchestrator struct {
	runner         runner.StepRunner
	observer       phase.Observer
	log            *logrus.Entry
	teardownBudget time.Duration
	now            func() time.Time
	newRunID       func() string
}

type Option func(*Orchestrator)

// WithRunner replaces the step runner. By default one is built per run from
// the configuration's step timeout.
func WithRunner(r runner.StepRunner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

func WithObserver(obs phase.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the entry suite logs are derived from. By default they go
// to the global logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(o *Orchestrator) { o.log = entry }
}

// WithTeardownBudget overrides the configuration's teardown_timeout.
func WithTeardownBudget(d time.Duration) Option {
	return func(o *Orchestrator) { o.teardownBudget = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the pre-phase, then body if setup succeeded, then the post-phase
// on every path out, and returns the report. It never returns nil.
//
// The post-phase never sees ctx's cancellation directly: it runs on a
// detached context, and a cancellation before or during it leaves the
// remaining post steps the teardown budget to finish.
func (o *Orchestrator) Execute(ctx context.Context, cfg *config.Configuration, env runner.Environment, body SuiteBody) *report.SuiteReport {
	runID := o.newRunID()
	started := o.now()
	log := logger.Log.WithSuite(cfg.Name(), runID)
	if o.log != nil {
		log = o.log.WithFields(logrus.Fields{
			common.RunID:     runID,
			common.SuiteName: cfg.Name(),
		})
	}

	r := o.runner
	if r == nil {
		r = runner.NewStepRunner(runner.Options{Timeout: cfg.StepTimeout()})
	}
	seqOpts := []phase.Option{phase.WithLogger(log)}
	if o.observer != nil {
		seqOpts = append(seqOpts, phase.WithObserver(o.observer))
	}
	seq := phase.NewSequencer(r, seqOpts...)

	preSteps := step.Descriptors(step.PhasePre, cfg.PreSuite())
	postSteps := step.Descriptors(step.PhasePost, cfg.PostSuite())

	var (
		pre, post   *phase.Result
		bodyResult  = report.BodyNotRun(ReasonPreFailed)
		bodyStarted time.Time
	)

	log.Infof("Starting suite %s (type %s): %d pre_suite step(s), %d post_suite step(s)",
		cfg.Name(), cfg.Type(), len(preSteps), len(postSteps))

	err := hook.Call(hook.Funcs{
		TryFunc: func() error {
			pre = seq.Run(ctx, step.PhasePre, preSteps, env, phase.PolicyFor(step.PhasePre))
			if !pre.Success() {
				log.Errorf("pre_suite failed, suite body will not run")
				return nil
			}
			if ctx.Err() != nil {
				bodyResult = report.BodyNotRun(phase.ReasonCancelled)
				return nil
			}
			if body == nil {
				bodyResult = report.BodyNotRun(ReasonNoBody)
				return nil
			}

			log.Info("Running suite body")
			bodyStarted = o.now()
			res, err := body.Run(ctx, env)
			if err != nil {
				return err
			}
			bodyResult = res
			return nil
		},
		CatchFunc: func(err error) error {
			if pe, ok := err.(*hook.PanicError); ok {
				log.Debugf("Recovered panic stack:\n%s", pe.Stack)
			}
			if bodyStarted.IsZero() {
				// Setup itself blew up; nothing ran past it.
				log.WithError(err).Error("pre_suite aborted")
				pre = abortedPhase(step.PhasePre, preSteps, pre, err)
				bodyResult = report.BodyNotRun(ReasonPreFailed)
				return err
			}
			log.WithError(err).Error("Suite body faulted")
			bodyResult = report.BodyFaulted(o.now().Sub(bodyStarted), err)
			return nil
		},
		FinallyFunc: func() {
			post = o.teardown(ctx, cfg, seq, postSteps, env, log)
		},
	})
	if err != nil {
		log.WithError(err).Warn("Suite run ended abnormally")
	}

	rep := report.New(report.Params{
		RunID:      runID,
		Name:       cfg.Name(),
		SuiteType:  cfg.Type(),
		Host:       hostID(cfg, env),
		StartedAt:  started,
		FinishedAt: o.now(),
		Pre:        pre,
		Body:       bodyResult,
		Post:       post,
	})
	if rep.Success() {
		log.Infof("Suite %s finished: %s in %s", cfg.Name(), rep.Status(), rep.Duration().Round(time.Millisecond))
	} else {
		log.Errorf("Suite %s finished: %s (failed: %v)", cfg.Name(), rep.Status(), rep.FailedPhases())
	}
	return rep
}

func (o *Orchestrator) teardown(ctx context.Context, cfg *config.Configuration, seq *phase.Sequencer, steps []step.Descriptor, env runner.Environment, log *logrus.Entry) (res *phase.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("post_suite panicked: %v", r)
			log.WithError(err).Error("post_suite aborted")
			res = abortedPhase(step.PhasePost, steps, res, err)
		}
	}()

	budget := o.teardownBudget
	if budget <= 0 {
		budget = cfg.TeardownTimeout()
	}
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	tctx := &teardownContext{Context: base}
	defer tctx.stop()

	if ctx.Err() != nil {
		log.Warnf("Run cancelled, running post_suite within %s", budget)
		tctx.startBudget(budget, cancel)
	} else {
		stop := context.AfterFunc(ctx, func() {
			log.Warnf("Run cancelled during post_suite, finishing within %s", budget)
			tctx.startBudget(budget, cancel)
		})
		defer stop()
	}
	return seq.Run(tctx, step.PhasePost, steps, env, phase.PolicyFor(step.PhasePost))
}

// teardownContext ignores the run's cancellation. Once the run is cancelled it
// reports a deadline one teardown budget away and is cancelled when it passes.
type teardownContext struct {
	context.Context

	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
}

func (c *teardownContext) Deadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, !c.deadline.IsZero()
}

func (c *teardownContext) startBudget(budget time.Duration, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		return
	}
	c.deadline = time.Now().Add(budget)
	c.timer = time.AfterFunc(budget, cancel)
}

func (c *teardownContext) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

// abortedPhase completes a phase cut short by a fault: what already ran is
// kept, the rest is SKIPPED.
func abortedPhase(p step.Phase, steps []step.Descriptor, partial *phase.Result, cause error) *phase.Result {
	var outcomes []step.Outcome
	if partial != nil {
		outcomes = partial.Outcomes()
	}
	for _, d := range steps[len(outcomes):] {
		outcomes = append(outcomes, step.Skipped(d, "aborted: "+cause.Error()))
	}
	if len(outcomes) == 0 {
		// An empty phase would read as SUCCESS.
		outcomes = append(outcomes, step.Failed(step.NewDescriptor(p.String(), p, 0), step.KindStepFailure, 0, cause.Error()))
	}
	return phase.NewResult(p, outcomes, cause)
}

func hostID(cfg *config.Configuration, env runner.Environment) string {
	if h, ok := env.(interface{ Host() connector.Host }); ok {
		host := h.Host()
		return host.ID()
	}
	return cfg.Host().ID()
}
