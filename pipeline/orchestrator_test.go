package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmsuite/config"
	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
	"github.com/mensylisir/xmsuite/runtime"
	"github.com/mensylisir/xmsuite/step"
)

type nopEnv struct{}

func (nopEnv) Connection(ctx context.Context) (connector.Connection, error) { return nil, nil }
func (nopEnv) WorkDir() string                                              { return "/tmp/xmsuite/test" }
func (nopEnv) Env() map[string]string                                       { return map[string]string{} }
func (nopEnv) Discard()                                                     {}

// scriptedRunner succeeds for every reference not listed in fail or unreachable
// and remembers what it ran, in order.
type scriptedRunner struct {
	mu          sync.Mutex
	fail        map[string]bool
	unreachable map[string]bool
	onRun       func(d step.Descriptor)
	ran         []string
}

func (r *scriptedRunner) Run(ctx context.Context, d step.Descriptor, env runner.Environment) (step.Outcome, error) {
	r.mu.Lock()
	r.ran = append(r.ran, d.Reference())
	r.mu.Unlock()
	if r.onRun != nil {
		r.onRun(d)
	}
	switch {
	case r.unreachable[d.Reference()]:
		return step.Outcome{}, step.NewEnvironmentError(d, connector.ErrUnreachable)
	case r.fail[d.Reference()]:
		return step.Failed(d, step.KindStepFailure, time.Millisecond, "exit status 1"), nil
	default:
		return step.Succeeded(d, time.Millisecond, ""), nil
	}
}

func (r *scriptedRunner) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fixedClock() func() time.Time {
	var n int64
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func suiteConfig(t *testing.T, pre, post []string) *config.Configuration {
	t.Helper()
	toAny := func(in []string) []interface{} {
		out := make([]interface{}, len(in))
		for i, s := range in {
			out[i] = s
		}
		return out
	}
	cfg, err := config.New(map[string]interface{}{
		"type":          "aio",
		"puppetservice": "puppetserver",
		"pre_suite":     toAny(pre),
		"post_suite":    toAny(post),
	})
	require.NoError(t, err)
	return cfg
}

func withQuietSequencer() []phase.Option {
	return []phase.Option{phase.WithLogger(quietEntry())}
}

func newTestOrchestrator(r runner.StepRunner, opts ...Option) *Orchestrator {
	return NewOrchestrator(append([]Option{
		WithRunner(r),
		WithLogger(quietEntry()),
		WithClock(fixedClock()),
		WithRunID(func() string { return "run-1" }),
	}, opts...)...)
}

type countingBody struct {
	calls  int32
	result report.BodyResult
	err    error
	panics bool
	hook   func(ctx context.Context)
}

func (b *countingBody) Run(ctx context.Context, env runner.Environment) (report.BodyResult, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.hook != nil {
		b.hook(ctx)
	}
	if b.panics {
		panic("body exploded")
	}
	return b.result, b.err
}

func outcomeStatuses(outcomes []step.Outcome) []step.Status {
	var out []step.Status
	for _, o := range outcomes {
		out = append(out, o.Status())
	}
	return out
}

func TestExecute_AllSucceed(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1", "p2"}, []string{"q1"})
	body := &countingBody{result: report.BodyPassed(time.Second)}

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, body)

	assert.Equal(t, step.StatusSuccess, rep.Status())
	assert.Equal(t, []string{"p1", "p2", "q1"}, r.history())
	assert.EqualValues(t, 1, body.calls)
	assert.Equal(t, "run-1", rep.RunID())
	assert.Equal(t, "aio", rep.SuiteType())
	assert.Equal(t, "localhost", rep.Host())
	assert.NoError(t, rep.Err())
}

func TestExecute_PreFailureSkipsBodyButRunsPost(t *testing.T) {
	r := &scriptedRunner{fail: map[string]bool{"p2": true}}
	cfg := suiteConfig(t, []string{"p1", "p2", "p3"}, []string{"q1", "q2"})
	body := &countingBody{result: report.BodyPassed(time.Second)}

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, body)

	assert.Equal(t, step.StatusFailure, rep.Status())
	assert.EqualValues(t, 0, body.calls)
	assert.Equal(t, []step.Status{step.StatusSuccess, step.StatusFailure, step.StatusSkipped}, outcomeStatuses(rep.Pre().Outcomes()))
	assert.Equal(t, step.StatusSkipped, rep.Body().Status())
	assert.Equal(t, ReasonPreFailed, rep.Body().Detail())
	assert.Equal(t, []string{"p1", "p2", "q1", "q2"}, r.history())
	assert.Equal(t, step.StatusSuccess, rep.Post().Status())
	assert.Equal(t, []string{"pre_suite", "suite_body"}, rep.FailedPhases())
}

func TestExecute_PostFailureAloneFailsSuite(t *testing.T) {
	r := &scriptedRunner{fail: map[string]bool{"q1": true}}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1", "q2"})

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{result: report.BodyPassed(0)})

	assert.Equal(t, step.StatusFailure, rep.Status())
	assert.True(t, rep.Pre().Success())
	assert.True(t, rep.Body().Success())
	assert.Equal(t, []step.Status{step.StatusFailure, step.StatusSuccess}, outcomeStatuses(rep.Post().Outcomes()))
	assert.Equal(t, []string{"post_suite"}, rep.FailedPhases())
}

func TestExecute_BodyFailureIsRecorded(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1"})

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{result: report.BodyFailed(time.Second, "2 examples failed")})

	assert.Equal(t, step.StatusFailure, rep.Status())
	assert.Equal(t, step.KindStepFailure, rep.Body().Kind())
	assert.Equal(t, []string{"p1", "q1"}, r.history())
}

func TestExecute_BodyErrorIsCaught(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1"})

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{err: errors.New("harness crashed")})

	assert.Equal(t, step.StatusFailure, rep.Body().Status())
	assert.Equal(t, step.KindSuiteBody, rep.Body().Kind())
	assert.Equal(t, "harness crashed", rep.Body().Detail())
	assert.True(t, rep.Post().Success())
	assert.Equal(t, []string{"p1", "q1"}, r.history())
}

func TestExecute_BodyPanicStillRunsPost(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1", "q2"})

	var rep *report.SuiteReport
	require.NotPanics(t, func() {
		rep = newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{panics: true})
	})

	assert.Equal(t, step.StatusFailure, rep.Status())
	assert.Equal(t, step.KindSuiteBody, rep.Body().Kind())
	assert.Contains(t, rep.Body().Detail(), "body exploded")
	assert.Equal(t, []string{"p1", "q1", "q2"}, r.history())
	assert.True(t, rep.Post().Success())
}

func TestExecute_PanicDuringSetupStillRunsPost(t *testing.T) {
	r := &scriptedRunner{onRun: func(d step.Descriptor) {
		if d.Reference() == "p2" {
			panic("runner bug")
		}
	}}
	cfg := suiteConfig(t, []string{"p1", "p2", "p3"}, []string{"q1"})
	body := &countingBody{}

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, body)

	assert.EqualValues(t, 0, body.calls)
	assert.Equal(t, step.StatusFailure, rep.Pre().Status())
	assert.Equal(t, []step.Status{step.StatusSuccess, step.StatusFailure, step.StatusSkipped}, outcomeStatuses(rep.Pre().Outcomes()),
		"p1 already succeeded and keeps its outcome")
	assert.Contains(t, rep.Pre().Outcomes()[1].Detail(), "runner bug")
	assert.Error(t, rep.Pre().Err())
	assert.Equal(t, []string{"p1", "p2", "q1"}, r.history())
	assert.True(t, rep.Post().Success())
}

func TestExecute_NilBody(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1"})

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, nil)

	assert.Equal(t, step.StatusSkipped, rep.Body().Status())
	assert.Equal(t, ReasonNoBody, rep.Body().Detail())
	assert.Equal(t, step.StatusFailure, rep.Status())
}

func TestExecute_EnvironmentUnavailableDuringSetup(t *testing.T) {
	r := &scriptedRunner{unreachable: map[string]bool{"p1": true}}
	cfg := suiteConfig(t, []string{"p1", "p2"}, []string{"q1"})
	body := &countingBody{}

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, body)

	assert.EqualValues(t, 0, body.calls)
	first := rep.Pre().Outcomes()[0]
	assert.Equal(t, step.KindEnvironmentUnavailable, first.Kind())
	assert.True(t, errors.Is(rep.Pre().Err(), step.ErrEnvironmentUnavailable))
	assert.Equal(t, []string{"p1", "q1"}, r.history(), "teardown is still attempted")
	assert.True(t, errors.Is(rep.Err(), step.ErrEnvironmentUnavailable))
}

func TestExecute_CancelledDuringBodyStillRunsPost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1", "q2"})
	body := &countingBody{
		result: report.BodyPassed(time.Second),
		hook:   func(context.Context) { cancel() },
	}

	rep := newTestOrchestrator(r, WithTeardownBudget(time.Minute)).Execute(ctx, cfg, nopEnv{}, body)

	assert.Equal(t, []string{"p1", "q1", "q2"}, r.history())
	assert.True(t, rep.Post().Success())
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &scriptedRunner{}
	cfg := suiteConfig(t, []string{"p1", "p2"}, []string{"q1"})
	body := &countingBody{}

	rep := newTestOrchestrator(r).Execute(ctx, cfg, nopEnv{}, body)

	assert.EqualValues(t, 0, body.calls)
	assert.Equal(t, []step.Status{step.StatusSkipped, step.StatusSkipped}, outcomeStatuses(rep.Pre().Outcomes()))
	assert.Equal(t, []string{"q1"}, r.history())
	assert.Equal(t, step.StatusFailure, rep.Status())
}

func TestExecute_TeardownBudgetBoundsPost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &scriptedRunner{onRun: func(d step.Descriptor) {
		if d.Reference() == "q1" {
			time.Sleep(100 * time.Millisecond)
		}
	}}
	cfg := suiteConfig(t, nil, []string{"q1", "q2"})

	rep := newTestOrchestrator(r, WithTeardownBudget(20*time.Millisecond)).Execute(ctx, cfg, nopEnv{}, &countingBody{})

	assert.Equal(t, []string{"q1"}, r.history())
	assert.Equal(t, []step.Status{step.StatusSuccess, step.StatusSkipped}, outcomeStatuses(rep.Post().Outcomes()))
}

func TestExecute_CancelledDuringPostFinishesPost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &scriptedRunner{onRun: func(d step.Descriptor) {
		if d.Reference() == "q1" {
			cancel()
		}
	}}
	cfg := suiteConfig(t, []string{"p1"}, []string{"q1", "q2"})

	rep := newTestOrchestrator(r, WithTeardownBudget(time.Minute)).Execute(ctx, cfg, nopEnv{}, &countingBody{result: report.BodyPassed(0)})

	assert.Equal(t, []string{"p1", "q1", "q2"}, r.history())
	assert.Equal(t, []step.Status{step.StatusSuccess, step.StatusSuccess}, outcomeStatuses(rep.Post().Outcomes()))
	assert.True(t, rep.Post().Success())
}

func TestExecute_CancelledDuringPostKeepsBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &scriptedRunner{onRun: func(d step.Descriptor) {
		if d.Reference() == "q1" {
			cancel()
			time.Sleep(100 * time.Millisecond)
		}
	}}
	cfg := suiteConfig(t, nil, []string{"q1", "q2"})

	rep := newTestOrchestrator(r, WithTeardownBudget(20*time.Millisecond)).Execute(ctx, cfg, nopEnv{}, &countingBody{})

	assert.Equal(t, []string{"q1"}, r.history())
	assert.Equal(t, []step.Status{step.StatusSuccess, step.StatusSkipped}, outcomeStatuses(rep.Post().Outcomes()))
}

func TestTeardownContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tctx := &teardownContext{Context: ctx}
	defer tctx.stop()

	_, ok := tctx.Deadline()
	assert.False(t, ok, "no deadline until the run is cancelled")

	tctx.startBudget(50*time.Millisecond, cancel)
	deadline, ok := tctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	select {
	case <-tctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("budget did not cancel the teardown context")
	}
}

func TestExecute_ReportShapeIsIdempotent(t *testing.T) {
	cfg := suiteConfig(t, []string{"p1", "p2"}, []string{"q1"})
	run := func() []byte {
		r := &scriptedRunner{fail: map[string]bool{"q1": true}}
		rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{result: report.BodyPassed(0)})
		data, err := json.Marshal(rep)
		require.NoError(t, err)
		return data
	}
	assert.JSONEq(t, string(run()), string(run()))
}

func TestExecute_EmptyPhases(t *testing.T) {
	r := &scriptedRunner{}
	cfg := suiteConfig(t, nil, nil)

	rep := newTestOrchestrator(r).Execute(context.Background(), cfg, nopEnv{}, &countingBody{result: report.BodyPassed(0)})

	assert.Equal(t, step.StatusSuccess, rep.Status())
	assert.Empty(t, r.history())
}

func TestScriptBody(t *testing.T) {
	r := &scriptedRunner{fail: map[string]bool{"t2": true}}
	body := NewScriptBody([]string{"t1", "t2", "t3"}, r, withQuietSequencer()...)

	res, err := body.Run(context.Background(), nopEnv{})
	require.NoError(t, err)
	assert.Equal(t, step.StatusFailure, res.Status())
	assert.Equal(t, "1 of 3 test(s) failed", res.Detail())
	assert.Equal(t, []string{"t1", "t2", "t3"}, r.history(), "tests continue past a failure")

	r = &scriptedRunner{unreachable: map[string]bool{"t1": true}}
	_, err = NewScriptBody([]string{"t1", "t2"}, r, withQuietSequencer()...).Run(context.Background(), nopEnv{})
	assert.True(t, errors.Is(err, step.ErrEnvironmentUnavailable))

	res, err = NewScriptBody(nil, &scriptedRunner{}, withQuietSequencer()...).Run(context.Background(), nopEnv{})
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestRunAll(t *testing.T) {
	var running, peak int32
	r := &scriptedRunner{onRun: func(step.Descriptor) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}}
	fail := &scriptedRunner{fail: map[string]bool{"p1": true}}

	suites := []Suite{
		{Config: suiteConfig(t, []string{"p1"}, []string{"q1"}), Env: nopEnv{}, Body: &countingBody{result: report.BodyPassed(0)}, Orchestrator: newTestOrchestrator(r)},
		{Config: suiteConfig(t, []string{"p1"}, []string{"q1"}), Env: nopEnv{}, Body: &countingBody{result: report.BodyPassed(0)}, Orchestrator: newTestOrchestrator(fail)},
		{Config: suiteConfig(t, []string{"p1"}, []string{"q1"}), Env: nopEnv{}, Body: &countingBody{result: report.BodyPassed(0)}, Orchestrator: newTestOrchestrator(r)},
	}

	reports := RunAll(context.Background(), suites, 1)
	require.Len(t, reports, 3)
	assert.True(t, reports[0].Success())
	assert.False(t, reports[1].Success())
	assert.True(t, reports[2].Success())
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
	assert.Equal(t, []string{"p1", "q1"}, fail.history(), "a failed suite still tears down")
}

func TestExecute_LocalIntegration(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0600))
		return p
	}
	marker := filepath.Join(dir, "teardown.log")
	preOK := write("010_prepare.sh", "echo \"preparing $XMSUITE_SERVICE_PUPPETSERVICE\"\n")
	preFail := write("020_install.sh", "echo 'package not found' >&2\nexit 4\n")
	preNever := write("030_configure.sh", "echo never\n")
	post := write("010_cleanup.sh", "echo \"$XMSUITE_PHASE $XMSUITE_STEP_INDEX\" >> \"$SUITE_MARKER\"\n")

	cfg, err := config.New(map[string]interface{}{
		"type":          "aio",
		"puppetservice": "puppetserver",
		"pre_suite":     []interface{}{preOK, preFail, preNever},
		"post_suite":    []interface{}{post},
		"work_dir":      filepath.Join(dir, "work"),
		"env":           map[string]interface{}{"SUITE_MARKER": marker},
	})
	require.NoError(t, err)

	env := runtime.FromConfiguration(cfg, nil, nil)
	defer env.Close()

	body := &countingBody{result: report.BodyPassed(0)}
	rep := NewOrchestrator(WithLogger(quietEntry())).Execute(context.Background(), cfg, env, body)

	assert.Equal(t, step.StatusFailure, rep.Status())
	assert.EqualValues(t, 0, body.calls)
	pre := rep.Pre().Outcomes()
	require.Len(t, pre, 3)
	assert.Equal(t, "exit status 4: package not found", pre[1].Detail())
	assert.Equal(t, step.StatusSkipped, pre[2].Status())

	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "post_suite 0", strings.TrimSpace(string(content)))
}
