package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/step"
)

// Name used for the suite body wherever a phase name is expected.
const BodyPhaseName = "suite_body"

// SuiteReport is the final, read-only record of one suite run.
type SuiteReport struct {
	runID      string
	name       string
	suiteType  string
	host       string
	startedAt  time.Time
	finishedAt time.Time
	pre        *phase.Result
	body       BodyResult
	post       *phase.Result
}

// Params for creating a new SuiteReport.
type Params struct {
	RunID      string
	Name       string
	SuiteType  string
	Host       string
	StartedAt  time.Time
	FinishedAt time.Time
	Pre        *phase.Result
	Body       BodyResult
	Post       *phase.Result
}

func New(p Params) *SuiteReport {
	if p.Pre == nil {
		p.Pre = &phase.Result{}
	}
	if p.Post == nil {
		p.Post = &phase.Result{}
	}
	return &SuiteReport{
		runID:      p.RunID,
		name:       p.Name,
		suiteType:  p.SuiteType,
		host:       p.Host,
		startedAt:  p.StartedAt,
		finishedAt: p.FinishedAt,
		pre:        p.Pre,
		body:       p.Body,
		post:       p.Post,
	}
}

func (r *SuiteReport) RunID() string         { return r.runID }
func (r *SuiteReport) Name() string          { return r.name }
func (r *SuiteReport) SuiteType() string     { return r.suiteType }
func (r *SuiteReport) Host() string          { return r.host }
func (r *SuiteReport) StartedAt() time.Time  { return r.startedAt }
func (r *SuiteReport) FinishedAt() time.Time { return r.finishedAt }
func (r *SuiteReport) Pre() *phase.Result    { return r.pre }
func (r *SuiteReport) Body() BodyResult      { return r.body }
func (r *SuiteReport) Post() *phase.Result   { return r.post }

func (r *SuiteReport) Duration() time.Duration {
	return r.finishedAt.Sub(r.startedAt)
}

// Status is SUCCESS iff the pre-phase, the body and the post-phase all succeeded.
func (r *SuiteReport) Status() step.Status {
	if r.pre.Success() && r.body.Success() && r.post.Success() {
		return step.StatusSuccess
	}
	return step.StatusFailure
}

func (r *SuiteReport) Success() bool {
	return r.Status() == step.StatusSuccess
}

// FailedPhases names every part of the run that did not succeed, in run order.
func (r *SuiteReport) FailedPhases() []string {
	var failed []string
	if !r.pre.Success() {
		failed = append(failed, step.PhasePre.String())
	}
	if !r.body.Success() {
		failed = append(failed, BodyPhaseName)
	}
	if !r.post.Success() {
		failed = append(failed, step.PhasePost.String())
	}
	return failed
}

// Failure is one entry in the list of things that went wrong.
type Failure struct {
	Phase  string      `json:"phase"`
	Step   string      `json:"step,omitempty"`
	Index  int         `json:"sequenceIndex"`
	Status step.Status `json:"status"`
	Kind   step.Kind   `json:"kind,omitempty"`
	Detail string      `json:"errorDetail,omitempty"`
}

func (f Failure) String() string {
	if f.Step == "" {
		return fmt.Sprintf("%s %s: %s", f.Phase, f.Status, f.Detail)
	}
	return fmt.Sprintf("%s[%d] %s %s: %s", f.Phase, f.Index, f.Step, f.Status, f.Detail)
}

// Failures lists every non-SUCCESS outcome: pre steps, the body, then post steps.
func (r *SuiteReport) Failures() []Failure {
	var failures []Failure
	add := func(res *phase.Result) {
		for _, o := range res.Failed() {
			failures = append(failures, Failure{
				Phase:  o.Descriptor().Phase().String(),
				Step:   o.Descriptor().Reference(),
				Index:  o.Descriptor().Index(),
				Status: o.Status(),
				Kind:   o.Kind(),
				Detail: o.Detail(),
			})
		}
	}
	add(r.pre)
	if !r.body.Success() {
		failures = append(failures, Failure{
			Phase:  BodyPhaseName,
			Index:  -1,
			Status: r.body.Status(),
			Kind:   r.body.Kind(),
			Detail: r.body.Detail(),
		})
	}
	add(r.post)
	return failures
}

// Err aggregates the failures into one error; nil when the run succeeded.
func (r *SuiteReport) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures() {
		if f.Status == step.StatusSkipped && f.Phase != BodyPhaseName {
			continue
		}
		result = multierror.Append(result, fmt.Errorf("%s", f))
	}
	for _, res := range []*phase.Result{r.pre, r.post} {
		if err := res.Err(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type phaseJSON struct {
	Status   step.Status    `json:"status"`
	Outcomes []step.Outcome `json:"outcomes"`
}

type suiteJSON struct {
	RunID        string      `json:"runId"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Host         string      `json:"host,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   time.Time   `json:"finishedAt"`
	DurationMs   int64       `json:"durationMs"`
	Status       step.Status `json:"overallStatus"`
	FailedPhases []string    `json:"failedPhases"`
	Pre          phaseJSON   `json:"preResult"`
	Body         BodyResult  `json:"suiteBodyResult"`
	Post         phaseJSON   `json:"postResult"`
	Failures     []Failure   `json:"failures"`
}

func (r *SuiteReport) MarshalJSON() ([]byte, error) {
	failed := r.FailedPhases()
	if failed == nil {
		failed = []string{}
	}
	failures := r.Failures()
	if failures == nil {
		failures = []Failure{}
	}
	return json.Marshal(suiteJSON{
		RunID:        r.runID,
		Name:         r.name,
		Type:         r.suiteType,
		Host:         r.host,
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
		DurationMs:   r.Duration().Milliseconds(),
		Status:       r.Status(),
		FailedPhases: failed,
		Pre:          phaseJSON{Status: r.pre.Status(), Outcomes: r.pre.Outcomes()},
		Body:         r.body,
		Post:         phaseJSON{Status: r.post.Status(), Outcomes: r.post.Outcomes()},
		Failures:     failures,
	})
}
