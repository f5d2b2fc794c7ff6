package report

import (
	"encoding/json"
	"time"

	"github.com/mensylisir/xmsuite/step"
)

// BodyResult is what the suite body produced.
type BodyResult struct {
	status   step.Status
	kind     step.Kind
	detail   string
	duration time.Duration
	ran      bool
}

func BodyPassed(duration time.Duration) BodyResult {
	return BodyResult{status: step.StatusSuccess, duration: duration, ran: true}
}

// BodyFailed records a body that ran to completion and reported failure.
func BodyFailed(duration time.Duration, detail string) BodyResult {
	return BodyResult{status: step.StatusFailure, kind: step.KindStepFailure, duration: duration, detail: detail, ran: true}
}

// BodyFaulted records a body that returned an error or panicked.
func BodyFaulted(duration time.Duration, err error) BodyResult {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return BodyResult{status: step.StatusFailure, kind: step.KindSuiteBody, duration: duration, detail: detail, ran: true}
}

// BodyNotRun records a body that was never invoked.
func BodyNotRun(reason string) BodyResult {
	return BodyResult{status: step.StatusSkipped, detail: reason}
}

func (b BodyResult) Status() step.Status {
	return b.status
}

func (b BodyResult) Kind() step.Kind {
	return b.kind
}

func (b BodyResult) Detail() string {
	return b.detail
}

func (b BodyResult) Duration() time.Duration {
	return b.duration
}

// Ran reports whether the body was invoked at all.
func (b BodyResult) Ran() bool {
	return b.ran
}

func (b BodyResult) Success() bool {
	return b.status == step.StatusSuccess
}

type bodyJSON struct {
	Status      step.Status `json:"status"`
	Kind        step.Kind   `json:"kind,omitempty"`
	DurationMs  int64       `json:"durationMs"`
	ErrorDetail string      `json:"errorDetail,omitempty"`
}

func (b BodyResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(bodyJSON{
		Status:      b.status,
		Kind:        b.kind,
		DurationMs:  b.duration.Milliseconds(),
		ErrorDetail: b.detail,
	})
}
