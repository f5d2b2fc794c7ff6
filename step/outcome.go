package step

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the result of a single step.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return fmt.Sprintf("UNKNOWN_STATUS_%d", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "SUCCESS":
		*s = StatusSuccess
	case "FAILURE":
		*s = StatusFailure
	case "SKIPPED":
		*s = StatusSkipped
	default:
		return fmt.Errorf("unknown step status %q", string(text))
	}
	return nil
}

// TimeoutDetail prefixes the detail of every timed out step.
const TimeoutDetail = "timeout"

// Outcome is the immutable record of one executed (or skipped) step.
type Outcome struct {
	descriptor Descriptor
	status     Status
	kind       Kind
	duration   time.Duration
	detail     string
	output     string
}

// Succeeded records a step whose invocation reported success.
func Succeeded(d Descriptor, duration time.Duration, output string) Outcome {
	return Outcome{descriptor: d, status: StatusSuccess, duration: duration, output: output}
}

// Failed records a step that ran and did not succeed.
func Failed(d Descriptor, kind Kind, duration time.Duration, detail string) Outcome {
	if kind == KindNone {
		kind = KindStepFailure
	}
	return Outcome{descriptor: d, status: StatusFailure, kind: kind, duration: duration, detail: detail}
}

// TimedOut records a step that exceeded its allotted time.
func TimedOut(d Descriptor, limit time.Duration) Outcome {
	return Outcome{
		descriptor: d,
		status:     StatusFailure,
		kind:       KindTimeout,
		duration:   limit,
		detail:     fmt.Sprintf("%s: step exceeded %s", TimeoutDetail, limit),
	}
}

// Skipped records a step that was never started.
func Skipped(d Descriptor, reason string) Outcome {
	return Outcome{descriptor: d, status: StatusSkipped, detail: reason}
}

func (o Outcome) Descriptor() Descriptor {
	return o.descriptor
}

func (o Outcome) Status() Status {
	return o.status
}

func (o Outcome) Kind() Kind {
	return o.kind
}

func (o Outcome) Duration() time.Duration {
	return o.duration
}

// Detail is the diagnostic text of a failed step, or the reason a step was skipped.
func (o Outcome) Detail() string {
	return o.detail
}

// Output is the captured stdout of a successful step.
func (o Outcome) Output() string {
	return o.output
}

func (o Outcome) Success() bool {
	return o.status == StatusSuccess
}

type outcomeJSON struct {
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	Phase       Phase  `json:"phase"`
	Index       int    `json:"sequenceIndex"`
	Status      Status `json:"status"`
	Kind        Kind   `json:"kind,omitempty"`
	DurationMS  int64  `json:"durationMs"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		Reference:   o.descriptor.Reference(),
		Name:        o.descriptor.Name(),
		Phase:       o.descriptor.Phase(),
		Index:       o.descriptor.Index(),
		Status:      o.status,
		Kind:        o.kind,
		DurationMS:  o.duration.Milliseconds(),
		ErrorDetail: o.detail,
	})
}
