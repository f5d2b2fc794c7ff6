package common

import (
	"io/fs"
	"path/filepath"
	"time"
)

const (
	AppName    = "xmsuite"
	TmpDirBase = "/tmp/"
)

func GetTmpDir() string {
	return filepath.Join(TmpDirBase, AppName) + "/"
}

// Logger field keys, in display order.
const (
	SuiteName     = "Suite"
	PhaseName     = "Phase"
	StepName      = "Step"
	NodeName      = "Node"
	RunID         = "Run"
	LocalHostname = "localhost"
)

const (
	// FileMode0755 represents rwxr-xr-x
	FileMode0755 fs.FileMode = 0755
	// FileMode0644 represents rw-r--r--
	FileMode0644 fs.FileMode = 0644
)

const (
	DefaultSSHPort = 22

	// DefaultConnectTimeout bounds the SSH handshake with a target host.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultStepTimeout bounds a single pre_suite/post_suite step.
	DefaultStepTimeout = 10 * time.Minute

	// DefaultTeardownBudget bounds the post-suite phase once a run was cancelled.
	DefaultTeardownBudget = 2 * time.Minute

	// DefaultTailLines is how many trailing output lines end up in a failure detail.
	DefaultTailLines = 20
)

// Environment variables exported to every step.
const (
	EnvPhase      = "XMSUITE_PHASE"
	EnvStep       = "XMSUITE_STEP"
	EnvStepIndex  = "XMSUITE_STEP_INDEX"
	EnvHelper     = "XMSUITE_HELPER"
	EnvSuiteType  = "XMSUITE_SUITE_TYPE"
	EnvServiceTpl = "XMSUITE_SERVICE_%s"
)

// ReportFile is the name of the JSON report written for every run.
const ReportFile = "report.json"
