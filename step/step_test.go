package step

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aioPreSuite = []string{
	"setup/common/000-delete-puppet-when-none.rb",
	"setup/aio/010_Install.rb",
	"setup/aio/021_InstallAristaModule.rb",
	"setup/common/022_Remove_LD_PRELOAD.rb",
	"setup/common/030_StopPuppetService.rb",
	"setup/common/035_StartPuppetServer.rb",
	"setup/common/040_ValidateSignCert.rb",
	"setup/common/045_SetPuppetServerOnAgents.rb",
	"setup/common/050_Setup_Broker.rb",
	"setup/common/060_Setup_PCP_Client.rb",
}

func TestDescriptors_PreservesOrder(t *testing.T) {
	ds := Descriptors(PhasePre, aioPreSuite)
	require.Len(t, ds, len(aioPreSuite))
	for i, d := range ds {
		assert.Equal(t, aioPreSuite[i], d.Reference())
		assert.Equal(t, i, d.Index())
		assert.Equal(t, PhasePre, d.Phase())
	}
}

func TestDescriptors_ListOrderWinsOverNumericPrefix(t *testing.T) {
	refs := []string{"setup/050_Late.rb", "setup/010_Early.rb"}
	ds := Descriptors(PhasePost, refs)
	assert.Equal(t, "050_Late", ds[0].Name())
	assert.Equal(t, "010_Early", ds[1].Name())
}

func TestDescriptors_Empty(t *testing.T) {
	assert.Empty(t, Descriptors(PhasePost, nil))
}

func TestDescriptor_Name(t *testing.T) {
	cases := map[string]string{
		"teardown/common/099_Archive_Logs.rb": "099_Archive_Logs",
		"install":                             "install",
		"scripts/run.tar.gz":                  "run.tar",
		`setup\win\010_Install.ps1`:           "010_Install",
		".hidden":                             ".hidden",
	}
	for ref, want := range cases {
		assert.Equal(t, want, NewDescriptor(ref, PhasePre, 0).Name(), ref)
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "pre_suite", PhasePre.String())
	assert.Equal(t, "post_suite", PhasePost.String())
	assert.Equal(t, "tests", PhaseTest.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}

func TestOutcome_Constructors(t *testing.T) {
	d := NewDescriptor("setup/aio/010_Install.rb", PhasePre, 1)

	ok := Succeeded(d, 2*time.Second, "installed")
	assert.True(t, ok.Success())
	assert.Equal(t, KindNone, ok.Kind())
	assert.Equal(t, "installed", ok.Output())

	failed := Failed(d, KindNone, time.Second, "exit status 2")
	assert.Equal(t, StatusFailure, failed.Status())
	assert.Equal(t, KindStepFailure, failed.Kind(), "failures default to StepFailure")

	timedOut := TimedOut(d, 5*time.Second)
	assert.Equal(t, StatusFailure, timedOut.Status())
	assert.Equal(t, KindTimeout, timedOut.Kind())
	assert.Contains(t, timedOut.Detail(), TimeoutDetail)

	skipped := Skipped(d, "halted")
	assert.Equal(t, StatusSkipped, skipped.Status())
	assert.Equal(t, "halted", skipped.Detail())
	assert.Zero(t, skipped.Duration())
}

func TestOutcome_MarshalJSON(t *testing.T) {
	d := NewDescriptor("teardown/common/099_Archive_Logs.rb", PhasePost, 0)
	data, err := json.Marshal(Failed(d, KindTimeout, 1500*time.Millisecond, "timeout"))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "post_suite", got["phase"])
	assert.Equal(t, "FAILURE", got["status"])
	assert.Equal(t, "Timeout", got["kind"])
	assert.Equal(t, float64(1500), got["durationMs"])
	assert.Equal(t, "timeout", got["errorDetail"])

	data, err = json.Marshal(Succeeded(d, 0, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "errorDetail")
	assert.NotContains(t, string(data), "kind")
}

func TestStatus_UnmarshalText(t *testing.T) {
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("skipped")))
	assert.Equal(t, StatusSkipped, s)
	assert.Error(t, s.UnmarshalText([]byte("maybe")))
}

func TestEnvironmentError_Is(t *testing.T) {
	d := NewDescriptor("setup/common/050_Setup_Broker.rb", PhasePre, 8)
	cause := errors.New("dial tcp 10.0.0.1:22: connect: no route to host")
	err := fmt.Errorf("running step: %w", NewEnvironmentError(d, cause))

	assert.True(t, errors.Is(err, ErrEnvironmentUnavailable))
	assert.True(t, errors.Is(err, cause))

	var envErr *EnvironmentError
	require.True(t, errors.As(err, &envErr))
	assert.Equal(t, d, envErr.Step)
	assert.Contains(t, err.Error(), "050_Setup_Broker.rb")
}
