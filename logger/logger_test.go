package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmsuite/common"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{in: "quiet", want: logrus.WarnLevel},
		{in: "normal", want: logrus.InfoLevel},
		{in: "", want: logrus.InfoLevel},
		{in: "VERBOSE", want: logrus.DebugLevel},
		{in: "trace", want: logrus.TraceLevel},
		{in: "error", want: logrus.ErrorLevel},
		{in: "chatty", want: logrus.InfoLevel, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGlobalLogDefault(t *testing.T) {
	require.NotNil(t, Log)
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestConsoleLog_StepFields(t *testing.T) {
	var buf bytes.Buffer
	xl := NewConsoleLog(&buf, logrus.DebugLevel)
	xl.Formatter.(*Formatter).NoColors = true

	xl.WarnfStep("00_check.sh", "step %s", "slow")
	line := buf.String()
	assert.Contains(t, line, "[WARN]")
	assert.Contains(t, line, common.StepName+":00_check.sh")
	assert.Contains(t, line, "step slow")

	buf.Reset()
	xl.ErrorfStep("01_fail.sh", errors.New("exit status 2"), "step failed")
	line = buf.String()
	assert.Contains(t, line, "[ERRO]")
	assert.Contains(t, line, "error:exit status 2")
}

func TestConsoleLog_QuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	level, err := ParseLevel(VerbosityQuiet)
	require.NoError(t, err)
	xl := NewConsoleLog(&buf, level)

	xl.InfofNode("agent01", "hidden")
	xl.DebugfStep("00_check.sh", "hidden")
	assert.Empty(t, buf.String())

	xl.WarnfStep("00_check.sh", "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFormatter_FieldOrder(t *testing.T) {
	f := &Formatter{
		NoColors:               true,
		DisableTimestamp:       true,
		DisplayLevelName:       HideAll,
		FieldsDisplayWithOrder: []string{"b", "a"},
	}
	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Data:    logrus.Fields{"a": 1, "z": 3, "b": 2, "c": 4},
		Time:    time.Now(),
		Level:   logrus.InfoLevel,
		Message: "msg",
	}
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[b:2 | a:1 | c:4 | z:3] msg\n", string(out))

	f.HideKeys = true
	f.FieldSeparator = ","
	out, err = f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2,1,4,3] msg\n", string(out))
}

func TestFormatter_TruncatesLongValues(t *testing.T) {
	f := &Formatter{NoColors: true, DisableTimestamp: true, DisplayLevelName: HideAll, MaxFieldValueLength: 4}
	entry := &logrus.Entry{Logger: logrus.New(), Data: logrus.Fields{"k": "abcdefgh"}, Message: "m"}
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[k:abcd...] m\n", string(out))
}

func TestFormatter_LevelDisplayModes(t *testing.T) {
	info := &logrus.Entry{Logger: logrus.New(), Level: logrus.InfoLevel, Message: "m", Data: logrus.Fields{}}
	warn := &logrus.Entry{Logger: logrus.New(), Level: logrus.WarnLevel, Message: "m", Data: logrus.Fields{}}

	f := &Formatter{NoColors: true, DisableTimestamp: true, DisplayLevelName: ShowAboveWarn}
	out, _ := f.Format(info)
	assert.Equal(t, "m\n", string(out))
	out, _ = f.Format(warn)
	assert.Equal(t, "[WARN] m\n", string(out))

	f.DisplayLevelName = ShowAboveError
	out, _ = f.Format(warn)
	assert.Equal(t, "m\n", string(out))
}

func TestNewXMLog_WritesFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	xl, err := NewXMLog(dir, logrus.InfoLevel, &console)
	require.NoError(t, err)

	xl.WithSuite("aio", "run-1").Info("suite started")
	xl.Debug("not written at info level")

	assert.Contains(t, console.String(), "suite started")

	var content []byte
	require.Eventually(t, func() bool {
		content, err = os.ReadFile(filepath.Join(dir, logFileName))
		return err == nil && len(content) > 0
	}, 2*time.Second, 20*time.Millisecond)

	text := string(content)
	assert.Contains(t, text, "suite started")
	assert.Contains(t, text, common.RunID+":run-1 | "+common.SuiteName+":aio")
	assert.False(t, strings.Contains(text, "not written"))
}

func TestNewXMLog_FileFollowsLaterLevel(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	xl, err := NewXMLog(dir, logrus.InfoLevel, &console)
	require.NoError(t, err)

	xl.SetLevel(logrus.DebugLevel)
	xl.DebugfStep("00_check.sh", "exec: %s", "bash 00_check.sh")

	var content []byte
	require.Eventually(t, func() bool {
		content, err = os.ReadFile(filepath.Join(dir, logFileName))
		return err == nil && len(content) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(content), "exec: bash 00_check.sh")
	assert.Contains(t, string(content), "[DEBU]")
}

func TestInitGlobalLogger(t *testing.T) {
	previous := Log
	defer func() { Log = previous }()

	require.NoError(t, InitGlobalLogger("", logrus.DebugLevel))
	assert.NotSame(t, previous, Log)
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
}
