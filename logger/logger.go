package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmsuite/common"
)

// Log is the global logger instance of XMLog. It starts as a console logger
// at info level and is replaced by InitGlobalLogger.
var Log *XMLog

// XMLog wraps logrus.Logger with suite/phase/step aware helpers.
type XMLog struct {
	*logrus.Logger
}

// Verbosity names accepted in configuration and on the command line.
const (
	VerbosityQuiet   = "quiet"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
)

const logFileName = "xmsuite.log"

var defaultFieldsOrder = []string{
	common.RunID, common.SuiteName, common.PhaseName, common.StepName, common.NodeName,
}

func init() {
	Log = NewConsoleLog(os.Stderr, logrus.InfoLevel)
}

// ParseLevel maps a verbosity name onto a logrus level. quiet, normal and
// verbose are the documented names; any logrus level name is accepted too.
func ParseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case VerbosityQuiet:
		return logrus.WarnLevel, nil
	case "", VerbosityNormal:
		return logrus.InfoLevel, nil
	case VerbosityVerbose:
		return logrus.DebugLevel, nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// NewConsoleLog returns a logger that writes human readable lines to out.
func NewConsoleLog(out io.Writer, level logrus.Level) *XMLog {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(consoleFormatter(level))
	return &XMLog{Logger: logger}
}

// NewXMLog creates a console logger at level and, when outputPath is set, also
// writes every enabled level to a daily rotated file under outputPath, following
// later SetLevel calls.
func NewXMLog(outputPath string, level logrus.Level, console io.Writer) (*XMLog, error) {
	if console == nil {
		console = os.Stderr
	}
	xl := NewConsoleLog(console, level)
	if outputPath == "" {
		return xl, nil
	}
	xl.SetReportCaller(true)

	if err := os.MkdirAll(outputPath, common.FileMode0755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory %s: %w", outputPath, err)
	}
	logFilePath := filepath.Join(outputPath, logFileName)

	writer, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rotatelogs for %s: %w", logFilePath, err)
	}

	fileFormatter := &Formatter{
		TimestampFormat:        "2006-01-02 15:04:05.000 MST",
		NoColors:               true,
		DisplayLevelName:       ShowAll,
		FieldsDisplayWithOrder: defaultFieldsOrder,
		FieldSeparator:         " | ",
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return fmt.Sprintf("[%s:%d]", filepath.Base(frame.File), frame.Line)
		},
	}

	// Every level gets the writer so a later SetLevel reaches the file too;
	// the logger's own level still filters.
	logWriters := lfshook.WriterMap{}
	for _, l := range logrus.AllLevels {
		logWriters[l] = writer
	}
	xl.AddHook(lfshook.NewHook(logWriters, fileFormatter))
	return xl, nil
}

// InitGlobalLogger replaces Log.
func InitGlobalLogger(outputPath string, level logrus.Level) error {
	xl, err := NewXMLog(outputPath, level, os.Stderr)
	if err != nil {
		return err
	}
	Log = xl
	return nil
}

func consoleFormatter(level logrus.Level) *Formatter {
	display := ShowAboveWarn
	if level >= logrus.DebugLevel {
		display = ShowAll
	}
	return &Formatter{
		TimestampFormat:        "15:04:05",
		DisplayLevelName:       display,
		DisableCaller:          true,
		FieldsDisplayWithOrder: defaultFieldsOrder,
	}
}

func (xl *XMLog) logfWithStandardFields(level logrus.Level, fixedFields logrus.Fields, format string, args []interface{}) {
	xl.Logger.WithFields(fixedFields).Logf(level, format, args...)
}

// WithSuite returns an entry tagged with the suite and run id.
func (xl *XMLog) WithSuite(suite string, runID string) *logrus.Entry {
	fields := logrus.Fields{common.SuiteName: suite}
	if runID != "" {
		fields[common.RunID] = runID
	}
	return xl.WithFields(fields)
}

// --- Step Context Logging ---
func (xl *XMLog) DebugfStep(stepName string, format string, args ...interface{}) {
	xl.logfWithStandardFields(logrus.DebugLevel, logrus.Fields{common.StepName: stepName}, format, args)
}
func (xl *XMLog) WarnfStep(stepName string, format string, args ...interface{}) {
	xl.logfWithStandardFields(logrus.WarnLevel, logrus.Fields{common.StepName: stepName}, format, args)
}
func (xl *XMLog) ErrorfStep(stepName string, err error, format string, args ...interface{}) {
	fixedFields := logrus.Fields{common.StepName: stepName}
	if err != nil {
		fixedFields[logrus.ErrorKey] = err
	}
	xl.logfWithStandardFields(logrus.ErrorLevel, fixedFields, format, args)
}

// --- Node Context Logging ---
func (xl *XMLog) InfofNode(nodeName string, format string, args ...interface{}) {
	xl.logfWithStandardFields(logrus.InfoLevel, logrus.Fields{common.NodeName: nodeName}, format, args)
}
func (xl *XMLog) ErrorfNode(nodeName string, err error, format string, args ...interface{}) {
	fixedFields := logrus.Fields{common.NodeName: nodeName}
	if err != nil {
		fixedFields[logrus.ErrorKey] = err
	}
	xl.logfWithStandardFields(logrus.ErrorLevel, fixedFields, format, args)
}
