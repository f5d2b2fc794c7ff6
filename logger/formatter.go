package logger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/sirupsen/logrus"
)

const (
	defaultFieldSeparator  = " | "
	defaultTimestampFormat = time.RFC3339
)

// Formatter implements logrus.Formatter.
type Formatter struct {
	TimestampFormat  string
	NoColors         bool
	DisableTimestamp bool
	DisplayLevelName LevelNameDisplayMode
	HideKeys         bool
	// FieldsDisplayWithOrder lists keys printed first, in this order. Remaining
	// keys follow alphabetically.
	FieldsDisplayWithOrder []string
	FieldSeparator         string
	DisableCaller          bool
	CustomCallerFormatter  func(*runtime.Frame) string
	// MaxFieldValueLength truncates long field values; 0 disables truncation.
	MaxFieldValueLength int
}

// LevelNameDisplayMode defines which entries carry a level tag.
type LevelNameDisplayMode int

const (
	ShowAll LevelNameDisplayMode = iota
	ShowAboveWarn
	ShowAboveError
	HideAll
)

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	au := aurora.NewAurora(!f.NoColors)

	if !f.DisableTimestamp {
		timestampFormat := f.TimestampFormat
		if timestampFormat == "" {
			timestampFormat = defaultTimestampFormat
		}
		b.WriteString(entry.Time.Format(timestampFormat))
		b.WriteString(" ")
	}

	if f.showLevel(entry.Level) {
		levelStr := strings.ToUpper(entry.Level.String())
		if len(levelStr) > 4 {
			levelStr = levelStr[:4]
		}
		fmt.Fprintf(b, "%s ", colorByLevel(au, entry.Level, "["+levelStr+"]"))
	}

	if len(entry.Data) > 0 {
		separator := f.FieldSeparator
		if separator == "" {
			separator = defaultFieldSeparator
		}
		b.WriteString("[")
		f.writeFields(b, entry, separator)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if !f.DisableCaller && entry.HasCaller() {
		b.WriteString(" ")
		if f.CustomCallerFormatter != nil {
			b.WriteString(f.CustomCallerFormatter(entry.Caller))
		} else {
			fmt.Fprintf(b, "(%s:%d)", filepath.Base(entry.Caller.File), entry.Caller.Line)
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *Formatter) showLevel(level logrus.Level) bool {
	switch f.DisplayLevelName {
	case ShowAll:
		return true
	case ShowAboveWarn:
		return level <= logrus.WarnLevel
	case ShowAboveError:
		return level <= logrus.ErrorLevel
	default:
		return false
	}
}

func (f *Formatter) writeFields(b *bytes.Buffer, entry *logrus.Entry, separator string) {
	keys := make([]string, 0, len(entry.Data))
	seen := make(map[string]bool, len(f.FieldsDisplayWithOrder))
	for _, key := range f.FieldsDisplayWithOrder {
		if _, ok := entry.Data[key]; ok && !seen[key] {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	rest := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	for i, key := range keys {
		if i > 0 {
			b.WriteString(separator)
		}
		valStr := fmt.Sprintf("%v", entry.Data[key])
		if f.MaxFieldValueLength > 0 && len(valStr) > f.MaxFieldValueLength {
			valStr = valStr[:f.MaxFieldValueLength] + "..."
		}
		if f.HideKeys {
			b.WriteString(valStr)
		} else {
			fmt.Fprintf(b, "%s:%s", key, valStr)
		}
	}
}

func colorByLevel(au aurora.Aurora, level logrus.Level, s string) aurora.Value {
	switch level {
	case logrus.TraceLevel:
		return au.Gray(12, s)
	case logrus.DebugLevel:
		return au.Cyan(s)
	case logrus.WarnLevel:
		return au.Yellow(s)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return au.Red(s)
	default:
		return au.White(s)
	}
}
