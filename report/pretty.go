package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/step"
)

// Renderer writes a SuiteReport in some format.
type Renderer interface {
	Render(w io.Writer, r *SuiteReport) error
}

// PrettyPrinter renders reports for a terminal. It also implements
// phase.Observer to print steps as they start and finish.
type PrettyPrinter struct {
	mu      *sync.Mutex
	out     io.Writer
	aurora  aurora.Aurora
	verbose bool
	prefix  string
}

// NewPrettyPrinter returns a printer writing progress to out. Colours are
// used when colors is true.
func NewPrettyPrinter(out io.Writer, colors bool, verbose bool) *PrettyPrinter {
	return &PrettyPrinter{mu: &sync.Mutex{}, out: out, aurora: aurora.NewAurora(colors), verbose: verbose}
}

// WithPrefix returns a printer sharing out, tagging progress lines with prefix.
// Used to tell concurrent suites apart.
func (p *PrettyPrinter) WithPrefix(prefix string) *PrettyPrinter {
	return &PrettyPrinter{mu: p.mu, out: p.out, aurora: p.aurora, verbose: p.verbose, prefix: prefix}
}

func (p *PrettyPrinter) tag(s step.Status) aurora.Value {
	switch s {
	case step.StatusSuccess:
		return p.aurora.BgGreen(" OK ").White()
	case step.StatusFailure:
		return p.aurora.BgRed("FAIL").White()
	default:
		return p.aurora.BgYellow("SKIP").Black()
	}
}

func (p *PrettyPrinter) status(s step.Status) aurora.Value {
	switch s {
	case step.StatusSuccess:
		return p.aurora.Green(s.String()).Bold()
	case step.StatusFailure:
		return p.aurora.Red(s.String()).Bold()
	default:
		return p.aurora.Yellow(s.String()).Bold()
	}
}

func (p *PrettyPrinter) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prefix != "" {
		fmt.Fprintf(p.out, "%s ", p.aurora.Faint("["+p.prefix+"]"))
	}
	fmt.Fprintf(p.out, format, args...)
}

func (p *PrettyPrinter) StepStarted(d step.Descriptor) {
	p.printf("%s %s[%d] %s\n", p.aurora.BgBrightCyan("RUN ").Black(), d.Phase(), d.Index(), d.Reference())
}

func (p *PrettyPrinter) StepFinished(o step.Outcome) {
	d := o.Descriptor()
	line := fmt.Sprintf("%s %s[%d] %s", p.tag(o.Status()), d.Phase(), d.Index(), d.Reference())
	if o.Status() != step.StatusSkipped {
		line += fmt.Sprintf(" (%s)", o.Duration().Round(time.Millisecond))
	}
	if p.verbose && o.Output() != "" {
		line += fmt.Sprintf(" [%s output]", humanize.Bytes(uint64(len(o.Output()))))
	}
	if o.Detail() != "" {
		line += ": " + firstLine(o.Detail())
	}
	p.printf("%s\n", line)
}

// Render writes the summary of r.
func (p *PrettyPrinter) Render(w io.Writer, r *SuiteReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\nSuite %s (type %s, run %s", r.Name(), r.SuiteType(), r.RunID())
	if r.Host() != "" {
		fmt.Fprintf(&b, ", host %s", r.Host())
	}
	fmt.Fprintf(&b, "): %s in %s\n", p.status(r.Status()), r.Duration().Round(time.Millisecond))

	p.renderPhase(&b, r.Pre())
	fmt.Fprintf(&b, "  %-11s %s", BodyPhaseName, p.status(r.Body().Status()))
	if r.Body().Ran() {
		fmt.Fprintf(&b, " (%s)", r.Body().Duration().Round(time.Millisecond))
	}
	if d := r.Body().Detail(); d != "" {
		fmt.Fprintf(&b, ": %s", firstLine(d))
	}
	b.WriteString("\n")
	p.renderPhase(&b, r.Post())

	if failed := r.FailedPhases(); len(failed) > 0 {
		fmt.Fprintf(&b, "Failed: %s\n", strings.Join(failed, ", "))
		for _, f := range r.Failures() {
			if f.Status == step.StatusSkipped {
				continue
			}
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (p *PrettyPrinter) renderPhase(b *strings.Builder, res *phase.Result) {
	fmt.Fprintf(b, "  %-11s %s (%d ok, %d failed, %d skipped)\n",
		res.Phase(), p.status(res.Status()),
		res.Count(step.StatusSuccess), res.Count(step.StatusFailure), res.Count(step.StatusSkipped))
	for _, o := range res.Outcomes() {
		fmt.Fprintf(b, "    %s %2d %s", p.tag(o.Status()), o.Descriptor().Index(), o.Descriptor().Name())
		if o.Detail() != "" {
			fmt.Fprintf(b, ": %s", firstLine(o.Detail()))
		}
		b.WriteString("\n")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
