package runner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/logger"
	"github.com/mensylisir/xmsuite/step"
)

// DefaultInterpreters maps script extensions to the program that runs them.
var DefaultInterpreters = map[string]string{
	".rb": "ruby",
	".sh": "bash",
	".py": "python3",
	".pl": "perl",
}

type Options struct {
	// Timeout bounds one step. Zero means common.DefaultStepTimeout.
	Timeout time.Duration
	// Interpreters overrides or extends DefaultInterpreters.
	Interpreters map[string]string
	// TailLines is how many trailing output lines a failure detail keeps.
	TailLines int
	// Sudo runs every step through sudo -E.
	Sudo bool
	// Now is used for durations; tests may replace it.
	Now func() time.Time
}

type stepRunner struct {
	timeout      time.Duration
	interpreters map[string]string
	tailLines    int
	sudo         bool
	now          func() time.Time
}

// NewStepRunner creates a StepRunner that stages local scripts to the target
// and runs them through the environment's connection.
func NewStepRunner(opts Options) StepRunner {
	r := &stepRunner{
		timeout:      opts.Timeout,
		interpreters: make(map[string]string, len(DefaultInterpreters)+len(opts.Interpreters)),
		tailLines:    opts.TailLines,
		sudo:         opts.Sudo,
		now:          opts.Now,
	}
	if r.timeout <= 0 {
		r.timeout = common.DefaultStepTimeout
	}
	if r.tailLines <= 0 {
		r.tailLines = common.DefaultTailLines
	}
	if r.now == nil {
		r.now = time.Now
	}
	for ext, interp := range DefaultInterpreters {
		r.interpreters[ext] = interp
	}
	for ext, interp := range opts.Interpreters {
		r.interpreters[strings.ToLower(ext)] = interp
	}
	return r
}

// limit is the step timeout, shortened to any deadline already on ctx.
func (r *stepRunner) limit(ctx context.Context) time.Duration {
	limit := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < limit {
			limit = remaining
		}
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

func (r *stepRunner) Run(ctx context.Context, d step.Descriptor, env Environment) (step.Outcome, error) {
	start := r.now()
	limit := r.limit(ctx)

	// Cancelling the run must not kill a step halfway; only the timeout does.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), limit)
	defer cancel()

	conn, err := env.Connection(stepCtx)
	if err != nil {
		if !connector.IsUnreachable(err) && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return timedOut(d, limit), nil
		}
		return step.Outcome{}, step.NewEnvironmentError(d, err)
	}

	target, err := r.stage(stepCtx, conn, d, env.WorkDir())
	if err != nil {
		switch {
		case connector.IsUnreachable(err):
			env.Discard()
			return step.Outcome{}, step.NewEnvironmentError(d, err)
		case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
			return timedOut(d, limit), nil
		default:
			logger.Log.ErrorfStep(d.Name(), err, "Could not stage %s", d.Reference())
			return step.Failed(d, step.KindStepFailure, r.now().Sub(start), err.Error()), nil
		}
	}

	cmd := r.command(d, env, target)
	logger.Log.DebugfStep(d.Name(), "exec: %s", cmd)

	stdout, stderr, exitCode, err := conn.Exec(stepCtx, cmd)
	elapsed := r.now().Sub(start)
	logger.Log.DebugfStep(d.Name(), "exit status %d after %s, %s stdout, %s stderr",
		exitCode, elapsed.Round(time.Millisecond), humanize.Bytes(uint64(len(stdout))), humanize.Bytes(uint64(len(stderr))))

	if err != nil {
		switch {
		case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
			return timedOut(d, limit), nil
		case connector.IsUnreachable(err):
			env.Discard()
			return step.Outcome{}, step.NewEnvironmentError(d, err)
		default:
			return step.Failed(d, step.KindStepFailure, elapsed, err.Error()), nil
		}
	}

	if exitCode == 0 {
		return step.Succeeded(d, elapsed, string(stdout)), nil
	}
	return step.Failed(d, step.KindStepFailure, elapsed, r.failureDetail(exitCode, stdout, stderr)), nil
}

func timedOut(d step.Descriptor, limit time.Duration) step.Outcome {
	logger.Log.WarnfStep(d.Name(), "Step %s exceeded its time limit of %s", d.Reference(), limit)
	return step.TimedOut(d, limit)
}

// stage uploads a local script into the work dir and returns the path to run.
// References that are not local files are run as given, relative to the work dir.
func (r *stepRunner) stage(ctx context.Context, conn connector.Connection, d step.Descriptor, workDir string) (string, error) {
	ref := d.Reference()
	info, err := os.Stat(ref)
	if err != nil || !info.Mode().IsRegular() {
		return filepath.ToSlash(ref), nil
	}
	remote := StagedPath(workDir, d)
	if err := conn.Upload(ctx, ref, remote, common.FileMode0755); err != nil {
		return "", errors.Wrapf(err, "failed to stage %s", ref)
	}
	return remote, nil
}

// StagedPath is where a local step script is copied to on the target:
// <workDir>/<phase>/<index>_<base name>.
func StagedPath(workDir string, d step.Descriptor) string {
	base := path.Base(filepath.ToSlash(d.Reference()))
	return path.Join(filepath.ToSlash(workDir), d.Phase().String(), fmt.Sprintf("%d_%s", d.Index(), base))
}

func (r *stepRunner) interpreter(target string) string {
	return r.interpreters[strings.ToLower(path.Ext(target))]
}

func (r *stepRunner) command(d step.Descriptor, env Environment, target string) string {
	vars := env.Env()
	vars[common.EnvPhase] = d.Phase().String()
	vars[common.EnvStep] = d.Reference()
	vars[common.EnvStepIndex] = strconv.Itoa(d.Index())

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	workDir := connector.EscapeShellArg(env.WorkDir())
	fmt.Fprintf(&b, "mkdir -p %s && cd %s && ", workDir, workDir)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s ", k, connector.EscapeShellArg(vars[k]))
	}
	if interp := r.interpreter(target); interp != "" {
		b.WriteString(interp)
		b.WriteString(" ")
	}
	b.WriteString(connector.EscapeShellArg(target))

	cmd := b.String()
	if r.sudo {
		return SudoPrefix(cmd)
	}
	return cmd
}

// SudoPrefix wraps cmd so it runs as root with the caller's environment.
func SudoPrefix(cmd string) string {
	return "sudo -E /bin/bash -c " + connector.EscapeShellArg(cmd)
}

func (r *stepRunner) failureDetail(exitCode int, stdout, stderr []byte) string {
	detail := fmt.Sprintf("exit status %d", exitCode)
	output := stderr
	if len(strings.TrimSpace(string(output))) == 0 {
		output = stdout
	}
	if tail := Tail(string(output), r.tailLines); tail != "" {
		detail += ": " + tail
	}
	return detail
}

// Tail returns the last n non-empty lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
