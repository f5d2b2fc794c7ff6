package cmd

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mensylisir/xmsuite/config"
	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/logger"
	"github.com/mensylisir/xmsuite/phase"
	"github.com/mensylisir/xmsuite/pipeline"
	"github.com/mensylisir/xmsuite/report"
	"github.com/mensylisir/xmsuite/runner"
	"github.com/mensylisir/xmsuite/runtime"
)

const (
	formatPretty = "pretty"
	formatJSON   = "json"

	envPrefix = "XMSUITE"
)

// ErrSuitesFailed is returned by run when at least one suite did not succeed.
var ErrSuitesFailed = errors.New("suite run failed")

type runOptions struct {
	host            string
	user            string
	port            int
	password        string
	keyPath         string
	agentSocket     string
	bastion         string
	bastionPort     int
	bastionUser     string
	sudo            bool
	workDir         string
	stepTimeout     time.Duration
	teardownTimeout time.Duration
	format          string
	reportDir       string
	archive         bool
	parallel        int
}

func newRunCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>...",
		Short: "Run one or more suites",
		Long: `Run the suites described by the given configuration files.

Suites share one logger: without --log-level, the log_level of the first
configuration applies to the whole run.

Every flag can also be set through the environment as XMSUITE_<FLAG>, with
dashes turned into underscores (XMSUITE_PASSWORD, XMSUITE_STEP_TIMEOUT).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadRunOptions(cmd)
			if err != nil {
				return err
			}
			return runSuites(cmd, global, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "run every suite against this host instead of the configured one")
	flags.String("user", "", "SSH user for --host")
	flags.Int("port", 0, "SSH port for --host (default 22)")
	flags.String("password", "", "SSH password for --host")
	flags.String("key", "", "path to the SSH private key for --host")
	flags.String("agent-socket", "", "SSH agent socket for --host, or env:NAME to read it from $NAME")
	flags.String("bastion", "", "reach --host through this jump host")
	flags.Int("bastion-port", 0, "SSH port of --bastion (default 22)")
	flags.String("bastion-user", "", "SSH user on --bastion (default: --user)")
	flags.Bool("sudo", false, "run every step through sudo -E")
	flags.String("work-dir", "", "working directory on the target (overrides work_dir)")
	flags.Duration("step-timeout", 0, "time limit for a single step (overrides step_timeout)")
	flags.Duration("teardown-timeout", 0, "time left for post_suite after cancellation (overrides teardown_timeout)")
	flags.String("format", formatPretty, "report format (pretty|json)")
	flags.String("report-dir", "", "write report.json for every run under this directory")
	flags.Bool("archive", false, "bundle each run's report directory into a .tar.gz (needs --report-dir)")
	flags.Int("parallel", 1, "how many suites run at once (0 for no limit)")
	return cmd
}

func loadRunOptions(cmd *cobra.Command) (runOptions, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return runOptions{}, errors.Wrap(err, "failed to bind flags")
	}

	opts := runOptions{
		host:            v.GetString("host"),
		user:            v.GetString("user"),
		port:            v.GetInt("port"),
		password:        v.GetString("password"),
		keyPath:         v.GetString("key"),
		agentSocket:     v.GetString("agent-socket"),
		bastion:         v.GetString("bastion"),
		bastionPort:     v.GetInt("bastion-port"),
		bastionUser:     v.GetString("bastion-user"),
		sudo:            v.GetBool("sudo"),
		workDir:         v.GetString("work-dir"),
		stepTimeout:     v.GetDuration("step-timeout"),
		teardownTimeout: v.GetDuration("teardown-timeout"),
		format:          strings.ToLower(v.GetString("format")),
		reportDir:       v.GetString("report-dir"),
		archive:         v.GetBool("archive"),
		parallel:        v.GetInt("parallel"),
	}
	switch opts.format {
	case formatPretty, formatJSON:
	default:
		return opts, errors.Errorf("unsupported format %q (want pretty or json)", opts.format)
	}
	if opts.archive && opts.reportDir == "" {
		return opts, errors.New("--archive needs --report-dir")
	}
	if opts.stepTimeout < 0 || opts.teardownTimeout < 0 {
		return opts, errors.New("timeouts cannot be negative")
	}
	return opts, nil
}

// targetHost is the host given on the command line, or nil to use each
// suite's configured host.
func (o runOptions) targetHost() (*connector.Host, error) {
	if o.host == "" {
		return nil, nil
	}
	h := connector.Host{
		Address:        o.host,
		Port:           o.port,
		User:           o.user,
		Password:       o.password,
		PrivateKeyPath: o.keyPath,
		AgentSocket:    o.agentSocket,
		Bastion:        o.bastion,
		BastionPort:    o.bastionPort,
		BastionUser:    o.bastionUser,
	}
	host := h.WithDefaults()
	if err := host.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid --host")
	}
	return host, nil
}

func loadConfigs(paths []string) ([]*config.Configuration, error) {
	configs := make([]*config.Configuration, 0, len(paths))
	for _, p := range paths {
		cfg, err := config.Load(p)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func runSuites(cmd *cobra.Command, global *globalOptions, opts runOptions, paths []string) error {
	configs, err := loadConfigs(paths)
	if err != nil {
		return err
	}
	host, err := opts.targetHost()
	if err != nil {
		return err
	}
	// One logger serves every suite; the first configuration decides its level.
	global.applyLevel(configs[0].LogLevel())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	progress := out
	if opts.format == formatJSON {
		progress = cmd.ErrOrStderr()
	}
	verbose := global.logLevel == logger.VerbosityVerbose ||
		(global.logLevel == "" && configs[0].LogLevel() == logger.VerbosityVerbose)
	printer := report.NewPrettyPrinter(progress, !global.noColor, verbose)

	suites := make([]pipeline.Suite, 0, len(configs))
	for _, c := range configs {
		cfg, err := c.WithTimeouts(opts.stepTimeout, opts.teardownTimeout)
		if err != nil {
			return err
		}
		cfg = cfg.WithWorkDir(opts.workDir)

		env := runtime.FromConfiguration(cfg, host, nil)
		defer env.Close()

		obs := printer
		if len(configs) > 1 {
			obs = printer.WithPrefix(cfg.Name())
		}
		r := runner.NewStepRunner(runner.Options{Timeout: cfg.StepTimeout(), Sudo: opts.sudo})
		suites = append(suites, pipeline.Suite{
			Config: cfg,
			Env:    env,
			Body:   pipeline.NewScriptBody(cfg.Tests(), r, phase.WithObserver(obs)),
			Orchestrator: pipeline.NewOrchestrator(
				pipeline.WithRunner(r),
				pipeline.WithObserver(obs),
			),
		})
	}

	reports := pipeline.RunAll(ctx, suites, opts.parallel)

	if err := render(out, printer, opts.format, reports); err != nil {
		return err
	}
	if opts.reportDir != "" {
		if err := saveReports(opts.reportDir, opts.archive, reports); err != nil {
			return err
		}
	}

	failed := 0
	for _, rep := range reports {
		if !rep.Success() {
			failed++
		}
	}
	if failed > 0 {
		return errors.Wrapf(ErrSuitesFailed, "%d of %d suite(s) failed", failed, len(reports))
	}
	return nil
}

func render(w io.Writer, printer *report.PrettyPrinter, format string, reports []*report.SuiteReport) error {
	if format == formatJSON {
		if len(reports) == 1 {
			return report.JSONRenderer{Indent: true}.Render(w, reports[0])
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, rep := range reports {
		if err := printer.Render(w, rep); err != nil {
			return err
		}
	}
	return nil
}

func saveReports(dir string, archive bool, reports []*report.SuiteReport) error {
	for _, rep := range reports {
		runDir := filepath.Join(dir, rep.Name(), rep.RunID())
		path, err := report.WriteFile(runDir, rep)
		if err != nil {
			return err
		}
		logger.Log.Infof("Report written to %s", path)
		if archive {
			dest := runDir + ".tar.gz"
			if err := report.Archive(runDir, dest); err != nil {
				return err
			}
			logger.Log.Infof("Report archived to %s", dest)
		}
	}
	return nil
}
