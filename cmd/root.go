package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/logger"
)

type globalOptions struct {
	logLevel string
	logDir   string
	noColor  bool
}

// NewRootCmd builds the xmsuite command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   common.AppName,
		Short: "Run acceptance suites with guaranteed setup and teardown",
		Long: `xmsuite runs the pre_suite steps of an acceptance suite in order, stopping at
the first failure, then the suite body, then every post_suite step whatever
happened before, and reports the outcome of each.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogger(cmd)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&opts.logLevel, "log-level", "", "log level: quiet, normal, verbose or a logrus level (default: the suite's log_level)")
	persistent.StringVar(&opts.logDir, "log-dir", "", "also write logs to rotated files in this directory")
	persistent.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newStepsCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

func (o *globalOptions) initLogger(cmd *cobra.Command) error {
	level := logrus.InfoLevel
	if o.logLevel != "" {
		l, err := logger.ParseLevel(o.logLevel)
		if err != nil {
			return err
		}
		level = l
	}
	if o.logDir != "" {
		if err := logger.InitGlobalLogger(o.logDir, level); err != nil {
			return fmt.Errorf("failed to initialize logging in %s: %w", o.logDir, err)
		}
	} else {
		logger.Log.SetLevel(level)
	}
	logger.Log.SetOutput(cmd.ErrOrStderr())
	return nil
}

// applyLevel sets the level from a suite's log_level unless --log-level was given.
func (o *globalOptions) applyLevel(suiteLevel string) {
	if o.logLevel != "" {
		return
	}
	if level, err := logger.ParseLevel(suiteLevel); err == nil {
		logger.Log.SetLevel(level)
	}
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
