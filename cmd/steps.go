package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmsuite/step"
)

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <config>...",
		Short: "List the steps of each suite in run order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := loadConfigs(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, cfg := range configs {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s (type %s, host %s)\n", cfg.Name(), cfg.Type(), cfg.Host().ID())
				printSteps(out, step.Descriptors(step.PhasePre, cfg.PreSuite()))
				printSteps(out, step.Descriptors(step.PhaseTest, cfg.Tests()))
				printSteps(out, step.Descriptors(step.PhasePost, cfg.PostSuite()))
			}
			return nil
		},
	}
}

func printSteps(out io.Writer, descriptors []step.Descriptor) {
	for _, d := range descriptors {
		fmt.Fprintf(out, "  %-10s %3d  %s\n", d.Phase(), d.Index(), d.Reference())
	}
}
