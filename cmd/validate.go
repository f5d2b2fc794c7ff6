package cmd

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmsuite/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>...",
		Short: "Check configuration files without running anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *multierror.Error
			for _, path := range args {
				cfg, err := config.Load(path)
				if err != nil {
					result = multierror.Append(result, err)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n", path)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (type %s, %d pre_suite, %d tests, %d post_suite, %d service(s))\n",
					path, cfg.Type(), len(cfg.PreSuite()), len(cfg.Tests()), len(cfg.PostSuite()), len(cfg.ServiceKeys()))
			}
			return result.ErrorOrNil()
		},
	}
}
