// Package cli implements the yfass executable's command surface: flag
// parsing and process wiring over the platform packages, in the
// teacher's cobra-root-command style (internal/cli.NewRoot).
package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot builds the yfass root command. Unlike the teacher's
// multi-subcommand client CLI, yfass has a single mode of operation (run
// the combined management+proxy server), so the flags of §6 live
// directly on the root command rather than behind a "server" verb.
func NewRoot(version string) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:           "yfass",
		Short:         "yfass: function-as-a-service platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("yfass {{.Version}}\n")

	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "bind address for the combined management and proxy HTTP server")
	cmd.Flags().StringVar(&opts.root, "root", "./data", "filesystem root for function/user persistence")
	cmd.Flags().StringVar(&opts.hostname, "hostname", "", "base hostname functions are routed under, e.g. example.com (required)")
	cmd.Flags().StringVar(&opts.bwrapPath, "bwrap-path", "", "path to the bwrap binary (default: look up \"bwrap\" on $PATH)")
	cmd.Flags().IntVar(&opts.tokenTTLDays, "token-ttl-days", 0, "default token lifetime in days when not specified at issuance (default: 10)")
	cmd.Flags().StringVar(&opts.seedUsers, "seed-users", "", "optional YAML file of bootstrap admin users")

	return cmd
}
