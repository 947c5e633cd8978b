package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/wheelhouse/pkg/buildinfo"
)

// Execute runs the wheelhouse CLI and returns an error if any command
// fails. This is the main entry point for the CLI application.
//
// The function sets up the root command with all subcommands (resolve,
// graph, cache, serve, completion), configures logging based on the
// --verbose flag, and executes the command tree.
//
// Logging:
//   - Default: info level (logs to stderr)
//   - With --verbose (-v): debug level
//
// The logger is attached to the context and accessible to all commands
// via loggerFromContext.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext is [Execute] bound to a caller-supplied context, so
// signal handling in main can cancel in-flight resolutions.
func ExecuteContext(ctx context.Context) error {
	var verbose bool

	root := &cobra.Command{
		Use:          "wheelhouse",
		Short:        "Wheelhouse resolves Python package dependencies without installing them",
		Long:         `Wheelhouse computes the transitive dependency closure of Python package requirements against PyPI-style indexes, for any target Python version and operating system, without building or running any package.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := withLogger(cmd.Context(), newLogger(os.Stderr, level))
			cmd.SetContext(ctx)
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("wheelhouse %s\ncommit: %s\nbuilt: %s\n",
		buildinfo.Version, buildinfo.Commit, buildinfo.Date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newResolveCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCompletionCmd())

	return root.ExecuteContext(ctx)
}
