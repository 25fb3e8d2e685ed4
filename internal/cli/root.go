package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion sets the version displayed by --version.
func SetVersion(v string) {
	version = v
}

// NewRootCommand builds the arborbench command tree.
func NewRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "arborbench",
		Short:        "arborbench drives a grouped arbor scene and reports propagation cost",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(withLogger(ctx, newLogger(cmd.ErrOrStderr(), level)))
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("arborbench %s\n", version))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging and scene debug mode")

	root.AddCommand(newRunCmd(&verbose))
	root.AddCommand(newConfigCmd())
	return root
}

// Execute runs the CLI with ctx.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	return root.ExecuteContext(ctx)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return DefaultConfig().WriteTOML(cmd.OutOrStdout())
		},
	}
}
