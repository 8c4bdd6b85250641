package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/forgepack/bundler/internal/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	realStdout *os.File // Stdout, captured in PersistentPreRun.
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "forgepack",
	Short: "Bundle a Meteor-style application into a deployable tree",
	Long: `forgepack resolves an app's package dependency graph, classifies and
processes its source files per environment, and emits a deterministic,
content-addressed bundle ready to run or deploy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		realStdout = os.Stdout

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		handler := log.NewHandler(realStdout, level)
		slog.SetDefault(slog.New(handler))

		cmd.SetOut(realStdout)
		cmd.SetErr(realStdout)
	},
}

// ExecuteContext runs the root command with context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/forgepack/config.yaml or /etc/forgepack/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}
