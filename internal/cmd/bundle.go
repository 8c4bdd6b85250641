package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgepack/bundler"
)

var (
	bundleNodeModulesMode string
	bundleNoMinify        bool
	bundleTestPackages    bool
	bundleRelease         string
)

// bundleCmd represents the bundle command.
var bundleCmd = &cobra.Command{
	Use:   "bundle <app-dir> <output-dir>",
	Short: "Bundle an application into output-dir",
	Long: `Resolve app-dir's package dependency graph, process its source files, and
write a deployable bundle to output-dir.

Examples:
  forgepack bundle ./myapp ./dist
  forgepack bundle ./myapp ./dist --no-minify --test-packages`,
	Args: cobra.ExactArgs(2),
	RunE: runBundle,
}

func init() {
	bundleCmd.Flags().StringVar(&bundleNodeModulesMode, "node-modules", "", "node_modules handling: skip, symlink, or copy (default from config)")
	bundleCmd.Flags().BoolVar(&bundleNoMinify, "no-minify", false, "skip minification")
	bundleCmd.Flags().BoolVar(&bundleTestPackages, "test-packages", false, "also resolve every package's on_test handler")
	bundleCmd.Flags().StringVar(&bundleRelease, "release", "", "release manifest version to resolve uncached packages against")
}

func runBundle(cmd *cobra.Command, args []string) error {
	appDir, outputDir := args[0], args[1]

	messages := bundler.Bundle(cmd.Context(), appDir, outputDir, bundler.Options{
		ConfigPath:      cfgFile,
		NodeModulesMode: bundleNodeModulesMode,
		NoMinify:        bundleNoMinify,
		TestPackages:    bundleTestPackages,
		ReleaseVersion:  bundleRelease,
		Logger:          slog.Default(),
	})

	if len(messages) > 0 {
		return fmt.Errorf("bundling reported %d issue(s):\n%s", len(messages), strings.Join(messages, "\n"))
	}
	return nil
}
