package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgepack/bundler/internal/config"
	"github.com/forgepack/bundler/internal/registry"
)

// cacheCmd represents the cache command.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local package cache",
}

// cachePopulateCmd downloads and extracts every package in a release.
var cachePopulateCmd = &cobra.Command{
	Use:   "populate <release>",
	Short: "Download and extract every package in a release's manifest",
	Long: `Fetch the release manifest for the given version and download and extract
every package it names into the local cache, for offline bundling.

Examples:
  forgepack cache populate v2024.1`,
	Args: cobra.ExactArgs(1),
	RunE: runCachePopulate,
}

// cacheListCmd lists the packages present in the on-disk cache.
var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages present in the local cache",
	RunE:  runCacheList,
}

func init() {
	cacheCmd.AddCommand(cachePopulateCmd)
	cacheCmd.AddCommand(cacheListCmd)
}

func runCachePopulate(cmd *cobra.Command, args []string) error {
	version := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	reg := registry.New(cfg, version, nil)
	defer reg.Close()

	return reg.PopulateCache(cmd.Context(), version)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	reg := registry.New(cfg, "", nil)
	defer reg.Close()

	cached, err := reg.ListCached()
	if err != nil {
		return err
	}
	for _, name := range cached {
		fmt.Fprintln(realStdout, name)
	}
	return nil
}
