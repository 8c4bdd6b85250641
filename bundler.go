// Package bundler implements a Meteor-style application bundler: it
// resolves an app's package dependency graph, classifies and processes
// source files per environment, and emits a deterministic, content-
// addressed bundle to an output directory (spec §1).
package bundler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forgepack/bundler/internal/common"
	"github.com/forgepack/bundler/internal/config"
	"github.com/forgepack/bundler/internal/engine"
	"github.com/forgepack/bundler/internal/extension"
	"github.com/forgepack/bundler/internal/project"
	"github.com/forgepack/bundler/internal/registry"
)

// Options configures a single Bundle call, overriding the loaded config's
// build defaults where set.
type Options struct {
	ConfigPath        string   // Explicit config file path; empty searches the standard locations.
	NodeModulesMode   string   // "skip" | "symlink" | "copy"; empty keeps the config default.
	NoMinify          bool     // Skip minification even if the config would otherwise run it.
	TestPackages      bool     // Also run every resolved package's on_test handler.
	ReleaseVersion    string   // Overrides the config's pinned release manifest version.
	FrameworkPackages []string // Packages every app implicitly uses (spec §4.2).
	Logger            *slog.Logger
}

// Bundle resolves appDir's package graph and writes the result to
// outputDir. It never panics out to the caller: any fatal error or
// recovered panic becomes the sole entry of the returned slice (spec §7 —
// this function is the one panic/fatal-to-result conversion boundary). A
// non-fatal run that still produced soft, handler-reported errors (spec
// §7) returns those alongside a successfully written bundle; an empty
// slice means a clean build with no warnings.
func Bundle(ctx context.Context, appDir, outputDir string, opts Options) (messages []string) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			messages = []string{fmt.Sprintf("panic during bundling: %v", r)}
		}
	}()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return []string{fmt.Sprintf("loading configuration: %v", err)}
	}

	releaseVersion := cfg.Build.ReleaseVersion
	if opts.ReleaseVersion != "" {
		releaseVersion = opts.ReleaseVersion
	}

	noMinify := cfg.Build.NoMinify || opts.NoMinify
	testPackages := cfg.Build.TestPackages || opts.TestPackages

	nodeModulesMode := cfg.Build.NodeModulesMode
	if opts.NodeModulesMode != "" {
		nodeModulesMode = opts.NodeModulesMode
	}

	reg := registry.New(cfg, releaseVersion, extension.Builtins)
	defer reg.Close()

	if !project.IsAppDirectory(appDir) {
		return []string{fmt.Sprintf("%s is not an app directory (missing %s)", appDir, project.MeteorPackagesFile)}
	}

	app, err := project.NewApp(appDir, opts.FrameworkPackages)
	if err != nil {
		return []string{fmt.Sprintf("loading app: %v", err)}
	}

	b := engine.New(ctx, reg, logger)

	where := []project.Environment{project.EnvClient, project.EnvServer}
	if err := b.Use(app, where); err != nil {
		return []string{fmt.Sprintf("resolving package graph: %v", err)}
	}

	if testPackages {
		for _, pkg := range b.Packages() {
			if err := b.IncludeTests(pkg, []project.Environment{project.EnvTests}); err != nil {
				return []string{fmt.Sprintf("resolving tests: %v", err)}
			}
		}
	}

	emitOpts := engine.EmitOptions{NoMinify: noMinify, PublicDir: filepath.Join(appDir, "public")}
	if err := b.Emit(outputDir, emitOpts); err != nil {
		return []string{fmt.Sprintf("writing bundle: %v", err)}
	}

	if err := placeNodeModules(appDir, filepath.Join(outputDir, "server"), nodeModulesMode); err != nil {
		return []string{fmt.Sprintf("placing node_modules: %v", err)}
	}

	logger.Info("bundle written", "app", appDir, "output", outputDir)

	return b.Errors()
}

// placeNodeModules makes the app's npm dependencies available to the
// server bundle, per mode: "skip" does nothing, "symlink" links the
// server directory's node_modules to the app's, "copy" duplicates it.
// Absent in the app directory, node_modules handling is always a no-op.
func placeNodeModules(appDir, serverDir, mode string) error {
	src := filepath.Join(appDir, "node_modules")
	if _, err := os.Stat(src); err != nil {
		return nil
	}

	switch mode {
	case "", "skip":
		return nil
	case "symlink":
		if err := common.MkdirAll(serverDir); err != nil {
			return err
		}
		dst := filepath.Join(serverDir, "node_modules")
		_ = os.Remove(dst)
		return os.Symlink(src, dst)
	case "copy":
		return common.CopyTree(src, filepath.Join(serverDir, "node_modules"), nil)
	default:
		return fmt.Errorf("unknown node_modules mode %q", mode)
	}
}
