// Package config loads and validates the bundler's on-disk configuration
// (package-set locations, local cache, remote origin, HTTP tuning, worker
// pool sizes, and default build options).
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config is the complete bundler configuration, loaded from a YAML file
// (forgepack/config.yaml in the standard search locations).
type Config struct {
	Directories DirectoriesConfig `yaml:"directories"`
	Origin      OriginConfig      `yaml:"origin"`
	HTTP        HTTPConfig        `yaml:"http,omitempty"`
	Workers     WorkersConfig     `yaml:"workers"`
	Build       BuildDefaults     `yaml:"build,omitempty"`
	ConfigDir   string            `yaml:"-"` // Directory containing the loaded config file, set during Load.
}

// DirectoriesConfig defines where the registry looks for and caches
// packages.
type DirectoriesConfig struct {
	PackageSets []string `yaml:"package_sets,omitempty"` // Directories whose immediate subdirectories are local packages.
	Cache       string   `yaml:"cache"`                  // Local package/manifest cache root.
}

// GetCachePath returns the absolute path to the package cache root.
func (d *DirectoriesConfig) GetCachePath(configDir string) string {
	if filepath.IsAbs(d.Cache) {
		return d.Cache
	}
	return filepath.Join(configDir, d.Cache)
}

// OriginConfig describes the remote origin packages and release manifests
// are fetched from (§6).
type OriginConfig struct {
	BaseURL string `yaml:"base_url"`
}

// HTTPConfig tunes the HTTP client used for manifest/package fetches.
type HTTPConfig struct {
	UserAgent       string `yaml:"user_agent,omitempty"`
	Timeout         int    `yaml:"timeout"` // Seconds.
	MaxIdleConns    int    `yaml:"max_idle_conns,omitempty"`
	MaxConnsPerHost int    `yaml:"max_conns_per_host,omitempty"`
}

// WorkersConfig sizes the bounded worker pool used for parallel package
// fetches.
type WorkersConfig struct {
	Fetch uint `yaml:"fetch"`
}

// BuildDefaults holds default values for the opts accepted by Bundle (§6),
// overridable per-invocation (e.g. by CLI flags).
type BuildDefaults struct {
	NodeModulesMode string `yaml:"node_modules_mode"` // "skip" | "symlink" | "copy"
	NoMinify        bool   `yaml:"no_minify,omitempty"`
	TestPackages    bool   `yaml:"test_packages,omitempty"`
	ReleaseVersion  string `yaml:"release_version,omitempty"`
}

// defaults fills in zero-valued fields with the bundler's defaults.
func (c *Config) defaults() {
	if c.Directories.Cache == "" {
		c.Directories.Cache = "cache"
	}

	if c.Workers.Fetch == 0 {
		c.Workers.Fetch = uint(runtime.NumCPU() * 4)
	}
	if c.Workers.Fetch < 4 {
		c.Workers.Fetch = 4
	}

	if c.Build.NodeModulesMode == "" {
		c.Build.NodeModulesMode = "symlink"
	}

	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "forgepack-bundler"
	}
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
