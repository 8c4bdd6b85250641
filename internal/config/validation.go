package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validation errors.
var (
	ErrOriginBaseURLEmpty    = errors.New("origin.base_url is required")
	ErrOriginBaseURLScheme   = errors.New("origin.base_url must use http or https")
	ErrNodeModulesModeInvalid = errors.New("build.node_modules_mode must be one of: skip, symlink, copy")
)

var validNodeModulesModes = map[string]bool{
	"skip":    true,
	"symlink": true,
	"copy":    true,
}

// validate checks invariants that defaults() cannot fix by itself.
func validate(cfg *Config) error {
	if cfg.Origin.BaseURL == "" {
		return ErrOriginBaseURLEmpty
	}
	u, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid origin.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: got %q", ErrOriginBaseURLScheme, u.Scheme)
	}

	if !validNodeModulesModes[cfg.Build.NodeModulesMode] {
		return fmt.Errorf("%w: got %q", ErrNodeModulesModeInvalid, cfg.Build.NodeModulesMode)
	}

	return nil
}
