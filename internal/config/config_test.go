package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
origin:
  base_url: https://packages.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cache", cfg.Directories.Cache)
	assert.Equal(t, "symlink", cfg.Build.NodeModulesMode)
	assert.GreaterOrEqual(t, cfg.Workers.Fetch, uint(4))
	assert.Equal(t, "forgepack-bundler", cfg.HTTP.UserAgent)
	assert.Equal(t, dir, cfg.ConfigDir)
}

func TestLoad_RejectsMissingOrigin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "directories:\n  cache: cache\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrOriginBaseURLEmpty)
}

func TestLoad_RejectsBadScheme(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "origin:\n  base_url: ftp://packages.example.com\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrOriginBaseURLScheme)
}

func TestLoad_RejectsBadNodeModulesMode(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
origin:
  base_url: https://packages.example.com
build:
  node_modules_mode: explode
`)

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNodeModulesModeInvalid)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
