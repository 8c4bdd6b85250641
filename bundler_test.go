package bundler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestBundle_EndToEnd(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "app")
	packageSet := filepath.Join(root, "packages")
	configDir := filepath.Join(root, "config")
	outputDir := filepath.Join(root, "dist")

	writeFile(t, filepath.Join(appDir, ".meteor", "packages"), "widget\n")
	writeFile(t, filepath.Join(appDir, "client", "main.js"), "console.log('app');")

	writeFile(t, filepath.Join(packageSet, "widget", "package.yaml"), `
describe:
  summary: a widget library
on_use:
  sources:
    - where: [client]
      patterns: ["widget.js"]
`)
	writeFile(t, filepath.Join(packageSet, "widget", "widget.js"), "window.widget = true;")

	writeFile(t, filepath.Join(configDir, "config.yaml"), `
directories:
  package_sets:
    - `+packageSet+`
  cache: `+filepath.Join(root, "cache")+`
origin:
  base_url: https://packages.invalid
`)

	messages := Bundle(context.Background(), appDir, outputDir, Options{
		ConfigPath: filepath.Join(configDir, "config.yaml"),
		NoMinify:   true,
	})
	require.Empty(t, messages)

	assert.FileExists(t, filepath.Join(outputDir, "app.json"))
	assert.FileExists(t, filepath.Join(outputDir, "app.html"))
}

func TestBundle_RejectsNonAppDirectory(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	writeFile(t, filepath.Join(configDir, "config.yaml"), "origin:\n  base_url: https://packages.invalid\n")

	messages := Bundle(context.Background(), t.TempDir(), filepath.Join(root, "dist"), Options{
		ConfigPath: filepath.Join(configDir, "config.yaml"),
	})
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "not an app directory")
}
