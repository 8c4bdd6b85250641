package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	used  map[string][]Environment
	files map[string][]Environment
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{used: map[string][]Environment{}, files: map[string][]Environment{}}
}

func (f *fakeAPI) Use(names []string, where []Environment) error {
	for _, n := range names {
		f.used[n] = where
	}
	return nil
}

func (f *fakeAPI) AddFiles(paths []string, where []Environment) error {
	for _, p := range paths {
		f.files[p] = where
	}
	return nil
}

func (f *fakeAPI) RegisteredExtensions() []string { return nil }
func (f *fakeAPI) Error(string)                   {}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, DefinitionFile), `
describe:
  summary: a test package
on_use:
  uses:
    - name: underscore
  sources:
    - where: [client, server]
      patterns: ["lib.js"]
`)
	writeFile(t, filepath.Join(dir, "lib.js"), "// lib")

	pkg, err := LoadFromDirectory("widget", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "widget", pkg.Name)
	assert.Equal(t, "/packages/widget", pkg.ServeRoot)
	assert.Equal(t, "a test package", pkg.Metadata.Summary)

	api := newFakeAPI()
	require.NoError(t, pkg.OnUseHandler()(api, []Environment{EnvClient, EnvServer}))
	assert.Contains(t, api.used, "underscore")
	assert.Contains(t, api.files, "lib.js")
}

func TestLoadFromDirectory_DuplicateExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, DefinitionFile), `
register_extension:
  coffee: static
`)
	builtins := map[string]ExtensionHandler{
		"static": func(api ResourceAPI, sourcePath, servePath string, where []Environment) error { return nil },
	}

	pkg, err := LoadFromDirectory("coffeescript", dir, builtins)
	require.NoError(t, err)

	err = pkg.RegisterExtension("coffee", builtins["static"])
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".meteor", "packages"), "tracker\n# comment\n\nblaze\n")
	writeFile(t, filepath.Join(dir, "client", "main.js"), "// client")
	writeFile(t, filepath.Join(dir, "server", "main.js"), "// server")
	writeFile(t, filepath.Join(dir, "shared.js"), "// shared")

	assert.True(t, IsAppDirectory(dir))

	app, err := NewApp(dir, []string{"meteor"})
	require.NoError(t, err)
	assert.Equal(t, "/", app.ServeRoot)

	api := newFakeAPI()
	require.NoError(t, app.OnUseHandler()(api, []Environment{EnvClient, EnvServer}))

	assert.Contains(t, api.used, "meteor")
	assert.Contains(t, api.used, "tracker")
	assert.Contains(t, api.used, "blaze")

	assert.Contains(t, api.files, "client/main.js")
	assert.Equal(t, []Environment{EnvClient}, api.files["client/main.js"])
	assert.Contains(t, api.files, "server/main.js")
	assert.Equal(t, []Environment{EnvServer}, api.files["server/main.js"])
}

func TestNewCollection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", DefinitionFile), "describe:\n  summary: a\n")
	writeFile(t, filepath.Join(root, "b", DefinitionFile), "describe:\n  summary: b\n")
	writeFile(t, filepath.Join(root, "not-a-package", "readme.txt"), "nope")

	coll, err := NewCollection(root)
	require.NoError(t, err)

	api := newFakeAPI()
	require.NoError(t, coll.OnTestHandler()(api, []Environment{EnvTests}))
	assert.Contains(t, api.used, "a")
	assert.Contains(t, api.used, "b")
	assert.NotContains(t, api.used, "not-a-package")
}
