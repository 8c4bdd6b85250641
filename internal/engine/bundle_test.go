package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepack/bundler/internal/project"
)

type fakeResolver struct {
	packages map[string]*project.Package
}

func (f *fakeResolver) Get(_ context.Context, name string) (*project.Package, error) {
	return f.packages[name], nil
}

func writeSrc(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestBundle_UseIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeSrc(t, filepath.Join(dir, "lib.js"), "console.log('lib');")

	pkg := project.New("widget", dir, "/packages/widget")
	calls := 0
	require.NoError(t, pkg.OnUse(func(api project.UseAPI, where []project.Environment) error {
		calls++
		return api.AddFiles([]string{"lib.js"}, where)
	}))

	b := New(context.Background(), &fakeResolver{}, nil)
	require.NoError(t, b.Use(pkg, []project.Environment{project.EnvClient, project.EnvServer}))
	require.NoError(t, b.Use(pkg, []project.Environment{project.EnvServer, project.EnvClient}))

	assert.Equal(t, 1, calls, "use() must be idempotent for the same canonical where set")
}

func TestBundle_CycleDetected(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	pkgA := project.New("a", dirA, "/packages/a")
	pkgB := project.New("b", dirB, "/packages/b")

	resolver := &fakeResolver{packages: map[string]*project.Package{"a": pkgA, "b": pkgB}}
	b := New(context.Background(), resolver, nil)

	require.NoError(t, pkgA.OnUse(func(api project.UseAPI, where []project.Environment) error {
		return api.Use([]string{"b"}, where)
	}))
	require.NoError(t, pkgB.OnUse(func(api project.UseAPI, where []project.Environment) error {
		return api.Use([]string{"a"}, where)
	}))

	err := b.Use(pkgA, []project.Environment{project.EnvServer})
	assert.Error(t, err)
}

func TestBundle_ExtensionConflict(t *testing.T) {
	appDir := t.TempDir()
	writeSrc(t, filepath.Join(appDir, "main.coffee"), "puts 'hi'")

	dirA, dirB := t.TempDir(), t.TempDir()
	pkgA := project.New("coffee-a", dirA, "/packages/coffee-a")
	pkgB := project.New("coffee-b", dirB, "/packages/coffee-b")
	noop := func(api project.ResourceAPI, sourcePath, servePath string, where []project.Environment) error { return nil }
	require.NoError(t, pkgA.RegisterExtension("coffee", noop))
	require.NoError(t, pkgB.RegisterExtension("coffee", noop))

	app := project.New("", appDir, "/")
	require.NoError(t, app.OnUse(func(api project.UseAPI, where []project.Environment) error {
		if err := api.Use([]string{"coffee-a", "coffee-b"}, where); err != nil {
			return err
		}
		return api.AddFiles([]string{"main.coffee"}, where)
	}))

	resolver := &fakeResolver{packages: map[string]*project.Package{"coffee-a": pkgA, "coffee-b": pkgB}}
	b := New(context.Background(), resolver, nil)

	err := b.Use(app, []project.Environment{project.EnvClient})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting handlers")
}

func TestBundle_UnknownExtensionBecomesStatic(t *testing.T) {
	appDir := t.TempDir()
	writeSrc(t, filepath.Join(appDir, "foo.txt"), "plain text")

	app := project.New("", appDir, "/")
	require.NoError(t, app.OnUse(func(api project.UseAPI, where []project.Environment) error {
		return api.AddFiles([]string{"foo.txt"}, where)
	}))

	b := New(context.Background(), &fakeResolver{}, nil)
	require.NoError(t, b.Use(app, []project.Environment{project.EnvClient}))

	require.Len(t, b.resources, 1)
	assert.Equal(t, project.ResourceStatic, b.resources[0].Type)
	assert.Equal(t, "/foo.txt", b.resources[0].ServePath)
}

func TestBundle_EmitRoundTrip(t *testing.T) {
	appDir := t.TempDir()
	writeSrc(t, filepath.Join(appDir, "client", "main.js"), "window.app=1;")
	writeSrc(t, filepath.Join(appDir, "client", "styles.css"), "body{color:red}")
	writeSrc(t, filepath.Join(appDir, "server", "boot.js"), "console.log('boot');")

	app := project.New("", appDir, "/")
	require.NoError(t, app.OnUse(func(api project.UseAPI, where []project.Environment) error {
		if containsEnv(where, project.EnvClient) {
			if err := api.AddFiles([]string{"client/main.js", "client/styles.css"}, []project.Environment{project.EnvClient}); err != nil {
				return err
			}
		}
		if containsEnv(where, project.EnvServer) {
			if err := api.AddFiles([]string{"server/boot.js"}, []project.Environment{project.EnvServer}); err != nil {
				return err
			}
		}
		return nil
	}))

	b := New(context.Background(), &fakeResolver{}, nil)
	require.NoError(t, b.Use(app, []project.Environment{project.EnvClient, project.EnvServer}))

	outputDir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, b.Emit(outputDir, EmitOptions{NoMinify: true}))

	raw, err := os.ReadFile(filepath.Join(outputDir, ManifestFile))
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))

	require.Len(t, manifest.Load, 1)
	assert.Equal(t, "app/server/boot.js", manifest.Load[0])
	assert.FileExists(t, filepath.Join(outputDir, filepath.FromSlash(manifest.Load[0])))

	var jsEntry, cssEntry *ManifestEntry
	for i := range manifest.Manifest {
		switch manifest.Manifest[i].Type {
		case "js":
			jsEntry = &manifest.Manifest[i]
		case "css":
			cssEntry = &manifest.Manifest[i]
		}
	}
	require.NotNil(t, jsEntry)
	require.NotNil(t, cssEntry)
	assert.True(t, jsEntry.Cacheable)
	assert.Contains(t, jsEntry.URL, "?")
	assert.FileExists(t, filepath.Join(outputDir, filepath.FromSlash(jsEntry.Path)))

	for _, mainFile := range []string{MainJSFile, ReadmeFile, UnsupportedHTMLFile, DependenciesFile, AppHTMLFile} {
		assert.FileExists(t, filepath.Join(outputDir, mainFile))
	}
}

func TestBundle_EmitMinified(t *testing.T) {
	appDir := t.TempDir()
	writeSrc(t, filepath.Join(appDir, "a.js"), "var a=1;")
	writeSrc(t, filepath.Join(appDir, "b.js"), "var b=2;")

	app := project.New("", appDir, "/")
	require.NoError(t, app.OnUse(func(api project.UseAPI, where []project.Environment) error {
		return api.AddFiles([]string{"a.js", "b.js"}, where)
	}))

	b := New(context.Background(), &fakeResolver{}, nil)
	require.NoError(t, b.Use(app, []project.Environment{project.EnvClient}))

	outputDir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, b.Emit(outputDir, EmitOptions{}))

	raw, err := os.ReadFile(filepath.Join(outputDir, ManifestFile))
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))

	jsEntries := 0
	for _, entry := range manifest.Manifest {
		if entry.Type == "js" {
			jsEntries++
			assert.NotContains(t, entry.URL, "?")
			assert.True(t, entry.Cacheable)
		}
	}
	assert.Equal(t, 1, jsEntries, "minified client JS must concatenate to a single manifest entry")
}
