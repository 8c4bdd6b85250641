package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepack/bundler/internal/common"
	"github.com/forgepack/bundler/internal/config"
	"github.com/forgepack/bundler/internal/project"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestGet_LocalPackageSet(t *testing.T) {
	packageSet := t.TempDir()
	writeFile(t, filepath.Join(packageSet, "widget", project.DefinitionFile), "describe:\n  summary: local widget\n")

	cfg := &config.Config{
		Directories: config.DirectoriesConfig{PackageSets: []string{packageSet}, Cache: t.TempDir()},
	}
	reg := New(cfg, "", nil)
	defer reg.Close()

	pkg, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)
	assert.Equal(t, "widget", pkg.Name)
	assert.Equal(t, []string{"widget"}, reg.List())
}

func TestGet_FetchesFromRemoteOnCacheMiss(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, project.DefinitionFile), "describe:\n  summary: remote widget\n")

	var tarball bytes.Buffer
	require.NoError(t, common.CreateTarGz(&tarball, srcDir, "widget"))
	sha1Hex := common.SHA1Hex(tarball.Bytes())

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest/v1.json", func(w http.ResponseWriter, r *http.Request) {
		manifest := ReleaseManifest{
			Version: "v1",
			Packages: map[string]ManifestEntry{
				"widget": {Version: "1.0.0", URL: "", SHA1: sha1Hex},
			},
		}
		// Fill in the URL once we know the server's own address.
		_ = json.NewEncoder(w).Encode(manifest)
	})
	mux.HandleFunc("/packages/widget.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarball.Bytes())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// Serve a manifest whose URL points back at this server, now that we
	// know its address.
	mux.HandleFunc("/manifest/v2.json", func(w http.ResponseWriter, r *http.Request) {
		manifest := ReleaseManifest{
			Version: "v2",
			Packages: map[string]ManifestEntry{
				"widget": {Version: "1.0.0", URL: server.URL + "/packages/widget.tar.gz", SHA1: sha1Hex},
			},
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})

	cfg := &config.Config{
		Directories: config.DirectoriesConfig{Cache: t.TempDir()},
		Origin:      config.OriginConfig{BaseURL: server.URL},
	}
	reg := New(cfg, "v2", nil)
	defer reg.Close()

	pkg, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)
	assert.Equal(t, "widget", pkg.Name)
	assert.Equal(t, "remote widget", pkg.Metadata.Summary)

	// Second resolution should hit the in-memory cache, not refetch.
	pkg2, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)
	assert.Same(t, pkg, pkg2)
}

func TestGet_DuplicatePackageSetIsFatal(t *testing.T) {
	setA := t.TempDir()
	setB := t.TempDir()
	writeFile(t, filepath.Join(setA, "widget", project.DefinitionFile), "describe:\n  summary: widget in set A\n")
	writeFile(t, filepath.Join(setB, "widget", project.DefinitionFile), "describe:\n  summary: widget in set B\n")

	cfg := &config.Config{
		Directories: config.DirectoriesConfig{PackageSets: []string{setA, setB}, Cache: t.TempDir()},
	}
	reg := New(cfg, "", nil)
	defer reg.Close()

	_, err := reg.Get(context.Background(), "widget")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one local package set")
}

func TestGet_NotFound(t *testing.T) {
	cfg := &config.Config{
		Directories: config.DirectoriesConfig{Cache: t.TempDir()},
	}
	reg := New(cfg, "", nil)
	defer reg.Close()

	_, err := reg.Get(context.Background(), "nope")
	assert.Error(t, err)
}
