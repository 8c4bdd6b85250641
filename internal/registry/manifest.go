package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/forgepack/bundler/internal/common"
)

// ReleaseManifest is the remote origin's pinned package index (spec §6):
// GET <base>/manifest/<version>.json.
type ReleaseManifest struct {
	Version  string                   `json:"version"`
	Packages map[string]ManifestEntry `json:"packages"`
}

// ManifestEntry describes one package's pinned tarball for a release.
type ManifestEntry struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA1    string `json:"sha1"`
}

// manifestCachePath is the single on-disk location used for both writing a
// freshly fetched manifest and reading a previously cached one (Open
// Question (b): "the write path used by cache population and the read path
// used by package resolution should agree on one location").
func manifestCachePath(cacheDir, version string) string {
	return filepath.Join(cacheDir, "manifest", version+".json")
}

// fetchManifest retrieves the release manifest for version, preferring the
// on-disk cache and falling back to the remote origin, writing what it
// fetches back to the same cache path.
func fetchManifest(client *http.Client, baseURL, cacheDir, version string) (*ReleaseManifest, error) {
	path := manifestCachePath(cacheDir, version)

	if raw, err := os.ReadFile(path); err == nil {
		var manifest ReleaseManifest
		if err := json.Unmarshal(raw, &manifest); err == nil {
			return &manifest, nil
		}
	}

	url := fmt.Sprintf("%s/manifest/%s.json", baseURL, version)
	raw, err := common.HTTPGet(client, url)
	if err != nil {
		return nil, fmt.Errorf("fetching release manifest %s: %w", version, err)
	}

	var manifest ReleaseManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing release manifest %s: %w", version, err)
	}

	if err := common.MkdirAll(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("caching release manifest %s: %w", version, err)
	}

	return &manifest, nil
}
