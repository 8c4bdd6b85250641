// Package registry resolves package names to loaded project.Package
// values, implementing the search order of spec §4.3: an in-memory cache,
// then local package-set directories, then a release-pinned local cache
// populated on demand from a remote origin.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/forgepack/bundler/internal/common"
	"github.com/forgepack/bundler/internal/config"
	"github.com/forgepack/bundler/internal/project"
)

// Registry resolves and caches packages by name.
type Registry struct {
	mu sync.Mutex

	memory map[string]*project.Package

	packageSets    []string
	cacheDir       string
	baseURL        string
	releaseVersion string

	httpClient *http.Client
	fetcher    *common.Fetcher
	builtins   map[string]project.ExtensionHandler

	manifest *ReleaseManifest
}

// New builds a Registry from cfg. releaseVersion pins which release
// manifest to resolve cache misses against; builtins resolves
// register_extension handler names in loaded package.yaml files.
func New(cfg *config.Config, releaseVersion string, builtins map[string]project.ExtensionHandler) *Registry {
	httpClient := common.NewHTTPClient(cfg.HTTP)

	return &Registry{
		memory:         make(map[string]*project.Package),
		packageSets:    cfg.Directories.PackageSets,
		cacheDir:       cfg.Directories.GetCachePath(cfg.ConfigDir),
		baseURL:        cfg.Origin.BaseURL,
		releaseVersion: releaseVersion,
		httpClient:     httpClient,
		fetcher:        common.NewFetcher(httpClient, int(cfg.Workers.Fetch)),
		builtins:       builtins,
	}
}

// Close releases the registry's worker pool.
func (r *Registry) Close() {
	r.fetcher.Shutdown()
}

// Get resolves name to a loaded Package, trying the in-memory cache, the
// local package sets (a name present in more than one of them is an
// error), and finally the release-pinned local cache (fetching from the
// remote origin on a cache miss).
func (r *Registry) Get(ctx context.Context, name string) (*project.Package, error) {
	r.mu.Lock()
	if pkg, ok := r.memory[name]; ok {
		r.mu.Unlock()
		return pkg, nil
	}
	r.mu.Unlock()

	var foundIn []string
	for _, setDir := range r.packageSets {
		if project.HasDefinition(filepath.Join(setDir, name)) {
			foundIn = append(foundIn, setDir)
		}
	}
	switch len(foundIn) {
	case 0:
		// fall through to the release-pinned cache below
	case 1:
		pkg, err := project.LoadFromDirectory(name, filepath.Join(foundIn[0], name), r.builtins)
		if err != nil {
			return nil, err
		}
		return r.remember(name, pkg), nil
	default:
		return nil, fmt.Errorf("package %q found in more than one local package set: %s", name, strings.Join(foundIn, ", "))
	}

	dir, err := r.resolveFromCache(ctx, name)
	if err != nil {
		return nil, err
	}

	pkg, err := project.LoadFromDirectory(name, dir, r.builtins)
	if err != nil {
		return nil, err
	}
	return r.remember(name, pkg), nil
}

func (r *Registry) remember(name string, pkg *project.Package) *project.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[name] = pkg
	return pkg
}

// resolveFromCache finds or fetches name's sources in the release-pinned
// local cache.
func (r *Registry) resolveFromCache(ctx context.Context, name string) (string, error) {
	manifest, err := r.loadManifest(ctx)
	if err != nil {
		return "", err
	}

	entry, ok := manifest.Packages[name]
	if !ok {
		return "", fmt.Errorf("package %q: not found in package sets or release %s manifest", name, r.releaseVersion)
	}

	dir, err := ensureCached(ctx, r.fetcher, entry, r.cacheDir, name, entry.Version)
	if err != nil {
		return "", err
	}
	if !project.HasDefinition(dir) {
		return "", fmt.Errorf("package %q: cached copy at %s has no %s", name, dir, project.DefinitionFile)
	}
	return dir, nil
}

func (r *Registry) loadManifest(ctx context.Context) (*ReleaseManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.manifest != nil {
		return r.manifest, nil
	}
	if r.releaseVersion == "" {
		return nil, fmt.Errorf("package not found in any local package set and no release version configured for cache fallback")
	}

	manifest, err := fetchManifest(r.httpClient, r.baseURL, r.cacheDir, r.releaseVersion)
	if err != nil {
		return nil, err
	}
	r.manifest = manifest
	return manifest, nil
}

// Flush discards the in-memory package cache and the loaded release
// manifest, forcing the next Get to re-resolve from scratch.
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = make(map[string]*project.Package)
	r.manifest = nil
}

// List returns the names of packages currently held in memory, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.memory))
	for name := range r.memory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListCached returns the "name@version" pairs currently present in the
// on-disk package cache, sorted.
func (r *Registry) ListCached() ([]string, error) {
	packagesDir := filepath.Join(r.cacheDir, "packages")
	nameEntries, err := os.ReadDir(packagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory %s: %w", packagesDir, err)
	}

	var cached []string
	for _, nameEntry := range nameEntries {
		if !nameEntry.IsDir() {
			continue
		}
		versionEntries, err := os.ReadDir(filepath.Join(packagesDir, nameEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading cache directory %s: %w", nameEntry.Name(), err)
		}
		for _, versionEntry := range versionEntries {
			if versionEntry.IsDir() {
				cached = append(cached, nameEntry.Name()+"@"+versionEntry.Name())
			}
		}
	}

	sort.Strings(cached)
	return cached, nil
}

// PopulateCache downloads and extracts every package named in version's
// release manifest into the local cache, in parallel, for offline use
// (spec §6 "cache populate").
func (r *Registry) PopulateCache(ctx context.Context, version string) error {
	manifest, err := fetchManifest(r.httpClient, r.baseURL, r.cacheDir, version)
	if err != nil {
		return err
	}

	requests := make([]*common.FetchRequest, 0, len(manifest.Packages))
	byURL := make(map[string]string, len(manifest.Packages))
	for name, entry := range manifest.Packages {
		dest := filepath.Join(r.cacheDir, "downloads", name+"-"+entry.Version+".tar.gz")
		requests = append(requests, &common.FetchRequest{
			URL:         entry.URL,
			Destination: dest,
			SHA1:        entry.SHA1,
		})
		byURL[entry.URL] = name
	}

	results, err := r.fetcher.FetchAll(ctx, requests)
	if err != nil {
		return fmt.Errorf("populating cache for release %s: %w", version, err)
	}

	for _, res := range results {
		name := byURL[res.URL]
		entry := manifest.Packages[name]
		dir := packageCacheDir(r.cacheDir, name, entry.Version)

		tarball, err := os.Open(res.Destination)
		if err != nil {
			return err
		}
		if err := common.RemoveAll(dir); err != nil {
			tarball.Close()
			return err
		}
		if err := common.MkdirAll(dir); err != nil {
			tarball.Close()
			return err
		}
		extractErr := common.ExtractTarGzStripTop(tarball, dir)
		tarball.Close()
		if extractErr != nil {
			return fmt.Errorf("extracting %s@%s: %w", name, entry.Version, extractErr)
		}
		if err := stampFreshness(dir); err != nil {
			return err
		}
		slog.Info("cached package", "name", name, "version", entry.Version)
	}

	return nil
}
