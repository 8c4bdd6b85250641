package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepack/bundler/internal/common"
)

// packageCacheDir is where a release-pinned package's extracted tarball
// lives: cache/packages/<name>/<version>/.
func packageCacheDir(cacheDir, name, version string) string {
	return filepath.Join(cacheDir, "packages", name, version)
}

// ensureCached returns the directory holding name's extracted sources for
// version, fetching and extracting it via fetcher if not already present
// and fresh.
func ensureCached(ctx context.Context, fetcher *common.Fetcher, entry ManifestEntry, cacheDir, name, version string) (string, error) {
	dir := packageCacheDir(cacheDir, name, version)

	if isFresh(dir) {
		return dir, nil
	}

	results, err := fetcher.FetchAll(ctx, []*common.FetchRequest{{
		URL:         entry.URL,
		Destination: filepath.Join(cacheDir, "downloads", name+"-"+version+".tar.gz"),
		SHA1:        entry.SHA1,
	}})
	if err != nil {
		return "", fmt.Errorf("fetching package %s@%s: %w", name, version, err)
	}

	tarball, err := os.Open(results[0].Destination)
	if err != nil {
		return "", fmt.Errorf("opening downloaded package %s@%s: %w", name, version, err)
	}
	defer tarball.Close()

	if err := common.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := common.MkdirAll(dir); err != nil {
		return "", err
	}
	if err := common.ExtractTarGzStripTop(tarball, dir); err != nil {
		return "", fmt.Errorf("extracting package %s@%s: %w", name, version, err)
	}

	if err := stampFreshness(dir); err != nil {
		return "", err
	}

	return dir, nil
}

// fingerprintMarkerPath lives next to, not inside, dir: a blake3 fingerprint
// (spec §4.6, distinct from the SHA-1 used for the manifest) of dir's
// contents right after extraction, letting a later run detect tampering or
// a partial write without re-downloading. Keeping it outside dir means
// computing the fingerprint never has to account for its own marker file.
func fingerprintMarkerPath(dir string) string {
	return dir + ".fingerprint"
}

// isFresh reports whether dir exists, has a stamped fingerprint, and that
// fingerprint still matches the directory's current contents.
func isFresh(dir string) bool {
	stamped, err := os.ReadFile(fingerprintMarkerPath(dir))
	if err != nil {
		return false
	}
	current, err := common.DirFingerprint(dir)
	if err != nil {
		return false
	}
	return string(stamped) == current
}

func stampFreshness(dir string) error {
	fingerprint, err := common.DirFingerprint(dir)
	if err != nil {
		return err
	}
	return os.WriteFile(fingerprintMarkerPath(dir), []byte(fingerprint), 0o644)
}
