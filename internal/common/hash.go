package common

import (
	"crypto/sha1" //nolint:gosec // spec mandates SHA-1 for manifest content addressing, not used for security
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// newSHA1Hasher returns a fresh SHA-1 hash.Hash, for collaborators (such as
// the grab download client) that verify checksums incrementally.
func newSHA1Hasher() hash.Hash {
	return sha1.New() //nolint:gosec
}

// SHA1Hex returns the lowercase hex-encoded SHA-1 digest of data, as used
// for manifest entry hashes and content-addressed filenames.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// SHA1HexFile returns SHA1Hex of the file at path's contents.
func SHA1HexFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DirFingerprint computes a fast, non-cryptographic blake3 fingerprint over
// a directory's file listing (relative paths and sizes). It is used only to
// decide whether a cache entry still looks intact or has to be fetched and
// extracted again; it never appears in the manifest.
func DirFingerprint(dir string) (string, error) {
	var names []string
	sizes := map[string]int64{}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		names = append(names, rel)
		sizes[rel] = info.Size()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
	}

	sort.Strings(names)

	hasher := blake3.New()
	for _, name := range names {
		fmt.Fprintf(hasher, "%s:%d\n", name, sizes[name])
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
