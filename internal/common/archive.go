package common

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractTarGz extracts a gzip'd tar archive read from r into destDir.
// destDir is created if missing. Entries that would escape destDir are
// rejected as a fatal error (a malicious or corrupt archive must not be
// able to write outside the target directory).
func ExtractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := MkdirAll(destDir); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		if PathEscapesRoot(hdr.Name) {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(destDir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := MkdirAll(target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := MkdirAll(filepath.Dir(target)); err != nil {
				return err
			}
			if err := writeTarFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := MkdirAll(filepath.Dir(target)); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			// Ignore device files, fifos, etc. — not meaningful for package archives.
		}
	}
}

// ExtractTarGzStripTop extracts a gzip'd tar archive the same way
// ExtractTarGz does, except each entry's leading path component — the
// package-directory wrapper CreateTarGz writes every archive with — is
// dropped, so destDir itself ends up holding the package's files directly.
// Entries at the archive root with no leading component (after stripping)
// are skipped.
func ExtractTarGzStripTop(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := MkdirAll(destDir); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		_, rest, found := strings.Cut(name, "/")
		if !found {
			continue
		}

		if PathEscapesRoot(rest) {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(destDir, rest)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := MkdirAll(target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := MkdirAll(filepath.Dir(target)); err != nil {
				return err
			}
			if err := writeTarFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := MkdirAll(filepath.Dir(target)); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			// Ignore device files, fifos, etc.
		}
	}
}

func writeTarFile(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

// CreateTarGz writes a gzip'd tar archive of srcDir's contents to w. The
// archive's single top-level entry is rootName, matching the layout the
// registry's remote origin serves packages in (§6).
func CreateTarGz(w io.Writer, srcDir, rootName string) error {
	gz := gzip.NewWriter(w)
	defer func() { _ = gz.Close() }()

	tw := tar.NewWriter(gz)
	defer func() { _ = tw.Close() }()

	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		name := rootName
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(rootName, rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", name, err)
		}

		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		_, err = io.Copy(tw, f)
		return err
	})
}
