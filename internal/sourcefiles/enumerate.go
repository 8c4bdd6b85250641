// Package sourcefiles implements the deterministic source-file enumeration
// and load-order algorithm (spec §4.1): a filtered, ordered list of files
// under a package's source root, in the order the runtime server should
// load them.
package sourcefiles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultIgnorePatterns are the built-in basename-matched ignore regexes
// (§6 "Ignore-file regexes").
var DefaultIgnorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`~$`),
	regexp.MustCompile(`^\.#`),
	regexp.MustCompile(`^#.*#$`),
	regexp.MustCompile(`^\.DS_Store$`),
	regexp.MustCompile(`^ehthumbs\.db$`),
	regexp.MustCompile(`^Icon.$`),
	regexp.MustCompile(`^Thumbs\.db$`),
	regexp.MustCompile(`^\.meteor$`),
	regexp.MustCompile(`^\.git$`),
}

// Options configures Enumerate.
type Options struct {
	// Extensions is the set of recognized extensions, without a leading dot.
	Extensions map[string]bool
	// Ignore is matched against each file's basename; any match excludes it.
	// Defaults to DefaultIgnorePatterns when nil.
	Ignore []*regexp.Regexp
}

// skipDir reports whether a directory must never be walked into: hidden
// directories and the app's "public" static-asset directory, which is
// handled specially elsewhere.
func skipDir(basename string) bool {
	return strings.HasPrefix(basename, ".") || basename == "public"
}

// matchesIgnore reports whether basename matches any ignore pattern.
func matchesIgnore(basename string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(basename) {
			return true
		}
	}
	return false
}

// Enumerate walks root recursively, returning source files in load order
// (§4.1), as paths relative to root. html files are moved to the head of
// the list, preserving their mutual order, so template declarations are in
// scope before other code references them.
func Enumerate(root string, opts Options) ([]string, error) {
	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnorePatterns
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}

	var absPaths []string

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}

		basename := d.Name()

		if d.IsDir() {
			if path != root && skipDir(basename) {
				return filepath.SkipDir
			}
			return nil
		}

		if skipDir(basename) {
			// A file literally named ".foo" or "public" at this level is excluded,
			// same rule as for directories.
			return nil
		}

		if matchesIgnore(basename, ignore) {
			return nil
		}

		ext := strings.TrimPrefix(filepath.Ext(basename), ".")
		if !opts.Extensions[ext] {
			return nil
		}

		absPaths = append(absPaths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(absPaths, func(i, j int) bool {
		return loadOrderLess(absPaths[i], absPaths[j])
	})

	absPaths = hoistHTML(absPaths)

	relPaths := make([]string, len(absPaths))
	for i, abs := range absPaths {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return nil, fmt.Errorf("relativizing %s: %w", abs, err)
		}
		if strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("source file escapes source root: %s", abs)
		}
		relPaths[i] = filepath.ToSlash(rel)
	}

	return relPaths, nil
}

// loadOrderLess implements the strict weak ordering of §4.1: main.* files
// sort last; of the rest, files under a "lib" path segment sort first;
// within a tier, deeper paths sort first; ties break alphabetically.
func loadOrderLess(a, b string) bool {
	aMain, bMain := isMainFile(a), isMainFile(b)
	if aMain != bMain {
		return !aMain
	}

	aLib, bLib := hasLibSegment(a), hasLibSegment(b)
	if aLib != bLib {
		return aLib
	}

	aDepth, bDepth := pathDepth(a), pathDepth(b)
	if aDepth != bDepth {
		return aDepth > bDepth
	}

	return a < b
}

func isMainFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "main.")
}

func hasLibSegment(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == "lib" {
			return true
		}
	}
	return false
}

func pathDepth(path string) int {
	return strings.Count(filepath.ToSlash(path), "/")
}

// hoistHTML moves every ".html" entry to the front of list, preserving the
// relative order both among the html files and among the rest.
func hoistHTML(list []string) []string {
	html := make([]string, 0, len(list))
	rest := make([]string, 0, len(list))

	for _, path := range list {
		if filepath.Ext(path) == ".html" {
			html = append(html, path)
		} else {
			rest = append(rest, path)
		}
	}

	return append(html, rest...)
}
