package project

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgepack/bundler/internal/sourcefiles"
)

// HasDefinition reports whether dir contains a package definition.
func HasDefinition(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, DefinitionFile))
	return err == nil
}

// LoadFromDirectory loads the library package named name, whose source root
// is dir and which contains a package.yaml, per spec §4.2's "library
// package" constructor. builtins resolves register_extension's handler
// names; may be nil if dir declares none.
func LoadFromDirectory(name, dir string, builtins map[string]ExtensionHandler) (*Package, error) {
	defPath := filepath.Join(dir, DefinitionFile)
	def, err := parseDefinition(defPath)
	if err != nil {
		return nil, err
	}

	pkg := New(name, dir, "/packages/"+name)
	if err := def.apply(pkg, builtins); err != nil {
		return nil, err
	}
	return pkg, nil
}

// MeteorPackagesFile is the project's declared-package list, read by
// NewApp (spec §4.2: "the packages declared in the project, read via an
// external collaborator").
const MeteorPackagesFile = ".meteor/packages"

// IsAppDirectory reports whether dir looks like an application root: it
// contains MeteorPackagesFile as a regular file.
func IsAppDirectory(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(MeteorPackagesFile)))
	return err == nil && info.Mode().IsRegular()
}

// ReadMeteorPackages reads the project's declared package names from
// appDir/.meteor/packages: one name per line, blank lines and "#"-prefixed
// comment lines ignored.
func ReadMeteorPackages(appDir string) ([]string, error) {
	path := filepath.Join(appDir, filepath.FromSlash(MeteorPackagesFile))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return names, nil
}

// appSourceExtensions are the extensions the app's synthesized on_use
// handler feeds through sourcefiles.Enumerate. The app itself only ever
// needs its own js/css/html source tree classified; per-extension
// transforms for anything richer come from used packages' own handlers.
var appSourceExtensions = map[string]bool{"js": true, "css": true, "html": true}

// NewApp builds the synthesized app pseudo-package (spec §4.2 "From an app
// directory"): its on_use handler unconditionally depends on
// frameworkPackages, depends on every package named in .meteor/packages,
// and classifies every source file under appDir by the directory-prefix
// rule of §8's testable property ("client/" => client, "server/" =>
// server, otherwise both).
func NewApp(appDir string, frameworkPackages []string) (*Package, error) {
	appDir, err := filepath.Abs(appDir)
	if err != nil {
		return nil, fmt.Errorf("resolving app directory: %w", err)
	}

	projectPackages, err := ReadMeteorPackages(appDir)
	if err != nil {
		return nil, err
	}

	pkg := New("", appDir, "/")

	handler := func(api UseAPI, where []Environment) error {
		allDeps := append(append([]string{}, frameworkPackages...), projectPackages...)
		if len(allDeps) > 0 {
			if err := api.Use(allDeps, where); err != nil {
				return err
			}
		}

		files, err := enumerateAppSources(appDir)
		if err != nil {
			return err
		}

		for _, env := range []Environment{EnvClient, EnvServer} {
			if !containsEnv(where, env) {
				continue
			}
			var matched []string
			for _, f := range files {
				if classifyAppFile(f) == env || classifyAppFile(f) == "" {
					matched = append(matched, f)
				}
			}
			if len(matched) > 0 {
				if err := api.AddFiles(matched, []Environment{env}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := pkg.OnUse(handler); err != nil {
		return nil, err
	}
	return pkg, nil
}

func enumerateAppSources(appDir string) ([]string, error) {
	return sourcefiles.Enumerate(appDir, sourcefiles.Options{Extensions: appSourceExtensions})
}

// classifyAppFile implements the app source-tree environment rule: a file
// under a top-level "client/" directory is client-only, under "server/" is
// server-only, anything else is both.
func classifyAppFile(rel string) Environment {
	segment, _, found := strings.Cut(rel, "/")
	if !found {
		return ""
	}
	switch segment {
	case "client":
		return EnvClient
	case "server":
		return EnvServer
	default:
		return ""
	}
}

func containsEnv(where []Environment, env Environment) bool {
	for _, e := range where {
		if e == env {
			return true
		}
	}
	return false
}

// NewCollection builds a collection pseudo-package over every immediate
// subdirectory of dir that is itself a package directory (spec §4.2 "From a
// directory of packages"): its on_test handler uses every member package
// with where=[tests]. That runs each member's on_use handler for the tests
// environment; the members' own on_test handlers are not invoked.
func NewCollection(dir string) (*Package, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving collection directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading collection %s: %w", dir, err)
	}

	var members []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if HasDefinition(filepath.Join(dir, e.Name())) {
			members = append(members, e.Name())
		}
	}

	pkg := New("", "", "")
	handler := func(api UseAPI, where []Environment) error {
		if len(members) == 0 {
			return nil
		}
		return api.Use(members, []Environment{EnvTests})
	}
	if err := pkg.OnTest(handler); err != nil {
		return nil, err
	}
	return pkg, nil
}
