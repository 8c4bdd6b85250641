package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile is the package definition's filename, a declarative stand-in
// for package.js (spec §9 Design Notes: "An implementation may substitute any
// embedded scripting evaluator or a declarative manifest").
const DefinitionFile = "package.yaml"

// definition is the on-disk shape of package.yaml.
type definition struct {
	Describe struct {
		Summary      string   `yaml:"summary,omitempty"`
		Internal     bool     `yaml:"internal,omitempty"`
		Environments []string `yaml:"environments,omitempty"`
	} `yaml:"describe,omitempty"`

	OnUse *handlerSection `yaml:"on_use,omitempty"`

	OnTest *handlerSection `yaml:"on_test,omitempty"`

	RegisterExtension map[string]string `yaml:"register_extension,omitempty"`
}

type handlerSection struct {
	Uses    []useDecl    `yaml:"uses,omitempty"`
	Sources []sourceDecl `yaml:"sources,omitempty"`
}

type useDecl struct {
	Name  string   `yaml:"name"`
	Where []string `yaml:"where,omitempty"`
}

type sourceDecl struct {
	Where    []string `yaml:"where"`
	Patterns []string `yaml:"patterns"`
}

// parseDefinition reads and decodes path's package.yaml.
func parseDefinition(path string) (*definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var def definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &def, nil
}

// apply installs def's sections onto pkg: describe() metadata, and on_use /
// on_test handlers synthesized from the declarative uses/sources lists.
// RegisterExtension entries named in def are resolved against builtins, the
// only handlers a declarative package.yaml can reference by name.
func (def *definition) apply(pkg *Package, builtins map[string]ExtensionHandler) error {
	pkg.Describe(Metadata{
		Summary:      def.Describe.Summary,
		Internal:     def.Describe.Internal,
		Environments: parseEnvironments(def.Describe.Environments),
	})

	if def.OnUse != nil {
		handler := def.OnUse.toHandler(pkg.SourceRoot)
		if err := pkg.OnUse(handler); err != nil {
			return err
		}
	}

	if def.OnTest != nil {
		handler := def.OnTest.toHandler(pkg.SourceRoot)
		if err := pkg.OnTest(handler); err != nil {
			return err
		}
	}

	for ext, handlerName := range def.RegisterExtension {
		handler, ok := builtins[handlerName]
		if !ok {
			return fmt.Errorf("package %s: register_extension %q references unknown handler %q", pkg.displayName(), ext, handlerName)
		}
		if err := pkg.RegisterExtension(strings.TrimPrefix(ext, "."), handler); err != nil {
			return err
		}
	}

	return nil
}

func parseEnvironments(raw []string) []Environment {
	out := make([]Environment, 0, len(raw))
	for _, r := range raw {
		out = append(out, Environment(r))
	}
	return out
}

// toHandler builds an OnUseHandler that replays this section's declared
// uses and file patterns against whatever canonical environment set the
// handler is invoked with.
func (h *handlerSection) toHandler(sourceRoot string) OnUseHandler {
	return func(api UseAPI, where []Environment) error {
		for _, u := range h.Uses {
			uWhere := parseEnvironments(u.Where)
			if len(uWhere) == 0 {
				uWhere = where
			}
			if err := api.Use([]string{u.Name}, intersectEnvironments(uWhere, where)); err != nil {
				return err
			}
		}

		for _, s := range h.Sources {
			sWhere := intersectEnvironments(parseEnvironments(s.Where), where)
			if len(sWhere) == 0 {
				continue
			}
			paths, err := resolvePatterns(sourceRoot, s.Patterns)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				continue
			}
			if err := api.AddFiles(paths, sWhere); err != nil {
				return err
			}
		}

		return nil
	}
}

// intersectEnvironments returns the environments present in both a and b,
// preserving a's order. A nil/empty a is treated as "all of b".
func intersectEnvironments(a, b []Environment) []Environment {
	if len(a) == 0 {
		return b
	}
	inB := make(map[Environment]bool, len(b))
	for _, e := range b {
		inB[e] = true
	}
	var out []Environment
	for _, e := range a {
		if inB[e] {
			out = append(out, e)
		}
	}
	return out
}

// resolvePatterns expands a source declaration's patterns into source-root
// relative paths. A pattern is one of: an exact relative path; a glob
// matched with filepath.Match against the names of the files directly in
// the source root (files in subdirectories are not matched); or a "dir/**"
// suffix, matching every file under dir recursively.
func resolvePatterns(sourceRoot string, patterns []string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		matched, err := resolvePattern(sourceRoot, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
}

func resolvePattern(sourceRoot, pattern string) ([]string, error) {
	pattern = filepath.ToSlash(pattern)

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		var matches []string
		err := filepath.WalkDir(filepath.Join(sourceRoot, filepath.FromSlash(prefix)), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(sourceRoot, path)
			if err != nil {
				return err
			}
			matches = append(matches, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("resolving pattern %q: %w", pattern, err)
		}
		return matches, nil
	}

	if strings.ContainsAny(pattern, "*?[") {
		entries, err := os.ReadDir(sourceRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving pattern %q: %w", pattern, err)
		}
		var matches []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ok, _ := filepath.Match(pattern, e.Name()); ok {
				matches = append(matches, e.Name())
			}
		}
		return matches, nil
	}

	if _, err := os.Stat(filepath.Join(sourceRoot, filepath.FromSlash(pattern))); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return []string{pattern}, nil
}
