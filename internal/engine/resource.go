package engine

import (
	"fmt"
	"os"

	"github.com/forgepack/bundler/internal/project"
)

// resource is one typed, environment-tagged unit of bundle output (spec
// §4.4/§4.6): a JS or CSS file to concatenate, a static asset to copy
// as-is, or an HTML head/body fragment to splice into app.html.
type resource struct {
	Type        project.ResourceType
	Where       []project.Environment
	ServePath   string // Empty for head/body resources.
	Data        []byte
	PackageName string
}

// addResource validates and appends one resource contributed by pkg (spec
// §4.4 "Bundle.api.add_resource"). Missing where, an unknown type, or an
// invalid environment is fatal. css/head/body resources are restricted to
// the client environment; where they name only server/tests they are
// silently dropped rather than rejected (spec: "silently ignored for other
// environments").
func (b *Bundle) addResource(pkg *project.Package, opts project.ResourceOptions) error {
	data := opts.Data
	if data == nil && opts.SourceFile != "" {
		raw, err := os.ReadFile(opts.SourceFile)
		if err != nil {
			return fmt.Errorf("package %s: reading resource source %s: %w", pkg.Name, opts.SourceFile, err)
		}
		data = raw
	}

	switch opts.Type {
	case project.ResourceJS, project.ResourceCSS, project.ResourceStatic:
		if opts.Path == "" {
			return fmt.Errorf("package %s: resource of type %s requires a path", pkg.Name, opts.Type)
		}
	case project.ResourceHead, project.ResourceBody:
		// No path required.
	default:
		return fmt.Errorf("package %s: unknown resource type %q", pkg.Name, opts.Type)
	}

	if len(opts.Where) == 0 {
		return fmt.Errorf("package %s: resource of type %s missing where", pkg.Name, opts.Type)
	}

	seen := make(map[project.Environment]bool, len(opts.Where))
	where := make([]project.Environment, 0, len(opts.Where))
	for _, env := range opts.Where {
		if !env.Valid() {
			return fmt.Errorf("package %s: invalid environment %q", pkg.Name, env)
		}
		if seen[env] {
			continue
		}
		seen[env] = true
		where = append(where, env)
	}

	switch opts.Type {
	case project.ResourceCSS, project.ResourceHead, project.ResourceBody:
		where = onlyEnv(where, project.EnvClient)
		if len(where) == 0 {
			return nil
		}
	}

	b.mu.Lock()
	b.resources = append(b.resources, resource{
		Type:        opts.Type,
		Where:       where,
		ServePath:   opts.Path,
		Data:        data,
		PackageName: pkg.Name,
	})
	b.mu.Unlock()

	return nil
}

func onlyEnv(where []project.Environment, allowed project.Environment) []project.Environment {
	var out []project.Environment
	for _, env := range where {
		if env == allowed {
			out = append(out, env)
		}
	}
	return out
}
