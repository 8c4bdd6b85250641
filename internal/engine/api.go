package engine

import (
	"path/filepath"

	"github.com/forgepack/bundler/internal/project"
)

// bundleAPI is the project.UseAPI / project.ResourceAPI implementation
// handed to a package's on_use/on_test handler and, in turn, to whatever
// extension handlers that call triggers. One is created per Use/
// IncludeTests invocation, scoped to the package it was created for.
type bundleAPI struct {
	bundle   *Bundle
	pkg      *project.Package
	forTests bool
}

var (
	_ project.UseAPI      = (*bundleAPI)(nil)
	_ project.ResourceAPI = (*bundleAPI)(nil)
)

// Use resolves each named package and processes it for where, recursively,
// recording the using edge from this package to each one (spec §4.4
// "Bundle.use(pkg, where, from)").
func (a *bundleAPI) Use(names []string, where []project.Environment) error {
	for _, name := range names {
		if err := a.bundle.useFromByName(a.pkg, name, where); err != nil {
			return err
		}
	}
	return nil
}

// AddFiles dispatches each path to the extension handler registered for its
// extension (pkg's own registration, or one registered by a package in
// pkg's using set; see resolveExtensionHandler), which turns it into one
// or more typed resources. A file with no registered handler is emitted as
// a static resource (spec §4.4 "zero candidates → treat as static").
func (a *bundleAPI) AddFiles(paths []string, where []project.Environment) error {
	for _, relPath := range paths {
		ext := extensionOf(relPath)
		handler, ok, err := a.bundle.resolveExtensionHandler(a.pkg, ext)
		if err != nil {
			return err
		}

		sourcePath := filepath.Join(a.pkg.SourceRoot, filepath.FromSlash(relPath))
		serve := servePath(a.pkg, relPath)

		if !ok {
			if err := a.AddResource(project.ResourceOptions{
				Type:       project.ResourceStatic,
				Where:      where,
				Path:       serve,
				SourceFile: sourcePath,
			}); err != nil {
				return err
			}
			continue
		}

		if err := handler(a, sourcePath, serve, where); err != nil {
			return err
		}
	}
	return nil
}

// RegisteredExtensions lists the extensions resolvable for this package,
// combining its own registrations with the engine's built-in defaults.
func (a *bundleAPI) RegisteredExtensions() []string {
	seen := make(map[string]bool)
	var out []string
	for ext := range a.pkg.Extensions() {
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	for _, ext := range []string{"js", "css", "html"} {
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}

// Error records a soft, handler-reported error (spec §7): bundling
// continues, but the message surfaces in the final result.
func (a *bundleAPI) Error(message string) {
	a.bundle.recordError("package %s: %s", a.pkg.Name, message)
}

// AddResource appends a processed resource to the bundle.
func (a *bundleAPI) AddResource(opts project.ResourceOptions) error {
	return a.bundle.addResource(a.pkg, opts)
}

func extensionOf(relPath string) string {
	ext := filepath.Ext(relPath)
	if ext == "" {
		return ""
	}
	return ext[1:]
}
