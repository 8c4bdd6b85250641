// Package engine implements the bundling engine (spec §4.4): resolving a
// package dependency graph starting from the app, classifying and
// collecting source files per environment, running extension handlers to
// turn them into typed resources, and emitting the result as an on-disk
// bundle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/forgepack/bundler/internal/extension"
	"github.com/forgepack/bundler/internal/project"
	"github.com/forgepack/bundler/internal/registry"
)

// packageResolver is the subset of *registry.Registry the engine depends
// on, narrowed so tests can supply a fake.
type packageResolver interface {
	Get(ctx context.Context, name string) (*project.Package, error)
}

var _ packageResolver = (*registry.Registry)(nil)

// Bundle accumulates the result of resolving and processing one app's
// package graph. It is single-use: create one per Bundle() call.
type Bundle struct {
	mu sync.Mutex

	ctx context.Context
	reg packageResolver
	log *slog.Logger

	infos      map[int64]*bundlingInfo
	inProgress map[int64]bool

	resources []resource
	errors    []string
}

// bundlingInfo tracks, per package, which canonical environment sets
// on_use and on_test have already fired for (spec §3: "use() is
// idempotent per canonical where set"), plus the set of packages it has
// itself pulled in via use() (spec §3 "using"), keyed by package id.
type bundlingInfo struct {
	pkg         *project.Package
	usedWhere   map[string]bool
	testedWhere map[string]bool
	using       map[int64]*bundlingInfo
}

// New creates an empty Bundle. ctx scopes every registry lookup performed
// during this bundle's Use/IncludeTests calls.
func New(ctx context.Context, reg packageResolver, log *slog.Logger) *Bundle {
	if log == nil {
		log = slog.Default()
	}
	return &Bundle{
		ctx:        ctx,
		reg:        reg,
		log:        log,
		infos:      make(map[int64]*bundlingInfo),
		inProgress: make(map[int64]bool),
	}
}

// Errors returns the soft errors accumulated by handler.Error calls, in
// the order they occurred.
func (b *Bundle) Errors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.errors))
	copy(out, b.errors)
	return out
}

// Packages returns every package this bundle has resolved so far (spec §6
// "test packages" build option iterates these to run IncludeTests).
func (b *Bundle) Packages() []*project.Package {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*project.Package, 0, len(b.infos))
	for _, info := range b.infos {
		out = append(out, info.pkg)
	}
	return out
}

func (b *Bundle) recordError(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

func (b *Bundle) infoFor(pkg *project.Package) *bundlingInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.infos[pkg.ID]
	if !ok {
		info = &bundlingInfo{
			pkg:         pkg,
			usedWhere:   make(map[string]bool),
			testedWhere: make(map[string]bool),
			using:       make(map[int64]*bundlingInfo),
		}
		b.infos[pkg.ID] = info
	}
	return info
}

// canonicalKey reduces an environment set to a sorted, deduplicated,
// comparable string, so that e.g. [client, server] and [server, client]
// are recognized as the same use() call (spec §3).
func canonicalKey(where []project.Environment) string {
	seen := make(map[project.Environment]bool, len(where))
	var uniq []string
	for _, e := range where {
		if seen[e] {
			continue
		}
		seen[e] = true
		uniq = append(uniq, string(e))
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ",")
}

// Use resolves pkg's on_use handler for the given environment set,
// recursively resolving whatever it in turn uses. A second Use call for a
// where set already processed is a no-op (idempotence, spec §3). A
// dependency cycle through the using graph is a fatal error.
func (b *Bundle) Use(pkg *project.Package, where []project.Environment) error {
	return b.use(nil, pkg, where)
}

// UseByName resolves name through the registry, then calls Use on it.
func (b *Bundle) UseByName(name string, where []project.Environment) error {
	pkg, err := b.reg.Get(b.ctx, name)
	if err != nil {
		return fmt.Errorf("resolving package %q: %w", name, err)
	}
	return b.Use(pkg, where)
}

// useFromByName resolves name through the registry, records the using edge
// from -> name, and calls use on it (spec §4.4 "Bundle.use(pkg, where,
// from)" step 2).
func (b *Bundle) useFromByName(from *project.Package, name string, where []project.Environment) error {
	pkg, err := b.reg.Get(b.ctx, name)
	if err != nil {
		return fmt.Errorf("resolving package %q: %w", name, err)
	}
	return b.use(from, pkg, where)
}

func (b *Bundle) use(from, pkg *project.Package, where []project.Environment) error {
	key := canonicalKey(where)
	info := b.infoFor(pkg)

	var fromInfo *bundlingInfo
	if from != nil {
		fromInfo = b.infoFor(from)
	}

	b.mu.Lock()
	if fromInfo != nil {
		fromInfo.using[pkg.ID] = info
	}
	if b.inProgress[pkg.ID] {
		b.mu.Unlock()
		return fmt.Errorf("cyclic package use involving %q", pkg.Name)
	}
	if info.usedWhere[key] {
		b.mu.Unlock()
		return nil
	}
	info.usedWhere[key] = true
	b.inProgress[pkg.ID] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.inProgress, pkg.ID)
		b.mu.Unlock()
	}()

	handler := pkg.OnUseHandler()
	if handler == nil {
		return nil
	}

	api := &bundleAPI{bundle: b, pkg: pkg}
	return handler(api, where)
}

// IncludeTests resolves pkg's on_test handler for the given environment
// set, with the same idempotence and cycle-detection behavior as Use.
func (b *Bundle) IncludeTests(pkg *project.Package, where []project.Environment) error {
	key := canonicalKey(where)
	info := b.infoFor(pkg)

	b.mu.Lock()
	if info.testedWhere[key] {
		b.mu.Unlock()
		return nil
	}
	if b.inProgress[pkg.ID] {
		b.mu.Unlock()
		return fmt.Errorf("cyclic package use involving %q", pkg.Name)
	}
	info.testedWhere[key] = true
	b.inProgress[pkg.ID] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.inProgress, pkg.ID)
		b.mu.Unlock()
	}()

	handler := pkg.OnTestHandler()
	if handler == nil {
		return nil
	}

	api := &bundleAPI{bundle: b, pkg: pkg, forTests: true}
	return handler(api, where)
}

// resolveExtensionHandler finds the handler that should process ext for
// pkg: candidates are pkg's own registration plus every handler registered
// by a package in pkg's using set (spec §4.4 "Handler lookup for an
// extension"). Zero candidates falls back to the engine's built-in default
// for that extension (treated as static, effectively, once no package
// claims it). Two or more candidates is a fatal conflict.
func (b *Bundle) resolveExtensionHandler(pkg *project.Package, ext string) (project.ExtensionHandler, bool, error) {
	info := b.infoFor(pkg)

	b.mu.Lock()
	using := make([]*bundlingInfo, 0, len(info.using))
	for _, childInfo := range info.using {
		using = append(using, childInfo)
	}
	b.mu.Unlock()

	var candidates []project.ExtensionHandler
	if handler, ok := pkg.Extensions()[ext]; ok {
		candidates = append(candidates, handler)
	}
	for _, childInfo := range using {
		if handler, ok := childInfo.pkg.Extensions()[ext]; ok {
			candidates = append(candidates, handler)
		}
	}

	switch len(candidates) {
	case 0:
		handler, ok := extension.DefaultForExtension(ext)
		return handler, ok, nil
	case 1:
		return candidates[0], true, nil
	default:
		return nil, false, fmt.Errorf("package %s: extension %q has %d conflicting handlers registered in its using set", pkg.Name, ext, len(candidates))
	}
}

func servePath(pkg *project.Package, relPath string) string {
	return path.Join(pkg.ServeRoot, relPath)
}

// containsEnv reports whether env appears in where.
func containsEnv(where []project.Environment, env project.Environment) bool {
	for _, e := range where {
		if e == env {
			return true
		}
	}
	return false
}
