// Package project implements the package model and loader (spec §3, §4.2):
// representing an app, a library package, or a package collection as a
// uniform entity with declarative metadata and source-file registration.
package project

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Environment tags a resource by where it runs.
type Environment string

// Recognized environments.
const (
	EnvClient Environment = "client"
	EnvServer Environment = "server"
	EnvTests  Environment = "tests"
)

// Valid reports whether e is one of the recognized environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvClient, EnvServer, EnvTests:
		return true
	default:
		return false
	}
}

var nextPackageID atomic.Int64

// Metadata carries a package's describe() fields.
type Metadata struct {
	Summary      string
	Internal     bool
	Environments []Environment
}

// UseAPI is the handle an on_use/on_test handler uses to declare
// dependencies and source files (spec §3 "API handle").
type UseAPI interface {
	Use(names []string, where []Environment) error
	AddFiles(paths []string, where []Environment) error
	RegisteredExtensions() []string
	Error(message string)
}

// OnUseHandler is invoked once per canonical environment set a package is
// used in.
type OnUseHandler func(api UseAPI, where []Environment) error

// ExtensionHandler transforms a single source file into bundle resources
// via the ResourceAPI it is given. The concrete JS/CSS/HTML/template
// transformers are out of scope (§1) — this is the seam they plug into.
type ExtensionHandler func(api ResourceAPI, sourcePath, servePath string, where []Environment) error

// ResourceAPI is the sink extension handlers call back into (spec
// §4.4 "Bundle.api.add_resource").
type ResourceAPI interface {
	AddResource(opts ResourceOptions) error
}

// ResourceType enumerates the kinds of resource add_resource accepts.
type ResourceType string

// Resource type constants (spec §4.4).
const (
	ResourceJS     ResourceType = "js"
	ResourceCSS    ResourceType = "css"
	ResourceHead   ResourceType = "head"
	ResourceBody   ResourceType = "body"
	ResourceStatic ResourceType = "static"
)

// ResourceOptions mirrors add_resource's option bag.
type ResourceOptions struct {
	Type       ResourceType
	Where      []Environment
	Path       string // Required for js, css, static; ignored for head, body.
	Data       []byte // Takes precedence over SourceFile when non-nil.
	SourceFile string // Absolute path to read if Data is nil.
}

// Package represents an app, a library package, or a collection (spec §3).
// Which variant it is follows from which fields/handlers are populated:
// Name is empty for the app and for collections; SourceRoot is empty for
// collections; at most one of OnUseHandler/OnTestHandler fires per
// variant's synthesized behavior (§4.2), though user packages may set
// both.
type Package struct {
	mu sync.Mutex

	ID int64

	Name       string
	SourceRoot string // Absolute; empty for collections.
	ServeRoot  string // "/" for the app, "/packages/<name>" for a library package.

	Metadata Metadata

	onUseHandler  OnUseHandler
	onUseSet      bool
	onTestHandler OnUseHandler
	onTestSet     bool

	extensions map[string]ExtensionHandler
}

// New allocates a Package with a fresh, process-local monotonic id.
func New(name, sourceRoot, serveRoot string) *Package {
	return &Package{
		ID:         nextPackageID.Add(1),
		Name:       name,
		SourceRoot: sourceRoot,
		ServeRoot:  serveRoot,
		extensions: make(map[string]ExtensionHandler),
	}
}

// Describe merges metadata into the package (additive; later calls
// overwrite only the fields they set).
func (p *Package) Describe(meta Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if meta.Summary != "" {
		p.Metadata.Summary = meta.Summary
	}
	p.Metadata.Internal = p.Metadata.Internal || meta.Internal
	if len(meta.Environments) > 0 {
		p.Metadata.Environments = meta.Environments
	}
}

// OnUse sets the package's on-use handler. A second call is a fatal error
// (spec §4.2 "duplicate call is an error").
func (p *Package) OnUse(fn OnUseHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onUseSet {
		return fmt.Errorf("package %s: on_use already declared", p.displayName())
	}
	p.onUseHandler = fn
	p.onUseSet = true
	return nil
}

// OnTest sets the package's on-test handler. A second call is a fatal
// error.
func (p *Package) OnTest(fn OnUseHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onTestSet {
		return fmt.Errorf("package %s: on_test already declared", p.displayName())
	}
	p.onTestHandler = fn
	p.onTestSet = true
	return nil
}

// RegisterExtension registers handler for ext (without leading dot).
// Registering the same extension twice on one package is a fatal error.
func (p *Package) RegisterExtension(ext string, handler ExtensionHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.extensions[ext]; exists {
		return fmt.Errorf("package %s: extension %q already registered", p.displayName(), ext)
	}
	p.extensions[ext] = handler
	return nil
}

// OnUseHandler returns the package's on-use handler, or nil if none was
// declared.
func (p *Package) OnUseHandler() OnUseHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onUseHandler
}

// OnTestHandler returns the package's on-test handler, or nil if none was
// declared.
func (p *Package) OnTestHandler() OnUseHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onTestHandler
}

// Extensions returns a snapshot of the package's own registered
// extension handlers, keyed by extension without a leading dot.
func (p *Package) Extensions() map[string]ExtensionHandler {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ExtensionHandler, len(p.extensions))
	for ext, handler := range p.extensions {
		out[ext] = handler
	}
	return out
}

func (p *Package) displayName() string {
	if p.Name == "" {
		return "<app>"
	}
	return p.Name
}
