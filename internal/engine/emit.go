package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/sprig/v3"

	"github.com/forgepack/bundler/internal/common"
	"github.com/forgepack/bundler/internal/project"
)

// EmitOptions controls the final write_to_directory pass (spec §4.6).
type EmitOptions struct {
	Minifier Minifier // Defaults to IdentityMinifier when nil.
	NoMinify bool

	// PublicDir, if non-empty and present on disk, is the app's public/
	// static-asset directory (spec §4.6 step 5); its contents are copied
	// verbatim into static/.
	PublicDir string

	// ServerRuntimeDir, if non-empty, is copied into server/ (spec §4.6
	// step 2: "copy the framework's runtime server directory"). The
	// runtime server itself is an out-of-scope external collaborator
	// (spec §1); omitting this just leaves server/ holding node_modules.
	ServerRuntimeDir string
}

// ManifestEntry is one resource-manifest entry (spec §6 "Resource entry
// fields"). Where is always "client": server-side files are tracked only
// via Load, never listed here (see DESIGN.md for this reading of §6 vs
// §8's broader round-trip wording).
type ManifestEntry struct {
	Path      string `json:"path"`
	Where     string `json:"where"`
	Type      string `json:"type"`
	Cacheable bool   `json:"cacheable"`
	URL       string `json:"url"`
	Size      int    `json:"size"`
	Hash      string `json:"hash"`
}

// Manifest is app.json's shape (spec §6): the server load order plus the
// content-addressed description of every client-visible file.
type Manifest struct {
	Load     []string        `json:"load"`
	Manifest []ManifestEntry `json:"manifest"`
}

// Dependencies is dependencies.json's shape (spec §6).
type Dependencies struct {
	Extensions []string            `json:"extensions"`
	Packages   map[string][]string `json:"packages"`
	Core       []string            `json:"core"`
	App        []string            `json:"app"`
	Exclude    []string            `json:"exclude"`
}

// ManifestFile is the manifest's fixed filename at the bundle root.
const ManifestFile = "app.json"

// AppHTMLFile is the rendered HTML shell's fixed filename at the bundle
// root.
const AppHTMLFile = "app.html"

// DependenciesFile is dependencies.json's fixed filename at the bundle
// root.
const DependenciesFile = "dependencies.json"

// MainJSFile is the bundle's one-line entry point (spec §4.6 step 12).
const MainJSFile = "main.js"

// ReadmeFile and UnsupportedHTMLFile are the remaining fixed bundle-root
// files spec §6's directory layout names.
const (
	ReadmeFile          = "README"
	UnsupportedHTMLFile = "unsupported.html"
)

const mainJSSource = "require('./server/boot.js');\n"

const readmeSource = `This directory is a bundle produced by forgepack. It is self-contained
and ready to run: start server/boot.js with Node.

app.json describes every asset in this bundle and the order server-side
files must load in. dependencies.json lists the source paths that, if
changed, should trigger a rebuild.
`

const unsupportedHTMLSource = `<!DOCTYPE html>
<html><body>
<h1>Unsupported browser</h1>
<p>This application requires a newer browser.</p>
</body></html>
`

// appHTMLTemplateSource is the shell app.html renders from: the head
// fragments contributed by packages go into <head>, the body fragments
// into <body>, followed by the client JS/CSS bundle tags. Grounded on
// internal/compose/web.go's parseTemplates + sprig.FuncMap() idiom.
const appHTMLTemplateSource = `<!DOCTYPE html>
<html>
<head>
{{- range .Head }}
{{ . }}
{{- end }}
{{- range .CSS }}
<link rel="stylesheet" href="{{ .URL }}">
{{- end }}
</head>
<body>
{{- range .Body }}
{{ . }}
{{- end }}
{{- range .JS }}
<script src="{{ .URL }}"></script>
{{- end }}
</body>
</html>
`

// Emit writes the bundle's resources to outputDir, atomically: everything
// is built in a temporary sibling directory, then renamed into place, so a
// failed or concurrent build never leaves outputDir half-written (spec
// §4.6 "write_to_directory").
func (b *Bundle) Emit(outputDir string, opts EmitOptions) error {
	minifier := opts.Minifier
	if minifier == nil {
		minifier = IdentityMinifier{}
	}

	if err := common.MkdirAll(filepath.Dir(outputDir)); err != nil {
		return err
	}
	tempDir, err := os.MkdirTemp(filepath.Dir(outputDir), ".build."+filepath.Base(outputDir)+"-")
	if err != nil {
		return fmt.Errorf("allocating build dir: %w", err)
	}
	defer func() { _ = common.RemoveAll(tempDir) }()

	for _, sub := range []string{"server", "static", "static_cacheable", "app"} {
		if err := common.MkdirAll(filepath.Join(tempDir, sub)); err != nil {
			return err
		}
	}

	var core []string
	if opts.ServerRuntimeDir != "" {
		if _, statErr := os.Stat(opts.ServerRuntimeDir); statErr == nil {
			if err := common.CopyTree(opts.ServerRuntimeDir, filepath.Join(tempDir, "server"), nil); err != nil {
				return fmt.Errorf("copying server runtime: %w", err)
			}
			core = append(core, "server")
		}
	}

	manifest := Manifest{}

	if opts.PublicDir != "" {
		entries, err := writePublicDir(tempDir, opts.PublicDir)
		if err != nil {
			return err
		}
		manifest.Manifest = append(manifest.Manifest, entries...)
	}

	staticEntries, err := b.writeStatic(tempDir)
	if err != nil {
		return err
	}
	manifest.Manifest = append(manifest.Manifest, staticEntries...)

	jsEntries, err := b.writeClientAssets(tempDir, project.ResourceJS, "js", minifier.MinifyJS, opts.NoMinify)
	if err != nil {
		return err
	}
	manifest.Manifest = append(manifest.Manifest, jsEntries...)

	cssEntries, err := b.writeClientAssets(tempDir, project.ResourceCSS, "css", minifier.MinifyCSS, opts.NoMinify)
	if err != nil {
		return err
	}
	manifest.Manifest = append(manifest.Manifest, cssEntries...)

	load, deps, err := b.writeServerFiles(tempDir)
	if err != nil {
		return err
	}
	manifest.Load = load

	head, body := b.collectFragments(project.EnvClient)
	if err := writeAppHTML(tempDir, head, body, jsEntries, cssEntries); err != nil {
		return err
	}

	rawManifest, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ManifestFile), rawManifest, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	dependencies := Dependencies{
		Extensions: []string{},
		Packages:   map[string][]string{},
		Core:       core,
		App:        deps,
		Exclude:    []string{},
	}
	rawDeps, err := json.Marshal(dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, DependenciesFile), rawDeps, 0o644); err != nil {
		return fmt.Errorf("writing dependencies: %w", err)
	}

	if err := os.WriteFile(filepath.Join(tempDir, MainJSFile), []byte(mainJSSource), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", MainJSFile, err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ReadmeFile), []byte(readmeSource), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ReadmeFile, err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, UnsupportedHTMLFile), []byte(unsupportedHTMLSource), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", UnsupportedHTMLFile, err)
	}

	if err := common.RemoveAll(outputDir); err != nil {
		return err
	}
	if err := common.MkdirAll(filepath.Dir(outputDir)); err != nil {
		return err
	}
	if err := os.Rename(tempDir, outputDir); err != nil {
		return fmt.Errorf("finalizing bundle at %s: %w", outputDir, err)
	}

	return nil
}

// collectFragments gathers head/body HTML fragments tagged for env, in
// the order they were added.
func (b *Bundle) collectFragments(env project.Environment) (head, body []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.resources {
		if !containsEnv(r.Where, env) {
			continue
		}
		switch r.Type {
		case project.ResourceHead:
			head = append(head, string(r.Data))
		case project.ResourceBody:
			body = append(body, string(r.Data))
		}
	}
	return head, body
}

// clientResources returns every resource of resourceType tagged for the
// client environment, in insertion order (spec §4.4's load-order note).
func (b *Bundle) clientResources(resourceType project.ResourceType) []resource {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []resource
	for _, r := range b.resources {
		if r.Type == resourceType && containsEnv(r.Where, project.EnvClient) {
			out = append(out, r)
		}
	}
	return out
}

// writeClientAssets implements spec §4.5/§4.6 step 6 for one resource
// type: when minification is enabled, every client resource of this type
// is concatenated into a single content-addressed file in
// static_cacheable/; Server-side files of the same type are never part of
// this (server JS is never minified, §4.5). When minification is
// disabled, each resource keeps its own declared path, moved as-is into
// static_cacheable/ with a "?<sha1>" cache-busting query parameter (spec
// §8 scenario 4) — no concatenation happens at all in this case.
func (b *Bundle) writeClientAssets(tempDir string, resourceType project.ResourceType, kind string, minify func([]byte) ([]byte, error), noMinify bool) ([]ManifestEntry, error) {
	resources := b.clientResources(resourceType)
	if len(resources) == 0 {
		return nil, nil
	}

	if noMinify {
		entries := make([]ManifestEntry, 0, len(resources))
		for _, r := range resources {
			rel := strings.TrimPrefix(r.ServePath, "/")
			dest := filepath.Join(tempDir, "static_cacheable", filepath.FromSlash(rel))
			if err := common.MkdirAll(filepath.Dir(dest)); err != nil {
				return nil, err
			}
			if err := os.WriteFile(dest, r.Data, 0o644); err != nil {
				return nil, fmt.Errorf("writing %s: %w", r.ServePath, err)
			}

			hash := common.SHA1Hex(r.Data)
			entries = append(entries, ManifestEntry{
				Path:      common.ToSlash(filepath.Join("static_cacheable", rel)),
				Where:     "client",
				Type:      kind,
				Cacheable: true,
				URL:       r.ServePath + "?" + hash,
				Size:      len(r.Data),
				Hash:      hash,
			})
		}
		return entries, nil
	}

	parts := make([][]byte, 0, len(resources))
	for _, r := range resources {
		parts = append(parts, r.Data)
	}
	combined := bytes.Join(parts, []byte("\n;\n"))
	if kind == "css" {
		combined = bytes.Join(parts, []byte("\n"))
	}

	final, err := minify(combined)
	if err != nil {
		return nil, fmt.Errorf("minifying client %s bundle: %w", kind, err)
	}

	hash := common.SHA1Hex(final)
	name := hash + "." + kind
	dest := filepath.Join(tempDir, "static_cacheable", name)
	if err := os.WriteFile(dest, final, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", name, err)
	}

	return []ManifestEntry{{
		Path:      common.ToSlash(filepath.Join("static_cacheable", name)),
		Where:     "client",
		Type:      kind,
		Cacheable: true,
		URL:       "/" + name,
		Size:      len(final),
		Hash:      hash,
	}}, nil
}

// writeStatic writes every static resource tagged client under static/ and
// records a non-cacheable manifest entry for each (spec §4.6 step 7).
// Static resources tagged both client and server are written here and
// also under app/ by writeServerFiles.
func (b *Bundle) writeStatic(tempDir string) ([]ManifestEntry, error) {
	resources := b.clientResources(project.ResourceStatic)

	entries := make([]ManifestEntry, 0, len(resources))
	for _, r := range resources {
		rel := strings.TrimPrefix(r.ServePath, "/")
		dest := filepath.Join(tempDir, "static", filepath.FromSlash(rel))
		if err := common.MkdirAll(filepath.Dir(dest)); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dest, r.Data, 0o644); err != nil {
			return nil, fmt.Errorf("writing static asset %s: %w", r.ServePath, err)
		}

		entries = append(entries, ManifestEntry{
			Path:      common.ToSlash(filepath.Join("static", rel)),
			Where:     "client",
			Type:      "static",
			Cacheable: false,
			URL:       r.ServePath,
			Size:      len(r.Data),
			Hash:      common.SHA1Hex(r.Data),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// writePublicDir copies the app's public/ directory into static/ (spec
// §4.6 step 5), recording a non-cacheable manifest entry per file.
func writePublicDir(tempDir, publicDir string) ([]ManifestEntry, error) {
	if _, err := os.Stat(publicDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ManifestEntry
	err := common.CopyTree(publicDir, filepath.Join(tempDir, "static"), func(relPath string, body []byte) (string, []byte, error) {
		url := "/" + common.ToSlash(relPath)
		entries = append(entries, ManifestEntry{
			Path:      common.ToSlash(filepath.Join("static", relPath)),
			Where:     "client",
			Type:      "static",
			Cacheable: false,
			URL:       url,
			Size:      len(body),
			Hash:      common.SHA1Hex(body),
		})
		return relPath, body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("copying public directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// writeServerFiles writes every resource tagged server under app/,
// individually and never concatenated or minified, in bundling insertion
// order, building app.json's server load-order list alongside (spec §4.6
// step 9, §4.4 "load-order is determined twice").
func (b *Bundle) writeServerFiles(tempDir string) (load, deps []string, err error) {
	b.mu.Lock()
	var serverResources []resource
	for _, r := range b.resources {
		if containsEnv(r.Where, project.EnvServer) {
			serverResources = append(serverResources, r)
		}
	}
	b.mu.Unlock()

	for _, r := range serverResources {
		rel := strings.TrimPrefix(r.ServePath, "/")
		dest := filepath.Join(tempDir, "app", filepath.FromSlash(rel))
		if err := common.MkdirAll(filepath.Dir(dest)); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(dest, r.Data, 0o644); err != nil {
			return nil, nil, fmt.Errorf("writing server file %s: %w", r.ServePath, err)
		}

		appPath := common.ToSlash(filepath.Join("app", rel))
		load = append(load, appPath)
		deps = append(deps, appPath)
	}

	return load, deps, nil
}

type appHTMLData struct {
	Head []template.HTML
	Body []template.HTML
	JS   []ManifestEntry
	CSS  []ManifestEntry
}

func writeAppHTML(tempDir string, head, body []string, jsEntries, cssEntries []ManifestEntry) error {
	tmpl, err := template.New("app.html").Funcs(sprig.FuncMap()).Parse(appHTMLTemplateSource)
	if err != nil {
		return fmt.Errorf("parsing app.html template: %w", err)
	}

	var buf bytes.Buffer
	data := appHTMLData{JS: jsEntries, CSS: cssEntries}
	for _, h := range head {
		data.Head = append(data.Head, template.HTML(h)) //nolint:gosec // package-supplied HTML fragments are spliced in verbatim
	}
	for _, f := range body {
		data.Body = append(data.Body, template.HTML(f)) //nolint:gosec
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering app.html: %w", err)
	}

	return os.WriteFile(filepath.Join(tempDir, AppHTMLFile), buf.Bytes(), 0o644)
}
