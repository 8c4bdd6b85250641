// Package extension provides the built-in ExtensionHandler implementations
// that back a package.yaml's register_extension entries, and the default
// handlers the bundling engine applies to plain .js/.css/.html source files
// when no package registers its own handler for them. Concrete minifiers and
// richer per-language transforms are injected collaborators (spec §4.5);
// this package supplies identity/passthrough defaults for the handlers
// that need no such transform.
package extension

import (
	"fmt"
	"os"
	"strings"

	"github.com/forgepack/bundler/internal/project"
)

// Passthrough returns an ExtensionHandler that emits the source file
// unmodified as a single resource of resourceType.
// This is the default handler a package.yaml can reference by name for any
// extension that needs no special handling.
func Passthrough(resourceType project.ResourceType) project.ExtensionHandler {
	return func(api project.ResourceAPI, sourcePath, servePath string, where []project.Environment) error {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sourcePath, err)
		}
		return api.AddResource(project.ResourceOptions{
			Type:  resourceType,
			Where: where,
			Path:  servePath,
			Data:  data,
		})
	}
}

// Builtins is the name -> handler table a declarative package.yaml's
// register_extension section resolves against (spec §4.2). Package authors
// cannot supply arbitrary code in this substitution of package.js, so the
// set of referenceable handlers is closed; see SPEC_FULL.md §4.2.
var Builtins = map[string]project.ExtensionHandler{
	"static": Passthrough(project.ResourceStatic),
	"js":     Passthrough(project.ResourceJS),
	"css":    Passthrough(project.ResourceCSS),
}

// DefaultForExtension returns the engine's built-in handling for a plain
// source extension, used when no package (including the app itself)
// registers its own handler for that extension.
func DefaultForExtension(ext string) (project.ExtensionHandler, bool) {
	switch strings.ToLower(ext) {
	case "js":
		return Passthrough(project.ResourceJS), true
	case "css":
		return Passthrough(project.ResourceCSS), true
	case "html":
		return htmlHandler, true
	default:
		return nil, false
	}
}

// htmlHandler splits a .html source file into <head>/<body> resources. The
// app's own HTML templates declare <head>...</head> and <body>...</body>
// sections; anything outside those tags is ignored, matching the "head and
// body resources" shape of spec §4.4's add_resource contract. There is no
// general HTML/template parser in scope here (§1) — this is a minimal,
// literal tag split, not an HTML parser.
func htmlHandler(api project.ResourceAPI, sourcePath, servePath string, where []project.Environment) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", sourcePath, err)
	}

	content := string(data)
	if head, ok := extractTag(content, "head"); ok {
		if err := api.AddResource(project.ResourceOptions{
			Type:  project.ResourceHead,
			Where: where,
			Data:  []byte(head),
		}); err != nil {
			return err
		}
	}
	if body, ok := extractTag(content, "body"); ok {
		if err := api.AddResource(project.ResourceOptions{
			Type:  project.ResourceBody,
			Where: where,
			Data:  []byte(body),
		}); err != nil {
			return err
		}
	}
	return nil
}

func extractTag(content, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(content, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(content[start:], close)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(content[start : start+end]), true
}
