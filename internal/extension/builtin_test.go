package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgepack/bundler/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResourceAPI struct {
	resources []project.ResourceOptions
}

func (f *fakeResourceAPI) AddResource(opts project.ResourceOptions) error {
	f.resources = append(f.resources, opts)
	return nil
}

func TestPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "widget.js")
	require.NoError(t, os.WriteFile(src, []byte("window.widget = true;"), 0o644))

	api := &fakeResourceAPI{}
	handler := Passthrough(project.ResourceJS)
	where := []project.Environment{project.EnvClient}

	require.NoError(t, handler(api, src, "/packages/widget/widget.js", where))
	require.Len(t, api.resources, 1)

	got := api.resources[0]
	assert.Equal(t, project.ResourceJS, got.Type)
	assert.Equal(t, "/packages/widget/widget.js", got.Path)
	assert.Equal(t, where, got.Where)
	assert.Equal(t, "window.widget = true;", string(got.Data))
}

func TestPassthrough_MissingFile(t *testing.T) {
	api := &fakeResourceAPI{}
	handler := Passthrough(project.ResourceStatic)
	err := handler(api, filepath.Join(t.TempDir(), "missing.png"), "/static/missing.png", nil)
	assert.Error(t, err)
}

func TestDefaultForExtension(t *testing.T) {
	for _, ext := range []string{"js", "JS", "css", "html"} {
		handler, ok := DefaultForExtension(ext)
		assert.True(t, ok, "extension %q should resolve", ext)
		assert.NotNil(t, handler)
	}

	_, ok := DefaultForExtension("coffee")
	assert.False(t, ok)
}

func TestHTMLHandler(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.html")
	require.NoError(t, os.WriteFile(src, []byte(`
<head>
  <title>My App</title>
</head>
<body>
  <div id="root"></div>
</body>
`), 0o644))

	api := &fakeResourceAPI{}
	handler, ok := DefaultForExtension("html")
	require.True(t, ok)
	require.NoError(t, handler(api, src, "/app.html", []project.Environment{project.EnvClient}))

	require.Len(t, api.resources, 2)
	assert.Equal(t, project.ResourceHead, api.resources[0].Type)
	assert.Contains(t, string(api.resources[0].Data), "<title>My App</title>")
	assert.Equal(t, project.ResourceBody, api.resources[1].Type)
	assert.Contains(t, string(api.resources[1].Data), `<div id="root"></div>`)
}

func TestHTMLHandler_NoTags(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fragment.html")
	require.NoError(t, os.WriteFile(src, []byte("<p>just a fragment</p>"), 0o644))

	api := &fakeResourceAPI{}
	require.NoError(t, htmlHandler(api, src, "/fragment.html", nil))
	assert.Empty(t, api.resources)
}

func TestExtractTag(t *testing.T) {
	body, ok := extractTag("<body> hello </body>", "body")
	require.True(t, ok)
	assert.Equal(t, "hello", body)

	_, ok = extractTag("<body>unterminated", "body")
	assert.False(t, ok)

	_, ok = extractTag("no tags here", "head")
	assert.False(t, ok)
}
