package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadText(t *testing.T) {
	l := New()
	path := writeFile(t, "polar_bears.txt", "Iorek dreams of armor.\nHe is the king of Svalbard.")

	docs, err := l.LoadWithMetadata(context.Background(), path, map[string]interface{}{
		"location": "North Pole",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, path, doc.Source)
	assert.Equal(t, "polar bears", doc.Title)
	assert.Equal(t, "Iorek dreams of armor.\nHe is the king of Svalbard.", doc.Content)
	assert.Equal(t, "text", doc.Metadata["format"])
	assert.Equal(t, path, doc.Metadata["source"])
	assert.Equal(t, "North Pole", doc.Metadata["location"])
}

func TestLoadTextMissingFile(t *testing.T) {
	l := New()

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLoadMarkdown(t *testing.T) {
	l := New()
	content := `# The Far North

Some text about [bears](https://example.com/bears) and ice.

` + "```go\nfmt.Println(\"dropped\")\n```" + `

- armored
- exiled
`
	path := writeFile(t, "north.md", content)

	docs, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "The Far North", doc.Title)
	assert.Equal(t, "markdown", doc.Metadata["format"])
	assert.Contains(t, doc.Content, "Some text about bears and ice.")
	assert.Contains(t, doc.Content, "armored")
	assert.NotContains(t, doc.Content, "```")
	assert.NotContains(t, doc.Content, "Println")
	assert.NotContains(t, doc.Content, "](")
	assert.NotContains(t, doc.Content, "# ")
}

func TestLoadMarkdownTitleFallback(t *testing.T) {
	l := New()
	path := writeFile(t, "travel_notes.md", "No heading here, just prose.")

	docs, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "travel notes", docs[0].Title)
}

func TestLoadWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html>
			<head><title>Bear Facts</title></head>
			<body>
				<nav>Skip this navigation</nav>
				<main>Polar bears rule the North Pole. Cookie Policy</main>
			</body>
		</html>`))
	}))
	defer srv.Close()

	l := New()
	docs, err := l.LoadWithMetadata(context.Background(), srv.URL, map[string]interface{}{
		"location": "North Pole",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "Bear Facts", doc.Title)
	assert.Equal(t, "Polar bears rule the North Pole.", doc.Content)
	assert.Equal(t, "web", doc.Metadata["format"])
	assert.Equal(t, "North Pole", doc.Metadata["location"])
	assert.Contains(t, doc.Metadata["contentType"], "text/html")
}

func TestLoadWebServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := New()
	_, err := l.Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLoadWebUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	l := New()
	_, err := l.Load(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLoadPDFMissing(t *testing.T) {
	l := New()

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLoadPDFMalformed(t *testing.T) {
	l := New()
	path := writeFile(t, "broken.pdf", "this is not a pdf at all")

	_, err := l.Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestTrimLines(t *testing.T) {
	lines := []string{"header", "one", "two", "footer"}

	assert.Equal(t, lines, trimLines(lines, 0, 0))
	assert.Equal(t, []string{"one", "two", "footer"}, trimLines(lines, 1, 0))
	assert.Equal(t, []string{"one", "two"}, trimLines(lines, 1, 1))
	assert.Nil(t, trimLines(lines, 2, 2))
	assert.Equal(t, lines, trimLines(lines, -1, -1))
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "polar bears", titleFromFilename("/tmp/polar_bears.txt"))
	assert.Equal(t, "travel notes", titleFromFilename("travel-notes.md"))
	assert.Equal(t, "plain", titleFromFilename("plain"))
}
