// Package loader reads documents from local files and web pages. Plain
// text, Markdown and PDF files are recognized by extension; anything
// starting with http:// or https:// is fetched as a web page.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/lore/internal/models"
)

// ErrSourceUnavailable is returned when a source cannot be read at all:
// missing file, unreachable host, non-200 response. Runs that hit it are
// aborted rather than retried.
var ErrSourceUnavailable = errors.New("source unavailable")

type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Lines dropped from the top and bottom of every PDF page, for
	// sources with repeating headers and footers.
	PDFTrimTop    int
	PDFTrimBottom int
}

type Loader struct {
	config Config
	client *http.Client
}

func NewWithConfig(config Config) *Loader {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "lore/1.0"
	}

	return &Loader{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func New() *Loader {
	return NewWithConfig(Config{})
}

// Load reads a file path or URL into documents. PDFs produce one
// document per page; everything else produces a single document.
func (l *Loader) Load(ctx context.Context, source string) ([]models.Document, error) {
	return l.LoadWithMetadata(ctx, source, nil)
}

// LoadWithMetadata works like Load and merges extra metadata into every
// produced document, e.g. a location tag to filter on later.
func (l *Loader) LoadWithMetadata(ctx context.Context, source string, extra map[string]interface{}) ([]models.Document, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.loadWeb(ctx, source, extra)
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".pdf":
		return l.loadPDF(source, extra)
	case ".md", ".markdown":
		return l.loadMarkdown(source, extra)
	default:
		return l.loadText(source, extra)
	}
}

func (l *Loader) loadText(source string, extra map[string]interface{}) ([]models.Document, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, source, err)
	}

	doc := models.Document{
		ID:       uuid.NewString(),
		Source:   source,
		Title:    titleFromFilename(source),
		Content:  string(data),
		Metadata: baseMetadata(source, "text", extra),
	}
	return []models.Document{doc}, nil
}

func baseMetadata(source, format string, extra map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"source": source,
		"format": format,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func titleFromFilename(source string) string {
	filename := filepath.Base(source)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
