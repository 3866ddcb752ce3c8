package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/xhad/lore/internal/models"
)

// Content areas tried in order before falling back to the whole body.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

func (l *Loader) loadWeb(ctx context.Context, source string, extra map[string]interface{}) ([]models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrSourceUnavailable, source, err)
	}
	req.Header.Set("User-Agent", l.config.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrSourceUnavailable, source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status code %d for %s", ErrSourceUnavailable, resp.StatusCode, source)
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrSourceUnavailable, source, err)
	}

	meta := baseMetadata(source, "web", extra)
	meta["contentType"] = resp.Header.Get("Content-Type")
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		meta["lastModified"] = lastModified
	}

	doc := models.Document{
		ID:       uuid.NewString(),
		Source:   source,
		Title:    strings.TrimSpace(page.Find("title").Text()),
		Content:  extractMainContent(page),
		Metadata: meta,
	}
	return []models.Document{doc}, nil
}

func extractMainContent(page *goquery.Document) string {
	var content string
	for _, selector := range contentSelectors {
		if selected := page.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = page.Find("body").Text()
	}
	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}
