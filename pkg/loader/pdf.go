package loader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/xhad/lore/internal/models"
)

// loadPDF produces one document per page so page numbers stay usable as
// retrieval metadata.
func (l *Loader) loadPDF(source string, extra map[string]interface{}) (docs []models.Document, err error) {
	// ledongthuc/pdf panics on malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("%w: parsing %s: %v", ErrSourceUnavailable, source, r)
		}
	}()

	f, reader, err := pdf.Open(source)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrSourceUnavailable, source, err)
	}
	defer f.Close()

	title := titleFromFilename(source)
	total := reader.NumPage()

	for pageNum := 1; pageNum <= total; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		lines := trimLines(pageLines(page), l.config.PDFTrimTop, l.config.PDFTrimBottom)
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if content == "" {
			continue
		}

		meta := baseMetadata(source, "pdf", extra)
		meta["page"] = pageNum
		meta["pages"] = total

		docs = append(docs, models.Document{
			ID:       uuid.NewString(),
			Source:   source,
			Title:    title,
			Content:  content,
			Metadata: meta,
		})
	}
	return docs, nil
}

// pageLines reconstructs text lines from the page's positioned text
// runs: rows grouped by Y, top of the page first, runs ordered by X.
func pageLines(page pdf.Page) []string {
	content := page.Content()
	rows := make(map[float64][]pdf.Text)
	for _, t := range content.Text {
		rows[t.Y] = append(rows[t.Y], t)
	}

	ys := make([]float64, 0, len(rows))
	for y := range rows {
		ys = append(ys, y)
	}
	// PDF y grows upward.
	sort.Sort(sort.Reverse(sort.Float64Slice(ys)))

	lines := make([]string, 0, len(ys))
	for _, y := range ys {
		runs := rows[y]
		sort.Slice(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

		var b strings.Builder
		for _, run := range runs {
			b.WriteString(run.S)
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func trimLines(lines []string, top, bottom int) []string {
	if top < 0 {
		top = 0
	}
	if bottom < 0 {
		bottom = 0
	}
	if top+bottom >= len(lines) {
		return nil
	}
	return lines[top : len(lines)-bottom]
}
