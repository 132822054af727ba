package services

import (
	"strings"

	"github.com/grasshoppersolutions/convocatorias/internal/firecrawl"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

const (
	// PageSeparator joins page markdown into one document.
	PageSeparator = "\n\n---\n\n"
	// PageBreak joins source-labelled pages of a site crawl.
	PageBreak = "\n\n---PAGE BREAK---\n\n"
)

// Normalize drops pages without markdown and keeps the service's order.
// The url falls back to metadata.sourceURL when the page has none.
func Normalize(pages []firecrawl.Page) []models.Entry {
	entries := make([]models.Entry, 0, len(pages))
	for _, page := range pages {
		if strings.TrimSpace(page.Markdown) == "" {
			continue
		}
		entry := models.Entry{URL: page.URL, Markdown: page.Markdown}
		if entry.URL == "" {
			if src, ok := page.Metadata["sourceURL"].(string); ok {
				entry.URL = src
			}
		}
		if len(page.Metadata) > 0 {
			entry.Metadata = page.Metadata
		}
		entries = append(entries, entry)
	}
	return entries
}

// CombineMarkdown joins entry markdown with PageSeparator.
func CombineMarkdown(entries []models.Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Markdown
	}
	return strings.Join(parts, PageSeparator)
}

// CombineWithSources prefixes each page with its URL and joins with PageBreak.
func CombineWithSources(entries []models.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString(PageBreak)
		}
		b.WriteString("[URL: ")
		b.WriteString(e.URL)
		b.WriteString("]\n")
		b.WriteString(e.Markdown)
	}
	return b.String()
}
