package ranker

import (
	"strings"

	"github.com/rawblock/lumen-gateway/internal/indexer"
)

var previewableExts = map[string]bool{
	"pdf": true, "docx": true, "epub": true, "html": true, "htm": true, "txt": true,
}

// Suppress implements spec.md §4.H's heuristic suppression filters,
// returning true if hit should be dropped from results.
func Suppress(hit indexer.Hit, tags Tags) bool {
	if hit.Mime == "application/octet-stream" && !hintsPreviewable(hit) {
		return true
	}
	if isPDFXrefFragment(hit) {
		return true
	}
	if isBrokenPDFExtraction(hit, tags) {
		return true
	}
	if isEPUBZipLeak(hit) {
		return true
	}
	if isLowSignalText(hit, tags) {
		return true
	}
	if isDirectoryListing(hit, tags) {
		return true
	}
	return false
}

func hintsPreviewable(hit indexer.Hit) bool {
	ext := strings.ToLower(strings.TrimPrefix(hit.ExtGuess, "."))
	if previewableExts[ext] {
		return true
	}
	lowerPath := strings.ToLower(hit.Path)
	for ext := range previewableExts {
		if strings.HasSuffix(lowerPath, "."+ext) {
			return true
		}
	}
	return false
}

// isPDFXrefFragment drops chunks that are PDF cross-reference tables or
// dictionary boilerplate rather than real document content.
func isPDFXrefFragment(hit indexer.Hit) bool {
	snippet := strings.ToLower(Snippet(hit))
	return strings.Contains(snippet, "xref") && strings.Contains(snippet, "startxref") ||
		strings.Contains(snippet, "/type /objstm") ||
		strings.Contains(snippet, "endobj") && strings.Contains(snippet, "/filter")
}

func isBrokenPDFExtraction(hit indexer.Hit, tags Tags) bool {
	if tags.ContentClass != "pdf_extraction_failed" {
		return false
	}
	return len(tags.Tokens) == 0
}

// isEPUBZipLeak drops previews where the raw ZIP container leaked through
// instead of extracted text.
func isEPUBZipLeak(hit indexer.Hit) bool {
	snippet := Snippet(hit)
	if strings.HasPrefix(snippet, "PK") {
		return true
	}
	for _, marker := range []string{"mimetypeapplication/epub+zip", "local file header"} {
		if strings.Contains(strings.ToLower(snippet), marker) {
			return true
		}
	}
	return false
}

func isLowSignalText(hit indexer.Hit, tags Tags) bool {
	if hit.Kind != "text" {
		return false
	}
	if hit.Path != "" || hit.Title != "" || Snippet(hit) != "" {
		return false
	}
	if len(tags.Tokens) == 0 {
		return true
	}
	multiWordDominant := 0
	for tok := range tags.Tokens {
		if strings.Contains(tok, " ") || strings.Contains(tok, "-") {
			multiWordDominant++
		}
	}
	return multiWordDominant == len(tags.Tokens)
}

func isDirectoryListing(hit indexer.Hit, tags Tags) bool {
	title := strings.ToLower(hit.Title)
	if strings.HasPrefix(title, "index of") {
		return true
	}
	if tags.ContentClass == "directory_listing" {
		return true
	}
	snippet := strings.ToLower(Snippet(hit))
	return strings.Contains(snippet, "index of /") || strings.Contains(title, "directory listing")
}
