// Package extractor turns raw PDF bytes into ordered plain-text pages.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"docqa/internal/models"

	"github.com/ledongthuc/pdf"
)

/*
LEARNING: PDF TEXT IS NOT TEXT

A PDF page is a drawing program: "move to (x, y), paint these glyphs".
There is no reading order, no words, no lines. We rebuild them from glyph
positions (see layout.go): glyphs sharing a baseline form a line, a
horizontal gap forms a word break, an empty vertical band forms a gutter
between columns. This is approximate; scanned pages have no glyphs at all.
*/

var pdfMagic = []byte("%PDF-")

// Extractor reads PDFs with github.com/ledongthuc/pdf.
type Extractor struct {
	maxPages int
}

// New creates an extractor. maxPages <= 0 means no limit.
func New(maxPages int) *Extractor {
	return &Extractor{maxPages: maxPages}
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// Extract returns one entry per page, 1-based and in document order. Pages
// without text are kept (with empty Text) so page numbers stay aligned.
// Every failure is reported as models.ErrUnreadablePDF.
func (e *Extractor) Extract(ctx context.Context, data []byte) (pages []models.Page, err error) {
	if !IsPDF(data) {
		return nil, fmt.Errorf("%w: missing %%PDF- header", models.ErrUnreadablePDF)
	}

	// The parser panics on malformed objects rather than returning errors
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", models.ErrUnreadablePDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadablePDF, err)
	}

	numPages := reader.NumPage()
	if numPages <= 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrUnreadablePDF)
	}
	if e.maxPages > 0 && numPages > e.maxPages {
		return nil, fmt.Errorf("%w: %d pages exceeds limit of %d", models.ErrUnreadablePDF, numPages, e.maxPages)
	}

	pages = make([]models.Page, 0, numPages)
	hasText := false
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text := pageText(reader.Page(i))
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		pages = append(pages, models.Page{Number: i, Text: text})
	}

	if !hasText {
		return nil, fmt.Errorf("%w: no extractable text", models.ErrUnreadablePDF)
	}

	return pages, nil
}

// pageText lays out positioned glyphs, falling back to the library's
// stream-order text when the content has no usable positions.
func pageText(p pdf.Page) string {
	if p.V.IsNull() {
		return ""
	}

	if text, ok := positionedText(p); ok {
		return text
	}

	plain, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return normalize(plain)
}

func positionedText(p pdf.Page) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()

	content := p.Content()
	glyphs := make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}

	text = layoutPage(glyphs)
	return text, strings.TrimSpace(text) != ""
}
