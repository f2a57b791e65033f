// Package pdftest builds small, valid text PDFs in memory for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	fontSize   = 10.0
	leading    = 12.0
	topY       = 740.0
	leftMargin = 72.0
	lineChars  = 80
	colChars   = 34
	rightColX  = 324.0
)

// Line is a run of text painted at an absolute position.
type Line struct {
	X, Y float64
	Text string
}

// Builder accumulates pages; call Bytes to render the document.
type Builder struct {
	pages     [][]Line
	encrypted bool
}

func New() *Builder {
	return &Builder{}
}

// Page adds a single-column page. Each paragraph is word-wrapped and
// paragraphs are separated by a blank line.
func (b *Builder) Page(paragraphs ...string) *Builder {
	return b.PositionedPage(column(leftMargin, lineChars, paragraphs)...)
}

// TwoColumnPage adds a page with left and right text columns.
func (b *Builder) TwoColumnPage(left, right []string) *Builder {
	lines := column(leftMargin, colChars, left)
	lines = append(lines, column(rightColX, colChars, right)...)
	return b.PositionedPage(lines...)
}

// BlankPage adds a page with no text, like a scanned image page.
func (b *Builder) BlankPage() *Builder {
	return b.PositionedPage()
}

// Encrypted marks the document as protected by the standard security
// handler with an owner password, so it cannot be opened without one.
func (b *Builder) Encrypted() *Builder {
	b.encrypted = true
	return b
}

// PositionedPage adds a page painting exactly the given lines.
func (b *Builder) PositionedPage(lines ...Line) *Builder {
	b.pages = append(b.pages, lines)
	return b
}

func column(x float64, width int, paragraphs []string) []Line {
	var lines []Line
	y := topY
	for i, p := range paragraphs {
		if i > 0 {
			y -= leading
		}
		for _, text := range Wrap(p, width) {
			lines = append(lines, Line{X: x, Y: y, Text: text})
			y -= leading
		}
	}
	return lines
}

// Wrap breaks text into lines of at most width characters at spaces.
func Wrap(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// Bytes renders the PDF with a correct cross-reference table.
func (b *Builder) Bytes() []byte {
	const (
		catalogObj = 1
		pagesObj   = 2
		fontObj    = 3
		firstPage  = 4
	)
	total := firstPage - 1 + 2*len(b.pages)
	offsets := make([]int, total+1)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(catalogObj, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj))

	kids := make([]string, len(b.pages))
	for i := range b.pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	writeObj(pagesObj, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(b.pages)))

	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))
	writeObj(fontObj, fmt.Sprintf(
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>",
		widths))

	for i, lines := range b.pages {
		pageNum := firstPage + 2*i
		contentNum := pageNum + 1
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pagesObj, fontObj, contentNum))

		var content strings.Builder
		for _, l := range lines {
			fmt.Fprintf(&content, "BT /F1 %g Tf 1 0 0 1 %g %g Tm (%s) Tj ET\n", fontSize, l.X, l.Y, escape(l.Text))
		}
		stream := content.String()
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", total+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= total; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	var security string
	if b.encrypted {
		key := strings.Repeat("A5", 32)
		security = fmt.Sprintf(
			" /Encrypt << /Filter /Standard /V 2 /R 3 /Length 128 /P -3904 /O <%s> /U <%s> >> /ID [<%s> <%s>]",
			key, key, strings.Repeat("0F", 16), strings.Repeat("0F", 16))
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", total+1, catalogObj, security, xref)

	return buf.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
