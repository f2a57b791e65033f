package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// glyphs paints s one character per 6pt starting at (x, y).
func glyphs(x, y float64, s string) []glyph {
	out := make([]glyph, 0, len(s))
	for i, r := range s {
		out = append(out, glyph{X: x + float64(i)*6, Y: y, W: 6, Size: 10, S: string(r)})
	}
	return out
}

func TestLayoutPage_LinesTopToBottom(t *testing.T) {
	var gs []glyph
	// painted bottom line first
	gs = append(gs, glyphs(72, 700, "second line")...)
	gs = append(gs, glyphs(72, 712, "first line")...)

	assert.Equal(t, "first line\nsecond line", layoutPage(gs))
}

func TestLayoutPage_GapBecomesSpace(t *testing.T) {
	var gs []glyph
	gs = append(gs, glyphs(72, 700, "Total")...)
	gs = append(gs, glyphs(200, 700, "42")...)

	assert.Equal(t, "Total 42", layoutPage(gs))
}

func TestLayoutPage_ParagraphBreakOnLargeGap(t *testing.T) {
	var gs []glyph
	gs = append(gs, glyphs(72, 700, "one")...)
	gs = append(gs, glyphs(72, 688, "two")...)
	gs = append(gs, glyphs(72, 676, "three")...)
	gs = append(gs, glyphs(72, 640, "four")...)

	assert.Equal(t, "one\ntwo\nthree\n\nfour", layoutPage(gs))
}

func TestLayoutPage_ZeroWidthGlyphsKeepStreamOrder(t *testing.T) {
	var gs []glyph
	for _, r := range "same x" {
		gs = append(gs, glyph{X: 72, Y: 700, Size: 10, S: string(r)})
	}

	assert.Equal(t, "same x", layoutPage(gs))
}

func TestLayoutPage_SkipsReplacementCharacters(t *testing.T) {
	gs := glyphs(72, 700, "ok")
	gs = append(gs, glyph{X: 90, Y: 700, W: 6, Size: 10, S: "�"})

	assert.Equal(t, "ok", layoutPage(gs))
}

func TestFindGutter(t *testing.T) {
	var twoCol []glyph
	for i := 0; i < 6; i++ {
		y := 700 - float64(i)*12
		twoCol = append(twoCol, glyphs(72, y, "left column words")...)
		twoCol = append(twoCol, glyphs(330, y, "right column words")...)
	}
	split, ok := findGutter(twoCol)
	assert.True(t, ok)
	assert.Greater(t, split, 72+17*6.0)
	assert.Less(t, split, 330.0)

	var oneCol []glyph
	for i := 0; i < 6; i++ {
		y := 700 - float64(i)*12
		oneCol = append(oneCol, glyphs(72, y, strings.Repeat("full width line ", 5))...)
	}
	_, ok = findGutter(oneCol)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	in := "  line one  \r\n\r\n\r\n\tline\ttwo\x00\n\n\n\nend  "
	assert.Equal(t, "line one\n\n line two\n\nend", normalize(in))
}
