package extractor

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// glyph is one painted character in page coordinates (Y grows upwards).
type glyph struct {
	X, Y, W float64
	Size    float64
	S       string
}

const (
	defaultFontSize = 10.0
	minGutterWidth  = 12.0 // points
	minColumnLines  = 3
	minColumnGlyphs = 40
)

func (g glyph) fontSize() float64 {
	if g.Size > 0 {
		return g.Size
	}
	return defaultFontSize
}

// width falls back to half an em for fonts without a /Widths table.
func (g glyph) width() float64 {
	if g.W > 0 {
		return g.W
	}
	return g.fontSize() * 0.5
}

func (g glyph) isSpace() bool {
	return strings.TrimSpace(g.S) == ""
}

// layoutPage rebuilds reading order: columns left to right, lines top to
// bottom, glyphs left to right.
func layoutPage(glyphs []glyph) string {
	usable := glyphs[:0:0]
	for _, g := range glyphs {
		if g.S == "" || g.S == string(unicode.ReplacementChar) {
			continue
		}
		usable = append(usable, g)
	}
	if len(usable) == 0 {
		return ""
	}

	if split, ok := findGutter(usable); ok {
		var left, right []glyph
		for _, g := range usable {
			if g.X+g.width()/2 < split {
				left = append(left, g)
			} else {
				right = append(right, g)
			}
		}
		return normalize(layoutColumn(left) + "\n\n" + layoutColumn(right))
	}

	return normalize(layoutColumn(usable))
}

// findGutter looks for an empty vertical band near the middle of the inked
// area with enough text on both sides to call it two columns. It returns
// the x coordinate of the band's center.
func findGutter(glyphs []glyph) (float64, bool) {
	ink := make([]glyph, 0, len(glyphs))
	minX, maxX := math.Inf(1), math.Inf(-1)
	for _, g := range glyphs {
		if g.isSpace() {
			continue
		}
		ink = append(ink, g)
		minX = math.Min(minX, g.X)
		maxX = math.Max(maxX, g.X+g.width())
	}
	if len(ink) < minColumnGlyphs {
		return 0, false
	}

	span := maxX - minX
	if span < 200 {
		return 0, false
	}

	occupied := make([]bool, int(span)+1)
	for _, g := range ink {
		from := int(g.X - minX)
		to := int(g.X + g.width() - minX)
		for b := max(from, 0); b <= to && b < len(occupied); b++ {
			occupied[b] = true
		}
	}

	bestStart, bestLen := -1, 0
	for b := 0; b < len(occupied); {
		if occupied[b] {
			b++
			continue
		}
		start := b
		for b < len(occupied) && !occupied[b] {
			b++
		}
		center := float64(start+b) / 2
		if center < 0.3*span || center > 0.7*span {
			continue
		}
		if b-start > bestLen {
			bestStart, bestLen = start, b-start
		}
	}
	if bestStart < 0 || float64(bestLen) < minGutterWidth {
		return 0, false
	}

	split := minX + float64(bestStart) + float64(bestLen)/2
	var leftRows, rightRows = map[int]bool{}, map[int]bool{}
	var leftInk, rightInk int
	for _, g := range ink {
		row := int(math.Round(g.Y))
		if g.X+g.width()/2 < split {
			leftInk++
			leftRows[row] = true
		} else {
			rightInk++
			rightRows[row] = true
		}
	}
	if len(leftRows) < minColumnLines || len(rightRows) < minColumnLines {
		return 0, false
	}
	if float64(leftInk) < 0.2*float64(len(ink)) || float64(rightInk) < 0.2*float64(len(ink)) {
		return 0, false
	}

	return split, true
}

type textLine struct {
	y      float64
	glyphs []glyph
}

func layoutColumn(glyphs []glyph) string {
	if len(glyphs) == 0 {
		return ""
	}

	sorted := append([]glyph(nil), glyphs...)
	// Stable keeps content-stream order for glyphs at the same position
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []*textLine
	for _, g := range sorted {
		if n := len(lines); n > 0 {
			cur := lines[n-1]
			if math.Abs(cur.y-g.Y) <= math.Max(1, 0.3*g.fontSize()) {
				cur.glyphs = append(cur.glyphs, g)
				continue
			}
		}
		lines = append(lines, &textLine{y: g.Y, glyphs: []glyph{g}})
	}

	median := medianLineGap(lines)

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			// Normal leading is about 1.2em; cap the reference so a page
			// with few lines still shows its paragraph gaps.
			spacing := math.Min(median, 1.2*line.glyphs[0].fontSize())
			gap := lines[i-1].y - line.y
			if spacing > 0 && gap > 1.5*spacing {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line.text())
	}
	return b.String()
}

func (l *textLine) text() string {
	sort.SliceStable(l.glyphs, func(i, j int) bool { return l.glyphs[i].X < l.glyphs[j].X })

	var b strings.Builder
	prevEnd := math.Inf(-1)
	prevSpace := true
	for _, g := range l.glyphs {
		end := g.X + g.width()
		if g.isSpace() {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			prevEnd = math.Max(prevEnd, end)
			continue
		}
		if !prevSpace && g.X-prevEnd > 0.15*g.fontSize() {
			b.WriteByte(' ')
		}
		b.WriteString(g.S)
		prevSpace = false
		prevEnd = end
	}
	return strings.TrimSpace(b.String())
}

func medianLineGap(lines []*textLine) float64 {
	if len(lines) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(lines)-1)
	for i := 1; i < len(lines); i++ {
		gaps = append(gaps, lines[i-1].y-lines[i].y)
	}
	sort.Float64s(gaps)
	return gaps[len(gaps)/2]
}

// normalize trims trailing blanks, drops control characters and collapses
// runs of blank lines to a single paragraph break.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Map(func(r rune) rune {
			switch {
			case r == '\t' || r == ' ':
				return ' '
			case unicode.IsControl(r):
				return -1
			}
			return r
		}, line)
		line = strings.TrimRight(line, " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
