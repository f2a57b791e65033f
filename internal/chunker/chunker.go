// Package chunker splits extracted pages into overlapping, boundary-aware
// text spans that keep their page provenance.
package chunker

import (
	"sort"
	"strings"
	"unicode"

	"docqa/internal/models"
)

const (
	// DefaultSize is the target chunk length in runes.
	DefaultSize = 1000
	// DefaultOverlap is the fraction of a chunk repeated at the start of the next.
	DefaultOverlap = 0.2
	// MaxOverlap keeps every step at least half a chunk.
	MaxOverlap = 0.5

	pageSeparator = "\n\n"
)

// Span is one chunk of the joined document text.
// Start/End are rune offsets local to Page/EndPage; Offset/EndOffset are
// rune offsets into Join(pages).
type Span struct {
	Seq       int
	Page      int
	EndPage   int
	Start     int
	End       int
	Offset    int
	EndOffset int
	Text      string
}

// Chunker is safe for concurrent use; it holds only configuration.
type Chunker struct {
	size    int
	overlap float64
}

// Option configures the chunker.
type Option func(*Chunker)

// WithSize sets the target chunk size in runes. Non-positive values are ignored.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap fraction, clamped to [0, MaxOverlap].
func WithOverlap(overlap float64) Option {
	return func(c *Chunker) {
		switch {
		case overlap < 0:
			c.overlap = 0
		case overlap > MaxOverlap:
			c.overlap = MaxOverlap
		default:
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunker) Size() int        { return c.size }
func (c *Chunker) Overlap() float64 { return c.overlap }

// step is how far consecutive window starts move apart.
func (c *Chunker) step() int {
	s := c.size - int(float64(c.size)*c.overlap)
	if s < 1 {
		s = 1
	}
	return s
}

// layout is the joined text plus where each non-empty page begins in it.
type layout struct {
	runes  []rune
	starts []int // rune offset of each page in runes
	pages  []int // page number for each entry of starts
	ends   []int // rune offset just past each page's own text
}

// Join concatenates the non-empty pages with a blank line between them.
// Span offsets refer to this text.
func Join(pages []models.Page) string {
	return string(newLayout(pages).runes)
}

func newLayout(pages []models.Page) layout {
	var l layout
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if len(l.runes) > 0 {
			l.runes = append(l.runes, []rune(pageSeparator)...)
		}
		l.starts = append(l.starts, len(l.runes))
		l.pages = append(l.pages, p.Number)
		l.runes = append(l.runes, []rune(p.Text)...)
		l.ends = append(l.ends, len(l.runes))
	}
	return l
}

// locate maps a joined-text offset to (page index, local offset). Offsets
// inside a separator belong to the preceding page and are clamped to its end.
func (l layout) locate(off int) (int, int) {
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > off }) - 1
	if i < 0 {
		i = 0
	}
	local := off - l.starts[i]
	if limit := l.pageLen(i); local > limit {
		local = limit
	}
	return i, local
}

func (l layout) pageLen(i int) int {
	return l.ends[i] - l.starts[i]
}

// Split chunks the pages. A document shorter than one chunk yields exactly
// one span; whitespace-only spans are never returned, so a document without
// text yields none. Span starts and ends strictly increase and consecutive
// spans overlap or touch, so together they cover the whole joined text.
func (c *Chunker) Split(pages []models.Page) []Span {
	l := newLayout(pages)
	n := len(l.runes)
	if n == 0 {
		return nil
	}

	var spans []Span
	start, prevEnd := 0, 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.cutPoint(l.runes, start, end, prevEnd)
		}

		if first, last, ok := inkBounds(l.runes, start, end); ok {
			pi, local := l.locate(first)
			ei, localEnd := l.locate(last)
			spans = append(spans, Span{
				Seq:       len(spans),
				Page:      l.pages[pi],
				EndPage:   l.pages[ei],
				Start:     local,
				End:       min(localEnd+1, l.pageLen(ei)),
				Offset:    start,
				EndOffset: end,
				Text:      string(l.runes[start:end]),
			})
		}

		if end >= n {
			break
		}

		next := start + c.step()
		if next >= end {
			next = end
		} else {
			next = c.wordStart(l.runes, next, start, end)
		}
		start, prevEnd = next, end
	}

	return spans
}

// inkBounds returns the first and last non-space rune in r[start:end].
func inkBounds(r []rune, start, end int) (int, int, bool) {
	first, last := start, end-1
	for first < end && unicode.IsSpace(r[first]) {
		first++
	}
	for last >= first && unicode.IsSpace(r[last]) {
		last--
	}
	return first, last, first < end
}

// cutPoint picks where a window [start, hardEnd) should end. Within the
// last quarter of the window it prefers, in order: a paragraph break, a
// sentence end, a line break, a word boundary. Otherwise it cuts hard.
// floor is the previous chunk's end; the cut always lands past it.
func (c *Chunker) cutPoint(r []rune, start, hardEnd, floor int) int {
	lo := hardEnd - c.size/4
	if lo <= floor {
		lo = floor + 1
	}
	if lo <= start {
		lo = start + 1
	}

	preferences := []func(p int) bool{
		func(p int) bool { return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n' },
		func(p int) bool { return isSentenceEnd(r[p-1]) && (p == len(r) || unicode.IsSpace(r[p])) },
		func(p int) bool { return r[p-1] == '\n' },
		func(p int) bool { return unicode.IsSpace(r[p]) && !unicode.IsSpace(r[p-1]) },
	}

	for _, ok := range preferences {
		for p := hardEnd; p >= lo; p-- {
			if p > start && p < len(r) && ok(p) {
				return p
			}
		}
	}
	return hardEnd
}

// wordStart moves pos to a word start: forward up to limit, else back to
// the start of the word containing pos (staying above floor), else limit.
func (c *Chunker) wordStart(r []rune, pos, floor, limit int) int {
	isStart := func(p int) bool {
		return p < len(r) && !unicode.IsSpace(r[p]) && unicode.IsSpace(r[p-1])
	}
	for p := pos; p <= limit; p++ {
		if isStart(p) {
			return p
		}
	}
	for p := pos - 1; p > floor && p >= pos-c.size/4; p-- {
		if isStart(p) {
			return p
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
