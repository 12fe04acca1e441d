// Package markdown projects a document tree to a flat Markdown string and maps
// character offsets in that string back to text nodes.
//
// All offsets are rune (code point) offsets.
package markdown

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/starford/inkwell/internal/doctree"
)

// Span is the range [Start, End) a text node occupies in serialized output.
type Span struct {
	Node  doctree.NodeID `json:"nodeId"`
	Start int            `json:"start"`
	End   int            `json:"end"`
}

// Len returns the span width in runes.
func (s Span) Len() int { return s.End - s.Start }

// Position is a node-local location.
type Position struct {
	Node   doctree.NodeID `json:"nodeId"`
	Offset int            `json:"localOffset"`
	// Exact is false when the requested offset fell on synthetic markup and
	// was clamped to the nearest text node.
	Exact bool `json:"exact"`
}

// SourceMap records where every text node landed in one serialization.
type SourceMap struct {
	spans  []Span
	byNode map[doctree.NodeID]int
	length int
}

// Serialize renders doc deterministically. Text is emitted verbatim, without
// escaping, so the offsets in the returned map address the node text exactly.
func Serialize(doc *doctree.Document) (string, *SourceMap) {
	w := &writer{doc: doc, sm: &SourceMap{byNode: make(map[doctree.NodeID]int)}}
	for i, b := range doc.Children(doc.Root().ID) {
		if i > 0 {
			w.blankline()
		}
		w.block(b)
	}
	w.sm.length = w.pos
	return w.buf.String(), w.sm
}

// String serializes doc and discards the source map.
func String(doc *doctree.Document) string {
	s, _ := Serialize(doc)
	return s
}

type writer struct {
	doc    *doctree.Document
	sm     *SourceMap
	buf    strings.Builder
	pos    int
	prefix []string
}

func (w *writer) write(s string) {
	w.buf.WriteString(s)
	w.pos += utf8.RuneCountInString(s)
}

// newline ends the current line and writes the active line prefixes.
func (w *writer) newline() {
	w.write("\n")
	for _, p := range w.prefix {
		w.write(p)
	}
}

// blankline ends the current line and writes an empty line. Prefixes on the
// empty line lose their trailing spaces.
func (w *writer) blankline() {
	w.write("\n" + strings.TrimRight(strings.Join(w.prefix, ""), " "))
	w.newline()
}

func (w *writer) push(p string) { w.prefix = append(w.prefix, p) }
func (w *writer) pop() { w.prefix = w.prefix[:len(w.prefix)-1] }

func (w *writer) block(n *doctree.Node) {
	switch n.Kind {
	case doctree.KindParagraph:
		w.inline(n)
	case doctree.KindHeading:
		level := min(max(n.Level, 1), 6)
		w.write(strings.Repeat("#", level) + " ")
		w.inline(n)
	case doctree.KindList:
		for i, item := range w.doc.Children(n.ID) {
			if i > 0 {
				w.newline()
			}
			w.item(n, item, i)
		}
	case doctree.KindListItem:
		w.item(nil, n, 0)
	case doctree.KindQuote:
		w.write("> ")
		w.push("> ")
		for i, c := range w.doc.Children(n.ID) {
			if i > 0 {
				w.blankline()
			}
			w.block(c)
		}
		w.pop()
	case doctree.KindCode:
		w.write("```" + n.Lang)
		w.newline()
		for _, c := range w.doc.Children(n.ID) {
			if c.IsText() {
				w.record(c, c.Text())
			}
		}
		w.newline()
		w.write("```")
	case doctree.KindRule:
		w.write("---")
	case doctree.KindText, doctree.KindLineBreak:
		w.leaf(n)
	case doctree.KindRoot:
	}
}

func (w *writer) item(list, item *doctree.Node, i int) {
	marker := "- "
	if list != nil && list.Ordered {
		marker = strconv.Itoa(list.Start+i) + ". "
	}
	w.write(marker)
	w.push(strings.Repeat(" ", len(marker)))
	for _, c := range w.doc.Children(item.ID) {
		if c.Kind.IsBlock() {
			w.newline()
			w.block(c)
			continue
		}
		w.leaf(c)
	}
	w.pop()
}

func (w *writer) inline(n *doctree.Node) {
	for _, c := range w.doc.Children(n.ID) {
		if c.Kind.IsBlock() {
			w.newline()
			w.block(c)
			continue
		}
		w.leaf(c)
	}
}

func (w *writer) leaf(n *doctree.Node) {
	switch n.Kind {
	case doctree.KindLineBreak:
		if n.Hard {
			w.write("\\")
		}
		w.newline()
	case doctree.KindText:
		pre, post := markers(n)
		w.write(pre)
		w.record(n, n.Text())
		w.write(post)
	}
}

func (w *writer) record(n *doctree.Node, text string) {
	start := w.pos
	w.write(text)
	w.sm.byNode[n.ID] = len(w.sm.spans)
	w.sm.spans = append(w.sm.spans, Span{Node: n.ID, Start: start, End: w.pos})
}

// markers returns the inline opening and closing markup for a text node.
// Outermost first: link, underline, strikethrough, bold, italic, code.
func markers(n *doctree.Node) (string, string) {
	var pre, post string
	wrap := func(o, c string) {
		pre += o
		post = c + post
	}
	if n.URL != "" {
		wrap("[", "]("+n.URL+")")
	}
	if n.HasFormat(doctree.FormatUnderline) {
		wrap("<u>", "</u>")
	}
	if n.HasFormat(doctree.FormatStrikethrough) {
		wrap("~~", "~~")
	}
	if n.HasFormat(doctree.FormatBold) {
		wrap("**", "**")
	}
	if n.HasFormat(doctree.FormatItalic) {
		wrap("*", "*")
	}
	if n.HasFormat(doctree.FormatCode) {
		wrap("`", "`")
	}
	return pre, post
}

// Len returns the rune length of the serialized markdown.
func (m *SourceMap) Len() int { return m.length }

// Spans returns the text node spans in document order.
func (m *SourceMap) Spans() []Span { return append([]Span(nil), m.spans...) }

// NodeRange returns the span of a text node.
func (m *SourceMap) NodeRange(id doctree.NodeID) (Span, bool) {
	i, ok := m.byNode[id]
	if !ok {
		return Span{}, false
	}
	return m.spans[i], true
}

// Locate maps a markdown offset to a text node and a local offset.
//
// A span that contains offset as one of its characters wins. Otherwise a
// span ending at offset wins, the earliest one if several do. Offsets on
// synthetic markup clamp to the end of the preceding text node, or to the
// start of the first one, with Exact unset. ok is false when offset is out
// of range or the document has no text.
func (m *SourceMap) Locate(offset int) (Position, bool) {
	if offset < 0 || offset > m.length || len(m.spans) == 0 {
		return Position{}, false
	}
	// i is the last span starting at or before offset.
	i := sort.Search(len(m.spans), func(k int) bool { return m.spans[k].Start > offset }) - 1
	if i < 0 {
		s := m.spans[0]
		return Position{Node: s.Node, Offset: 0}, true
	}
	if s := m.spans[i]; offset < s.End {
		return Position{Node: s.Node, Offset: offset - s.Start, Exact: true}, true
	}
	j := i
	for j > 0 && m.spans[j-1].End == offset {
		j--
	}
	s := m.spans[j]
	return Position{Node: s.Node, Offset: s.Len(), Exact: s.End == offset}, true
}

// Overlapping returns the spans intersecting [start, end). An empty range
// intersects every span that touches it.
func (m *SourceMap) Overlapping(start, end int) []Span {
	var out []Span
	for _, s := range m.spans {
		if start == end {
			if s.Start <= start && start <= s.End {
				out = append(out, s)
			}
			continue
		}
		if s.Start < end && start < s.End {
			out = append(out, s)
		}
	}
	return out
}
