package doctree

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// Parse builds a document from Markdown source. Parsing never fails: block
// kinds the model does not represent are flattened to paragraphs of their
// text. Node ids are freshly assigned.
func Parse(src string) *Document {
	source := []byte(src)
	root := md.Parser().Parse(text.NewReader(source))

	b := &builder{doc: New(), src: source}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		b.block(n, b.doc.root)
	}
	return b.doc
}

type builder struct {
	doc       *Document
	src       []byte
	underline bool
}

func (b *builder) appendNode(parent NodeID, n Node) NodeID {
	node, err := b.doc.Append(parent, n)
	if err != nil {
		// Parents are always containers created by the builder itself.
		panic(err)
	}
	return node.ID
}

func (b *builder) block(n ast.Node, parent NodeID) {
	b.underline = false
	switch n := n.(type) {
	case *ast.Heading:
		id := b.appendNode(parent, Node{Kind: KindHeading, Level: n.Level})
		b.inline(n, id, 0, "")
	case *ast.Paragraph, *ast.TextBlock:
		id := b.appendNode(parent, Node{Kind: KindParagraph})
		b.inline(n, id, 0, "")
	case *ast.List:
		b.list(n, parent)
	case *ast.Blockquote:
		id := b.appendNode(parent, Node{Kind: KindQuote})
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			b.block(c, id)
		}
	case *ast.FencedCodeBlock:
		id := b.appendNode(parent, Node{Kind: KindCode, Lang: string(n.Language(b.src))})
		b.text(id, b.lines(n), 0, "")
	case *ast.CodeBlock:
		id := b.appendNode(parent, Node{Kind: KindCode})
		b.text(id, b.lines(n), 0, "")
	case *ast.ThematicBreak:
		b.appendNode(parent, Node{Kind: KindRule})
	case *ast.HTMLBlock:
		id := b.appendNode(parent, Node{Kind: KindParagraph})
		b.text(id, b.lines(n), 0, "")
	default:
		id := b.appendNode(parent, Node{Kind: KindParagraph})
		b.flatten(n, id)
		b.dropIfEmpty(id)
	}
}

// dropIfEmpty removes a container that ended up without content, so it does
// not serialize as a dangling blank line.
func (b *builder) dropIfEmpty(id NodeID) {
	if n := b.doc.nodes[id]; len(n.Children) == 0 {
		if err := b.doc.Remove(id); err != nil {
			panic(err)
		}
	}
}

func (b *builder) list(n *ast.List, parent NodeID) {
	start := n.Start
	if n.IsOrdered() && start == 0 {
		start = 1
	}
	id := b.appendNode(parent, Node{Kind: KindList, Ordered: n.IsOrdered(), Start: start})
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		li := b.appendNode(id, Node{Kind: KindListItem})
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if sub, ok := c.(*ast.List); ok {
				b.list(sub, li)
				continue
			}
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				if !first {
					b.appendNode(li, Node{Kind: KindLineBreak})
				}
				b.inline(c, li, 0, "")
			default:
				// Block children render on their own lines.
				b.block(c, li)
			}
			first = false
		}
	}
}

// flatten reduces an arbitrary block to inline content under parent.
func (b *builder) flatten(n ast.Node, parent NodeID) {
	if n.Type() == ast.TypeBlock && n.HasChildren() {
		first := true
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if c.Type() != ast.TypeBlock {
				b.inline(n, parent, 0, "")
				return
			}
			if !first {
				b.appendNode(parent, Node{Kind: KindLineBreak})
			}
			first = false
			b.flatten(c, parent)
		}
		return
	}
	b.text(parent, b.lines(n), 0, "")
}

func (b *builder) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(b.src))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (b *builder) inline(n ast.Node, parent NodeID, f Format, url string) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.text(parent, string(c.Segment.Value(b.src)), f, url)
			if (c.SoftLineBreak() || c.HardLineBreak()) && c.NextSibling() != nil {
				b.appendNode(parent, Node{Kind: KindLineBreak, Hard: c.HardLineBreak()})
			}
		case *ast.String:
			b.text(parent, string(c.Value), f, url)
		case *ast.Emphasis:
			bit := FormatItalic
			if c.Level >= 2 {
				bit = FormatBold
			}
			b.inline(c, parent, f|bit, url)
		case *extast.Strikethrough:
			b.inline(c, parent, f|FormatStrikethrough, url)
		case *ast.CodeSpan:
			var sb strings.Builder
			for t := c.FirstChild(); t != nil; t = t.NextSibling() {
				if tn, ok := t.(*ast.Text); ok {
					sb.Write(tn.Segment.Value(b.src))
				}
			}
			b.text(parent, sb.String(), f|FormatCode, url)
		case *ast.Link:
			b.inline(c, parent, f, string(c.Destination))
		case *ast.AutoLink:
			b.text(parent, string(c.Label(b.src)), f, string(c.URL(b.src)))
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < c.Segments.Len(); i++ {
				seg := c.Segments.At(i)
				sb.Write(seg.Value(b.src))
			}
			raw := sb.String()
			switch strings.ToLower(raw) {
			case "<u>":
				b.underline = true
			case "</u>":
				b.underline = false
			default:
				b.text(parent, raw, f, url)
			}
		default:
			b.inline(c, parent, f, url)
		}
	}
}

// text appends a text node, merging it into the previous sibling when both
// share format and link.
func (b *builder) text(parent NodeID, s string, f Format, url string) {
	if s == "" {
		return
	}
	if b.underline {
		f |= FormatUnderline
	}
	p := b.doc.nodes[parent]
	if k := len(p.Children); k > 0 {
		last := b.doc.nodes[p.Children[k-1]]
		if last.Kind == KindText && last.format == f && last.URL == url {
			last.text += s
			return
		}
	}
	b.appendNode(parent, Node{Kind: KindText, text: s, format: f, URL: url})
}
