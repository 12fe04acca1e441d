package doctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIDs(t *testing.T) {
	d := New()
	p, err := d.Append(d.Root().ID, Node{Kind: KindParagraph})
	require.NoError(t, err)
	txt, err := d.AppendText(p.ID, "hello", FormatBold)
	require.NoError(t, err)

	assert.Equal(t, NodeID("n1"), d.Root().ID)
	assert.Equal(t, NodeID("n2"), p.ID)
	assert.Equal(t, NodeID("n3"), txt.ID)
	assert.Equal(t, p.ID, txt.Parent)
	assert.Equal(t, 3, d.Len())

	got, ok := d.Node(txt.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text())
	assert.True(t, got.HasFormat(FormatBold))
}

func TestAppendRejectsLeafParents(t *testing.T) {
	d := New()
	p, _ := d.Append(d.Root().ID, Node{Kind: KindParagraph})
	txt, _ := d.AppendText(p.ID, "x", 0)

	_, err := d.AppendText(txt.ID, "y", 0)
	assert.Error(t, err)

	_, err = d.Append("missing", Node{Kind: KindParagraph})
	assert.Error(t, err)

	_, err = d.Append(p.ID, Node{Kind: KindRoot})
	assert.Error(t, err)
}

func TestToggleFormat(t *testing.T) {
	n := &Node{Kind: KindText}
	n.ToggleFormat(FormatItalic)
	assert.True(t, n.HasFormat(FormatItalic))
	assert.False(t, n.HasFormat(FormatItalic|FormatBold))
	n.ToggleFormat(FormatItalic)
	assert.Equal(t, Format(0), n.Format())
}

func TestRemoveDropsSubtree(t *testing.T) {
	d := New()
	l, _ := d.Append(d.Root().ID, Node{Kind: KindList})
	li, _ := d.Append(l.ID, Node{Kind: KindListItem})
	txt, _ := d.AppendText(li.ID, "item", 0)

	require.NoError(t, d.Remove(l.ID))
	_, ok := d.Node(txt.ID)
	assert.False(t, ok)
	assert.Empty(t, d.Root().Children)
	assert.Equal(t, 1, d.Len())

	assert.Error(t, d.Remove(d.Root().ID))
	assert.Error(t, d.Remove(l.ID))
}

func TestCloneIsIndependent(t *testing.T) {
	d := Parse("Hello **world**")
	c := d.Clone()

	nodes := c.TextNodes()
	require.Len(t, nodes, 2)
	nodes[0].SetText("Goodbye ")
	nodes[1].ToggleFormat(FormatBold)

	orig := d.TextNodes()
	assert.Equal(t, "Hello ", orig[0].Text())
	assert.True(t, orig[1].HasFormat(FormatBold))
	assert.Equal(t, orig[0].ID, nodes[0].ID)

	_, err := c.AppendText(c.Root().Children[0], "!", 0)
	require.NoError(t, err)
	assert.Len(t, d.TextNodes(), 2)
}

func TestWalkStopsEarly(t *testing.T) {
	d := Parse("one\n\ntwo\n\nthree")
	var seen int
	d.Walk(func(n *Node, _ int) bool {
		seen++
		return n.Kind != KindText
	})
	// root, paragraph, first text
	assert.Equal(t, 3, seen)
}

func TestParseBlocks(t *testing.T) {
	d := Parse("# Title\n\nHello **world**\n\n---\n\n```go\nfmt.Println()\n```")

	blocks := d.Children(d.Root().ID)
	require.Len(t, blocks, 4)

	assert.Equal(t, KindHeading, blocks[0].Kind)
	assert.Equal(t, 1, blocks[0].Level)
	assert.Equal(t, "Title", d.Children(blocks[0].ID)[0].Text())

	para := d.Children(blocks[1].ID)
	require.Len(t, para, 2)
	assert.Equal(t, "Hello ", para[0].Text())
	assert.Equal(t, Format(0), para[0].Format())
	assert.Equal(t, "world", para[1].Text())
	assert.True(t, para[1].HasFormat(FormatBold))

	assert.Equal(t, KindRule, blocks[2].Kind)

	assert.Equal(t, KindCode, blocks[3].Kind)
	assert.Equal(t, "go", blocks[3].Lang)
	assert.Equal(t, "fmt.Println()", d.Children(blocks[3].ID)[0].Text())
}

func TestParseLists(t *testing.T) {
	d := Parse("- a\n- b\n  - c\n\n3. x\n4. y")

	blocks := d.Children(d.Root().ID)
	require.Len(t, blocks, 2)

	bullets := blocks[0]
	assert.Equal(t, KindList, bullets.Kind)
	assert.False(t, bullets.Ordered)
	items := d.Children(bullets.ID)
	require.Len(t, items, 2)
	second := d.Children(items[1].ID)
	require.Len(t, second, 2)
	assert.Equal(t, "b", second[0].Text())
	assert.Equal(t, KindList, second[1].Kind)
	nested := d.Children(second[1].ID)
	require.Len(t, nested, 1)
	assert.Equal(t, "c", d.Children(nested[0].ID)[0].Text())

	ordered := blocks[1]
	assert.True(t, ordered.Ordered)
	assert.Equal(t, 3, ordered.Start)
	assert.Len(t, d.Children(ordered.ID), 2)
}

func TestParseInlineFormats(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		text   string
		format Format
		url    string
	}{
		{"italic", "*soft*", "soft", FormatItalic, ""},
		{"strike", "~~gone~~", "gone", FormatStrikethrough, ""},
		{"code", "`x := 1`", "x := 1", FormatCode, ""},
		{"underline", "<u>under</u>", "under", FormatUnderline, ""},
		{"link", "[site](https://example.com)", "site", 0, "https://example.com"},
		{"bold italic", "***both***", "both", FormatBold | FormatItalic, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := Parse(tt.src).TextNodes()
			require.Len(t, nodes, 1)
			assert.Equal(t, tt.text, nodes[0].Text())
			assert.Equal(t, tt.format, nodes[0].Format())
			assert.Equal(t, tt.url, nodes[0].URL)
		})
	}
}

func TestParseSoftBreakBecomesLineBreak(t *testing.T) {
	d := Parse("line one\nline two")
	para := d.Children(d.Root().Children[0])
	require.Len(t, para, 3)
	assert.Equal(t, "line one", para[0].Text())
	assert.Equal(t, KindLineBreak, para[1].Kind)
	assert.Equal(t, "line two", para[2].Text())
}

func TestParseQuote(t *testing.T) {
	d := Parse("> quoted text")
	q := d.Children(d.Root().ID)
	require.Len(t, q, 1)
	assert.Equal(t, KindQuote, q[0].Kind)
	paras := d.Children(q[0].ID)
	require.Len(t, paras, 1)
	assert.Equal(t, KindParagraph, paras[0].Kind)
	require.Len(t, d.TextNodes(), 1)
	assert.Equal(t, "quoted text", d.TextNodes()[0].Text())
}

func TestParseQuoteKeepsBlockStructure(t *testing.T) {
	d := Parse("> - a\n> - b\n>\n> ---\n")
	q := d.Children(d.Root().ID)
	require.Len(t, q, 1)
	kids := d.Children(q[0].ID)
	require.Len(t, kids, 2)
	assert.Equal(t, KindList, kids[0].Kind)
	assert.Len(t, d.Children(kids[0].ID), 2)
	assert.Equal(t, KindRule, kids[1].Kind)
}

func TestParseListItemBlocks(t *testing.T) {
	d := Parse("- a\n  ```go\n  x\n  ```\n- b\n  > q")
	items := d.Children(d.Root().Children[0])
	require.Len(t, items, 2)

	first := d.Children(items[0].ID)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Text())
	assert.Equal(t, KindCode, first[1].Kind)
	assert.Equal(t, "go", first[1].Lang)

	second := d.Children(items[1].ID)
	require.Len(t, second, 2)
	assert.Equal(t, KindQuote, second[1].Kind)
}

func TestParseHardBreak(t *testing.T) {
	d := Parse("a  \nb\\\nc")
	para := d.Children(d.Root().Children[0])
	require.Len(t, para, 5)
	assert.Equal(t, "a", para[0].Text())
	assert.True(t, para[1].Hard)
	assert.Equal(t, "b", para[2].Text())
	assert.True(t, para[3].Hard)
	assert.Equal(t, "c", para[4].Text())

	soft := Parse("a\nb")
	assert.False(t, soft.Children(soft.Root().Children[0])[1].Hard)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "list-item", KindListItem.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.True(t, KindHeading.IsBlock())
	assert.False(t, KindText.IsBlock())
}
