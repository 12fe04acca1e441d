// Package doctree holds the structured document model: an arena of nodes
// keyed by id, owned top-down from a single root.
package doctree

import (
	"fmt"
	"strconv"
)

// NodeID identifies a node within one document snapshot. Ids are not stable
// across independently built documents; Clone carries them over.
type NodeID string

// Kind tags the node variant.
type Kind int

const (
	KindRoot Kind = iota
	KindParagraph
	KindHeading
	KindList
	KindListItem
	KindQuote
	KindCode
	KindRule
	KindText
	KindLineBreak
)

var kindNames = [...]string{
	KindRoot:      "root",
	KindParagraph: "paragraph",
	KindHeading:   "heading",
	KindList:      "list",
	KindListItem:  "list-item",
	KindQuote:     "quote",
	KindCode:      "code",
	KindRule:      "rule",
	KindText:      "text",
	KindLineBreak: "linebreak",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// IsBlock reports whether nodes of this kind are block-level elements.
func (k Kind) IsBlock() bool {
	switch k {
	case KindParagraph, KindHeading, KindList, KindListItem, KindQuote, KindCode, KindRule:
		return true
	case KindRoot, KindText, KindLineBreak:
		return false
	}
	return false
}

// Format is a bitset of inline text formats.
type Format uint8

const (
	FormatBold Format = 1 << iota
	FormatItalic
	FormatUnderline
	FormatStrikethrough
	FormatCode
)

// Node is one element of the tree. Only KindText nodes carry text.
type Node struct {
	ID       NodeID
	Kind     Kind
	Parent   NodeID
	Children []NodeID

	text   string
	format Format

	// Level is the heading level (1-6).
	Level int
	// Ordered and Start describe a list.
	Ordered bool
	Start   int
	// Lang is the info string of a code block.
	Lang string
	// URL is the link destination of a text node, if any.
	URL string
	// Hard marks a line break that renders as a break, not a space.
	Hard bool
}

// Text returns the node's text content.
func (n *Node) Text() string { return n.text }

// SetText replaces the node's text content.
func (n *Node) SetText(s string) { n.text = s }

// Format returns the node's format mask.
func (n *Node) Format() Format { return n.format }

// HasFormat reports whether every bit of f is set.
func (n *Node) HasFormat(f Format) bool { return n.format&f == f }

// ToggleFormat flips the given format bits.
func (n *Node) ToggleFormat(f Format) { n.format ^= f }

// IsText reports whether the node carries text.
func (n *Node) IsText() bool { return n.Kind == KindText }

// Document is an arena of nodes rooted at Root.
type Document struct {
	root   NodeID
	nodes  map[NodeID]*Node
	nextID int
}

// New returns an empty document containing only a root node.
func New() *Document {
	d := &Document{nodes: make(map[NodeID]*Node)}
	d.root = d.alloc(&Node{Kind: KindRoot})
	return d
}

func (d *Document) alloc(n *Node) NodeID {
	d.nextID++
	n.ID = NodeID("n" + strconv.Itoa(d.nextID))
	d.nodes[n.ID] = n
	return n.ID
}

// Root returns the root node.
func (d *Document) Root() *Node { return d.nodes[d.root] }

// Node returns the node with the given id.
func (d *Document) Node(id NodeID) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Len returns the number of nodes including the root.
func (d *Document) Len() int { return len(d.nodes) }

// Append adds n as the last child of parent and returns the new node.
// The node's ID, Parent and Children fields are assigned by the document.
func (d *Document) Append(parent NodeID, n Node) (*Node, error) {
	p, ok := d.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("doctree: parent %s not found", parent)
	}
	if p.Kind == KindText || p.Kind == KindLineBreak || p.Kind == KindRule {
		return nil, fmt.Errorf("doctree: %s node %s cannot have children", p.Kind, parent)
	}
	if n.Kind == KindRoot {
		return nil, fmt.Errorf("doctree: cannot append a root node")
	}
	node := n
	node.Parent = parent
	node.Children = nil
	d.alloc(&node)
	p.Children = append(p.Children, node.ID)
	return &node, nil
}

// AppendText is a shorthand for appending a text node.
func (d *Document) AppendText(parent NodeID, text string, format Format) (*Node, error) {
	return d.Append(parent, Node{Kind: KindText, text: text, format: format})
}

// Remove detaches the node and its subtree from the document.
func (d *Document) Remove(id NodeID) error {
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("doctree: node %s not found", id)
	}
	if id == d.root {
		return fmt.Errorf("doctree: cannot remove the root")
	}
	if p, ok := d.nodes[n.Parent]; ok {
		for i, c := range p.Children {
			if c == id {
				p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
				break
			}
		}
	}
	d.drop(id)
	return nil
}

func (d *Document) drop(id NodeID) {
	n := d.nodes[id]
	for _, c := range n.Children {
		d.drop(c)
	}
	delete(d.nodes, id)
}

// Children returns the child nodes of id in order.
func (d *Document) Children(id NodeID) []*Node {
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, d.nodes[c])
	}
	return out
}

// Walk visits every node in document order (pre-order, depth first). The
// walk stops early when fn returns false.
func (d *Document) Walk(fn func(n *Node, depth int) bool) {
	d.walk(d.root, 0, fn)
}

func (d *Document) walk(id NodeID, depth int, fn func(*Node, int) bool) bool {
	n := d.nodes[id]
	if !fn(n, depth) {
		return false
	}
	for _, c := range n.Children {
		if !d.walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// TextNodes returns the text-bearing nodes in document order.
func (d *Document) TextNodes() []*Node {
	var out []*Node
	d.Walk(func(n *Node, _ int) bool {
		if n.IsText() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Clone returns a deep copy that shares no memory with d. Node ids and the
// id counter are carried over.
func (d *Document) Clone() *Document {
	c := &Document{
		root:   d.root,
		nodes:  make(map[NodeID]*Node, len(d.nodes)),
		nextID: d.nextID,
	}
	for id, n := range d.nodes {
		cp := *n
		cp.Children = append([]NodeID(nil), n.Children...)
		c.nodes[id] = &cp
	}
	return c
}
