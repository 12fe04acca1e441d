// Package stream applies planned edits to live text nodes, revealing new
// content a few characters at a time.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/planner"
)

const (
	DefaultChunkSize = 3
	DefaultInterval  = 20 * time.Millisecond
)

var (
	// ErrStaleEdit means the text an edit expected is no longer in its node.
	ErrStaleEdit = errors.New("edit target text changed")
	// ErrNodeGone means the edit's target node no longer exists.
	ErrNodeGone = errors.New("edit target node no longer exists")
)

// Node is a live, mutable text node.
type Node interface {
	Text() string
	SetText(string)
	HasFormat(doctree.Format) bool
	ToggleFormat(doctree.Format)
}

// TreeHost resolves node ids against the live document.
type TreeHost interface {
	NodeByID(id doctree.NodeID) (Node, bool)
}

// FlatHost is an editor that holds its content as one markdown string.
type FlatHost interface {
	Markdown() string
	SetMarkdown(string)
}

// Progress is reported at the start of an edit and after every tick.
type Progress struct {
	Node     doctree.NodeID `json:"nodeId"`
	Percent  int            `json:"percent"`
	Revealed string         `json:"revealed"`
	Tick     int            `json:"tick"`
	Ticks    int            `json:"ticks"`
}

// Applier streams edits. The zero value uses the defaults.
type Applier struct {
	ChunkSize int
	Interval  time.Duration
}

// New returns an applier with the given chunk size and interval, falling
// back to the defaults for non-positive values.
func New(chunkSize int, interval time.Duration) *Applier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if interval < 0 {
		interval = DefaultInterval
	}
	return &Applier{ChunkSize: chunkSize, Interval: interval}
}

func (a *Applier) chunk() int {
	if a == nil || a.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return a.ChunkSize
}

// Stream applies edit to its target node in ticks of ChunkSize runes spaced
// Interval apart. Each tick sets the node text to prefix+revealed+suffix.
// progress, if non-nil, is called ceil(n/ChunkSize)+1 times for content of n
// runes. The context is checked between ticks; on cancellation the node is
// left holding whatever has been revealed so far.
func (a *Applier) Stream(ctx context.Context, host TreeHost, edit planner.AIEdit, progress func(Progress)) error {
	node, ok := host.NodeByID(edit.TargetNodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeGone, edit.TargetNodeID)
	}
	prefix, suffix, err := split(node.Text(), edit)
	if err != nil {
		return err
	}
	applyFormatting(node, edit.Formatting)

	content := []rune(edit.NewContent)
	n := len(content)
	size := a.chunk()
	ticks := (n + size - 1) / size

	report := func(tick int, revealed string, pct int) {
		if progress != nil {
			progress(Progress{Node: edit.TargetNodeID, Percent: pct, Revealed: revealed, Tick: tick, Ticks: ticks})
		}
	}

	node.SetText(prefix + suffix)
	if n == 0 {
		report(0, "", 100)
		return nil
	}
	report(0, "", 0)

	for tick := 1; tick <= ticks; tick++ {
		if err := a.wait(ctx); err != nil {
			return err
		}
		end := min(tick*size, n)
		revealed := string(content[:end])
		node.SetText(prefix + revealed + suffix)
		pct := end * 100 / n
		if tick == ticks {
			pct = 100
		}
		report(tick, revealed, pct)
	}
	return nil
}

func (a *Applier) wait(ctx context.Context) error {
	d := DefaultInterval
	if a != nil {
		d = a.Interval
	}
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// split returns the node text around the edited range. When the expected
// text is not at the planned offsets it is searched for in the node.
func split(text string, edit planner.AIEdit) (string, string, error) {
	rs := []rune(text)
	start, end := edit.LocalStart, edit.LocalEnd
	if start < 0 || end < start || end > len(rs) || string(rs[start:end]) != edit.OldText {
		if edit.OldText == "" {
			return "", "", fmt.Errorf("%w: insertion point out of range in %s", ErrStaleEdit, edit.TargetNodeID)
		}
		i := strings.Index(text, edit.OldText)
		if i < 0 {
			return "", "", fmt.Errorf("%w: %q not found in %s", ErrStaleEdit, edit.OldText, edit.TargetNodeID)
		}
		start = markdown.RuneLen(text[:i])
		end = start + markdown.RuneLen(edit.OldText)
	}
	return string(rs[:start]), string(rs[end:]), nil
}

func applyFormatting(node Node, f *planner.Formatting) {
	if f == nil {
		return
	}
	set := func(on bool, bit doctree.Format) {
		if on && !node.HasFormat(bit) {
			node.ToggleFormat(bit)
		}
	}
	set(f.Bold, doctree.FormatBold)
	set(f.Italic, doctree.FormatItalic)
	set(f.Underline, doctree.FormatUnderline)
}

// Commit applies edits to a flat editor in one step.
func Commit(host FlatHost, md string, edits []markdown.Edit) (string, planner.Report) {
	out, rep := planner.ApplyFlat(md, edits)
	if rep.Applied > 0 {
		host.SetMarkdown(out)
	}
	return out, rep
}

// DocumentHost exposes a bare document as a TreeHost without locking.
func DocumentHost(doc *doctree.Document) TreeHost { return docHost{doc} }

type docHost struct{ doc *doctree.Document }

func (h docHost) NodeByID(id doctree.NodeID) (Node, bool) {
	n, ok := h.doc.Node(id)
	if !ok || !n.IsText() {
		return nil, false
	}
	return n, true
}
