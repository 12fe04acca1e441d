// Package planner turns markdown-range edits into concrete mutations: a
// spliced string for flat editors, or node-targeted edits for tree editors.
package planner

import (
	"sort"
	"strings"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
)

// Action describes what an AIEdit does to its target range.
type Action string

const (
	ActionReplace Action = "replace"
	ActionInsert  Action = "insert"
	ActionDelete  Action = "delete"
)

// Strategy records how an edit was mapped onto the tree.
type Strategy string

const (
	StrategyOffset    Strategy = "offset"
	StrategyTextMatch Strategy = "text-match"
)

// Formatting lists formats to switch on for the target node.
type Formatting struct {
	Bold      bool `json:"bold,omitempty"`
	Italic    bool `json:"italic,omitempty"`
	Underline bool `json:"underline,omitempty"`
}

// Empty reports whether no format is requested.
func (f Formatting) Empty() bool { return !f.Bold && !f.Italic && !f.Underline }

// AIEdit is an edit bound to one text node. NewContent replaces the runes
// [LocalStart, LocalEnd) of the node text, which are expected to read OldText.
type AIEdit struct {
	TargetNodeID doctree.NodeID `json:"targetNodeId"`
	Action       Action         `json:"action"`
	NewContent   string         `json:"newContent"`
	Formatting   *Formatting    `json:"formatting,omitempty"`

	LocalStart  int      `json:"localStart"`
	LocalEnd    int      `json:"localEnd"`
	OldText     string   `json:"oldText"`
	StartOffset int      `json:"startOffset"`
	Strategy    Strategy `json:"strategy"`
}

// Dropped is an edit the planner refused, with the reason.
type Dropped struct {
	Edit   markdown.Edit `json:"edit"`
	Reason string        `json:"reason"`
}

const (
	ReasonInvalidRange = "invalid range"
	ReasonOverlap      = "overlaps an earlier edit"
	ReasonUnmappable   = "no text node holds the edited range"
)

// Report summarizes a planning pass.
type Report struct {
	Applied int       `json:"applied"`
	Dropped []Dropped `json:"dropped,omitempty"`
}

func (r *Report) drop(e markdown.Edit, reason string) {
	r.Dropped = append(r.Dropped, Dropped{Edit: e, Reason: reason})
}

type indexed struct {
	markdown.Edit
	seq int
}

// accept filters edits against a markdown of length n. Edits are taken in
// proposal order; one whose range is invalid or intersects an already
// accepted range is dropped. Insertions at the same point do not intersect.
func accept(edits []markdown.Edit, n int, rep *Report) []indexed {
	var out []indexed
	for i, e := range edits {
		if e.StartOffset < 0 || e.EndOffset < e.StartOffset || e.EndOffset > n {
			rep.drop(e, ReasonInvalidRange)
			continue
		}
		clash := false
		for _, a := range out {
			if e.StartOffset < a.EndOffset && a.StartOffset < e.EndOffset {
				clash = true
				break
			}
		}
		if clash {
			rep.drop(e, ReasonOverlap)
			continue
		}
		out = append(out, indexed{Edit: e, seq: i})
	}
	return out
}

// descending orders edits by start offset, last first. Among edits at the
// same offset the later proposal goes first, so splicing keeps proposal
// order in the output.
func descending(es []indexed) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].StartOffset != es[j].StartOffset {
			return es[i].StartOffset > es[j].StartOffset
		}
		return es[i].seq > es[j].seq
	})
}

// ApplyFlat splices edits into md and returns the result. Edits apply
// from the end of the string backwards so every offset stays valid.
func ApplyFlat(md string, edits []markdown.Edit) (string, Report) {
	var rep Report
	runes := []rune(md)
	ok := accept(edits, len(runes), &rep)
	descending(ok)
	for _, e := range ok {
		tail := append([]rune(e.NewContent), runes[e.EndOffset:]...)
		runes = append(runes[:e.StartOffset], tail...)
		rep.Applied++
	}
	return string(runes), rep
}

// PlanTree maps edits against md, the markdown the edits were proposed for,
// onto text nodes of doc. The result is ordered by StartOffset descending.
// It returns apperr.ErrUnmappableEdit when edits were given but none could
// be mapped.
func PlanTree(md string, doc *doctree.Document, edits []markdown.Edit) ([]AIEdit, Report, error) {
	var rep Report
	if len(edits) == 0 {
		return nil, rep, nil
	}
	live, sm := markdown.Serialize(doc)
	ok := accept(edits, markdown.RuneLen(md), &rep)
	descending(ok)

	var out []AIEdit
	for _, e := range ok {
		old := markdown.Slice(md, e.StartOffset, e.EndOffset)
		ae, mapped := byOffset(live, sm, e.Edit, old)
		if !mapped {
			ae, mapped = byText(doc, e.Edit, old)
		}
		if !mapped {
			rep.drop(e.Edit, ReasonUnmappable)
			continue
		}
		ae.NewContent = e.NewContent
		// Formats apply to a whole node, so markup is only lifted when the
		// edit replaces all of the node's text. A partial edit keeps the
		// markup as literal content, which serializes the same as the flat
		// splice.
		if coversNode(doc, ae) {
			content, f := stripFormatting(e.NewContent)
			ae.NewContent = content
			if !f.Empty() {
				ae.Formatting = &f
			}
		}
		ae.Action = actionFor(ae.OldText, ae.NewContent)
		out = append(out, ae)
		rep.Applied++
	}
	if len(out) == 0 {
		return nil, rep, apperr.ErrUnmappableEdit
	}
	return out, rep, nil
}

func byOffset(live string, sm *markdown.SourceMap, e markdown.Edit, old string) (AIEdit, bool) {
	if e.EndOffset > sm.Len() || markdown.Slice(live, e.StartOffset, e.EndOffset) != old {
		return AIEdit{}, false
	}
	// The edit maps when exactly one text node overlaps it and holds all of
	// it. An insertion at a boundary touches two nodes; the earlier one
	// takes it.
	spans := sm.Overlapping(e.StartOffset, e.EndOffset)
	if len(spans) == 0 {
		return AIEdit{}, false
	}
	s := spans[0]
	if e.StartOffset != e.EndOffset && (len(spans) > 1 || e.StartOffset < s.Start || e.EndOffset > s.End) {
		return AIEdit{}, false
	}
	return AIEdit{
		TargetNodeID: s.Node,
		LocalStart:   e.StartOffset - s.Start,
		LocalEnd:     e.EndOffset - s.Start,
		OldText:      old,
		StartOffset:  e.StartOffset,
		Strategy:     StrategyOffset,
	}, true
}

func byText(doc *doctree.Document, e markdown.Edit, old string) (AIEdit, bool) {
	if old == "" {
		return AIEdit{}, false
	}
	for _, n := range doc.TextNodes() {
		i := strings.Index(n.Text(), old)
		if i < 0 {
			continue
		}
		start := markdown.RuneLen(n.Text()[:i])
		return AIEdit{
			TargetNodeID: n.ID,
			LocalStart:   start,
			LocalEnd:     start + markdown.RuneLen(old),
			OldText:      old,
			StartOffset:  e.StartOffset,
			Strategy:     StrategyTextMatch,
		}, true
	}
	return AIEdit{}, false
}

func coversNode(doc *doctree.Document, ae AIEdit) bool {
	n, ok := doc.Node(ae.TargetNodeID)
	return ok && ae.LocalStart == 0 && ae.LocalEnd == markdown.RuneLen(n.Text())
}

func actionFor(old, content string) Action {
	switch {
	case old == "" && content != "":
		return ActionInsert
	case old != "" && content == "":
		return ActionDelete
	default:
		return ActionReplace
	}
}

// stripFormatting peels markup wrapping the whole of s and reports the
// formats it stood for, so "**done**" becomes "done" with Bold set.
func stripFormatting(s string) (string, Formatting) {
	var f Formatting
	for {
		switch {
		case wrapped(s, "<u>", "</u>"):
			s, f.Underline = s[3:len(s)-4], true
		case wrapped(s, "***", "***"):
			s, f.Bold, f.Italic = s[3:len(s)-3], true, true
		case wrapped(s, "**", "**") || wrapped(s, "__", "__"):
			s, f.Bold = s[2:len(s)-2], true
		case wrapped(s, "*", "*") || wrapped(s, "_", "_"):
			s, f.Italic = s[1:len(s)-1], true
		default:
			return s, f
		}
	}
}

func wrapped(s, open, close string) bool {
	if len(s) <= len(open)+len(close) {
		return false
	}
	if !strings.HasPrefix(s, open) || !strings.HasSuffix(s, close) {
		return false
	}
	inner := s[len(open) : len(s)-len(close)]
	// "**a** and **b**" is not one wrapped run.
	return !strings.Contains(inner, close) && strings.TrimSpace(inner) == inner
}
