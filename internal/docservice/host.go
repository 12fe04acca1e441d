package docservice

import (
	"sort"

	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/stream"
)

// NodeByID resolves a text node of the live document. The returned node
// looks the id up again on every access, so it never outlives a reload.
func (s *Session) NodeByID(id doctree.NodeID) (stream.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, false
	}
	n, ok := s.doc.Node(id)
	if !ok || !n.IsText() {
		return nil, false
	}
	return liveNode{s: s, id: id}, true
}

// Snapshot returns a copy of the live document.
func (s *Session) Snapshot() *doctree.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return doctree.New()
	}
	return s.doc.Clone()
}

func (s *Session) AddClass(id doctree.NodeID, class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.classes[id]
	if !ok {
		set = make(map[string]struct{})
		s.classes[id] = set
	}
	set[class] = struct{}{}
}

func (s *Session) RemoveClass(id doctree.NodeID, class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.classes[id], class)
	if len(s.classes[id]) == 0 {
		delete(s.classes, id)
	}
}

// Highlights returns the presentation classes currently set per node.
func (s *Session) Highlights() map[doctree.NodeID][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[doctree.NodeID][]string, len(s.classes))
	for id, set := range s.classes {
		cls := make([]string, 0, len(set))
		for c := range set {
			cls = append(cls, c)
		}
		sort.Strings(cls)
		out[id] = cls
	}
	return out
}

// liveNode is a stream.Node bound to a session's current document.
type liveNode struct {
	s  *Session
	id doctree.NodeID
}

func (l liveNode) with(fn func(n *doctree.Node)) bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.doc == nil {
		return false
	}
	n, ok := l.s.doc.Node(l.id)
	if ok {
		fn(n)
	}
	return ok
}

func (l liveNode) Text() string {
	var t string
	l.with(func(n *doctree.Node) { t = n.Text() })
	return t
}

func (l liveNode) SetText(text string) {
	if l.with(func(n *doctree.Node) { n.SetText(text) }) {
		l.s.rec.Notify()
	}
}

func (l liveNode) HasFormat(f doctree.Format) bool {
	var has bool
	l.with(func(n *doctree.Node) { has = n.HasFormat(f) })
	return has
}

func (l liveNode) ToggleFormat(f doctree.Format) {
	if l.with(func(n *doctree.Node) { n.ToggleFormat(f) }) {
		l.s.rec.Notify()
	}
}

// flatHost exposes a flat session to the orchestrator. Its SetMarkdown
// bypasses the streaming guard that user edits go through.
type flatHost struct{ s *Session }

func (f flatHost) Markdown() string { return f.s.Markdown() }

func (f flatHost) SetMarkdown(md string) { f.s.replace(md) }
