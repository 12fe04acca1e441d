// Package history keeps a bounded stack of whole-document snapshots for
// undo and redo.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
)

// MaxHistory is the default number of entries a stack retains.
const MaxHistory = 50

// Entry is one snapshot of the page collection.
type Entry struct {
	ID              string              `json:"id"`
	Pages           []*doctree.Document `json:"-"`
	TableOfContents bool                `json:"tableOfContents"`
	Checksum        string              `json:"checksum"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// NewEntry builds an entry from pages, copying them.
func NewEntry(pages []*doctree.Document, toc bool) Entry {
	e := Entry{Pages: pages, TableOfContents: toc}
	e = e.Clone()
	e.Checksum = Fingerprint(e.Pages, toc)
	return e
}

// Clone deep-copies the entry.
func (e Entry) Clone() Entry {
	c := e
	c.Pages = make([]*doctree.Document, len(e.Pages))
	for i, p := range e.Pages {
		if p != nil {
			c.Pages[i] = p.Clone()
		}
	}
	return c
}

// Fingerprint digests the serialized pages and flags.
func Fingerprint(pages []*doctree.Document, toc bool) string {
	parts := make([]string, 0, len(pages)+1)
	for _, p := range pages {
		if p == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, markdown.String(p))
	}
	if toc {
		parts = append(parts, "toc")
	}
	return checksum.Strings(parts...)
}

// Stack is a linear undo/redo history. The pointer addresses the entry
// matching the current document; -1 means empty.
type Stack struct {
	mu      sync.Mutex
	entries []Entry
	pointer int
	limit   int
}

// NewStack creates a stack retaining at most limit entries (MaxHistory when
// limit is not positive).
func NewStack(limit int) *Stack {
	if limit <= 0 {
		limit = MaxHistory
	}
	return &Stack{pointer: -1, limit: limit}
}

// Push records e as the newest entry. Entries after the pointer are
// discarded and the oldest entry is evicted once the limit is exceeded.
func (s *Stack) Push(e Entry) Entry {
	e = e.Clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Checksum == "" {
		e.Checksum = Fingerprint(e.Pages, e.TableOfContents)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries[:s.pointer+1], e)
	if excess := len(s.entries) - s.limit; excess > 0 {
		s.entries = append([]Entry(nil), s.entries[excess:]...)
	}
	s.pointer = len(s.entries) - 1
	return e.Clone()
}

// Undo steps back one entry and returns a copy of it.
func (s *Stack) Undo() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canUndo() {
		return Entry{}, false
	}
	s.pointer--
	return s.entries[s.pointer].Clone(), true
}

// Redo steps forward one entry and returns a copy of it.
func (s *Stack) Redo() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canRedo() {
		return Entry{}, false
	}
	s.pointer++
	return s.entries[s.pointer].Clone(), true
}

// Current returns a copy of the entry at the pointer.
func (s *Stack) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pointer < 0 {
		return Entry{}, false
	}
	return s.entries[s.pointer].Clone(), true
}

// CurrentChecksum returns the checksum of the entry at the pointer without
// copying its pages.
func (s *Stack) CurrentChecksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pointer < 0 {
		return ""
	}
	return s.entries[s.pointer].Checksum
}

// Clear drops every entry.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.pointer = -1
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Stack) Pointer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointer
}

func (s *Stack) canUndo() bool { return s.pointer > 0 }

func (s *Stack) canRedo() bool { return s.pointer < len(s.entries)-1 }

// Info is a page-free summary of the stack.
type Info struct {
	Len     int     `json:"len"`
	Pointer int     `json:"pointer"`
	CanUndo bool    `json:"canUndo"`
	CanRedo bool    `json:"canRedo"`
	Entries []Entry `json:"entries"`
}

// Info summarizes the stack. Returned entries carry no pages.
func (s *Stack) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Info{
		Len:     len(s.entries),
		Pointer: s.pointer,
		CanUndo: s.canUndo(),
		CanRedo: s.canRedo(),
		Entries: make([]Entry, len(s.entries)),
	}
	for i, e := range s.entries {
		e.Pages = nil
		out.Entries[i] = e
	}
	return out
}
