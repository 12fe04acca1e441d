package docservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/history"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/stream"
)

// Session is one open editor over a vault document. In structured mode it
// holds a document tree that AI edits stream into; in flat mode it holds a
// markdown string that AI edits replace in one step.
type Session struct {
	ID   string
	Path string

	svc   *Service
	mode  string
	log   *slog.Logger
	orch  *aiedit.Orchestrator
	stack *history.Stack
	rec   *history.Recorder

	mu      sync.Mutex
	header  string
	title   string
	doc     *doctree.Document
	flat    string
	diskSum string
	// disk is the file as last loaded or saved, and diskBody the checksum of
	// the body as it serialized then. An unedited body saves disk verbatim.
	disk     []byte
	diskBody string
	classes map[doctree.NodeID]map[string]struct{}
}

// NodeView is a text node with its range in the serialized markdown.
type NodeView struct {
	ID     doctree.NodeID `json:"id"`
	Text   string         `json:"text"`
	Format []string       `json:"format,omitempty"`
	Start  int            `json:"start"`
	End    int            `json:"end"`
}

// Info is the full view of a session.
type Info struct {
	ID         string                      `json:"id"`
	Path       string                      `json:"path"`
	Title      string                      `json:"title"`
	Mode       string                      `json:"mode"`
	Markdown   string                      `json:"markdown"`
	State      aiedit.State                `json:"state"`
	History    history.Info                `json:"history"`
	Highlights map[doctree.NodeID][]string `json:"highlights"`
	Nodes      []NodeView                  `json:"nodes,omitempty"`
}

func newSession(svc *Service, id, path string, data []byte) (*Session, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	st := svc.settings
	s := &Session{
		ID:      id,
		Path:    path,
		svc:     svc,
		mode:    st.Mode,
		log:     svc.log.With(slog.String("session", id)),
		header:  res.Header,
		title:   res.Title,
		diskSum: checksum.Sum(data),
		classes: make(map[doctree.NodeID]map[string]struct{}),
	}
	if s.mode == ModeFlat {
		s.flat = res.Body
	} else {
		s.mode = ModeStructured
		s.doc = doctree.Parse(res.Body)
	}
	s.disk, s.diskBody = data, s.bodyChecksum(s.markdownLocked())

	s.stack = history.NewStack(st.HistoryLimit)
	s.rec = history.NewRecorder(s.stack, st.HistoryDebounce, s.capture,
		history.WithLogger(s.log),
		history.WithOnPush(func(history.Entry) {
			svc.publish(EventHistoryPushed, s.ID, s.stack.Info())
		}),
	)
	s.orch = aiedit.New(svc.collab,
		aiedit.WithApplier(stream.New(st.ChunkSize, st.ChunkInterval)),
		aiedit.WithTimings(st.PendingDwell, st.EditPause),
		aiedit.WithLogger(s.log),
		aiedit.WithObserver(s.observe),
	)
	s.rec.Record()
	return s, nil
}

// Mode returns ModeStructured or ModeFlat.
func (s *Session) Mode() string { return s.mode }

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Markdown returns the current document body.
func (s *Session) Markdown() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markdownLocked()
}

func (s *Session) markdownLocked() string {
	if s.mode == ModeFlat {
		return s.flat
	}
	return markdown.String(s.doc)
}

// SetMarkdown replaces the whole body as a user edit.
func (s *Session) SetMarkdown(md string) error {
	if s.orch.IsStreaming() {
		return fmt.Errorf("%w: ai edit in progress", apperr.ErrConflict)
	}
	s.replace(md)
	s.svc.publish(EventDocumentChanged, s.ID, map[string]string{"markdown": md})
	return nil
}

func (s *Session) replace(md string) {
	s.mu.Lock()
	if s.mode == ModeFlat {
		s.flat = md
	} else {
		s.doc = doctree.Parse(md)
	}
	s.mu.Unlock()
	s.rec.Notify()
}

// SetNodeText replaces the text of one node as a user edit.
func (s *Session) SetNodeText(id doctree.NodeID, text string) error {
	if s.orch.IsStreaming() {
		return fmt.Errorf("%w: ai edit in progress", apperr.ErrConflict)
	}
	s.mu.Lock()
	var n *doctree.Node
	ok := false
	if s.doc != nil {
		n, ok = s.doc.Node(id)
	}
	if !ok || !n.IsText() {
		s.mu.Unlock()
		return fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}
	n.SetText(text)
	s.mu.Unlock()

	s.rec.Notify()
	s.svc.publish(EventDocumentChanged, s.ID, map[string]string{"node": string(id)})
	return nil
}

// FindSelection locates text in the current markdown, preferring the
// occurrence nearest hint.
func (s *Session) FindSelection(text string, hint *int) (markdown.Range, bool) {
	return markdown.FindSelection(s.Markdown(), text, hint)
}

// Nodes lists the text nodes with their markdown ranges. Flat sessions have
// none.
func (s *Session) Nodes() []NodeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil
	}
	_, sm := markdown.Serialize(s.doc)
	spans := sm.Spans()
	out := make([]NodeView, 0, len(spans))
	for _, sp := range spans {
		n, ok := s.doc.Node(sp.Node)
		if !ok {
			continue
		}
		out = append(out, NodeView{ID: sp.Node, Text: n.Text(), Format: formatNames(n.Format()), Start: sp.Start, End: sp.End})
	}
	return out
}

func formatNames(f doctree.Format) []string {
	var out []string
	for _, b := range []struct {
		bit  doctree.Format
		name string
	}{
		{doctree.FormatBold, "bold"},
		{doctree.FormatItalic, "italic"},
		{doctree.FormatUnderline, "underline"},
		{doctree.FormatStrikethrough, "strikethrough"},
		{doctree.FormatCode, "code"},
	} {
		if f&b.bit != 0 {
			out = append(out, b.name)
		}
	}
	return out
}

// StartEdit runs an AI edit in the background. The edit is not tied to any
// request lifetime; use Cancel to stop it. The channel yields one result.
func (s *Session) StartEdit(req aiedit.Request) (<-chan aiedit.Result, error) {
	ch, err := s.orch.Start(context.Background(), s.binding(), req)
	if err != nil {
		return nil, err
	}
	out := make(chan aiedit.Result, 1)
	// Ignored requests are answered before Start returns.
	select {
	case r := <-ch:
		s.completed(r.Outcome, r.Err)
		out <- r
		close(out)
		return out, nil
	default:
	}
	go func() {
		defer close(out)
		r := <-ch
		s.completed(r.Outcome, r.Err)
		out <- r
	}()
	return out, nil
}

// RunEdit runs an AI edit and waits for it.
func (s *Session) RunEdit(ctx context.Context, req aiedit.Request) (aiedit.Outcome, error) {
	out, err := s.orch.Run(ctx, s.binding(), req)
	s.completed(out, err)
	return out, err
}

// Cancel stops the edit in flight. It reports whether one was running.
func (s *Session) Cancel() bool { return s.orch.Cancel() }

func (s *Session) IsStreaming() bool { return s.orch.IsStreaming() }

func (s *Session) State() aiedit.State { return s.orch.State() }

type completion struct {
	aiedit.Outcome
	Error string `json:"error,omitempty"`
}

func (s *Session) completed(out aiedit.Outcome, err error) {
	switch out.Status {
	case aiedit.StatusIgnored, "":
		return
	case aiedit.StatusApplied:
		s.rec.Flush()
		s.svc.record(s, models.SourceAI, out.Explanation)
		s.svc.publish(EventDocumentChanged, s.ID, map[string]string{"source": models.SourceAI})
	case aiedit.StatusCancelled:
		if s.rec.Flush() {
			s.svc.publish(EventDocumentChanged, s.ID, map[string]string{"source": models.SourceAI})
		}
	}
	c := completion{Outcome: out}
	if err != nil {
		c.Error = err.Error()
	}
	s.svc.publish(EventAICompleted, s.ID, c)
}

func (s *Session) observe(ev aiedit.Event) {
	kind := EventAIState
	if ev.Kind == aiedit.EventProgress {
		kind = EventAIProgress
	}
	s.svc.publish(kind, s.ID, ev)
}

func (s *Session) binding() aiedit.Binding {
	if s.mode == ModeFlat {
		return aiedit.Binding{Flat: flatHost{s}}
	}
	return aiedit.Binding{Tree: s, Highlight: s}
}

// Undo restores the previous history entry.
func (s *Session) Undo() (bool, error) {
	return s.step((*history.Stack).Undo)
}

// Redo re-applies the next history entry.
func (s *Session) Redo() (bool, error) {
	return s.step((*history.Stack).Redo)
}

func (s *Session) step(move func(*history.Stack) (history.Entry, bool)) (bool, error) {
	if s.orch.IsStreaming() {
		return false, fmt.Errorf("%w: ai edit in progress", apperr.ErrConflict)
	}
	s.rec.Flush()
	e, ok := move(s.stack)
	if !ok {
		return false, nil
	}
	page := doctree.New()
	if len(e.Pages) > 0 && e.Pages[0] != nil {
		page = e.Pages[0]
	}
	s.mu.Lock()
	if s.mode == ModeFlat {
		s.flat = markdown.String(page)
	} else {
		s.doc = page
	}
	s.mu.Unlock()
	s.svc.publish(EventDocumentChanged, s.ID, map[string]string{"source": "history"})
	return true, nil
}

// History summarizes the undo stack.
func (s *Session) History() history.Info { return s.stack.Info() }

// Save writes the document, frontmatter included, back to the vault.
func (s *Session) Save(_ context.Context) (models.DocumentInfo, error) {
	if s.orch.IsStreaming() {
		return models.DocumentInfo{}, fmt.Errorf("%w: ai edit in progress", apperr.ErrConflict)
	}
	s.mu.Lock()
	md := s.markdownLocked()
	body := s.bodyChecksum(md)
	data := s.disk
	if body != s.diskBody || data == nil {
		data = parser.Join(s.header, md)
	}
	s.mu.Unlock()

	if err := s.svc.store.Write(s.Path, data); err != nil {
		return models.DocumentInfo{}, err
	}
	sum := checksum.Sum(data)
	s.mu.Lock()
	s.diskSum, s.disk, s.diskBody = sum, data, body
	title := s.title
	s.mu.Unlock()

	s.svc.record(s, models.SourceSave, "")
	s.log.Info("document saved", slog.String("path", s.Path))
	return models.DocumentInfo{
		Path:      s.Path,
		Title:     title,
		Checksum:  sum,
		Size:      int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Reload replaces the session content with the file on disk. It is skipped
// while an AI edit runs or when the file has not changed since it was last
// loaded or saved. It reports whether the content was replaced.
func (s *Session) Reload(_ context.Context) (bool, error) {
	if s.orch.IsStreaming() {
		s.log.Debug("reload skipped: ai edit in progress")
		return false, nil
	}
	data, err := s.svc.store.Read(s.Path)
	if err != nil {
		return false, err
	}
	sum := checksum.Sum(data)
	s.mu.Lock()
	same := sum == s.diskSum
	s.mu.Unlock()
	if same {
		return false, nil
	}
	res, err := parser.Parse(data)
	if err != nil {
		return false, err
	}

	s.rec.Flush()
	s.mu.Lock()
	s.header, s.title, s.diskSum = res.Header, res.Title, sum
	if s.mode == ModeFlat {
		s.flat = res.Body
	} else {
		s.doc = doctree.Parse(res.Body)
	}
	s.disk, s.diskBody = data, s.bodyChecksum(s.markdownLocked())
	s.mu.Unlock()
	s.rec.Record()

	s.svc.record(s, models.SourceDisk, "")
	s.svc.publish(EventDocumentReloaded, s.ID, map[string]string{"path": s.Path})
	s.log.Info("document reloaded from disk", slog.String("path", s.Path))
	return true, nil
}

// Info returns the full session view.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		Path:       s.Path,
		Title:      s.Title(),
		Mode:       s.mode,
		Markdown:   s.Markdown(),
		State:      s.State(),
		History:    s.History(),
		Highlights: s.Highlights(),
		Nodes:      s.Nodes(),
	}
}

func (s *Session) close() {
	s.orch.Cancel()
	s.rec.Close()
}

func (s *Session) bodyChecksum(md string) string { return checksum.Sum([]byte(md)) }

// capture snapshots the current body for the history recorder.
func (s *Session) capture() history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := s.doc
	if s.mode == ModeFlat {
		page = doctree.Parse(s.flat)
	}
	return history.NewEntry([]*doctree.Document{page}, false)
}
