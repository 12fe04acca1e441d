package docservice

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/revlog"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/testutil"
	"github.com/starford/inkwell/internal/watcher"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) PublishSessionEvent(kind, _ string, _ any) {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func fastSettings(mode string) Settings {
	return Settings{
		Mode:            mode,
		ChunkSize:       3,
		ChunkInterval:   0,
		PendingDwell:    0,
		EditPause:       0,
		HistoryLimit:    10,
		HistoryDebounce: time.Hour,
	}
}

type env struct {
	dir   string
	store storage.Provider
	revs  *revlog.DB
	pub   *recordingPublisher
	svc   *Service
}

func newEnv(t *testing.T, mode string, collab collaborator.Collaborator) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	e := &env{dir: dir, store: store, revs: testutil.TestRevlog(t), pub: &recordingPublisher{}}
	e.svc = NewService(store, e.revs, collab, WithSettings(fastSettings(mode)), WithPublisher(e.pub))
	t.Cleanup(e.svc.Close)
	return e
}

func (e *env) open(t *testing.T, path, content string) *Session {
	t.Helper()
	testutil.WriteDoc(t, e.store, path, content)
	s, err := e.svc.Open(context.Background(), path)
	require.NoError(t, err)
	return s
}

func shorten() collaborator.Collaborator {
	return collaborator.Static{
		Edits:       []markdown.Edit{{StartOffset: 9, EndOffset: 14, NewContent: "Hi"}},
		Explanation: "shorter",
	}
}

func TestOpen(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	s := e.open(t, "doc.md", "---\ntitle: Roadmap\n---\n\n# Title\n\nHello world\n")

	assert.Equal(t, "# Title\n\nHello world", s.Markdown())
	assert.Equal(t, "Roadmap", s.Title())
	h := s.History()
	assert.Equal(t, 1, h.Len)
	assert.False(t, h.CanUndo)

	revs, err := e.svc.Revisions(context.Background(), "doc.md", 0)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, models.SourceOpen, revs[0].Source)

	got, err := e.svc.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestOpenMissing(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	_, err := e.svc.Open(context.Background(), "none.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunEditStructured(t *testing.T) {
	e := newEnv(t, ModeStructured, shorten())
	s := e.open(t, "doc.md", "# Title\n\nHello world\n")

	out, err := s.RunEdit(context.Background(), aiedit.Request{Instruction: "shorten"})
	require.NoError(t, err)
	require.Equal(t, aiedit.StatusApplied, out.Status)
	require.Equal(t, 1, out.Applied)

	assert.Equal(t, "# Title\n\nHi world", s.Markdown())
	assert.Empty(t, s.Highlights())
	st := s.State()
	assert.False(t, st.IsStreaming)
	assert.Equal(t, aiedit.PhaseIdle, st.Phase)
	assert.Equal(t, 2, s.History().Len)

	latest, err := e.revs.Latest("doc.md")
	require.NoError(t, err)
	assert.Equal(t, models.SourceAI, latest.Source)
	assert.Equal(t, "shorter", latest.Explanation)

	for _, kind := range []string{EventAIState, EventAIProgress, EventAICompleted, EventDocumentChanged, EventHistoryPushed} {
		assert.NotZero(t, e.pub.count(kind), "no %s event published", kind)
	}
}

func TestUndoRedo(t *testing.T) {
	e := newEnv(t, ModeStructured, shorten())
	s := e.open(t, "doc.md", "# Title\n\nHello world")

	_, err := s.RunEdit(context.Background(), aiedit.Request{Instruction: "shorten"})
	require.NoError(t, err)

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# Title\n\nHello world", s.Markdown())

	ok, _ = s.Undo()
	assert.False(t, ok, "undo past the first entry")

	ok, err = s.Redo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# Title\n\nHi world", s.Markdown())
}

func TestUserEditFlushesBeforeUndo(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	s := e.open(t, "doc.md", "Hello world")

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	require.Equal(t, "Hello world", nodes[0].Text)

	require.NoError(t, s.SetNodeText(nodes[0].ID, "Goodbye"))
	assert.Equal(t, "Goodbye", s.Markdown())

	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hello world", s.Markdown())

	assert.ErrorIs(t, s.SetNodeText("n999", "x"), apperr.ErrNotFound)
}

func TestEditsRejectedWhileStreaming(t *testing.T) {
	called := make(chan struct{})
	blocking := collaborator.Func(func(ctx context.Context, _ collaborator.Request) (collaborator.Response, error) {
		close(called)
		<-ctx.Done()
		return collaborator.Response{}, ctx.Err()
	})
	e := newEnv(t, ModeStructured, blocking)
	s := e.open(t, "doc.md", "Hello world")

	ch, err := s.StartEdit(aiedit.Request{Instruction: "wait"})
	require.NoError(t, err)
	<-called

	require.True(t, s.IsStreaming())
	assert.ErrorIs(t, s.SetMarkdown("x"), apperr.ErrConflict)
	assert.ErrorIs(t, s.SetNodeText(s.Nodes()[0].ID, "x"), apperr.ErrConflict)
	_, err = s.Undo()
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = s.Save(context.Background())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	changed, err := s.Reload(context.Background())
	assert.NoError(t, err)
	assert.False(t, changed)

	second, err := s.StartEdit(aiedit.Request{Instruction: "again"})
	require.NoError(t, err)
	assert.Equal(t, aiedit.StatusIgnored, (<-second).Outcome.Status)

	require.True(t, s.Cancel(), "Cancel reported nothing running")
	r := <-ch
	assert.Equal(t, aiedit.StatusCancelled, r.Outcome.Status)
	assert.ErrorIs(t, r.Err, apperr.ErrCancelled)
	assert.False(t, s.IsStreaming())
	assert.Equal(t, "Hello world", s.Markdown())
}

func TestSavePreservesFrontmatter(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	s := e.open(t, "doc.md", "---\ntitle: T\n---\n\n# Heading\n\nbody\n")

	require.NoError(t, s.SetMarkdown("# Heading\n\nnew body"))
	info, err := s.Save(context.Background())
	require.NoError(t, err)

	data, err := e.store.Read("doc.md")
	require.NoError(t, err)
	want := "---\ntitle: T\n---\n\n# Heading\n\nnew body"
	assert.Equal(t, want, string(data))
	assert.Equal(t, "T", info.Title)
	assert.Equal(t, int64(len(want)), info.Size)

	changed, err := s.Reload(context.Background())
	assert.NoError(t, err)
	assert.False(t, changed, "reload after own save")

	latest, err := e.revs.Latest("doc.md")
	require.NoError(t, err)
	assert.Equal(t, models.SourceSave, latest.Source)
}

func TestSaveUneditedKeepsFileBytes(t *testing.T) {
	const original = "---\ntitle: T\n---\n> - a\n> - b\n>\n> ---\n\n" +
		"- a\n\n  ```go\n  x\n  ```\n- b\n  > quoted\n\n" +
		"a  \n b\\\nc\n\n* * *\n"

	for _, mode := range []string{ModeStructured, ModeFlat} {
		t.Run(mode, func(t *testing.T) {
			e := newEnv(t, mode, nil)
			s := e.open(t, "doc.md", original)

			_, err := s.Save(context.Background())
			require.NoError(t, err)
			data, err := e.store.Read("doc.md")
			require.NoError(t, err)
			assert.Equal(t, original, string(data))
		})
	}

	t.Run("after undo", func(t *testing.T) {
		e := newEnv(t, ModeStructured, nil)
		s := e.open(t, "doc.md", original)

		require.NoError(t, s.SetMarkdown("changed"))
		ok, err := s.Undo()
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.Save(context.Background())
		require.NoError(t, err)
		data, err := e.store.Read("doc.md")
		require.NoError(t, err)
		assert.Equal(t, original, string(data))
	})
}

func TestSaveNestedBlocksRoundTrip(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	s := e.open(t, "doc.md", "> - a\n> - b\n>\n> ---\n\n- a\n  ```go\n  x\n  ```\n- b\n\nend\n")

	nodes := s.Nodes()
	require.NotEmpty(t, nodes)
	last := nodes[len(nodes)-1]
	require.Equal(t, "end", last.Text)
	require.NoError(t, s.SetNodeText(last.ID, "fin"))

	_, err := s.Save(context.Background())
	require.NoError(t, err)
	data, err := e.store.Read("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "> - a\n> - b\n>\n> ---\n\n- a\n  ```go\n  x\n  ```\n- b\n\nfin", string(data))
}

func TestReloadFromDisk(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	s := e.open(t, "doc.md", "old text")

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "doc.md"), []byte("# New\n\nnew text\n"), 0o644))
	e.svc.HandleFileEvent(watcher.Changed, "doc.md")

	assert.Equal(t, "# New\n\nnew text", s.Markdown())
	assert.Equal(t, "New", s.Title())
	assert.Equal(t, 2, s.History().Len)
	assert.Equal(t, 1, e.pub.count(EventDocumentReloaded))

	ok, _ := s.Undo()
	assert.True(t, ok)
	assert.Equal(t, "old text", s.Markdown())
}

func TestFlatMode(t *testing.T) {
	e := newEnv(t, ModeFlat, collaborator.Static{
		Edits: []markdown.Edit{{StartOffset: 0, EndOffset: 5, NewContent: "Howdy"}},
	})
	s := e.open(t, "doc.md", "Hello   world")

	require.Equal(t, ModeFlat, s.Mode())
	require.Nil(t, s.Nodes())

	out, err := s.RunEdit(context.Background(), aiedit.Request{Instruction: "greet"})
	require.NoError(t, err)
	assert.Equal(t, aiedit.StatusApplied, out.Status)
	assert.Equal(t, "Howdy   world", out.Markdown)
	assert.Equal(t, "Howdy   world", s.Markdown())
	assert.ErrorIs(t, s.SetNodeText("n1", "x"), apperr.ErrNotFound)
	assert.Equal(t, 2, s.History().Len)
}

func TestListAndClose(t *testing.T) {
	e := newEnv(t, ModeStructured, nil)
	testutil.WriteDoc(t, e.store, "b.md", "# Beta\n")
	s := e.open(t, "a.md", "---\ntitle: Alpha\n---\nx")

	docs, err := e.svc.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Alpha", docs[0].Title)
	assert.Equal(t, "Beta", docs[1].Title)
	assert.Len(t, e.svc.Sessions(), 1)

	require.NoError(t, e.svc.CloseSession(s.ID))
	_, err = e.svc.Get(s.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, e.svc.CloseSession(s.ID), apperr.ErrNotFound)
}
