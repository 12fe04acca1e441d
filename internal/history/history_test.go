package history

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
)

func page(md string) []*doctree.Document { return []*doctree.Document{doctree.Parse(md)} }

func text(e Entry) string { return markdown.String(e.Pages[0]) }

func TestUndoRedoScenario(t *testing.T) {
	s := NewStack(0)
	s.Push(NewEntry(page("S1"), false))
	s.Push(NewEntry(page("S2"), false))
	s.Push(NewEntry(page("S3"), false))
	require.Equal(t, 2, s.Pointer())

	e, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, "S2", text(e))
	assert.Equal(t, 1, s.Pointer())

	s.Push(NewEntry(page("S4"), false))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, s.Pointer())

	_, ok = s.Redo()
	assert.False(t, ok)

	e, _ = s.Undo()
	assert.Equal(t, "S2", text(e))
	e, _ = s.Undo()
	assert.Equal(t, "S1", text(e))
	_, ok = s.Undo()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Pointer())
}

func TestUndoRedoSymmetry(t *testing.T) {
	s := NewStack(0)
	for _, md := range []string{"a", "b", "c", "d"} {
		s.Push(NewEntry(page(md), false))
	}
	before, _ := s.Current()

	for i := 1; i <= 3; i++ {
		for j := 0; j < i; j++ {
			_, ok := s.Undo()
			require.True(t, ok)
		}
		for j := 0; j < i; j++ {
			_, ok := s.Redo()
			require.True(t, ok)
		}
		after, _ := s.Current()
		assert.Equal(t, before.ID, after.ID)
		assert.Equal(t, text(before), text(after))
	}
}

func TestStackBound(t *testing.T) {
	s := NewStack(0)
	for i := 0; i < MaxHistory+10; i++ {
		s.Push(NewEntry(page(string(rune('a'+i%26))), false))
	}
	assert.Equal(t, MaxHistory, s.Len())
	assert.Equal(t, MaxHistory-1, s.Pointer())

	small := NewStack(3)
	for _, md := range []string{"1", "2", "3", "4"} {
		small.Push(NewEntry(page(md), false))
	}
	info := small.Info()
	assert.Equal(t, 3, info.Len)
	for small.Info().CanUndo {
		small.Undo()
	}
	e, _ := small.Current()
	assert.Equal(t, "2", text(e))
}

func TestStackEvictsOldestAtMaxHistory(t *testing.T) {
	s := NewStack(0)
	for i := 1; i <= MaxHistory+1; i++ {
		s.Push(NewEntry(page(fmt.Sprintf("S%d", i)), false))
	}
	require.Equal(t, MaxHistory, s.Len())
	assert.Equal(t, MaxHistory-1, s.Pointer())

	cur, _ := s.Current()
	assert.Equal(t, fmt.Sprintf("S%d", MaxHistory+1), text(cur))

	var oldest Entry
	for {
		e, ok := s.Undo()
		if !ok {
			break
		}
		oldest = e
	}
	assert.Equal(t, "S2", text(oldest))
	assert.Equal(t, 0, s.Pointer())
}

func TestEntriesAreDeepCopies(t *testing.T) {
	doc := doctree.Parse("original")
	s := NewStack(0)
	s.Push(NewEntry([]*doctree.Document{doc}, true))

	doc.TextNodes()[0].SetText("mutated after push")
	e, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "original", text(e))
	assert.True(t, e.TableOfContents)

	e.Pages[0].TextNodes()[0].SetText("mutated copy")
	again, _ := s.Current()
	assert.Equal(t, "original", text(again))
}

func TestClear(t *testing.T) {
	s := NewStack(0)
	s.Push(NewEntry(page("x"), false))
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, -1, s.Pointer())
	_, ok := s.Current()
	assert.False(t, ok)
	_, ok = s.Undo()
	assert.False(t, ok)
	_, ok = s.Redo()
	assert.False(t, ok)
}

func TestPushAssignsMetadata(t *testing.T) {
	s := NewStack(0)
	e := s.Push(Entry{Pages: page("x")})
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Checksum)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, Fingerprint(page("x"), false), e.Checksum)
	assert.NotEqual(t, Fingerprint(page("x"), false), Fingerprint(page("x"), true))
}

func TestRecorderDebounces(t *testing.T) {
	s := NewStack(0)
	var current atomic.Value
	current.Store("v1")
	var pushes atomic.Int32

	r := NewRecorder(s, 20*time.Millisecond, func() Entry {
		return NewEntry(page(current.Load().(string)), false)
	}, WithOnPush(func(Entry) { pushes.Add(1) }))
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Notify()
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return pushes.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Unchanged content is not pushed again.
	r.Notify()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), pushes.Load())

	current.Store("v2")
	r.Notify()
	require.True(t, r.Flush())
	assert.Equal(t, int32(2), pushes.Load())
	assert.Equal(t, 2, s.Len())

	assert.False(t, r.Flush())
}

func TestRecorderSkipsRestoredEntry(t *testing.T) {
	s := NewStack(0)
	docs := map[string]string{"cur": "A"}
	r := NewRecorder(s, time.Hour, func() Entry { return NewEntry(page(docs["cur"]), false) })
	defer r.Close()

	require.True(t, r.Record())
	docs["cur"] = "B"
	require.True(t, r.Record())

	e, ok := s.Undo()
	require.True(t, ok)
	docs["cur"] = text(e)
	assert.False(t, r.Record())
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Info().CanRedo)
}

func TestRecorderClosedIgnoresNotify(t *testing.T) {
	s := NewStack(0)
	r := NewRecorder(s, time.Millisecond, func() Entry { return NewEntry(page("x"), false) })
	r.Close()
	r.Notify()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, s.Len())
}
