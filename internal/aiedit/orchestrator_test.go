package aiedit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/stream"
)

// treeEditor is a structured editor over a bare document.
type treeEditor struct {
	mu      sync.Mutex
	doc     *doctree.Document
	classes []string
}

func newTreeEditor(md string) *treeEditor { return &treeEditor{doc: doctree.Parse(md)} }

func (e *treeEditor) Snapshot() *doctree.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone()
}

func (e *treeEditor) NodeByID(id doctree.NodeID) (stream.Node, bool) {
	return stream.DocumentHost(e.doc).NodeByID(id)
}

func (e *treeEditor) AddClass(id doctree.NodeID, class string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classes = append(e.classes, fmt.Sprintf("+%s:%s", class, id))
}

func (e *treeEditor) RemoveClass(id doctree.NodeID, class string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classes = append(e.classes, fmt.Sprintf("-%s:%s", class, id))
}

func (e *treeEditor) markdown() string { return markdown.String(e.Snapshot()) }

type flatEditor struct{ md string }

func (f *flatEditor) Markdown() string { return f.md }
func (f *flatEditor) SetMarkdown(s string) { f.md = s }

func fast(opts ...Option) []Option {
	return append([]Option{WithApplier(stream.New(3, 0)), WithTimings(0, 0)}, opts...)
}

func edits(es ...markdown.Edit) collaborator.Static {
	return collaborator.Static{Edits: es, Explanation: "done"}
}

func TestRunTreeStreamsEdit(t *testing.T) {
	ed := newTreeEditor("Hello world")
	target := ed.doc.TextNodes()[0].ID

	var events []Event
	o := New(edits(markdown.Edit{StartOffset: 6, EndOffset: 11, NewContent: "there"}),
		fast(WithObserver(func(ev Event) { events = append(events, ev) }))...)

	out, err := o.Run(context.Background(), Binding{Tree: ed, Highlight: ed}, Request{Instruction: "change greeting"})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, "done", out.Explanation)
	assert.Equal(t, "Hello there", out.Markdown)
	assert.Equal(t, "Hello there", ed.markdown())

	assert.Equal(t, []string{
		"+ai-pending:" + string(target),
		"-ai-pending:" + string(target),
		"+ai-active:" + string(target),
		"-ai-active:" + string(target),
	}, ed.classes)

	var progress []int
	var sawStreaming, sawPending bool
	for _, ev := range events {
		switch ev.Kind {
		case EventProgress:
			progress = append(progress, ev.Progress.Percent)
			assert.Equal(t, target, ev.State.CurrentEditNode)
			assert.Equal(t, ev.Progress.Revealed, ev.State.StreamingText)
		case EventState:
			if ev.State.Phase == PhaseStreaming {
				sawStreaming = true
			}
			if ev.State.Phase == PhaseHighlightPending {
				sawPending = true
				assert.Equal(t, []doctree.NodeID{target}, ev.State.HighlightedNodes)
			}
		}
	}
	assert.Equal(t, []int{0, 60, 100}, progress)
	assert.True(t, sawPending)
	assert.True(t, sawStreaming)

	last := events[len(events)-1]
	assert.Equal(t, EventState, last.Kind)
	assert.Equal(t, State{Phase: PhaseIdle, HighlightedNodes: []doctree.NodeID{}}, last.State)
	assert.False(t, o.IsStreaming())
}

func TestRunTreeMultipleEditsSameNode(t *testing.T) {
	ed := newTreeEditor("# Title\n\nHello world")
	o := New(edits(
		markdown.Edit{StartOffset: 9, EndOffset: 14, NewContent: "Hi"},
		markdown.Edit{StartOffset: 15, EndOffset: 20, NewContent: "there"},
	), fast()...)

	out, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "shorten"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Applied)
	assert.Equal(t, "# Title\n\nHi there", ed.markdown())
}

func TestRunPartialFormattingMatchesFlat(t *testing.T) {
	edit := markdown.Edit{StartOffset: 8, EndOffset: 15, NewContent: "**done**"}

	tree := newTreeEditor("Status: pending")
	_, err := New(edits(edit), fast()...).Run(context.Background(), Binding{Tree: tree}, Request{Instruction: "finish"})
	require.NoError(t, err)

	flat := &flatEditor{md: "Status: pending"}
	_, err = New(edits(edit), fast()...).Run(context.Background(), Binding{Flat: flat}, Request{Instruction: "finish"})
	require.NoError(t, err)

	assert.Equal(t, "Status: **done**", flat.md)
	assert.Equal(t, flat.md, tree.markdown())
	assert.False(t, tree.doc.TextNodes()[0].HasFormat(doctree.FormatBold))
}

func TestRunFlat(t *testing.T) {
	ed := &flatEditor{md: "# Title\n\nHello world"}
	o := New(edits(
		markdown.Edit{StartOffset: 9, EndOffset: 14, NewContent: "Hi"},
		markdown.Edit{StartOffset: 15, EndOffset: 20, NewContent: "there"},
	), fast()...)

	out, err := o.Run(context.Background(), Binding{Flat: ed}, Request{Instruction: "shorten"})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)
	assert.Equal(t, "# Title\n\nHi there", ed.md)
	assert.Equal(t, ed.md, out.Markdown)
}

func TestRunValidation(t *testing.T) {
	called := false
	var events []Event
	o := New(collaborator.Func(func(context.Context, collaborator.Request) (collaborator.Response, error) {
		called = true
		return collaborator.Response{}, nil
	}), fast(WithObserver(func(ev Event) { events = append(events, ev) }))...)

	_, err := o.Run(context.Background(), Binding{Flat: &flatEditor{}}, Request{Instruction: "   "})
	assert.ErrorIs(t, err, apperr.ErrEmptyInstruction)

	_, err = o.Run(context.Background(), Binding{}, Request{Instruction: "fix"})
	assert.ErrorIs(t, err, apperr.ErrNoActiveEditor)

	_, err = o.Start(context.Background(), Binding{}, Request{Instruction: "fix"})
	assert.ErrorIs(t, err, apperr.ErrNoActiveEditor)

	assert.NoError(t, Validate(Binding{Flat: &flatEditor{}}, Request{Instruction: "fix"}))

	assert.False(t, called)
	assert.Empty(t, events, "rejected requests must not change state")
	assert.Equal(t, State{Phase: PhaseIdle, HighlightedNodes: []doctree.NodeID{}}, o.State())
}

func TestRunNoChanges(t *testing.T) {
	ed := newTreeEditor("Fine as is")
	o := New(collaborator.Static{Explanation: "already good"}, fast()...)

	out, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "improve"})
	require.NoError(t, err)
	assert.Equal(t, StatusNoChanges, out.Status)
	assert.Equal(t, "already good", out.Explanation)
	assert.Equal(t, "Fine as is", ed.markdown())
}

func TestRunServiceFailure(t *testing.T) {
	ed := newTreeEditor("text")
	boom := errors.New("upstream 500")

	o := New(collaborator.Func(func(context.Context, collaborator.Request) (collaborator.Response, error) {
		return collaborator.Response{}, boom
	}), fast()...)
	out, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "x"})
	assert.ErrorIs(t, err, apperr.ErrServiceFailure)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, out.Status)
	assert.False(t, o.IsStreaming())

	o = New(edits(markdown.Edit{StartOffset: 3, EndOffset: 1}), fast()...)
	_, err = o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "x"})
	assert.ErrorIs(t, err, apperr.ErrServiceFailure)
	assert.Equal(t, "text", ed.markdown())
}

func TestRunMalformedReplySkipsHighlighting(t *testing.T) {
	ed := newTreeEditor("text")

	var phases []Phase
	o := New(edits(markdown.Edit{StartOffset: -1, EndOffset: 2, NewContent: "x"}),
		fast(WithObserver(func(ev Event) {
			if ev.Kind == EventState {
				phases = append(phases, ev.State.Phase)
			}
		}))...)

	out, err := o.Run(context.Background(), Binding{Tree: ed, Highlight: ed}, Request{Instruction: "x"})
	assert.ErrorIs(t, err, apperr.ErrServiceFailure)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, []Phase{PhaseAwaitingService, PhaseIdle}, phases)
	assert.Empty(t, ed.classes)
	assert.Equal(t, "text", ed.markdown())
}

func TestRunUnmappable(t *testing.T) {
	ed := newTreeEditor("Hello **world**")
	o := New(edits(markdown.Edit{StartOffset: 4, EndOffset: 9, NewContent: "x"}), fast()...)

	out, err := o.Run(context.Background(), Binding{Tree: ed, Highlight: ed}, Request{Instruction: "x"})
	assert.ErrorIs(t, err, apperr.ErrUnmappableEdit)
	assert.Equal(t, StatusUnmappable, out.Status)
	assert.Empty(t, ed.classes)

	flat := &flatEditor{md: "abc"}
	_, err = o.Run(context.Background(), Binding{Flat: flat}, Request{Instruction: "x"})
	assert.ErrorIs(t, err, apperr.ErrUnmappableEdit)
	assert.Equal(t, "abc", flat.md)
}

func TestRunIgnoredWhileStreaming(t *testing.T) {
	ed := newTreeEditor("Hello world")
	release := make(chan struct{})
	entered := make(chan struct{})
	o := New(collaborator.Func(func(ctx context.Context, _ collaborator.Request) (collaborator.Response, error) {
		close(entered)
		<-release
		return collaborator.Response{Edits: []markdown.Edit{{StartOffset: 0, EndOffset: 5, NewContent: "Howdy"}}}, nil
	}), fast()...)

	ch, err := o.Start(context.Background(), Binding{Tree: ed}, Request{Instruction: "first"})
	require.NoError(t, err)
	<-entered
	assert.True(t, o.IsStreaming())
	assert.True(t, o.State().IsStreaming)
	stateBefore, mdBefore := o.State(), ed.markdown()

	out, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "second"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, out.Status)
	assert.Equal(t, stateBefore, o.State())
	assert.Equal(t, mdBefore, ed.markdown())

	again, err := o.Start(context.Background(), Binding{Tree: ed}, Request{Instruction: "third"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, (<-again).Outcome.Status)
	assert.Equal(t, stateBefore, o.State())
	assert.Equal(t, mdBefore, ed.markdown())

	close(release)
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, StatusApplied, res.Outcome.Status)
	assert.Equal(t, "Howdy world", ed.markdown())
	assert.False(t, o.IsStreaming())
}

func TestCancelMidStream(t *testing.T) {
	ed := newTreeEditor("Start")
	var o *Orchestrator
	o = New(edits(markdown.Edit{StartOffset: 5, EndOffset: 5, NewContent: " and a long tail of text"}),
		WithApplier(stream.New(3, time.Millisecond)),
		WithTimings(0, 0),
		WithObserver(func(ev Event) {
			if ev.Kind == EventProgress && ev.Progress.Tick == 1 {
				o.Cancel()
			}
		}),
	)

	out, err := o.Run(context.Background(), Binding{Tree: ed, Highlight: ed}, Request{Instruction: "extend"})
	assert.ErrorIs(t, err, apperr.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, out.Status)

	// The first chunk stays; nothing is rolled back.
	assert.Equal(t, "Start an", ed.markdown())
	assert.Equal(t, State{Phase: PhaseIdle, HighlightedNodes: []doctree.NodeID{}}, o.State())
	last := ed.classes[len(ed.classes)-1]
	assert.Equal(t, "-ai-active:"+string(ed.doc.TextNodes()[0].ID), last)
	assert.False(t, o.Cancel())
}

func TestCancelDuringServiceCall(t *testing.T) {
	ed := newTreeEditor("text")
	o := New(collaborator.Func(func(ctx context.Context, _ collaborator.Request) (collaborator.Response, error) {
		<-ctx.Done()
		return collaborator.Response{}, ctx.Err()
	}), fast()...)

	ch, err := o.Start(context.Background(), Binding{Tree: ed}, Request{Instruction: "x"})
	require.NoError(t, err)
	require.Eventually(t, o.Cancel, time.Second, time.Millisecond)
	res := <-ch
	assert.ErrorIs(t, res.Err, apperr.ErrCancelled)
	assert.Equal(t, "text", ed.markdown())
}

func TestRunSkipsEditWhoseNodeVanished(t *testing.T) {
	ed := newTreeEditor("one\n\ntwo")
	nodes := ed.doc.TextNodes()
	o := New(collaborator.Func(func(context.Context, collaborator.Request) (collaborator.Response, error) {
		// The paragraph holding "two" is deleted while the service thinks.
		require.NoError(t, ed.doc.Remove(nodes[1].Parent))
		return collaborator.Response{Edits: []markdown.Edit{
			{StartOffset: 0, EndOffset: 3, NewContent: "ONE"},
			{StartOffset: 5, EndOffset: 8, NewContent: "TWO"},
		}}, nil
	}), fast()...)

	out, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "upper"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, "ONE", ed.markdown())
}

func TestRunPassesResolvedSelection(t *testing.T) {
	ed := newTreeEditor("Total: 5\n\nTotal: 10")
	var got *markdown.Selection
	o := New(collaborator.Func(func(_ context.Context, req collaborator.Request) (collaborator.Response, error) {
		got = req.Context.Selection
		return collaborator.Response{}, nil
	}), fast()...)

	sel := &markdown.Selection{Text: "Total", StartOffset: 9, EndOffset: 14}
	_, err := o.Run(context.Background(), Binding{Tree: ed}, Request{Instruction: "x", Selection: sel})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.StartOffset)
	assert.Equal(t, 15, got.EndOffset)
	assert.Equal(t, 9, sel.StartOffset)
}

func TestRequestCollaboratorOverride(t *testing.T) {
	ed := &flatEditor{md: "abc"}
	o := New(collaborator.Unavailable{}, fast()...)
	out, err := o.Run(context.Background(), Binding{Flat: ed}, Request{
		Instruction:  "apply",
		Collaborator: edits(markdown.Edit{StartOffset: 0, EndOffset: 1, NewContent: "A"}),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, out.Status)
	assert.Equal(t, "Abc", ed.md)
}
