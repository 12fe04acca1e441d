// Package aiedit drives one AI edit from instruction to applied change:
// ask the service, plan the edits, then stream them into the editor with
// highlight feedback.
package aiedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/planner"
	"github.com/starford/inkwell/internal/stream"
)

const (
	DefaultPendingDwell = 500 * time.Millisecond
	DefaultEditPause    = 200 * time.Millisecond
)

// Orchestrator runs at most one edit at a time for one editor.
type Orchestrator struct {
	collab   collaborator.Collaborator
	applier  *stream.Applier
	dwell    time.Duration
	pause    time.Duration
	log      *slog.Logger
	observer func(Event)

	streaming atomic.Bool

	mu          sync.Mutex
	state       State
	highlighted map[doctree.NodeID]string
	cancel      context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithApplier sets the stream applier.
func WithApplier(a *stream.Applier) Option {
	return func(o *Orchestrator) { o.applier = a }
}

// WithTimings sets the pending-highlight dwell and the pause between edits.
func WithTimings(dwell, pause time.Duration) Option {
	return func(o *Orchestrator) {
		o.dwell = dwell
		o.pause = pause
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithObserver registers fn for state changes and stream progress. fn runs on
// the orchestrating goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(collab collaborator.Collaborator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collab:      collab,
		applier:     stream.New(stream.DefaultChunkSize, stream.DefaultInterval),
		dwell:       DefaultPendingDwell,
		pause:       DefaultEditPause,
		log:         slog.Default(),
		highlighted: make(map[doctree.NodeID]string),
		state:       State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate is the validating step of an edit. It checks a request before
// anything is touched and has no Phase of its own: a rejected request never
// leaves PhaseIdle.
func Validate(b Binding, req Request) error {
	if strings.TrimSpace(req.Instruction) == "" {
		return apperr.ErrEmptyInstruction
	}
	if !b.active() {
		return apperr.ErrNoActiveEditor
	}
	return nil
}

// Run executes one edit synchronously. A call made while another edit is in
// flight returns StatusIgnored and a nil error without side effects.
func (o *Orchestrator) Run(ctx context.Context, b Binding, req Request) (Outcome, error) {
	if err := Validate(b, req); err != nil {
		return Outcome{}, err
	}
	ctx, ok := o.claim(ctx)
	if !ok {
		o.log.Debug("ai edit ignored: already streaming")
		return Outcome{Status: StatusIgnored}, nil
	}
	return o.execute(ctx, b, req)
}

// Start validates synchronously and runs the edit in a goroutine. The
// returned channel yields exactly one result.
func (o *Orchestrator) Start(ctx context.Context, b Binding, req Request) (<-chan Result, error) {
	if err := Validate(b, req); err != nil {
		return nil, err
	}
	ch := make(chan Result, 1)
	runCtx, ok := o.claim(ctx)
	if !ok {
		ch <- Result{Outcome: Outcome{Status: StatusIgnored}}
		close(ch)
		return ch, nil
	}
	go func() {
		defer close(ch)
		out, err := o.execute(runCtx, b, req)
		ch <- Result{Outcome: out, Err: err}
	}()
	return ch, nil
}

// Cancel stops the edit in flight at its next suspension point. Text already
// streamed stays in place. It reports whether an edit was running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// IsStreaming reports whether an edit is in flight.
func (o *Orchestrator) IsStreaming() bool { return o.streaming.Load() }

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state
	s.HighlightedNodes = make([]doctree.NodeID, 0, len(o.highlighted))
	for id := range o.highlighted {
		s.HighlightedNodes = append(s.HighlightedNodes, id)
	}
	slices.Sort(s.HighlightedNodes)
	return s
}

func (o *Orchestrator) claim(ctx context.Context) (context.Context, bool) {
	if !o.streaming.CompareAndSwap(false, true) {
		return nil, false
	}
	ctx, cancel := context.WithCancel(ctx)
	o.update(func(s *State) {
		o.cancel = cancel
		*s = State{IsStreaming: true, Phase: PhaseAwaitingService}
	})
	return ctx, true
}

// update mutates state under the lock and notifies the observer.
func (o *Orchestrator) update(fn func(*State)) {
	o.mu.Lock()
	fn(&o.state)
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(Event{Kind: EventState, State: snap})
}

func (o *Orchestrator) notify(ev Event) {
	if o.observer != nil {
		o.observer(ev)
	}
}

func (o *Orchestrator) execute(ctx context.Context, b Binding, req Request) (out Outcome, err error) {
	defer o.finish(b)
	defer func() {
		if err != nil {
			o.log.Warn("ai edit failed", slog.String("status", string(out.Status)), slog.String("error", err.Error()))
		}
	}()

	md := b.currentMarkdown()
	sel := req.Selection
	if sel != nil {
		if r, ok := markdown.ResolveSelection(md, *sel); ok {
			fixed := *sel
			fixed.StartOffset, fixed.EndOffset = r.Start, r.End
			sel = &fixed
		}
	}

	collab := o.collab
	if req.Collaborator != nil {
		collab = req.Collaborator
	}
	if collab == nil {
		return Outcome{Status: StatusFailed}, fmt.Errorf("%w: no collaborator", apperr.ErrServiceFailure)
	}

	resp, err := collab.ProposeEdits(ctx, collaborator.Request{
		Instruction: req.Instruction,
		Context:     collaborator.Context{FullMarkdown: md, Selection: sel},
	})
	if ctx.Err() != nil {
		return cancelled(ctx, 0)
	}
	if err != nil {
		return Outcome{Status: StatusFailed}, fmt.Errorf("%w: %w", apperr.ErrServiceFailure, err)
	}
	if err := resp.Validate(); err != nil {
		return Outcome{Status: StatusFailed}, fmt.Errorf("%w: malformed response: %w", apperr.ErrServiceFailure, err)
	}
	if len(resp.Edits) == 0 {
		o.log.Info("ai edit proposed no changes", slog.String("explanation", resp.Explanation))
		return Outcome{Status: StatusNoChanges, Explanation: resp.Explanation}, nil
	}

	if b.Tree == nil {
		result, rep := stream.Commit(b.Flat, md, resp.Edits)
		if rep.Applied == 0 {
			return Outcome{Status: StatusUnmappable, Dropped: rep.Dropped}, apperr.ErrUnmappableEdit
		}
		return Outcome{
			Status:      StatusApplied,
			Explanation: resp.Explanation,
			Applied:     rep.Applied,
			Dropped:     rep.Dropped,
			Markdown:    result,
		}, nil
	}

	edits, rep, err := planner.PlanTree(md, b.Tree.Snapshot(), resp.Edits)
	if err != nil {
		return Outcome{Status: StatusUnmappable, Dropped: rep.Dropped}, err
	}
	applied, skipped, err := o.streamAll(ctx, b, edits)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx, applied)
		}
		return Outcome{Status: StatusFailed, Applied: applied}, err
	}
	if applied == 0 {
		return Outcome{Status: StatusUnmappable, Skipped: skipped, Dropped: rep.Dropped}, apperr.ErrUnmappableEdit
	}
	return Outcome{
		Status:      StatusApplied,
		Explanation: resp.Explanation,
		Applied:     applied,
		Skipped:     skipped,
		Dropped:     rep.Dropped,
		Markdown:    markdown.String(b.Tree.Snapshot()),
	}, nil
}

func cancelled(ctx context.Context, applied int) (Outcome, error) {
	return Outcome{Status: StatusCancelled, Applied: applied}, fmt.Errorf("%w: %w", apperr.ErrCancelled, ctx.Err())
}

func (o *Orchestrator) streamAll(ctx context.Context, b Binding, edits []planner.AIEdit) (applied, skipped int, err error) {
	for _, e := range edits {
		o.mark(b, e.TargetNodeID, ClassPending)
	}
	o.update(func(s *State) {
		s.Phase = PhaseHighlightPending
		s.EditCount = len(edits)
	})
	if err := sleep(ctx, o.dwell); err != nil {
		return 0, 0, err
	}

	for i, e := range edits {
		if err := ctx.Err(); err != nil {
			return applied, skipped, err
		}
		o.mark(b, e.TargetNodeID, ClassActive)
		o.update(func(s *State) {
			s.Phase = PhaseStreaming
			s.CurrentEditNode = e.TargetNodeID
			s.EditIndex = i
			s.StreamingText = ""
			s.Progress = 0
		})

		err := o.applier.Stream(ctx, b.Tree, e, func(p stream.Progress) {
			o.mu.Lock()
			o.state.StreamingText = p.Revealed
			o.state.Progress = p.Percent
			snap := o.snapshotLocked()
			o.mu.Unlock()
			o.notify(Event{Kind: EventProgress, State: snap, Progress: &p})
		})
		o.unmark(b, e.TargetNodeID)
		o.update(func(s *State) { s.CurrentEditNode = "" })

		switch {
		case err == nil:
			applied++
		case errors.Is(err, stream.ErrStaleEdit), errors.Is(err, stream.ErrNodeGone):
			skipped++
			o.log.Warn("ai edit skipped", slog.String("node", string(e.TargetNodeID)), slog.String("error", err.Error()))
		default:
			return applied, skipped, err
		}

		if i < len(edits)-1 {
			if err := sleep(ctx, o.pause); err != nil {
				return applied, skipped, err
			}
		}
	}
	return applied, skipped, nil
}

// mark sets the node's single highlight class, replacing any previous one.
func (o *Orchestrator) mark(b Binding, id doctree.NodeID, class string) {
	o.mu.Lock()
	prev, had := o.highlighted[id]
	o.highlighted[id] = class
	o.mu.Unlock()
	if b.Highlight == nil {
		return
	}
	if had && prev != class {
		b.Highlight.RemoveClass(id, prev)
	}
	if !had || prev != class {
		b.Highlight.AddClass(id, class)
	}
}

func (o *Orchestrator) unmark(b Binding, id doctree.NodeID) {
	o.mu.Lock()
	class, had := o.highlighted[id]
	delete(o.highlighted, id)
	o.mu.Unlock()
	if had && b.Highlight != nil {
		b.Highlight.RemoveClass(id, class)
	}
}

// finish clears every highlight and returns to idle.
func (o *Orchestrator) finish(b Binding) {
	o.mu.Lock()
	left := o.highlighted
	o.highlighted = make(map[doctree.NodeID]string)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = State{Phase: PhaseIdle}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if b.Highlight != nil {
		for id, class := range left {
			b.Highlight.RemoveClass(id, class)
		}
	}
	o.streaming.Store(false)
	o.notify(Event{Kind: EventState, State: snap})
}

func sleep(ctx context.Context, d time.Duration) error {
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
