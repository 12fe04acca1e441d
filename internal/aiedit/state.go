package aiedit

import (
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/planner"
	"github.com/starford/inkwell/internal/stream"
)

// Phase is the orchestrator's position in the edit pipeline. Validating the
// request happens in Validate before PhaseAwaitingService is entered.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingService  Phase = "awaiting_service"
	PhaseHighlightPending Phase = "highlight_pending"
	PhaseStreaming        Phase = "streaming"
)

// Highlight classes.
const (
	ClassPending = "ai-pending"
	ClassActive  = "ai-active"
)

// State is the observable edit state of one editor.
type State struct {
	IsStreaming      bool             `json:"isStreaming"`
	HighlightedNodes []doctree.NodeID `json:"highlightedNodes"`
	CurrentEditNode  doctree.NodeID   `json:"currentEditNode,omitempty"`
	StreamingText    string           `json:"streamingText"`

	Phase     Phase `json:"phase"`
	EditIndex int   `json:"editIndex"`
	EditCount int   `json:"editCount"`
	Progress  int   `json:"progress"`
}

// Status classifies how a run ended.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusNoChanges  Status = "no_changes"
	StatusIgnored    Status = "ignored"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusUnmappable Status = "unmappable"
)

// Outcome reports a finished run.
type Outcome struct {
	Status      Status            `json:"status"`
	Explanation string            `json:"explanation,omitempty"`
	Applied     int               `json:"applied"`
	Skipped     int               `json:"skipped"`
	Dropped     []planner.Dropped `json:"dropped,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
}

// Result pairs an outcome with its error for asynchronous runs.
type Result struct {
	Outcome Outcome
	Err     error
}

// Request is one instruction for the AI service.
type Request struct {
	Instruction string              `json:"instruction"`
	Selection   *markdown.Selection `json:"selection,omitempty"`
	// Collaborator overrides the orchestrator's service for this run.
	Collaborator collaborator.Collaborator `json:"-"`
}

// TreeHost is a structured editor: edits stream into its text nodes.
type TreeHost interface {
	stream.TreeHost
	Snapshot() *doctree.Document
}

// Highlighter marks nodes with presentation classes.
type Highlighter interface {
	AddClass(id doctree.NodeID, class string)
	RemoveClass(id doctree.NodeID, class string)
}

// Binding is the editor an edit runs against. Exactly one of Flat and Tree
// is normally set; Tree wins when both are. Highlight is optional.
type Binding struct {
	Flat      stream.FlatHost
	Tree      TreeHost
	Highlight Highlighter
}

func (b Binding) active() bool { return b.Flat != nil || b.Tree != nil }

func (b Binding) currentMarkdown() string {
	if b.Tree != nil {
		return markdown.String(b.Tree.Snapshot())
	}
	return b.Flat.Markdown()
}

// EventKind distinguishes observer notifications.
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
)

// Event is delivered to observers on every state change and stream tick.
type Event struct {
	Kind     EventKind        `json:"kind"`
	State    State            `json:"state"`
	Progress *stream.Progress `json:"progress,omitempty"`
}

// Final reports whether the event ends a stream: every state change, and the
// last tick of each edit.
func (e Event) Final() bool {
	return e.Progress == nil || e.Progress.Percent >= 100
}
