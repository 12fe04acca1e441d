package api

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/docservice"
	"github.com/starford/inkwell/internal/history"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
)

// OpenSessionRequest is the request body for opening a document.
type OpenSessionRequest struct {
	Path string `json:"path" example:"plans/q4.md" validate:"required"`
}

func (r OpenSessionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

// MarkdownRequest replaces a session's body.
type MarkdownRequest struct {
	Markdown string `json:"markdown" example:"# Plan\n\nShip it."`
}

// NodeTextRequest replaces the text of one node.
type NodeTextRequest struct {
	Text string `json:"text" example:"Ship it today."`
}

// SelectionRequest searches the current markdown.
type SelectionRequest struct {
	Text string `json:"text" example:"Total: 10" validate:"required"`
	Hint *int   `json:"hint,omitempty" example:"9"`
}

func (r SelectionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
	)
}

// AIEditRequest asks the AI service to edit a session.
type AIEditRequest struct {
	Instruction string              `json:"instruction" example:"make it shorter" validate:"required"`
	Selection   *markdown.Selection `json:"selection,omitempty"`
	// Wait runs the edit within the request instead of in the background.
	Wait bool `json:"wait,omitempty"`
}

func (r AIEditRequest) Validate() error {
	if r.Selection == nil {
		return nil
	}
	sel := r.Selection
	if err := validation.ValidateStruct(sel,
		validation.Field(&sel.StartOffset, validation.Min(0)),
		validation.Field(&sel.EndOffset, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	if sel.EndOffset < sel.StartOffset {
		return fmt.Errorf("selection: endOffset is before startOffset")
	}
	return nil
}

// SessionInfo is the full session view (aliased from the domain layer).
type SessionInfo = docservice.Info

// SessionListItem is a lightweight item in the session list.
type SessionListItem struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Mode      string `json:"mode"`
	Streaming bool   `json:"streaming"`
}

// DocumentListResponse wraps the vault listing.
type DocumentListResponse struct {
	Documents []models.DocumentInfo `json:"documents" validate:"required"`
}

// MarkdownResponse carries a session body.
type MarkdownResponse struct {
	Markdown string `json:"markdown"`
	Checksum string `json:"checksum"`
}

// SelectionResponse is a located selection.
type SelectionResponse struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// AIEditResponse reports an edit. Outcome is set once the edit has finished;
// a background edit still in flight returns only its state.
type AIEditResponse struct {
	Outcome *aiedit.Outcome `json:"outcome,omitempty"`
	State   aiedit.State    `json:"state"`
	Error   string          `json:"error,omitempty"`
}

// HistoryResponse follows undo and redo.
type HistoryResponse struct {
	Changed  bool         `json:"changed"`
	Markdown string       `json:"markdown"`
	History  history.Info `json:"history"`
}

// RevisionListResponse wraps revision log entries.
type RevisionListResponse struct {
	Revisions []models.Revision `json:"revisions"`
}
