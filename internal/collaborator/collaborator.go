// Package collaborator defines the contract with the AI service that proposes
// edits, plus adapters implementing it.
package collaborator

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/markdown"
)

// Collaborator proposes edits for an instruction.
type Collaborator interface {
	ProposeEdits(ctx context.Context, req Request) (Response, error)
}

// Request is what the service is asked.
type Request struct {
	Instruction string  `json:"instruction"`
	Context     Context `json:"context"`
}

// Context is the document state the edits must be expressed against.
type Context struct {
	FullMarkdown string              `json:"fullMarkdown"`
	Selection    *markdown.Selection `json:"selection,omitempty"`
}

// Response is the service's answer. Offsets refer to Context.FullMarkdown.
type Response struct {
	Edits       []markdown.Edit `json:"edits"`
	Explanation string          `json:"explanation,omitempty"`
}

// Validate checks that every edit has a well-formed range. The orchestrator
// runs it on every reply before planning; validation has no phase of its own
// and a rejected reply returns the orchestrator straight to idle.
func (r Response) Validate() error {
	for i := range r.Edits {
		e := &r.Edits[i]
		err := validation.ValidateStruct(e,
			validation.Field(&e.StartOffset, validation.Min(0)),
			validation.Field(&e.EndOffset, validation.Min(0)),
		)
		if err != nil {
			return fmt.Errorf("edit %d: %w", i, err)
		}
		// Min treats zero as empty, so the ordering check is explicit.
		if e.EndOffset < e.StartOffset {
			return fmt.Errorf("edit %d: endOffset %d is before startOffset %d", i, e.EndOffset, e.StartOffset)
		}
	}
	return nil
}

// Func adapts a function to a Collaborator.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) ProposeEdits(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Static always proposes the same response.
type Static Response

func (s Static) ProposeEdits(ctx context.Context, _ Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	out := Response{Explanation: s.Explanation}
	out.Edits = append(out.Edits, s.Edits...)
	return out, nil
}

// Unavailable fails every request. It stands in when no provider is configured.
type Unavailable struct{}

func (Unavailable) ProposeEdits(context.Context, Request) (Response, error) {
	return Response{}, fmt.Errorf("no ai provider configured")
}
