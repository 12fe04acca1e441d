package collaborator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt states the answer format every provider must follow.
const SystemPrompt = `You edit Markdown documents. You receive an instruction and the full
document. Answer with JSON only, no prose, in the form
{"edits":[{"startOffset":0,"endOffset":0,"newContent":""}],"explanation":""}.

Rules:
- Offsets are Unicode code point indexes into the document exactly as given.
- endOffset is exclusive. startOffset == endOffset inserts newContent.
- An empty newContent deletes the range.
- Edits must not overlap. Keep each edit inside one paragraph, heading or list item.
- Prefer small edits that touch only the words that change.
- Return an empty edits array when nothing should change, and say why in explanation.`

func buildPrompt(req Request) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Instruction:\n%s\n\n", req.Instruction)
	if req.Context.Selection != nil {
		sel, err := json.Marshal(req.Context.Selection)
		if err != nil {
			return "", fmt.Errorf("marshal selection: %w", err)
		}
		fmt.Fprintf(&sb, "The user selected (offsets refer to the document below):\n%s\n\n", sel)
	}
	fmt.Fprintf(&sb, "Document:\n<document>\n%s\n</document>\n", req.Context.FullMarkdown)
	return sb.String(), nil
}
