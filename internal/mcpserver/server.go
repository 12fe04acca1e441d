// Package mcpserver provides an MCP (Model Context Protocol) server
// that lets an external model edit Inkwell documents via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/docservice"
	"github.com/starford/inkwell/internal/markdown"
)

const contractURI = "inkwell://edit-contract"

// Server wraps the MCP server with Inkwell tools. Documents are addressed by
// vault path; each path gets one editing session, opened on first use.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service

	mu       sync.Mutex
	sessions map[string]string // path -> session id
}

// New creates a new MCP server with all Inkwell tools registered.
func New(svc *docservice.Service) *Server {
	s := &Server{svc: svc, sessions: make(map[string]string)}

	s.mcp = server.NewMCPServer(
		"Inkwell",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_edit_contract",
		mcp.WithDescription("Returns the Inkwell edit contract. "+
			"Call this before apply_edits to learn how offsets are counted."),
	), s.getEditContract)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the Markdown documents in the vault."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the editable Markdown body of a document. "+
			"Edit offsets refer to exactly this text."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. folder/doc.md)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("find_selection",
		mcp.WithDescription("Locate a passage in a document and return its rune offsets."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Passage to find")),
		mcp.WithString("hint", mcp.Description("Optional offset; the closest occurrence wins")),
	), s.findSelection)

	s.mcp.AddTool(mcp.NewTool("apply_edits",
		mcp.WithDescription("Apply a batch of offset edits to a document. "+
			"Edits MUST follow the contract from get_edit_contract or the "+
			contractURI+" resource. Changes are kept in the session until save_document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
		mcp.WithString("edits", mcp.Required(), mcp.Description(`JSON array of {"startOffset","endOffset","newContent"}`)),
		mcp.WithString("explanation", mcp.Description("Short summary of the change")),
		mcp.WithString("instruction", mcp.Description("The instruction the edits carry out")),
	), s.applyEdits)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last change to a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone change to a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
	), s.redo)

	s.mcp.AddTool(mcp.NewTool("history_info",
		mcp.WithDescription("Report the undo/redo depth of a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
	), s.historyInfo)

	s.mcp.AddTool(mcp.NewTool("save_document",
		mcp.WithDescription("Write the edited document back to the vault, keeping its frontmatter."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
	), s.saveDocument)

	// Resource: edit contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Edit Contract",
			mcp.WithResourceDescription("How edits proposed against an Inkwell document are expressed."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// session returns the open session for path, opening one if needed.
func (s *Server) session(ctx context.Context, path string) (*docservice.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sessions[path]; ok {
		if sess, err := s.svc.Get(id); err == nil {
			return sess, nil
		}
		delete(s.sessions, path)
	}
	sess, err := s.svc.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s.sessions[path] = sess.ID
	return sess, nil
}

func (s *Server) sessionFor(ctx context.Context, req mcp.CallToolRequest) (*docservice.Session, *mcp.CallToolResult) {
	path, err := req.RequireString("path")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	sess, err := s.session(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
		}
		return nil, mcp.NewToolResultError(err.Error())
	}
	return sess, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getEditContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EditContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     EditContract,
		},
	}, nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = strings.Trim(f, "/")
	}

	docs, err := s.svc.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var paths []string
	for _, d := range docs {
		if folder != "" && !strings.HasPrefix(d.Path, folder+"/") {
			continue
		}
		paths = append(paths, d.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	return mcp.NewToolResultText(sess.Markdown()), nil
}

func (s *Server) findSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var hint *int
	if h, err := req.RequireString("hint"); err == nil && h != "" {
		n, convErr := strconv.Atoi(h)
		if convErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid hint %q", h)), nil
		}
		hint = &n
	}

	r, ok := sess.FindSelection(text, hint)
	if !ok {
		return mcp.NewToolResultError("text not found in document"), nil
	}
	return jsonResult(map[string]int{"startOffset": r.Start, "endOffset": r.End}), nil
}

func (s *Server) applyEdits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	raw, err := req.RequireString("edits")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var edits []markdown.Edit
	if err := json.Unmarshal([]byte(raw), &edits); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("edits must be a JSON array: %v", err)), nil
	}
	explanation, _ := req.RequireString("explanation")
	instruction, _ := req.RequireString("instruction")
	if strings.TrimSpace(instruction) == "" {
		instruction = "apply edits"
	}

	out, err := sess.RunEdit(ctx, aiedit.Request{
		Instruction:  instruction,
		Collaborator: collaborator.Static{Edits: edits, Explanation: explanation},
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out), nil
}

func (s *Server) undo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, (*docservice.Session).Undo)
}

func (s *Server) redo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, (*docservice.Session).Redo)
}

func (s *Server) step(ctx context.Context, req mcp.CallToolRequest, move func(*docservice.Session) (bool, error)) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	ok, err := move(sess)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultText("nothing to do"), nil
	}
	return mcp.NewToolResultText(sess.Markdown()), nil
}

func (s *Server) historyInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(sess.History()), nil
}

func (s *Server) saveDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errRes := s.sessionFor(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	info, err := sess.Save(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (%s)", info.Path, info.Checksum)), nil
}
