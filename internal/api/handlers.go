package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/docservice"
	"github.com/starford/inkwell/internal/doctree"
	"github.com/starford/inkwell/internal/markdown"
	"github.com/starford/inkwell/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// session resolves the {id} URL parameter, writing 404 when it is unknown.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*docservice.Session, bool) {
	s, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("session not found"))
		return nil, false
	}
	return s, true
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List vault documents
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []models.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs})
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	items := []SessionListItem{}
	for _, s := range h.svc.Sessions() {
		items = append(items, SessionListItem{ID: s.ID, Path: s.Path, Mode: s.Mode(), Streaming: s.IsStreaming()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

// OpenSession handles POST /api/sessions.
//
//	@Summary		Open a document in a new editor session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenSessionRequest	true	"Document to open"
//	@Success		201		{object}	SessionInfo
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.svc.Open(r.Context(), req.Path)
	if err != nil {
		writeError(w, "open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get a session with its markdown, nodes, edit state and history
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	SessionInfo
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// CloseSession handles DELETE /api/sessions/{id}.
//
//	@Summary		Close a session, cancelling any edit in flight
//	@Tags			sessions
//	@Param			id	path	string	true	"Session id"
//	@Success		204	"Session closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseSession(chi.URLParam(r, "id")); err != nil {
		writeError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMarkdown handles GET /api/sessions/{id}/markdown.
func (h *Handler) GetMarkdown(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, markdownResponse(s.Markdown()))
}

// PutMarkdown handles PUT /api/sessions/{id}/markdown.
//
//	@Summary		Replace the session body
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session id"
//	@Param			body	body		MarkdownRequest	true	"New body"
//	@Success		200		{object}	MarkdownResponse
//	@Failure		409		{object}	errResponse	"AI edit in progress"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/markdown [put]
func (h *Handler) PutMarkdown(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req MarkdownRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.SetMarkdown(req.Markdown); err != nil {
		writeError(w, "set markdown", err)
		return
	}
	writeJSON(w, http.StatusOK, markdownResponse(s.Markdown()))
}

// PutNodeText handles PUT /api/sessions/{id}/nodes/{nodeID}.
//
//	@Summary		Replace the text of one node
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session id"
//	@Param			nodeID	path		string			true	"Text node id"
//	@Param			body	body		NodeTextRequest	true	"New text"
//	@Success		200		{object}	MarkdownResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse	"AI edit in progress"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/nodes/{nodeID} [put]
func (h *Handler) PutNodeText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req NodeTextRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.SetNodeText(doctree.NodeID(chi.URLParam(r, "nodeID")), req.Text); err != nil {
		writeError(w, "set node text", err)
		return
	}
	writeJSON(w, http.StatusOK, markdownResponse(s.Markdown()))
}

// FindSelection handles POST /api/sessions/{id}/selection.
//
//	@Summary		Locate text in the current markdown
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session id"
//	@Param			body	body		SelectionRequest	true	"Text and optional offset hint"
//	@Success		200		{object}	SelectionResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/selection [post]
func (h *Handler) FindSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !decode(w, r, &req) {
		return
	}
	md := s.Markdown()
	rng, found := markdown.FindSelection(md, req.Text, req.Hint)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("selection not found"))
		return
	}
	writeJSON(w, http.StatusOK, SelectionResponse{
		Text:  markdown.Slice(md, rng.Start, rng.End),
		Start: rng.Start,
		End:   rng.End,
	})
}

// Save handles POST /api/sessions/{id}/save.
//
//	@Summary		Write the session back to the vault
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	models.DocumentInfo
//	@Failure		409	{object}	errResponse	"AI edit in progress"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	info, err := s.Save(r.Context())
	if err != nil {
		writeError(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Reload handles POST /api/sessions/{id}/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	changed, err := s.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "markdown": s.Markdown()})
}

// Revisions handles GET /api/sessions/{id}/revisions.
//
//	@Summary		List recorded revisions of the session's document
//	@Tags			sessions
//	@Produce		json
//	@Param			id		path		string	true	"Session id"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	RevisionListResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/revisions [get]
func (h *Handler) Revisions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	revs, err := h.svc.Revisions(r.Context(), s.Path, limit)
	if err != nil {
		writeError(w, "list revisions", err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionListResponse{Revisions: revs})
}

func markdownResponse(md string) MarkdownResponse {
	return MarkdownResponse{Markdown: md, Checksum: checksum.Sum([]byte(md))}
}
