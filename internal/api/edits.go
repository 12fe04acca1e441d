package api

import (
	"log/slog"
	"net/http"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/docservice"
)

// AIEdit handles POST /api/sessions/{id}/ai-edit.
//
// By default the edit runs in the background and the handler answers 202
// with the claimed state; progress arrives over /api/events. A request made
// while another edit streams is ignored and answered 200 with status
// "ignored". With wait=true the handler blocks until the edit ends, and a
// client disconnect cancels it.
//
//	@Summary		Ask the AI service to edit the document
//	@Tags			ai
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session id"
//	@Param			body	body		AIEditRequest	true	"Instruction and optional selection"
//	@Success		200		{object}	AIEditResponse
//	@Success		202		{object}	AIEditResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	AIEditResponse	"No edit could be mapped"
//	@Failure		502		{object}	AIEditResponse	"AI service failure"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/ai-edit [post]
func (h *Handler) AIEdit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AIEditRequest
	if !decode(w, r, &req) {
		return
	}
	ereq := aiedit.Request{Instruction: req.Instruction, Selection: req.Selection}

	if req.Wait {
		out, err := s.RunEdit(r.Context(), ereq)
		writeOutcome(w, s, out, err)
		return
	}

	ch, err := s.StartEdit(ereq)
	if err != nil {
		writeError(w, "ai edit", err)
		return
	}
	select {
	case res := <-ch:
		writeOutcome(w, s, res.Outcome, res.Err)
	default:
		writeJSON(w, http.StatusAccepted, AIEditResponse{State: s.State()})
	}
}

func writeOutcome(w http.ResponseWriter, s *docservice.Session, out aiedit.Outcome, err error) {
	resp := AIEditResponse{Outcome: &out, State: s.State()}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("ai edit failed", slog.String("session", s.ID), slog.String("error", err.Error()))
		resp.Error = "internal error"
	} else {
		resp.Error = err.Error()
	}
	if status == http.StatusBadRequest {
		writeJSON(w, status, errorBody(resp.Error))
		return
	}
	writeJSON(w, status, resp)
}

// Cancel handles POST /api/sessions/{id}/cancel.
//
//	@Summary		Cancel the AI edit in flight
//	@Tags			ai
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	map[string]bool
//	@Security		BearerAuth
//	@Router			/sessions/{id}/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.Cancel()})
}

// Undo handles POST /api/sessions/{id}/undo.
//
//	@Summary		Restore the previous history entry
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	HistoryResponse
//	@Failure		409	{object}	errResponse	"AI edit in progress"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*docservice.Session).Undo)
}

// Redo handles POST /api/sessions/{id}/redo.
//
//	@Summary		Re-apply the next history entry
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	HistoryResponse
//	@Failure		409	{object}	errResponse	"AI edit in progress"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/redo [post]
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*docservice.Session).Redo)
}

func (h *Handler) step(w http.ResponseWriter, r *http.Request, move func(*docservice.Session) (bool, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	changed, err := move(s)
	if err != nil {
		writeError(w, "history step", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Changed: changed, Markdown: s.Markdown(), History: s.History()})
}

// History handles GET /api/sessions/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.History())
}
