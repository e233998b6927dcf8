package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/internal/identity"
)

type registerDocumentRequest struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Persist bool   `json:"persist"`
}

// RegisterDocument makes a document known to the engine. Registering an
// already known document returns its current state.
func (h *Handler) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	var req registerDocumentRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := h.manager.RegisterDocument(r.Context(), req.DocID, req.Title, req.Persist)
	if err != nil {
		respondError(w, err)
		return
	}

	slog.Info("document registered via api",
		"doc_id", status.DocID,
		"persist", status.Persist,
		"client_id", identity.ClientIDFromContext(r.Context()))
	JSON(w, http.StatusOK, status)
}

// GetDocument returns a document's binding and autosave state.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.DocumentStatus(chi.URLParam(r, "docID"))
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// CloseDocument flushes pending edits and forgets the document.
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := h.manager.CloseDocument(docID); err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type editFragmentRequest struct {
	Content    string `json:"content"`
	OrderIndex int    `json:"order_index"`
	Kind       string `json:"kind"`
	Depth      int    `json:"depth"`
}

// EditFragment records a content change; the autosave pipeline decides
// when it reaches the remote store.
func (h *Handler) EditFragment(w http.ResponseWriter, r *http.Request) {
	var req editFragmentRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos := domain.FragmentPosition{
		OrderIndex: req.OrderIndex,
		Kind:       req.Kind,
		Depth:      req.Depth,
	}
	if err := h.manager.EditFragment(chi.URLParam(r, "docID"), chi.URLParam(r, "fragKey"), pos, req.Content); err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// FlushDocument forces every pending edit of the document to save now.
func (h *Handler) FlushDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.FlushDocument(chi.URLParam(r, "docID")); err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
