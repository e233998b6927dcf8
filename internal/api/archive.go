package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const defaultArchiveLimit = 50

// ListArchive returns archived meetings, newest first. Filter with
// ?doc_id= and cap with ?limit=.
func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	artifacts, err := h.manager.ListArchive(r.Context(), r.URL.Query().Get("doc_id"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, artifacts)
}

// GetArchived returns one archived meeting.
func (h *Handler) GetArchived(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.manager.ArchivedMeeting(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	if artifact == nil {
		Error(w, http.StatusNotFound, "meeting not found")
		return
	}
	JSON(w, http.StatusOK, artifact)
}
