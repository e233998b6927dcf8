package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quirelabs/quire/internal/identity"
)

// StartMeeting begins live capture against a document.
func (h *Handler) StartMeeting(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	status, err := h.manager.StartMeeting(r.Context(), docID)
	if err != nil {
		slog.Warn("meeting start rejected", "doc_id", docID, "error", err)
		respondError(w, err)
		return
	}

	slog.Info("meeting started via api",
		"meeting_id", status.MeetingID,
		"doc_id", docID,
		"client_id", identity.ClientIDFromContext(r.Context()))
	JSON(w, http.StatusOK, status)
}

// ListMeetings returns every running meeting.
func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.manager.ActiveMeetings())
}

// GetMeeting returns the live view of one meeting.
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.MeetingStatus(chi.URLParam(r, "meetingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// PauseMeeting suspends capture; elapsed time freezes until resume.
func (h *Handler) PauseMeeting(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meetingID")
	if err := h.manager.PauseMeeting(meetingID); err != nil {
		respondError(w, err)
		return
	}
	status, err := h.manager.MeetingStatus(meetingID)
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// ResumeMeeting restarts capture after a pause.
func (h *Handler) ResumeMeeting(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meetingID")
	if err := h.manager.ResumeMeeting(meetingID); err != nil {
		respondError(w, err)
		return
	}
	status, err := h.manager.MeetingStatus(meetingID)
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes replaces the meeting's side-panel notes.
func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req updateNotesRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.manager.UpdateNotes(chi.URLParam(r, "meetingID"), req.Notes); err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSummaries returns the meeting's live summary history, oldest first.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.manager.Summaries(chi.URLParam(r, "meetingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, snaps)
}

// ListSegments returns the meeting's finalized utterances so far.
func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := h.manager.Segments(chi.URLParam(r, "meetingID"))
	if err != nil {
		respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, segs)
}

// FinalizeMeeting ends the meeting and returns the archived artifact.
// Finalizing an already archived meeting returns the stored artifact.
func (h *Handler) FinalizeMeeting(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meetingID")

	artifact, err := h.manager.FinalizeMeeting(r.Context(), meetingID)
	if err != nil {
		slog.Warn("meeting finalize failed", "meeting_id", meetingID, "error", err)
		respondError(w, err)
		return
	}

	slog.Info("meeting finalized via api",
		"meeting_id", meetingID,
		"client_id", identity.ClientIDFromContext(r.Context()))
	JSON(w, http.StatusOK, artifact)
}
