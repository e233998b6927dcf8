// Package api provides the HTTP and WebSocket surface of the quire engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quirelabs/quire/internal/capture"
	"github.com/quirelabs/quire/internal/meeting"
)

// Handler provides the REST endpoints backed by the meeting manager.
type Handler struct {
	manager *meeting.Manager
}

// NewHandler creates a new Handler.
func NewHandler(manager *meeting.Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes registers the REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", h.RegisterDocument)
		r.Get("/documents/{docID}", h.GetDocument)
		r.Delete("/documents/{docID}", h.CloseDocument)
		r.Put("/documents/{docID}/fragments/{fragKey}", h.EditFragment)
		r.Post("/documents/{docID}/flush", h.FlushDocument)
		r.Post("/documents/{docID}/meetings", h.StartMeeting)

		r.Get("/meetings", h.ListMeetings)
		r.Get("/meetings/{meetingID}", h.GetMeeting)
		r.Post("/meetings/{meetingID}/pause", h.PauseMeeting)
		r.Post("/meetings/{meetingID}/resume", h.ResumeMeeting)
		r.Put("/meetings/{meetingID}/notes", h.UpdateNotes)
		r.Get("/meetings/{meetingID}/summaries", h.ListSummaries)
		r.Get("/meetings/{meetingID}/segments", h.ListSegments)
		r.Post("/meetings/{meetingID}/finalize", h.FinalizeMeeting)

		r.Get("/archive", h.ListArchive)
		r.Get("/archive/{meetingID}", h.GetArchived)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// respondError maps engine errors to HTTP status codes.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, meeting.ErrUnknownDocument),
		errors.Is(err, meeting.ErrUnknownMeeting):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, meeting.ErrMeetingActive):
		Error(w, http.StatusConflict, "meeting_in_progress")
	case errors.Is(err, meeting.ErrFinalizeInProgress):
		Error(w, http.StatusConflict, "finalize_in_progress")
	case errors.Is(err, capture.ErrAlreadyStarted),
		errors.Is(err, capture.ErrNotCapturing),
		errors.Is(err, capture.ErrNotPaused):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, meeting.ErrShuttingDown):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
