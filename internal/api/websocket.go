package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/identity"
	"github.com/quirelabs/quire/internal/meeting"
)

// eventEnvelope frames every event pushed to a client.
type eventEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsControl is the only message shape clients send on control sockets.
type wsControl struct {
	Type string `json:"type"`
}

// EventsHandler streams save, capture, transcript, summary, and notice
// events to editor clients over a websocket.
type EventsHandler struct {
	events         *bus.Events
	allowedOrigins []string
	isDev          bool
}

// NewEventsHandler creates the event stream handler.
func NewEventsHandler(events *bus.Events, allowedOrigins []string, isDev bool) *EventsHandler {
	return &EventsHandler{events: events, allowedOrigins: allowedOrigins, isDev: isDev}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	slog.Info("event stream connection", "client_id", clientID, "ip", identity.IPFromRequest(r))

	if !originAllowed(r, h.allowedOrigins, h.isDev) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	merged := make(chan eventEnvelope, 64)

	saves, cancelSaves := h.events.SaveStatus.Subscribe(16)
	defer cancelSaves()
	captures, cancelCaptures := h.events.Capture.Subscribe(16)
	defer cancelCaptures()
	partials, cancelPartials := h.events.Partial.Subscribe(64)
	defer cancelPartials()
	utterances, cancelUtterances := h.events.Utterance.Subscribe(64)
	defer cancelUtterances()
	summaries, cancelSummaries := h.events.Summary.Subscribe(16)
	defer cancelSummaries()
	notices, cancelNotices := h.events.Notice.Subscribe(16)
	defer cancelNotices()

	go forward(ctx, saves, "save_status", merged)
	go forward(ctx, captures, "capture_state", merged)
	go forward(ctx, partials, "partial_transcript", merged)
	go forward(ctx, utterances, "utterance", merged)
	go forward(ctx, summaries, "summary", merged)
	go forward(ctx, notices, "notice", merged)

	var wg sync.WaitGroup
	wg.Add(2)

	// Control loop: client -> engine. Only pings are expected.
	go func() {
		defer wg.Done()
		defer cancel()
		controlLoop(ctx, ws, clientID)
	}()

	// Event loop: engine -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		eventLoop(ctx, ws, merged, clientID)
	}()

	wg.Wait()
	slog.Info("event stream ended", "client_id", clientID)
}

// forward relays one bus subscription into the merged stream. A slow
// client backs pressure up into the bus buffers, which drop oldest.
func forward[T any](ctx context.Context, ch <-chan T, kind string, merged chan<- eventEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			select {
			case merged <- eventEnvelope{Type: kind, Data: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func controlLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "client_id", clientID)
			} else {
				slog.Debug("websocket read ended", "error", err, "client_id", clientID)
			}
			return
		}

		var msg wsControl
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("failed to send pong", "error", err, "client_id", clientID)
				return
			}
		}
	}
}

func eventLoop(ctx context.Context, ws *websocket.Conn, merged <-chan eventEnvelope, clientID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-merged:
			if err := writeJSON(ws, env); err != nil {
				slog.Debug("event write failed", "error", err, "client_id", clientID)
				return
			}
		}
	}
}

// AudioHandler ingests binary PCM frames for one meeting's capture
// session. The socket is one-way aside from ping control frames.
type AudioHandler struct {
	manager        *meeting.Manager
	allowedOrigins []string
	isDev          bool
}

// NewAudioHandler creates the audio ingest handler.
func NewAudioHandler(manager *meeting.Manager, allowedOrigins []string, isDev bool) *AudioHandler {
	return &AudioHandler{manager: manager, allowedOrigins: allowedOrigins, isDev: isDev}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meetingID")
	clientID := identity.ClientIDFromContext(r.Context())

	// Reject unknown meetings before upgrading.
	if _, err := h.manager.MeetingStatus(meetingID); err != nil {
		respondError(w, err)
		return
	}
	if !originAllowed(r, h.allowedOrigins, h.isDev) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "meeting_id", meetingID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "meeting_id", meetingID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Info("audio feed connected", "meeting_id", meetingID, "client_id", clientID)
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("audio feed closed by client", "meeting_id", meetingID)
			} else {
				slog.Debug("audio feed read ended", "error", err, "meeting_id", meetingID)
			}
			return
		}

		if typ == websocket.MessageText {
			var msg wsControl
			if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "ping" {
				if err := writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
					return
				}
			}
			continue
		}

		if err := h.manager.Feed(meetingID, data); err != nil {
			slog.Info("audio feed stopped, meeting ended", "meeting_id", meetingID)
			return
		}
	}
}

func originAllowed(r *http.Request, allowed []string, isDev bool) bool {
	if isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

func writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
