package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/capture"
	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/internal/identity"
	"github.com/quirelabs/quire/internal/meeting"
	"github.com/quirelabs/quire/internal/store"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

type stubStream struct {
	mu      sync.Mutex
	results chan capture.Result
	closed  bool
	frames  [][]byte
}

func newStubStream() *stubStream {
	return &stubStream{results: make(chan capture.Result, 16)}
}

func (s *stubStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *stubStream) Results() <-chan capture.Result { return s.results }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

func (s *stubStream) emit(res capture.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.results <- res
	}
}

func (s *stubStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type stubRecognizer struct {
	mu      sync.Mutex
	streams []*stubStream
}

func (r *stubRecognizer) Stream(ctx context.Context, locale string) (capture.RecognizerStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := newStubStream()
	r.streams = append(r.streams, st)
	return st, nil
}

func (r *stubRecognizer) latest() *stubStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type apiRig struct {
	t       *testing.T
	srv     *httptest.Server
	manager *meeting.Manager
	events  *bus.Events
	rec     *stubRecognizer
}

// newAPIRig builds the full HTTP surface against a local-only manager: a
// real SQLite archive, a stub recognizer, and no remote store.
func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "quire.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	events := bus.NewEvents()
	t.Cleanup(events.Close)

	rec := &stubRecognizer{}
	manager := meeting.NewManager(meeting.ManagerConfig{
		Store:           repo,
		Recognizer:      rec,
		Events:          events,
		DebounceWait:    time.Hour,
		SummaryInterval: time.Hour,
		RestartDelay:    5 * time.Millisecond,
		IdleTTL:         time.Hour,
	})
	t.Cleanup(func() { manager.Close(context.Background()) })

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(repo).RegisterHealth(r)
	NewHandler(manager).RegisterRoutes(r)
	r.Get("/ws/events", NewEventsHandler(events, nil, true).ServeHTTP)
	r.Get("/ws/meetings/{meetingID}/audio", NewAudioHandler(manager, nil, true).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiRig{t: t, srv: srv, manager: manager, events: events, rec: rec}
}

func (rg *apiRig) do(method, path string, body interface{}) *http.Response {
	rg.t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		buf, merr := json.Marshal(body)
		if merr != nil {
			rg.t.Fatalf("marshal request: %v", merr)
		}
		req, err = http.NewRequest(method, rg.srv.URL+path, bytes.NewReader(buf))
	} else {
		req, err = http.NewRequest(method, rg.srv.URL+path, nil)
	}
	if err != nil {
		rg.t.Fatalf("new request: %v", err)
	}
	resp, err := rg.srv.Client().Do(req)
	if err != nil {
		rg.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// decode consumes and closes the response body.
func (rg *apiRig) decode(resp *http.Response, v interface{}) {
	rg.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		rg.t.Fatalf("decode response: %v", err)
	}
}

func (rg *apiRig) register(docID string) {
	rg.t.Helper()
	resp := rg.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"doc_id": docID, "title": "Notes", "persist": false,
	})
	if resp.StatusCode != http.StatusOK {
		rg.t.Fatalf("register document: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func (rg *apiRig) startMeeting(docID string) string {
	rg.t.Helper()
	resp := rg.do(http.MethodPost, "/api/documents/"+docID+"/meetings", nil)
	if resp.StatusCode != http.StatusOK {
		rg.t.Fatalf("start meeting: status %d", resp.StatusCode)
	}
	var st meeting.MeetingStatus
	rg.decode(resp, &st)
	return st.MeetingID
}

func (rg *apiRig) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(rg.srv.URL, "http") + path
}

func TestRegisterAndFetchDocument(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(http.MethodPost, "/api/documents", map[string]interface{}{
		"doc_id": "doc-1", "title": "Road map", "persist": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status = %d, want 200", resp.StatusCode)
	}
	var st meeting.DocumentStatus
	rig.decode(resp, &st)
	if st.DocID != "doc-1" {
		t.Fatalf("DocID = %q, want doc-1", st.DocID)
	}
	if st.Bound {
		t.Fatal("local document must not report a container binding")
	}

	resp = rig.do(http.MethodGet, "/api/documents/doc-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &st)
	if st.Title != "Road map" {
		t.Fatalf("Title = %q, want Road map", st.Title)
	}

	resp = rig.do(http.MethodGet, "/api/documents/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown doc: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterDocumentRejectsBadBody(t *testing.T) {
	rig := newAPIRig(t)

	resp, err := rig.srv.Client().Post(rig.srv.URL+"/api/documents", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	rig.decode(resp, &body)
	if body["error"] != "invalid request body" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestFragmentEditAndFlush(t *testing.T) {
	rig := newAPIRig(t)
	rig.register("doc-frag")

	resp := rig.do(http.MethodPut, "/api/documents/doc-frag/fragments/blk-1", map[string]interface{}{
		"content": "hello", "order_index": 0, "kind": "text",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	rig.decode(resp, &body)
	if body["status"] != "queued" {
		t.Fatalf("status = %q, want queued", body["status"])
	}

	resp = rig.do(http.MethodPost, "/api/documents/doc-frag/flush", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flush: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &body)
	if body["status"] != "flushed" {
		t.Fatalf("status = %q, want flushed", body["status"])
	}

	resp = rig.do(http.MethodPut, "/api/documents/ghost/fragments/blk-1", map[string]interface{}{"content": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown doc edit: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCloseDocument(t *testing.T) {
	rig := newAPIRig(t)
	rig.register("doc-close")

	resp := rig.do(http.MethodDelete, "/api/documents/doc-close", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close: status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	rig.decode(resp, &body)
	if body["status"] != "closed" {
		t.Fatalf("status = %q, want closed", body["status"])
	}

	resp = rig.do(http.MethodDelete, "/api/documents/doc-close", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second close: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeetingLifecycleOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	rig.register("doc-live")

	// Start.
	resp := rig.do(http.MethodPost, "/api/documents/doc-live/meetings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", resp.StatusCode)
	}
	var st meeting.MeetingStatus
	rig.decode(resp, &st)
	if st.State != domain.StateCapturing {
		t.Fatalf("state = %q, want capturing", st.State)
	}
	mid := st.MeetingID

	// A second meeting on the same document conflicts.
	resp = rig.do(http.MethodPost, "/api/documents/doc-live/meetings", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start: status = %d, want 409", resp.StatusCode)
	}
	var errBody map[string]string
	rig.decode(resp, &errBody)
	if errBody["error"] != "meeting_in_progress" {
		t.Fatalf("error = %q, want meeting_in_progress", errBody["error"])
	}

	resp = rig.do(http.MethodGet, "/api/meetings", nil)
	var active []meeting.MeetingStatus
	rig.decode(resp, &active)
	if len(active) != 1 || active[0].MeetingID != mid {
		t.Fatalf("active meetings = %+v, want just %s", active, mid)
	}

	// Pause and resume.
	resp = rig.do(http.MethodPost, "/api/meetings/"+mid+"/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &st)
	if st.State != domain.StatePaused {
		t.Fatalf("state after pause = %q, want paused", st.State)
	}

	resp = rig.do(http.MethodPost, "/api/meetings/"+mid+"/resume", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &st)
	if st.State != domain.StateCapturing {
		t.Fatalf("state after resume = %q, want capturing", st.State)
	}

	resp = rig.do(http.MethodPost, "/api/meetings/"+mid+"/resume", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double resume: status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// Notes and transcript.
	resp = rig.do(http.MethodPut, "/api/meetings/"+mid+"/notes", map[string]string{"notes": "ship it"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notes: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	rig.rec.latest().emit(capture.Result{Text: "hello world", Final: true})
	waitFor(t, func() bool {
		resp := rig.do(http.MethodGet, "/api/meetings/"+mid+"/segments", nil)
		defer resp.Body.Close()
		var segs []domain.UtteranceSegment
		if err := json.NewDecoder(resp.Body).Decode(&segs); err != nil {
			return false
		}
		return len(segs) == 1 && segs[0].Text == "hello world"
	}, "segment never appeared over the api")

	// Finalize.
	resp = rig.do(http.MethodPost, "/api/meetings/"+mid+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status = %d, want 200", resp.StatusCode)
	}
	var artifact domain.FinalArtifact
	rig.decode(resp, &artifact)
	if artifact.Transcript != "hello world" {
		t.Fatalf("Transcript = %q, want hello world", artifact.Transcript)
	}
	if artifact.Notes != "ship it" {
		t.Fatalf("Notes = %q, want ship it", artifact.Notes)
	}

	resp = rig.do(http.MethodGet, "/api/meetings", nil)
	rig.decode(resp, &active)
	if len(active) != 0 {
		t.Fatalf("active meetings after finalize = %+v, want none", active)
	}

	// Finalizing again replays the archived artifact.
	resp = rig.do(http.MethodPost, "/api/meetings/"+mid+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize replay: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &artifact)
	if artifact.MeetingID != mid {
		t.Fatalf("replayed MeetingID = %q, want %s", artifact.MeetingID, mid)
	}

	// Archive.
	resp = rig.do(http.MethodGet, "/api/archive", nil)
	var archived []domain.FinalArtifact
	rig.decode(resp, &archived)
	if len(archived) != 1 || archived[0].MeetingID != mid {
		t.Fatalf("archive = %+v, want just %s", archived, mid)
	}

	resp = rig.do(http.MethodGet, "/api/archive/"+mid, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archived get: status = %d, want 200", resp.StatusCode)
	}
	rig.decode(resp, &artifact)
	if artifact.Transcript != "hello world" {
		t.Fatalf("archived Transcript = %q", artifact.Transcript)
	}
}

func TestSummariesEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	rig.register("doc-sum")
	mid := rig.startMeeting("doc-sum")

	var snaps []domain.SummarySnapshot
	waitFor(t, func() bool {
		resp := rig.do(http.MethodGet, "/api/meetings/"+mid+"/summaries", nil)
		defer resp.Body.Close()
		snaps = nil
		if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
			return false
		}
		return len(snaps) >= 1
	}, "first summary snapshot never appeared")

	if !snaps[0].Local {
		t.Fatal("local-only meeting must produce local snapshots")
	}
	if snaps[0].Text == "" {
		t.Fatal("snapshot text is empty")
	}
}

func TestUnknownMeetingRoutes(t *testing.T) {
	rig := newAPIRig(t)

	routes := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/api/meetings/ghost", nil},
		{http.MethodPost, "/api/meetings/ghost/pause", nil},
		{http.MethodPost, "/api/meetings/ghost/resume", nil},
		{http.MethodPut, "/api/meetings/ghost/notes", map[string]string{"notes": "x"}},
		{http.MethodGet, "/api/meetings/ghost/summaries", nil},
		{http.MethodGet, "/api/meetings/ghost/segments", nil},
		{http.MethodPost, "/api/meetings/ghost/finalize", nil},
	}
	for _, rt := range routes {
		resp := rig.do(rt.method, rt.path, rt.body)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d, want 404", rt.method, rt.path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestArchiveValidation(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(http.MethodGet, "/api/archive?limit=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = rig.do(http.MethodGet, "/api/archive/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown archived meeting: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = rig.do(http.MethodGet, "/api/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty archive: status = %d, want 200", resp.StatusCode)
	}
	var archived []domain.FinalArtifact
	rig.decode(resp, &archived)
	if len(archived) != 0 {
		t.Fatalf("archive = %+v, want empty", archived)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	rig.decode(resp, &body)
	if body.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", body.Status)
	}
	if body.Checks["database"] != "ok" {
		t.Fatalf("database check = %q, want ok", body.Checks["database"])
	}
}

func TestClientCookieIssued(t *testing.T) {
	rig := newAPIRig(t)

	resp := rig.do(http.MethodGet, "/health", nil)
	resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == identity.ClientCookieName && c.Value != "" {
			return
		}
	}
	t.Fatalf("response did not set %s", identity.ClientCookieName)
}

func TestEventsStreamDeliversNotices(t *testing.T) {
	rig := newAPIRig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, rig.wsURL("/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "done")

	// The pong round trip proves the handler finished subscribing, so the
	// notice published below cannot be lost.
	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var pong map[string]string
	if err := json.Unmarshal(data, &pong); err != nil || pong["type"] != "pong" {
		t.Fatalf("pong = %s", data)
	}

	rig.events.Notice.Publish(domain.Notice{
		Kind:    domain.NoticeSummaryUnavailable,
		Message: "no summary yet",
	})

	_, data, err = ws.Read(ctx)
	if err != nil {
		t.Fatalf("read notice: %v", err)
	}
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "notice" {
		t.Fatalf("envelope type = %q, want notice", env.Type)
	}
	var notice domain.Notice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("unmarshal notice: %v", err)
	}
	if notice.Kind != domain.NoticeSummaryUnavailable {
		t.Fatalf("notice kind = %q", notice.Kind)
	}
}

func TestAudioSocketFeedsCapture(t *testing.T) {
	rig := newAPIRig(t)
	rig.register("doc-audio")
	mid := rig.startMeeting("doc-audio")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, rig.wsURL("/ws/meetings/"+mid+"/audio"), nil)
	if err != nil {
		t.Fatalf("dial audio: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "done")

	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if _, _, err := ws.Read(ctx); err != nil {
		t.Fatalf("read pong: %v", err)
	}

	if err := ws.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	waitFor(t, func() bool {
		return rig.rec.latest().frameCount() >= 1
	}, "frame never reached the recognizer stream")
}

func TestAudioSocketRejectsUnknownMeeting(t *testing.T) {
	rig := newAPIRig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, resp, err := websocket.Dial(ctx, rig.wsURL("/ws/meetings/ghost/audio"), nil)
	if err == nil {
		ws.Close(websocket.StatusNormalClosure, "unexpected")
		t.Fatal("dial should fail for an unknown meeting")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
}
