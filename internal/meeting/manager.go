// Package meeting orchestrates documents and live meetings: it owns the
// per-document autosave registries, the per-meeting capture sessions and
// summary pollers, and the finalize pipeline that turns a meeting into an
// archived artifact.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quirelabs/quire/internal/autosave"
	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/capture"
	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/internal/remote"
	"github.com/quirelabs/quire/internal/store"
	"github.com/quirelabs/quire/internal/summary"
)

var (
	// ErrUnknownDocument is returned for operations on unregistered docs.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrUnknownMeeting is returned for operations on unknown meetings.
	ErrUnknownMeeting = errors.New("unknown meeting")
	// ErrMeetingActive is returned when a document already has a meeting.
	ErrMeetingActive = errors.New("document already has an active meeting")
	// ErrFinalizeInProgress is returned for concurrent finalize requests.
	ErrFinalizeInProgress = errors.New("finalize already in progress")
	// ErrShuttingDown is returned once the engine has begun shutdown.
	ErrShuttingDown = errors.New("engine shutting down")
)

// Remote is the remote-store surface the meeting layer depends on. A nil
// Remote runs every document and meeting in local-only mode.
type Remote interface {
	autosave.Saver
	summary.LiveSource
	CreateContainer(ctx context.Context, title string) (int64, error)
	ContainerExists(ctx context.Context, id int64) (bool, error)
	PushChunk(ctx context.Context, containerID int64, chunk remote.Chunk) error
	FinalizeSession(ctx context.Context, containerID int64) error
	FetchFinalArtifact(ctx context.Context, containerID int64) (remote.FinalSummary, error)
}

// Exporter writes a finalized artifact to a document file and returns its
// path. A nil Exporter disables export.
type Exporter interface {
	Export(artifact *domain.FinalArtifact) (string, error)
}

// ManagerConfig wires the meeting manager.
type ManagerConfig struct {
	Store      store.Repository
	Remote     Remote
	Recognizer capture.Recognizer
	Events     *bus.Events
	Logger     *slog.Logger
	Polisher   *summary.Polisher
	Exporter   Exporter

	Locale   string
	AudioDir string // empty disables audio spooling

	DebounceWait     time.Duration
	SaveThrottle     time.Duration
	StatusRevert     time.Duration
	SummaryInterval  time.Duration
	RestartDelay     time.Duration
	IdleTTL          time.Duration
	ArchiveRetention time.Duration
}

// Manager owns the engine's documents and meetings.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu        sync.Mutex
	documents map[string]*document
	meetings  map[string]*Meeting
	active    map[string]string // docID -> meetingID
	closed    bool

	startLocks    sync.Map // docID -> *sync.Mutex
	finalizeLocks sync.Map // meetingID -> *sync.Mutex
}

type document struct {
	id       string
	title    string
	persist  bool
	registry *autosave.Registry

	bindMu sync.Mutex // serializes binding resolution
}

// Meeting is one live capture running against a document.
type Meeting struct {
	ID        string
	DocID     string
	persist   bool
	session   *capture.Session
	poller    *summary.Poller
	spool     *audioSpool
	container func() (int64, bool)
	startedAt time.Time

	mu           sync.Mutex
	notes        string
	lastActivity time.Time
}

func (m *Meeting) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *Meeting) idleFor(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastActivity)
}

// Notes returns the side-panel text attached to the meeting.
func (m *Meeting) Notes() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes
}

func (m *Meeting) setNotes(notes string) {
	m.mu.Lock()
	m.notes = notes
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// DocumentStatus reports a document's binding and autosave condition.
type DocumentStatus struct {
	DocID         string `json:"doc_id"`
	Title         string `json:"title"`
	Persist       bool   `json:"persist"`
	Bound         bool   `json:"bound"`
	ContainerID   int64  `json:"container_id,omitempty"`
	Latched       bool   `json:"remote_unavailable"`
	ActiveMeeting string `json:"active_meeting,omitempty"`
}

// MeetingStatus is the live view of a meeting.
type MeetingStatus struct {
	MeetingID string              `json:"meeting_id"`
	DocID     string              `json:"doc_id"`
	State     domain.SessionState `json:"state"`
	ElapsedMs int64               `json:"elapsed_ms"`
	Partial   string              `json:"partial,omitempty"`
	Segments  int                 `json:"segments"`
	StartedAt time.Time           `json:"started_at"`
}

// NewManager creates the manager. Store and Recognizer are required;
// everything else degrades gracefully when absent.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 60 * time.Minute
	}
	return &Manager{
		cfg:       cfg,
		logger:    cfg.Logger,
		documents: make(map[string]*document),
		meetings:  make(map[string]*Meeting),
		active:    make(map[string]string),
	}
}

// RegisterDocument makes a document known to the engine and, for persisted
// documents, resolves its container binding. Registration succeeds even
// when the remote store is unreachable; the document stays unbound and
// autosave reports not_ready until a later binding attempt succeeds.
func (m *Manager) RegisterDocument(ctx context.Context, docID, title string, persist bool) (*DocumentStatus, error) {
	if docID == "" {
		docID = uuid.NewString()
	}
	if title == "" {
		title = docID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if doc, ok := m.documents[docID]; ok {
		m.mu.Unlock()
		return m.documentStatusOf(doc), nil
	}

	var saver autosave.Saver
	if persist && m.cfg.Remote != nil {
		saver = m.cfg.Remote
	}
	doc := &document{
		id:      docID,
		title:   title,
		persist: persist,
		registry: autosave.NewRegistry(autosave.RegistryConfig{
			DocID:        docID,
			Saver:        saver,
			Events:       m.cfg.Events,
			Logger:       m.logger,
			DebounceWait: m.cfg.DebounceWait,
			SaveThrottle: m.cfg.SaveThrottle,
			StatusRevert: m.cfg.StatusRevert,
		}),
	}
	m.documents[docID] = doc
	m.mu.Unlock()

	m.logger.Info("document registered", "doc_id", docID, "persist", persist)
	if persist && m.cfg.Remote != nil {
		if _, err := m.ensureBinding(ctx, doc); err != nil {
			m.logger.Warn("container binding deferred", "doc_id", docID, "error", err)
		}
	}
	return m.documentStatusOf(doc), nil
}

// DocumentStatus returns the current state of a registered document.
func (m *Manager) DocumentStatus(docID string) (*DocumentStatus, error) {
	doc, err := m.document(docID)
	if err != nil {
		return nil, err
	}
	return m.documentStatusOf(doc), nil
}

// CloseDocument flushes pending edits and forgets the document. Fails
// while a meeting is still running against it.
func (m *Manager) CloseDocument(docID string) error {
	m.mu.Lock()
	doc, ok := m.documents[docID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownDocument
	}
	if mid, busy := m.active[docID]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMeetingActive, mid)
	}
	delete(m.documents, docID)
	m.mu.Unlock()

	doc.registry.Close()
	m.logger.Info("document closed", "doc_id", docID)
	return nil
}

// EditFragment records a content change on one fragment of a document.
func (m *Manager) EditFragment(docID, fragKey string, pos domain.FragmentPosition, content string) error {
	doc, err := m.document(docID)
	if err != nil {
		return err
	}
	doc.registry.Controller(fragKey, pos).Change(content)
	return nil
}

// FlushDocument forces every pending edit of the document to save now.
func (m *Manager) FlushDocument(docID string) error {
	doc, err := m.document(docID)
	if err != nil {
		return err
	}
	doc.registry.FlushAll()
	return nil
}

// StartMeeting begins capture against a document. One meeting per
// document at a time.
func (m *Manager) StartMeeting(ctx context.Context, docID string) (*MeetingStatus, error) {
	doc, err := m.document(docID)
	if err != nil {
		return nil, err
	}

	lock, _ := m.startLocks.LoadOrStore(docID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		return nil, ErrMeetingActive
	}
	defer func() {
		mutex.Unlock()
		m.startLocks.Delete(docID)
	}()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if mid, busy := m.active[docID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMeetingActive, mid)
	}
	m.mu.Unlock()

	// Give an unbound persisted document another chance to bind before
	// capture starts; failure keeps the meeting local.
	if doc.persist && m.cfg.Remote != nil {
		if _, err := m.ensureBinding(ctx, doc); err != nil {
			m.logger.Warn("meeting starts unbound", "doc_id", docID, "error", err)
		}
	}

	meetingID := uuid.NewString()

	var spool *audioSpool
	if m.cfg.AudioDir != "" {
		spool, err = newAudioSpool(filepath.Join(m.cfg.AudioDir, meetingID+".pcm"), m.logger)
		if err != nil {
			m.logger.Warn("audio spool unavailable", "meeting_id", meetingID, "error", err)
			spool = nil
		}
	}

	var sink capture.SegmentSink
	var source summary.LiveSource
	if doc.persist && m.cfg.Remote != nil {
		sink = chunkForwarder{remote: m.cfg.Remote}
		source = m.cfg.Remote
	}

	session := capture.NewSession(capture.SessionConfig{
		MeetingID:    meetingID,
		Locale:       m.cfg.Locale,
		Recognizer:   m.cfg.Recognizer,
		Events:       m.cfg.Events,
		Logger:       m.logger,
		Sink:         sink,
		Container:    doc.registry.Container,
		RestartDelay: m.cfg.RestartDelay,
	})
	poller := summary.NewPoller(summary.PollerConfig{
		MeetingID: meetingID,
		Interval:  m.cfg.SummaryInterval,
		Source:    source,
		Container: doc.registry.Container,
		Segments:  session.Segments,
		Events:    m.cfg.Events,
		Logger:    m.logger,
	})

	mtg := &Meeting{
		ID:           meetingID,
		DocID:        docID,
		persist:      doc.persist,
		session:      session,
		poller:       poller,
		spool:        spool,
		container:    doc.registry.Container,
		startedAt:    time.Now(),
		lastActivity: time.Now(),
	}

	if err := session.Start(); err != nil {
		if spool != nil {
			_ = spool.Close()
		}
		return nil, err
	}
	poller.Start()

	m.mu.Lock()
	m.meetings[meetingID] = mtg
	m.active[docID] = meetingID
	m.mu.Unlock()

	m.logger.Info("meeting started", "meeting_id", meetingID, "doc_id", docID, "persist", doc.persist)
	return m.statusOf(mtg), nil
}

// MeetingStatus returns the live view of a meeting.
func (m *Manager) MeetingStatus(meetingID string) (*MeetingStatus, error) {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return nil, err
	}
	return m.statusOf(mtg), nil
}

// ActiveMeetings lists every running meeting.
func (m *Manager) ActiveMeetings() []*MeetingStatus {
	m.mu.Lock()
	meetings := make([]*Meeting, 0, len(m.meetings))
	for _, mtg := range m.meetings {
		meetings = append(meetings, mtg)
	}
	m.mu.Unlock()

	out := make([]*MeetingStatus, 0, len(meetings))
	for _, mtg := range meetings {
		out = append(out, m.statusOf(mtg))
	}
	return out
}

// PauseMeeting suspends capture and summary polling.
func (m *Manager) PauseMeeting(meetingID string) error {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return err
	}
	if err := mtg.session.Pause(); err != nil {
		return err
	}
	mtg.poller.Stop()
	mtg.touch()
	m.logger.Info("meeting paused", "meeting_id", meetingID)
	return nil
}

// ResumeMeeting restarts capture and summary polling after a pause.
func (m *Manager) ResumeMeeting(meetingID string) error {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return err
	}
	if err := mtg.session.Resume(); err != nil {
		return err
	}
	mtg.poller.Start()
	mtg.touch()
	m.logger.Info("meeting resumed", "meeting_id", meetingID)
	return nil
}

// UpdateNotes replaces the meeting's side-panel notes.
func (m *Manager) UpdateNotes(meetingID, notes string) error {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return err
	}
	mtg.setNotes(notes)
	return nil
}

// Summaries returns the meeting's live summary history, oldest first.
func (m *Manager) Summaries(meetingID string) ([]domain.SummarySnapshot, error) {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return nil, err
	}
	return mtg.poller.History(), nil
}

// Segments returns the meeting's finalized utterances so far.
func (m *Manager) Segments(meetingID string) ([]domain.UtteranceSegment, error) {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return nil, err
	}
	return mtg.session.Segments(), nil
}

// Feed hands one PCM frame to the meeting: the recognizer gets it live and
// the spool keeps it for the archive.
func (m *Manager) Feed(meetingID string, pcm []byte) error {
	mtg, err := m.meeting(meetingID)
	if err != nil {
		return err
	}
	mtg.touch()
	mtg.session.Feed(pcm)
	if mtg.spool != nil {
		if _, err := mtg.spool.Write(pcm); err != nil {
			m.logger.Debug("audio spool write refused", "meeting_id", meetingID, "error", err)
		}
	}
	return nil
}

// FinalizeMeeting ends the meeting, resolves its transcript and summary,
// archives the artifact, and exports it. Finalizing an already archived
// meeting returns the stored artifact, so retries are safe.
func (m *Manager) FinalizeMeeting(ctx context.Context, meetingID string) (*domain.FinalArtifact, error) {
	lock, _ := m.finalizeLocks.LoadOrStore(meetingID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		return nil, ErrFinalizeInProgress
	}
	defer func() {
		mutex.Unlock()
		m.finalizeLocks.Delete(meetingID)
	}()

	m.mu.Lock()
	mtg, ok := m.meetings[meetingID]
	m.mu.Unlock()
	if !ok {
		archived, err := m.cfg.Store.GetMeeting(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		if archived == nil {
			return nil, ErrUnknownMeeting
		}
		return archived, nil
	}

	m.logger.Info("finalizing meeting", "meeting_id", meetingID, "doc_id", mtg.DocID)
	mtg.poller.Stop()
	mtg.session.Finalize()

	var spoolPath string
	if mtg.spool != nil {
		spoolPath = mtg.spool.Path()
		if err := mtg.spool.Close(); err != nil {
			m.logger.Warn("audio spool close failed", "meeting_id", meetingID, "error", err)
		}
	}

	segments := mtg.session.Segments()
	artifact := &domain.FinalArtifact{
		MeetingID: meetingID,
		DocID:     mtg.DocID,
		AudioRef:  spoolPath,
		Notes:     mtg.Notes(),
		StartedAt: mtg.startedAt,
		EndedAt:   time.Now(),
	}
	m.resolveFinalContent(ctx, mtg, segments, artifact)

	if err := m.cfg.Store.SaveMeeting(ctx, artifact); err != nil {
		// Keep the meeting registered so the client can retry finalize.
		m.logger.Error("meeting archive failed", "meeting_id", meetingID, "error", err)
		return nil, fmt.Errorf("archive meeting: %w", err)
	}

	if m.cfg.Exporter != nil {
		if path, err := m.cfg.Exporter.Export(artifact); err != nil {
			m.logger.Warn("document export failed", "meeting_id", meetingID, "error", err)
		} else {
			m.logger.Info("meeting exported", "meeting_id", meetingID, "path", path)
		}
	}

	m.mu.Lock()
	delete(m.meetings, meetingID)
	if m.active[mtg.DocID] == meetingID {
		delete(m.active, mtg.DocID)
	}
	m.mu.Unlock()

	if m.cfg.Events != nil {
		m.cfg.Events.Capture.Publish(domain.CaptureChange{MeetingID: meetingID, State: domain.StateIdle})
	}
	m.logger.Info("meeting finalized", "meeting_id", meetingID, "segments", len(segments))
	return artifact, nil
}

// ListArchive returns archived meetings, newest first. Empty docID lists
// across documents.
func (m *Manager) ListArchive(ctx context.Context, docID string, limit int) ([]*domain.FinalArtifact, error) {
	return m.cfg.Store.ListMeetings(ctx, docID, limit)
}

// ArchivedMeeting returns one archived artifact, or nil when unknown.
func (m *Manager) ArchivedMeeting(ctx context.Context, meetingID string) (*domain.FinalArtifact, error) {
	return m.cfg.Store.GetMeeting(ctx, meetingID)
}

// Close finalizes every active meeting and flushes every document.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.meetings))
	for id := range m.meetings {
		ids = append(ids, id)
	}
	docs := make([]*document, 0, len(m.documents))
	for _, doc := range m.documents {
		docs = append(docs, doc)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.FinalizeMeeting(ctx, id); err != nil {
			m.logger.Error("shutdown finalize failed", "meeting_id", id, "error", err)
		}
	}
	for _, doc := range docs {
		doc.registry.Close()
	}
	m.logger.Info("meeting manager closed", "meetings", len(ids), "documents", len(docs))
}

// resolveFinalContent fills Transcript, Summary, and AudioRef, preferring
// the remote store's finalized artifact and falling back to local capture.
func (m *Manager) resolveFinalContent(ctx context.Context, mtg *Meeting, segments []domain.UtteranceSegment, artifact *domain.FinalArtifact) {
	if mtg.persist && m.cfg.Remote != nil {
		if containerID, bound := mtg.container(); bound {
			final, err := m.fetchRemoteFinal(ctx, containerID)
			if err != nil {
				m.logger.Warn("remote finalize failed, using local capture", "meeting_id", mtg.ID, "error", err)
			} else {
				artifact.Transcript = final.Transcript
				artifact.Summary = final.Summary
				if final.AudioURL != "" {
					artifact.AudioRef = final.AudioURL
				}
			}
		}
	}

	if artifact.Transcript == "" {
		artifact.Transcript = domain.Transcript(segments)
	}
	if artifact.Summary == "" {
		artifact.Summary = m.localSummary(ctx, mtg, artifact.Transcript)
	}
}

func (m *Manager) fetchRemoteFinal(ctx context.Context, containerID int64) (remote.FinalSummary, error) {
	if err := m.cfg.Remote.FinalizeSession(ctx, containerID); err != nil {
		return remote.FinalSummary{}, err
	}
	return m.cfg.Remote.FetchFinalArtifact(ctx, containerID)
}

// localSummary produces the best summary available without the remote
// store: Gemini minutes when configured, otherwise the last meaningful
// live snapshot, otherwise a fresh extractive pass over the transcript.
func (m *Manager) localSummary(ctx context.Context, mtg *Meeting, transcript string) string {
	if transcript == "" {
		return ""
	}
	if m.cfg.Polisher != nil {
		polished, err := m.cfg.Polisher.Polish(ctx, transcript)
		if err != nil {
			m.logger.Warn("transcript polish failed, falling back", "meeting_id", mtg.ID, "error", err)
		} else if polished != "" {
			return polished
		}
	}
	if last, ok := mtg.poller.LastMeaningful(); ok {
		return last
	}
	return summary.Render(summary.Extract(transcript, summary.Options{}))
}

func (m *Manager) document(docID string) (*document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok {
		return nil, ErrUnknownDocument
	}
	return doc, nil
}

func (m *Manager) meeting(meetingID string) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mtg, ok := m.meetings[meetingID]
	if !ok {
		return nil, ErrUnknownMeeting
	}
	return mtg, nil
}

// ensureBinding resolves the document's container binding: a stored
// binding is verified against the remote store and dropped when the
// container is gone, forcing re-creation.
func (m *Manager) ensureBinding(ctx context.Context, doc *document) (int64, error) {
	doc.bindMu.Lock()
	defer doc.bindMu.Unlock()

	if id, ok := doc.registry.Container(); ok {
		return id, nil
	}

	binding, err := m.cfg.Store.GetBinding(ctx, doc.id)
	if err != nil {
		return 0, err
	}
	if binding != nil {
		exists, err := m.cfg.Remote.ContainerExists(ctx, binding.ContainerID)
		if err != nil {
			return 0, fmt.Errorf("verify container %d: %w", binding.ContainerID, err)
		}
		if exists {
			doc.registry.BindContainer(binding.ContainerID)
			m.logger.Info("container binding verified", "doc_id", doc.id, "container_id", binding.ContainerID)
			return binding.ContainerID, nil
		}
		m.logger.Warn("stored container binding is stale", "doc_id", doc.id, "container_id", binding.ContainerID)
		if err := m.cfg.Store.DeleteBinding(ctx, doc.id); err != nil {
			m.logger.Warn("stale binding delete failed", "doc_id", doc.id, "error", err)
		}
	}

	containerID, err := m.cfg.Remote.CreateContainer(ctx, doc.title)
	if err != nil {
		return 0, fmt.Errorf("create container: %w", err)
	}
	if err := m.cfg.Store.PutBinding(ctx, &domain.ContainerBinding{
		DocID:       doc.id,
		ContainerID: containerID,
		BoundAt:     time.Now(),
	}); err != nil {
		// The in-memory binding still serves this run.
		m.logger.Warn("binding persist failed", "doc_id", doc.id, "error", err)
	}
	doc.registry.BindContainer(containerID)
	m.logger.Info("document bound to container", "doc_id", doc.id, "container_id", containerID)
	return containerID, nil
}

func (m *Manager) documentStatusOf(doc *document) *DocumentStatus {
	containerID, bound := doc.registry.Container()
	st := &DocumentStatus{
		DocID:   doc.id,
		Title:   doc.title,
		Persist: doc.persist,
		Bound:   bound,
		Latched: doc.registry.Latched(),
	}
	if bound {
		st.ContainerID = containerID
	}
	m.mu.Lock()
	st.ActiveMeeting = m.active[doc.id]
	m.mu.Unlock()
	return st
}

func (m *Manager) statusOf(mtg *Meeting) *MeetingStatus {
	return &MeetingStatus{
		MeetingID: mtg.ID,
		DocID:     mtg.DocID,
		State:     mtg.session.State(),
		ElapsedMs: mtg.session.ElapsedMs(),
		Partial:   mtg.session.Partial(),
		Segments:  len(mtg.session.Segments()),
		StartedAt: mtg.startedAt,
	}
}

// chunkForwarder adapts the remote client to the capture sink.
type chunkForwarder struct {
	remote Remote
}

func (f chunkForwarder) PushSegment(ctx context.Context, containerID int64, seg domain.UtteranceSegment) error {
	return f.remote.PushChunk(ctx, containerID, remote.Chunk{
		Text:    seg.Text,
		StartMs: seg.StartMs,
		EndMs:   seg.EndMs,
	})
}
