package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/pkg/pace"
)

const (
	defaultRestartDelay = time.Second
	defaultPartialEvery = 150 * time.Millisecond
	forwardTimeout      = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a session that is not idle.
	ErrAlreadyStarted = errors.New("capture already started")
	// ErrNotCapturing is returned by Pause when nothing is being captured.
	ErrNotCapturing = errors.New("capture is not running")
	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("capture is not paused")
)

// SegmentSink receives finalized segments for forwarding to the remote
// store. Forwarding is best effort; failures are logged and dropped.
type SegmentSink interface {
	PushSegment(ctx context.Context, containerID int64, seg domain.UtteranceSegment) error
}

// SessionConfig wires one capture session.
type SessionConfig struct {
	MeetingID  string
	Locale     string
	Recognizer Recognizer
	Events     *bus.Events
	Logger     *slog.Logger

	// Sink and Container enable chunk forwarding. Segments are forwarded
	// only while Container reports a binding.
	Sink      SegmentSink
	Container func() (int64, bool)

	// RestartDelay is the wait before reopening a recognizer stream after
	// a transient failure. PartialEvery caps the interim publish rate.
	// TailSize is the audio replay ring capacity in bytes.
	RestartDelay time.Duration
	PartialEvery time.Duration
	TailSize     int
}

// Session drives one meeting's speech capture. It owns the recognizer
// stream, reopens it after transient failures, and turns final results
// into timestamped utterance segments. Interim results are published as
// overwriting partial transcripts, rate-limited by a throttle.
//
// Segment timestamps count captured milliseconds only: the clock freezes
// on Pause and continues on Resume.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
	tail   *TailBuffer
	gate   *pace.Throttle

	mu           sync.Mutex
	state        domain.SessionState
	stream       RecognizerStream
	streamGen    int
	segments     []domain.UtteranceSegment
	partial      string
	baseMs       int64
	anchor       time.Time
	pendingStart int64
	restartTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates an idle capture session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.PartialEvery <= 0 {
		cfg.PartialEvery = defaultPartialEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		logger:       cfg.Logger.With("meeting_id", cfg.MeetingID),
		tail:         NewTailBuffer(cfg.TailSize),
		state:        domain.StateIdle,
		pendingStart: -1,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.gate = pace.NewThrottle(cfg.PartialEvery, s.publishPartial)
	return s
}

// Start opens the recognizer stream and begins capturing.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != domain.StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = domain.StateCapturing
	s.anchor = time.Now()
	s.baseMs = 0
	s.pendingStart = -1
	s.mu.Unlock()

	stream, err := s.cfg.Recognizer.Stream(s.ctx, s.cfg.Locale)
	if err != nil {
		s.mu.Lock()
		s.state = domain.StateIdle
		s.mu.Unlock()
		return fmt.Errorf("start recognizer: %w", err)
	}
	s.adopt(stream, nil)
	s.publishState(domain.StateCapturing)
	return nil
}

// Pause suspends capture. The recognizer stream is torn down and the
// elapsed clock freezes until Resume.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != domain.StateCapturing {
		s.mu.Unlock()
		return ErrNotCapturing
	}
	s.haltLocked(domain.StatePaused)
	s.mu.Unlock()

	s.publishPartial()
	s.publishState(domain.StatePaused)
	return nil
}

// Resume reopens the recognizer stream after a pause.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != domain.StatePaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.state = domain.StateCapturing
	s.anchor = time.Now()
	s.pendingStart = -1
	s.mu.Unlock()

	stream, err := s.cfg.Recognizer.Stream(s.ctx, s.cfg.Locale)
	if err != nil {
		s.mu.Lock()
		s.state = domain.StatePaused
		s.anchor = time.Time{}
		s.mu.Unlock()
		return fmt.Errorf("resume recognizer: %w", err)
	}
	s.adopt(stream, nil)
	s.publishState(domain.StateCapturing)
	return nil
}

// Finalize ends capture for good and waits for the result pumps to drain.
// It is idempotent.
func (s *Session) Finalize() {
	s.mu.Lock()
	if s.state == domain.StateFinalizing {
		s.mu.Unlock()
		return
	}
	s.haltLocked(domain.StateFinalizing)
	s.mu.Unlock()

	s.cancel()
	s.gate.Stop()
	s.wg.Wait()
	s.publishState(domain.StateFinalizing)
}

// Feed accepts one frame of PCM audio from the client. Frames are mirrored
// into the tail ring so a restarted stream can be primed with recent audio.
func (s *Session) Feed(pcm []byte) {
	s.mu.Lock()
	if s.state != domain.StateCapturing {
		s.mu.Unlock()
		return
	}
	stream := s.stream
	s.mu.Unlock()

	_, _ = s.tail.Write(pcm)
	if stream == nil {
		// Between restarts; the ring keeps the audio for replay.
		return
	}
	if err := stream.Send(pcm); err != nil {
		s.logger.Debug("audio frame dropped", "error", err)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Segments returns a copy of the finalized segments so far.
func (s *Session) Segments() []domain.UtteranceSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UtteranceSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Partial returns the current interim transcript.
func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// ElapsedMs returns captured time in milliseconds, excluding paused spans.
func (s *Session) ElapsedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

// adopt installs a freshly opened stream unless capture stopped while it
// was being dialed.
func (s *Session) adopt(stream RecognizerStream, replay []byte) {
	s.mu.Lock()
	if s.state != domain.StateCapturing {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.streamGen++
	gen := s.streamGen
	s.stream = stream
	s.wg.Add(1)
	s.mu.Unlock()

	go s.pump(stream, gen)

	if len(replay) > 0 {
		if err := stream.Send(replay); err != nil {
			s.logger.Debug("tail replay dropped", "error", err)
		}
	}
}

// pump relays one stream's results until it ends.
func (s *Session) pump(stream RecognizerStream, gen int) {
	defer s.wg.Done()
	for res := range stream.Results() {
		if res.Err != nil {
			s.handleStreamError(gen, res.Err)
			return
		}
		s.handleResult(gen, res)
	}
	s.handleStreamEnd(gen)
}

func (s *Session) handleResult(gen int, res Result) {
	s.mu.Lock()
	if gen != s.streamGen || s.state != domain.StateCapturing {
		s.mu.Unlock()
		return
	}
	now := s.elapsedLocked()
	if s.pendingStart < 0 {
		s.pendingStart = now
	}
	if !res.Final {
		s.partial = res.Text
		s.mu.Unlock()
		s.gate.Call()
		return
	}

	text := strings.TrimSpace(res.Text)
	start := s.pendingStart
	s.partial = ""
	s.pendingStart = -1
	if text == "" {
		s.mu.Unlock()
		s.publishPartial()
		return
	}
	seg := domain.UtteranceSegment{StartMs: start, EndMs: now, Text: text}
	s.segments = append(s.segments, seg)
	s.mu.Unlock()

	s.publishPartial()
	if s.cfg.Events != nil {
		s.cfg.Events.Utterance.Publish(domain.UtteranceEvent{MeetingID: s.cfg.MeetingID, Segment: seg})
	}
	s.forward(seg)
}

func (s *Session) handleStreamError(gen int, err error) {
	s.mu.Lock()
	if gen != s.streamGen || s.state != domain.StateCapturing {
		s.mu.Unlock()
		return
	}
	if IsPermissionDenied(err) {
		s.logger.Warn("recognition permission denied, pausing capture", "error", err)
		s.haltLocked(domain.StatePaused)
		s.mu.Unlock()

		s.publishPartial()
		s.publishState(domain.StatePaused)
		if s.cfg.Events != nil {
			s.cfg.Events.Notice.Publish(domain.Notice{
				MeetingID: s.cfg.MeetingID,
				Kind:      domain.NoticeMicPermissionNeeded,
				Message:   "Microphone access is blocked; capture is paused.",
			})
		}
		return
	}
	s.logger.Warn("recognizer stream failed, restarting", "error", err, "delay", s.cfg.RestartDelay)
	s.scheduleRestartLocked()
	s.mu.Unlock()
}

func (s *Session) handleStreamEnd(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.streamGen || s.state != domain.StateCapturing {
		return
	}
	s.logger.Info("recognizer stream ended, restarting", "delay", s.cfg.RestartDelay)
	s.scheduleRestartLocked()
}

// scheduleRestartLocked retires the current stream and arms the restart
// timer. Results from the retired stream are ignored from here on.
func (s *Session) scheduleRestartLocked() {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.streamGen++
	s.pendingStart = -1
	if s.restartTimer == nil {
		s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, s.restart)
	}
}

func (s *Session) restart() {
	s.mu.Lock()
	s.restartTimer = nil
	if s.state != domain.StateCapturing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	stream, err := s.cfg.Recognizer.Stream(s.ctx, s.cfg.Locale)
	if err != nil {
		s.logger.Warn("recognizer reconnect failed, retrying", "error", err, "delay", s.cfg.RestartDelay)
		s.mu.Lock()
		if s.state == domain.StateCapturing && s.restartTimer == nil {
			s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, s.restart)
		}
		s.mu.Unlock()
		return
	}
	s.adopt(stream, s.tail.Bytes())
}

// haltLocked freezes the clock, retires the stream, and moves to next.
func (s *Session) haltLocked(next domain.SessionState) {
	s.baseMs = s.elapsedLocked()
	s.anchor = time.Time{}
	s.state = next
	s.partial = ""
	s.pendingStart = -1
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.streamGen++
	s.tail.Reset()
}

func (s *Session) elapsedLocked() int64 {
	if s.anchor.IsZero() {
		return s.baseMs
	}
	return s.baseMs + time.Since(s.anchor).Milliseconds()
}

// forward pushes a finalized segment to the remote container when bound.
func (s *Session) forward(seg domain.UtteranceSegment) {
	if s.cfg.Sink == nil || s.cfg.Container == nil {
		return
	}
	containerID, bound := s.cfg.Container()
	if !bound {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, forwardTimeout)
		defer cancel()
		if err := s.cfg.Sink.PushSegment(ctx, containerID, seg); err != nil {
			s.logger.Warn("chunk forward failed", "container_id", containerID, "error", err)
		}
	}()
}

func (s *Session) publishPartial() {
	if s.cfg.Events == nil {
		return
	}
	s.mu.Lock()
	text := s.partial
	s.mu.Unlock()
	s.cfg.Events.Partial.Publish(domain.PartialTranscript{MeetingID: s.cfg.MeetingID, Text: text})
}

func (s *Session) publishState(state domain.SessionState) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Capture.Publish(domain.CaptureChange{MeetingID: s.cfg.MeetingID, State: state})
}
