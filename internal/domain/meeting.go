package domain

import (
	"time"
)

// SessionState is the lifecycle state of a capture session.
type SessionState string

const (
	// StateIdle means no capture has started or the session is finished.
	StateIdle SessionState = "idle"
	// StateCapturing means recognition is running.
	StateCapturing SessionState = "capturing"
	// StatePaused means capture and polling are suspended.
	StatePaused SessionState = "paused"
	// StateFinalizing means teardown is in progress.
	StateFinalizing SessionState = "finalizing"
)

// UtteranceSegment is one finalized recognition result. Timestamps are
// milliseconds since the capture (or resume) anchor, not wall clock;
// consumers must not assume alignment across pause/resume boundaries.
type UtteranceSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// SummarySnapshot is one entry of the live summary history.
type SummarySnapshot struct {
	ProducedAt time.Time `json:"produced_at"`
	Text       string    `json:"text"`
	Local      bool      `json:"local"`
}

// ContainerBinding is the durable mapping from an opaque document ID to
// the numeric remote container it has been bound to. A binding is removed
// when verification reports the container gone, forcing re-creation.
type ContainerBinding struct {
	DocID       string    `json:"doc_id"`
	ContainerID int64     `json:"container_id"`
	BoundAt     time.Time `json:"bound_at"`
}

// FinalArtifact is the result of finalizing a meeting. Notes is whatever
// free text the user typed into the side panel, passed through verbatim.
type FinalArtifact struct {
	MeetingID  string    `json:"meeting_id"`
	DocID      string    `json:"doc_id"`
	AudioRef   string    `json:"audio_ref,omitempty"`
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary"`
	Notes      string    `json:"notes"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Transcript joins utterance segments in arrival order.
func Transcript(segments []UtteranceSegment) string {
	switch len(segments) {
	case 0:
		return ""
	case 1:
		return segments[0].Text
	}
	n := 0
	for _, s := range segments {
		n += len(s.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, s := range segments {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// CaptureChange is published when a capture session changes state.
type CaptureChange struct {
	MeetingID string       `json:"meeting_id"`
	State     SessionState `json:"state"`
}

// PartialTranscript is the transient interim recognition text. It is
// overwritten, never accumulated.
type PartialTranscript struct {
	MeetingID string `json:"meeting_id"`
	Text      string `json:"text"`
}

// UtteranceEvent is published when a finalized segment is appended.
type UtteranceEvent struct {
	MeetingID string           `json:"meeting_id"`
	Segment   UtteranceSegment `json:"segment"`
}

// SummaryEvent is published when a new live summary snapshot is recorded.
type SummaryEvent struct {
	MeetingID string          `json:"meeting_id"`
	Snapshot  SummarySnapshot `json:"snapshot"`
}

// NoticeKind classifies user-visible notices. These are the only failures
// ever surfaced to the user; everything else is absorbed into bounded
// status signals.
type NoticeKind string

const (
	// NoticeRemoteSaveUnavailable is raised once when the remote store
	// latches off for the session.
	NoticeRemoteSaveUnavailable NoticeKind = "remote_save_unavailable"
	// NoticeMicPermissionNeeded is raised when recognition reports a
	// permission denial.
	NoticeMicPermissionNeeded NoticeKind = "mic_permission_needed"
	// NoticeSummaryUnavailable is raised when no live summary could be
	// produced yet.
	NoticeSummaryUnavailable NoticeKind = "summary_unavailable"
)

// Notice is a user-visible advisory published on the event bus.
type Notice struct {
	MeetingID string     `json:"meeting_id,omitempty"`
	DocID     string     `json:"doc_id,omitempty"`
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
}
