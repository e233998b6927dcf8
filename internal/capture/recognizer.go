// Package capture runs the live speech capture loop: audio frames flow out
// to a recognizer, interim and final transcripts flow back, and the session
// rides out recognizer restarts without losing its place in the meeting.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Result is a single recognizer emission. Interim results overwrite each
// other on screen; final results become utterance segments. A Result with
// Err set terminates the stream.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// RecognizerStream is one live connection to a speech recognizer.
type RecognizerStream interface {
	// Send pushes one frame of PCM audio to the recognizer.
	Send(pcm []byte) error
	// Results yields interim and final transcripts. The channel closes
	// when the stream ends for any reason.
	Results() <-chan Result
	Close() error
}

// Recognizer opens recognizer streams. Implementations must allow repeated
// Stream calls on the same value: the session reconnects after transient
// failures.
type Recognizer interface {
	Stream(ctx context.Context, locale string) (RecognizerStream, error)
}

// Recognizer error codes, matching the vocabulary recognition services
// report. Codes outside this list are treated as transient.
const (
	ErrCodeNoSpeech          = "no-speech"
	ErrCodeAborted           = "aborted"
	ErrCodeAudioCapture      = "audio-capture"
	ErrCodeNetwork           = "network"
	ErrCodeNotAllowed        = "not-allowed"
	ErrCodeServiceNotAllowed = "service-not-allowed"
)

// RecognizerError carries the recognizer's error code so the session can
// decide between restarting the stream and pausing the capture.
type RecognizerError struct {
	Code    string
	Message string
}

func (e *RecognizerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recognizer: %s", e.Code)
	}
	return fmt.Sprintf("recognizer: %s: %s", e.Code, e.Message)
}

// IsPermissionDenied reports whether err means the microphone or the
// recognition service is blocked for this client. Permission denials never
// clear on their own, so the session pauses instead of retrying.
func IsPermissionDenied(err error) bool {
	var re *RecognizerError
	if !errors.As(err, &re) {
		return false
	}
	return re.Code == ErrCodeNotAllowed || re.Code == ErrCodeServiceNotAllowed
}
