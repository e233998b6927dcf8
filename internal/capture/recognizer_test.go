package capture

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermissionDenialClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"not allowed", &RecognizerError{Code: ErrCodeNotAllowed}, true},
		{"service not allowed", &RecognizerError{Code: ErrCodeServiceNotAllowed}, true},
		{"network", &RecognizerError{Code: ErrCodeNetwork}, false},
		{"no speech", &RecognizerError{Code: ErrCodeNoSpeech}, false},
		{"audio capture", &RecognizerError{Code: ErrCodeAudioCapture}, false},
		{"unknown code", &RecognizerError{Code: "weird"}, false},
		{"wrapped", fmt.Errorf("stream: %w", &RecognizerError{Code: ErrCodeNotAllowed}), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPermissionDenied(tc.err); got != tc.want {
				t.Fatalf("IsPermissionDenied(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRecognizerErrorMessage(t *testing.T) {
	err := &RecognizerError{Code: ErrCodeNetwork}
	if got := err.Error(); got != "recognizer: network" {
		t.Fatalf("Error() = %q", got)
	}
	err = &RecognizerError{Code: ErrCodeNotAllowed, Message: "user denied"}
	if got := err.Error(); got != "recognizer: not-allowed: user denied" {
		t.Fatalf("Error() = %q", got)
	}
}
