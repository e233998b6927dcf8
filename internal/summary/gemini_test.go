package summary

import (
	"errors"
	"testing"
)

func TestNewPolisherWithoutKeys(t *testing.T) {
	if p := NewPolisher(nil, "gemini-2.0-flash", nil); p != nil {
		t.Error("expected nil polisher without API keys")
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 429", errors.New("googleapi: Error 429: rate limit"), true},
		{"quota", errors.New("quota exceeded for project"), true},
		{"resource exhausted", errors.New("rpc error: code = RESOURCE_EXHAUSTED"), true},
		{"auth", errors.New("API key not valid"), false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isQuotaError(tt.err); got != tt.want {
				t.Errorf("isQuotaError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPolisherKeyRotation(t *testing.T) {
	p := NewPolisher([]string{"k1", "k2", "k3"}, "gemini-2.0-flash", nil)
	if p == nil {
		t.Fatal("polisher not created")
	}
	if got := p.nextKey(); got != "k1" {
		t.Errorf("first key = %q", got)
	}
	p.rotateKey()
	if got := p.nextKey(); got != "k2" {
		t.Errorf("after one rotation = %q", got)
	}
	p.rotateKey()
	p.rotateKey()
	if got := p.nextKey(); got != "k1" {
		t.Errorf("rotation did not wrap: %q", got)
	}
}
