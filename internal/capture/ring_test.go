package capture

import (
	"bytes"
	"testing"
)

func TestTailBufferKeepsNewestBytes(t *testing.T) {
	tb := NewTailBuffer(8)

	if _, err := tb.Write([]byte("abcde")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(tb.Bytes()); got != "abcde" {
		t.Fatalf("Bytes() = %q, want %q", got, "abcde")
	}

	if _, err := tb.Write([]byte("fghij")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(tb.Bytes()); got != "cdefghij" {
		t.Fatalf("Bytes() = %q, want %q", got, "cdefghij")
	}
	if got := tb.Len(); got != 8 {
		t.Fatalf("Len() = %d, want 8", got)
	}
}

func TestTailBufferWrapsAcrossSmallWrites(t *testing.T) {
	tb := NewTailBuffer(4)
	for _, chunk := range []string{"ab", "cd", "ef"} {
		if _, err := tb.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write(%q): %v", chunk, err)
		}
	}
	if got := string(tb.Bytes()); got != "cdef" {
		t.Fatalf("Bytes() = %q, want %q", got, "cdef")
	}
}

func TestTailBufferOversizeWrite(t *testing.T) {
	tb := NewTailBuffer(4)
	if _, err := tb.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(tb.Bytes()); got != "6789" {
		t.Fatalf("Bytes() = %q, want %q", got, "6789")
	}
	if got := tb.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}
}

func TestTailBufferReset(t *testing.T) {
	tb := NewTailBuffer(8)
	if _, err := tb.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	tb.Reset()

	if got := tb.Len(); got != 0 {
		t.Fatalf("Len() after reset = %d", got)
	}
	if got := tb.Bytes(); got != nil {
		t.Fatalf("Bytes() after reset = %v", got)
	}

	if _, err := tb.Write([]byte("xy")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := tb.Bytes(); !bytes.Equal(got, []byte("xy")) {
		t.Fatalf("Bytes() = %q after reuse", got)
	}
}

func TestTailBufferDefaultCapacity(t *testing.T) {
	if got := NewTailBuffer(0).Cap(); got != defaultTailSize {
		t.Fatalf("Cap() = %d, want %d", got, defaultTailSize)
	}
}
