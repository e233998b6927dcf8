package capture

import (
	"sync"
)

// defaultTailSize holds roughly two seconds of 16 kHz mono 16-bit PCM.
const defaultTailSize = 64 * 1024

// TailBuffer keeps the most recent audio bytes in a fixed-size ring so a
// restarted recognizer stream can be primed with the tail of what it missed.
// Writes overwrite the oldest data once the ring is full.
type TailBuffer struct {
	mu   sync.RWMutex
	buf  []byte
	head int
	tail int
	full bool
}

// NewTailBuffer creates a ring of the given capacity in bytes.
func NewTailBuffer(size int) *TailBuffer {
	if size <= 0 {
		size = defaultTailSize
	}
	return &TailBuffer{buf: make([]byte, size)}
}

// Write appends p to the ring, discarding the oldest bytes on overflow.
// Frames larger than the ring keep only their last len(buf) bytes.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	size := len(t.buf)
	if n >= size {
		copy(t.buf, p[n-size:])
		t.head = 0
		t.tail = 0
		t.full = true
		return n, nil
	}

	// Copy in at most two segments around the wrap point.
	first := copy(t.buf[t.tail:], p)
	if first < n {
		copy(t.buf, p[first:])
	}
	prevLen := t.lengthLocked()
	t.tail = (t.tail + n) % size
	if prevLen+n >= size {
		t.full = true
		t.head = t.tail
	}
	return n, nil
}

// Bytes returns a copy of the buffered audio, oldest first.
func (t *TailBuffer) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	length := t.lengthLocked()
	if length == 0 {
		return nil
	}
	out := make([]byte, length)
	first := copy(out, t.buf[t.head:])
	if first < length {
		copy(out[first:], t.buf[:t.tail])
	}
	return out
}

// Len returns the number of buffered bytes.
func (t *TailBuffer) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lengthLocked()
}

// Cap returns the ring capacity in bytes.
func (t *TailBuffer) Cap() int {
	return len(t.buf)
}

// Reset discards all buffered audio.
func (t *TailBuffer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head = 0
	t.tail = 0
	t.full = false
}

func (t *TailBuffer) lengthLocked() int {
	if t.full {
		return len(t.buf)
	}
	if t.tail >= t.head {
		return t.tail - t.head
	}
	return len(t.buf) - t.head + t.tail
}
