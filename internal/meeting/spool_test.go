package meeting

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAudioSpoolWritesFramesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio", "m1.pcm")
	spool, err := newAudioSpool(path, nil)
	if err != nil {
		t.Fatalf("newAudioSpool: %v", err)
	}

	for _, frame := range [][]byte{{1, 2}, {3}, {4, 5, 6}} {
		if _, err := spool.Write(frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	if string(data) != string(want) {
		t.Fatalf("spool bytes = %v, want %v", data, want)
	}
}

func TestAudioSpoolCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "m1.pcm")
	spool, err := newAudioSpool(path, nil)
	if err != nil {
		t.Fatalf("newAudioSpool: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("spool file missing: %v", err)
	}
}

func TestAudioSpoolCloseIsIdempotent(t *testing.T) {
	spool, err := newAudioSpool(filepath.Join(t.TempDir(), "m1.pcm"), nil)
	if err != nil {
		t.Fatalf("newAudioSpool: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAudioSpoolRejectsWritesAfterClose(t *testing.T) {
	spool, err := newAudioSpool(filepath.Join(t.TempDir(), "m1.pcm"), nil)
	if err != nil {
		t.Fatalf("newAudioSpool: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := spool.Write([]byte{1}); err == nil {
		t.Fatal("write after close succeeded")
	}
}

func TestAudioSpoolSurvivesBurstBeyondQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m1.pcm")
	spool, err := newAudioSpool(path, nil)
	if err != nil {
		t.Fatalf("newAudioSpool: %v", err)
	}

	// Far more frames than the queue holds; older frames may drop but
	// Write must never block or fail.
	for i := 0; i < spoolQueueSize*4; i++ {
		if _, err := spool.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("spool file empty after burst")
	}
}
