package meeting

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const spoolQueueSize = 256

// audioSpool persists raw PCM frames to disk off the capture path. Write
// never blocks the caller: when the queue is full the oldest frame is
// dropped, trading archive completeness for live latency.
type audioSpool struct {
	path   string
	file   *os.File
	logger *slog.Logger

	frames chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newAudioSpool(path string, logger *slog.Logger) (*audioSpool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spool file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &audioSpool{
		path:   path,
		file:   file,
		logger: logger,
		frames: make(chan []byte, spoolQueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Path returns the spool file location.
func (s *audioSpool) Path() string {
	return s.path
}

// Write queues one frame for persistence.
func (s *audioSpool) Write(frame []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("audio spool closed")
	}
	s.mu.Unlock()

	if len(frame) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)

	for {
		select {
		case s.frames <- buf:
			return len(frame), nil
		default:
			// Queue full: drop the oldest frame and retry.
			select {
			case <-s.frames:
				s.logger.Warn("audio spool overflow, dropping oldest frame", "path", s.path)
			default:
			}
		}
	}
}

func (s *audioSpool) run() {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.frames:
			s.write(frame)
		case <-s.done:
			// Drain whatever queued before close.
			for {
				select {
				case frame := <-s.frames:
					s.write(frame)
				default:
					return
				}
			}
		}
	}
}

func (s *audioSpool) write(frame []byte) {
	if _, err := s.file.Write(frame); err != nil {
		s.logger.Warn("audio spool write failed", "path", s.path, "error", err)
	}
}

// Close stops the writer, drains queued frames, and closes the file.
// Safe to call more than once.
func (s *audioSpool) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		s.logger.Warn("audio spool drain timed out", "path", s.path)
	}

	return s.file.Close()
}
