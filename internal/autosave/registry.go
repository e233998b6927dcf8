package autosave

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/domain"
)

// RegistryConfig wires a Registry to one document.
type RegistryConfig struct {
	DocID string

	// Saver is nil for local-only documents.
	Saver  Saver
	Events *bus.Events
	Logger *slog.Logger

	DebounceWait time.Duration
	SaveThrottle time.Duration
	StatusRevert time.Duration
}

// Registry owns the fragment controllers of one document. Controllers are
// created lazily on first edit and share the document's container binding
// and remote-off latch.
type Registry struct {
	cfg   RegistryConfig
	latch Latch

	mu          sync.Mutex
	containerID int64
	bound       bool
	controllers map[string]*Controller
	closed      bool
}

// NewRegistry creates an empty registry for a document.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		cfg:         cfg,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the fragment's controller, creating it on first use.
// pos matters only at creation; it tells the remote store where the
// fragment sits in the document.
func (r *Registry) Controller(fragKey string, pos domain.FragmentPosition) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[fragKey]; ok {
		return c
	}
	c := NewController(Config{
		DocID:        r.cfg.DocID,
		FragmentKey:  fragKey,
		Position:     pos,
		Saver:        r.cfg.Saver,
		Container:    r.Container,
		Latch:        &r.latch,
		Events:       r.cfg.Events,
		Logger:       r.cfg.Logger,
		DebounceWait: r.cfg.DebounceWait,
		SaveThrottle: r.cfg.SaveThrottle,
		StatusRevert: r.cfg.StatusRevert,
	})
	if !r.closed {
		r.controllers[fragKey] = c
	}
	return c
}

// Lookup returns an existing controller without creating one.
func (r *Registry) Lookup(fragKey string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[fragKey]
	return c, ok
}

// BindContainer records the document's remote container. Controllers read
// it at save time, so fragments created before the binding stop reporting
// not-ready on their next attempt.
func (r *Registry) BindContainer(id int64) {
	r.mu.Lock()
	r.containerID = id
	r.bound = true
	r.mu.Unlock()
}

// Container reports the current binding.
func (r *Registry) Container() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containerID, r.bound
}

// Latched reports whether remote integration has latched off for this
// document.
func (r *Registry) Latched() bool {
	return r.latch.Off()
}

// FlushAll synchronously saves every pending edit.
func (r *Registry) FlushAll() {
	for _, c := range r.snapshot() {
		c.Flush()
	}
}

// Close flushes and shuts down every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, c := range r.snapshot() {
		c.Close()
	}
}

func (r *Registry) snapshot() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}
