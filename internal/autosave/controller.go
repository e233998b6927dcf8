// Package autosave reconciles local fragment edits against the remote
// versioned store. One Controller owns one fragment: it coalesces edits,
// creates the fragment on first save, performs version-conditional
// updates, and runs the single recovery round on version conflicts.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/internal/remote"
	"github.com/quirelabs/quire/pkg/pace"
)

const saveTimeout = 15 * time.Second

// Saver is the slice of the remote client the controller depends on.
type Saver interface {
	CreateFragment(ctx context.Context, containerID int64, content string, pos domain.FragmentPosition) (domain.FragmentRef, error)
	ReadFragment(ctx context.Context, id int64) (domain.FragmentState, error)
	UpdateFragment(ctx context.Context, id int64, content string, expectedVersion int64) (int64, error)
}

// Latch is the one-way remote-unavailable switch shared by every fragment
// controller of a document. Once tripped it never resets for the life of
// the document session.
type Latch struct {
	off atomic.Bool
}

// Trip latches remote integration off. Returns true only for the caller
// that flipped it, so the user notice fires exactly once.
func (l *Latch) Trip() bool {
	return l.off.CompareAndSwap(false, true)
}

// Off reports whether the latch has tripped.
func (l *Latch) Off() bool {
	return l.off.Load()
}

// Config wires a Controller to its fragment.
type Config struct {
	DocID       string
	FragmentKey string
	Position    domain.FragmentPosition

	// Saver is nil for local-only documents; such controllers accept
	// edits but never touch the network.
	Saver Saver
	// Container reports the document's bound container at save time.
	Container func() (int64, bool)
	// Latch is shared across the document's controllers. Required when
	// Saver is set.
	Latch *Latch

	Events *bus.Events
	Logger *slog.Logger

	DebounceWait time.Duration
	SaveThrottle time.Duration
	StatusRevert time.Duration
}

// Controller runs the autosave pipeline for one fragment.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	fragID  int64
	hasFrag bool
	version int64
	latest  string
	dirty   bool // latest not yet handed to the debouncer
	closed  bool

	statusSeq uint64 // invalidates stale status reverts

	gate     *pace.Throttle
	debounce *pace.Debouncer[string]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller; edits flow in through Change.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DebounceWait <= 0 {
		cfg.DebounceWait = 800 * time.Millisecond
	}
	if cfg.SaveThrottle <= 0 {
		cfg.SaveThrottle = 250 * time.Millisecond
	}
	if cfg.StatusRevert <= 0 {
		cfg.StatusRevert = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	c.debounce = pace.NewDebouncer(cfg.DebounceWait, c.save)
	c.gate = pace.NewThrottle(cfg.SaveThrottle, c.kick)
	return c
}

// Change records a new content state. Rapid changes collapse into one
// save carrying the latest content; the throttle caps how often a burst
// restarts the debounce clock.
func (c *Controller) Change(content string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.latest = content
	c.dirty = true
	c.mu.Unlock()

	c.gate.Call()
}

// kick hands the latest content to the debouncer. Runs on the throttle's
// leading and trailing edges only.
func (c *Controller) kick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	content := c.latest
	c.dirty = false
	c.mu.Unlock()

	c.debounce.Call(content)
}

// Flush synchronously saves any pending edit. Teardown paths call it so
// the last edit is not lost to a cancelled timer. Content held up inside
// the throttle window is handed over first.
func (c *Controller) Flush() {
	c.gate.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	dirty := c.dirty
	content := c.latest
	c.dirty = false
	c.mu.Unlock()

	if dirty {
		c.debounce.Call(content)
	}
	c.debounce.Flush()
}

// Close flushes pending work and releases timers. In-flight requests are
// cancelled after the flush completes.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Flush()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.gate.Stop()
	c.debounce.Stop()
	c.cancel()
}

// Snapshot reports the controller's view of the fragment for inspection
// endpoints and tests.
func (c *Controller) Snapshot() (fragID int64, version int64, hasFrag bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragID, c.version, c.hasFrag
}

// save is the debounced save attempt. The fragment version is read
// synchronously here; a second attempt racing a still-pending one will
// hit a version conflict and recover, which is the accepted trade-off
// instead of queuing.
func (c *Controller) save(content string) {
	if c.cfg.Saver == nil {
		return
	}
	if c.cfg.Latch != nil && c.cfg.Latch.Off() {
		return
	}

	c.mu.Lock()
	hasFrag, fragID, version := c.hasFrag, c.fragID, c.version
	c.mu.Unlock()

	containerID, bound := int64(0), false
	if c.cfg.Container != nil {
		containerID, bound = c.cfg.Container()
	}

	if !hasFrag && !bound {
		c.publish(domain.SaveNotReady, 0)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, saveTimeout)
	defer cancel()

	c.publish(domain.SaveInFlight, 0)

	if !hasFrag {
		c.create(ctx, containerID, content)
		return
	}
	c.update(ctx, fragID, version, content)
}

func (c *Controller) create(ctx context.Context, containerID int64, content string) {
	ref, err := c.cfg.Saver.CreateFragment(ctx, containerID, content, c.cfg.Position)
	if err != nil {
		c.fail("create", err)
		return
	}

	c.mu.Lock()
	c.fragID = ref.ID
	c.hasFrag = true
	if ref.Version > c.version {
		c.version = ref.Version
	}
	c.mu.Unlock()

	c.publish(domain.SaveDone, ref.Version)
}

func (c *Controller) update(ctx context.Context, fragID, version int64, content string) {
	newVersion, err := c.cfg.Saver.UpdateFragment(ctx, fragID, content, version)
	if err == nil {
		c.adoptVersion(newVersion)
		c.publish(domain.SaveDone, newVersion)
		return
	}
	if remote.IsConflict(err) {
		c.recover(ctx, fragID, content)
		return
	}
	c.fail("update", err)
}

// recover performs the single recovery round: re-read the authoritative
// version, retry the conditional update once. A second conflict reports
// an error and stops; the next debounced edit retries naturally.
func (c *Controller) recover(ctx context.Context, fragID int64, content string) {
	state, err := c.cfg.Saver.ReadFragment(ctx, fragID)
	if err != nil {
		c.fail("recovery read", err)
		return
	}
	c.adoptVersion(state.Version)

	newVersion, err := c.cfg.Saver.UpdateFragment(ctx, fragID, content, state.Version)
	if err != nil {
		c.fail("recovery retry", err)
		return
	}
	c.adoptVersion(newVersion)
	c.publish(domain.SaveDone, newVersion)
}

// adoptVersion trusts a version returned by the server. Completions can
// arrive out of order, so only a newer value replaces the stored one.
func (c *Controller) adoptVersion(v int64) {
	c.mu.Lock()
	if v > c.version {
		c.version = v
	}
	c.mu.Unlock()
}

func (c *Controller) fail(op string, err error) {
	if remote.IsGone(err) && c.cfg.Latch != nil {
		if c.cfg.Latch.Trip() {
			c.logger.Warn("remote store gone, latching document to local-only",
				"doc_id", c.cfg.DocID,
				"fragment", c.cfg.FragmentKey,
				"error", err)
			if c.cfg.Events != nil {
				c.cfg.Events.Notice.Publish(domain.Notice{
					DocID:   c.cfg.DocID,
					Kind:    domain.NoticeRemoteSaveUnavailable,
					Message: "Remote save is unavailable; changes stay on this device.",
				})
			}
		}
		c.publish(domain.SaveFailed, 0)
		return
	}

	c.logger.Warn("save attempt failed",
		"doc_id", c.cfg.DocID,
		"fragment", c.cfg.FragmentKey,
		"op", op,
		"error", err)
	c.publish(domain.SaveFailed, 0)
}

// publish emits a save status event. Done and failed statuses revert to
// idle after the display window unless a newer status supersedes them.
func (c *Controller) publish(state domain.SaveState, version int64) {
	if c.cfg.Events == nil {
		return
	}

	c.mu.Lock()
	c.statusSeq++
	seq := c.statusSeq
	c.mu.Unlock()

	c.cfg.Events.SaveStatus.Publish(domain.SaveStatus{
		DocID:       c.cfg.DocID,
		FragmentKey: c.cfg.FragmentKey,
		State:       state,
		Version:     version,
	})

	if state != domain.SaveDone && state != domain.SaveFailed {
		return
	}
	time.AfterFunc(c.cfg.StatusRevert, func() {
		c.mu.Lock()
		stale := c.statusSeq != seq || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		c.cfg.Events.SaveStatus.Publish(domain.SaveStatus{
			DocID:       c.cfg.DocID,
			FragmentKey: c.cfg.FragmentKey,
			State:       domain.SaveIdle,
		})
	})
}
