package summary

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/domain"
)

// nothingNew labels a local cycle that found no segments to summarize.
// History always gains an entry per local cycle, labelled or not.
const nothingNew = "(nothing new since last summary)"

// placeholderText is shown only while no summary has ever been produced.
const placeholderText = "Summary temporarily unavailable."

// LiveSource fetches the backend's live summary for a container.
// *remote.Client satisfies it.
type LiveSource interface {
	FetchLiveSummary(ctx context.Context, containerID int64) (string, error)
}

// PollerConfig wires a Poller to its meeting.
type PollerConfig struct {
	MeetingID string
	Interval  time.Duration

	// Source is the remote summary backend, nil when the engine has none.
	Source LiveSource
	// Container reports the bound container at poll time. Remote mode is
	// entered only while it reports true.
	Container func() (int64, bool)
	// Segments returns the capture session's utterance snapshot.
	Segments func() []domain.UtteranceSegment

	Events *bus.Events
	Logger *slog.Logger
}

// Poller periodically produces live summary snapshots for one meeting.
// While a container is bound it asks the backend; otherwise it runs the
// local extractive summarizer over the segments accumulated since the
// previous local cycle. History is in-memory only.
type Poller struct {
	cfg    PollerConfig
	logger *slog.Logger

	mu              sync.Mutex
	history         []domain.SummarySnapshot
	boundary        int
	placeholderSent bool
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewPoller creates a poller; call Start to begin polling.
func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Minute
	}
	return &Poller{cfg: cfg, logger: logger}
}

// Start begins the polling loop: one immediate cycle, then one per
// interval. Restarting after Stop begins with an immediate cycle again,
// which is what resume wants.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.run(ctx, done)
}

// Stop halts polling and waits for the in-flight cycle to finish. Safe to
// call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.PollOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single summary cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	if id, ok := p.boundContainer(); ok {
		p.pollRemote(ctx, id)
		return
	}
	p.pollLocal()
}

func (p *Poller) boundContainer() (int64, bool) {
	if p.cfg.Source == nil || p.cfg.Container == nil {
		return 0, false
	}
	return p.cfg.Container()
}

func (p *Poller) pollRemote(ctx context.Context, containerID int64) {
	text, err := p.cfg.Source.FetchLiveSummary(ctx, containerID)
	if err != nil {
		p.logger.Warn("live summary fetch failed",
			"meeting_id", p.cfg.MeetingID,
			"container_id", containerID,
			"error", err)
		p.reportFetchFailure()
		return
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		p.reportFetchFailure()
		return
	}

	p.mu.Lock()
	if n := len(p.history); n > 0 && p.history[n-1].Text == trimmed {
		// Unchanged since the last snapshot; do not duplicate history.
		p.mu.Unlock()
		return
	}
	snap := domain.SummarySnapshot{ProducedAt: time.Now(), Text: trimmed}
	p.history = append(p.history, snap)
	p.mu.Unlock()

	p.publish(snap)
}

// reportFetchFailure leaves existing history untouched. Only a meeting
// that has never seen a summary gets a one-time placeholder, so the UI is
// not left blank.
func (p *Poller) reportFetchFailure() {
	p.mu.Lock()
	needPlaceholder := len(p.history) == 0 && !p.placeholderSent
	if needPlaceholder {
		p.placeholderSent = true
	}
	p.mu.Unlock()

	if !needPlaceholder {
		return
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Summary.Publish(domain.SummaryEvent{
			MeetingID: p.cfg.MeetingID,
			Snapshot:  domain.SummarySnapshot{ProducedAt: time.Now(), Text: placeholderText, Local: true},
		})
		p.cfg.Events.Notice.Publish(domain.Notice{
			MeetingID: p.cfg.MeetingID,
			Kind:      domain.NoticeSummaryUnavailable,
			Message:   placeholderText,
		})
	}
}

func (p *Poller) pollLocal() {
	var segs []domain.UtteranceSegment
	if p.cfg.Segments != nil {
		segs = p.cfg.Segments()
	}

	p.mu.Lock()
	fresh := segs[min(p.boundary, len(segs)):]
	p.boundary = len(segs)

	text := nothingNew
	if len(fresh) > 0 {
		parts := make([]string, len(fresh))
		for i, seg := range fresh {
			parts[i] = seg.Text
		}
		if lines := Extract(strings.Join(parts, "\n"), Options{}); len(lines) > 0 {
			text = Render(lines)
		}
	}

	snap := domain.SummarySnapshot{ProducedAt: time.Now(), Text: text, Local: true}
	p.history = append(p.history, snap)
	p.mu.Unlock()

	p.publish(snap)
}

func (p *Poller) publish(snap domain.SummarySnapshot) {
	if p.cfg.Events == nil {
		return
	}
	p.cfg.Events.Summary.Publish(domain.SummaryEvent{MeetingID: p.cfg.MeetingID, Snapshot: snap})
}

// History returns a copy of the snapshot history in production order.
func (p *Poller) History() []domain.SummarySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SummarySnapshot, len(p.history))
	copy(out, p.history)
	return out
}

// LastMeaningful returns the most recent snapshot that carries an actual
// summary, skipping nothing-new labels. The finalizer uses it to decide
// whether a local summary still needs to be computed.
func (p *Poller) LastMeaningful() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Text != nothingNew {
			return p.history[i].Text, true
		}
	}
	return "", false
}
