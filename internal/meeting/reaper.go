package meeting

import (
	"context"
	"time"
)

const reaperInterval = time.Minute

// StartReaper launches the background worker that finalizes abandoned
// meetings and purges expired archive rows. It returns immediately; the
// worker runs until ctx is cancelled.
func (m *Manager) StartReaper(ctx context.Context) {
	go func() {
		m.logger.Info("meeting reaper started",
			"interval", reaperInterval,
			"idle_ttl", m.cfg.IdleTTL,
			"archive_retention", m.cfg.ArchiveRetention)
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("meeting reaper shutting down")
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// sweep finalizes every meeting idle past the TTL, then applies archive
// retention.
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, mtg := range m.meetings {
		if mtg.idleFor(now) >= m.cfg.IdleTTL {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.logger.Info("finalizing idle meeting", "meeting_id", id, "idle_ttl", m.cfg.IdleTTL)
		reapCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if _, err := m.FinalizeMeeting(reapCtx, id); err != nil {
			m.logger.Error("idle meeting finalize failed", "meeting_id", id, "error", err)
		}
		cancel()
	}

	if m.cfg.ArchiveRetention > 0 {
		purged, err := m.cfg.Store.PurgeMeetings(ctx, m.cfg.ArchiveRetention)
		if err != nil {
			m.logger.Error("archive purge failed", "error", err)
		} else if purged > 0 {
			m.logger.Info("archive purged", "meetings", purged)
		}
	}
}
