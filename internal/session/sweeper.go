package session

import (
	"context"
	"time"
)

// RunSweeper periodically scans for sessions whose in-flight utterance has
// made no observable progress for a full sweep interval and force-cancels
// them. This is the last line of defense against a wedged upstream stream
// holding a session hostage; the worker's own cleanup path then resets state
// and moves on to the next queued utterance.
//
// Blocks until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.sweep(now)
		}
	}
}

// sweep cancels every session stuck past the no-progress threshold.
func (o *Orchestrator) sweep(now time.Time) {
	o.mu.RLock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		stuck := s.processing && now.Sub(s.progressAt) > o.cfg.SweepInterval
		cancel := s.cancel
		id := s.ID
		idle := now.Sub(s.progressAt)
		s.mu.Unlock()

		if !stuck {
			continue
		}

		o.logger.Warn("force-resetting stuck session",
			"session_id", id, "no_progress_for", idle.Round(time.Second))
		if cancel != nil {
			cancel()
		}
	}
}
