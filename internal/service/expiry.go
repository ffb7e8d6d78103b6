package service

import (
	"context"
	"time"
)

const expirySweepBatch = 100

// RunExpiryMonitor periodically ends sessions whose end time has passed and,
// with auto-summarize enabled, triggers their summary.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	interval := s.config.ExpirySweep
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredSessions(ctx)
		}
	}
}

func (s *Service) sweepExpiredSessions(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	expired, err := s.store.ListExpiredSessions(sweepCtx, s.now(), expirySweepBatch)
	if err != nil {
		s.log.WithError(err).Warn("session expiry sweep failed")
		return
	}

	for i := range expired {
		session := &expired[i]
		updated, err := s.store.MarkEnded(sweepCtx, session.SessionID)
		if err != nil {
			s.log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to mark session ended")
			continue
		}
		if !updated {
			continue
		}
		s.announceEnded(session)

		if s.config.AutoSummarize && !session.SummaryStarted {
			if _, err := s.TriggerSummary(sweepCtx, session.SessionID); err != nil {
				s.log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to trigger summary")
			}
		}
	}
}
