package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/domain"
)

// StartSummary ends the session and triggers its summary process.
// It reports whether a new run was launched; repeated calls are no-ops.
func (s *Service) StartSummary(ctx context.Context, sessionID string) (bool, error) {
	if err := s.EndSession(ctx, sessionID); err != nil {
		return false, err
	}
	return s.TriggerSummary(ctx, sessionID)
}

// TriggerSummary claims the session's summary and launches the pipeline on a
// detached context. It reports whether this call won the claim.
func (s *Service) TriggerSummary(ctx context.Context, sessionID string) (bool, error) {
	claimed, err := s.store.ClaimSummary(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Distinguish an unknown session from one already claimed.
		if _, err := s.store.GetSession(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}
	s.background.Go(func() {
		s.runSummary(sessionID)
	})
	return true, nil
}

func (s *Service) runSummary(sessionID string) {
	if err := s.pipeline.RunClaimed(context.Background(), sessionID); err != nil {
		s.log.WithField("session_id", sessionID).WithError(err).Error("summary run failed")
	}
}

// EndSession sets the ended flag and announces it to the room the first time.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	changed, err := s.store.MarkEnded(ctx, sessionID)
	if err != nil {
		return err
	}
	if changed {
		s.announceEnded(session)
	}
	return nil
}

func (s *Service) announceEnded(session *domain.Session) {
	s.metrics.SessionEnded()
	s.log.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"user_id":    session.UserID,
	}).Info("session ended")
	if s.emitter != nil {
		s.emitter.Emit(domain.Event{
			Type:      domain.EventSessionEnded,
			SessionID: session.SessionID,
			UserID:    session.UserID,
			Message:   "Chat session has ended",
		})
	}
}
