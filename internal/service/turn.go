package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/conversation"
	"github.com/xiaot623/prism/internal/domain"
)

// TurnResult is the outcome of one accepted user message.
type TurnResult struct {
	Reply domain.Message
	Info  domain.SessionInfo
}

// Turn records the user's text, obtains the counselor reply and records it.
// Turns of one session run one at a time. A session at or past its end time
// rejects the turn with domain.ErrSessionExpired and nothing is persisted.
func (s *Service) Turn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is empty", domain.ErrInvalidInput)
	}

	unlock, err := s.turns.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.log.WithField("session_id", sessionID)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if session.Expired(now) {
		s.metrics.Turn("expired")
		return nil, domain.ErrSessionExpired
	}

	userName, psychSummary := s.turnContext(ctx, session.UserID, log)

	userMsg := domain.Message{Role: domain.RoleUser, Content: text, Timestamp: now}
	if err := s.store.AppendMessage(ctx, sessionID, &userMsg); err != nil {
		s.metrics.Turn("error")
		return nil, fmt.Errorf("append user message: %w", err)
	}

	transcript, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		s.metrics.Turn("error")
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	reply, err := s.engine.Reply(ctx, conversation.Turn{
		Session:      session,
		UserName:     userName,
		PsychSummary: psychSummary,
		Transcript:   transcript,
	})
	if err != nil {
		s.metrics.Turn("error")
		log.WithError(err).Error("conversation reply failed")
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, sessionID, &reply); err != nil {
		s.metrics.Turn("error")
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	s.metrics.Turn("ok")
	log.WithFields(logrus.Fields{
		"seq":       reply.Seq,
		"remaining": session.Remaining(now).Round(time.Second).String(),
	}).Debug("turn completed")
	return &TurnResult{Reply: reply, Info: session.Info()}, nil
}

// turnContext resolves the display name and latest narrative summary of the user.
// Missing rows fall back to the defaults of a first session.
func (s *Service) turnContext(ctx context.Context, userID string, log logrus.FieldLogger) (string, *string) {
	var name string
	user, err := s.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		name = user.DisplayName()
	case !errors.Is(err, domain.ErrUserNotFound):
		log.WithError(err).Warn("failed to load user for turn")
	}

	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		return name, profile.Summary
	case !errors.Is(err, domain.ErrProfileNotFound):
		log.WithError(err).Warn("failed to load profile for turn")
	}
	return name, nil
}
