package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/conversation"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/metrics"
	"github.com/xiaot623/prism/internal/policy"
	"github.com/xiaot623/prism/internal/repository"
	"github.com/xiaot623/prism/internal/summary"
)

type Service struct {
	store    repository.Store
	engine   *conversation.Engine
	pipeline *summary.Pipeline
	policy   *policy.Engine
	emitter  domain.Emitter
	metrics  *metrics.Metrics
	config   *config.Config
	log      logrus.FieldLogger
	now      func() time.Time

	turns      keyedMutex
	background sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store repository.Store, engine *conversation.Engine, pipeline *summary.Pipeline, policyEngine *policy.Engine, emitter domain.Emitter, cfg *config.Config, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		policy:   policyEngine,
		emitter:  emitter,
		config:   cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background summary runs have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// CreateSession starts a new session for the caller ending after the configured duration.
func (s *Service) CreateSession(ctx context.Context, id auth.Identity) (*domain.Session, error) {
	if _, err := s.activeUser(ctx, id); err != nil {
		return nil, err
	}
	start := s.now()
	session := &domain.Session{
		SessionID: uuid.New().String(),
		UserID:    id.UserID,
		Start:     start,
		End:       start.Add(s.config.SessionDuration),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.WithFields(logrus.Fields{"session_id": session.SessionID, "user_id": id.UserID}).Info("session created")
	return session, nil
}

// AuthorizeSession loads the session and checks the access policy for the caller.
func (s *Service) AuthorizeSession(ctx context.Context, id auth.Identity, sessionID string) (*domain.Session, error) {
	user, err := s.store.GetUser(ctx, id.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	decision, err := s.policy.Evaluate(ctx, policy.Input{
		User:    policy.UserInput{ID: user.UserID, Active: user.IsActive},
		Session: policy.SessionInput{ID: session.SessionID, UserID: session.UserID},
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		return nil, fmt.Errorf("%w: %s", domain.ErrForbidden, strings.Join(decision.Reasons, ", "))
	}
	return session, nil
}

func (s *Service) activeUser(ctx context.Context, id auth.Identity) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, id.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user is not active", domain.ErrForbidden)
	}
	return user, nil
}

// SessionInfo returns timing and status of a session owned by the caller.
func (s *Service) SessionInfo(ctx context.Context, id auth.Identity, sessionID string) (domain.SessionInfo, error) {
	session, err := s.AuthorizeSession(ctx, id, sessionID)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return session.Info(), nil
}

// Status returns the three status flags of a session owned by the caller.
func (s *Service) Status(ctx context.Context, id auth.Identity, sessionID string) (domain.SessionStatus, error) {
	info, err := s.SessionInfo(ctx, id, sessionID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	return info.SessionStatus, nil
}

// UserSessions lists the caller's sessions ordered by start time.
func (s *Service) UserSessions(ctx context.Context, id auth.Identity) ([]domain.SessionInfo, error) {
	if _, err := s.activeUser(ctx, id); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListUserSessions(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	infos := make([]domain.SessionInfo, 0, len(sessions))
	for i := range sessions {
		infos = append(infos, sessions[i].Info())
	}
	return infos, nil
}

// LatestArtifacts returns the summary artifacts of a session owned by the caller.
func (s *Service) LatestArtifacts(ctx context.Context, id auth.Identity, sessionID string) (domain.SessionArtifacts, error) {
	session, err := s.AuthorizeSession(ctx, id, sessionID)
	if err != nil {
		return domain.SessionArtifacts{}, err
	}
	return session.Artifacts(), nil
}

// LatestProfile returns the caller's psychometric profile.
func (s *Service) LatestProfile(ctx context.Context, id auth.Identity) (*domain.PsychometricProfile, error) {
	if _, err := s.activeUser(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetProfile(ctx, id.UserID)
}

// History returns the transcript of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return s.store.GetMessages(ctx, sessionID)
}
