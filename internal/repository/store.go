// Package repository provides the persistence layer for sessions, transcripts, profiles and users.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xiaot623/prism/internal/domain"
)

// SessionStore persists sessions, their status flags, artifacts and transcripts.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error)
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error)

	// AppendMessage stores msg at the end of the transcript and sets msg.Seq.
	AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// ClaimSummary flips summary_started false->true and reports whether this call won.
	ClaimSummary(ctx context.Context, sessionID string) (bool, error)
	ReleaseSummary(ctx context.Context, sessionID string) error
	MarkSummarized(ctx context.Context, sessionID string) error
	// MarkEnded sets ended=true and reports whether the flag changed.
	MarkEnded(ctx context.Context, sessionID string) (bool, error)

	SaveSessionSummary(ctx context.Context, sessionID, summary string) error
	SaveSessionAnalysis(ctx context.Context, sessionID, analysis string) error
	SaveSessionScores(ctx context.Context, sessionID string, scores json.RawMessage) error
}

// ProfileStore persists the two-generation psychometric profile of each user.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID string) error
	// RotateProfile copies current values into the previous slots.
	RotateProfile(ctx context.Context, userID string) error
	GetProfile(ctx context.Context, userID string) (*domain.PsychometricProfile, error)
	SaveProfileSummary(ctx context.Context, userID, summary string) error
	SaveProfileJSON(ctx context.Context, userID string, profile json.RawMessage) error
}

// UserStore reads account rows; writes exist for seeding.
type UserStore interface {
	UpsertUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Store combines all persistence operations.
type Store interface {
	SessionStore
	ProfileStore
	UserStore
	Close() error
}

var _ Store = (*SQLStore)(nil)
