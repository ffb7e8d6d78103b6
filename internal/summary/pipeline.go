// Package summary turns a finished session transcript into profile, summary, analysis and scores.
package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/prompt"
	"github.com/xiaot623/prism/internal/repository"
)

// Observer receives pipeline measurements.
type Observer interface {
	StructuredAttempt(stage, result string)
	PipelineRun(result string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) StructuredAttempt(string, string) {}
func (nopObserver) PipelineRun(string, time.Duration) {}

// Pipeline runs the summary stages for one session at a time per session id.
type Pipeline struct {
	sessions repository.SessionStore
	profiles repository.ProfileStore
	client   llm.Client
	prompts  *prompt.Catalog
	model    string
	emitter  domain.Emitter
	observer Observer
	log      logrus.FieldLogger

	inflight singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates a summary pipeline.
func New(sessions repository.SessionStore, profiles repository.ProfileStore, client llm.Client, prompts *prompt.Catalog, model string, emitter domain.Emitter, log logrus.FieldLogger, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions: sessions,
		profiles: profiles,
		client:   client,
		prompts:  prompts,
		model:    model,
		emitter:  emitter,
		observer: nopObserver{},
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run claims the session and executes every stage. It reports whether a run took
// place; concurrent calls for the same session share one result, and a session
// already claimed elsewhere returns (false, nil).
// On any failure after the claim, the claim is released, summary_error is emitted
// and the error returned.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (bool, error) {
	v, err, _ := p.inflight.Do(sessionID, func() (interface{}, error) {
		claimed, err := p.sessions.ClaimSummary(ctx, sessionID)
		if err != nil {
			return false, fmt.Errorf("claim summary: %w", err)
		}
		if !claimed {
			p.log.WithField("session_id", sessionID).Debug("summary already started, skipping")
			return false, nil
		}
		return true, p.RunClaimed(ctx, sessionID)
	})
	ran, _ := v.(bool)
	return ran, err
}

// RunClaimed executes every stage for a session whose summary claim the caller
// already holds. The claim is released on failure.
func (p *Pipeline) RunClaimed(ctx context.Context, sessionID string) error {
	log := p.log.WithField("session_id", sessionID)
	start := time.Now()
	log.Info("summary process starting")

	session, err := p.sessions.GetSession(ctx, sessionID)
	if err == nil {
		err = p.stages(ctx, session, log)
	}
	if err == nil {
		if merr := p.sessions.MarkSummarized(ctx, sessionID); merr != nil {
			err = fmt.Errorf("mark summarized: %w", merr)
		}
	}
	if err != nil {
		p.fail(sessionID, err, time.Since(start), log)
		return err
	}

	p.observer.PipelineRun("completed", time.Since(start))
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("summary process completed")
	p.emit(domain.Event{Type: domain.EventSummaryComplete, SessionID: sessionID, UserID: session.UserID, Message: "Full summary process completed"})
	return nil
}

// fail releases the claim so the session can be summarized again and reports the error.
func (p *Pipeline) fail(sessionID string, err error, elapsed time.Duration, log logrus.FieldLogger) {
	p.observer.PipelineRun("error", elapsed)
	log.WithError(err).Error("summary process failed")
	// The claim must be released even when the caller's context is gone.
	if rerr := p.sessions.ReleaseSummary(context.Background(), sessionID); rerr != nil {
		log.WithError(rerr).Error("failed to reset summary_started")
	}
	p.emit(domain.Event{Type: domain.EventSummaryError, SessionID: sessionID, Message: "Error occurred during summary process"})
}

func (p *Pipeline) stages(ctx context.Context, session *domain.Session, log logrus.FieldLogger) error {
	messages, err := p.sessions.GetMessages(ctx, session.SessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	transcript := RenderTranscript(FilterTranscript(messages, p.prompts.WrapUp, p.prompts.Conclude))

	if err := p.updateProfile(ctx, session, transcript); err != nil {
		return fmt.Errorf("profile stage: %w", err)
	}
	log.Debug("profile stage done")

	summary, err := p.sessionSummary(ctx, session, transcript)
	if err != nil {
		return fmt.Errorf("summary stage: %w", err)
	}
	log.Debug("summary stage done")

	analysis, err := p.sessionAnalysis(ctx, session, transcript)
	if err != nil {
		return fmt.Errorf("analysis stage: %w", err)
	}
	log.Debug("analysis stage done")

	if err := p.sessionScores(ctx, session, transcript, summary, analysis); err != nil {
		return fmt.Errorf("scores stage: %w", err)
	}
	log.Debug("scores stage done")
	return nil
}

func (p *Pipeline) updateProfile(ctx context.Context, session *domain.Session, transcript string) error {
	if err := p.profiles.EnsureProfile(ctx, session.UserID); err != nil {
		return err
	}
	if err := p.profiles.RotateProfile(ctx, session.UserID); err != nil {
		return err
	}

	narrative, err := p.complete(ctx, p.prompts.ProfileNarrative, transcript)
	if err != nil {
		return err
	}
	if err := p.profiles.SaveProfileSummary(ctx, session.UserID, narrative); err != nil {
		return err
	}

	doc, err := p.generateDocument(ctx, "profile", p.prompts.ProfileJSON, transcript, func() document {
		return &domain.ProfileDocument{}
	})
	if err != nil {
		return err
	}
	if err := p.profiles.SaveProfileJSON(ctx, session.UserID, doc); err != nil {
		return err
	}

	p.emit(domain.Event{Type: domain.EventProfileSummaryComplete, SessionID: session.SessionID, UserID: session.UserID, Message: "Profile summary updated"})
	return nil
}

func (p *Pipeline) sessionSummary(ctx context.Context, session *domain.Session, transcript string) (string, error) {
	summary, err := p.complete(ctx, p.prompts.SessionSummary, transcript)
	if err != nil {
		return "", err
	}
	if err := p.sessions.SaveSessionSummary(ctx, session.SessionID, summary); err != nil {
		return "", err
	}
	p.emit(domain.Event{Type: domain.EventSessionSummaryComplete, SessionID: session.SessionID, UserID: session.UserID, Message: "Session summary generated"})
	return summary, nil
}

func (p *Pipeline) sessionAnalysis(ctx context.Context, session *domain.Session, transcript string) (string, error) {
	profile, err := p.profiles.GetProfile(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	user := fmt.Sprintf("PROVIDED CHAT: %s, PROVIDED CURRENT PROFILE: %s, PROVIDED PREVIOUS PROFILE: %s. PROVIDE THE ANALYSIS.",
		transcript, orNull(profile.Summary), orNull(profile.PrevSummary))
	analysis, err := p.complete(ctx, p.prompts.SessionAnalysis, user)
	if err != nil {
		return "", err
	}
	if err := p.sessions.SaveSessionAnalysis(ctx, session.SessionID, analysis); err != nil {
		return "", err
	}
	return analysis, nil
}

func (p *Pipeline) sessionScores(ctx context.Context, session *domain.Session, transcript, summary, analysis string) error {
	user := fmt.Sprintf("PROVIDED CHAT: %s, PROVIDED SESSION SUMMARY: %s, PROVIDED SESSION ANALYSIS: %s. PROVIDE THE FULL JSON. ONLY JSON FORMAT ACCEPTED AS ASSISTANT RESPONSE. JSON PER THE SYSTEM MESSAGE REQUIREMENTS.",
		transcript, summary, analysis)
	scores, err := p.generateDocument(ctx, "scores", p.prompts.SessionScores, user, func() document {
		return &domain.ScoresDocument{}
	})
	if err != nil {
		return err
	}
	if err := p.sessions.SaveSessionScores(ctx, session.SessionID, scores); err != nil {
		return err
	}
	p.emit(domain.Event{
		Type:      domain.EventSessionScoresComplete,
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Message:   "Session scores generated",
		Artifacts: &domain.SessionArtifacts{Summary: &summary, Analysis: &analysis, Scores: scores},
	})
	return nil
}

func (p *Pipeline) emit(evt domain.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}

func (p *Pipeline) observeAttempt(stage, result string) {
	p.observer.StructuredAttempt(stage, result)
}

func orNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
