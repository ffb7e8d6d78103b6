package domain

import (
	"encoding/json"
	"time"
)

// Session represents one time-boxed conversation between a user and the counselor persona.
type Session struct {
	SessionID      string          `json:"session_uuid"`
	UserID         string          `json:"user_id"`
	Start          time.Time       `json:"session_start"`
	End            time.Time       `json:"session_end"`
	Summary        *string         `json:"session_summary"`
	Analysis       *string         `json:"session_analysis"`
	Scores         json.RawMessage `json:"session_scores"`
	Ended          bool            `json:"ended"`
	SummaryStarted bool            `json:"summary_started"`
	Summarized     bool            `json:"summarized"`
}

// Remaining returns the time left until the session end, negative once it has passed.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.End.Sub(now)
}

// Expired reports whether no further turns may be taken at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.End.After(now)
}

// SummaryState derives the pipeline state from the status flags.
func (s *Session) SummaryState() SummaryState {
	switch {
	case s.Summarized:
		return SummaryStateCompleted
	case s.SummaryStarted:
		return SummaryStateStarted
	default:
		return SummaryStateNotStarted
	}
}

// Info returns the timing and status view of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		SessionID: s.SessionID,
		Start:     s.Start,
		End:       s.End,
		SessionStatus: SessionStatus{
			Ended:          s.Ended,
			SummaryStarted: s.SummaryStarted,
			Summarized:     s.Summarized,
		},
	}
}

// Artifacts returns the generated summary, analysis and scores.
func (s *Session) Artifacts() SessionArtifacts {
	return SessionArtifacts{
		Summary:  s.Summary,
		Analysis: s.Analysis,
		Scores:   s.Scores,
	}
}

// SessionStatus holds the three independent status flags.
type SessionStatus struct {
	Ended          bool `json:"ended"`
	SummaryStarted bool `json:"summary_started"`
	Summarized     bool `json:"summarized"`
}

// SessionInfo is the session timing plus status snapshot sent to clients.
type SessionInfo struct {
	SessionID string    `json:"session_uuid"`
	Start     time.Time `json:"session_start"`
	End       time.Time `json:"session_end"`
	SessionStatus
}

// SessionArtifacts are the outputs of the summary pipeline.
type SessionArtifacts struct {
	Summary  *string         `json:"session_summary"`
	Analysis *string         `json:"session_analysis"`
	Scores   json.RawMessage `json:"session_scores"`
}

// Message is a single transcript entry.
type Message struct {
	Seq       int64     `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SameAs reports whether m duplicates other: role, content and timestamp all match.
func (m Message) SameAs(other Message) bool {
	return m.Role == other.Role && m.Content == other.Content && m.Timestamp.Equal(other.Timestamp)
}
