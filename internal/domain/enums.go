// Package domain defines the core domain models for the session service.
package domain

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// SummaryState is the pipeline state derived from the session status flags.
type SummaryState string

const (
	SummaryStateNotStarted SummaryState = "NOT_STARTED"
	SummaryStateStarted    SummaryState = "STARTED"
	SummaryStateCompleted  SummaryState = "COMPLETED"
)

// EventType is the type of an event pushed to a session room.
type EventType string

const (
	EventProfileSummaryComplete EventType = "profile_summary_complete"
	EventSessionSummaryComplete EventType = "session_summary_complete"
	EventSessionScoresComplete  EventType = "session_scores_complete"
	EventSummaryComplete        EventType = "summary_complete"
	EventSummaryError           EventType = "summary_error"
	EventSessionEnded           EventType = "session_ended"
)
