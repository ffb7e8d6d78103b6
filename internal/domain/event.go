package domain

// Event is a notification pushed to every participant of a session room.
type Event struct {
	Type      EventType
	SessionID string
	UserID    string
	Message   string
	// Artifacts is set on session_scores_complete.
	Artifacts *SessionArtifacts
}

// Emitter delivers session events.
type Emitter interface {
	Emit(evt Event)
}

// Emitters fans an event out to several emitters in order.
type Emitters []Emitter

func (es Emitters) Emit(evt Event) {
	for _, e := range es {
		if e != nil {
			e.Emit(evt)
		}
	}
}
