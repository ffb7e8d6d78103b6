// Package conversation assembles the counselor prompt for a turn and obtains the reply.
package conversation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/prompt"
)

const (
	wrapUpWindow   = 120 * time.Second
	concludeWindow = 30 * time.Second
)

// Phase is the time-based steering applied to a turn.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseWrapUp
	PhaseConclude
)

// PhaseAt returns the phase for the given time remaining until the session end.
// Remaining time at or below 30s (including negative) concludes; below 120s wraps up.
func PhaseAt(remaining time.Duration) Phase {
	switch {
	case remaining <= concludeWindow:
		return PhaseConclude
	case remaining < wrapUpWindow:
		return PhaseWrapUp
	default:
		return PhaseOpen
	}
}

// Turn is the input of one reply.
type Turn struct {
	Session      *domain.Session
	UserName     string
	PsychSummary *string
	Transcript   []domain.Message
}

// Engine builds prompts and calls the completion client.
type Engine struct {
	client  llm.Client
	prompts *prompt.Catalog
	model   string
	now     func() time.Time
	log     logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for the time addenda.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new conversation engine.
func NewEngine(client llm.Client, prompts *prompt.Catalog, model string, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		prompts: prompts,
		model:   model,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildMessages returns the full prompt stack for the turn as of now.
func (e *Engine) BuildMessages(t Turn) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(t.Transcript)+1)
	messages = append(messages, llm.ChatMessage{
		Role:    string(domain.RoleSystem),
		Content: e.systemPrompt(t.UserName, t.PsychSummary),
	})

	lastUser := -1
	for _, m := range t.Transcript {
		if m.Role == domain.RoleUser {
			lastUser = len(messages)
		}
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	if lastUser < 0 {
		return messages
	}

	content := messages[lastUser].Content + "\n\n" + e.prompts.Engagement
	switch PhaseAt(t.Session.Remaining(e.now())) {
	case PhaseWrapUp:
		content += "\n\n" + e.prompts.WrapUp
	case PhaseConclude:
		content += "\n\n" + e.prompts.Conclude
	}
	messages[lastUser].Content = content
	return messages
}

func (e *Engine) systemPrompt(name string, summary *string) string {
	if name == "" {
		name = "Unknown User"
	}
	preamble := "userPsych.txt===\nThe user's name is: " + name + "\n"
	if summary != nil && *summary != "" {
		preamble += "Their psychSummary is as follows:\n" + *summary
	} else {
		preamble += "This is their first session, so we don't have any additional information about them."
	}
	return e.prompts.Persona + "\n\n" + preamble + "\n\nProceed with the session."
}

// Reply produces the assistant message for the turn. Completion errors are returned as is.
func (e *Engine) Reply(ctx context.Context, t Turn) (domain.Message, error) {
	msg, usage, err := llm.Complete(ctx, e.client, e.model, e.BuildMessages(t))
	if err != nil {
		return domain.Message{}, err
	}
	if usage != nil {
		e.log.WithFields(logrus.Fields{
			"session_id":        t.Session.SessionID,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
		}).Debug("conversation reply generated")
	}
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   msg.Content,
		Timestamp: e.now(),
	}, nil
}
