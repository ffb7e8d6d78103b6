package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/domain"
)

// MaxStructuredAttempts bounds the completion calls made for one structured document.
const MaxStructuredAttempts = 5

// FailedDocument is persisted in place of a document that never validated.
var FailedDocument = json.RawMessage(`{"error":"Failed to generate valid JSON response after multiple attempts"}`)

var escapeStripper = strings.NewReplacer(`\n`, "", `\"`, `"`, `\t`, "", `\r`, "")

// CleanJSON extracts the object between the first '{' and the last '}' of a
// completion and strips literal escape sequences. It fails when no such pair exists.
func CleanJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found", domain.ErrMalformedStructuredOutput)
	}
	return strings.TrimSpace(escapeStripper.Replace(s[start : end+1])), nil
}

// document is a structured output that can check itself against its schema.
type document interface {
	Validate() error
}

// ParseDocument cleans, decodes and validates raw into doc, returning the compacted JSON.
func ParseDocument(raw string, doc document) (json.RawMessage, error) {
	cleaned, err := CleanJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cleaned), doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedStructuredOutput, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedStructuredOutput, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(cleaned)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedStructuredOutput, err)
	}
	return buf.Bytes(), nil
}

// generateDocument asks for a structured document up to MaxStructuredAttempts times.
// Malformed replies are retried; after the last attempt FailedDocument is returned with a nil error.
// Completion errors abort immediately.
func (p *Pipeline) generateDocument(ctx context.Context, stage, system, user string, newDoc func() document) (json.RawMessage, error) {
	log := p.log.WithField("stage", stage)
	for attempt := 1; attempt <= MaxStructuredAttempts; attempt++ {
		reply, err := p.complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		out, err := ParseDocument(reply, newDoc())
		if err == nil {
			p.observeAttempt(stage, "valid")
			return out, nil
		}
		if !errors.Is(err, domain.ErrMalformedStructuredOutput) {
			return nil, err
		}
		p.observeAttempt(stage, "malformed")
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     MaxStructuredAttempts,
		}).WithError(err).Warn("structured output rejected")
	}
	log.Error("structured output attempts exhausted, storing error marker")
	return FailedDocument, nil
}

func (p *Pipeline) complete(ctx context.Context, system, user string) (string, error) {
	msg, _, err := llm.Complete(ctx, p.client, p.model, []llm.ChatMessage{
		{Role: string(domain.RoleSystem), Content: system},
		{Role: string(domain.RoleUser), Content: user},
	})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}
