// Package policy evaluates session access rules with OPA.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the access policy for evaluation.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.prism.session_access"),
		rego.Module("session_access.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// UserInput describes the caller.
type UserInput struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// SessionInput describes the session being accessed.
type SessionInput struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// Input is the document the policy is evaluated against.
type Input struct {
	User    UserInput    `json:"user"`
	Session SessionInput `json:"session"`
}

// Decision is the policy outcome. Reasons explain a denial.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Evaluate checks whether the user may access the session.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reasons: []string{"no policy result"}}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Reasons: []string{"unexpected policy result"}}, nil
	}

	var d Decision
	d.Allow, _ = doc["allow"].(bool)
	if reasons, ok := doc["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
		sort.Strings(d.Reasons)
	}
	return d, nil
}

// DefaultPolicy allows active users to access their own sessions.
const DefaultPolicy = `
package prism.session_access

import rego.v1

default allow := false

allow if {
	input.user.active
	input.session.user_id == input.user.id
}

reasons contains "user is not active" if {
	not input.user.active
}

reasons contains "session belongs to another user" if {
	input.session.user_id != input.user.id
}
`
