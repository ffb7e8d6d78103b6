package summary

import (
	"strings"

	"github.com/xiaot623/prism/internal/domain"
)

// Line is a transcript entry labelled for the analysis prompts.
type Line struct {
	Role    string
	Content string
}

// FilterTranscript drops messages carrying one of the steering instructions and
// labels the rest as Psychologist (assistant) or Patient (anything else).
func FilterTranscript(messages []domain.Message, instructions ...string) []Line {
	lines := make([]Line, 0, len(messages))
	for _, m := range messages {
		if containsAny(m.Content, instructions) {
			continue
		}
		role := "Patient"
		if m.Role == domain.RoleAssistant {
			role = "Psychologist"
		}
		lines = append(lines, Line{Role: role, Content: m.Content})
	}
	return lines
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RenderTranscript serializes lines as {role: "X", content: "..."} records with quotes escaped.
func RenderTranscript(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(`{role: "`)
		b.WriteString(l.Role)
		b.WriteString(`", content: "`)
		b.WriteString(strings.ReplaceAll(l.Content, `"`, `\"`))
		b.WriteString(`"}`)
	}
	return b.String()
}
