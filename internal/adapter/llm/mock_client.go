package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MockClient answers without a network call. Requests asking for the profile or
// scores JSON documents get a canned valid document so the pipeline can run end to end.
type MockClient struct{}

// NewMockClient creates a new mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	responseContent := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: responseContent,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(responseContent) / 4,
			TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
		},
	}, nil
}

func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var all strings.Builder
	for _, msg := range req.Messages {
		all.WriteString(msg.Content)
	}
	prompt := all.String()

	switch {
	case strings.Contains(prompt, `"sessionDetails"`):
		return mockScores
	case strings.Contains(prompt, `"emotionalState"`):
		return mockProfile
	}

	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}
	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the completion client."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// truncate keeps the first maxRunes runes of s.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}

const mockProfile = `{"profile":{"emotionalState":{"mood":{"value":"calm","intensity":4},"anxiety":3,"depression":2,"stress":4,"emotionalRegulation":6},"cognitivePatterns":{"negativeThoughts":{"frequency":3,"impact":3},"selfEsteem":6,"problemSolvingSkills":7,"cognitiveFlexibility":6,"attentionFocus":6},"behavioralTendencies":{"socialInteraction":5,"sleepQuality":6,"substanceUse":1,"selfCare":6,"productivity":6},"interpersonalDynamics":{"relationshipSatisfaction":6,"communicationSkills":7,"conflictResolution":5},"coreIssues":[{"issue":"work stress","severity":4}],"copingMechanisms":[{"mechanism":"walking","effectiveness":6}],"goals":[{"goal":"sleep earlier","progress":3}],"resilienceFactors":["supportive friends"],"progressNotes":"[MOCK] stable"}}`

const mockScores = `{"sessionSummary":"[MOCK] summary","sessionAnalysis":"[MOCK] analysis","sessionDetails":{"sessionDate":"2026-01-01","duration":15,"mainTopics":["stress"],"emotionalTone":"calm","keyInsights":["[MOCK]"],"interventionsUsed":["reflection"],"patientProgress":{"description":"[MOCK]","rating":6},"challengesIdentified":[],"goalsDiscussed":[],"planForNextSession":"[MOCK]","therapistNotes":"[MOCK]","riskAssessment":{"suicidalIdeation":0,"selfHarm":0,"overallRisk":"low"},"recommendedActions":[]}}`
