package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/prism/internal/domain"
)

func TestClientCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "sk-test", time.Second)
	msg, usage, err := Complete(context.Background(), client, "gpt", []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "hi", msg.Content)
	require.NotNil(t, usage)
	assert.Equal(t, 3, usage.TotalTokens)
}

func TestClientCreateChatCompletionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, _, err := Complete(context.Background(), client, "gpt", []ChatMessage{{Role: "user", Content: "hello"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamCompletion)
	assert.Contains(t, err.Error(), "bad")
}

func TestCompleteWithoutChoices(t *testing.T) {
	client := ClientFunc(func(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return &ChatCompletionResponse{}, nil
	})
	_, _, err := Complete(context.Background(), client, "gpt", nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamCompletion)
}

func TestObserveReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	var seen []error
	client := Observe(ClientFunc(func(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return nil, boom
	}), func(d time.Duration, err error) {
		seen = append(seen, err)
	})

	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{})
	assert.ErrorIs(t, err, boom)
	require.Len(t, seen, 1)
	assert.ErrorIs(t, seen[0], boom)
}

func TestMockClientStructuredDocuments(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	msg, _, err := Complete(ctx, m, "mock", []ChatMessage{{Role: "user", Content: `return {"profile":{"emotionalState":{}}}`}})
	require.NoError(t, err)
	var profile domain.ProfileDocument
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &profile))
	assert.NoError(t, profile.Validate())

	msg, _, err = Complete(ctx, m, "mock", []ChatMessage{{Role: "user", Content: `return {"sessionDetails":{}}`}})
	require.NoError(t, err)
	var scores domain.ScoresDocument
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &scores))
	assert.NoError(t, scores.Validate())

	msg, _, err = Complete(ctx, m, "mock", []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "hello")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	short := strings.Repeat("é", 60)
	assert.Equal(t, short, truncate(short, 100))

	long := strings.Repeat("я", 99) + "日本語"
	got := truncate(long, 100)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("я", 99)+"日...", got)

	msg, _, err := Complete(context.Background(), NewMockClient(), "mock", []ChatMessage{{Role: "user", Content: strings.Repeat("ü", 150)}})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(msg.Content))
	assert.Contains(t, msg.Content, strings.Repeat("ü", 100)+"...")
}
