package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/conversation"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/hub"
	"github.com/xiaot623/prism/internal/logger"
	"github.com/xiaot623/prism/internal/policy"
	"github.com/xiaot623/prism/internal/prompt"
	"github.com/xiaot623/prism/internal/repository"
	"github.com/xiaot623/prism/internal/service"
	"github.com/xiaot623/prism/internal/summary"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service, *repository.SQLStore) {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	log := logger.Discard()
	h := hub.NewHub(log)
	client := llm.NewMockClient()
	prompts := prompt.Default()
	engine := conversation.NewEngine(client, prompts, "mock", log)
	pipeline := summary.New(store, store, client, prompts, "mock", h, log)
	svc := service.New(store, engine, pipeline, policyEngine, h, &config.Config{SessionDuration: 15 * time.Minute}, log)

	t.Cleanup(func() {
		svc.Wait()
		_ = store.Close()
	})

	for _, u := range []domain.User{
		{UserID: "u1", FullName: "Ada Lovelace", IsActive: true},
		{UserID: "u2", Username: "bob", IsActive: true},
		{UserID: "u3", Username: "gone", IsActive: false},
	} {
		if err := store.UpsertUser(ctx, &u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	return NewHandler(svc, h), svc, store
}

func newContext(e *echo.Echo, method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(identityKey, auth.Identity{UserID: userID})
	return c, rec
}

func createChat(t *testing.T, h *Handler, userID string) string {
	t.Helper()
	c, rec := newContext(echo.New(), http.MethodPost, "/api/create-chat", "", userID)
	if err := h.CreateChat(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["chatUuid"])
	return resp["chatUuid"]
}

func TestCreateChat(t *testing.T) {
	h, _, store := newTestHandler(t)
	id := createChat(t, h, "u1")

	session, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, 15*time.Minute, session.End.Sub(session.Start))
}

func TestCreateChatInactiveUser(t *testing.T) {
	h, _, _ := newTestHandler(t)
	c, rec := newContext(echo.New(), http.MethodPost, "/api/create-chat", "", "u3")
	if err := h.CreateChat(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetChatSessionInfo(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)
	id := createChat(t, h, "u1")

	c, rec := newContext(e, http.MethodGet, "/api/chat-session-info/"+id, "", "u1")
	c.SetParamNames("chatUuid")
	c.SetParamValues(id)
	if err := h.GetChatSessionInfo(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var info domain.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, id, info.SessionID)
	assert.False(t, info.Ended)
	assert.False(t, info.SummaryStarted)
	assert.False(t, info.Summarized)
}

func TestSessionAccessErrors(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)
	id := createChat(t, h, "u1")

	tests := []struct {
		name    string
		userID  string
		session string
		want    int
	}{
		{name: "other user", userID: "u2", session: id, want: http.StatusForbidden},
		{name: "unknown user", userID: "nobody", session: id, want: http.StatusForbidden},
		{name: "missing session", userID: "u1", session: "missing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(e, http.MethodGet, "/api/session-status/"+tt.session, "", tt.userID)
			c.SetParamNames("chatUuid")
			c.SetParamValues(tt.session)
			if err := h.GetSessionStatus(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestValidateChat(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)
	id := createChat(t, h, "u1")

	tests := []struct {
		name   string
		body   string
		userID string
		want   int
	}{
		{name: "owner", body: `{"chatUuid":"` + id + `"}`, userID: "u1", want: http.StatusOK},
		{name: "other user", body: `{"chatUuid":"` + id + `"}`, userID: "u2", want: http.StatusForbidden},
		{name: "missing id", body: `{}`, userID: "u1", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(e, http.MethodPost, "/api/validate-chat", tt.body, tt.userID)
			if err := h.ValidateChat(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestStartSummaryValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)
	c, rec := newContext(echo.New(), http.MethodPost, "/api/start-summary", `{}`, "u1")
	if err := h.StartSummary(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStartSummaryRunsPipelineOnce(t *testing.T) {
	e := echo.New()
	h, svc, store := newTestHandler(t)
	ctx := context.Background()
	id := createChat(t, h, "u1")

	if _, err := svc.Turn(ctx, id, "work has been stressful"); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}

	body := `{"chatUuid":"` + id + `"}`
	c, rec := newContext(e, http.MethodPost, "/api/start-summary", body, "u1")
	if err := h.StartSummary(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	svc.Wait()

	c, rec = newContext(e, http.MethodPost, "/api/start-summary", body, "u1")
	if err := h.StartSummary(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["started"])
	assert.Equal(t, "Summary process already started", resp["message"])

	session, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, session.Ended)
	assert.True(t, session.Summarized)

	c, rec = newContext(e, http.MethodGet, "/api/latest-session-info/"+id, "", "u1")
	c.SetParamNames("chatUuid")
	c.SetParamValues(id)
	if err := h.GetLatestSessionInfo(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var artifacts map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	assert.NotEqual(t, "null", string(artifacts["session_summary"]))
	assert.NotEqual(t, "null", string(artifacts["session_analysis"]))
	assert.Contains(t, string(artifacts["session_scores"]), "sessionDetails")

	c, rec = newContext(e, http.MethodGet, "/api/latest-psych-profile", "", "u1")
	if err := h.GetLatestProfile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var profile domain.PsychometricProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "u1", profile.UserID)
	assert.Contains(t, string(profile.ProfileJSON), "emotionalState")
}

func TestLatestProfileNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	c, rec := newContext(echo.New(), http.MethodGet, "/api/latest-psych-profile", "", "u2")
	if err := h.GetLatestProfile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListUserSessions(t *testing.T) {
	h, _, _ := newTestHandler(t)
	first := createChat(t, h, "u1")
	second := createChat(t, h, "u1")
	createChat(t, h, "u2")

	c, rec := newContext(echo.New(), http.MethodGet, "/api/user-sessions", "", "u1")
	if err := h.ListUserSessions(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Sessions []domain.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)
	ids := []string{resp.Sessions[0].SessionID, resp.Sessions[1].SessionID}
	assert.ElementsMatch(t, []string{first, second}, ids)
}

func TestAuthenticateMiddleware(t *testing.T) {
	e := echo.New()
	verifier, err := auth.NewVerifier("secret", "key", time.Hour)
	require.NoError(t, err)
	token, err := verifier.Issue("u1")
	require.NoError(t, err)

	var got auth.Identity
	next := func(c echo.Context) error {
		got = identity(c)
		return c.NoContent(http.StatusNoContent)
	}
	mw := Authenticate(verifier)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/user-sessions", nil)
	rec := httptest.NewRecorder()
	if err := mw(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/user-sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", "key")
	rec = httptest.NewRecorder()
	if err := mw(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	assert.Equal(t, "u1", got.UserID)
}
