package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/conversation"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/logger"
	"github.com/xiaot623/prism/internal/policy"
	"github.com/xiaot623/prism/internal/prompt"
	"github.com/xiaot623/prism/internal/repository"
	"github.com/xiaot623/prism/internal/summary"
)

var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) count(typ domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// fakeLLM answers counselor turns and the summary stages by system prompt prefix.
type fakeLLM struct {
	mu       sync.Mutex
	requests []*llm.ChatCompletionRequest
	err      error
	delay    time.Duration
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeLLM) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var content string
	switch system := req.Messages[0].Content; {
	case strings.HasPrefix(system, "PERSONA"):
		content = "How does that make you feel?"
	case system == "PROFILE_JSON":
		content = `{"profile":{"emotionalState":{},"cognitivePatterns":{},"behavioralTendencies":{},"interpersonalDynamics":{},"progressNotes":"ok"}}`
	case system == "SCORES":
		content = `{"sessionDetails":{"duration":15}}`
	default:
		content = system + " output"
	}
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: content}}},
	}, nil
}

func (f *fakeLLM) last() *llm.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeLLM) countSystem(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Messages[0].Content == system {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	store   *repository.SQLStore
	llm     *fakeLLM
	emitter *recordingEmitter
	clock   *testClock
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	catalog := &prompt.Catalog{
		Persona:          "PERSONA",
		Engagement:       "ENGAGE",
		WrapUp:           "WRAP-UP",
		Conclude:         "CONCLUDE",
		ProfileNarrative: "NARRATIVE",
		ProfileJSON:      "PROFILE_JSON",
		SessionSummary:   "SUMMARY",
		SessionAnalysis:  "ANALYSIS",
		SessionScores:    "SCORES",
	}
	f := &fixture{
		store:   store,
		llm:     &fakeLLM{},
		emitter: &recordingEmitter{},
		clock:   &testClock{now: testStart},
		cfg: &config.Config{
			SessionDuration: 15 * time.Minute,
			ExpirySweep:     time.Second,
			AutoSummarize:   true,
		},
	}

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	log := logger.Discard()
	engine := conversation.NewEngine(f.llm, catalog, "test-model", log, conversation.WithClock(f.clock.Now))
	pipeline := summary.New(store, store, f.llm, catalog, "test-model", f.emitter, log)
	f.svc = New(store, engine, pipeline, policyEngine, f.emitter, f.cfg, log, WithClock(f.clock.Now))

	t.Cleanup(func() {
		f.svc.Wait()
		_ = store.Close()
	})

	for _, u := range []domain.User{
		{UserID: "u1", FullName: "Ada Lovelace", IsActive: true},
		{UserID: "u2", Username: "bob", IsActive: true},
		{UserID: "u3", Username: "inactive", IsActive: false},
	} {
		if err := store.UpsertUser(ctx, &u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	return f
}

func (f *fixture) newSession(t *testing.T, userID string) *domain.Session {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), auth.Identity{UserID: userID})
	require.NoError(t, err)
	return session
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t, "u1")

	assert.NotEmpty(t, session.SessionID)
	assert.True(t, session.Start.Equal(testStart))
	assert.True(t, session.End.Equal(testStart.Add(15*time.Minute)))

	_, err := f.svc.CreateSession(context.Background(), auth.Identity{UserID: "u3"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.CreateSession(context.Background(), auth.Identity{UserID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestTurnPersistsBothMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")

	res, err := f.svc.Turn(ctx, session.SessionID, "I had a rough week")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, res.Reply.Role)
	assert.Equal(t, "How does that make you feel?", res.Reply.Content)
	assert.Equal(t, session.SessionID, res.Info.SessionID)

	messages, err := f.svc.History(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, "I had a rough week", messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)

	req := f.llm.last()
	assert.Contains(t, req.Messages[0].Content, "The user's name is: Ada Lovelace")
	assert.Contains(t, req.Messages[0].Content, "This is their first session")
	assert.Equal(t, "I had a rough week\n\nENGAGE", req.Messages[len(req.Messages)-1].Content)
}

func TestTurnAddsWrapUpNearEnd(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t, "u1")
	f.clock.Set(session.End.Add(-90 * time.Second))

	_, err := f.svc.Turn(context.Background(), session.SessionID, "still here")
	require.NoError(t, err)

	req := f.llm.last()
	assert.Equal(t, "still here\n\nENGAGE\n\nWRAP-UP", req.Messages[len(req.Messages)-1].Content)
}

func TestTurnAfterEndIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")
	f.clock.Set(session.End)

	_, err := f.svc.Turn(ctx, session.SessionID, "hello?")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	messages, err := f.svc.History(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, f.llm.requests)
}

func TestTurnRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t, "u1")

	_, err := f.svc.Turn(context.Background(), session.SessionID, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTurnUpstreamErrorKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")
	f.llm.err = errors.New("502 bad gateway")

	_, err := f.svc.Turn(ctx, session.SessionID, "hello")
	assert.ErrorIs(t, err, domain.ErrUpstreamCompletion)

	messages, err := f.svc.History(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
}

func TestTurnsAreSerializedPerSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")
	f.llm.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Turn(ctx, session.SessionID, "message")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, f.llm.overlap.Load(), "completion calls of one session overlapped")
	messages, err := f.svc.History(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 10)
	for i, m := range messages {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
	assert.Zero(t, f.svc.turns.size())
}

func TestAuthorizeSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")

	got, err := f.svc.AuthorizeSession(ctx, auth.Identity{UserID: "u1"}, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, got.SessionID)

	_, err = f.svc.AuthorizeSession(ctx, auth.Identity{UserID: "u2"}, session.SessionID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "session belongs to another user")

	_, err = f.svc.AuthorizeSession(ctx, auth.Identity{UserID: "ghost"}, session.SessionID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.AuthorizeSession(ctx, auth.Identity{UserID: "u1"}, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, f.store.UpsertUser(ctx, &domain.User{UserID: "u1", IsActive: false}))
	_, err = f.svc.AuthorizeSession(ctx, auth.Identity{UserID: "u1"}, session.SessionID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUserSessionsOrderedByStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.newSession(t, "u1")
	f.clock.Set(testStart.Add(time.Hour))
	second := f.newSession(t, "u1")
	f.newSession(t, "u2")

	infos, err := f.svc.UserSessions(ctx, auth.Identity{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, first.SessionID, infos[0].SessionID)
	assert.Equal(t, second.SessionID, infos[1].SessionID)
}

func TestStartSummaryRunsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")
	_, err := f.svc.Turn(ctx, session.SessionID, "hello")
	require.NoError(t, err)

	started, err := f.svc.StartSummary(ctx, session.SessionID)
	require.NoError(t, err)
	assert.True(t, started)
	f.svc.Wait()

	started, err = f.svc.StartSummary(ctx, session.SessionID)
	require.NoError(t, err)
	assert.False(t, started)
	f.svc.Wait()

	status, err := f.svc.Status(ctx, auth.Identity{UserID: "u1"}, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatus{Ended: true, SummaryStarted: true, Summarized: true}, status)

	assert.Equal(t, 1, f.emitter.count(domain.EventSessionEnded))
	assert.Equal(t, 1, f.emitter.count(domain.EventSummaryComplete))
	assert.Equal(t, 1, f.llm.countSystem("NARRATIVE"))

	artifacts, err := f.svc.LatestArtifacts(ctx, auth.Identity{UserID: "u1"}, session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, artifacts.Summary)
	assert.Equal(t, "SUMMARY output", *artifacts.Summary)

	profile, err := f.svc.LatestProfile(ctx, auth.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "NARRATIVE output", *profile.Summary)
}

func TestConcurrentTriggersRunPipelineOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.newSession(t, "u1")

	f.llm.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.svc.TriggerSummary(ctx, session.SessionID)
			assert.NoError(t, err)
			if ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := f.store.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.True(t, got.SummaryStarted, "claim is taken before TriggerSummary returns")
	f.svc.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 1, f.llm.countSystem("NARRATIVE"))
	assert.Equal(t, 1, f.emitter.count(domain.EventSummaryComplete))
}

func TestTriggerSummaryUnknownSession(t *testing.T) {
	f := newFixture(t)
	started, err := f.svc.TriggerSummary(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.False(t, started)
}

func TestLatestProfileNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LatestProfile(context.Background(), auth.Identity{UserID: "u2"})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	ctx := context.Background()
	var k keyedMutex
	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}

func TestKeyedMutexLockHonorsContext(t *testing.T) {
	var k keyedMutex
	unlock, err := k.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.size())

	unlock()
	assert.Zero(t, k.size())

	unlock, err = k.Lock(context.Background(), "s1")
	require.NoError(t, err)
	unlock()
}

func TestTurnGivesUpWhenContextEndsWhileWaiting(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t, "u1")
	unlock, err := f.svc.turns.Lock(context.Background(), session.SessionID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Turn(ctx, session.SessionID, "hello")
	assert.ErrorIs(t, err, context.Canceled)

	msgs, err := f.svc.History(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
