package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/chainchat/chainchat/plugin/tools"
	"github.com/chainchat/chainchat/server/auth"
	"github.com/chainchat/chainchat/server/profile"
	"github.com/chainchat/chainchat/server/quota"
	"github.com/chainchat/chainchat/store"
	"github.com/chainchat/chainchat/store/teststore"
)

type testEnv struct {
	driver *teststore.Driver
	engine *scriptedEngine
	store  *store.Store
	echo   *echo.Echo
	token  string
}

func newTestEnv(t *testing.T, engine *scriptedEngine, toolList ...*echoTool) *testEnv {
	t.Helper()

	driver := teststore.New()
	driver.AddUser(1, "alice", store.TierFree, 5)
	st := store.New(driver)

	registry := tools.NewRegistry()
	for _, tl := range toolList {
		registry.Register(tl, nil)
	}

	p := &profile.Profile{
		JWTSecret:        "test-secret",
		QuotaResetSecret: "reset-secret",
	}
	groups, err := tools.LoadGroups("")
	require.NoError(t, err)

	svc := NewAPIV1Service(p, st, quota.NewLedger(st, quota.DefaultLimits), engine, registry, groups)
	e := echo.New()
	svc.Register(e)

	token, err := auth.NewAuthenticator(st, p.JWTSecret).IssueToken(1, time.Hour)
	require.NoError(t, err)

	return &testEnv{driver: driver, engine: engine, store: st, echo: e, token: token}
}

func (env *testEnv) newChat(t *testing.T, uid string) *store.Chat {
	t.Helper()
	chat, err := env.store.CreateChat(t.Context(), &store.Chat{
		UID:       uid,
		CreatorID: 1,
		Title:     "New Chat",
	})
	require.NoError(t, err)
	return chat
}

func (env *testEnv) do(method, path, body string, authorize bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorize {
		req.Header.Set("Authorization", "Bearer "+env.token)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []sseEvent) []string {
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestHandleTurnStreamsAndPersists(t *testing.T) {
	engine := &scriptedEngine{rounds: []scriptedRound{{events: tokens("Hello", " there")}}}
	env := newTestEnv(t, engine)
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	events := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{"token", "token", "done"}, eventTypes(events))

	msgs, err := env.store.ListMessages(t.Context(), &store.FindMessage{ChatID: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, "assistant", msgs[1].Role)
	require.Equal(t, "Hello there", msgs[1].Content)

	record := env.driver.Quota(1)
	require.EqualValues(t, 4, record.DailyRemaining)
	require.EqualValues(t, 1, record.MessageCount)
}

func TestHandleTurnQuotaDenied(t *testing.T) {
	engine := &scriptedEngine{}
	env := newTestEnv(t, engine)
	env.newChat(t, "chat0001")
	env.driver.AddUser(1, "alice", store.TierFree, 0)

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi"}`, true)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Upgrade to Pro")

	// Nothing was generated or persisted.
	require.Empty(t, engine.requests)
	msgs, err := env.store.ListMessages(t.Context(), &store.FindMessage{ChatID: 1})
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestHandleTurnRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi"}`, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTurnForeignChatIsNotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	env.driver.AddUser(2, "bob", store.TierFree, 5)
	_, err := env.store.CreateChat(t.Context(), &store.Chat{UID: "bobschat", CreatorID: 2, Title: "Bob"})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/api/v1/chats/bobschat/turns", `{"content":"hi"}`, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTurnEmptyContentRejected(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"   "}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTurnSanitizesOrphanedHistory(t *testing.T) {
	engine := &scriptedEngine{rounds: []scriptedRound{{events: tokens("ok")}}}
	env := newTestEnv(t, engine)
	chat := env.newChat(t, "chat0001")

	// A crashed earlier turn left an assistant message whose tool call never
	// resolved.
	_, err := env.store.CreateMessage(t.Context(), &store.CreateMessage{
		UID: "m1", ChatID: chat.ID, Role: "user", Content: "earlier",
	})
	require.NoError(t, err)
	_, err = env.store.CreateMessage(t.Context(), &store.CreateMessage{
		UID: "m2", ChatID: chat.ID, Role: "assistant", Content: "let me check",
		ToolInvocations: []store.ToolInvocation{
			{ToolName: "web_search", CallID: "c1", Args: json.RawMessage(`{}`), State: store.InvocationCall},
		},
	})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"and now?"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, engine.requests, 1)
	replayed := engine.requests[0].Messages
	require.Len(t, replayed, 3)
	require.Equal(t, "user", replayed[0].Role)
	require.Equal(t, "assistant", replayed[1].Role)
	require.Empty(t, replayed[1].ToolCalls)
	require.Equal(t, "and now?", replayed[2].Content)
}

func TestHandleTurnReplaysResolvedInvocations(t *testing.T) {
	engine := &scriptedEngine{rounds: []scriptedRound{{events: tokens("ok")}}}
	env := newTestEnv(t, engine)
	chat := env.newChat(t, "chat0001")

	_, err := env.store.CreateMessage(t.Context(), &store.CreateMessage{
		UID: "m1", ChatID: chat.ID, Role: "assistant", Content: "checked",
		ToolInvocations: []store.ToolInvocation{
			{
				ToolName: "web_search", CallID: "c1",
				Args:   json.RawMessage(`{"query":"x"}`),
				State:  store.InvocationResult,
				Result: json.RawMessage(`"found it"`),
			},
		},
	})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"next"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	replayed := engine.requests[0].Messages
	// assistant call, its tool result, then the new user message.
	require.Len(t, replayed, 3)
	require.Len(t, replayed[0].ToolCalls, 1)
	require.Equal(t, "c1", replayed[0].ToolCalls[0].ID)
	require.Equal(t, "tool", replayed[1].Role)
	require.Equal(t, "found it", replayed[1].Content)
	require.Equal(t, "c1", replayed[1].ToolCallID)
}

func TestHandleTurnUnknownGroupProceedsWithoutTools(t *testing.T) {
	tool := &echoTool{name: "web_search", answer: "r"}
	engine := &scriptedEngine{rounds: []scriptedRound{{events: tokens("no tools needed")}}}
	env := newTestEnv(t, engine, tool)
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi","group":"no_such_group"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, engine.requests, 1)
	require.Empty(t, engine.requests[0].Tools)
	require.Empty(t, engine.requests[0].System)

	events := parseSSE(t, rec.Body.String())
	require.Equal(t, "done", events[len(events)-1].Type)
}

func TestHandleTurnGroupBindsToolsAndPrompt(t *testing.T) {
	tool := &echoTool{name: "web_search", answer: "r"}
	engine := &scriptedEngine{rounds: []scriptedRound{{events: tokens("ok")}}}
	env := newTestEnv(t, engine, tool)
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi","group":"search"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	req := engine.requests[0]
	require.NotEmpty(t, req.System)
	// Only registered tools from the group survive; token_market was never
	// registered in this environment.
	require.Len(t, req.Tools, 1)
	require.Equal(t, "web_search", req.Tools[0].Name)
}

func TestHandleTurnEngineErrorEmitsErrorEvent(t *testing.T) {
	engine := &scriptedEngine{rounds: []scriptedRound{{err: errors.New("provider exploded")}}}
	env := newTestEnv(t, engine)
	env.newChat(t, "chat0001")

	rec := env.do(http.MethodPost, "/api/v1/chats/chat0001/turns", `{"content":"hi"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{"error"}, eventTypes(events))

	// The user message is kept, no assistant message exists, and no quota was
	// charged for the failed turn.
	msgs, err := env.store.ListMessages(t.Context(), &store.FindMessage{ChatID: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "user", msgs[0].Role)
	require.EqualValues(t, 5, env.driver.Quota(1).DailyRemaining)
}

func TestListCreateAndUpdateChats(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	rec := env.do(http.MethodPost, "/api/v1/chats", `{"title":"Gas fees"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Gas fees", created.Title)
	require.NotEmpty(t, created.UID)

	rec = env.do(http.MethodGet, "/api/v1/chats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = env.do(http.MethodPatch, "/api/v1/chats/"+created.UID, `{"archived":true}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.True(t, updated.Archived)

	rec = env.do(http.MethodDelete, "/api/v1/chats/"+created.UID, "", true)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetQuotaEndpoint(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	rec := env.do(http.MethodGet, "/api/v1/quota", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tier           string `json:"tier"`
		DailyRemaining int32  `json:"dailyRemaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "free", resp.Tier)
	require.EqualValues(t, 5, resp.DailyRemaining)
}

func TestResetQuotaEndpoint(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	env.driver.AddUser(2, "pro", store.TierPro, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quota/reset", nil)
	req.Header.Set("X-Reset-Secret", "wrong")
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/quota/reset", nil)
	req.Header.Set("X-Reset-Secret", "reset-secret")
	rec = httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.EqualValues(t, quota.DefaultLimits.Free, env.driver.Quota(1).DailyRemaining)
	require.EqualValues(t, quota.DefaultLimits.Pro, env.driver.Quota(2).DailyRemaining)
}
