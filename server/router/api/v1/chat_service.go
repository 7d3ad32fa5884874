package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/server/quota"
	"github.com/chainchat/chainchat/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ─────────────────────────────────────────────────────────────────────────────

type turnRequest struct {
	Content string `json:"content"` // user message text
	Model   string `json:"model"`   // optional model override
	Group   string `json:"group"`   // tool group id, e.g. "on_chain"
}

type chatRequestBody struct {
	Title string `json:"title"`
}

type chatResponse struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Archived  bool   `json:"archived"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type messageResponse struct {
	UID             string                 `json:"uid"`
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	ToolInvocations []store.ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedTs       int64                  `json:"createdTs"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Route registration
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) registerChatRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/chats", s.listChats)
	g.POST("/chats", s.createChat)
	g.PATCH("/chats/:uid", s.updateChat)
	g.DELETE("/chats/:uid", s.deleteChat)
	g.GET("/chats/:uid/messages", s.listChatMessages)
	g.POST("/chats/:uid/turns", s.handleTurn)
}

// ─────────────────────────────────────────────────────────────────────────────
// Chat CRUD
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listChats(c *echo.Context) error {
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	chats, err := s.Store.ListChats(c.Request().Context(), &store.FindChat{
		CreatorID: &user.ID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		resp = append(resp, toChatResponse(chat))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createChat(c *echo.Context) error {
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	var req chatRequestBody
	if err := c.Bind(&req); err != nil {
		req.Title = "New Chat"
	}
	if req.Title == "" {
		req.Title = "New Chat"
	}
	chat, err := s.Store.CreateChat(c.Request().Context(), &store.Chat{
		UID:       uuid.New().String()[:8],
		CreatorID: user.ID,
		Title:     req.Title,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, toChatResponse(chat))
}

func (s *APIV1Service) updateChat(c *echo.Context) error {
	uid := c.Param("uid")
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	chat, err := s.ownedChat(c.Request().Context(), uid, user.ID)
	if err != nil {
		return err
	}

	var req struct {
		Title    *string `json:"title"`
		Archived *bool   `json:"archived"`
	}
	if err := c.Bind(&req); err != nil || (req.Title == nil && req.Archived == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "title or archived required")
	}
	updated, err := s.Store.UpdateChat(c.Request().Context(), &store.UpdateChat{
		UID:      chat.UID,
		Title:    req.Title,
		Archived: req.Archived,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toChatResponse(updated))
}

func (s *APIV1Service) deleteChat(c *echo.Context) error {
	uid := c.Param("uid")
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	if _, err := s.ownedChat(c.Request().Context(), uid, user.ID); err != nil {
		return err
	}
	if err := s.Store.DeleteChat(c.Request().Context(), uid); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) listChatMessages(c *echo.Context) error {
	uid := c.Param("uid")
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}
	chat, err := s.ownedChat(c.Request().Context(), uid, user.ID)
	if err != nil {
		return err
	}
	msgs, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{
		ChatID: chat.ID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{
			UID:             m.UID,
			Role:            m.Role,
			Content:         m.Content,
			Reasoning:       m.Reasoning,
			ToolInvocations: m.ToolInvocations,
			CreatedTs:       m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// ─────────────────────────────────────────────────────────────────────────────
// Streaming turn handler (SSE)
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) handleTurn(c *echo.Context) error {
	uid := c.Param("uid")
	user, err := s.requireAuth(c)
	if err != nil {
		return err
	}

	// Admission happens before any streaming begins. A quota-store failure
	// denies: fail-closed, never unlimited.
	if err := s.Ledger.CheckAndAdmit(c.Request().Context(), user.ID); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, quota.UserMessage(err))
	}

	var req turnRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}

	reqCtx := c.Request().Context()

	chat, err := s.ownedChat(reqCtx, uid, user.ID)
	if err != nil {
		return err
	}

	// An unknown or broken tool group degrades to no tools and the base
	// persona; a configuration problem in one domain must not take down chat.
	group := s.Groups.Resolve(req.Group)

	dbMsgs, err := s.Store.ListMessages(reqCtx, &store.FindMessage{ChatID: chat.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Auto-title on the first message of a fresh chat.
	if len(dbMsgs) == 0 && chat.Title == "New Chat" {
		go s.autoTitleChat(context.Background(), chat.UID, req.Content)
	}

	// Persist the incoming user message before generation starts, so a crash
	// mid-generation does not lose the user's input.
	if _, err := s.Store.CreateMessage(reqCtx, &store.CreateMessage{
		UID:     shortuuid.New(),
		ChatID:  chat.ID,
		Role:    "user",
		Content: req.Content,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	history := historyToLLM(sanitizeHistory(dbMsgs, s.sanitizePolicy()))
	history = append(history, llm.Message{Role: "user", Content: req.Content})

	// SSE setup.
	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	emit := func(eventType string, payload any) {
		// Streaming to a disconnected caller is a no-op; the turn still
		// finishes so its result can be persisted.
		if reqCtx.Err() != nil {
			return
		}
		data, _ := json.Marshal(map[string]any{"type": eventType, "payload": payload})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}

	slog.Info("[TURN INIT]", "chat", chat.UID, "group", req.Group, "tools", len(group.Tools))

	// Generation survives a caller disconnect for persistence purposes.
	genCtx := context.WithoutCancel(reqCtx)

	run := &runner{engine: s.Engine, registry: s.Registry}
	outcome, err := run.run(genCtx, req.Model, group.SystemPrompt, history, group.Tools, func(ev streamEvent) {
		switch ev.Type {
		case "token":
			emit("token", ev.Content)
		case "reasoning":
			emit("reasoning", ev.Content)
		case "tool_call":
			emit("tool_call", map[string]string{"name": ev.ToolName, "callId": ev.CallID, "input": ev.ToolInput})
		case "tool_result":
			emit("tool_result", map[string]string{"name": ev.ToolName, "callId": ev.CallID, "output": ev.ToolOutput})
		}
	})
	if err != nil {
		slog.Warn("turn failed", "chat", chat.UID, "err", err)
		emit("error", err.Error())
		return nil
	}

	// Persist the assistant answer, then charge quota. A persistence failure
	// after streaming is a reconciliation concern, never a re-generation.
	if outcome.Content != "" || len(outcome.Invocations) > 0 {
		if _, err := s.Store.CreateMessage(genCtx, &store.CreateMessage{
			UID:             shortuuid.New(),
			ChatID:          chat.ID,
			Role:            "assistant",
			Content:         outcome.Content,
			Reasoning:       outcome.Reasoning,
			ToolInvocations: outcome.Invocations,
		}); err != nil {
			slog.Warn("failed to persist assistant message", "chat", chat.UID, "err", err)
		} else if err := s.Ledger.Decrement(genCtx, user.ID); err != nil {
			slog.Warn("failed to decrement quota", "user", user.ID, "err", err)
		}
	}

	// Touch the chat so it sorts to the top of the list.
	_, _ = s.Store.UpdateChat(genCtx, &store.UpdateChat{UID: chat.UID})

	emit("done", chat.UID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// autoTitleChat derives a short title from the first user message with a
// single non-tool generation call.
func (s *APIV1Service) autoTitleChat(ctx context.Context, uid, firstMessage string) {
	prompt := fmt.Sprintf(
		"Generate a short (5-7 word) title for a chat that starts with:\n%q\nReturn only the title, no quotes.",
		firstMessage,
	)
	title, err := s.Engine.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(title) == "" {
		return
	}
	title = strings.TrimSpace(title)
	_, _ = s.Store.UpdateChat(ctx, &store.UpdateChat{UID: uid, Title: &title})
}

// ownedChat loads the chat and verifies ownership, mapping every failure to a
// 404 so chat ids do not leak across users.
func (s *APIV1Service) ownedChat(ctx context.Context, uid string, userID int32) (*store.Chat, error) {
	chat, err := s.Store.GetChat(ctx, &store.FindChat{UID: &uid})
	if err != nil || chat == nil || chat.CreatorID != userID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return chat, nil
}

// historyToLLM converts persisted messages into engine form. An assistant
// message carrying resolved invocations expands into the assistant tool-call
// message followed by one tool message per result, which is the shape the
// engine's consistency check expects.
func historyToLLM(msgs []*store.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, llm.Message{Role: "user", Content: m.Content})
		case "assistant":
			msg := llm.Message{Role: "assistant", Content: m.Content}
			var results []llm.Message
			for _, inv := range m.ToolInvocations {
				if inv.State != store.InvocationResult {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:   inv.CallID,
					Name: inv.ToolName,
					Args: string(inv.Args),
				})
				results = append(results, llm.Message{
					Role:       "tool",
					Content:    decodeResult(inv.Result),
					ToolCallID: inv.CallID,
				})
			}
			out = append(out, msg)
			out = append(out, results...)
		}
	}
	return out
}

func decodeResult(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func toChatResponse(chat *store.Chat) chatResponse {
	return chatResponse{
		UID:       chat.UID,
		Title:     chat.Title,
		Archived:  chat.Archived,
		CreatedTs: chat.CreatedTs,
		UpdatedTs: chat.UpdatedTs,
	}
}
