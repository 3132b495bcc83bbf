// ABOUTME: Websocket endpoint for streaming chat sessions
// ABOUTME: Subscribes connections to the hub and feeds user messages to jobs

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daybreak-ai/daybreak/internal/chat"
	"github.com/daybreak-ai/daybreak/internal/provider"
	"github.com/daybreak-ai/daybreak/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from app origins the backend doesn't know.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// wsClient adapts a websocket connection to the hub's Subscriber interface.
// Gorilla connections allow one concurrent writer, hence the mutex.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(frame chat.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

// wsRequest is the client-to-server message shape.
type wsRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	ModelID string `json:"model_id"`
}

// handleChatWS upgrades the connection and runs its read loop. Jobs started
// here are owned by the manager and keep running after the loop exits; a
// disconnect only unsubscribes this connection.
func (g *Gateway) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	g.hub.Subscribe(sessionID, client)
	defer func() {
		g.hub.Unsubscribe(sessionID, client)
		conn.Close()
	}()

	g.logger.Info("websocket connected", "session_id", sessionID)

	g.reconcile(r.Context(), sessionID, client)
	g.readLoop(r.Context(), sessionID, conn, client)

	g.logger.Info("websocket disconnected", "session_id", sessionID)
}

// reconcile tells a fresh connection about in-flight or interrupted state so
// the client can render accumulated text immediately. Absence of such state
// is the normal case; anything else from the store is a real failure.
func (g *Gateway) reconcile(ctx context.Context, sessionID string, client *wsClient) {
	msg, err := g.store.FindStreaming(ctx, sessionID)
	switch {
	case err == nil:
		if sendErr := client.Send(chat.Frame{
			Type:      chat.FrameStreamingResumed,
			MessageID: msg.ID,
			Content:   msg.Content,
			Thinking:  msg.Thinking,
		}); sendErr != nil {
			g.logger.Warn("sending resume frame failed", "session_id", sessionID, "error", sendErr)
			return
		}
	case !errors.Is(err, store.ErrNotFound):
		g.logger.Error("checking streaming state failed", "session_id", sessionID, "error", err)
	}

	msg, err = g.store.FindInterrupted(ctx, sessionID)
	switch {
	case err == nil:
		if sendErr := client.Send(chat.Frame{
			Type:      chat.FrameStreamingInterrupted,
			MessageID: msg.ID,
			Content:   msg.Content,
			Thinking:  msg.Thinking,
		}); sendErr != nil {
			g.logger.Warn("sending interrupted frame failed", "session_id", sessionID, "error", sendErr)
		}
	case !errors.Is(err, store.ErrNotFound):
		g.logger.Error("checking interrupted state failed", "session_id", sessionID, "error", err)
	}
}

func (g *Gateway) readLoop(ctx context.Context, sessionID string, conn *websocket.Conn, client *wsClient) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			client.Send(chat.Frame{Type: chat.FrameError, Content: "invalid JSON format"})
			continue
		}
		if req.Message == "" || req.UserID == "" {
			client.Send(chat.Frame{Type: chat.FrameError, Content: "missing message or user_id"})
			continue
		}

		if err := g.startGeneration(ctx, sessionID, req); err != nil {
			client.Send(chat.Frame{Type: chat.FrameError, Content: err.Error()})
		}
	}
}

// startGeneration persists the inbound user message and hands generation to
// the job manager. The returned error text is client-facing.
func (g *Gateway) startGeneration(ctx context.Context, sessionID string, req wsRequest) error {
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil || sess.UserID != req.UserID {
		return errors.New("chat session not found")
	}

	var p *store.Provider
	if req.ModelID != "" {
		p, err = g.store.GetProvider(ctx, req.ModelID)
		if err == nil && p.UserID != req.UserID {
			err = store.ErrNotFound
		}
	} else {
		p, err = g.store.GetActiveProvider(ctx, req.UserID, store.CategoryText)
	}
	if err != nil {
		return errors.New("no active AI provider configured")
	}
	cfg := provider.Config{
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}

	// History is the settled conversation before this message, capped to the
	// most recent window, with the new user message appended.
	settled, err := g.store.ListSettledMessages(ctx, sessionID, g.config.Chat.HistoryLimit)
	if err != nil {
		g.logger.Error("loading history failed", "session_id", sessionID, "error", err)
		return errors.New("internal server error")
	}
	history := make([]provider.ChatMessage, 0, len(settled)+1)
	for _, m := range settled {
		history = append(history, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	history = append(history, provider.ChatMessage{Role: store.RoleUser, Content: req.Message})

	userMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveUserMessage(ctx, userMsg); err != nil {
		g.logger.Error("saving user message failed", "session_id", sessionID, "error", err)
		return errors.New("internal server error")
	}

	if _, err := g.manager.Start(ctx, sessionID, cfg, history); err != nil {
		g.logger.Error("starting generation failed", "session_id", sessionID, "error", err)
		return errors.New("internal server error")
	}
	return nil
}
