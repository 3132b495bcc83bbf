// ABOUTME: REST handlers for session management, status and stream control
// ABOUTME: JSON request/response types and helpers shared by the handlers

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/daybreak-ai/daybreak/internal/auth"
	"github.com/daybreak-ai/daybreak/internal/provider"
	"github.com/daybreak-ai/daybreak/internal/store"
)

// defaultSessionTitle is assigned to sessions created without a title.
const defaultSessionTitle = "New Chat"

type sessionResponse struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Role            string          `json:"role"`
	Content         string          `json:"content"`
	Thinking        string          `json:"thinking,omitempty"`
	Usage           json.RawMessage `json:"usage,omitempty"`
	StreamingStatus string          `json:"streaming_status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// messagePreview is the trimmed message shape in status responses.
type messagePreview struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Thinking string `json:"thinking"`
}

type statusResponse struct {
	SessionID          string          `json:"session_id"`
	HasStreaming       bool            `json:"has_streaming"`
	HasInterrupted     bool            `json:"has_interrupted"`
	StreamingMessage   *messagePreview `json:"streaming_message"`
	InterruptedMessage *messagePreview `json:"interrupted_message"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		UserID:       s.UserID,
		Title:        s.Title,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toMessageResponse(m *store.Message) messageResponse {
	resp := messageResponse{
		ID:              m.ID,
		SessionID:       m.SessionID,
		Role:            m.Role,
		Content:         m.Content,
		Thinking:        m.Thinking,
		StreamingStatus: m.StreamingStatus,
		CreatedAt:       m.CreatedAt,
	}
	if m.Usage != "" {
		resp.Usage = json.RawMessage(m.Usage)
	}
	return resp
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ownedSession loads the session in the request path and checks it belongs
// to the authenticated user. Writes a 404 and returns nil when it doesn't.
func (g *Gateway) ownedSession(w http.ResponseWriter, r *http.Request) *store.Session {
	userID, _ := auth.UserFromContext(r.Context())

	sess, err := g.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != userID) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		g.logger.Error("loading session failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	return sess
}

// providerConfig resolves the upstream configuration for a generation
// request: an explicit provider by ID, or the user's active text provider.
func (g *Gateway) providerConfig(r *http.Request, userID, providerID string) (provider.Config, error) {
	var p *store.Provider
	var err error

	if providerID != "" {
		p, err = g.store.GetProvider(r.Context(), providerID)
		if err == nil && p.UserID != userID {
			err = store.ErrNotFound
		}
	} else {
		p, err = g.store.GetActiveProvider(r.Context(), userID, store.CategoryText)
	}
	if err != nil {
		return provider.Config{}, err
	}

	return provider.Config{
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}, nil
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())

	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		// An empty body is fine; the title defaults.
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Title == "" {
		req.Title = defaultSessionTitle
	}

	now := time.Now().UTC()
	sess := &store.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateSession(r.Context(), sess); err != nil {
		g.logger.Error("creating session failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := g.store.ListSessions(r.Context(), userID, limit)
	if err != nil {
		g.logger.Error("listing sessions failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	if err := g.store.DeleteSession(r.Context(), sess.ID); err != nil {
		g.logger.Error("deleting session failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

func (g *Gateway) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := g.store.RenameSession(r.Context(), sess.ID, req.Title); err != nil {
		g.logger.Error("renaming session failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]string{"title": req.Title})
}

func (g *Gateway) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	var req struct {
		FirstMessage string `json:"first_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FirstMessage == "" {
		g.sendJSONError(w, http.StatusBadRequest, "first_message is required")
		return
	}

	cfg, err := g.providerConfig(r, sess.UserID, "")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "no active AI provider configured")
		return
	}

	title, err := g.titles.GenerateTitle(r.Context(), cfg, req.FirstMessage)
	if err != nil {
		g.logger.Warn("title generation failed", "session_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "failed to generate title")
		return
	}

	if err := g.store.RenameSession(r.Context(), sess.ID, title); err != nil {
		g.logger.Error("saving generated title failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := g.store.ListMessages(r.Context(), sess.ID, limit)
	if err != nil {
		g.logger.Error("listing messages failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	g.sendJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	resp := statusResponse{
		SessionID: sess.ID,
		UpdatedAt: sess.UpdatedAt,
	}

	if msg, err := g.store.FindStreaming(r.Context(), sess.ID); err == nil {
		resp.HasStreaming = true
		resp.StreamingMessage = &messagePreview{ID: msg.ID, Content: msg.Content, Thinking: msg.Thinking}
	} else if !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("checking streaming message failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if msg, err := g.store.FindInterrupted(r.Context(), sess.ID); err == nil {
		resp.HasInterrupted = true
		resp.InterruptedMessage = &messagePreview{ID: msg.ID, Content: msg.Content, Thinking: msg.Thinking}
	} else if !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("checking interrupted message failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sess := g.ownedSession(w, r)
	if sess == nil {
		return
	}

	stopped, err := g.manager.Stop(r.Context(), sess.ID)
	if err != nil {
		g.logger.Error("stopping stream failed", "session_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !stopped {
		g.sendJSONError(w, http.StatusNotFound, "no active streaming found for this session")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]string{"message": "chat stream stopped"})
}
