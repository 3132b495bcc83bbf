// ABOUTME: Tests for the REST session API
// ABOUTME: Exercises CRUD, status, stop and title routes over httptest

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybreak-ai/daybreak/internal/auth"
	"github.com/daybreak-ai/daybreak/internal/chat"
	"github.com/daybreak-ai/daybreak/internal/config"
	"github.com/daybreak-ai/daybreak/internal/provider"
	"github.com/daybreak-ai/daybreak/internal/store"
)

// scriptedStreamer plays back a fixed event sequence as the upstream.
type scriptedStreamer struct {
	events []provider.Event
}

func (s *scriptedStreamer) Stream(ctx context.Context, _ provider.Config, _ []provider.ChatMessage) (<-chan provider.Event, error) {
	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		for _, ev := range s.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type fakeTitles struct {
	title string
	err   error
}

func (f fakeTitles) GenerateTitle(_ context.Context, _ provider.Config, _ string) (string, error) {
	return f.title, f.err
}

type gatewayFixture struct {
	gateway  *Gateway
	store    *store.SQLiteStore
	hub      *chat.Hub
	manager  *chat.Manager
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newGatewayFixture(t *testing.T, upstream chat.Streamer, titles titleGenerator) *gatewayFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Chat.HistoryLimit = 50
	cfg.Chat.UpstreamTimeout = 5 * time.Second

	hub := chat.NewHub()
	manager := chat.NewManager(st, hub, upstream)
	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	g := New(cfg, st, hub, manager, titles, verifier)
	srv := httptest.NewServer(g.routes())
	t.Cleanup(srv.Close)

	return &gatewayFixture{
		gateway:  g,
		store:    st,
		hub:      hub,
		manager:  manager,
		verifier: verifier,
		server:   srv,
	}
}

func (f *gatewayFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *gatewayFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *gatewayFixture) createSession(t *testing.T, userID string) string {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/api/sessions", f.token(t, userID), map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[sessionResponse](t, resp)
	return created.ID
}

func TestCreateAndListSessions(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	token := f.token(t, "user-1")

	resp := f.request(t, http.MethodPost, "/api/sessions", token, map[string]string{"title": "Trip Planning"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[sessionResponse](t, resp)
	assert.Equal(t, "Trip Planning", created.Title)
	assert.Equal(t, "user-1", created.UserID)
	assert.NotEmpty(t, created.ID)

	resp = f.request(t, http.MethodGet, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decodeBody[[]sessionResponse](t, resp)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
}

func TestCreateSessionDefaultTitle(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})

	resp := f.request(t, http.MethodPost, "/api/sessions", f.token(t, "user-1"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[sessionResponse](t, resp)
	assert.Equal(t, defaultSessionTitle, created.Title)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})

	resp, err := f.server.Client().Get(f.server.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionOwnershipIsEnforced(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")

	// Another user sees 404, not 403, to avoid leaking session existence.
	resp := f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/messages", f.token(t, "user-2"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.request(t, http.MethodDelete, "/api/sessions/"+sessionID, f.token(t, "user-2"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRenameSession(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	resp := f.request(t, http.MethodPut, "/api/sessions/"+sessionID+"/title", token, map[string]string{"title": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, err := f.store.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", sess.Title)

	resp = f.request(t, http.MethodPut, "/api/sessions/"+sessionID+"/title", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	resp := f.request(t, http.MethodDelete, "/api/sessions/"+sessionID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/status", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateTitle(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{title: "Groceries For The Week"})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	// Needs an active provider to call upstream.
	require.NoError(t, f.store.SaveProvider(t.Context(), &store.Provider{
		UserID:  "user-1",
		Name:    "openai",
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		APIKey:  "k",
		Active:  true,
	}))

	resp := f.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/generate-title", token,
		map[string]string{"first_message": "help me plan groceries"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "Groceries For The Week", body["title"])

	sess, err := f.store.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries For The Week", sess.Title)
}

func TestGenerateTitleWithoutProvider(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{title: "x"})
	sessionID := f.createSession(t, "user-1")

	resp := f.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/generate-title", f.token(t, "user-1"),
		map[string]string{"first_message": "hello"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateTitleUpstreamFailure(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{err: errors.New("upstream down")})
	sessionID := f.createSession(t, "user-1")

	require.NoError(t, f.store.SaveProvider(t.Context(), &store.Provider{
		UserID: "user-1", Name: "p", BaseURL: "https://x/v1", Model: "m", APIKey: "k", Active: true,
	}))

	resp := f.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/generate-title", f.token(t, "user-1"),
		map[string]string{"first_message": "hello"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestListMessages(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	base := time.Now().UTC().Add(-time.Minute)
	for i := range 3 {
		require.NoError(t, f.store.SaveUserMessage(t.Context(), &store.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: sessionID,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	resp := f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := decodeBody[[]messageResponse](t, resp)
	require.Len(t, messages, 3)
	assert.Equal(t, "message 0", messages[0].Content)

	resp = f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/messages?limit=bogus", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionStatus(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	resp := f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[statusResponse](t, resp)
	assert.False(t, status.HasStreaming)
	assert.False(t, status.HasInterrupted)
	assert.Nil(t, status.StreamingMessage)

	msg, err := f.store.CreatePlaceholder(t.Context(), sessionID)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendDelta(t.Context(), msg.ID, "partial answer", "some thinking"))

	resp = f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[statusResponse](t, resp)
	assert.True(t, status.HasStreaming)
	require.NotNil(t, status.StreamingMessage)
	assert.Equal(t, "partial answer", status.StreamingMessage.Content)
	assert.Equal(t, "some thinking", status.StreamingMessage.Thinking)

	won, err := f.store.FinalizeMessage(t.Context(), msg.ID, store.StatusInterrupted, "")
	require.NoError(t, err)
	require.True(t, won)

	resp = f.request(t, http.MethodGet, "/api/sessions/"+sessionID+"/status", token, nil)
	status = decodeBody[statusResponse](t, resp)
	assert.False(t, status.HasStreaming)
	assert.True(t, status.HasInterrupted)
	require.NotNil(t, status.InterruptedMessage)
	assert.Equal(t, msg.ID, status.InterruptedMessage.ID)
}

func TestStopEndpoint(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})
	sessionID := f.createSession(t, "user-1")
	token := f.token(t, "user-1")

	// Nothing running yet.
	resp := f.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/stop", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// An orphaned streaming row is stoppable.
	msg, err := f.store.CreatePlaceholder(t.Context(), sessionID)
	require.NoError(t, err)

	resp = f.request(t, http.MethodPost, "/api/sessions/"+sessionID+"/stop", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	final, err := f.store.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInterrupted, final.StreamingStatus)
}

func TestHealthEndpoint(t *testing.T) {
	f := newGatewayFixture(t, &scriptedStreamer{}, fakeTitles{})

	resp, err := f.server.Client().Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}
