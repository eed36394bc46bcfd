package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/directory"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
	"github.com/tOgg1/courier/internal/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type testEnv struct {
	t        *testing.T
	store    *docstore.MemoryStore
	registry *Registry
	issuer   *session.TokenIssuer
	server   *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	for id, data := range map[string]map[string]any{
		"A": {"name": "Alice", "role": "brandManager"},
		"B": {"name": "Bob", "role": "salesAgent"},
	} {
		require.NoError(t, store.Set(ctx, models.CollectionUsers, id, data))
	}

	cfg := config.DefaultConfig()
	cfg.Server.SendRate = 100
	cfg.Server.SendBurst = 100
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	source := directory.NewStoreSource(store)
	registry := NewRegistry(store, directory.NewResolver(source, source), cfg, m)
	issuer, err := session.NewTokenIssuer("test-secret-0123456789", "courier-test", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(cfg.Server, registry, issuer, reg).Handler())
	t.Cleanup(func() {
		srv.Close()
		registry.Close()
		_ = store.Close()
	})
	return &testEnv{t: t, store: store, registry: registry, issuer: issuer, server: srv}
}

func (e *testEnv) token(id string) string {
	e.t.Helper()
	doc, err := e.store.Get(context.Background(), models.CollectionUsers, id)
	require.NoError(e.t, err)
	token, err := e.issuer.Issue(models.UserFromDocument(doc.ID, doc.Data).Identity())
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body any) (int, []byte) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, data
}

func (e *testEnv) state(token string) messaging.State {
	e.t.Helper()
	status, body := e.do(http.MethodGet, "/api/messaging", token, nil)
	require.Equal(e.t, http.StatusOK, status, string(body))
	var state messaging.State
	require.NoError(e.t, json.Unmarshal(body, &state))
	return state
}

func (e *testEnv) notifications(token string) notificationsResponse {
	e.t.Helper()
	status, body := e.do(http.MethodGet, "/api/notifications", token, nil)
	require.Equal(e.t, http.StatusOK, status, string(body))
	var resp notificationsResponse
	require.NoError(e.t, json.Unmarshal(body, &resp))
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "courier_messages_sent_total")
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(http.MethodGet, "/api/messaging", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(http.MethodGet, "/api/messaging", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	// The websocket fallback accepts the token as a query parameter.
	status, _ = env.do(http.MethodGet, "/api/messaging?token="+env.token("A"), "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, env.registry.Len())
}

func TestSendFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, bob := env.token("A"), env.token("B")

	status, body := env.do(http.MethodPost, "/api/users/B/select", alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var state messaging.State
	require.NoError(t, json.Unmarshal(body, &state))
	require.NotNil(t, state.Current)
	convID := state.Current.ID

	status, body = env.do(http.MethodPost, "/api/messages", alice, sendRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Equal(t, convID, msg.ConversationID)
	require.Equal(t, "B", msg.RecipientID)

	status, _ = env.do(http.MethodPost, "/api/messages", alice, sendRequest{Content: "   "})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	var inbox notificationsResponse
	require.Eventually(t, func() bool {
		inbox = env.notifications(bob)
		return inbox.Unread == 1
	}, waitFor, tick)
	note := inbox.Notifications[0]
	require.Equal(t, models.NotificationNewMessage, note.Type)
	require.Equal(t, "A", note.Data.SenderID)

	require.Eventually(t, func() bool {
		return env.state(bob).UnreadTotal == 1
	}, waitFor, tick)

	status, body = env.do(http.MethodPost, "/api/notifications/"+note.ID+"/click", bob, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	bobState := env.state(bob)
	require.True(t, bobState.Open)
	require.NotNil(t, bobState.Current)
	require.Equal(t, convID, bobState.Current.ID)

	require.Eventually(t, func() bool {
		return env.notifications(bob).Unread == 0 && env.state(bob).UnreadTotal == 0
	}, waitFor, tick)
}

func TestNotFoundAndRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.token("A")

	status, _ := env.do(http.MethodPost, "/api/users/ghost/select", alice, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(http.MethodPost, "/api/users/A/select", alice, nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = env.do(http.MethodPost, "/api/conversations/missing/select", alice, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(http.MethodPost, "/api/notifications/missing/read", alice, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(http.MethodPost, "/api/messages", alice, sendRequest{Content: "hello"})
	require.Equal(t, http.StatusUnprocessableEntity, status, "no active conversation")

	status, _ = env.do(http.MethodPost, "/api/messages", alice, "not an object")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSendRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.SendRate = 0.001
		cfg.Server.SendBurst = 1
	})
	alice := env.token("A")

	status, _ := env.do(http.MethodPost, "/api/users/B/select", alice, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(http.MethodPost, "/api/messages", alice, sendRequest{Content: "one"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = env.do(http.MethodPost, "/api/messages", alice, sendRequest{Content: "two"})
	require.Equal(t, http.StatusTooManyRequests, status)
}

func TestMessagingNavigation(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.token("A")

	status, body := env.do(http.MethodPost, "/api/messaging/directory", alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var state messaging.State
	require.NoError(t, json.Unmarshal(body, &state))
	require.True(t, state.ShowUserList)
	require.Len(t, state.Users, 1)
	require.Equal(t, "B", state.Users[0].ID)

	status, body = env.do(http.MethodPost, "/api/messaging/back", alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &state))
	require.False(t, state.ShowUserList)

	status, _ = env.do(http.MethodPost, "/api/messaging/close", alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.False(t, env.state(alice).Open)

	status, _ = env.do(http.MethodPost, "/api/messaging/open", alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.state(alice).Open)
}

func TestMarkAllRead(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		n := models.Notification{
			Type:        models.NotificationOrderCreated,
			RecipientID: "B",
			Title:       "Order",
			Message:     "created",
			CreatedAt:   time.Now(),
		}
		require.NoError(t, env.store.Set(ctx, models.CollectionNotifications, id, n.Fields()))
	}
	bob := env.token("B")
	require.Eventually(t, func() bool { return env.notifications(bob).Unread == 2 }, waitFor, tick)

	status, _ := env.do(http.MethodPost, "/api/notifications/read-all", bob, nil)
	require.Equal(t, http.StatusNoContent, status)
	require.Eventually(t, func() bool { return env.notifications(bob).Unread == 0 }, waitFor, tick)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.token("A")

	env.state(alice)
	require.Equal(t, 1, env.registry.Len())

	status, _ := env.do(http.MethodPost, "/api/logout", alice, nil)
	require.Equal(t, http.StatusNoContent, status)
	require.Equal(t, 0, env.registry.Len())
	require.Zero(t, env.store.SubscriptionCount())
}

func TestWebsocketPushesState(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.token("A")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status, _ := env.do(http.MethodPost, "/api/users/B/select", alice, nil)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == FrameState && frame.State != nil && frame.State.Current != nil {
			require.Equal(t, "B", frame.State.Current.OtherParticipant("A"))
			return
		}
	}
}

func TestWebsocketClosesOnLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.token("A")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status, _ := env.do(http.MethodPost, "/api/logout", alice, nil)
	require.Equal(t, http.StatusNoContent, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			return
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{messaging.ErrEmptyMessage, http.StatusUnprocessableEntity},
		{messaging.ErrNoActiveConversation, http.StatusUnprocessableEntity},
		{messaging.ErrNotPermitted, http.StatusForbidden},
		{messaging.ErrConversationNotFound, http.StatusNotFound},
		{messaging.ErrUserNotFound, http.StatusNotFound},
		{session.ErrInvalidToken, http.StatusUnauthorized},
		{errRateLimited, http.StatusTooManyRequests},
		{&messaging.SendError{ConversationID: "c1", Err: io.EOF}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.status {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}
