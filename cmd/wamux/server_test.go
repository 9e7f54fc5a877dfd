package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wamux/internal/credentials"
	"wamux/internal/events"
	"wamux/internal/models"
	"wamux/internal/service"
	"wamux/internal/webhook"
	"wamux/pkg/whatsapp/types"
	"wamux/pkg/whatsapp/whatsapptest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server    *Server
	manager   *service.SessionManager
	connector *whatsapptest.Connector
	creds     *credentials.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	creds, err := credentials.NewStore(models.CredentialsConfig{Dir: filepath.Join(dir, "creds")})
	require.NoError(t, err)
	store, err := webhook.NewFileStore(filepath.Join(dir, "webhooks.json"))
	require.NoError(t, err)

	connector := whatsapptest.NewConnector()
	manager := service.NewSessionManager(connector, creds, events.NewRegistry(logger), models.SessionsConfig{}, logger)
	manager.SetQROutput(nil)
	dispatcher := webhook.NewDispatcher(store, models.WebhooksConfig{}, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	return &testServer{
		server:    NewServer(models.ServerConfig{Port: 0}, manager, dispatcher, logger),
		manager:   manager,
		connector: connector,
		creds:     creds,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	return w
}

// startLive starts a session and waits until it has adopted its connection.
func (ts *testServer) startLive(t *testing.T, id string) *whatsapptest.Conn {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/sessions/start", map[string]string{"sessionId": id})
	require.Equal(t, http.StatusCreated, w.Code)
	conn, err := ts.connector.WaitConn(2 * time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := ts.manager.SendText(context.Background(), id, "15550000000", "ping")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServer_HandleHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_HandleMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "counters")
	assert.Contains(t, body, "gauges")
}

func TestServer_StartSession(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/sessions/start", map[string]string{"sessionId": "alice"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/start", map[string]string{"sessionId": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Session already running", decodeBody(t, w)["message"])

	w = ts.do(t, http.MethodPost, "/sessions/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_INPUT", errBody["code"])

	req := httptest.NewRequest(http.MethodPost, "/sessions/start", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	ts.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListSessions(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/sessions/start", map[string]string{"sessionId": "bob"})
	ts.do(t, http.MethodPost, "/sessions/start", map[string]string{"sessionId": "alice"})

	w := ts.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []sessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "alice", out[0].ID)
	assert.Equal(t, "bob", out[1].ID)
}

func TestServer_SessionStatus(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/sessions/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["status"])

	conn := ts.startLive(t, "alice")
	conn.Emit(types.QRCode{Code: "2@abc"})

	require.Eventually(t, func() bool {
		body := decodeBody(t, ts.do(t, http.MethodGet, "/sessions/alice/status", nil))
		return body["status"] == string(models.SessionStatusAwaitingScan)
	}, 2*time.Second, 5*time.Millisecond)

	body := decodeBody(t, ts.do(t, http.MethodGet, "/sessions/alice/status", nil))
	assert.Equal(t, "2@abc", body["qr"])
	assert.True(t, strings.HasPrefix(body["qrCodeUrl"].(string), "data:image/png;base64,"))
}

func TestServer_SessionStatusAfterDisconnect(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.startLive(t, "alice")

	conn.Drop(types.DisconnectForbidden)

	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/sessions/alice/status", nil)
		return w.Code == http.StatusOK && decodeBody(t, w)["status"] == string(models.SessionStatusDisconnected)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, ts.manager.GetAllSessions())

	w := ts.do(t, http.MethodDelete, "/sessions/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions/alice/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["status"])
}

func TestServer_DeleteSession(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.creds.Save("alice", types.Credentials{"creds.json": []byte("{}")}))
	conn := ts.startLive(t, "alice")

	w := ts.do(t, http.MethodDelete, "/sessions/alice?keepCredentials=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/sessions/alice?keepCredentials=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["credentialsDeleted"])
	assert.True(t, conn.Closed())
	assert.True(t, ts.creds.Exists("alice"))

	w = ts.do(t, http.MethodDelete, "/sessions/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ts.creds.Exists("alice"))
}

func TestServer_Webhooks(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/sessions/alice/webhooks", webhookRequest{
		URL:    "https://hooks.example.com/a",
		Events: []string{"onQR", "onConnected"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp webhooksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Webhooks, 1)
	assert.Equal(t, []string{"onQR", "onConnected"}, resp.Webhooks[0].Events)

	w = ts.do(t, http.MethodPost, "/sessions/alice/webhooks", webhookRequest{URL: "https://hooks.example.com/a", Events: []string{"onBogus"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions/alice/webhooks", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Webhooks, 1)

	w = ts.do(t, http.MethodDelete, "/sessions/alice/webhooks?url=https://hooks.example.com/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Webhooks)
}

func TestServer_Send(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/send", sendRequest{SessionID: "alice", To: "15551234567", Text: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	conn := ts.startLive(t, "alice")

	w = ts.do(t, http.MethodPost, "/send", sendRequest{SessionID: "alice", To: "15551234567", Text: "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Message sent", decodeBody(t, w)["message"])

	calls := conn.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, []string{"15551234567@s.whatsapp.net", "hello"}, last.Args)
}

func TestServer_Presence(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.startLive(t, "alice")

	w := ts.do(t, http.MethodPost, "/presence/typing", presenceRequest{SessionID: "alice", To: "15551234567"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, conn.CallCount("SendPresence"))

	w = ts.do(t, http.MethodPost, "/presence/dancing", presenceRequest{SessionID: "alice", To: "15551234567"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_SendLocation(t *testing.T) {
	ts := newTestServer(t)
	lat, lng := -23.5505, -46.6333

	w := ts.do(t, http.MethodPost, "/send-media/location", locationRequest{SessionID: "alice", To: "15551234567", Latitude: &lat, Longitude: &lng})
	assert.Equal(t, http.StatusNotFound, w.Code)

	conn := ts.startLive(t, "alice")

	w = ts.do(t, http.MethodPost, "/send-media/location", locationRequest{SessionID: "alice", To: "15551234567", Latitude: &lat, Longitude: &lng})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Location sent", decodeBody(t, w)["message"])
	require.Equal(t, 1, conn.CallCount("SendLocation"))

	w = ts.do(t, http.MethodPost, "/send-media/location", locationRequest{SessionID: "alice", To: "15551234567", Latitude: &lat})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	far := 200.0
	w = ts.do(t, http.MethodPost, "/send-media/location", locationRequest{SessionID: "alice", To: "15551234567", Latitude: &lat, Longitude: &far})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, conn.CallCount("SendLocation"))
}
