package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/muster/internal/config"
	"github.com/woozymasta/muster/internal/models"
	"github.com/woozymasta/muster/internal/rallypoint"
	"github.com/woozymasta/muster/internal/storage"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "muster-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Server.AuthToken = testToken
	cfg.Server.MaxBodySize = 16384
	cfg.Match.AcceptTimeout = time.Minute
	cfg.RateLimit.Count = 1000
	cfg.RateLimit.Window = time.Minute

	registry := rallypoint.NewRegistry([]rallypoint.Server{
		{Address4: "192.0.2.1", Port: 14098},
		{Address4: "192.0.2.2", Address6: "2001:db8::2", Port: 14098},
	})

	s := New(store, nil, registry, cfg)
	s.StartWorkers()
	t.Cleanup(s.StopWorkers)

	ts := httptest.NewServer(s.Run())
	t.Cleanup(ts.Close)

	return s, ts
}

type testEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func dialClient(t *testing.T, ts *httptest.Server, name string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket?name=" + name
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) testEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var env testEnvelope
	require.NoError(t, conn.ReadJSON(&env))

	return env
}

// connect dials and consumes the server-list frame every client receives
// at connection time.
func connect(t *testing.T, ts *httptest.Server, name string) *websocket.Conn {
	t.Helper()

	conn := dialClient(t, ts, name)
	env := readEnvelope(t, conn)
	require.Equal(t, rallypoint.ServersTopic, env.Topic)

	return conn
}

func postMatch(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/matches", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestSocketReceivesServerListOnce(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialClient(t, ts, "alice")
	env := readEnvelope(t, conn)

	require.Equal(t, rallypoint.ServersTopic, env.Topic)

	var servers []rallypoint.Server
	require.NoError(t, json.Unmarshal(env.Data, &servers))
	require.Len(t, servers, 2)
	assert.Equal(t, "192.0.2.1", servers[0].Address4)
	assert.Equal(t, "2001:db8::2", servers[1].Address6)
}

func TestSocketRequiresName(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSocketRejectsDuplicateName(t *testing.T) {
	_, ts := newTestServer(t)

	_ = connect(t, ts, "alice")

	// The duplicate is closed right after the upgrade, so the handshake may
	// succeed but the first read fails without ever delivering a frame.
	dup := dialClient(t, ts, "alice")
	require.NoError(t, dup.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env testEnvelope
	assert.Error(t, dup.ReadJSON(&env))
}

func TestSocketPingReports(t *testing.T) {
	s, ts := newTestServer(t)

	conn := connect(t, ts, "alice")

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: msgPingResult, ServerIndex: 1, Ping: 45}))
	require.Eventually(t, func() bool {
		return s.registry.Pings("alice")[1] == 45
	}, 5*time.Second, 10*time.Millisecond)

	// Out-of-range index is rejected with an error frame and nothing recorded
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: msgPingResult, ServerIndex: 5, Ping: 45}))
	env := readEnvelope(t, conn)
	assert.Equal(t, topicError, env.Topic)
	assert.Len(t, s.registry.Pings("alice"), 1)
}

func TestSocketDisconnectClearsPings(t *testing.T) {
	s, ts := newTestServer(t)

	conn := connect(t, ts, "alice")
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: msgPingResult, ServerIndex: 0, Ping: 30}))
	require.Eventually(t, func() bool {
		return len(s.registry.Pings("alice")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return s.registry.Pings("alice") == nil && !s.hub.connected("alice")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddMatchValidation(t *testing.T) {
	_, ts := newTestServer(t)
	_ = connect(t, ts, "alice")

	// No token
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/matches", strings.NewReader(`{"clients":["alice"]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusBadRequest, postMatch(t, ts, `{"clients":[]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, postMatch(t, ts, `{"clients":["alice","alice"]}`).StatusCode)
	assert.Equal(t, http.StatusConflict, postMatch(t, ts, `{"clients":["alice","ghost"]}`).StatusCode)

	// Valid proposal, then the same client cannot be proposed again
	assert.Equal(t, http.StatusOK, postMatch(t, ts, `{"clients":["alice"]}`).StatusCode)
	assert.Equal(t, http.StatusConflict, postMatch(t, ts, `{"clients":["alice"]}`).StatusCode)
}

func TestMatchAcceptFlow(t *testing.T) {
	s, ts := newTestServer(t)

	alice := connect(t, ts, "alice")
	bob := connect(t, ts, "bob")

	resp := postMatch(t, ts, `{"info":{"mode":"1v1"},"clients":["alice","bob"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	matchID := created["id"]
	require.NotEmpty(t, matchID)

	// First acceptance: both clients see progress 1/2
	require.NoError(t, alice.WriteJSON(models.ClientMessage{Type: msgAcceptMatch}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		require.Equal(t, topicMatchProgress, env.Topic)

		var progress models.MatchProgress
		require.NoError(t, json.Unmarshal(env.Data, &progress))
		assert.Equal(t, matchID, progress.ID)
		assert.Equal(t, 2, progress.Total)
		assert.Equal(t, 1, progress.Accepted)
	}

	// Second acceptance completes the match
	require.NoError(t, bob.WriteJSON(models.ClientMessage{Type: msgAcceptMatch}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		require.Equal(t, topicMatchResolved, env.Topic)

		var resolved models.MatchResolved
		require.NoError(t, json.Unmarshal(env.Data, &resolved))
		assert.Equal(t, models.OutcomeAccepted, resolved.Outcome)
		assert.Equal(t, models.DispositionPlay, resolved.Disposition)
		assert.Equal(t, []string{"alice", "bob"}, resolved.Clients)
		assert.JSONEq(t, `{"mode":"1v1"}`, string(resolved.Info))
	}

	// History lands via the background workers
	require.Eventually(t, func() bool {
		recs, err := s.storage.GetMatches(10)
		return err == nil && len(recs) == 1 && recs[0].ID == matchID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMatchDeclineOnDisconnect(t *testing.T) {
	s, ts := newTestServer(t)

	alice := connect(t, ts, "alice")
	bob := connect(t, ts, "bob")

	require.Equal(t, http.StatusOK, postMatch(t, ts, `{"clients":["alice","bob"]}`).StatusCode)

	require.NoError(t, bob.Close())

	env := readEnvelope(t, alice)
	require.Equal(t, topicMatchResolved, env.Topic)

	var resolved models.MatchResolved
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, models.OutcomeDeclined, resolved.Outcome)
	assert.Equal(t, models.DispositionRequeue, resolved.Disposition)

	require.Eventually(t, func() bool {
		recs, err := s.storage.GetMatches(10)
		if err != nil || len(recs) != 1 {
			return false
		}

		byName := map[string]string{}
		for _, c := range recs[0].Clients {
			byName[c.Name] = c.Disposition
		}
		return byName["alice"] == models.DispositionRequeue && byName["bob"] == models.DispositionKick
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAcceptWithoutMatch(t *testing.T) {
	_, ts := newTestServer(t)

	conn := connect(t, ts, "alice")
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: msgAcceptMatch}))

	env := readEnvelope(t, conn)
	assert.Equal(t, topicError, env.Topic)
}

func TestGetServersEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/servers")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var servers []rallypoint.Server
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&servers))
	assert.Len(t, servers, 2)
}
