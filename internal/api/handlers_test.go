package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/synapse/internal/auth"
	"github.com/ernie/synapse/internal/puzzle"
	"github.com/ernie/synapse/internal/session"
	"github.com/ernie/synapse/internal/storage"
)

type fixedProvider struct {
	dates map[string][]byte
}

func (p *fixedProvider) Fetch(_ context.Context, date string) ([]byte, error) {
	data, ok := p.dates[date]
	if !ok {
		return nil, puzzle.ErrNotFound
	}
	return data, nil
}

type testEnv struct {
	server *httptest.Server
	store  *storage.Store
	auth   *auth.Service
}

func newTestEnv(t *testing.T, oauth OAuthConfig) *testEnv {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fixedProvider{dates: map[string][]byte{
		"2025-03-10": []byte(`{"id":642,"categories":[]}`),
	}}
	authService := auth.NewService("test-secret", time.Hour)
	router := NewRouter(session.NewService(store), store, puzzle.NewCache(provider), authService, oauth)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, store: store, auth: authService}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp, decodeResponse(t, resp)
}

func (e *testEnv) getJSON(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, body := env.postJSON(t, "/sessions/start", map[string]string{
		"sessionId": "msg-1",
		"guildId":   "guild-1",
		"channelId": "chan-1",
		"gameDate":  "2025-03-10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = env.postJSON(t, "/sessions/msg-1/join", map[string]string{
		"userId":   "user-1",
		"username": "alice",
		"guildId":  "guild-1",
		"gameDate": "2025-03-10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	userSessionID, _ := body["userSessionId"].(string)
	require.NotEmpty(t, userSessionID)

	resp, body = env.postJSON(t, "/sessions/"+userSessionID+"/update", map[string]interface{}{
		"guessHistory": []map[string]interface{}{
			{"words": []string{"a", "b", "c", "d"}, "correct": true, "difficulty": 0},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "msg-1", body["messageSessionId"])
	assert.Equal(t, "user-1", body["userId"])

	resp, body = env.getJSON(t, "/sessions/lookup/chan-1/user-1?date=2025-03-10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "msg-1", body["sessionId"])
	history, _ := body["guessHistory"].([]interface{})
	assert.Len(t, history, 1)

	resp, body = env.getJSON(t, "/sessions/msg-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	players, _ := body["players"].(map[string]interface{})
	assert.Contains(t, players, "user-1")
}

func TestJoinUnknownSession(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, _ := env.postJSON(t, "/sessions/no-such/join", map[string]string{
		"userId":   "user-1",
		"gameDate": "2025-03-10",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateUnknownUserSession(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, _ := env.postJSON(t, "/sessions/guild_user_2025-03-10/update", map[string]interface{}{
		"guessHistory": []map[string]interface{}{},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLookupWithoutDate(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, _ := env.getJSON(t, "/sessions/lookup/chan-1/user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompleteGameAndGameState(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, body := env.postJSON(t, "/gamestate/guild-1/2025-03-10/complete", map[string]interface{}{
		"userId":   "user-1",
		"username": "alice",
		"score":    4,
		"mistakes": 1,
		"guessHistory": []map[string]interface{}{
			{"words": []string{"a", "b", "c", "d"}, "correct": true, "difficulty": 3},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = env.getJSON(t, "/gamestate/guild-1/2025-03-10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-03-10", body["date"])
	players, _ := body["players"].(map[string]interface{})
	require.Contains(t, players, "user-1")
	entry, _ := players["user-1"].(map[string]interface{})
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, float64(4), entry["score"])
	assert.Equal(t, float64(1), entry["mistakes"])
}

func TestDeleteEndpointsRequireServiceToken(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/sessions/msg-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := env.auth.GenerateToken("bot")
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodDelete, env.server.URL+"/sessions/msg-1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteGameResultClearsSession(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	env.postJSON(t, "/sessions/start", map[string]string{
		"sessionId": "msg-1", "guildId": "guild-1", "channelId": "chan-1", "gameDate": "2025-03-10",
	})
	env.postJSON(t, "/sessions/msg-1/join", map[string]string{
		"userId": "user-1", "username": "alice", "guildId": "guild-1", "gameDate": "2025-03-10",
	})
	env.postJSON(t, "/gamestate/guild-1/2025-03-10/complete", map[string]interface{}{
		"userId": "user-1", "username": "alice", "score": 2, "mistakes": 4,
	})

	token, err := env.auth.GenerateToken("bot")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/gamestate/guild-1/2025-03-10/user-1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state, _ := body["gameState"].(map[string]interface{})
	players, _ := state["players"].(map[string]interface{})
	assert.NotContains(t, players, "user-1")

	// The old user session mapping is gone too
	resp, lookup := env.getJSON(t, "/sessions/lookup/chan-1/user-1?date=2025-03-10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, lookup["found"])
}

func TestPuzzleProxy(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, body := env.getJSON(t, "/puzzle/2025-03-10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(642), body["id"])

	resp, _ = env.getJSON(t, "/puzzle/2025-03-11")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.getJSON(t, "/puzzle/not-a-date")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTokenExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "app-id", r.FormValue("client_id"))
		assert.Equal(t, "secret", r.FormValue("client_secret"))
		fmt.Fprintf(w, `{"access_token":"tok-%s"}`, r.FormValue("code"))
	}))
	defer upstream.Close()

	env := newTestEnv(t, OAuthConfig{
		ClientID:     "app-id",
		ClientSecret: "secret",
		TokenURL:     upstream.URL,
	})

	resp, body := env.postJSON(t, "/token", map[string]string{"code": "abc123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tok-abc123", body["access_token"])

	resp, _ = env.postJSON(t, "/token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/sessions/start", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://discord.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://discord.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, OAuthConfig{})

	resp, body := env.getJSON(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
