package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

func newTestApiServer(t *testing.T) (*httptest.Server, *Config, *pipelineFixture) {
	t.Helper()
	config := NewConfig()
	config.Socket.ServerKey = "test-key"

	f := newPipelineFixture(t, nil)
	metrics := NewScopedMetrics(zap.NewNop(), tally.NoopScope)
	acceptor := NewSocketWsAcceptor(zap.NewNop(), config, f.store, f.players, metrics, f.pipeline)

	srv := httptest.NewServer(NewApiRouter(zap.NewNop(), f.games, f.players, metrics, acceptor))
	t.Cleanup(srv.Close)
	return srv, config, f
}

func TestSocketWsAcceptorRejectsBadTokens(t *testing.T) {
	srv, config, _ := newTestApiServer(t)
	expired, _ := generateTokenWithExpiry(config.Socket.ServerKey, 1, "alice", time.Now().Add(-time.Minute))
	foreign, _ := generateTokenWithExpiry("other-key", 1, "alice", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		query  string
	}{
		{"missing", "", ""},
		{"not bearer", "Basic YWxpY2U6", ""},
		{"expired", "Bearer " + expired, ""},
		{"wrong key", "", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws?token="+tt.query, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestSocketWsAcceptorSession(t *testing.T) {
	srv, config, f := newTestApiServer(t)
	token, _ := generateTokenWithExpiry(config.Socket.ServerKey, 1, "alice", time.Now().Add(time.Hour))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": []string{"Bearer " + token}})
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.players.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command": "game_host", "args": ["My game", "scmp_007"]}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var launch struct {
		Command string            `json:"command"`
		Args    []json.RawMessage `json:"args"`
	}
	require.NoError(t, conn.ReadJSON(&launch))
	assert.Equal(t, "game_launch", launch.Command)
	require.Len(t, launch.Args, 3)

	listResp, err := http.Get(srv.URL + "/v1/games")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var listing struct {
		Games  []gameSummary `json:"games"`
		Online int           `json:"online"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Online)
	require.Len(t, listing.Games, 1)
	assert.Equal(t, "My game", listing.Games[0].Name)
	assert.Equal(t, int64(1), listing.Games[0].HostID)
	assert.Equal(t, "INITIALIZING", listing.Games[0].State)
	assert.Equal(t, "global", listing.Games[0].RatingContext)

	// Disconnecting abandons the game the player was hosting.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return f.players.Count() == 0 && f.games.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestApiHealthcheck(t *testing.T) {
	srv, _, _ := newTestApiServer(t)

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExtractClientAddressFromRequest(t *testing.T) {
	tests := []struct {
		remoteAddr string
		wantIP     string
		wantPort   string
	}{
		{"10.0.0.1:50000", "10.0.0.1", "50000"},
		{"[::1]:6112", "::1", "6112"},
		{"203.0.113.9", "203.0.113.9", ""},
	}

	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			ip, port := extractClientAddressFromRequest(zap.NewNop(), r)
			assert.Equal(t, tt.wantIP, ip)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestPlayerRegistryStopEndsHostedGames(t *testing.T) {
	srv, config, f := newTestApiServer(t)
	token, _ := generateTokenWithExpiry(config.Socket.ServerKey, 1, "alice", time.Now().Add(time.Hour))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command": "game_host", "args": ["Shutdown", "scmp_007"]}`)))
	require.Eventually(t, func() bool { return f.games.Count() == 1 }, time.Second, 10*time.Millisecond)

	// Closing every session at shutdown ends the games they were in.
	f.players.Stop()
	require.Eventually(t, func() bool { return f.games.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, f.sink.Outcomes(), 1)
	assert.Nil(t, f.sink.Outcomes()[0].Ratings)
}
