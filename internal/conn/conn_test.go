package conn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newTestServer(t *testing.T, mgr *Manager, onCommand func(playerID, text string)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		mgr.Register("player-1", wsConn, onCommand)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func TestRegisterAndSendToPlayer(t *testing.T) {
	mgr := NewManager(8, zap.NewNop())
	srv, url := newTestServer(t, mgr, func(string, string) {})
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return mgr.Connected("player-1") }, time.Second, 10*time.Millisecond)

	mgr.SendToPlayer("player-1", ServerMessage{Kind: Welcome, Text: "hello"})

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestReadPumpForwardsCommands(t *testing.T) {
	received := make(chan string, 1)
	mgr := NewManager(8, zap.NewNop())
	srv, url := newTestServer(t, mgr, func(playerID, text string) {
		received <- text
	})
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(ClientMessage{Kind: Command, Text: "look"}))

	select {
	case text := <-received:
		require.Equal(t, "look", text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func TestReconnectDisplacesPriorSession(t *testing.T) {
	mgr := NewManager(8, zap.NewNop())
	srv, url := newTestServer(t, mgr, func(string, string) {})
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return mgr.Connected("player-1") }, time.Second, 10*time.Millisecond)
	firstSession, _ := mgr.Get("player-1")

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool {
		cur, ok := mgr.Get("player-1")
		return ok && cur != firstSession
	}, time.Second, 10*time.Millisecond)
}
