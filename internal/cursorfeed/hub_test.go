package cursorfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsCursorEventsToConnectedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the hub's Run loop a moment to register the client before the
	// first broadcast, since registration is itself asynchronous.
	time.Sleep(20 * time.Millisecond)

	hub.BroadcastCursor(3, 10, "SaveRestore(key)")

	var event CursorEvent
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&event))

	require.Equal(t, 3, event.Pos)
	require.Equal(t, 10, event.Total)
	require.Equal(t, "SaveRestore(key)", event.DebugString)
}

func TestHub_Observer_ForwardsToBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	observer := hub.Observer()
	observer(1, 1, "first")

	var event CursorEvent
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, 1, event.Pos)
	require.Equal(t, "first", event.DebugString)
}
