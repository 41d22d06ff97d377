package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openmentor/livesession/internal/config"
	"github.com/openmentor/livesession/internal/core"
	"github.com/openmentor/livesession/internal/protocol"
	"github.com/openmentor/livesession/internal/relay"
)

func newSignalServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{ReadLimit: 32768, PingPeriod: 54 * time.Second}
	srv := relay.NewServer(core.NewRegistry(), relay.DevKeyAuthenticator{Key: "dev", User: "alice"})
	ctl := NewWSController(srv, cfg)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if token, err := c.Cookie("ct"); err == nil {
			c.Set("client_token", token)
		}
		ctl.HandleSignal(context.Background(), c)
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func dialSignal(t *testing.T, ts *httptest.Server, cookie string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{"Cookie": {"ct=" + cookie}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	typ, err := protocol.PeekType(data)
	require.NoError(t, err)
	return typ
}

func authAndJoin(t *testing.T, conn *websocket.Conn, room string) string {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Authenticate{Type: protocol.TypeAuthenticate, DevKey: "dev"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var authed protocol.Authenticated
	require.NoError(t, json.Unmarshal(data, &authed))
	require.True(t, authed.Success)

	require.NoError(t, conn.WriteJSON(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: room}))
	return readType(t, conn)
}

// A reconnecting browser opens its new socket before the old one times
// out. The registry must see two independent connections, never a
// collision on a shared browser-level identifier.
func TestOverlappingReconnectFromSameBrowser(t *testing.T) {
	ts := newSignalServer(t)

	first := dialSignal(t, ts, "same-browser")
	require.Equal(t, protocol.TypeRoomMembers, authAndJoin(t, first, "room-1"))

	second := dialSignal(t, ts, "same-browser")
	require.Equal(t, protocol.TypeRoomMembers, authAndJoin(t, second, "room-1"),
		"second socket must join while the first is still alive")

	// The first socket hears about the newcomer.
	require.Equal(t, protocol.TypeUserJoined, readType(t, first))
}

func TestSecondTabJoinsOwnRoom(t *testing.T) {
	ts := newSignalServer(t)

	tab1 := dialSignal(t, ts, "same-browser")
	require.Equal(t, protocol.TypeRoomMembers, authAndJoin(t, tab1, "room-a"))

	tab2 := dialSignal(t, ts, "same-browser")
	require.Equal(t, protocol.TypeRoomMembers, authAndJoin(t, tab2, "room-b"))
}
