package session

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabrelay/pkg/config"
	"collabrelay/pkg/crdt"
	"collabrelay/pkg/room"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, capacity int, allowedOrigins []string) (*httptest.Server, string) {
	t.Helper()
	cfg := &config.Config{
		RelayPath:                  "/yjs",
		DefaultRoom:                "bytetogether",
		Capacity:                   capacity,
		AllowedOrigins:             allowedOrigins,
		ProtocolViolationThreshold: 5,
	}
	registry := room.NewRegistry(cfg.Capacity, crdt.NewEngine())
	gate := NewGate(cfg, registry)

	srv := httptest.NewServer(gate)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, wsURL, room, origin string, clientID int, username string, admin bool) *websocket.Conn {
	t.Helper()
	u := wsURL + "?room=" + room + "&clientId=" + itoa(clientID) + "&username=" + username
	if admin {
		u += "&admin=true"
	}
	header := make(map[string][]string)
	if origin != "" {
		header["Origin"] = []string{origin}
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	return conn
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCapacityRejectionSendsRoomFullAndCloses4001(t *testing.T) {
	srv, wsURL := testServer(t, 2, nil)
	defer srv.Close()

	a := dial(t, wsURL, "r2", "", 1, "A", true)
	defer a.Close()
	b := dial(t, wsURL, "r2", "", 2, "B", false)
	defer b.Close()

	u := wsURL + "?room=r2&clientId=3&username=C"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "room-full")

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, 4001, closeErr.Code)
	assert.Equal(t, "Room is full", closeErr.Text)
}

func TestOriginRejectionDestroysSocketWithoutHandshake(t *testing.T) {
	srv, wsURL := testServer(t, 5, []string{"https://example.test"})
	defer srv.Close()

	u := wsURL + "?room=r6&clientId=1"
	header := map[string][]string{"Origin": {"https://attacker.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, 101, resp.StatusCode, "handshake must not complete for a disallowed origin")
	}
}

func TestAdmissionBroadcastsClientUpdateOverTheWire(t *testing.T) {
	srv, wsURL := testServer(t, 5, nil)
	defer srv.Close()

	a := dial(t, wsURL, "r1", "", 1, "A", true)
	defer a.Close()

	b := dial(t, wsURL, "r1", "", 2, "B", false)
	defer b.Close()

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	// A's first frame is its own Sync Engine handshake from admission.
	kind, _, err := a.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	_, msg, err := a.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "client-update")
	assert.Contains(t, string(msg), `"username":"B"`)
}
