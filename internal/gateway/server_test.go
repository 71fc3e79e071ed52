package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/auth"
	"github.com/starbridge/observatoryd/internal/protocol"
)

func newTestServer(t *testing.T, provider auth.Provider, opts Options) (*httptest.Server, string) {
	t.Helper()
	hub := NewHub(nil)
	srv := NewServer(hub, provider, opts, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp protocol.Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestPingRoundTrip(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.Request{Type: "system", Event: "remotePing"}))
	resp := readReply(t, conn)
	assert.Equal(t, "remotePing", resp.Event)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, uint64(1), resp.ID)
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	resp := readReply(t, conn)
	assert.Equal(t, protocol.StatusError, resp.Status)
	params, ok := resp.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ProtocolError", params["kind"])

	// The connection survives and still serves requests.
	require.NoError(t, conn.WriteJSON(protocol.Request{Type: "system", Event: "remotePing"}))
	resp = readReply(t, conn)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestUnknownRoute(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.Request{Type: "camera", Event: "remoteMakeCoffee"}))
	resp := readReply(t, conn)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "unknown operation")
}

func TestMissingTypeOrEvent(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.Request{Event: "remotePing"}))
	resp := readReply(t, conn)
	assert.Equal(t, protocol.StatusError, resp.Status)
}

func TestUnconfiguredDevice(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.Request{Type: "camera", Event: "remoteGetExposureStatus"}))
	resp := readReply(t, conn)
	assert.Equal(t, protocol.StatusError, resp.Status)
	params, ok := resp.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Unsupported", params["kind"])
}

func TestEventIDsAreMonotonic(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	for want := uint64(1); want <= 3; want++ {
		require.NoError(t, conn.WriteJSON(protocol.Request{Type: "system", Event: "remotePing"}))
		resp := readReply(t, conn)
		assert.Equal(t, want, resp.ID)
	}
}

func TestConnectionLimit(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{MaxConnections: 1})
	dial(t, url)

	over, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer over.Close()

	// The server refuses the session with a close frame instead of
	// servicing requests.
	over.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = over.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestAuthRefusal(t *testing.T) {
	jwtAuth := auth.NewJWT("secret", nil, time.Hour, nil)
	_, url := newTestServer(t, jwtAuth, Options{})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDashboardSetupListsDevices(t *testing.T) {
	_, url := newTestServer(t, auth.Open{}, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.Request{Type: "system", Event: "remoteDashboardSetup"}))
	resp := readReply(t, conn)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}
