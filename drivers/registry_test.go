package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair returns a connected server-side and client-side websocket pair.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConns
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func TestRegistrySendDeliversToClient(t *testing.T) {
	registry := NewPushRegistry(slog.Default())
	serverConn, clientConn := wsPair(t)

	client := registry.Register("driver-1", serverConn)
	defer registry.Unregister("driver-1", client)

	require.NoError(t, registry.Send("driver-1", []byte(`{"type":"connection_ack"}`)))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection_ack"}`, string(payload))
}

func TestRegistrySendToUnknownDriver(t *testing.T) {
	registry := NewPushRegistry(slog.Default())
	err := registry.Send("nobody", []byte("x"))
	assert.ErrorIs(t, err, ErrDriverNotConnected)
}

func TestRegistryReconnectEvictsPreviousConnection(t *testing.T) {
	registry := NewPushRegistry(slog.Default())

	firstServer, firstClient := wsPair(t)
	secondServer, secondClient := wsPair(t)

	first := registry.Register("driver-1", firstServer)
	second := registry.Register("driver-1", secondServer)

	// The first connection was closed by the eviction.
	firstClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := firstClient.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, registry.Send("driver-1", []byte("hola")))
	secondClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := secondClient.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hola", string(payload))

	// Unregistering the stale handle must not evict the live one.
	registry.Unregister("driver-1", first)
	assert.True(t, registry.Connected("driver-1"))

	registry.Unregister("driver-1", second)
	assert.False(t, registry.Connected("driver-1"))
}

func TestRegistryUnregisterStopsDelivery(t *testing.T) {
	registry := NewPushRegistry(slog.Default())
	serverConn, _ := wsPair(t)

	client := registry.Register("driver-1", serverConn)
	registry.Unregister("driver-1", client)

	err := registry.Send("driver-1", []byte("x"))
	assert.ErrorIs(t, err, ErrDriverNotConnected)
}
