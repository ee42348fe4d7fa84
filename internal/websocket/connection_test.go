package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// socketPair returns the server and client ends of a real websocket.
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.Close() })
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil, nil
	}
}

func TestConnection_SendWritesFrames(t *testing.T) {
	server, client := socketPair(t)
	conn := NewConnection(server, "a", "math", types.JSONCodec, DefaultOptions())
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Send(types.NewEnvelope(&types.ChatPayload{User: "ada", Text: "hi"})))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, frame)

	env, err := types.JSONCodec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hi", env.Payload.(*types.ChatPayload).Text)
}

func TestConnection_SendQueueFull(t *testing.T) {
	server, _ := socketPair(t)
	conn := &Connection{
		conn:    server,
		id:      "slow",
		codec:   types.JSONCodec,
		writeCh: make(chan []byte, 1),
	}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() { _ = conn.Close() })

	// no writer is running, so the second envelope has nowhere to go
	require.NoError(t, conn.Send(types.NewEnvelope(&types.GetStatusPayload{})))
	assert.ErrorIs(t, conn.Send(types.NewEnvelope(&types.GetStatusPayload{})), interfaces.ErrSendQueueFull)
}

func TestConnection_SendAfterClose(t *testing.T) {
	server, client := socketPair(t)
	conn := NewConnection(server, "a", "math", types.JSONCodec, DefaultOptions())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")

	assert.ErrorIs(t, conn.Send(types.NewEnvelope(&types.GetStatusPayload{})), interfaces.ErrConnectionClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}

func TestConnection_Pings(t *testing.T) {
	server, client := socketPair(t)
	conn := NewConnection(server, "a", "math", types.JSONCodec, Options{PingInterval: 20 * time.Millisecond})
	t.Cleanup(func() { _ = conn.Close() })

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
