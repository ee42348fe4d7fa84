// Package integration drives a whole relay over real websockets.
package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/pkg/types"
)

// StartRelay runs a relay behind an httptest server and returns its base URL.
func StartRelay(t *testing.T, cfg *config.Config) string {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
		srv.Close()
	})
	return srv.URL
}

// TestClient is a raw wire-level participant. Every envelope it receives is
// buffered in arrival order.
type TestClient struct {
	ID   types.ClientID
	Room string

	conn     *websocket.Conn
	messages chan *types.Envelope
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewTestClient connects to room and waits for the relay's welcome.
func NewTestClient(t *testing.T, serverURL, room string) *TestClient {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("invalid server URL: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	tc := &TestClient{
		Room:     room,
		conn:     conn,
		messages: make(chan *types.Envelope, 1024),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)

	welcome := tc.Expect(t, types.TypeLogin)
	tc.ID = welcome.Payload.(*types.LoginPayload).ClientID
	tc.Expect(t, types.TypeSessionStatus)
	return tc
}

func (tc *TestClient) readLoop() {
	defer close(tc.messages)
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := types.JSONCodec.Decode(data)
		if err != nil {
			continue
		}
		select {
		case tc.messages <- env:
		case <-tc.done:
			return
		}
	}
}

// Send writes one envelope. Its id is set from ref when ref is non-empty so
// replies can be matched.
func (tc *TestClient) Send(t *testing.T, p types.Payload, to types.ClientID, ref string) {
	t.Helper()
	env := types.NewEnvelope(p)
	env.To = to
	env.ID = ref
	data, err := types.JSONCodec.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	if err := tc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// Control sends a broadcaster command and waits for the status it caused.
func (tc *TestClient) Control(t *testing.T, action types.Action, topic string) *types.SessionStatusPayload {
	t.Helper()
	ref := fmt.Sprintf("%s-%d", action, time.Now().UnixNano())
	tc.Send(t, &types.SessionStatusPayload{Action: action, Topic: topic}, "", ref)
	env := tc.ExpectRef(t, ref)
	if env.Type != types.TypeSessionStatus {
		t.Fatalf("%s failed: %+v", action, env.Payload)
	}
	return env.Payload.(*types.SessionStatusPayload)
}

// Expect returns the next envelope of type typ, discarding others.
func (tc *TestClient) Expect(t *testing.T, typ types.Type) *types.Envelope {
	t.Helper()
	return tc.expect(t, func(env *types.Envelope) bool { return env.Type == typ }, string(typ))
}

// ExpectRef returns the next envelope referencing ref, discarding others.
func (tc *TestClient) ExpectRef(t *testing.T, ref string) *types.Envelope {
	t.Helper()
	return tc.expect(t, func(env *types.Envelope) bool { return env.Ref == ref }, "ref "+ref)
}

func (tc *TestClient) expect(t *testing.T, match func(*types.Envelope) bool, what string) *types.Envelope {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-tc.messages:
			if !ok {
				t.Fatalf("%s: connection closed while waiting for %s", tc.ID, what)
			}
			if match(env) {
				return env
			}
		case <-timeout:
			t.Fatalf("%s: timed out waiting for %s", tc.ID, what)
			return nil
		}
	}
}

// ExpectNone fails if an envelope of type typ arrives within wait.
func (tc *TestClient) ExpectNone(t *testing.T, typ types.Type, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case env, ok := <-tc.messages:
			if !ok {
				return
			}
			if env.Type == typ {
				t.Fatalf("%s: unexpected %s: %+v", tc.ID, typ, env.Payload)
			}
		case <-timeout:
			return
		}
	}
}

func (tc *TestClient) Close() {
	tc.closeOnce.Do(func() {
		close(tc.done)
		_ = tc.conn.Close()
	})
}
