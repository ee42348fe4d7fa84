package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/dispatch"
	"liveclass/pkg/types"
)

const testSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func newRelay(t *testing.T) string {
	t.Helper()
	application, err := app.NewApplication(config.DefaultConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, endpoint string, opts Options) *Classroom {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, endpoint, "math", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func broadcaster(t *testing.T, endpoint string) *Classroom {
	t.Helper()
	c := dial(t, endpoint, Options{})
	require.NoError(t, c.Login(context.Background(), types.RoleBroadcaster, "Sensei"))
	require.Equal(t, types.RoleBroadcaster, c.Role())
	return c
}

// collect forwards every event of type typ into a channel.
func collect(c *Classroom, typ types.Type) <-chan dispatch.Event {
	ch := make(chan dispatch.Event, 16)
	c.On(typ, func(ctx context.Context, ev dispatch.Event) error {
		ch <- ev
		return nil
	})
	return ch
}

func next(t *testing.T, ch <-chan dispatch.Event) dispatch.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return dispatch.Event{}
	}
}

func TestDial_AssignsID(t *testing.T) {
	endpoint := newRelay(t)
	a := dial(t, endpoint, Options{})
	b := dial(t, endpoint, Options{})

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, types.StateIdle, a.State())
	assert.Equal(t, types.RoleViewer, a.Role())
}

func TestDial_BadEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", "math", Options{})
	assert.Error(t, err)

	_, err = Dial(ctx, "ws://127.0.0.1:1/ws", "math", Options{Codec: "xml"})
	assert.Error(t, err)
}

func TestClassroom_LiveSessionScenario(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)

	require.NoError(t, instructor.control(ctx, types.ActionStart, "JLPT N4 Grammar"))
	assert.Equal(t, types.StatePreviewing, instructor.State())
	assert.Equal(t, "JLPT N4 Grammar", instructor.Topic())
	assert.Equal(t, 0, instructor.ViewerCount())
	assert.False(t, instructor.IsLive())

	require.NoError(t, instructor.StartSession(ctx, ""))
	assert.Equal(t, types.StateLive, instructor.State())
	assert.True(t, instructor.IsLive())
	assert.Equal(t, "JLPT N4 Grammar", instructor.Topic(), "going live keeps the preview topic")

	v1 := dial(t, endpoint, Options{})
	require.NoError(t, v1.Join(ctx, "Aiko"))
	assert.Equal(t, 1, v1.ViewerCount())
	assert.True(t, v1.IsLive())
	assert.Eventually(t, func() bool { return instructor.ViewerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, v1.Close())
	assert.Eventually(t, func() bool { return instructor.ViewerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, instructor.IsLive(), "a viewer leaving does not end the session")

	require.NoError(t, instructor.EndSession(ctx))
	assert.Equal(t, types.StateIdle, instructor.State())
	assert.Equal(t, 0, instructor.ViewerCount())
	assert.Empty(t, instructor.Topic())
}

func TestClassroom_StartSessionFromIdle(t *testing.T) {
	endpoint := newRelay(t)
	instructor := broadcaster(t, endpoint)

	require.NoError(t, instructor.StartSession(context.Background(), "Kanji"))
	assert.True(t, instructor.IsLive())
	assert.Equal(t, "Kanji", instructor.Topic())

	status, err := instructor.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StateLive, status.State)
}

func TestClassroom_EnablePreview(t *testing.T) {
	endpoint := newRelay(t)
	instructor := broadcaster(t, endpoint)

	require.NoError(t, instructor.EnablePreview(context.Background()))
	assert.Equal(t, types.StatePreviewing, instructor.State())

	err := instructor.EnablePreview(context.Background())
	assert.ErrorIs(t, err, types.ErrAlreadyActive)
}

func TestClassroom_Errors(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)
	viewer := dial(t, endpoint, Options{})

	assert.ErrorIs(t, viewer.Join(ctx, ""), types.ErrSessionNotActive)
	assert.ErrorIs(t, viewer.EndSession(ctx), types.ErrNotBroadcaster)
	assert.ErrorIs(t, viewer.Login(ctx, types.RoleBroadcaster, ""), types.ErrAlreadyActive)
	assert.ErrorIs(t, instructor.EndSession(ctx), types.ErrSessionNotActive)
	assert.Equal(t, types.StateIdle, viewer.State(), "rejections change nothing")

	assert.ErrorIs(t, viewer.Signal(instructor.ID(), &types.ChatPayload{Text: "hi"}), ErrNotSignaling)
	assert.ErrorIs(t, viewer.SendMessage("Aiko", "  "), types.ErrInvalidEnvelope)
}

func TestClassroom_ChatAndReplay(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)
	require.NoError(t, instructor.StartSession(ctx, "Kana"))

	early := dial(t, endpoint, Options{})
	require.NoError(t, early.Join(ctx, "Aiko"))

	require.NoError(t, instructor.SendMessage("Sensei", "welcome"))
	require.Len(t, instructor.ChatMessages(), 1, "own messages are kept locally")

	assert.Eventually(t, func() bool { return len(early.ChatMessages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "welcome", early.ChatMessages()[0].Text)

	late := dial(t, endpoint, Options{})
	require.NoError(t, late.Join(ctx, "Kenji"))
	require.Len(t, late.ChatMessages(), 1, "the log is replayed before the join completes")
	assert.Equal(t, "Sensei", late.ChatMessages()[0].User)

	require.NoError(t, instructor.EndSession(ctx))
	assert.Empty(t, instructor.ChatMessages())
	assert.Eventually(t, func() bool { return len(late.ChatMessages()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClassroom_JoinReplayDoesNotDuplicateChat(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)
	require.NoError(t, instructor.StartSession(ctx, "Kana"))

	viewer := dial(t, endpoint, Options{})
	require.NoError(t, instructor.SendMessage("Sensei", "welcome"))
	assert.Eventually(t, func() bool { return len(viewer.ChatMessages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, viewer.Join(ctx, "Aiko"))
	require.NoError(t, viewer.SendMessage("Aiko", "hello"))
	assert.Eventually(t, func() bool { return len(instructor.ChatMessages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// a second viewer joining replays both messages; nobody else should grow
	late := dial(t, endpoint, Options{})
	require.NoError(t, late.Join(ctx, "Kenji"))
	require.Len(t, late.ChatMessages(), 2)

	msgs := viewer.ChatMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "welcome", msgs[0].Text)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Len(t, instructor.ChatMessages(), 2)
}

func TestClassroom_SignalingAndMedia(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)
	require.NoError(t, instructor.StartSession(ctx, "Kana"))

	viewer := dial(t, endpoint, Options{})
	offers := collect(viewer, types.TypeOffer)
	media := collect(viewer, types.TypeMediaState)
	instructorErrors := collect(instructor, types.TypeError)

	require.NoError(t, instructor.Signal(viewer.ID(), &types.OfferPayload{SDP: testSDP}))
	ev := next(t, offers)
	assert.Equal(t, instructor.ID(), ev.From)
	assert.Equal(t, testSDP, ev.Payload.(*types.OfferPayload).SDP)

	require.NoError(t, instructor.ToggleMic(true))
	ev = next(t, media)
	assert.Equal(t, types.MediaStatePayload{Mic: true}, *ev.Payload.(*types.MediaStatePayload))
	require.NoError(t, instructor.ToggleCamera(true))
	ev = next(t, media)
	assert.Equal(t, types.MediaStatePayload{Mic: true, Camera: true}, *ev.Payload.(*types.MediaStatePayload))
	assert.Equal(t, types.MediaStatePayload{Mic: true, Camera: true}, instructor.MediaState())

	require.NoError(t, instructor.Signal("nobody", &types.CandidatePayload{}))
	ev = next(t, instructorErrors)
	assert.Equal(t, types.CodeRecipientNotFound, ev.Payload.(*types.ErrorPayload).Code)
}

func TestClassroom_Msgpack(t *testing.T) {
	endpoint := newRelay(t)
	instructor := dial(t, endpoint, Options{Codec: "msgpack"})

	require.NoError(t, instructor.Login(context.Background(), types.RoleBroadcaster, ""))
	require.NoError(t, instructor.StartSession(context.Background(), "Binary"))
	assert.True(t, instructor.IsLive())
}

func TestClassroom_OffAndHandlersMayRequest(t *testing.T) {
	endpoint := newRelay(t)
	ctx := context.Background()
	instructor := broadcaster(t, endpoint)
	viewer := dial(t, endpoint, Options{})

	// a handler that issues a request must not stall the read loop
	joined := make(chan error, 1)
	sub := viewer.On(types.TypeSessionStatus, func(ctx context.Context, ev dispatch.Event) error {
		if ev.Payload.(*types.SessionStatusPayload).Action == types.ActionGoLive {
			joined <- viewer.Join(ctx, "Aiko")
		}
		return nil
	})
	require.NoError(t, instructor.StartSession(ctx, "Kana"))

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("handler request never completed")
	}
	assert.True(t, viewer.Off(types.TypeSessionStatus, sub))
	assert.False(t, viewer.Off(types.TypeSessionStatus, sub))
}

func TestClassroom_Close(t *testing.T) {
	endpoint := newRelay(t)
	c := dial(t, endpoint, Options{})

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	<-c.Done()

	_, err := c.GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.ToggleMic(true), ErrClosed)
}
