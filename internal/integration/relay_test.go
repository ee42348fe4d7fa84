package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/api"
	"liveclass/internal/config"
	"liveclass/pkg/types"
)

func login(t *testing.T, c *TestClient, role types.Role) {
	t.Helper()
	ref := "login-" + string(c.ID)
	c.Send(t, &types.LoginPayload{Role: role}, "", ref)
	env := c.ExpectRef(t, ref)
	require.Equal(t, types.TypeLogin, env.Type, "login rejected: %+v", env.Payload)
}

func join(t *testing.T, c *TestClient) *types.Envelope {
	t.Helper()
	ref := "join-" + string(c.ID)
	c.Send(t, &types.JoinPayload{}, "", ref)
	return c.ExpectRef(t, ref)
}

func liveRoom(t *testing.T, cfg *config.Config) (string, *TestClient) {
	t.Helper()
	url := StartRelay(t, cfg)
	b := NewTestClient(t, url, "math")
	login(t, b, types.RoleBroadcaster)
	b.Control(t, types.ActionStart, "Kana")
	b.Control(t, types.ActionGoLive, "")
	return url, b
}

func TestRelay_LiveSessionScenario(t *testing.T) {
	url := StartRelay(t, nil)
	b := NewTestClient(t, url, "math")
	login(t, b, types.RoleBroadcaster)

	status := b.Control(t, types.ActionStart, "JLPT N4 Grammar")
	assert.Equal(t, types.StatePreviewing, status.State)
	assert.Equal(t, "JLPT N4 Grammar", status.Topic)
	assert.Equal(t, 0, status.ViewerCount)

	status = b.Control(t, types.ActionGoLive, "")
	assert.Equal(t, types.StateLive, status.State)
	assert.True(t, status.IsLive)

	v1 := NewTestClient(t, url, "math")
	reply := join(t, v1)
	require.Equal(t, types.TypeSessionStatus, reply.Type)
	status = reply.Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.StateLive, status.State)
	assert.Equal(t, 1, status.ViewerCount)
	assert.Equal(t, []types.ClientID{v1.ID}, status.Viewers)

	seen := b.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.ActionJoin, seen.Action)
	assert.Equal(t, 1, seen.ViewerCount)

	v1.Close()
	seen = b.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.ActionLeave, seen.Action)
	assert.Equal(t, 0, seen.ViewerCount)
	assert.Equal(t, types.StateLive, seen.State, "the session outlives its viewers")

	status = b.Control(t, types.ActionEnd, "")
	assert.Equal(t, types.StateIdle, status.State)
	assert.Empty(t, status.Viewers)
	assert.Zero(t, status.ViewerCount)
}

func TestRelay_JoinWhileIdle(t *testing.T) {
	url := StartRelay(t, nil)
	b := NewTestClient(t, url, "math")
	login(t, b, types.RoleBroadcaster)
	v := NewTestClient(t, url, "math")

	reply := join(t, v)
	require.Equal(t, types.TypeError, reply.Type)
	assert.Equal(t, types.CodeSessionNotActive, reply.Payload.(*types.ErrorPayload).Code)

	b.ExpectNone(t, types.TypeSessionStatus, 200*time.Millisecond)
}

func TestRelay_IdleToLiveRejected(t *testing.T) {
	url := StartRelay(t, nil)
	b := NewTestClient(t, url, "math")
	login(t, b, types.RoleBroadcaster)

	b.Send(t, &types.SessionStatusPayload{Action: types.ActionGoLive}, "", "skip")
	reply := b.ExpectRef(t, "skip")
	require.Equal(t, types.TypeError, reply.Type)
	assert.Equal(t, types.CodeInvalidTransition, reply.Payload.(*types.ErrorPayload).Code)

	b.Control(t, types.ActionStart, "")
	b.Send(t, &types.SessionStatusPayload{Action: types.ActionStart}, "", "again")
	reply = b.ExpectRef(t, "again")
	assert.Equal(t, types.CodeAlreadyActive, reply.Payload.(*types.ErrorPayload).Code)
}

func TestRelay_PerSenderOrderAndSelfExclusion(t *testing.T) {
	url, b := liveRoom(t, nil)
	v := NewTestClient(t, url, "math")
	join(t, v)

	const n = 150
	for i := 0; i < n; i++ {
		b.Send(t, &types.ChatPayload{User: "Sensei", Text: fmt.Sprintf("%d", i)}, "", "")
	}
	for i := 0; i < n; i++ {
		env := v.Expect(t, types.TypeChat)
		require.Equal(t, fmt.Sprintf("%d", i), env.Payload.(*types.ChatPayload).Text)
		assert.Equal(t, b.ID, env.From)
	}

	b.ExpectNone(t, types.TypeChat, 200*time.Millisecond)
}

func TestRelay_UnicastSignaling(t *testing.T) {
	url, b := liveRoom(t, nil)
	v1 := NewTestClient(t, url, "math")
	v2 := NewTestClient(t, url, "math")

	b.Send(t, &types.CandidatePayload{Candidate: "candidate:1 1 UDP 2122252543 192.0.2.1 54321 typ host"}, v1.ID, "")
	env := v1.Expect(t, types.TypeCandidate)
	assert.Equal(t, b.ID, env.From)
	assert.Equal(t, v1.ID, env.To)
	v2.ExpectNone(t, types.TypeCandidate, 200*time.Millisecond)

	b.Send(t, &types.CandidatePayload{}, "gone", "lost")
	reply := b.ExpectRef(t, "lost")
	assert.Equal(t, types.CodeRecipientNotFound, reply.Payload.(*types.ErrorPayload).Code)
}

func TestRelay_RoomIsolation(t *testing.T) {
	url := StartRelay(t, nil)
	math := NewTestClient(t, url, "math")
	math2 := NewTestClient(t, url, "math")
	art := NewTestClient(t, url, "art")

	math.Send(t, &types.ChatPayload{User: "a", Text: "only math"}, "", "")
	math2.Expect(t, types.TypeChat)
	art.ExpectNone(t, types.TypeChat, 200*time.Millisecond)

	math.Send(t, &types.OfferPayload{SDP: "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}, art.ID, "cross")
	reply := math.ExpectRef(t, "cross")
	assert.Equal(t, types.CodeRecipientNotFound, reply.Payload.(*types.ErrorPayload).Code)
}

func TestRelay_BroadcasterTakeover(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Room.BroadcasterGrace = 5 * time.Second
	url, b := liveRoom(t, cfg)
	v := NewTestClient(t, url, "math")
	join(t, v)

	b.Close()
	paused := v.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.ActionPause, paused.Action)
	assert.Equal(t, types.StateLive, paused.State)

	b2 := NewTestClient(t, url, "math")
	login(t, b2, types.RoleBroadcaster)
	resumed := v.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.ActionResume, resumed.Action)
	assert.Equal(t, b2.ID, resumed.Broadcaster)
	assert.Equal(t, 1, resumed.ViewerCount, "viewers are undisturbed")
}

func TestRelay_GraceExpiry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Room.BroadcasterGrace = 100 * time.Millisecond
	url, b := liveRoom(t, cfg)
	v := NewTestClient(t, url, "math")
	join(t, v)

	b.Close()
	assert.Equal(t, types.ActionPause, v.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload).Action)
	ended := v.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
	assert.Equal(t, types.ActionEnd, ended.Action)
	assert.Equal(t, types.StateIdle, ended.State)
}

func TestRelay_RateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Limit = 5
	cfg.RateLimit.Window = time.Minute
	url := StartRelay(t, cfg)
	c := NewTestClient(t, url, "math")

	for i := 0; i < 8; i++ {
		c.Send(t, &types.GetStatusPayload{}, "", fmt.Sprintf("r%d", i))
	}
	assert.Equal(t, types.TypeSessionStatus, c.ExpectRef(t, "r4").Type)
	reply := c.ExpectRef(t, "r5")
	require.Equal(t, types.TypeError, reply.Type)
	assert.Equal(t, types.CodeRateLimited, reply.Payload.(*types.ErrorPayload).Code)
}

func TestRelay_InvalidEnvelopes(t *testing.T) {
	url := StartRelay(t, nil)
	c := NewTestClient(t, url, "math")

	c.Send(t, &types.LoginPayload{Role: "admin"}, "", "bad-role")
	assert.Equal(t, types.CodeInvalidEnvelope, c.ExpectRef(t, "bad-role").Payload.(*types.ErrorPayload).Code)

	c.Send(t, &types.OfferPayload{SDP: "garbage"}, c.ID, "bad-sdp")
	assert.Equal(t, types.CodeInvalidEnvelope, c.ExpectRef(t, "bad-sdp").Payload.(*types.ErrorPayload).Code)

	c.Send(t, &types.ErrorPayload{Code: "spoof"}, "", "spoof")
	assert.Equal(t, types.CodeInvalidEnvelope, c.ExpectRef(t, "spoof").Payload.(*types.ErrorPayload).Code)
}

func TestRelay_ManyViewersRosterConsistency(t *testing.T) {
	url, b := liveRoom(t, nil)

	const viewers = 20
	clients := make([]*TestClient, viewers)
	for i := range clients {
		clients[i] = NewTestClient(t, url, "math")
	}

	for _, c := range clients {
		c.Send(t, &types.JoinPayload{}, "", "join")
	}

	var last *types.SessionStatusPayload
	for last == nil || last.ViewerCount < viewers {
		last = b.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
		require.Len(t, last.Viewers, last.ViewerCount)
	}
	assert.Equal(t, viewers, last.ViewerCount)

	for _, c := range clients[:5] {
		c.Close()
	}
	for last.ViewerCount > viewers-5 {
		last = b.Expect(t, types.TypeSessionStatus).Payload.(*types.SessionStatusPayload)
		require.Len(t, last.Viewers, last.ViewerCount)
	}
	assert.Equal(t, types.StateLive, last.State)
}

func TestRelay_AdminAPI(t *testing.T) {
	url, _ := liveRoom(t, nil)

	resp, err := http.Get(url + "/api/rooms/math")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info types.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, types.StateLive, info.State)
	assert.Equal(t, "Kana", info.Topic)
	assert.Equal(t, 1, info.Members)

	resp2, err := http.Get(url + "/api/rooms")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var list api.ListRoomsResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	require.Len(t, list.Rooms, 1)
}
