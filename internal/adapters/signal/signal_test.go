package signal_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/adapters/signal"
	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/app"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	url   string
	roles *memory.Roles
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	feed := memory.NewFeed()
	roles := memory.NewRoles()
	o := orch.New(ctx, orch.Deps{
		Registry:  app.NewRegistry(),
		Rooms:     app.NewRoomManager(),
		Mic:       mic.NewGateway(mic.NewRegistry(memory.NewStore(), feed), roles),
		Feed:      feed,
		Projector: projection.NewProjector(memory.NewProfiles()),
	})
	t.Cleanup(o.Close)
	ctl := signal.NewSignalWSController(o, signal.NewRoomRateLimiter(1, time.Minute), 1<<15, time.Minute)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", c.Query("user"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", roles: roles}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *env) dial(t *testing.T, user string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url+"?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// await reads until a message of type typ arrives and returns it.
func (c *client) await(typ string) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func TestSignal_JoinPingWhoAmI(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")

	alice.send(map[string]any{"type": "ping"})
	alice.await("pong")

	alice.send(map[string]any{"type": "mic", "op": "request"})
	res := alice.await("mic_result")
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "not_in_room", res["error"])

	alice.send(map[string]any{"type": "join", "room": "stage"})
	st := alice.await("room_state")
	assert.Equal(t, "stage", st["room"])
	assert.Equal(t, "alice", st["self"])
	alice.await("mic_state")

	alice.send(map[string]any{"type": "whoami"})
	who := alice.await("whoami")
	assert.Equal(t, "stage", who["room"])

	alice.send(map[string]any{"type": "bogus"})
	assert.Equal(t, "bad_payload", alice.await("error")["error"])
}

func TestSignal_MicOpsAndStatePush(t *testing.T) {
	e := newEnv(t)
	e.roles.Set("mod", "stage", domain.RoleModerator)
	alice := e.dial(t, "alice")
	mod := e.dial(t, "mod")

	alice.send(map[string]any{"type": "join", "room": "stage"})
	alice.await("room_state")
	mod.send(map[string]any{"type": "join", "room": "stage"})
	mod.await("room_state")
	assert.Equal(t, "mod", alice.await("member_joined")["user"])

	alice.send(map[string]any{"type": "mic", "op": "request", "slot": 2})
	res := alice.await("mic_result")
	require.Equal(t, true, res["ok"], res)
	id := res["request"].(map[string]any)["id"].(string)

	alice.send(map[string]any{"type": "mic", "op": "request"})
	assert.Equal(t, "rate_limited", alice.await("mic_result")["error"])

	mod.send(map[string]any{"type": "mic", "op": "approve", "request_id": id})
	require.Equal(t, true, mod.await("mic_result")["ok"])

	for {
		st := alice.await("mic_state")
		snap := st["snapshot"].(map[string]any)
		slots, _ := snap["slots"].([]any)
		if len(slots) == 1 {
			assert.Equal(t, "alice", slots[0].(map[string]any)["user_id"])
			break
		}
	}

	alice.send(map[string]any{"type": "mic", "op": "remove", "slot": 2})
	assert.Equal(t, "forbidden", alice.await("mic_result")["error"])

	alice.send(map[string]any{"type": "mic", "op": "leave"})
	require.Equal(t, true, alice.await("mic_result")["ok"])
}

func TestSignal_RelayBetweenMembers(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")
	for _, c := range []*client{alice, bob} {
		c.send(map[string]any{"type": "join", "room": "stage"})
		c.await("room_state")
	}

	alice.send(map[string]any{"type": "offer", "to": "bob", "sdp": "v=0"})
	offer := bob.await("offer")
	assert.Equal(t, "alice", offer["from"])
	assert.Equal(t, "v=0", offer["sdp"])

	bob.send(map[string]any{"type": "candidate", "to": "alice", "candidate": "candidate:1 1 udp 1 127.0.0.1 5000 typ host", "sdpMid": "0"})
	cand := alice.await("candidate")
	assert.Equal(t, "bob", cand["from"])
	assert.Equal(t, "0", cand["sdpMid"])

	alice.send(map[string]any{"type": "answer", "to": "nobody", "sdp": "v=0"})
	assert.Equal(t, "not_found", alice.await("error")["error"])

	require.NoError(t, bob.conn.Close())
	assert.Equal(t, "bob", alice.await("member_left")["user"])
}

func TestRateLimiter_Window(t *testing.T) {
	rl := signal.NewRoomRateLimiter(2, 50*time.Millisecond)
	assert.True(t, rl.Allow("u"))
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	assert.True(t, rl.Allow("v"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("u"))

	var disabled *signal.RoomRateLimiter
	assert.True(t, disabled.Allow("u"))
}
