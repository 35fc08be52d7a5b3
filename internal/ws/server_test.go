package ws

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventhub/chat-moderation/internal/chat"
	"github.com/eventhub/chat-moderation/internal/protocol"
)

type client struct {
	t    *testing.T
	conn net.Conn
	rw   io.ReadWriter
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg, NewHub(zerolog.Nop()), zerolog.Nop())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &client{t: t, conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{r, conn}}
}

func (c *client) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	require.NoError(c.t, wsutil.WriteClientMessage(c.conn, ws.OpText, data))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(c.rw)
	require.NoError(c.t, err)
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(data, &out))
	return out
}

func TestServer_RejectsMissingUser(t *testing.T) {
	_, ts := startServer(t, DefaultServerConfig())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	_, _, _, err := ws.Dial(context.Background(), url)
	assert.Error(t, err)

	_, _, _, err = ws.Dial(context.Background(), url+"?user_id=bad%20id")
	assert.Error(t, err)
}

func TestServer_SubscribeAndReceive(t *testing.T) {
	srv, ts := startServer(t, DefaultServerConfig())
	alice := dial(t, ts, "user_id=alice")
	bob := dial(t, ts, "user_id=bob")

	bob.send(map[string]string{"type": "subscribe", "channel": "Judge"})
	reply := bob.read()
	assert.Equal(t, protocol.TypeSubscribed, reply["type"])
	assert.Equal(t, "judge", reply["channel"])
	assert.Equal(t, "chat-judge", reply["group"])
	assert.Equal(t, 1, srv.Hub().Members("chat-judge"))

	msg := chat.NewHeldMessage(chat.ChannelJudge, "alice", "hello")
	msg.Status = chat.StatusPublished
	ev := chat.NewMessageEvent(msg)

	srv.Hub().DeliverToGroup(chat.ChannelJudge.Group(), ev)
	got := bob.read()
	assert.Equal(t, chat.EventMessageUpdated, got["type"])
	assert.Equal(t, msg.ID, got["message"].(map[string]any)["id"])

	srv.Hub().DeliverToUser("alice", ev)
	got = alice.read()
	assert.Equal(t, chat.EventMessageUpdated, got["type"])
	assert.Equal(t, "published", got["message"].(map[string]any)["status"])
}

func TestServer_Unsubscribe(t *testing.T) {
	srv, ts := startServer(t, DefaultServerConfig())
	c := dial(t, ts, "user_id=carol")

	c.send(map[string]string{"type": "subscribe", "channel": "mentor"})
	c.read()
	c.send(map[string]string{"type": "unsubscribe", "channel": "mentor"})
	reply := c.read()
	assert.Equal(t, protocol.TypeUnsubscribed, reply["type"])
	assert.Zero(t, srv.Hub().Members("chat-mentor"))
}

func TestServer_ErrorsAndPing(t *testing.T) {
	_, ts := startServer(t, DefaultServerConfig())
	c := dial(t, ts, "user_id=dave")

	c.send(map[string]string{"type": "subscribe", "channel": "sponsors"})
	reply := c.read()
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeInvalidChannel, reply["code"])

	c.send(map[string]string{"type": "dance"})
	reply = c.read()
	assert.Equal(t, protocol.CodeBadRequest, reply["code"])

	c.send(map[string]string{"type": "ping"})
	assert.Equal(t, protocol.TypePong, c.read()["type"])
}

func TestServer_ClientCloseRemovesConnection(t *testing.T) {
	srv, ts := startServer(t, DefaultServerConfig())
	c := dial(t, ts, "user_id=erin")
	c.send(map[string]string{"type": "subscribe", "channel": "admin"})
	c.read()
	require.Equal(t, 1, srv.Hub().Count())

	c.conn.Close()
	assert.Eventually(t, func() bool { return srv.Hub().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, srv.Hub().Members("chat-admin"))
}

func TestServer_ConnectionLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 1
	srv, ts := startServer(t, cfg)
	c := dial(t, ts, "user_id=frank")
	c.send(map[string]string{"type": "ping"})
	c.read()
	require.Equal(t, 1, srv.Hub().Count())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user_id=grace"
	_, _, _, err := ws.Dial(context.Background(), url)
	assert.Error(t, err)
}

func TestServer_HeartbeatEvictsIdle(t *testing.T) {
	srv, ts := startServer(t, DefaultServerConfig())
	c := dial(t, ts, "user_id=heidi")
	c.send(map[string]string{"type": "ping"})
	c.read()

	cfg := DefaultHeartbeatConfig()
	srv.checkConnections(time.Now(), cfg)
	assert.Equal(t, 1, srv.Hub().Count(), "active connection survives")

	srv.checkConnections(time.Now().Add(time.Minute), cfg)
	assert.Zero(t, srv.Hub().Count())
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	srv, ts := startServer(t, DefaultServerConfig())
	c := dial(t, ts, "user_id=ivan")
	c.send(map[string]string{"type": "ping"})
	c.read()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := wsutil.ReadServerText(c.rw)
	assert.Error(t, err)
	assert.Zero(t, srv.Hub().Count())
}
