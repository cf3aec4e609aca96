package server_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/atomicswap/atomengine/internal/auth"
	"github.com/atomicswap/atomengine/internal/db"
	"github.com/atomicswap/atomengine/internal/exchange"
	"github.com/atomicswap/atomengine/internal/ratelimit"
	"github.com/atomicswap/atomengine/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultGuardConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxRequestBytes: 8192,
		Window:          10 * time.Second,
		MaxRequests:     1000,
	}
}

func newTestServer(t *testing.T, guardCfg ratelimit.Config) (*server.Server, *db.Mem) {
	t.Helper()
	store := db.NewMem()
	log := logrus.New()
	log.SetOutput(io.Discard)
	engine := exchange.New(store, auth.SHA3{}, log)
	guard := ratelimit.NewGuard(guardCfg, nil)

	srv := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, engine, guard, store, log)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, store
}

type testClient struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func dial(t *testing.T, srv *server.Server) *testClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &testClient{t: t, nc: nc, r: bufio.NewReader(nc)}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	_, err = c.nc.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *testClient) sendRaw(s string) {
	c.t.Helper()
	_, err := c.nc.Write([]byte(s))
	require.NoError(c.t, err)
}

// expect reads replies until one with the given reply field arrives,
// skipping unrelated broadcasts (user_connected noise and the like).
func (c *testClient) expect(reply string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.nc.SetReadDeadline(deadline)
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err, "waiting for reply %q", reply)
		var m map[string]any
		require.NoError(c.t, json.Unmarshal([]byte(line), &m))
		if m["reply"] == reply {
			return m
		}
	}
	c.t.Fatalf("timed out waiting for reply %q", reply)
	return nil
}

// expectNo drains inbound replies for a short window and fails if one with
// the given reply field shows up.
func (c *testClient) expectNo(reply string) {
	c.t.Helper()
	c.nc.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return
		}
		var m map[string]any
		require.NoError(c.t, json.Unmarshal([]byte(line), &m))
		require.NotEqual(c.t, reply, m["reply"])
	}
}

func (c *testClient) init(addrs ...string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{
		"command": "init",
		"curs":    []map[string]any{{"addrs": addrs}},
	})
	return c.expect("init_success")
}

func addrStrings(t *testing.T, m map[string]any, key string) []string {
	t.Helper()
	raw, ok := m[key].([]any)
	require.True(t, ok, "expected %q to be an array, got %T", key, m[key])
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(string))
	}
	return out
}

func TestInitReturnsStateAndAnnounces(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	reply := a.init("addr-a1", "addr-a2")
	assert.Equal(t, true, reply["isActual"])
	assert.Empty(t, reply["orders"])
	assert.Empty(t, reply["trades"])
	assert.ElementsMatch(t, []string{"addr-a1", "addr-a2"}, addrStrings(t, reply, "addrs"))

	b := dial(t, srv)
	replyB := b.init("addr-b1")
	assert.ElementsMatch(t, []string{"addr-a1", "addr-a2", "addr-b1"}, addrStrings(t, replyB, "addrs"))

	connected := a.expect("user_connected")
	assert.ElementsMatch(t, []string{"addr-a1", "addr-a2", "addr-b1"}, addrStrings(t, connected, "addrs"))
}

func TestCreateOrderBroadcast(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a")
	b := dial(t, srv)
	b.init("addr-b")

	a.send(map[string]any{
		"command": "create_order",
		"order": map[string]any{
			"sendCur": "BTC", "sendCount": 100000,
			"getCur": "LTC", "getCount": 20000000,
			"getAddr": "addr-a",
		},
	})
	success := a.expect("create_order_success")
	order := success["order"].(map[string]any)
	assert.Equal(t, float64(1), order["id"])
	assert.Equal(t, "BTC", order["sendCur"])

	seen := b.expect("create_order")
	assert.Equal(t, float64(1), seen["order"].(map[string]any)["id"])
}

func TestCreateTradeRouting(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a")
	b := dial(t, srv)
	b.init("addr-b")
	c := dial(t, srv)
	c.init("addr-c")

	a.send(map[string]any{
		"command": "create_order",
		"order":   map[string]any{"sendCur": "BTC", "sendCount": 1, "getCur": "LTC", "getCount": 2, "getAddr": "addr-a"},
	})
	a.expect("create_order_success")

	b.send(map[string]any{
		"command": "create_trade",
		"orderId": 1,
		"address": "addr-b",
		"key":     "trade-secret",
	})

	// Initiator gets the success, the order owner gets the trade, everyone
	// else only sees the order vanish.
	success := b.expect("create_trade_success")
	trade := success["trade"].(map[string]any)
	assert.Equal(t, float64(1), trade["id"])
	assert.Equal(t, "addr-b", trade["initiatorAddr"])
	assert.Equal(t, float64(1), trade["order"].(map[string]any)["id"])

	notice := a.expect("create_trade")
	assert.Equal(t, float64(1), notice["trade"].(map[string]any)["id"])

	removal := c.expect("delete_order")
	assert.Equal(t, float64(1), removal["id"])
	c.expectNo("create_trade")

	// The order is gone, so a second consumption fails.
	c.send(map[string]any{"command": "create_trade", "orderId": 1, "address": "addr-c"})
	failed := c.expect("create_trade_failed")
	assert.Equal(t, "order out of date", failed["reasone"])
}

func TestDeleteOrderAckAndBroadcast(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a")
	b := dial(t, srv)
	b.init("addr-b")

	a.send(map[string]any{
		"command": "create_order",
		"key":     "letmein",
		"order":   map[string]any{"sendCur": "BTC", "sendCount": 1, "getCur": "LTC", "getCount": 2, "getAddr": "addr-a"},
	})
	a.expect("create_order_success")
	b.expect("create_order")

	// Wrong key: the sender still gets the ack, nobody else hears anything.
	b.send(map[string]any{"command": "delete_order", "id": 1, "key": "wrong"})
	b.expect("delete_order_success")
	a.expectNo("delete_order")

	a.send(map[string]any{"command": "delete_order", "id": 1, "key": "letmein"})
	a.expect("delete_order_success")
	removal := b.expect("delete_order")
	assert.Equal(t, float64(1), removal["id"])
}

func TestUpdateTradeRouting(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a")
	b := dial(t, srv)
	b.init("addr-b")

	a.send(map[string]any{
		"command": "create_order",
		"key":     "owner-secret",
		"order":   map[string]any{"sendCur": "BTC", "sendCount": 1, "getCur": "LTC", "getCount": 2, "getAddr": "addr-a"},
	})
	a.expect("create_order_success")
	b.send(map[string]any{"command": "create_trade", "orderId": 1, "address": "addr-b", "key": "init-secret"})
	b.expect("create_trade_success")
	a.expect("create_trade")

	// The counterpart gets the updated trade.
	b.send(map[string]any{
		"command": "update_trade",
		"key":     "init-secret",
		"trade":   map[string]any{"id": 1, "secretHash": "deadbeef"},
	})
	b.expect("update_trade_success")
	notice := a.expect("update_trade")
	assert.Equal(t, "deadbeef", notice["trade"].(map[string]any)["secretHash"])

	// Unknown trade id: the ack arrives anyway but no notice goes out.
	b.send(map[string]any{
		"command": "update_trade",
		"key":     "init-secret",
		"trade":   map[string]any{"id": 99, "secretHash": "cafe"},
	})
	b.expect("update_trade_success")
	a.expectNo("update_trade")

	// Same for a bad key.
	b.send(map[string]any{
		"command": "update_trade",
		"key":     "wrong",
		"trade":   map[string]any{"id": 1, "secretHash": "cafe"},
	})
	b.expect("update_trade_success")
	a.expectNo("update_trade")
}

func TestDisconnectAnnouncesAddresses(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a1", "addr-a2")
	b := dial(t, srv)
	b.init("addr-b")
	a.expect("user_connected")

	a.nc.Close()

	gone := b.expect("user_disconnected")
	assert.Equal(t, []string{"addr-a1", "addr-a2"}, addrStrings(t, gone, "addrs"))
}

func TestMalformedInputIgnored(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.sendRaw("this is not json\n")
	a.sendRaw("{\"command\": \"no_such_command\"}\n")

	// The connection survives and later commands still work.
	reply := a.init("addr-a")
	assert.Equal(t, "init_success", reply["reply"])
}

func TestOversizedRequestBlacklists(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.MaxRequestBytes = 64
	srv, store := newTestServer(t, cfg)

	a := dial(t, srv)
	junk := make([]byte, 200)
	for i := range junk {
		junk[i] = 'x'
	}
	a.sendRaw(string(junk))

	// The server drops the connection and persists the ban.
	a.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := a.r.ReadString('\n')
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return len(store.Blacklist()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "127.0.0.1", store.Blacklist()[0])

	// A reconnect from the banned source is closed at accept time.
	nc, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer nc.Close()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = nc.Read(buf)
	require.Error(t, err)
}

func TestPipelinedRecordsInOneWrite(t *testing.T) {
	srv, _ := newTestServer(t, defaultGuardConfig())

	a := dial(t, srv)
	a.init("addr-a")

	// Two commands in a single TCP segment are both processed, in order.
	var batch string
	for i := 0; i < 2; i++ {
		batch += fmt.Sprintf(`{"command": "create_order", "order": {"sendCur": "BTC", "sendCount": %d, "getCur": "LTC", "getCount": 1, "getAddr": "addr-a"}}`+"\n", i+1)
	}
	a.sendRaw(batch)

	first := a.expect("create_order_success")
	assert.Equal(t, float64(1), first["order"].(map[string]any)["id"])
	second := a.expect("create_order_success")
	assert.Equal(t, float64(2), second["order"].(map[string]any)["id"])
}
