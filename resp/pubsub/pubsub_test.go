package pubsub

import (
	"context"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mloughran/em-hiredis/config"
	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/lib/reactor"
	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/redistest"
	"github.com/mloughran/em-hiredis/resp/connection"
	"github.com/mloughran/em-hiredis/resp/manager"
	"github.com/mloughran/em-hiredis/resp/reply"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// recorder 收集回调，回调在 client 的 loop 上执行
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines)
}

func (r *recorder) callback(name string) func(Message) {
	return func(m Message) {
		r.add(name + ":" + m.Pattern + ":" + m.Channel + ":" + string(m.Payload))
	}
}

func newClient(t *testing.T, url string, mutate func(*config.Config, *Options)) (*Client, *recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.URL = url
	opts := Options{
		Logger:  logger.NewTestLogger(t),
		Backoff: backoff.NewConstantBackOff(10 * time.Millisecond),
	}
	if mutate != nil {
		mutate(cfg, &opts)
	}
	c, err := MakeClient(cfg, opts)
	require.NoError(t, err)
	events := &recorder{}
	c.OnEvent(func(e manager.Event) { events.add(e.String()) })
	t.Cleanup(func() {
		_ = c.Close()
		<-c.Done()
	})
	return c, events
}

func wait[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return f.Wait(ctx)
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	c.Connect()
	got := &recorder{}

	_, ack := c.Subscribe("a", got.callback("first"))
	n, err := wait(t, ack)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ack = c.Subscribe("a", got.callback("second"))
	_, err = wait(t, ack)
	require.NoError(t, err)

	s.Publish("a", "hello")
	require.Eventually(t, func() bool { return len(got.get()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"first::a:hello", "second::a:hello"}, got.get())
	assert.Equal(t, []string{"subscribe a"}, s.Received())
}

func TestUnsubscribeByCallback(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	c.Connect()
	got := &recorder{}

	first, ack := c.Subscribe("a", got.callback("first"))
	_, err := wait(t, ack)
	require.NoError(t, err)
	second, ack := c.Subscribe("a", got.callback("second"))
	_, err = wait(t, ack)
	require.NoError(t, err)

	_, err = wait(t, first.Unsubscribe())
	require.NoError(t, err)
	assert.Equal(t, []string{"subscribe a"}, s.Received())

	s.Publish("a", "one")
	require.Eventually(t, func() bool { return len(got.get()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"second::a:one"}, got.get())

	n, err := wait(t, second.Unsubscribe())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, []string{"subscribe a", "unsubscribe a"}, s.Received())
	channels, patterns := c.Subscriptions()
	assert.Empty(t, channels)
	assert.Empty(t, patterns)

	_, err = wait(t, second.Unsubscribe())
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestResubscribeAfterReconnect(t *testing.T) {
	s := redistest.NewServer(t)
	c, events := newClient(t, s.URL(), nil)
	c.Connect()
	got := &recorder{}

	var acks []*future.Future[int64]
	_, ack := c.Subscribe("a", got.callback("a"))
	acks = append(acks, ack)
	_, ack = c.Subscribe("b", got.callback("b"))
	acks = append(acks, ack)
	_, ack = c.PSubscribe("c.*", got.callback("c"))
	acks = append(acks, ack)
	for _, f := range acks {
		_, err := wait(t, f)
		require.NoError(t, err)
	}

	s.ClearReceived()
	s.KillConnections()
	require.Eventually(t, func() bool { return slices.Contains(events.get(), "reconnected") }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Received()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe a b", "psubscribe c.*"}, s.Received())

	// 等服务端处理完重新订阅
	require.Eventually(t, func() bool { return s.Publish("c.x", "3") == 1 }, waitFor, 5*time.Millisecond)
	s.Publish("a", "1")
	s.Publish("b", "2")
	require.Eventually(t, func() bool { return len(got.get()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"c:c.*:c.x:3", "a::a:1", "b::b:2"}, got.get())
}

func TestSubscribeBeforeConnect(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	_, ack1 := c.Subscribe("a", nil)
	_, ack2 := c.PSubscribe("p*", nil)
	c.Connect()

	n, err := wait(t, ack1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = wait(t, ack2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"subscribe a", "psubscribe p*"}, s.Received())
}

func TestSecondSubscribeSynthesizesAck(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	c.Connect()
	_, ack := c.Subscribe("a", nil)
	_, err := wait(t, ack)
	require.NoError(t, err)

	acks := &recorder{}
	c.OnAck(func(kind, key string, count int64) { acks.add(kind + " " + key) })
	_, ack = c.Subscribe("a", func(Message) {})
	n, err := wait(t, ack)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"subscribe a"}, s.Received())
	assert.Empty(t, acks.get())
}

func TestRawListeners(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	raw := &recorder{}
	c.OnMessage(func(channel string, payload []byte) { raw.add("message " + channel + " " + string(payload)) })
	c.OnPMessage(func(pattern, channel string, payload []byte) {
		raw.add("pmessage " + pattern + " " + channel + " " + string(payload))
	})
	c.OnAck(func(kind, key string, count int64) { raw.add(kind + " " + key) })
	c.Connect()

	_, ack := c.Subscribe("news", nil)
	_, err := wait(t, ack)
	require.NoError(t, err)
	_, ack = c.PSubscribe("n*", nil)
	_, err = wait(t, ack)
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.Publish("news", "x"))
	require.Eventually(t, func() bool { return len(raw.get()) == 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe news", "psubscribe n*", "message news x", "pmessage n* news x"}, raw.get())

	_, err = wait(t, c.PUnsubscribe("n*"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(raw.get()) == 5 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "punsubscribe n*", raw.get()[4])
}

func TestUnsubscribeWhileDisconnectedIsLocal(t *testing.T) {
	c, _ := newClient(t, "redis://127.0.0.1:1", nil)
	_, ack := c.Subscribe("a", nil)
	n, err := wait(t, c.Unsubscribe("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	channels, _ := c.Subscriptions()
	assert.Empty(t, channels)
	n, err = wait(t, ack)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = wait(t, c.Unsubscribe("a"))
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestSubscribeAgainAfterLocalUnsubscribe(t *testing.T) {
	s := redistest.NewServer(t)
	c, _ := newClient(t, s.URL(), nil)
	got := &recorder{}

	_, first := c.Subscribe("a", got.callback("first"))
	_, err := wait(t, c.Unsubscribe("a"))
	require.NoError(t, err)
	_, err = wait(t, first)
	require.NoError(t, err)

	_, err = wait(t, c.Connect())
	require.NoError(t, err)
	_, second := c.Subscribe("a", got.callback("second"))
	n, err := wait(t, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"subscribe a"}, s.Received())

	s.Publish("a", "hello")
	require.Eventually(t, func() bool { return len(got.get()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"second::a:hello"}, got.get())
}

func unusedAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestFailedStateFailsSubscribeSynchronously(t *testing.T) {
	c, _ := newClient(t, "redis://"+unusedAddr(t), nil)
	_, pending := c.Subscribe("a", nil)
	_, err := wait(t, c.Connect())
	require.ErrorIs(t, err, ErrFailed)
	_, err = wait(t, pending)
	assert.ErrorIs(t, err, ErrFailed)

	sub, ack := c.Subscribe("b", nil)
	assert.Nil(t, sub)
	_, err, done := ack.Result()
	require.True(t, done)
	assert.ErrorIs(t, err, ErrFailed)
}

func TestConnectAfterReconnectFromFailed(t *testing.T) {
	addr := unusedAddr(t)
	c, events := newClient(t, "redis://"+addr, nil)
	_, err := wait(t, c.Connect())
	require.ErrorIs(t, err, ErrFailed)
	_, err = wait(t, c.Connect())
	assert.ErrorIs(t, err, ErrFailed)

	s, err := redistest.Start(addr, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, c.Reconnect())
	require.Eventually(t, func() bool { return slices.Contains(events.get(), "connected") }, waitFor, 5*time.Millisecond)
	_, err = wait(t, c.Connect())
	require.NoError(t, err)
}

func TestAuthOnConnect(t *testing.T) {
	s := redistest.NewServer(t)
	s.RequirePass("pw")
	c, _ := newClient(t, "redis://:pw@"+s.Addr()+"/4", nil)
	c.Connect()
	_, ack := c.Subscribe("a", nil)
	_, err := wait(t, ack)
	require.NoError(t, err)
	// 订阅连接不发 select
	assert.Equal(t, []string{"auth pw", "subscribe a"}, s.Received())
}

func TestInactivityPingUsesSentinelChannel(t *testing.T) {
	s := redistest.NewServer(t)
	clk := clocktesting.NewFakeClock(time.Now())
	c, _ := newClient(t, s.URL(), func(cfg *config.Config, opts *Options) {
		cfg.InactivityTriggerSeconds = 1
		cfg.InactivityResponseTimeout = 5
		opts.Clock = clk
	})
	acks := &recorder{}
	c.OnAck(func(kind, key string, count int64) { acks.add(kind + " " + key) })
	_, err := wait(t, c.Connect())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		clk.Step(time.Second)
		return slices.Contains(s.Received(), "unsubscribe "+PingChannel)
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe " + PingChannel, "unsubscribe " + PingChannel}, s.Received()[:2])

	_, ack := c.Subscribe("a", nil)
	_, err = wait(t, ack)
	require.NoError(t, err)
	assert.Equal(t, []string{"subscribe a"}, acks.get())
}

func TestConnectionRefusesOtherCommands(t *testing.T) {
	loop := reactor.New(nil)
	defer func() {
		loop.Stop()
		<-loop.Done()
	}()
	local, remote := net.Pipe()
	defer remote.Close()

	var pc *pubsubConn
	require.NoError(t, loop.Do(context.Background(), func() {
		pc = newPubsubConn(loop, local, connection.Options{Name: "pipe"}, 0, 0, func(push) {})
	}))
	err := pc.send(utils.ToCmdLine("GET", "a"))
	assert.ErrorIs(t, err, ErrNotPubSubCommand)
	require.NoError(t, loop.Do(context.Background(), func() { _ = pc.Close() }))
	pc.Wait(time.Second)
}

func TestParsePush(t *testing.T) {
	b := func(s string) resp.Reply { return reply.MakeBulkReply([]byte(s)) }

	p, err := parsePush(reply.MakeArrayReply([]resp.Reply{b("message"), b("ch"), b("payload")}))
	require.NoError(t, err)
	assert.Equal(t, push{kind: "message", channel: "ch", payload: []byte("payload")}, p)

	p, err = parsePush(reply.MakeArrayReply([]resp.Reply{b("pmessage"), b("c*"), b("ch"), b("x")}))
	require.NoError(t, err)
	assert.Equal(t, push{kind: "pmessage", pattern: "c*", channel: "ch", payload: []byte("x")}, p)

	p, err = parsePush(reply.MakeArrayReply([]resp.Reply{b("unsubscribe"), reply.MakeNullBulkReply(), reply.MakeIntReply(0)}))
	require.NoError(t, err)
	assert.Equal(t, push{kind: "unsubscribe"}, p)

	_, err = parsePush(reply.MakeStatusReply("OK"))
	assert.Error(t, err)
	_, err = parsePush(reply.MakeArrayReply([]resp.Reply{b("bogus"), b("a"), b("b")}))
	assert.Error(t, err)
}

func TestTableKeepsOrder(t *testing.T) {
	tbl := newTable()
	tbl.add("b")
	tbl.add("a")
	tbl.add("c")
	tbl.add("a")
	tbl.get("c").unsubscribing = true
	assert.Equal(t, []string{"b", "a"}, tbl.active())
	assert.Equal(t, []string{"c"}, tbl.dropUnsubscribing())
	tbl.remove("b")
	assert.Equal(t, []string{"a"}, tbl.active())
}
