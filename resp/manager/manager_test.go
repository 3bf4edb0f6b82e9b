package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/lib/reactor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errDial = errors.New("dial failed")

type fakeConn struct {
	closed    bool
	listeners []func(error)
}

func (c *fakeConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for _, fn := range c.listeners {
		fn(errors.New("closed"))
	}
	return nil
}

func (c *fakeConn) OnClose(fn func(cause error)) {
	c.listeners = append(c.listeners, fn)
}

type harness struct {
	t    *testing.T
	clk  *clocktesting.FakeClock
	loop *reactor.Loop
	m    *Manager

	mu       sync.Mutex
	attempts []*future.Future[resp.Connection]
	events   []string
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, clk: clocktesting.NewFakeClock(time.Now())}
	h.loop = reactor.New(h.clk)
	t.Cleanup(func() {
		h.loop.Stop()
		<-h.loop.Done()
	})
	factory := func() *future.Future[resp.Connection] {
		f := future.New[resp.Connection]()
		h.mu.Lock()
		h.attempts = append(h.attempts, f)
		h.mu.Unlock()
		return f
	}
	h.m = New(h.loop, factory, Options{
		Name:    "test",
		Backoff: backoff.NewConstantBackOff(time.Second),
		Logger:  logger.NewTestLogger(t),
	})
	h.m.OnEvent(func(e Event) { h.events = append(h.events, e.String()) })
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *harness) attemptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attempts)
}

// attempt 等待第 i 次建连被发起
func (h *harness) attempt(i int) *future.Future[resp.Connection] {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.attemptCount() > i }, time.Second, time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[i]
}

func (h *harness) succeed(i int) *fakeConn {
	h.t.Helper()
	conn := &fakeConn{}
	h.attempt(i).Succeed(conn)
	h.do(func() {})
	return conn
}

func (h *harness) fail(i int) {
	h.t.Helper()
	h.attempt(i).Fail(errDial)
	h.do(func() {})
}

func (h *harness) snapshot() (State, []string) {
	var state State
	var events []string
	h.do(func() {
		state = h.m.state
		events = append(events, h.events...)
	})
	return state, events
}

func (h *harness) stepBackoff() {
	h.t.Helper()
	require.Eventually(h.t, h.clk.HasWaiters, time.Second, time.Millisecond)
	h.clk.Step(time.Second)
}

func TestTransitionTable(t *testing.T) {
	allowed := [][2]State{
		{Initial, Connecting},
		{Connecting, Disconnected},
		{Connecting, Connecting},
		{Connecting, Connected},
		{Connected, Disconnected},
		{Disconnected, Connecting},
		{Disconnected, Failed},
		{Failed, Connecting},
		{Initial, Stopped},
		{Connecting, Stopped},
		{Connected, Stopped},
		{Disconnected, Stopped},
		{Failed, Stopped},
	}
	count := 0
	for from := Initial; from <= Stopped; from++ {
		for to := Initial; to <= Stopped; to++ {
			want := false
			for _, pair := range allowed {
				if pair == [2]State{from, to} {
					want = true
				}
			}
			assert.Equal(t, want, canTransition(from, to), "%s -> %s", from, to)
			if want {
				count++
			}
		}
	}
	assert.Equal(t, len(allowed), count)
}

func TestConnect(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	assert.Equal(t, Connecting, h.m.State())

	conn := h.succeed(0)
	state, events := h.snapshot()
	assert.Equal(t, Connected, state)
	assert.Equal(t, []string{"connected"}, events)
	h.do(func() { assert.Same(t, conn, h.m.Connection()) })
}

func TestFailureEscalation(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)

	for i := 0; i < 4; i++ {
		h.fail(i)
		if i < 3 {
			state, _ := h.snapshot()
			assert.Equal(t, Disconnected, state)
			h.stepBackoff()
		}
	}
	state, events := h.snapshot()
	assert.Equal(t, Failed, state)
	assert.Equal(t, []string{
		"reconnect_failed(1)",
		"reconnect_failed(2)",
		"reconnect_failed(3)",
		"reconnect_failed(4)",
		"failed",
	}, events)

	// 失败状态下不会再自动重试
	h.clk.Step(time.Minute)
	h.do(func() {})
	assert.Equal(t, 4, h.attemptCount())
}

func TestBackoffDelaysRetry(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	h.fail(0)

	require.Eventually(t, h.clk.HasWaiters, time.Second, time.Millisecond)
	h.clk.Step(500 * time.Millisecond)
	h.do(func() {})
	assert.Equal(t, 1, h.attemptCount())
	h.clk.Step(500 * time.Millisecond)
	h.attempt(1)
	assert.Equal(t, Connecting, h.m.State())
}

func TestSupersededAttemptIsClosed(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	h.attempt(0)
	h.do(h.m.Reconnect)
	assert.Equal(t, 2, h.attemptCount())

	stale := h.succeed(0)
	assert.True(t, stale.closed)
	state, events := h.snapshot()
	assert.Equal(t, Connecting, state)
	assert.Empty(t, events)

	// 被取代的失败结果也要忽略
	fresh := h.succeed(1)
	assert.False(t, fresh.closed)
	state, events = h.snapshot()
	assert.Equal(t, Connected, state)
	assert.Equal(t, []string{"connected"}, events)
}

func TestSupersededFailureIgnored(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	h.attempt(0)
	h.do(h.m.Reconnect)
	h.fail(0)
	state, events := h.snapshot()
	assert.Equal(t, Connecting, state)
	assert.Empty(t, events)
}

func TestConnectionLostReconnectsImmediately(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	conn := h.succeed(0)

	h.do(func() { _ = conn.Close() })
	state, events := h.snapshot()
	assert.Equal(t, Connecting, state)
	assert.Equal(t, []string{"connected", "disconnected"}, events)
	assert.Equal(t, 2, h.attemptCount())

	h.succeed(1)
	_, events = h.snapshot()
	assert.Equal(t, []string{"connected", "disconnected", "connected", "reconnected"}, events)
}

func TestReconnectFromListener(t *testing.T) {
	h := newHarness(t)
	h.m.OnEvent(func(e Event) {
		if e.Kind == EventDisconnected {
			h.m.Reconnect()
		}
	})
	h.do(h.m.Connect)
	conn := h.succeed(0)
	h.do(func() { _ = conn.Close() })

	// 监听器里的 reconnect 已经发起了新连接，不能再重复发起
	state, _ := h.snapshot()
	assert.Equal(t, Connecting, state)
	assert.Equal(t, 2, h.attemptCount())
}

func TestCloseFromListenerStopsRetry(t *testing.T) {
	h := newHarness(t)
	h.m.OnEvent(func(e Event) {
		if e.Kind == EventReconnectFailed {
			h.m.Close()
		}
	})
	h.do(h.m.Connect)
	h.fail(0)
	state, _ := h.snapshot()
	assert.Equal(t, Stopped, state)
	h.clk.Step(time.Minute)
	h.do(func() {})
	assert.Equal(t, 1, h.attemptCount())
}

func TestCloseCancelsBackoff(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	h.fail(0)
	require.Eventually(t, h.clk.HasWaiters, time.Second, time.Millisecond)

	h.do(h.m.Close)
	h.clk.Step(time.Minute)
	h.do(func() {})
	assert.Equal(t, 1, h.attemptCount())
	assert.Equal(t, Stopped, h.m.State())

	// stopped 是终态
	h.do(h.m.Reconnect)
	assert.Equal(t, Stopped, h.m.State())
}

func TestCloseWhileConnected(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	conn := h.succeed(0)
	h.do(h.m.Close)

	assert.True(t, conn.closed)
	state, events := h.snapshot()
	assert.Equal(t, Stopped, state)
	assert.Equal(t, []string{"connected"}, events)
}

func TestCloseWhileConnectingClosesLateConnection(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	h.attempt(0)
	h.do(h.m.Close)
	late := h.succeed(0)
	assert.True(t, late.closed)
	assert.Equal(t, Stopped, h.m.State())
}

func TestReconnectFromFailedResetsCounter(t *testing.T) {
	h := newHarness(t)
	h.do(h.m.Connect)
	for i := 0; i < 4; i++ {
		h.fail(i)
		if i < 3 {
			h.stepBackoff()
		}
	}
	require.Equal(t, Failed, h.m.State())

	h.do(h.m.Reconnect)
	assert.Equal(t, Connecting, h.m.State())
	h.fail(4)
	_, events := h.snapshot()
	assert.Equal(t, "reconnect_failed(1)", events[len(events)-1])

	h.stepBackoff()
	h.succeed(5)
	state, events := h.snapshot()
	assert.Equal(t, Connected, state)
	// 之前从未连上过，不算 reconnected
	assert.Equal(t, "connected", events[len(events)-1])
}
