// Package manager -----------------------------
// @file      : manager.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/23 10:40
// -------------------------------------------
package manager

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/metrics"
	"github.com/mloughran/em-hiredis/lib/reactor"
)

const (
	DefaultMaxAttempts = 4
	DefaultBackoff     = 500 * time.Millisecond
)

// Factory dials and initialises a connection (AUTH, SELECT and so on).
// It is called on the loop and must not block; the future may complete on any goroutine.
type Factory func() *future.Future[resp.Connection]

type Options struct {
	Name        string
	MaxAttempts int
	// Backoff 自动重试之间的等待，成功连上之后会 Reset
	Backoff backoff.BackOff
	Logger  logrus.FieldLogger
}

// attempt 一次建连，被新的 reconnect 取代之后 cancelled 为 true
type attempt struct {
	cancelled bool
}

// Manager 连接状态机，最多持有一个物理连接
// 除 State 之外的方法都只能在 loop 上调用；事件监听器也在 loop 上执行，可以在回调里再调用 Reconnect / Close
type Manager struct {
	loop    *reactor.Loop
	factory Factory
	name    string
	log     logrus.FieldLogger

	maxAttempts int
	backoff     backoff.BackOff

	state  State
	mirror atomic.Int32

	conn          resp.Connection
	current       *attempt
	retryTimer    *reactor.Timer
	failures      int
	everConnected bool

	listeners []func(Event)
}

func New(loop *reactor.Loop, factory Factory, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewConstantBackOff(DefaultBackoff)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		loop:        loop,
		factory:     factory,
		name:        opts.Name,
		log:         log,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		state:       Initial,
	}
	m.mirror.Store(int32(Initial))
	return m
}

// State is safe to call from any goroutine
func (m *Manager) State() State {
	return State(m.mirror.Load())
}

// Connection returns the current connection, or nil when not connected
func (m *Manager) Connection() resp.Connection {
	if m.state != Connected {
		return nil
	}
	return m.conn
}

// OnEvent 注册生命周期监听器，按注册顺序调用
func (m *Manager) OnEvent(fn func(Event)) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) Connect() {
	if m.state != Initial {
		m.log.Warnf("connect called in state %s, ignored", m.state)
		return
	}
	m.startConnecting()
}

// Reconnect tears down whatever is in progress and connects again.
// From Failed it also resets the failure counter.
func (m *Manager) Reconnect() {
	switch m.state {
	case Initial:
		m.startConnecting()
	case Connecting:
		m.cancelAttempt()
		m.startConnecting()
	case Connected:
		// 关闭事件会驱动 Connected→Disconnected，然后立即重连
		_ = m.conn.Close()
	case Disconnected:
		m.startConnecting()
	case Failed:
		m.failures = 0
		m.backoff.Reset()
		m.startConnecting()
	case Stopped:
		m.log.Warn("reconnect called on a stopped client, ignored")
	}
}

// Close stops the manager for good: cancels backoff and any in-flight attempt
// and closes the current connection without emitting disconnected.
func (m *Manager) Close() {
	if m.state == Stopped {
		return
	}
	m.cancelAttempt()
	m.stopRetryTimer()
	conn := m.conn
	m.conn = nil
	m.setState(Stopped)
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) startConnecting() {
	if !m.setState(Connecting) {
		return
	}
	m.stopRetryTimer()

	a := &attempt{}
	m.current = a
	m.factory().OnComplete(func(conn resp.Connection, err error) {
		if !m.loop.Post(func() { m.attemptDone(a, conn, err) }) && conn != nil {
			// loop 已经停了，没人会接管这个连接
			_ = conn.Close()
		}
	})
}

func (m *Manager) cancelAttempt() {
	if m.current != nil {
		m.current.cancelled = true
		m.current = nil
	}
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) attemptDone(a *attempt, conn resp.Connection, err error) {
	if a.cancelled || m.current != a {
		// 被取代的尝试，产生的连接直接关掉
		if conn != nil {
			m.log.Debug("closing connection from a superseded attempt")
			_ = conn.Close()
		}
		return
	}
	m.current = nil
	if err != nil {
		m.attemptFailed(err)
		return
	}

	m.conn = conn
	m.setState(Connected)
	reconnected := m.everConnected
	m.everConnected = true
	m.failures = 0
	m.backoff.Reset()
	conn.OnClose(func(cause error) {
		if m.conn == conn {
			m.connectionLost(cause)
		}
	})
	if m.conn != conn {
		// 连接在注册监听之前就已经断了
		return
	}

	m.emit(Event{Kind: EventConnected})
	if reconnected && m.state == Connected && m.conn == conn {
		m.emit(Event{Kind: EventReconnected})
	}
}

func (m *Manager) attemptFailed(err error) {
	m.setState(Disconnected)
	m.failures++
	metrics.ReconnectFailures.WithLabelValues(m.name).Inc()
	m.emit(Event{Kind: EventReconnectFailed, Attempt: m.failures, Err: err})
	// 监听器里可能已经调用了 reconnect 或 close
	if m.state != Disconnected {
		return
	}
	if m.failures >= m.maxAttempts {
		m.fail()
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.fail()
		return
	}
	m.retryTimer = m.loop.AfterFunc(delay, func() {
		m.retryTimer = nil
		if m.state == Disconnected {
			m.startConnecting()
		}
	})
}

func (m *Manager) fail() {
	if m.setState(Failed) {
		m.emit(Event{Kind: EventFailed})
	}
}

func (m *Manager) connectionLost(cause error) {
	m.conn = nil
	metrics.ConnectionsLost.WithLabelValues(m.name).Inc()
	m.setState(Disconnected)
	m.emit(Event{Kind: EventDisconnected, Err: cause})
	if m.state != Disconnected {
		return
	}
	// 之前是连上的状态，立即重连
	m.startConnecting()
}

func (m *Manager) setState(to State) bool {
	from := m.state
	if !canTransition(from, to) {
		m.log.Errorf("invalid state transition %s -> %s", from, to)
		return false
	}
	m.state = to
	m.mirror.Store(int32(to))
	metrics.StateTransitions.WithLabelValues(m.name, from.String(), to.String()).Inc()
	m.log.Debugf("state %s -> %s", from, to)
	return true
}

func (m *Manager) emit(e Event) {
	listeners := m.listeners
	for _, fn := range listeners {
		fn(e)
	}
}
