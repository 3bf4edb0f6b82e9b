// Package reactor -----------------------------
// @file      : loop.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/20 16:48
// -------------------------------------------
package reactor

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/lib/sync/atomic"
)

// ErrStopped is returned when work is handed to a loop that has been stopped
var ErrStopped = errors.New("reactor: loop stopped")

// Loop 单 goroutine 的事件循环
// 所有投递进来的函数按投递顺序在同一个 goroutine 上执行，定时器到期后也是投递回这里执行，
// 所以挂在 Loop 上的状态不需要加锁
type Loop struct {
	clock clock.WithTicker

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	timers  map[*Timer]struct{}

	done chan struct{}
}

// New starts a loop driven by clk. A nil clk means the real clock.
func New(clk clock.WithTicker) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	l := &Loop{
		clock:  clk,
		timers: make(map[*Timer]struct{}),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) Clock() clock.WithTicker {
	return l.clock
}

// Post enqueues fn. It never blocks and reports false if the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Do runs fn on the loop and waits for it to return.
// Calling Do from inside the loop deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 不再接收新任务，已经在队列里的任务会执行完，定时器全部取消
// 可以在 loop 内部调用，不会等待退出
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	timers := make([]*Timer, 0, len(l.timers))
	for t := range l.timers {
		timers = append(timers, t)
	}
	l.cond.Signal()
	l.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// Done is closed after the loop goroutine exits
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		tasks := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, task := range tasks {
			l.runTask(task)
		}
		if stopped && len(tasks) == 0 {
			return
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	task()
}

func (l *Loop) track(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.timers[t] = struct{}{}
	return true
}

func (l *Loop) untrack(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

/* ---- Timers ---- */

// Timer is a cancellable timer or ticker whose callback runs on the loop
type Timer struct {
	cancelled atomic.Boolean
	stopCh    chan struct{}
	once      sync.Once
}

func newTimer() *Timer {
	return &Timer{stopCh: make(chan struct{})}
}

// Stop cancels the timer. A callback that was already posted to the loop but
// has not run yet is skipped.
func (t *Timer) Stop() {
	t.once.Do(func() {
		t.cancelled.Set(true)
		close(t.stopCh)
	})
}

// Stopped 是否已经取消
func (t *Timer) Stopped() bool {
	return t.cancelled.Get()
}

// AfterFunc runs fn on the loop once d has elapsed
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := newTimer()
	if !l.track(t) {
		t.Stop()
		return t
	}
	timer := l.clock.NewTimer(d)
	go func() {
		defer l.untrack(t)
		select {
		case <-timer.C():
			l.Post(func() {
				if !t.cancelled.Get() {
					t.cancelled.Set(true)
					fn()
				}
			})
		case <-t.stopCh:
			timer.Stop()
		}
	}()
	return t
}

// Every runs fn on the loop every d until the returned timer is stopped
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	t := newTimer()
	if !l.track(t) {
		t.Stop()
		return t
	}
	ticker := l.clock.NewTicker(d)
	go func() {
		defer l.untrack(t)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				l.Post(func() {
					if !t.cancelled.Get() {
						fn()
					}
				})
			case <-t.stopCh:
				return
			}
		}
	}()
	return t
}
