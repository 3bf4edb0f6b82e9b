// Package lock -----------------------------
// @file      : persistent_lock.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/1 14:05
// -------------------------------------------
package lock

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/logger"
)

const (
	DefaultLockTimeout   = 100 * time.Second
	DefaultRetryInterval = 60 * time.Second
)

type PersistentOptions struct {
	// LockTimeout 每次加锁的有效期；太短要频繁续期，太长则持有者崩溃后别人要等很久
	LockTimeout time.Duration
	// RetryInterval 锁被别人持有或者出错时多久重试一次
	RetryInterval time.Duration
	Clock         clock.Clock
	Logger        logrus.FieldLogger
}

// PersistentLock keeps re-acquiring its lock before it expires, and keeps
// retrying while someone else holds it
type PersistentLock struct {
	lock  *Lock
	retry time.Duration
	clock clock.Clock
	log   logrus.FieldLogger

	mu         sync.Mutex
	running    bool
	locked     bool
	retryTimer func()
	onLocked   func()
	onUnlocked func()
}

func NewPersistent(redis Commander, key string, opts PersistentOptions) *PersistentLock {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	p := &PersistentLock{
		lock:  New(redis, key, opts.LockTimeout, Options{Clock: opts.Clock, Logger: opts.Logger}),
		retry: opts.RetryInterval,
		clock: opts.Clock,
		log:   opts.Logger.WithField("lock", key),
	}
	// 过期前 1s 续期
	p.lock.OnExpire(p.acquire)
	return p
}

func (p *PersistentLock) OnLocked(fn func()) *PersistentLock {
	p.mu.Lock()
	p.onLocked = fn
	p.mu.Unlock()
	return p
}

func (p *PersistentLock) OnUnlocked(fn func()) *PersistentLock {
	p.mu.Lock()
	p.onUnlocked = fn
	p.mu.Unlock()
	return p
}

// Start begins acquiring. Register callbacks first.
func (p *PersistentLock) Start() {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	p.acquire()
}

// Stop gives the lock up and stops retrying
func (p *PersistentLock) Stop() *future.Future[bool] {
	p.mu.Lock()
	p.running = false
	if p.retryTimer != nil {
		p.retryTimer()
		p.retryTimer = nil
	}
	notify := p.setLocked(false)
	p.mu.Unlock()
	if notify != nil {
		notify()
	}
	return p.lock.Unlock()
}

func (p *PersistentLock) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

func (p *PersistentLock) acquire() {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	p.lock.Acquire().OnComplete(func(_ time.Time, err error) {
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return
		}
		notify := p.setLocked(err == nil)
		if err != nil {
			if !errors.Is(err, ErrNotAcquired) {
				p.log.WithError(err).Warnf("unexpected error acquiring %s", p.lock)
			}
			p.scheduleRetry()
		}
		p.mu.Unlock()
		if notify != nil {
			notify()
		}
	})
}

// setLocked 状态变化时返回要调用的回调，在锁外调用
func (p *PersistentLock) setLocked(locked bool) func() {
	if p.locked == locked {
		return nil
	}
	p.locked = locked
	if locked {
		return p.onLocked
	}
	return p.onUnlocked
}

func (p *PersistentLock) scheduleRetry() {
	if p.retryTimer != nil {
		p.retryTimer()
	}
	p.retryTimer = afterFunc(p.clock, p.retry, func() {
		p.mu.Lock()
		p.retryTimer = nil
		locked := p.locked
		p.mu.Unlock()
		if !locked {
			p.acquire()
		}
	})
}
