// Package lock -----------------------------
// @file      : lock.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/1 10:30
// -------------------------------------------
package lock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/resp/client"
	"github.com/mloughran/em-hiredis/resp/reply"
)

var (
	// ErrNotAcquired means another owner holds the lock
	ErrNotAcquired = errors.New("lock held by another owner")
	// ErrNotActive is returned by Unlock when the lock is not held or has expired
	ErrNotActive = errors.New("lock not active")
)

// KEYS[1] lock key, ARGV[1] owner token, ARGV[2] timeout in ms
var acquireScript = client.NewScript("lock_acquire", `local owner = redis.call('get', KEYS[1])
if owner == false then
  redis.call('set', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
if owner == ARGV[1] then
  redis.call('pexpire', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// KEYS[1] lock key, ARGV[1] owner token
var releaseScript = client.NewScript("lock_release", `if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
end
return 0
`)

// Commander is the part of *client.Client a lock needs
type Commander interface {
	Issue(name string, args ...interface{}) *future.Future[resp.Reply]
	EvalScript(s *client.Script, keys []string, args ...interface{}) *future.Future[resp.Reply]
}

type Options struct {
	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// Lock 基于 redis 的分布式锁，key 的值是持有者的随机 token
// 过期前可以再次 Acquire 来续期
type Lock struct {
	redis   Commander
	key     string
	timeout time.Duration
	token   string
	clock   clock.Clock
	log     logrus.FieldLogger

	mu          sync.Mutex
	locked      bool
	expiry      time.Time
	expireTimer func()
	onExpire    func()
}

func New(redis Commander, key string, timeout time.Duration, opts Options) *Lock {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	l := &Lock{
		redis:   redis,
		key:     key,
		timeout: timeout,
		token:   uuid.NewString(),
		clock:   opts.Clock,
	}
	l.log = opts.Logger.WithField("lock", key)
	return l
}

// OnExpire registers fn, called 1s before the lock expires unless it is extended first
func (l *Lock) OnExpire(fn func()) {
	l.mu.Lock()
	l.onExpire = fn
	l.mu.Unlock()
}

// Acquire takes or extends the lock. The future carries the new expiry.
func (l *Lock) Acquire() *future.Future[time.Time] {
	result := future.New[time.Time]()
	expiry := l.clock.Now().Add(l.timeout)
	l.redis.EvalScript(acquireScript, []string{l.key}, l.token, l.timeout.Milliseconds()).
		OnComplete(func(r resp.Reply, err error) {
			if err != nil {
				result.Fail(err)
				return
			}
			n, ok := r.(*reply.IntReply)
			if !ok {
				result.Fail(fmt.Errorf("unexpected reply %q", r.ToBytes()))
				return
			}
			if n.Code != 1 {
				l.log.Debug("could not acquire, held by another process")
				result.Fail(ErrNotAcquired)
				return
			}
			l.acquired(expiry)
			l.log.Debug("acquired")
			result.Succeed(expiry)
		})
	return result
}

// Unlock releases the lock if this owner still holds it. The future is false
// when the key had already been taken over.
func (l *Lock) Unlock() *future.Future[bool] {
	l.mu.Lock()
	l.stopTimer()
	active := l.activeLocked()
	l.locked = false
	l.mu.Unlock()
	if !active {
		return future.Failed[bool](fmt.Errorf("%s cannot unlock: %w", l, ErrNotActive))
	}
	return future.Map(l.redis.EvalScript(releaseScript, []string{l.key}, l.token), func(r resp.Reply) (bool, error) {
		n, ok := r.(*reply.IntReply)
		if !ok {
			return false, fmt.Errorf("unexpected reply %q", r.ToBytes())
		}
		return n.Code == 1, nil
	})
}

// Active reports whether the lock is held and has not expired
func (l *Lock) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked()
}

// Clear deletes the key whoever owns it. Not for normal operation.
func (l *Lock) Clear() *future.Future[resp.Reply] {
	return l.redis.Issue("DEL", l.key)
}

func (l *Lock) String() string {
	return "[lock " + l.key + "]"
}

func (l *Lock) activeLocked() bool {
	return l.locked && l.clock.Now().Before(l.expiry)
}

func (l *Lock) acquired(expiry time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
	l.expiry = expiry
	l.stopTimer()
	d := l.timeout - time.Second
	if d <= 0 {
		d = l.timeout / 2
	}
	l.expireTimer = afterFunc(l.clock, d, func() {
		l.mu.Lock()
		fn := l.onExpire
		l.mu.Unlock()
		l.log.Debug("expires in 1s")
		if fn != nil {
			fn()
		}
	})
}

func (l *Lock) stopTimer() {
	if l.expireTimer != nil {
		l.expireTimer()
		l.expireTimer = nil
	}
}

// afterFunc runs fn in its own goroutine once d has elapsed on clk; the
// returned func cancels it
func afterFunc(clk clock.Clock, d time.Duration, fn func()) func() {
	timer := clk.NewTimer(d)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-timer.C():
			fn()
		case <-stop:
			timer.Stop()
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}
