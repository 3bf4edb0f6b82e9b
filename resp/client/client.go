// Package client -----------------------------
// @file      : client.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/17 14:10
// -------------------------------------------
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mloughran/em-hiredis/config"
	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/lib/metrics"
	"github.com/mloughran/em-hiredis/lib/reactor"
	"github.com/mloughran/em-hiredis/lib/sync/atomic"
	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/resp/connection"
	"github.com/mloughran/em-hiredis/resp/manager"
	"github.com/mloughran/em-hiredis/resp/pubsub"
)

// Options 运行时依赖，和 config.Config 分开是因为它们不能从文件里读
type Options struct {
	// Logger 为空时使用 logger.Default()
	Logger logrus.FieldLogger
	// Clock 驱动重连等待和看门狗，测试里换成假时钟
	Clock clock.WithTicker
	// Backoff 为空时每次等待 reconnect_backoff_seconds
	Backoff   backoff.BackOff
	TLSConfig *tls.Config
}

// Client 客户端的核心：一个逻辑连接，断线自动重连，连上之前发出的命令先排队
// 公开方法可以在任意 goroutine 调用，结果通过 future 返回；future 的回调在 client 的 loop 上执行
type Client struct {
	cfg  config.Config
	opts Options
	// name 去掉密码的初始地址，用于日志和指标标签
	name string
	log  logrus.FieldLogger
	loop *reactor.Loop

	manager *manager.Manager

	// 以下字段只在 loop 上访问
	target   *config.Target
	password string
	db       int
	// 还没连上时发出的命令
	queue        []*request
	monitorFn    func(resp.Reply)
	monitorReady *future.Future[resp.Reply]

	ready   *future.Future[struct{}]
	closing atomic.Boolean
	closed  chan struct{}

	pubsubMu sync.Mutex
	pubsub   *pubsub.Client
}

// MakeClient creates a client for cfg.URL. Nothing is dialled until Connect.
func MakeClient(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, err := config.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewConstantBackOff(cfg.ReconnectBackoff())
	}

	c := &Client{
		cfg:      *cfg,
		opts:     opts,
		name:     target.String(),
		log:      opts.Logger.WithField("client", target.String()),
		loop:     reactor.New(opts.Clock),
		target:   target,
		password: target.Password,
		db:       target.DB,
		ready:    future.New[struct{}](),
		closed:   make(chan struct{}),
	}
	c.manager = manager.New(c.loop, c.connect, manager.Options{
		Name:        c.name,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Backoff:     opts.Backoff,
		Logger:      c.log,
	})
	// 必须是第一个监听器，排队的命令要在用户收到 connected 之前发出去
	c.manager.OnEvent(c.handleEvent)
	c.log.Info("configured")
	return c, nil
}

// Connect dials uri with default settings
func Connect(uri string) (*Client, error) {
	cfg := config.Default()
	cfg.URL = uri
	c, err := MakeClient(cfg, Options{})
	if err != nil {
		return nil, err
	}
	c.Connect()
	return c, nil
}

// Connect starts connecting. The returned future succeeds once there is a
// connection and fails if the client reaches the failed state first.
// Commands may be issued before it completes; they are queued.
// In the failed state it fails at once; use Reconnect to leave it.
func (c *Client) Connect() *future.Future[struct{}] {
	result := future.New[struct{}]()
	if !c.loop.Post(func() { c.connectOnLoop(result) }) {
		return future.Failed[struct{}](ErrClosed)
	}
	return result
}

func (c *Client) connectOnLoop(result *future.Future[struct{}]) {
	if c.manager.State() == manager.Failed {
		result.Fail(fmt.Errorf("%w: reconnect required", ErrFailed))
		return
	}
	c.ready.OnComplete(func(_ struct{}, err error) { result.Complete(struct{}{}, err) })
	c.manager.Connect()
}

// Reconnect tears the connection down and connects again. A non-empty uri
// re-targets the client first, e.g. after a failover.
func (c *Client) Reconnect(uri string) error {
	var target *config.Target
	if uri != "" {
		var err error
		target, err = config.ParseURL(uri)
		if err != nil {
			return err
		}
	}
	if !c.loop.Post(func() {
		if target != nil {
			c.log.Infof("reconfiguring to %s", target)
			c.target = target
			c.password = target.Password
			c.db = target.DB
		}
		c.manager.Reconnect()
	}) {
		return ErrClosed
	}
	return nil
}

// Close terminates the client permanently. Queued commands fail with ErrClosed,
// commands waiting for a reply fail with ErrConnectionLost.
// It does not wait; use Done for that.
func (c *Client) Close() error {
	if !c.closing.CompareAndSet(false, true) {
		return nil
	}
	c.pubsubMu.Lock()
	ps := c.pubsub
	c.pubsubMu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}

	c.loop.Post(func() {
		c.manager.Close()
		c.failQueue(ErrClosed)
		c.ready.Fail(ErrClosed)
		metrics.Forget(c.name)
	})
	c.loop.Stop()
	go func() {
		<-c.loop.Done()
		if ps != nil {
			<-ps.Done()
		}
		close(c.closed)
	}()
	return nil
}

// Done is closed once Close has finished tearing everything down
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// State is the connection manager state
func (c *Client) State() manager.State {
	return c.manager.State()
}

// OnEvent registers a lifecycle listener. It runs on the client loop.
func (c *Client) OnEvent(fn func(manager.Event)) {
	c.loop.Post(func() { c.manager.OnEvent(fn) })
}

// Issue sends a command. While disconnected it is queued and sent, in issue
// order, right after the next successful connect.
func (c *Client) Issue(name string, args ...interface{}) *future.Future[resp.Reply] {
	return c.IssueCmdLine(utils.ToCmdLineArgs(name, args...))
}

// IssueCmdLine is Issue with pre-encoded arguments
func (c *Client) IssueCmdLine(cmdLine [][]byte) *future.Future[resp.Reply] {
	return c.issue(newRequest(cmdLine))
}

// issue 回调要在投递之前注册好，保证在 loop 上执行
func (c *Client) issue(req *request) *future.Future[resp.Reply] {
	if c.closing.Get() {
		req.result.Fail(ErrClosed)
		return req.result
	}
	// failed 状态同步失败，不发起任何网络操作
	if c.manager.State() == manager.Failed {
		req.result.Fail(ErrFailed)
		return req.result
	}
	metrics.CommandsIssued.WithLabelValues(c.name).Inc()
	if !c.loop.Post(func() { c.dispatch(req) }) {
		req.result.Fail(ErrClosed)
	}
	return req.result
}

// Send issues cmdLine and waits for the reply
func (c *Client) Send(ctx context.Context, cmdLine [][]byte) (resp.Reply, error) {
	return c.IssueCmdLine(cmdLine).Wait(ctx)
}

// Do issues a command and waits for the reply
func (c *Client) Do(ctx context.Context, name string, args ...interface{}) (resp.Reply, error) {
	return c.Issue(name, args...).Wait(ctx)
}

// Select switches database; the choice survives reconnects
func (c *Client) Select(db int) *future.Future[resp.Reply] {
	req := newRequest(utils.ToCmdLineArgs("SELECT", db))
	req.result.OnSuccess(func(resp.Reply) { c.db = db })
	return c.issue(req)
}

// Auth authenticates; the password is re-sent on every reconnect
func (c *Client) Auth(password string) *future.Future[resp.Reply] {
	req := newRequest(utils.ToCmdLine("AUTH", password))
	req.result.OnSuccess(func(resp.Reply) { c.password = password })
	return c.issue(req)
}

// PendingCommands is the number of commands waiting for a reply on the
// current connection, 0 when not connected. Do not call it from a callback.
func (c *Client) PendingCommands() int {
	n := 0
	_ = c.loop.Do(context.Background(), func() {
		if rc := c.current(); rc != nil {
			n = rc.pendingCount()
		}
	})
	return n
}

// PubSub returns the subscription client for the same server, creating and
// connecting it on first use. It is closed together with this client.
func (c *Client) PubSub() (*pubsub.Client, error) {
	c.pubsubMu.Lock()
	defer c.pubsubMu.Unlock()
	if c.pubsub != nil {
		return c.pubsub, nil
	}
	if c.closing.Get() {
		return nil, ErrClosed
	}

	var uri string
	if err := c.loop.Do(context.Background(), func() {
		// 订阅连接不需要 select
		t := *c.target
		t.Password = c.password
		t.DB = 0
		uri = t.URL()
	}); err != nil {
		return nil, ErrClosed
	}
	cfg := c.cfg
	cfg.URL = uri
	ps, err := pubsub.MakeClient(&cfg, pubsub.Options{
		Logger:    c.opts.Logger,
		Clock:     c.opts.Clock,
		TLSConfig: c.opts.TLSConfig,
	})
	if err != nil {
		return nil, err
	}
	ps.Connect()
	c.pubsub = ps
	return ps, nil
}

func (c *Client) current() *redisConn {
	conn := c.manager.Connection()
	if conn == nil {
		return nil
	}
	return conn.(*redisConn)
}

func (c *Client) dispatch(req *request) {
	switch c.manager.State() {
	case manager.Connected:
		c.current().send(req)
	case manager.Failed:
		req.result.Fail(ErrFailed)
	case manager.Stopped:
		req.result.Fail(ErrClosed)
	default:
		c.queue = append(c.queue, req)
	}
	c.updatePending()
}

func (c *Client) failQueue(err error) {
	queue := c.queue
	c.queue = nil
	for _, req := range queue {
		req.result.Fail(err)
	}
	c.updatePending()
}

func (c *Client) updatePending() {
	n := len(c.queue)
	if rc := c.current(); rc != nil {
		n += rc.pendingCount()
	}
	metrics.PendingCommands.WithLabelValues(c.name).Set(float64(n))
}

func (c *Client) handleEvent(e manager.Event) {
	log := c.log
	if e.Err != nil {
		log = log.WithError(e.Err)
	}
	switch e.Kind {
	case manager.EventConnected:
		log.Info("connected")
		rc := c.current()
		// 初始化命令已经在 connect 里完成，这里按顺序补发排队的命令
		queue := c.queue
		c.queue = nil
		for _, req := range queue {
			rc.send(req)
		}
		if c.monitorFn != nil {
			c.startMonitor(rc)
		}
		c.updatePending()
		c.ready.Succeed(struct{}{})
	case manager.EventReconnected:
		log.Info("reconnected")
	case manager.EventDisconnected:
		log.Info("disconnected")
	case manager.EventReconnectFailed:
		log.Warnf("reconnect failed, attempt %d", e.Attempt)
	case manager.EventFailed:
		log.Error("connection failed")
		c.failQueue(ErrFailed)
		c.ready.Fail(fmt.Errorf("could not connect after %d attempts: %w", c.cfg.MaxReconnectAttempts, ErrFailed))
		// Reconnect 之后的 Connect 等待下一次连接成功
		c.ready = future.New[struct{}]()
	}
}

// connect is the manager's connection factory: dial off the loop, then
// AUTH and SELECT on the loop before the connection is handed over
func (c *Client) connect() *future.Future[resp.Connection] {
	result := future.New[resp.Connection]()
	opts := connection.OptionsFor(c.target, &c.cfg, c.opts.TLSConfig, c.log)
	password, db := c.password, c.db

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		netConn, err := connection.Dial(ctx, opts)
		if err != nil {
			result.Fail(err)
			return
		}
		if !c.loop.Post(func() { c.initConn(netConn, opts, password, db, result) }) {
			_ = netConn.Close()
			result.Fail(ErrClosed)
		}
	}()
	return result
}

func (c *Client) initConn(netConn net.Conn, opts connection.Options, password string, db int, result *future.Future[resp.Connection]) {
	rc := newRedisConn(c.loop, netConn, opts, c.cfg.InactivityTriggerSeconds, c.cfg.InactivityResponseTimeout)
	fail := func(step string) func(error) {
		return func(err error) {
			// auth 或 select 失败都算作建连失败
			_ = rc.Close()
			result.Fail(fmt.Errorf("%s: %w", step, err))
		}
	}
	selectDB := func() {
		if db == 0 {
			result.Succeed(rc)
			return
		}
		req := newRequest(utils.ToCmdLineArgs("SELECT", db))
		req.result.OnSuccess(func(resp.Reply) { result.Succeed(rc) }).OnFailure(fail("select"))
		rc.send(req)
	}
	if password == "" {
		selectDB()
		return
	}
	req := newRequest(utils.ToCmdLineArgs("AUTH", password))
	req.result.OnSuccess(func(resp.Reply) { selectDB() }).OnFailure(fail("auth"))
	rc.send(req)
}
