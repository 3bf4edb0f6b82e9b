// Package pubsub -----------------------------
// @file      : client.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/29 14:12
// -------------------------------------------
package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"

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
)

type Options struct {
	// Logger 为空时使用 logger.Default()
	Logger    logrus.FieldLogger
	Clock     clock.WithTicker
	Backoff   backoff.BackOff
	TLSConfig *tls.Config
}

// Message is delivered to subscription callbacks. Pattern is empty for
// channel subscriptions.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

type ackKey struct {
	kind string
	key  string
}

// Client 订阅客户端，有自己的连接和状态机
// 订阅表独立于物理连接存在，每次连上都会先把表里的 key 重新订阅一遍
type Client struct {
	cfg  config.Config
	opts Options
	name string
	log  logrus.FieldLogger
	loop *reactor.Loop

	manager *manager.Manager

	// 以下字段只在 loop 上访问
	target   *config.Target
	channels *table
	patterns *table
	acks     map[ackKey][]*future.Future[int64]

	messageListeners  []func(channel string, payload []byte)
	pmessageListeners []func(pattern, channel string, payload []byte)
	ackListeners      []func(kind, key string, count int64)

	ready   *future.Future[struct{}]
	closing atomic.Boolean
	closed  chan struct{}
}

// Subscription is one callback registered on a channel or pattern
type Subscription struct {
	client *Client
	kind   Kind
	key    string
	fn     func(Message)
}

func (s *Subscription) Kind() Kind {
	return s.kind
}

func (s *Subscription) Key() string {
	return s.key
}

// Unsubscribe removes this callback. When it was the last one for its key
// the server-side unsubscribe is sent and the future completes on its ack.
func (s *Subscription) Unsubscribe() *future.Future[int64] {
	c := s.client
	if c.closing.Get() {
		return future.Failed[int64](ErrClosed)
	}
	result := future.New[int64]()
	if !c.loop.Post(func() { c.removeSubscription(s, result) }) {
		result.Fail(ErrClosed)
	}
	return result
}

// MakeClient creates a subscription client for cfg.URL; the db part of the URL is ignored
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
	name := target.String() + " pubsub"
	c := &Client{
		cfg:      *cfg,
		opts:     opts,
		name:     name,
		log:      opts.Logger.WithField("client", name),
		loop:     reactor.New(opts.Clock),
		target:   target,
		channels: newTable(),
		patterns: newTable(),
		acks:     make(map[ackKey][]*future.Future[int64]),
		ready:    future.New[struct{}](),
		closed:   make(chan struct{}),
	}
	c.manager = manager.New(c.loop, c.connect, manager.Options{
		Name:        name,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Backoff:     opts.Backoff,
		Logger:      c.log,
	})
	// 第一个监听器：重新订阅要先于其他任何流量
	c.manager.OnEvent(c.handleEvent)
	return c, nil
}

// Connect starts connecting; the future succeeds once connected.
// In the failed state it fails at once.
func (c *Client) Connect() *future.Future[struct{}] {
	result := future.New[struct{}]()
	if !c.loop.Post(func() {
		if c.manager.State() == manager.Failed {
			result.Fail(fmt.Errorf("%w: reconnect required", ErrFailed))
			return
		}
		c.ready.OnComplete(func(_ struct{}, err error) { result.Complete(struct{}{}, err) })
		c.manager.Connect()
	}) {
		return future.Failed[struct{}](ErrClosed)
	}
	return result
}

func (c *Client) Reconnect() error {
	if !c.loop.Post(c.manager.Reconnect) {
		return ErrClosed
	}
	return nil
}

// Close stops the client; outstanding acks fail with ErrClosed. Use Done to wait.
func (c *Client) Close() error {
	if !c.closing.CompareAndSet(false, true) {
		return nil
	}
	c.loop.Post(func() {
		c.manager.Close()
		c.failAcks(ErrClosed)
		c.ready.Fail(ErrClosed)
		metrics.Forget(c.name)
	})
	c.loop.Stop()
	go func() {
		<-c.loop.Done()
		close(c.closed)
	}()
	return nil
}

func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) State() manager.State {
	return c.manager.State()
}

func (c *Client) OnEvent(fn func(manager.Event)) {
	c.loop.Post(func() { c.manager.OnEvent(fn) })
}

// OnMessage registers a listener for every message push, whichever callback it reaches
func (c *Client) OnMessage(fn func(channel string, payload []byte)) {
	c.loop.Post(func() { c.messageListeners = append(c.messageListeners, fn) })
}

func (c *Client) OnPMessage(fn func(pattern, channel string, payload []byte)) {
	c.loop.Post(func() { c.pmessageListeners = append(c.pmessageListeners, fn) })
}

// OnAck registers a listener for subscribe / unsubscribe / psubscribe / punsubscribe acks
func (c *Client) OnAck(fn func(kind, key string, count int64)) {
	c.loop.Post(func() { c.ackListeners = append(c.ackListeners, fn) })
}

// Subscribe registers fn for channel. fn may be nil to only hold the subscription.
// The future carries the server's subscription count once subscribed.
func (c *Client) Subscribe(channel string, fn func(Message)) (*Subscription, *future.Future[int64]) {
	return c.subscribe(Channel, channel, fn)
}

// PSubscribe registers fn for every channel matching pattern
func (c *Client) PSubscribe(pattern string, fn func(Message)) (*Subscription, *future.Future[int64]) {
	return c.subscribe(Pattern, pattern, fn)
}

// Unsubscribe drops every callback for channel
func (c *Client) Unsubscribe(channel string) *future.Future[int64] {
	return c.unsubscribe(Channel, channel)
}

// PUnsubscribe drops every callback for pattern
func (c *Client) PUnsubscribe(pattern string) *future.Future[int64] {
	return c.unsubscribe(Pattern, pattern)
}

// Subscriptions lists subscribed channels and patterns in subscription order.
// Do not call it from a callback.
func (c *Client) Subscriptions() (channels, patterns []string) {
	_ = c.loop.Do(context.Background(), func() {
		channels = c.channels.active()
		patterns = c.patterns.active()
	})
	return channels, patterns
}

func (c *Client) subscribe(kind Kind, key string, fn func(Message)) (*Subscription, *future.Future[int64]) {
	if c.closing.Get() {
		return nil, future.Failed[int64](ErrClosed)
	}
	if c.manager.State() == manager.Failed {
		return nil, future.Failed[int64](ErrFailed)
	}
	sub := &Subscription{client: c, kind: kind, key: key, fn: fn}
	result := future.New[int64]()
	if !c.loop.Post(func() { c.addSubscription(sub, result) }) {
		result.Fail(ErrClosed)
	}
	return sub, result
}

func (c *Client) unsubscribe(kind Kind, key string) *future.Future[int64] {
	if c.closing.Get() {
		return future.Failed[int64](ErrClosed)
	}
	result := future.New[int64]()
	if !c.loop.Post(func() { c.unsubscribeKey(kind, key, result) }) {
		result.Fail(ErrClosed)
	}
	return result
}

func (c *Client) tableFor(kind Kind) *table {
	if kind == Pattern {
		return c.patterns
	}
	return c.channels
}

func (c *Client) current() *pubsubConn {
	conn := c.manager.Connection()
	if conn == nil {
		return nil
	}
	return conn.(*pubsubConn)
}

// subscribedCount 本地的订阅数量，用于不经过服务端的确认
func (c *Client) subscribedCount() int64 {
	return int64(len(c.channels.active()) + len(c.patterns.active()))
}

func (c *Client) addSubscription(sub *Subscription, result *future.Future[int64]) {
	switch c.manager.State() {
	case manager.Failed:
		result.Fail(ErrFailed)
		return
	case manager.Stopped:
		result.Fail(ErrClosed)
		return
	}
	t := c.tableFor(sub.kind)
	cmd := sub.kind.subscribeCmd()
	if e := t.get(sub.key); e != nil && !e.unsubscribing {
		// 已经订阅过，只加回调，不发命令
		e.subs = append(e.subs, sub)
		if pending := c.acks[ackKey{cmd, sub.key}]; len(pending) > 0 {
			pending[len(pending)-1].OnComplete(func(n int64, err error) { result.Complete(n, err) })
			return
		}
		result.Succeed(c.subscribedCount())
		return
	}
	e := t.add(sub.key)
	e.unsubscribing = false
	e.subs = append(e.subs, sub)
	c.expectAck(cmd, sub.key, result)
	// 没连上的话，下次连上时随重新订阅一起发出
	if pc := c.current(); pc != nil {
		c.send(pc, cmd, sub.key)
	}
}

func (c *Client) removeSubscription(s *Subscription, result *future.Future[int64]) {
	e := c.tableFor(s.kind).get(s.key)
	if e == nil || e.unsubscribing {
		result.Fail(ErrNotSubscribed)
		return
	}
	i := slices.Index(e.subs, s)
	if i < 0 {
		result.Fail(ErrNotSubscribed)
		return
	}
	e.subs = slices.Delete(e.subs, i, i+1)
	if len(e.subs) > 0 {
		result.Succeed(c.subscribedCount())
		return
	}
	c.unsubscribeKey(s.kind, s.key, result)
}

func (c *Client) unsubscribeKey(kind Kind, key string, result *future.Future[int64]) {
	t := c.tableFor(kind)
	cmd := kind.unsubscribeCmd()
	e := t.get(key)
	if e == nil {
		result.Fail(fmt.Errorf("%w: %s %s", ErrNotSubscribed, kind, key))
		return
	}
	if e.unsubscribing {
		c.expectAck(cmd, key, result)
		return
	}
	e.subs = nil
	pc := c.current()
	if pc == nil {
		// 服务端那边本来就没有这个订阅，还在等的 subscribe 确认在本地完成
		count := c.subscribedCount()
		for _, f := range c.takeAcks(kind.subscribeCmd(), key) {
			f.Succeed(count)
		}
		t.remove(key)
		result.Succeed(c.subscribedCount())
		return
	}
	e.unsubscribing = true
	c.expectAck(cmd, key, result)
	c.send(pc, cmd, key)
}

func (c *Client) expectAck(kind, key string, f *future.Future[int64]) {
	k := ackKey{kind, key}
	c.acks[k] = append(c.acks[k], f)
}

// takeAcks 取走 (kind, key) 上所有等待中的确认
func (c *Client) takeAcks(kind, key string) []*future.Future[int64] {
	k := ackKey{kind, key}
	queue := c.acks[k]
	delete(c.acks, k)
	return queue
}

func (c *Client) resolveAck(kind, key string, count int64) {
	k := ackKey{kind, key}
	queue := c.acks[k]
	if len(queue) == 0 {
		return
	}
	f := queue[0]
	if len(queue) == 1 {
		delete(c.acks, k)
	} else {
		c.acks[k] = queue[1:]
	}
	f.Succeed(count)
}

func (c *Client) failAcks(err error) {
	acks := c.acks
	c.acks = make(map[ackKey][]*future.Future[int64])
	for _, queue := range acks {
		for _, f := range queue {
			f.Fail(err)
		}
	}
}

func (c *Client) send(pc *pubsubConn, cmd string, keys ...string) {
	if err := pc.send(utils.ToCmdLine(append([]string{cmd}, keys...)...)); err != nil {
		// 连接正在关闭，关闭事件会触发重连和重新订阅
		c.log.WithError(err).Debugf("%s not sent", cmd)
	}
}

func (c *Client) handlePush(p push) {
	switch p.kind {
	case "message":
		metrics.PubsubMessages.WithLabelValues(c.name, p.kind).Inc()
		if e := c.channels.get(p.channel); e != nil {
			c.deliver(e, Message{Channel: p.channel, Payload: p.payload})
		}
		for _, fn := range c.messageListeners {
			fn(p.channel, p.payload)
		}
	case "pmessage":
		metrics.PubsubMessages.WithLabelValues(c.name, p.kind).Inc()
		if e := c.patterns.get(p.pattern); e != nil {
			c.deliver(e, Message{Pattern: p.pattern, Channel: p.channel, Payload: p.payload})
		}
		for _, fn := range c.pmessageListeners {
			fn(p.pattern, p.channel, p.payload)
		}
	default:
		if p.channel == PingChannel {
			return
		}
		metrics.PubsubMessages.WithLabelValues(c.name, p.kind).Inc()
		c.handleAck(p)
	}
}

// deliver 按注册顺序调用，回调里可能取消订阅，所以先拷贝
func (c *Client) deliver(e *entry, msg Message) {
	for _, sub := range slices.Clone(e.subs) {
		if sub.fn != nil {
			sub.fn(msg)
		}
	}
}

func (c *Client) handleAck(p push) {
	var t *table
	switch p.kind {
	case "unsubscribe":
		t = c.channels
	case "punsubscribe":
		t = c.patterns
	}
	if t != nil {
		if e := t.get(p.channel); e != nil && e.unsubscribing {
			t.remove(p.channel)
		}
	}
	c.resolveAck(p.kind, p.channel, p.count)
	for _, fn := range c.ackListeners {
		fn(p.kind, p.channel, p.count)
	}
}

func (c *Client) resubscribe(pc *pubsubConn) {
	if channels := c.channels.active(); len(channels) > 0 {
		c.send(pc, "subscribe", channels...)
	}
	if patterns := c.patterns.active(); len(patterns) > 0 {
		c.send(pc, "psubscribe", patterns...)
	}
}

// dropUnsubscribing 连接断了，等待确认的取消订阅视为已经完成
func (c *Client) dropUnsubscribing() {
	for _, kind := range []Kind{Channel, Pattern} {
		for _, key := range c.tableFor(kind).dropUnsubscribing() {
			for {
				k := ackKey{kind.unsubscribeCmd(), key}
				if len(c.acks[k]) == 0 {
					break
				}
				c.resolveAck(k.kind, k.key, c.subscribedCount())
			}
		}
	}
}

func (c *Client) handleEvent(e manager.Event) {
	log := c.log
	if e.Err != nil {
		log = log.WithError(e.Err)
	}
	switch e.Kind {
	case manager.EventConnected:
		log.Info("connected")
		c.resubscribe(c.current())
		c.ready.Succeed(struct{}{})
	case manager.EventReconnected:
		log.Info("reconnected")
	case manager.EventDisconnected:
		log.Info("disconnected")
		c.dropUnsubscribing()
	case manager.EventReconnectFailed:
		log.Warnf("reconnect failed, attempt %d", e.Attempt)
	case manager.EventFailed:
		log.Error("connection failed")
		c.failAcks(ErrFailed)
		c.ready.Fail(fmt.Errorf("could not connect after %d attempts: %w", c.cfg.MaxReconnectAttempts, ErrFailed))
		// Reconnect 之后的 Connect 等待下一次连接成功
		c.ready = future.New[struct{}]()
	}
}

// connect dials off the loop and authenticates on it. No SELECT: channels are not per database.
func (c *Client) connect() *future.Future[resp.Connection] {
	result := future.New[resp.Connection]()
	opts := connection.OptionsFor(c.target, &c.cfg, c.opts.TLSConfig, c.log)
	password := c.target.Password

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		netConn, err := connection.Dial(ctx, opts)
		if err != nil {
			result.Fail(err)
			return
		}
		if !c.loop.Post(func() { c.initConn(netConn, opts, password, result) }) {
			_ = netConn.Close()
			result.Fail(ErrClosed)
		}
	}()
	return result
}

func (c *Client) initConn(netConn net.Conn, opts connection.Options, password string, result *future.Future[resp.Connection]) {
	var pc *pubsubConn
	pc = newPubsubConn(c.loop, netConn, opts, c.cfg.InactivityTriggerSeconds, c.cfg.InactivityResponseTimeout, func(p push) {
		// 只处理当前连接的推送
		if c.current() == pc {
			c.handlePush(p)
		}
	})
	if password == "" {
		result.Succeed(pc)
		return
	}
	pc.auth(password).OnSuccess(func(resp.Reply) {
		result.Succeed(pc)
	}).OnFailure(func(err error) {
		_ = pc.Close()
		result.Fail(fmt.Errorf("auth: %w", err))
	})
}
