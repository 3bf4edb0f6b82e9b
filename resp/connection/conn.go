// Package connection -----------------------------
// @file      : conn.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/3 11:04
// -------------------------------------------
package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/metrics"
	"github.com/mloughran/em-hiredis/lib/reactor"
	"github.com/mloughran/em-hiredis/lib/sync/atomic"
	"github.com/mloughran/em-hiredis/lib/sync/wait"
	"github.com/mloughran/em-hiredis/resp/parser"
	"github.com/mloughran/em-hiredis/resp/reply"
)

var (
	// ErrClosed is the close cause when the connection was closed locally
	ErrClosed = errors.New("connection closed")
	// ErrClosedByPeer is the close cause when the server hung up
	ErrClosedByPeer = errors.New("connection closed by peer")
)

const readChunk = 16 * 1024

// Handler receives connection events. Every method runs on the loop.
type Handler interface {
	// HandleActivity 收到任何字节都会调用，在解析之前
	HandleActivity()
	HandleReply(reply resp.Reply)
	// HandleClose 只会调用一次
	HandleClose(cause error)
}

// Options 建立物理连接需要的参数
type Options struct {
	Network        string
	Addr           string
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration
	// Name 用于日志和指标，不能带密码
	Name   string
	Logger logrus.FieldLogger
}

// Dial opens the socket (and completes the TLS handshake when configured).
// It blocks, so it never runs on the loop.
func Dial(ctx context.Context, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	if opts.TLSConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: opts.TLSConfig}
		return tlsDialer.DialContext(ctx, opts.Network, opts.Addr)
	}
	return dialer.DialContext(ctx, opts.Network, opts.Addr)
}

// Conn 一个已经建立的物理连接
// 读协程把收到的字节投递到 loop 上解析，写操作进入无界队列由写协程发送，loop 永远不会阻塞在网络上
type Conn struct {
	name    string
	loop    *reactor.Loop
	netConn net.Conn
	log     logrus.FieldLogger

	// 以下字段只在 loop 上访问
	reader  *parser.Reader
	handler Handler
	closed  bool
	onClose []func(cause error)

	mu     sync.Mutex
	cond   *sync.Cond
	outbox [][]byte

	closing atomic.Boolean
	workers wait.Wait
}

// New wraps an established socket. Call Start on the loop to begin reading.
func New(loop *reactor.Loop, netConn net.Conn, opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Conn{
		name:    opts.Name,
		loop:    loop,
		netConn: netConn,
		log:     log,
		reader:  parser.NewReader(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start 开始读写，handler 接收之后所有事件
func (c *Conn) Start(handler Handler) {
	c.handler = handler
	c.workers.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

func (c *Conn) Name() string {
	return c.name
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Send queues raw bytes for writing. It is safe from any goroutine and never blocks.
func (c *Conn) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing.Get() {
		return ErrClosed
	}
	c.outbox = append(c.outbox, data)
	c.cond.Signal()
	return nil
}

// SendCommand encodes cmdLine as a RESP array of bulk strings and queues it
func (c *Conn) SendCommand(cmdLine [][]byte) error {
	return c.Send(reply.MakeMultiBulkReply(cmdLine).ToBytes())
}

// OnClose registers fn to run on the loop after the handler saw the close
func (c *Conn) OnClose(fn func(cause error)) {
	if c.closed {
		fn(ErrClosed)
		return
	}
	c.onClose = append(c.onClose, fn)
}

// Close closes the socket. Must be called on the loop; repeated calls are no-ops.
func (c *Conn) Close() error {
	c.CloseWithError(nil)
	return nil
}

// Closed 是否已经关闭，loop 上调用
func (c *Conn) Closed() bool {
	return c.closed
}

// CloseWithError closes the connection and reports cause to the handler.
// A nil cause means a local close.
func (c *Conn) CloseWithError(cause error) {
	if c.closed {
		return
	}
	c.closed = true
	if cause == nil {
		cause = ErrClosed
	}

	c.mu.Lock()
	c.closing.Set(true)
	c.outbox = nil
	c.cond.Signal()
	c.mu.Unlock()
	// 读写协程会因为 socket 关闭而退出
	_ = c.netConn.Close()

	if c.handler != nil {
		c.handler.HandleClose(cause)
	}
	listeners := c.onClose
	c.onClose = nil
	for _, fn := range listeners {
		fn(cause)
	}
}

// Wait 等待读写协程退出，超时返回 true
func (c *Conn) Wait(timeout time.Duration) bool {
	return c.workers.WaitWithTimeout(timeout)
}

// receive runs on the loop for every chunk the read goroutine delivers
func (c *Conn) receive(chunk []byte) {
	if c.closed {
		return
	}
	c.handler.HandleActivity()
	c.reader.Feed(chunk)
	for !c.closed {
		result, ok, err := c.reader.Next()
		if err != nil {
			metrics.ProtocolErrors.WithLabelValues(c.name).Inc()
			c.log.WithError(err).Error("closing connection after malformed reply")
			c.CloseWithError(err)
			return
		}
		if !ok {
			return
		}
		c.handler.HandleReply(result)
	}
}

func (c *Conn) readLoop() {
	defer c.workers.Done()
	buf := make([]byte, readChunk)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			c.loop.Post(func() { c.receive(chunk) })
		}
		if err != nil {
			if c.closing.Get() {
				return
			}
			cause := fmt.Errorf("read: %w", err)
			if errors.Is(err, io.EOF) {
				cause = ErrClosedByPeer
			}
			c.loop.Post(func() { c.CloseWithError(cause) })
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.workers.Done()
	for {
		c.mu.Lock()
		for len(c.outbox) == 0 && !c.closing.Get() {
			c.cond.Wait()
		}
		if c.closing.Get() {
			c.mu.Unlock()
			return
		}
		batch := net.Buffers(c.outbox)
		c.outbox = nil
		c.mu.Unlock()

		// 一次系统调用写出所有排队的命令
		if _, err := batch.WriteTo(c.netConn); err != nil {
			if c.closing.Get() {
				return
			}
			cause := fmt.Errorf("write: %w", err)
			c.loop.Post(func() { c.CloseWithError(cause) })
			return
		}
	}
}
