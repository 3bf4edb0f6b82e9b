// Package client -----------------------------
// @file      : conn.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/24 11:12
// -------------------------------------------
package client

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/lib/inactivity"
	"github.com/mloughran/em-hiredis/lib/metrics"
	"github.com/mloughran/em-hiredis/lib/reactor"
	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/resp/connection"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// request is a command waiting for its reply
type request struct {
	cmdLine [][]byte
	result  *future.Future[resp.Reply]
}

func newRequest(cmdLine [][]byte) *request {
	return &request{
		cmdLine: cmdLine,
		result:  future.New[resp.Reply](),
	}
}

// redisConn 命令连接：物理连接 + 看门狗 + 等待回复的 FIFO
// 第 N 个回复对应 FIFO 里第 N 个还没完成的请求
type redisConn struct {
	*connection.Conn
	name    string
	log     logrus.FieldLogger
	checker *inactivity.Checker

	pending []*request
	// 非空时处于 monitor 模式，没有请求对应的回复交给它处理
	monitor func(resp.Reply)
}

func newRedisConn(loop *reactor.Loop, netConn net.Conn, opts connection.Options, pingAfter, deadAfter int) *redisConn {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	rc := &redisConn{
		Conn: connection.New(loop, netConn, opts),
		name: opts.Name,
		log:  opts.Logger,
	}
	rc.checker = inactivity.NewChecker(pingAfter, deadAfter, rc.ping, rc.dead)
	rc.Conn.Start(rc)
	rc.checker.Start(loop)
	return rc
}

// send 写出命令并进入 FIFO；连接已经关了就直接失败
func (rc *redisConn) send(req *request) {
	if rc.Closed() {
		req.result.Fail(connection.Lost(connection.ErrClosed))
		return
	}
	rc.pending = append(rc.pending, req)
	if err := rc.SendCommand(req.cmdLine); err != nil {
		// 不会发生：Closed 为 false 时写队列一定是开着的
		rc.pending = rc.pending[:len(rc.pending)-1]
		req.result.Fail(connection.Lost(err))
	}
}

func (rc *redisConn) pendingCount() int {
	return len(rc.pending)
}

func (rc *redisConn) HandleActivity() {
	rc.checker.Activity()
}

func (rc *redisConn) HandleReply(r resp.Reply) {
	if len(rc.pending) == 0 {
		if rc.monitor != nil {
			rc.monitor(r)
			return
		}
		metrics.Desyncs.WithLabelValues(rc.name).Inc()
		rc.log.WithField("reply", string(r.ToBytes())).Error("replies out of sync, closing connection")
		rc.CloseWithError(connection.ErrOutOfSync)
		return
	}
	req := rc.pending[0]
	rc.pending[0] = nil
	rc.pending = rc.pending[1:]

	if errReply, ok := r.(reply.ErrorReply); ok {
		metrics.Replies.WithLabelValues(rc.name, "error").Inc()
		req.result.Fail(&connection.RedisError{Msg: errReply.Error()})
		return
	}
	metrics.Replies.WithLabelValues(rc.name, "ok").Inc()
	req.result.Succeed(r)
}

// HandleClose 按 FIFO 顺序让所有等待中的请求失败
func (rc *redisConn) HandleClose(cause error) {
	rc.checker.Stop()
	pending := rc.pending
	rc.pending = nil
	err := connection.Lost(cause)
	for _, req := range pending {
		req.result.Fail(err)
	}
}

// enterMonitor 发出 MONITOR，之后的推送交给 fn；看门狗停掉，推送本身就是流量
func (rc *redisConn) enterMonitor(fn func(resp.Reply)) *future.Future[resp.Reply] {
	req := newRequest(utils.ToCmdLine("MONITOR"))
	rc.send(req)
	rc.monitor = fn
	rc.checker.Stop()
	return req.result
}

func (rc *redisConn) ping(idle int) {
	rc.log.Debugf("no activity for %ds, sending ping", idle)
	metrics.InactivityPings.WithLabelValues(rc.name).Inc()
	// 结果不关心，只是为了让服务端回点数据
	rc.send(newRequest(utils.ToCmdLine("PING")))
}

func (rc *redisConn) dead(idle int) {
	rc.log.Warnf("no activity for %ds after ping, closing connection", idle)
	rc.CloseWithError(inactivity.ErrDead)
}
