// Package pubsub -----------------------------
// @file      : conn.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/29 11:05
// -------------------------------------------
package pubsub

import (
	"fmt"
	"net"
	"strings"

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

// PingChannel 订阅连接不能发 PING，用订阅再取消这个频道来探测连接
const PingChannel = "__em-hiredis-ping"

var pubsubCommands = map[string]bool{
	"subscribe":    true,
	"unsubscribe":  true,
	"psubscribe":   true,
	"punsubscribe": true,
}

// push is one decoded server push. For acks channel holds the key.
type push struct {
	kind    string
	pattern string
	channel string
	payload []byte
	count   int64
}

// pubsubConn 订阅连接：物理连接 + 看门狗，推送交给 onPush
type pubsubConn struct {
	*connection.Conn
	name    string
	log     logrus.FieldLogger
	checker *inactivity.Checker

	// AUTH 是唯一允许的请求-回复命令，只在连接刚建立时发
	authResult *future.Future[resp.Reply]
	onPush     func(push)
}

func newPubsubConn(loop *reactor.Loop, netConn net.Conn, opts connection.Options, pingAfter, deadAfter int, onPush func(push)) *pubsubConn {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	pc := &pubsubConn{
		Conn:   connection.New(loop, netConn, opts),
		name:   opts.Name,
		log:    opts.Logger,
		onPush: onPush,
	}
	pc.checker = inactivity.NewChecker(pingAfter, deadAfter, pc.ping, pc.dead)
	pc.Conn.Start(pc)
	pc.checker.Start(loop)
	return pc
}

// send writes a subscription command; anything else is refused
func (pc *pubsubConn) send(cmdLine [][]byte) error {
	if len(cmdLine) == 0 || !pubsubCommands[strings.ToLower(string(cmdLine[0]))] {
		return fmt.Errorf("%w: %s", ErrNotPubSubCommand, utils.CmdString(cmdLine))
	}
	return pc.SendCommand(cmdLine)
}

func (pc *pubsubConn) auth(password string) *future.Future[resp.Reply] {
	f := future.New[resp.Reply]()
	pc.authResult = f
	if err := pc.SendCommand(utils.ToCmdLine("AUTH", password)); err != nil {
		pc.authResult = nil
		f.Fail(connection.Lost(err))
	}
	return f
}

func (pc *pubsubConn) HandleActivity() {
	pc.checker.Activity()
}

func (pc *pubsubConn) HandleReply(r resp.Reply) {
	if f := pc.authResult; f != nil {
		pc.authResult = nil
		if errReply, ok := r.(reply.ErrorReply); ok {
			f.Fail(&connection.RedisError{Msg: errReply.Error()})
			return
		}
		f.Succeed(r)
		return
	}
	p, err := parsePush(r)
	if err != nil {
		pc.log.WithError(err).Error("unrecognised pubsub reply")
		return
	}
	pc.onPush(p)
}

func (pc *pubsubConn) HandleClose(cause error) {
	pc.checker.Stop()
	if f := pc.authResult; f != nil {
		pc.authResult = nil
		f.Fail(connection.Lost(cause))
	}
}

func (pc *pubsubConn) ping(idle int) {
	pc.log.Debugf("no activity for %ds, sending ping", idle)
	metrics.InactivityPings.WithLabelValues(pc.name).Inc()
	_ = pc.send(utils.ToCmdLine("subscribe", PingChannel))
	_ = pc.send(utils.ToCmdLine("unsubscribe", PingChannel))
}

func (pc *pubsubConn) dead(idle int) {
	pc.log.Warnf("no activity for %ds after ping, closing connection", idle)
	pc.CloseWithError(inactivity.ErrDead)
}

// parsePush decodes
//
//	message      channel payload
//	pmessage     pattern channel payload
//	(p)(un)subscribe key count
func parsePush(r resp.Reply) (push, error) {
	arr, ok := r.(*reply.ArrayReply)
	if !ok || len(arr.Replies) < 3 {
		return push{}, fmt.Errorf("unexpected reply %q", r.ToBytes())
	}
	kind, ok := bulk(arr.Replies[0])
	if !ok {
		return push{}, fmt.Errorf("unexpected reply %q", r.ToBytes())
	}
	p := push{kind: strings.ToLower(string(kind))}
	switch p.kind {
	case "message":
		channel, ok1 := bulk(arr.Replies[1])
		payload, ok2 := bulk(arr.Replies[2])
		if !ok1 || !ok2 {
			return push{}, fmt.Errorf("malformed message %q", r.ToBytes())
		}
		p.channel, p.payload = string(channel), payload
	case "pmessage":
		if len(arr.Replies) < 4 {
			return push{}, fmt.Errorf("malformed pmessage %q", r.ToBytes())
		}
		pattern, ok1 := bulk(arr.Replies[1])
		channel, ok2 := bulk(arr.Replies[2])
		payload, ok3 := bulk(arr.Replies[3])
		if !ok1 || !ok2 || !ok3 {
			return push{}, fmt.Errorf("malformed pmessage %q", r.ToBytes())
		}
		p.pattern, p.channel, p.payload = string(pattern), string(channel), payload
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		// 取消全部订阅时 key 是 null
		key, _ := bulk(arr.Replies[1])
		count, ok := arr.Replies[2].(*reply.IntReply)
		if !ok {
			return push{}, fmt.Errorf("malformed %s ack %q", p.kind, r.ToBytes())
		}
		p.channel, p.count = string(key), count.Code
	default:
		return push{}, fmt.Errorf("unknown push kind %q", kind)
	}
	return p, nil
}

func bulk(r resp.Reply) ([]byte, bool) {
	switch v := r.(type) {
	case *reply.BulkReply:
		return v.Arg, true
	case *reply.NullBulkReply:
		return nil, true
	}
	return nil, false
}
