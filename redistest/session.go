// Package redistest -----------------------------
// @file      : session.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/30 11:02
// -------------------------------------------
package redistest

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/resp/parser"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// Session 服务端的一个客户端连接
type Session struct {
	server *Server
	conn   net.Conn

	// 发布消息会从别的连接的协程写进来
	writeMu sync.Mutex
	closeMu sync.Once
	closed  chan struct{}

	// 以下字段只在持有 server.execMu 时访问
	db       int
	authed   bool
	channels map[string]struct{}
	patterns map[string]struct{}
}

func newSession(s *Server, conn net.Conn) *Session {
	return &Session{
		server:   s,
		conn:     conn,
		closed:   make(chan struct{}),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

func (sess *Session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

// DB is the selected database. Only valid inside a HandlerFunc.
func (sess *Session) DB() int {
	return sess.db
}

// Write sends raw bytes to the client
func (sess *Session) Write(b []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_, err := sess.conn.Write(b)
	return err
}

func (sess *Session) Close() {
	sess.closeMu.Do(func() {
		close(sess.closed)
		_ = sess.conn.Close()
	})
}

func (sess *Session) subscribed() int {
	return len(sess.channels) + len(sess.patterns)
}

// serve 读取命令直到连接断开
func (sess *Session) serve() {
	ch := parser.ParseStream(sess.conn)
	defer func() {
		sess.Close()
		// 解析协程可能还阻塞在发送上
		for range ch {
		}
	}()
	for payload := range ch {
		if payload.Err != nil {
			if !errors.Is(payload.Err, io.EOF) && !errors.Is(payload.Err, net.ErrClosed) {
				if errors.Is(payload.Err, parser.ErrProtocol) {
					_ = sess.Write((&reply.ProtocolErrReply{Msg: payload.Err.Error()}).ToBytes())
				}
				sess.server.log.WithError(payload.Err).Debug("read failed")
			}
			return
		}
		arr, ok := payload.Data.(*reply.ArrayReply)
		if !ok {
			_ = sess.Write((&reply.ProtocolErrReply{Msg: "expected array"}).ToBytes())
			return
		}
		cmdLine, ok := arr.Args()
		if !ok || len(cmdLine) == 0 {
			_ = sess.Write((&reply.ProtocolErrReply{Msg: "expected bulk strings"}).ToBytes())
			return
		}
		sess.server.record(formatLine(cmdLine))
		if !sess.server.waitResumed(sess) {
			return
		}
		result := sess.server.exec(sess, cmdLine)
		if _, ok := result.(*reply.NoReply); ok || result == nil {
			continue
		}
		if err := sess.Write(result.ToBytes()); err != nil {
			return
		}
	}
}

func formatLine(cmdLine [][]byte) string {
	parts := make([]string, len(cmdLine))
	parts[0] = strings.ToLower(string(cmdLine[0]))
	for i := 1; i < len(cmdLine); i++ {
		parts[i] = string(cmdLine[i])
	}
	return strings.Join(parts, " ")
}

// push 发给订阅者的消息
func (sess *Session) push(parts ...resp.Reply) {
	_ = sess.Write(reply.MakeArrayReply(parts).ToBytes())
}
