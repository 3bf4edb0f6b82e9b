// Package redistest -----------------------------
// @file      : server.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/30 10:14
// -------------------------------------------
package redistest

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/lib/sync/atomic"
	"github.com/mloughran/em-hiredis/lib/sync/wait"
)

const dbCount = 16

// HandlerFunc replaces a built-in command. args excludes the command name.
// Returning nil sends nothing.
type HandlerFunc func(s *Session, args [][]byte) resp.Reply

// Server 进程内的 RESP 服务端，给测试和命令行的 mock-server 用
// 记录收到的每条命令，可以暂停回复、断开所有连接、要求密码
type Server struct {
	listener net.Listener
	log      logrus.FieldLogger

	// 命令串行执行，和真正的 redis 一样
	execMu sync.Mutex

	mu       sync.Mutex
	sessions map[*Session]struct{}
	received []string
	resumeCh chan struct{}
	password string
	handlers map[string]HandlerFunc
	scripts  map[string]HandlerFunc

	dbs      []*keyspace
	sha      map[string]string
	channels map[string]map[*Session]struct{}
	patterns map[string]*patternSubs
	monitors map[*Session]struct{}

	closing atomic.Boolean
	workers wait.Wait
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the background
func Start(addr string, log logrus.FieldLogger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		listener: listener,
		log:      log.WithField("mock", listener.Addr().String()),
		sessions: make(map[*Session]struct{}),
		handlers: make(map[string]HandlerFunc),
		scripts:  make(map[string]HandlerFunc),
		sha:      make(map[string]string),
		channels: make(map[string]map[*Session]struct{}),
		patterns: make(map[string]*patternSubs),
		monitors: make(map[*Session]struct{}),
	}
	s.dbs = make([]*keyspace, dbCount)
	for i := range s.dbs {
		s.dbs[i] = newKeyspace()
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.serve()
	}()
	s.log.Info("mock server listening")
	return s, nil
}

// NewServer starts a server on a free local port and closes it when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()
	s, err := Start("127.0.0.1:0", logger.NewTestLogger(t))
	if err != nil {
		t.Fatalf("start mock server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL is redis://addr/0
func (s *Server) URL() string {
	return "redis://" + s.Addr() + "/0"
}

// serve 和普通 tcp 服务一样，一个连接一个协程
func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if s.closing.Get() {
			_ = conn.Close()
			return
		}
		sess := newSession(s, conn)
		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		s.log.Debugf("accepted %s", conn.RemoteAddr())

		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			sess.serve()
			s.forget(sess)
		}()
	}
}

// Close stops listening, drops every connection and waits for the workers
func (s *Server) Close() error {
	if !s.closing.CompareAndSet(false, true) {
		return nil
	}
	err := s.listener.Close()
	s.Resume()
	s.KillConnections()
	if s.workers.WaitWithTimeout(5 * time.Second) {
		s.log.Warn("mock server workers did not stop in time")
	}
	return err
}

// Received lists every command received so far, lower-cased and space-joined,
// e.g. "set foo bar"
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Server) ClearReceived() {
	s.mu.Lock()
	s.received = nil
	s.mu.Unlock()
}

// Pause holds back every command, received but not executed, until Resume
func (s *Server) Pause() {
	s.mu.Lock()
	if s.resumeCh == nil {
		s.resumeCh = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *Server) Resume() {
	s.mu.Lock()
	if s.resumeCh != nil {
		close(s.resumeCh)
		s.resumeCh = nil
	}
	s.mu.Unlock()
}

// KillConnections closes every client connection from the server side
func (s *Server) KillConnections() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Connections is the number of open client connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RequirePass makes every connection authenticate first; empty disables it
func (s *Server) RequirePass(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

// Handle overrides a command, e.g. to return an error or an extra reply
func (s *Server) Handle(name string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[strings.ToLower(name)] = fn
	s.mu.Unlock()
}

// DefineScript tells the server what EVAL / EVALSHA of lua should do,
// since it cannot run Lua itself. args are the keys followed by the arguments.
func (s *Server) DefineScript(lua string, fn HandlerFunc) {
	s.mu.Lock()
	s.scripts[lua] = fn
	s.mu.Unlock()
}

// Set stores a string value directly in db
func (s *Server) Set(db int, key, value string) {
	s.dbs[db].set(key, []byte(value), time.Time{})
}

// Get reads a string value directly from db
func (s *Server) Get(db int, key string) (string, bool) {
	v, ok := s.dbs[db].get(key)
	return string(v), ok
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.received = append(s.received, line)
	s.mu.Unlock()
}

// waitResumed 暂停期间阻塞；连接被关掉时返回 false
func (s *Server) waitResumed(sess *Session) bool {
	s.mu.Lock()
	ch := s.resumeCh
	s.mu.Unlock()
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-sess.closed:
		return false
	}
}

func (s *Server) handler(name string) HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[name]
}

func (s *Server) requiredPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password
}

func (s *Server) forget(sess *Session) {
	s.execMu.Lock()
	s.unsubscribeAll(sess)
	delete(s.monitors, sess)
	s.execMu.Unlock()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.log.Debugf("closed %s", sess.RemoteAddr())
}
