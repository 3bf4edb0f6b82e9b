// Package redistest -----------------------------
// @file      : command.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/30 15:18
// -------------------------------------------
package redistest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// 支持的指令表
var cmdTable = make(map[string]*command)

type execFunc func(s *Server, sess *Session, args [][]byte) resp.Reply

type command struct {
	executor execFunc
	// 参数个数，包含命令名；负数表示至少这么多
	arity int
}

func registerCommand(name string, executor execFunc, arity int) {
	cmdTable[strings.ToLower(name)] = &command{
		executor: executor,
		arity:    arity,
	}
}

// 订阅状态下只允许这些命令
var subscriptionAllowed = map[string]bool{
	"subscribe":    true,
	"unsubscribe":  true,
	"psubscribe":   true,
	"punsubscribe": true,
	"ping":         true,
	"quit":         true,
}

// SET K V → arity = 3
// EXISTS k1 k2 k3 ... → arity = -2
func validateArity(arity int, cmdArgs [][]byte) bool {
	argNum := len(cmdArgs)
	if arity > 0 {
		return argNum == arity
	}
	return argNum >= -arity
}

func (s *Server) exec(sess *Session, cmdLine [][]byte) resp.Reply {
	name := strings.ToLower(string(cmdLine[0]))
	args := cmdLine[1:]

	s.execMu.Lock()
	defer s.execMu.Unlock()

	if pw := s.requiredPassword(); pw != "" && !sess.authed && name != "auth" {
		return &reply.NoAuthErrReply{}
	}
	if sess.subscribed() > 0 && !subscriptionAllowed[name] {
		return reply.MakeErrReply(fmt.Sprintf("ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context", name))
	}
	if name != "auth" && name != "monitor" {
		s.feedMonitors(sess, cmdLine)
	}
	if fn := s.handler(name); fn != nil {
		return fn(sess, args)
	}
	cmd, ok := cmdTable[name]
	if !ok {
		return reply.MakeErrReply("ERR unknown command '" + name + "'")
	}
	if !validateArity(cmd.arity, cmdLine) {
		return reply.MakeArgNumErrReply(name)
	}
	return cmd.executor(s, sess, args)
}

func (s *Server) db(sess *Session) *keyspace {
	return s.dbs[sess.db]
}

/* ---- connection ---- */

func execPing(s *Server, sess *Session, args [][]byte) resp.Reply {
	if sess.subscribed() > 0 {
		msg := []byte{}
		if len(args) > 0 {
			msg = args[0]
		}
		return reply.MakeArrayReply([]resp.Reply{reply.MakeBulkReply([]byte("pong")), reply.MakeBulkReply(msg)})
	}
	if len(args) > 0 {
		return reply.MakeBulkReply(args[0])
	}
	return reply.MakePongReply()
}

func execEcho(s *Server, sess *Session, args [][]byte) resp.Reply {
	return reply.MakeBulkReply(args[0])
}

func execAuth(s *Server, sess *Session, args [][]byte) resp.Reply {
	pw := s.requiredPassword()
	if pw == "" {
		return reply.MakeErrReply("ERR Client sent AUTH, but no password is set")
	}
	if string(args[0]) != pw {
		sess.authed = false
		return reply.MakeErrReply("WRONGPASS invalid username-password pair or user is disabled.")
	}
	sess.authed = true
	return reply.MakeOkReply()
}

func execSelect(s *Server, sess *Session, args [][]byte) resp.Reply {
	index, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return reply.MakeErrReply("ERR value is not an integer or out of range")
	}
	if index < 0 || index >= len(s.dbs) {
		return reply.MakeErrReply("ERR DB index is out of range")
	}
	sess.db = index
	return reply.MakeOkReply()
}

func execQuit(s *Server, sess *Session, args [][]byte) resp.Reply {
	_ = sess.Write(reply.MakeOkReply().ToBytes())
	sess.Close()
	return nil
}

func execInfo(s *Server, sess *Session, args [][]byte) resp.Reply {
	s.mu.Lock()
	clients := len(s.sessions)
	s.mu.Unlock()
	var b strings.Builder
	b.WriteString("# Server\r\n")
	b.WriteString("redis_version:7.2.0\r\n")
	b.WriteString("redis_mode:standalone\r\n")
	b.WriteString("# Clients\r\n")
	fmt.Fprintf(&b, "connected_clients:%d\r\n", clients)
	b.WriteString("# Keyspace\r\n")
	for i, ks := range s.dbs {
		if n := len(ks.keys()); n > 0 {
			fmt.Fprintf(&b, "db%d:keys=%d,expires=0,avg_ttl=0\r\n", i, n)
		}
	}
	return reply.MakeBulkReply([]byte(b.String()))
}

// MONITOR 之后这个连接只接收别的连接的命令
func execMonitor(s *Server, sess *Session, args [][]byte) resp.Reply {
	s.monitors[sess] = struct{}{}
	return reply.MakeOkReply()
}

func (s *Server) feedMonitors(from *Session, cmdLine [][]byte) {
	if len(s.monitors) == 0 {
		return
	}
	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%06d [%d %s]", now.Unix(), now.Nanosecond()/1000, from.db, from.RemoteAddr())
	for _, arg := range cmdLine {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(string(arg)))
	}
	line := reply.MakeStatusReply(b.String()).ToBytes()
	for m := range s.monitors {
		if m != from {
			_ = m.Write(line)
		}
	}
}

/* ---- strings & keys ---- */

func execGet(s *Server, sess *Session, args [][]byte) resp.Reply {
	value, ok := s.db(sess).get(string(args[0]))
	if !ok {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(value)
}

// SET k v [EX seconds | PX milliseconds] [NX | XX]
func execSet(s *Server, sess *Session, args [][]byte) resp.Reply {
	key, value := string(args[0]), args[1]
	var expireAt time.Time
	nx, xx := false, false
	for i := 2; i < len(args); i++ {
		switch opt := strings.ToUpper(string(args[i])); opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return reply.MakeSyntaxErrReply()
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil || n <= 0 {
				return reply.MakeErrReply("ERR invalid expire time in 'set' command")
			}
			unit := time.Second
			if opt == "PX" {
				unit = time.Millisecond
			}
			expireAt = time.Now().Add(time.Duration(n) * unit)
			i++
		default:
			return reply.MakeSyntaxErrReply()
		}
	}
	if nx && xx {
		return reply.MakeSyntaxErrReply()
	}
	db := s.db(sess)
	exists := db.exists(key)
	if (nx && exists) || (xx && !exists) {
		return reply.MakeNullBulkReply()
	}
	db.set(key, value, expireAt)
	return reply.MakeOkReply()
}

func execSetNX(s *Server, sess *Session, args [][]byte) resp.Reply {
	db := s.db(sess)
	if db.exists(string(args[0])) {
		return reply.MakeIntReply(0)
	}
	db.set(string(args[0]), args[1], time.Time{})
	return reply.MakeIntReply(1)
}

func execGetSet(s *Server, sess *Session, args [][]byte) resp.Reply {
	db := s.db(sess)
	old, exists := db.get(string(args[0]))
	db.set(string(args[0]), args[1], time.Time{})
	if !exists {
		return reply.MakeNullBulkReply()
	}
	return reply.MakeBulkReply(old)
}

func execStrLen(s *Server, sess *Session, args [][]byte) resp.Reply {
	value, _ := s.db(sess).get(string(args[0]))
	return reply.MakeIntReply(int64(len(value)))
}

func execIncrBy(s *Server, sess *Session, key string, delta int64) resp.Reply {
	db := s.db(sess)
	var n int64
	if raw, ok := db.get(key); ok {
		var err error
		n, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return reply.MakeErrReply("ERR value is not an integer or out of range")
		}
	}
	n += delta
	db.set(key, []byte(strconv.FormatInt(n, 10)), time.Time{})
	return reply.MakeIntReply(n)
}

func execIncr(s *Server, sess *Session, args [][]byte) resp.Reply {
	return execIncrBy(s, sess, string(args[0]), 1)
}

func execDecr(s *Server, sess *Session, args [][]byte) resp.Reply {
	return execIncrBy(s, sess, string(args[0]), -1)
}

func execDel(s *Server, sess *Session, args [][]byte) resp.Reply {
	keys := make([]string, len(args))
	for i, v := range args {
		keys[i] = string(v)
	}
	return reply.MakeIntReply(int64(s.db(sess).remove(keys...)))
}

func execExists(s *Server, sess *Session, args [][]byte) resp.Reply {
	n := 0
	for _, key := range args {
		if s.db(sess).exists(string(key)) {
			n++
		}
	}
	return reply.MakeIntReply(int64(n))
}

func expireWith(unit time.Duration) execFunc {
	return func(s *Server, sess *Session, args [][]byte) resp.Reply {
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return reply.MakeErrReply("ERR value is not an integer or out of range")
		}
		db := s.db(sess)
		key := string(args[0])
		if n <= 0 {
			return reply.MakeIntReply(int64(db.remove(key)))
		}
		if !db.expire(key, time.Now().Add(time.Duration(n)*unit)) {
			return reply.MakeIntReply(0)
		}
		return reply.MakeIntReply(1)
	}
}

func execPTTL(s *Server, sess *Session, args [][]byte) resp.Reply {
	return reply.MakeIntReply(s.db(sess).ttl(string(args[0])))
}

func execTTL(s *Server, sess *Session, args [][]byte) resp.Reply {
	ttl := s.db(sess).ttl(string(args[0]))
	if ttl > 0 {
		ttl = (ttl + 999) / 1000
	}
	return reply.MakeIntReply(ttl)
}

func execKeys(s *Server, sess *Session, args [][]byte) resp.Reply {
	pattern, err := glob.Compile(string(args[0]))
	if err != nil {
		return reply.MakeErrReply("ERR invalid pattern")
	}
	var result []resp.Reply
	for _, key := range s.db(sess).keys() {
		if pattern.Match(key) {
			result = append(result, reply.MakeBulkReply([]byte(key)))
		}
	}
	if len(result) == 0 {
		return reply.MakeEmptyMultiBulkReply()
	}
	return reply.MakeArrayReply(result)
}

func execDBSize(s *Server, sess *Session, args [][]byte) resp.Reply {
	return reply.MakeIntReply(int64(len(s.db(sess).keys())))
}

func execFlushDB(s *Server, sess *Session, args [][]byte) resp.Reply {
	s.db(sess).flush()
	return reply.MakeOkReply()
}

func execFlushAll(s *Server, sess *Session, args [][]byte) resp.Reply {
	for _, ks := range s.dbs {
		ks.flush()
	}
	return reply.MakeOkReply()
}

func init() {
	registerCommand("Ping", execPing, -1)
	registerCommand("Echo", execEcho, 2)
	registerCommand("Auth", execAuth, 2)
	registerCommand("Select", execSelect, 2)
	registerCommand("Quit", execQuit, 1)
	registerCommand("Info", execInfo, -1)
	registerCommand("Monitor", execMonitor, 1)

	registerCommand("Get", execGet, 2)
	registerCommand("Set", execSet, -3)
	registerCommand("SetNx", execSetNX, 3)
	registerCommand("GetSet", execGetSet, 3)
	registerCommand("StrLen", execStrLen, 2)
	registerCommand("Incr", execIncr, 2)
	registerCommand("Decr", execDecr, 2)
	registerCommand("Del", execDel, -2)
	registerCommand("Exists", execExists, -2)
	registerCommand("Expire", expireWith(time.Second), 3)
	registerCommand("PExpire", expireWith(time.Millisecond), 3)
	registerCommand("TTL", execTTL, 2)
	registerCommand("PTTL", execPTTL, 2)
	registerCommand("Keys", execKeys, 2)
	registerCommand("DBSize", execDBSize, 1)
	registerCommand("FlushDB", execFlushDB, -1)
	registerCommand("FlushAll", execFlushAll, -1)
}
