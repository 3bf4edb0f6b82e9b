// Package redistest -----------------------------
// @file      : script.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/31 11:20
// -------------------------------------------
package redistest

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/resp/reply"
)

func scriptSHA(lua string) string {
	sum := sha1.Sum([]byte(lua))
	return hex.EncodeToString(sum[:])
}

// runScript 执行 DefineScript 注册的实现
func (s *Server) runScript(sess *Session, lua string, args [][]byte) resp.Reply {
	s.mu.Lock()
	fn := s.scripts[lua]
	s.mu.Unlock()
	if fn == nil {
		return reply.MakeErrReply("ERR script not defined on mock server")
	}
	numKeys, err := strconv.Atoi(string(args[0]))
	if err != nil || numKeys < 0 || numKeys > len(args)-1 {
		return reply.MakeErrReply("ERR Number of keys can't be greater than number of args")
	}
	return fn(sess, args[1:])
}

// EVAL script numkeys key... arg...
func execEval(s *Server, sess *Session, args [][]byte) resp.Reply {
	lua := string(args[0])
	s.sha[scriptSHA(lua)] = lua
	return s.runScript(sess, lua, args[1:])
}

func execEvalSHA(s *Server, sess *Session, args [][]byte) resp.Reply {
	lua, ok := s.sha[strings.ToLower(string(args[0]))]
	if !ok {
		return &reply.NoScriptErrReply{}
	}
	return s.runScript(sess, lua, args[1:])
}

// SCRIPT LOAD | EXISTS | FLUSH
func execScript(s *Server, sess *Session, args [][]byte) resp.Reply {
	switch strings.ToLower(string(args[0])) {
	case "load":
		if len(args) != 2 {
			return reply.MakeArgNumErrReply("script|load")
		}
		sha := scriptSHA(string(args[1]))
		s.sha[sha] = string(args[1])
		return reply.MakeBulkReply([]byte(sha))
	case "exists":
		result := make([]resp.Reply, len(args)-1)
		for i, sha := range args[1:] {
			var n int64
			if _, ok := s.sha[strings.ToLower(string(sha))]; ok {
				n = 1
			}
			result[i] = reply.MakeIntReply(n)
		}
		return reply.MakeArrayReply(result)
	case "flush":
		s.sha = make(map[string]string)
		return reply.MakeOkReply()
	}
	return reply.MakeErrReply("ERR unknown subcommand '" + string(args[0]) + "'")
}

func init() {
	registerCommand("Eval", execEval, -3)
	registerCommand("EvalSha", execEvalSHA, -3)
	registerCommand("Script", execScript, -2)
}
