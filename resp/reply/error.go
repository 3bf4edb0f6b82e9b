// Package reply -----------------------------
// @file      : error.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/23 12:55
// -------------------------------------------
package reply

// 服务端会回给客户端的固定错误
// 客户端这边只会把它们当作普通的 StandardErrReply 解析出来，redistest 用它们来回复

// ArgNumErrReply 是动态的
type ArgNumErrReply struct {
	Cmd string
}

func (r *ArgNumErrReply) Error() string {
	return "ERR wrong number of arguments for '" + r.Cmd + "' command"
}

func (r *ArgNumErrReply) ToBytes() []byte {
	return []byte("-" + r.Error() + CRLF)
}

func MakeArgNumErrReply(cmd string) *ArgNumErrReply {
	return &ArgNumErrReply{
		Cmd: cmd,
	}
}

// SyntaxErrReply represents meeting unexpected arguments
type SyntaxErrReply struct{}

var syntaxErrBytes = []byte("-ERR syntax error\r\n")
var theSyntaxErrReply = &SyntaxErrReply{}

// MakeSyntaxErrReply creates syntax error
func MakeSyntaxErrReply() *SyntaxErrReply {
	return theSyntaxErrReply
}

// ToBytes marshals redis.Reply
func (r *SyntaxErrReply) ToBytes() []byte {
	return syntaxErrBytes
}

func (r *SyntaxErrReply) Error() string {
	return "ERR syntax error"
}

// NoAuthErrReply is returned for commands sent before a required AUTH
type NoAuthErrReply struct{}

var noAuthErrBytes = []byte("-NOAUTH Authentication required.\r\n")

func (r *NoAuthErrReply) ToBytes() []byte {
	return noAuthErrBytes
}

func (r *NoAuthErrReply) Error() string {
	return "NOAUTH Authentication required."
}

// NoScriptErrReply 对应 EVALSHA 找不到脚本
type NoScriptErrReply struct{}

var noScriptErrBytes = []byte("-NOSCRIPT No matching script. Please use EVAL.\r\n")

func (r *NoScriptErrReply) ToBytes() []byte {
	return noScriptErrBytes
}

func (r *NoScriptErrReply) Error() string {
	return "NOSCRIPT No matching script. Please use EVAL."
}

// ProtocolErrReply represents meeting unexpected byte during parse requests
type ProtocolErrReply struct {
	Msg string
}

// ToBytes marshals redis.Reply
func (r *ProtocolErrReply) ToBytes() []byte {
	return []byte("-ERR Protocol error: '" + r.Msg + "'\r\n")
}

func (r *ProtocolErrReply) Error() string {
	return "ERR Protocol error: '" + r.Msg + "'"
}
