// Package reply -----------------------------
// @file      : reply.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/23 12:55
// -------------------------------------------
package reply

import (
	"bytes"
	"strconv"

	"github.com/mloughran/em-hiredis/interface/resp"
)

var (
	nullBulkReplyBytes = []byte("$-1")
	CRLF               = "\r\n"
)

/* ---- Bulk Reply ---- */

// BulkReply stores a binary-safe string
type BulkReply struct {
	Arg []byte
}

func (b *BulkReply) ToBytes() []byte {
	// "hcjjj" → "$5\r\nhcjjj\r\n"
	var buf bytes.Buffer
	writeBulk(&buf, b.Arg)
	return buf.Bytes()
}

func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{
		Arg: arg,
	}
}

/* ---- Multi Bulk Reply ---- */

// MultiBulkReply 二维的参数，客户端发出的命令总是这种格式
type MultiBulkReply struct {
	Args [][]byte
}

func (r *MultiBulkReply) ToBytes() []byte {
	// 拼接多个字符串再输出为字节
	var buf bytes.Buffer
	buf.Grow(r.size())
	buf.WriteString("*" + strconv.Itoa(len(r.Args)) + CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.WriteString(string(nullBulkReplyBytes) + CRLF)
			continue
		}
		writeBulk(&buf, arg)
	}
	return buf.Bytes()
}

// size estimates the encoded length so the buffer grows once
func (r *MultiBulkReply) size() int {
	n := 16
	for _, arg := range r.Args {
		n += len(arg) + 16
	}
	return n
}

func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

// writeBulk 长度按字节计算，不是按字符
func writeBulk(buf *bytes.Buffer, arg []byte) {
	buf.WriteString("$" + strconv.Itoa(len(arg)) + CRLF)
	buf.Write(arg)
	buf.WriteString(CRLF)
}

/* ---- Array Reply ---- */

// ArrayReply is an array whose elements may be any reply, including nested arrays.
// The parser produces it for every '*' frame.
type ArrayReply struct {
	Replies []resp.Reply
}

func (r *ArrayReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(len(r.Replies)) + CRLF)
	for _, re := range r.Replies {
		buf.Write(re.ToBytes())
	}
	return buf.Bytes()
}

// Args returns the elements as raw byte strings when every element is a bulk
// string (null bulk becomes nil). ok is false for mixed or nested arrays.
func (r *ArrayReply) Args() ([][]byte, bool) {
	args := make([][]byte, len(r.Replies))
	for i, re := range r.Replies {
		switch v := re.(type) {
		case *BulkReply:
			args[i] = v.Arg
		case *NullBulkReply:
			args[i] = nil
		default:
			return nil, false
		}
	}
	return args, true
}

func MakeArrayReply(replies []resp.Reply) *ArrayReply {
	return &ArrayReply{Replies: replies}
}

/* ---- Status Reply ---- */

// StatusReply stores a simple status string
type StatusReply struct {
	Status string
}

// ToBytes marshal redis.Reply
func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

// MakeStatusReply creates StatusReply
func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{
		Status: status,
	}
}

/* ---- Int Reply ---- */

// IntReply stores an int64 number
type IntReply struct {
	Code int64
}

// MakeIntReply creates int protocol
func MakeIntReply(code int64) *IntReply {
	return &IntReply{
		Code: code,
	}
}

// ToBytes marshal redis.Reply
func (r *IntReply) ToBytes() []byte {
	// int64 → string
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

/* ---- Err Reply ---- */

// StandardErrReply represents server error
type StandardErrReply struct {
	Status string
}

func (r *StandardErrReply) ToBytes() []byte {
	return []byte("-" + r.Status + CRLF)
}

func (r *StandardErrReply) Error() string {
	return r.Status
}

// MakeErrReply creates StandardErrReply
func MakeErrReply(status string) *StandardErrReply {
	return &StandardErrReply{
		Status: status,
	}
}

func IsErrReply(reply resp.Reply) bool {
	return reply.ToBytes()[0] == '-'
}

type ErrorReply interface {
	Error() string
	ToBytes() []byte
}
