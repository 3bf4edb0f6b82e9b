// Package parser -----------------------------
// @file      : parser.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/23 20:43
// -------------------------------------------
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// ErrProtocol is returned for malformed framing. It is fatal to the connection
// that produced the bytes; a well-formed error reply is never reported this way.
var ErrProtocol = errors.New("protocol error")

// errIncomplete 内部使用：缓冲区里还不够一个完整的值
var errIncomplete = errors.New("incomplete reply")

const (
	readChunk = 4096
	// 缓冲区前面已经消费的部分超过这个值才搬移
	compactThreshold = 4096
	maxPrealloc      = 1024
	// 和 redis 的 proto-max-bulk-len 默认值一致
	maxBulkLen = 512 * 1024 * 1024
)

type Payload struct {
	// 解析出来的一个完整的值，请求和回复都用 Reply 表示
	Data resp.Reply
	Err  error
}

// Reader 增量解析器
// Feed 追加收到的字节，Next 每次尝试取出一个完整的值；数据不够时返回 ok=false，不是错误。
// 一次 read 里收到多个回复时，需要循环调用 Next 直到 ok=false
type Reader struct {
	buf []byte
	// 已经被解析掉的前缀长度
	pos int
}

func NewReader() *Reader {
	return &Reader{}
}

// Feed 把新收到的字节追加到缓冲区
func (r *Reader) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// Buffered 还没有被解析的字节数
func (r *Reader) Buffered() int {
	return len(r.buf) - r.pos
}

// Next parses one complete reply off the front of the buffer.
// It returns ok=false with a nil error when more input is needed.
func (r *Reader) Next() (result resp.Reply, ok bool, err error) {
	if r.pos == len(r.buf) {
		return nil, false, nil
	}
	result, n, err := parseValue(r.buf[r.pos:])
	if errors.Is(err, errIncomplete) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.pos += n
	r.compact()
	return result, true, nil
}

func (r *Reader) compact() {
	if r.pos == len(r.buf) {
		r.buf = r.buf[:0]
		r.pos = 0
		return
	}
	if r.pos >= compactThreshold {
		n := copy(r.buf, r.buf[r.pos:])
		r.buf = r.buf[:n]
		r.pos = 0
	}
}

// ParseStream 异步解析，作为协议层对外的接口
// 读到 io 错误或者协议错误都会发一个带 Err 的 Payload 然后关闭通道
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	go parse0(reader, ch)
	return ch
}

// ParseOne reads data from []byte and return the first payload
func ParseOne(data []byte) (resp.Reply, error) {
	r := NewReader()
	r.Feed(data)
	result, ok, err := r.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocolError("no protocol")
	}
	return result, nil
}

// parse0 解析器
func parse0(rawReader io.Reader, ch chan<- *Payload) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	defer close(ch)
	r := NewReader()
	chunk := make([]byte, readChunk)
	for {
		n, err := rawReader.Read(chunk)
		if n > 0 {
			r.Feed(chunk[:n])
			for {
				result, ok, perr := r.Next()
				if perr != nil {
					// 帧格式已经乱了，后面的字节没法再对齐
					ch <- &Payload{Err: perr}
					return
				}
				if !ok {
					break
				}
				ch <- &Payload{Data: result}
			}
		}
		if err != nil {
			ch <- &Payload{Err: err}
			return
		}
	}
}

// parseValue 从 buf 开头解析一个完整的值，返回值和消费掉的字节数
// +OK\r\n -ERR x\r\n :5\r\n $3\r\nfoo\r\n *2\r\n...
func parseValue(buf []byte) (resp.Reply, int, error) {
	line, n, err := readLine(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(line) == 0 {
		return nil, 0, protocolError("empty line")
	}
	switch line[0] {
	case '+':
		return reply.MakeStatusReply(string(line[1:])), n, nil
	case '-':
		return reply.MakeErrReply(string(line[1:])), n, nil
	case ':':
		val, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return nil, 0, protocolError("illegal integer: " + string(line))
		}
		return reply.MakeIntReply(val), n, nil
	case '$':
		return parseBulk(buf, line, n)
	case '*':
		return parseArray(buf, line, n)
	default:
		return nil, 0, protocolError("unknown type byte: " + string(line))
	}
}

// $4\r\nPING\r\n 严格按长度读取，内容里可以有 \r\n
func parseBulk(buf []byte, header []byte, n int) (resp.Reply, int, error) {
	bulkLen, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || bulkLen < -1 || bulkLen > maxBulkLen {
		return nil, 0, protocolError("illegal bulk string header: " + string(header))
	}
	if bulkLen == -1 {
		return reply.MakeNullBulkReply(), n, nil
	}
	end := n + int(bulkLen)
	if len(buf) < end+2 {
		return nil, 0, errIncomplete
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return nil, 0, protocolError("bulk string not terminated by CRLF")
	}
	// 缓冲区会被复用，拷贝一份
	return reply.MakeBulkReply(bytes.Clone(buf[n:end])), end + 2, nil
}

// *3\r\n 后面跟着三个任意类型的值，可以嵌套
func parseArray(buf []byte, header []byte, n int) (resp.Reply, int, error) {
	count, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || count < -1 {
		return nil, 0, protocolError("illegal multiBulk string header: " + string(header))
	}
	if count == -1 {
		return reply.MakeNullArrayReply(), n, nil
	}
	// 长度来自网络，预分配要有上限
	replies := make([]resp.Reply, 0, min(count, maxPrealloc))
	offset := n
	for i := int64(0); i < count; i++ {
		elem, used, err := parseValue(buf[offset:])
		if err != nil {
			return nil, 0, err
		}
		replies = append(replies, elem)
		offset += used
	}
	return reply.MakeArrayReply(replies), offset, nil
}

// readLine 读取到 \r\n 为止的一行，返回不带 \r\n 的内容以及包含 \r\n 的长度
func readLine(buf []byte) ([]byte, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, errIncomplete
	}
	// \n 前面不是 \r 就是协议错误
	if idx == 0 || buf[idx-1] != '\r' {
		return nil, 0, protocolError(string(buf[:idx+1]))
	}
	return buf[:idx-1], idx + 1, nil
}

func protocolError(msg string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}
