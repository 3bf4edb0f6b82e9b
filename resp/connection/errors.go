// Package connection -----------------------------
// @file      : errors.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/24 09:51
// -------------------------------------------
package connection

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionLost fails every command still waiting for a reply when the
	// connection goes away. The socket cause is wrapped alongside it.
	ErrConnectionLost = errors.New("redis connection lost")
	// ErrFailed is returned once the manager has given up reconnecting
	ErrFailed = errors.New("redis connection in failed state")
	// ErrClientClosed is returned for work handed to a closed client
	ErrClientClosed = errors.New("redis client closed")
	// ErrOutOfSync is the close cause when a reply arrives with nothing pending
	ErrOutOfSync = errors.New("reply received with no pending command")
)

// RedisError is an error reply from the server, message kept verbatim.
// The connection that produced it is still usable.
type RedisError struct {
	Msg string
}

func (e *RedisError) Error() string {
	return e.Msg
}

// Prefix 错误信息的第一个单词，例如 NOSCRIPT、WRONGTYPE
func (e *RedisError) Prefix() string {
	prefix, _, _ := strings.Cut(e.Msg, " ")
	return prefix
}

// Lost 把断开原因包装成 ErrConnectionLost
func Lost(cause error) error {
	if cause == nil {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}
