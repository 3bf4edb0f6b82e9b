// Package client -----------------------------
// @file      : errors.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/24 09:58
// -------------------------------------------
package client

import "github.com/mloughran/em-hiredis/resp/connection"

// 三类错误互不重叠：
// 传输层断开 → ErrConnectionLost（包着原因），服务端错误回复 → *RedisError，放弃重连 → ErrFailed
var (
	ErrConnectionLost = connection.ErrConnectionLost
	ErrFailed         = connection.ErrFailed
	ErrClosed         = connection.ErrClientClosed
	ErrOutOfSync      = connection.ErrOutOfSync
)

type RedisError = connection.RedisError
