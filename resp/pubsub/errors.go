// Package pubsub -----------------------------
// @file      : errors.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/29 10:02
// -------------------------------------------
package pubsub

import (
	"errors"

	"github.com/mloughran/em-hiredis/resp/connection"
)

var (
	ErrConnectionLost = connection.ErrConnectionLost
	ErrFailed         = connection.ErrFailed
	ErrClosed         = connection.ErrClientClosed

	// ErrNotSubscribed is returned when removing a callback that is not registered
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrNotPubSubCommand 订阅模式的连接只接受 (p)subscribe / (p)unsubscribe
	ErrNotPubSubCommand = errors.New("command not allowed on a pubsub connection")
)
