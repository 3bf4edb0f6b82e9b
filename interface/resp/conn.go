// Package resp -----------------------------
// @file      : conn.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/17 22:02
// -------------------------------------------
package resp

// Connection 代表客户端持有的一条已经初始化好的物理连接
// manager 只关心两件事：能否关闭它，以及它什么时候断开
type Connection interface {
	// Close tears the socket down. The close listener still fires, exactly once.
	Close() error
	// OnClose registers the listener fired on the event loop once the socket is gone.
	// cause is nil when the connection was closed locally.
	OnClose(fn func(cause error))
}
