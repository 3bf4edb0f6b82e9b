// Package client -----------------------------
// @file      : monitor.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/26 15:33
// -------------------------------------------
package client

import (
	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// Monitor puts the connection into MONITOR mode and hands every pushed line
// to fn on the client loop. The mode survives reconnects.
// The future completes with the server's reply to MONITOR.
func (c *Client) Monitor(fn func(line string)) *future.Future[resp.Reply] {
	result := future.New[resp.Reply]()
	handler := func(r resp.Reply) {
		if status, ok := r.(*reply.StatusReply); ok {
			fn(status.Status)
			return
		}
		fn(string(r.ToBytes()))
	}
	if !c.loop.Post(func() {
		c.monitorFn = handler
		c.monitorReady = result
		if rc := c.current(); rc != nil {
			c.startMonitor(rc)
		}
	}) {
		result.Fail(ErrClosed)
	}
	return result
}

// startMonitor 在 loop 上调用，连上之后也会调用一次
func (c *Client) startMonitor(rc *redisConn) {
	ready := c.monitorReady
	c.monitorReady = nil
	f := rc.enterMonitor(c.monitorFn)
	if ready != nil {
		f.OnComplete(func(r resp.Reply, err error) { ready.Complete(r, err) })
	}
}
