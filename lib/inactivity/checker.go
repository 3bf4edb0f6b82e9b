// Package inactivity -----------------------------
// @file      : checker.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/22 09:15
// -------------------------------------------
package inactivity

import (
	"errors"
	"time"

	"github.com/mloughran/em-hiredis/lib/reactor"
)

// ErrDead is the close cause used when the watchdog gives up on a connection
var ErrDead = errors.New("no activity after liveness ping")

const tickInterval = time.Second

// Checker 每秒计数一次没有收到数据的秒数
// 达到 pingAfter 时发探测命令（不清零），达到 pingAfter+deadAfter 时认为连接已死。
// pingAfter 为 0 时什么都不做
// 所有方法都要在 loop 上调用
type Checker struct {
	pingAfter int
	deadAfter int
	idle      int

	onPing func(idle int)
	onDead func(idle int)

	ticker *reactor.Timer
}

func NewChecker(pingAfter, deadAfter int, onPing, onDead func(idle int)) *Checker {
	return &Checker{
		pingAfter: pingAfter,
		deadAfter: deadAfter,
		onPing:    onPing,
		onDead:    onDead,
	}
}

func (c *Checker) Enabled() bool {
	return c.pingAfter > 0
}

// Start ticks once per second on loop until Stop
func (c *Checker) Start(loop *reactor.Loop) {
	if !c.Enabled() || c.ticker != nil {
		return
	}
	c.idle = 0
	c.ticker = loop.Every(tickInterval, c.Tick)
}

func (c *Checker) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// Activity 收到任何字节都要调用
func (c *Checker) Activity() {
	c.idle = 0
}

func (c *Checker) Idle() int {
	return c.idle
}

// Tick advances the idle counter by one second
func (c *Checker) Tick() {
	if !c.Enabled() {
		return
	}
	c.idle++
	switch {
	case c.idle >= c.pingAfter+c.deadAfter:
		idle := c.idle
		// 清零，不然之后每秒都会触发
		c.idle = 0
		if c.onDead != nil {
			c.onDead(idle)
		}
	case c.idle >= c.pingAfter:
		if c.onPing != nil {
			c.onPing(c.idle)
		}
	}
}
