// Package manager -----------------------------
// @file      : state.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/23 10:02
// -------------------------------------------
package manager

import "strconv"

type State int32

const (
	Initial State = iota
	Connecting
	Connected
	Disconnected
	Failed
	Stopped
)

var stateNames = [...]string{"initial", "connecting", "connected", "disconnected", "failed", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// transitions 允许的状态转移，其余的都是 bug
var transitions = map[State][]State{
	// 第一次 connect
	Initial: {Connecting, Stopped},
	// 建连失败 / 手动重连 / 建连成功
	Connecting: {Disconnected, Connecting, Connected, Stopped},
	// 连接断开
	Connected: {Disconnected, Stopped},
	// 自动重连 / 重试次数用完
	Disconnected: {Connecting, Failed, Stopped},
	// 失败之后只能手动重连
	Failed: {Connecting, Stopped},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventReconnected
	EventDisconnected
	EventReconnectFailed
	EventFailed
)

var eventNames = [...]string{"connected", "reconnected", "disconnected", "reconnect_failed", "failed"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "event(" + strconv.Itoa(int(k)) + ")"
	}
	return eventNames[k]
}

// Event is delivered to lifecycle listeners on the loop
type Event struct {
	Kind EventKind
	// Attempt 连续失败的次数，只有 reconnect_failed 有
	Attempt int
	// Err 断开或者失败的原因
	Err error
}

func (e Event) String() string {
	if e.Kind == EventReconnectFailed {
		return e.Kind.String() + "(" + strconv.Itoa(e.Attempt) + ")"
	}
	return e.Kind.String()
}
