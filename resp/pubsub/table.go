// Package pubsub -----------------------------
// @file      : table.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/29 10:20
// -------------------------------------------
package pubsub

import "slices"

// Kind 区分频道订阅和模式订阅
type Kind int

const (
	Channel Kind = iota
	Pattern
)

func (k Kind) String() string {
	if k == Pattern {
		return "pattern"
	}
	return "channel"
}

func (k Kind) subscribeCmd() string {
	if k == Pattern {
		return "psubscribe"
	}
	return "subscribe"
}

func (k Kind) unsubscribeCmd() string {
	if k == Pattern {
		return "punsubscribe"
	}
	return "unsubscribe"
}

// entry 一个频道或模式，以及注册在它上面的订阅
type entry struct {
	key  string
	subs []*Subscription
	// 已经发出 unsubscribe，等确认之后删除
	unsubscribing bool
}

// table 按第一次订阅的顺序保存 key，重连时按这个顺序重新订阅
type table struct {
	order   []string
	entries map[string]*entry
}

func newTable() *table {
	return &table{entries: make(map[string]*entry)}
}

func (t *table) get(key string) *entry {
	return t.entries[key]
}

// add returns the entry for key, creating it at the end of the order if needed
func (t *table) add(key string) *entry {
	if e, ok := t.entries[key]; ok {
		return e
	}
	e := &entry{key: key}
	t.entries[key] = e
	t.order = append(t.order, key)
	return e
}

func (t *table) remove(key string) {
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	if i := slices.Index(t.order, key); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

// active keys in subscription order, skipping those being unsubscribed
func (t *table) active() []string {
	keys := make([]string, 0, len(t.order))
	for _, key := range t.order {
		if !t.entries[key].unsubscribing {
			keys = append(keys, key)
		}
	}
	return keys
}

// dropUnsubscribing removes every entry waiting for an unsubscribe ack and
// returns their keys
func (t *table) dropUnsubscribing() []string {
	var dropped []string
	for _, key := range slices.Clone(t.order) {
		if t.entries[key].unsubscribing {
			t.remove(key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}
