// Package dict -----------------------------
// @file      : sync_dict.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/4 19:20
// -------------------------------------------
package dict

import "sync"

// SyncDict 基于 sync.Map 的并发安全实现
type SyncDict[V any] struct {
	m sync.Map
}

func MakeSyncDict[V any]() *SyncDict[V] {
	return &SyncDict[V]{}
}

func (dict *SyncDict[V]) Get(key string) (val V, exists bool) {
	raw, ok := dict.m.Load(key)
	if !ok {
		return val, false
	}
	return raw.(V), true
}

func (dict *SyncDict[V]) Len() int {
	length := 0
	dict.m.Range(func(key, value any) bool {
		length++
		return true
	})
	return length
}

func (dict *SyncDict[V]) Put(key string, val V) (result int) {
	if _, existed := dict.m.Swap(key, val); existed {
		return 0
	}
	return 1
}

func (dict *SyncDict[V]) PutIfAbsent(key string, val V) (result int) {
	if _, loaded := dict.m.LoadOrStore(key, val); loaded {
		return 0
	}
	return 1
}

func (dict *SyncDict[V]) Remove(key string) (result int) {
	if _, existed := dict.m.LoadAndDelete(key); existed {
		return 1
	}
	return 0
}

func (dict *SyncDict[V]) ForEach(consumer Consumer[V]) {
	dict.m.Range(func(key, value any) bool {
		return consumer(key.(string), value.(V))
	})
}

func (dict *SyncDict[V]) Keys() []string {
	keys := make([]string, 0, dict.Len())
	dict.m.Range(func(key, value any) bool {
		keys = append(keys, key.(string))
		return true
	})
	return keys
}

func (dict *SyncDict[V]) Clear() {
	dict.m.Range(func(key, value any) bool {
		dict.m.Delete(key)
		return true
	})
}
