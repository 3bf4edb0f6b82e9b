// Package redistest -----------------------------
// @file      : keyspace.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/30 14:40
// -------------------------------------------
package redistest

import (
	"time"

	"github.com/mloughran/em-hiredis/datastruct/dict"
)

// entity 只支持字符串类型
type entity struct {
	value    []byte
	expireAt time.Time
}

func (e *entity) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// keyspace 一个数据库，过期在读取时惰性检查
type keyspace struct {
	data dict.Dict[*entity]
}

func newKeyspace() *keyspace {
	return &keyspace{data: dict.MakeSyncDict[*entity]()}
}

func (ks *keyspace) entity(key string) (*entity, bool) {
	e, ok := ks.data.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		ks.data.Remove(key)
		return nil, false
	}
	return e, true
}

func (ks *keyspace) get(key string) ([]byte, bool) {
	e, ok := ks.entity(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (ks *keyspace) exists(key string) bool {
	_, ok := ks.entity(key)
	return ok
}

func (ks *keyspace) set(key string, value []byte, expireAt time.Time) {
	ks.data.Put(key, &entity{value: value, expireAt: expireAt})
}

func (ks *keyspace) remove(keys ...string) int {
	deleted := 0
	for _, key := range keys {
		if ks.exists(key) {
			deleted += ks.data.Remove(key)
		}
	}
	return deleted
}

// expire 返回 key 是否存在
func (ks *keyspace) expire(key string, expireAt time.Time) bool {
	e, ok := ks.entity(key)
	if !ok {
		return false
	}
	ks.data.Put(key, &entity{value: e.value, expireAt: expireAt})
	return true
}

// ttl in milliseconds: -2 missing, -1 no expiry
func (ks *keyspace) ttl(key string) int64 {
	e, ok := ks.entity(key)
	if !ok {
		return -2
	}
	if e.expireAt.IsZero() {
		return -1
	}
	return time.Until(e.expireAt).Milliseconds()
}

func (ks *keyspace) keys() []string {
	var keys []string
	ks.data.ForEach(func(key string, e *entity) bool {
		if !e.expired(time.Now()) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

func (ks *keyspace) flush() {
	ks.data.Clear()
}
