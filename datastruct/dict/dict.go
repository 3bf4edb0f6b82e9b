// Package dict -----------------------------
// @file      : dict.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/4 19:03
// -------------------------------------------
package dict

// Consumer 返回 false 停止遍历
type Consumer[V any] func(key string, val V) bool

// Dict 测试服务端的 key 空间，值的类型由使用方决定
type Dict[V any] interface {
	Get(key string) (val V, exists bool)
	Len() int
	// Put 新插入返回 1，覆盖返回 0
	Put(key string, val V) (result int)
	PutIfAbsent(key string, val V) (result int)
	Remove(key string) (result int)
	ForEach(consumer Consumer[V])
	Keys() []string
	Clear()
}
