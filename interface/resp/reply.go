// Package resp -----------------------------
// @file      : reply.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/22 16:42
// -------------------------------------------
package resp

// Reply 协议层的一个完整的值，请求和回复都用它表示
type Reply interface {
	ToBytes() []byte
}
