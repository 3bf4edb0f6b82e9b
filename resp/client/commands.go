// Package client -----------------------------
// @file      : commands.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/26 10:05
// -------------------------------------------
package client

import (
	"fmt"
	"strings"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/resp/reply"
)

// 常用命令的薄包装，其余命令直接用 Issue

func (c *Client) Ping() *future.Future[string] {
	return future.Map(c.Issue("PING"), ToString)
}

// Get returns nil for a missing key
func (c *Client) Get(key string) *future.Future[[]byte] {
	return future.Map(c.Issue("GET", key), ToBytes)
}

// Set 额外参数原样追加，例如 "EX", 10
func (c *Client) Set(key string, value interface{}, args ...interface{}) *future.Future[string] {
	return future.Map(c.Issue("SET", append([]interface{}{key, value}, args...)...), ToString)
}

func (c *Client) Del(keys ...string) *future.Future[int64] {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return future.Map(c.Issue("DEL", args...), ToInt)
}

// Publish returns the number of subscribers that received the message
func (c *Client) Publish(channel string, message interface{}) *future.Future[int64] {
	return future.Map(c.Issue("PUBLISH", channel, message), ToInt)
}

// Info returns INFO parsed into field → value; section headers are skipped
func (c *Client) Info(section ...string) *future.Future[map[string]string] {
	args := make([]interface{}, len(section))
	for i, s := range section {
		args[i] = s
	}
	return future.Map(c.Issue("INFO", args...), func(r resp.Reply) (map[string]string, error) {
		raw, err := ToBytes(r)
		if err != nil {
			return nil, err
		}
		return ParseInfo(string(raw)), nil
	})
}

// ParseInfo 解析 INFO 的 key:value 行
func ParseInfo(raw string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[key] = value
	}
	return info
}

/* ---- reply conversions ---- */

func unexpected(r resp.Reply) error {
	return fmt.Errorf("unexpected reply %q", r.ToBytes())
}

// ToString converts a status or bulk reply
func ToString(r resp.Reply) (string, error) {
	switch v := r.(type) {
	case *reply.StatusReply:
		return v.Status, nil
	case *reply.BulkReply:
		return string(v.Arg), nil
	}
	return "", unexpected(r)
}

// ToBytes converts a bulk reply; null bulk becomes nil
func ToBytes(r resp.Reply) ([]byte, error) {
	switch v := r.(type) {
	case *reply.BulkReply:
		return v.Arg, nil
	case *reply.NullBulkReply:
		return nil, nil
	case *reply.StatusReply:
		return []byte(v.Status), nil
	}
	return nil, unexpected(r)
}

func ToInt(r resp.Reply) (int64, error) {
	if v, ok := r.(*reply.IntReply); ok {
		return v.Code, nil
	}
	return 0, unexpected(r)
}

// ToInts converts an array of integers, e.g. the reply to SCRIPT EXISTS
func ToInts(r resp.Reply) ([]int64, error) {
	arr, ok := r.(*reply.ArrayReply)
	if !ok {
		return nil, unexpected(r)
	}
	result := make([]int64, len(arr.Replies))
	for i, elem := range arr.Replies {
		n, err := ToInt(elem)
		if err != nil {
			return nil, err
		}
		result[i] = n
	}
	return result, nil
}
