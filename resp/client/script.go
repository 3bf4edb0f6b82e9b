// Package client -----------------------------
// @file      : script.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/26 11:40
// -------------------------------------------
package client

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mloughran/em-hiredis/interface/resp"
	"github.com/mloughran/em-hiredis/lib/future"
)

// Script is a Lua script identified by the SHA1 of its body
type Script struct {
	Name string
	Lua  string
	SHA  string
}

func NewScript(name, lua string) *Script {
	sum := sha1.Sum([]byte(lua))
	return &Script{
		Name: name,
		Lua:  lua,
		SHA:  hex.EncodeToString(sum[:]),
	}
}

// EvalScript 先用 EVALSHA，服务端没有缓存脚本（NOSCRIPT）时退回 EVAL
func (c *Client) EvalScript(s *Script, keys []string, args ...interface{}) *future.Future[resp.Reply] {
	tail := make([]interface{}, 0, 1+len(keys)+len(args))
	tail = append(tail, len(keys))
	for _, k := range keys {
		tail = append(tail, k)
	}
	tail = append(tail, args...)

	result := future.New[resp.Reply]()
	c.Issue("EVALSHA", append([]interface{}{s.SHA}, tail...)...).OnComplete(func(r resp.Reply, err error) {
		var redisErr *RedisError
		if errors.As(err, &redisErr) && redisErr.Prefix() == "NOSCRIPT" {
			c.Issue("EVAL", append([]interface{}{s.Lua}, tail...)...).OnComplete(func(r resp.Reply, err error) {
				result.Complete(r, err)
			})
			return
		}
		result.Complete(r, err)
	})
	return result
}

// EnsureScript loads s into the server script cache unless it is already there
func (c *Client) EnsureScript(s *Script) *future.Future[struct{}] {
	result := future.New[struct{}]()
	future.Map(c.Issue("SCRIPT", "EXISTS", s.SHA), ToInts).OnComplete(func(exists []int64, err error) {
		if err != nil {
			result.Fail(err)
			return
		}
		if len(exists) > 0 && exists[0] == 1 {
			result.Succeed(struct{}{})
			return
		}
		c.Issue("SCRIPT", "LOAD", s.Lua).OnComplete(func(_ resp.Reply, err error) {
			result.Complete(struct{}{}, err)
		})
	})
	return result
}

var includePattern = regexp.MustCompile(`(?m)^-- #include (.*)$`)

// LoadScript reads a Lua file, expanding "-- #include other.lua" lines
// relative to the file's directory
func LoadScript(path string) (string, error) {
	return loadScript(path, map[string]bool{})
}

func loadScript(path string, seen map[string]bool) (string, error) {
	if seen[path] {
		return "", fmt.Errorf("include cycle at %s", path)
	}
	seen[path] = true
	defer delete(seen, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	var expandErr error
	text := includePattern.ReplaceAllStringFunc(string(data), func(line string) string {
		name := strings.TrimSpace(includePattern.FindStringSubmatch(line)[1])
		body, err := loadScript(filepath.Join(dir, name), seen)
		if err != nil {
			expandErr = errors.Join(expandErr, err)
			return line
		}
		return body + "\n"
	})
	if expandErr != nil {
		return "", expandErr
	}
	return text, nil
}

// LoadScripts loads every *.lua file in dir, keyed by file name without extension
func LoadScripts(dir string) (map[string]*Script, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, err
	}
	scripts := make(map[string]*Script, len(files))
	for _, f := range files {
		lua, err := LoadScript(f)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		name := strings.TrimSuffix(filepath.Base(f), ".lua")
		scripts[name] = NewScript(name, lua)
	}
	return scripts, nil
}
