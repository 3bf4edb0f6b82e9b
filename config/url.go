// Package config -----------------------------
// @file      : url.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/19 11:37
// -------------------------------------------
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 6379
)

// Target is a parsed connection URI.
// redis://[:password@]host[:port][/db], rediss:// for TLS, unix:///path/to.sock
type Target struct {
	Scheme   string
	Network  string
	Addr     string
	Host     string
	Port     int
	TLS      bool
	Password string
	DB       int
}

func ParseURL(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "unix":
		// 路径就是地址，不能带密码和 db
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: missing socket path in %q", ErrInvalidURL, raw)
		}
		return &Target{Scheme: u.Scheme, Network: "unix", Addr: path, Host: path}, nil
	case "redis", "rediss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	t := &Target{
		Scheme:  u.Scheme,
		Network: "tcp",
		TLS:     u.Scheme == "rediss",
		Host:    u.Hostname(),
		Port:    defaultPort,
	}
	if t.Host == "" {
		t.Host = defaultHost
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
		}
		t.Port = port
	}
	t.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	if u.User != nil {
		t.Password, _ = u.User.Password()
	}
	// 空路径就是 0 号库
	if db := strings.Trim(u.Path, "/"); db != "" {
		t.DB, err = strconv.Atoi(db)
		if err != nil || t.DB < 0 {
			return nil, fmt.Errorf("%w: bad db %q", ErrInvalidURL, db)
		}
	}
	return t, nil
}

// String 用于日志和指标，密码会被隐藏
func (t *Target) String() string {
	if t.Network == "unix" {
		return "unix://" + t.Addr
	}
	var b strings.Builder
	b.WriteString(t.Scheme)
	b.WriteString("://")
	if t.Password != "" {
		b.WriteString(":xxxxx@")
	}
	b.WriteString(t.Addr)
	b.WriteString("/")
	b.WriteString(strconv.Itoa(t.DB))
	return b.String()
}

// URL 重新拼出完整地址，包括密码
func (t *Target) URL() string {
	if t.Network == "unix" {
		return "unix://" + t.Addr
	}
	u := url.URL{
		Scheme: t.Scheme,
		Host:   t.Addr,
		Path:   "/" + strconv.Itoa(t.DB),
	}
	if t.Password != "" {
		u.User = url.UserPassword("", t.Password)
	}
	return u.String()
}
