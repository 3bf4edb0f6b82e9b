// Package clientpool -----------------------------
// @file      : pool.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/17 14:39
// -------------------------------------------
package clientpool

import (
	"context"
	"errors"

	pool "github.com/jolestar/go-commons-pool/v2"

	"github.com/mloughran/em-hiredis/config"
	"github.com/mloughran/em-hiredis/resp/client"
	"github.com/mloughran/em-hiredis/resp/manager"
)

// Pool 一组连到同一个地址的 client
// 单个 client 已经可以流水线并发，池子用来把负载分到多条 TCP 连接上
type Pool struct {
	objects *pool.ObjectPool
}

type connectionFactory struct {
	cfg  config.Config
	opts client.Options
}

func (f *connectionFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	cfg := f.cfg
	c, err := client.MakeClient(&cfg, f.opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.Connect().Wait(ctx); err != nil {
		_ = c.Close()
		<-c.Done()
		return nil, err
	}
	return pool.NewPooledObject(c), nil
}

func (f *connectionFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	c, ok := object.Object.(*client.Client)
	if !ok {
		return errors.New("type mismatch")
	}
	_ = c.Close()
	select {
	case <-c.Done():
	case <-ctx.Done():
	}
	return nil
}

// ValidateObject 放弃重连的 client 不再借出去
func (f *connectionFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	c, ok := object.Object.(*client.Client)
	return ok && c.State() != manager.Failed && c.State() != manager.Stopped
}

func (f *connectionFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

func (f *connectionFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// New creates a pool of at most size clients for cfg. Clients are dialled lazily on Get.
func New(ctx context.Context, cfg *config.Config, size int, opts client.Options) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolConfig := pool.NewDefaultPoolConfig()
	poolConfig.MaxTotal = size
	poolConfig.MaxIdle = size
	poolConfig.TestOnBorrow = true
	poolConfig.TestOnReturn = true
	return &Pool{
		objects: pool.NewObjectPool(ctx, &connectionFactory{cfg: *cfg, opts: opts}, poolConfig),
	}, nil
}

// Get 借一个 client，用完必须 Put 回来，否则池子会耗尽
func (p *Pool) Get(ctx context.Context) (*client.Client, error) {
	object, err := p.objects.BorrowObject(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := object.(*client.Client)
	if !ok {
		return nil, errors.New("wrong type")
	}
	return c, nil
}

func (p *Pool) Put(ctx context.Context, c *client.Client) error {
	return p.objects.ReturnObject(ctx, c)
}

// Do borrows a client for the duration of fn
func (p *Pool) Do(ctx context.Context, fn func(c *client.Client) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// 避免连接耗尽
		_ = p.Put(ctx, c)
	}()
	return fn(c)
}

func (p *Pool) Active() int {
	return p.objects.GetNumActive()
}

func (p *Pool) Idle() int {
	return p.objects.GetNumIdle()
}

// Close closes the idle clients. Borrowed clients are closed when they are returned.
func (p *Pool) Close(ctx context.Context) {
	p.objects.Close(ctx)
}
