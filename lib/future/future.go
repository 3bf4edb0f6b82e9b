// Package future -----------------------------
// @file      : future.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/21 10:30
// -------------------------------------------
package future

import (
	"context"
	"sync"
)

// Future is a completion handle that is resolved exactly once.
// Callbacks run on the goroutine that resolves it, or immediately on the
// registering goroutine when it is already resolved.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved 已经成功的 future
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Succeed(v)
	return f
}

// Failed 已经失败的 future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Succeed resolves the future with v. It reports false if the future was already resolved.
func (f *Future[T]) Succeed(v T) bool {
	return f.complete(v, nil)
}

// Fail resolves the future with err. It reports false if the future was already resolved.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.complete(zero, err)
}

// Complete 按 err 是否为空决定成功还是失败
func (f *Future[T]) Complete(v T, err error) bool {
	return f.complete(v, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	// 锁外回调，回调里可以再注册回调
	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// OnComplete registers fn to run once the future is resolved
func (f *Future[T]) OnComplete(fn func(T, error)) *Future[T] {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return f
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
	return f
}

func (f *Future[T]) OnSuccess(fn func(T)) *Future[T] {
	return f.OnComplete(func(v T, err error) {
		if err == nil {
			fn(v)
		}
	})
}

func (f *Future[T]) OnFailure(fn func(error)) *Future[T] {
	return f.OnComplete(func(_ T, err error) {
		if err != nil {
			fn(err)
		}
	})
}

// Done is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsComplete 不阻塞地检查是否已经有结果
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the value and error. ok is false while the future is unresolved.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.resolved
}

// Wait blocks until the future is resolved or ctx is done.
// It must not be called from the goroutine that is expected to resolve the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map 把 Future[T] 转换成 Future[U]，转换函数在 src 完成的 goroutine 上执行
func Map[T, U any](src *Future[T], fn func(T) (U, error)) *Future[U] {
	dst := New[U]()
	src.OnComplete(func(v T, err error) {
		if err != nil {
			dst.Fail(err)
			return
		}
		dst.Complete(fn(v))
	})
	return dst
}

// WaitAll waits for every future and returns the first error encountered, in order
func WaitAll[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	results := make([]T, len(futures))
	for i, f := range futures {
		v, err := f.Wait(ctx)
		results[i] = v
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
