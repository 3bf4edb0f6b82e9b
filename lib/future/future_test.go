package future

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOnce(t *testing.T) {
	f := New[int]()
	var calls []string
	f.OnSuccess(func(v int) { calls = append(calls, "ok "+strconv.Itoa(v)) })
	f.OnFailure(func(err error) { calls = append(calls, "fail") })

	assert.True(t, f.Succeed(1))
	assert.False(t, f.Succeed(2))
	assert.False(t, f.Fail(errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"ok 1"}, calls)
}

func TestCallbackAfterResolution(t *testing.T) {
	boom := errors.New("boom")
	f := Failed[string](boom)
	var got error
	f.OnFailure(func(err error) { got = err })
	assert.ErrorIs(t, got, boom)
	assert.True(t, f.IsComplete())
}

func TestCallbackOrder(t *testing.T) {
	f := New[struct{}]()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		f.OnComplete(func(struct{}, error) { order = append(order, i) })
	}
	f.Succeed(struct{}{})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestWaitContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go f.Succeed(5)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestMap(t *testing.T) {
	src := New[int]()
	dst := Map(src, func(v int) (string, error) { return strconv.Itoa(v * 2), nil })
	src.Succeed(21)
	v, err, ok := dst.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	failed := Map(Failed[int](errors.New("x")), func(v int) (string, error) { return "", nil })
	_, err, _ = failed.Result()
	assert.EqualError(t, err, "x")
}

func TestWaitAll(t *testing.T) {
	a, b := Resolved(1), Resolved(2)
	got, err := WaitAll(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}
