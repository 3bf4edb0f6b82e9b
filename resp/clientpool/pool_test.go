package clientpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mloughran/em-hiredis/config"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/redistest"
	"github.com/mloughran/em-hiredis/resp/client"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPool(t *testing.T, s *redistest.Server, size int) *Pool {
	cfg := config.Default()
	cfg.URL = s.URL()
	p, err := New(context.Background(), cfg, size, client.Options{Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestBorrowAndReturnReusesClient(t *testing.T) {
	s := redistest.NewServer(t)
	p := newPool(t, s, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c1, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Active())
	require.NoError(t, p.Put(ctx, c1))
	assert.Equal(t, 0, p.Active())
	assert.Equal(t, 1, p.Idle())

	c2, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	require.NoError(t, p.Put(ctx, c2))
	assert.Equal(t, 1, s.Connections())
}

func TestDo(t *testing.T) {
	s := redistest.NewServer(t)
	p := newPool(t, s, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Do(ctx, func(c *client.Client) error {
		_, err := c.Set("k", "v").Wait(ctx)
		return err
	})
	require.NoError(t, err)
	v, ok := s.Get(0, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 0, p.Active())
}

func TestExhaustedPoolWaitsForContext(t *testing.T) {
	s := redistest.NewServer(t)
	p := newPool(t, s, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := p.Get(ctx)
	require.NoError(t, err)
	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = p.Get(short)
	assert.Error(t, err)
	require.NoError(t, p.Put(ctx, c))
}

func TestUnreachableServer(t *testing.T) {
	s := redistest.NewServer(t)
	url := s.URL()
	require.NoError(t, s.Close())

	cfg := config.Default()
	cfg.URL = url
	cfg.ReconnectBackoffSeconds = 0.01
	p, err := New(context.Background(), cfg, 1, client.Options{Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)
	defer p.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = p.Get(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, p.Active())
}
