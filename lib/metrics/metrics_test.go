package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestForget(t *testing.T) {
	Desyncs.WithLabelValues("redis://a:1/0").Inc()
	Desyncs.WithLabelValues("redis://b:1/0").Inc()
	StateTransitions.WithLabelValues("redis://a:1/0", "connecting", "connected").Inc()

	Forget("redis://a:1/0")
	assert.Equal(t, 1, testutil.CollectAndCount(Desyncs))
	assert.Equal(t, float64(1), testutil.ToFloat64(Desyncs.WithLabelValues("redis://b:1/0")))
	assert.Equal(t, 0, testutil.CollectAndCount(StateTransitions))
	Forget("redis://b:1/0")
}
