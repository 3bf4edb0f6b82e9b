package wait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitWithTimeout(t *testing.T) {
	var w Wait
	w.Add(1)
	assert.True(t, w.WaitWithTimeout(10*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		w.Done()
	}()
	assert.False(t, w.WaitWithTimeout(time.Second))
}
