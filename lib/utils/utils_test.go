package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToCmdLineArgs(t *testing.T) {
	got := ToCmdLineArgs("SET", "k", []byte{0, 1}, 42, int64(-7), 1.5, true, false, nil, time.Second)
	want := [][]byte{
		[]byte("SET"),
		[]byte("k"),
		{0, 1},
		[]byte("42"),
		[]byte("-7"),
		[]byte("1.5"),
		[]byte("1"),
		[]byte("0"),
		{},
		[]byte("1s"),
	}
	assert.Equal(t, want, got)
}

func TestCmdString(t *testing.T) {
	long := strings.Repeat("x", 100)
	s := CmdString(ToCmdLine("set", "k", long))
	assert.True(t, strings.HasPrefix(s, "set k xxx"))
	assert.True(t, strings.HasSuffix(s, "..."))
}
