// Package logger -----------------------------
// @file      : testing.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 10:12
// -------------------------------------------
package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type testOutput struct{ testing.TB }

func (to testOutput) Write(p []byte) (int, error) {
	to.Logf("%s", p)
	return len(p), nil
}

// NewTestLogger 日志写到 t.Logf，测试失败时才会显示
func NewTestLogger(t testing.TB) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(testOutput{t})
	l.SetLevel(logrus.DebugLevel)
	return l
}
