// Package logger -----------------------------
// @file      : logger.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/15 20:41
// -------------------------------------------
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Settings 日志输出的配置，Path 为空时输出到 stderr
type Settings struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	Ext        string `yaml:"ext"`
	TimeFormat string `yaml:"time-format"`
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
}

var (
	mu  sync.RWMutex
	std = newStd()
)

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Setup 初始化全局 logger，只有命令行工具会调用，库代码通过 Options 传入自己的 logger
func Setup(settings *Settings) error {
	l := logrus.New()
	out := io.Writer(os.Stderr)
	if settings.Path != "" {
		file, err := openLogFile(settings)
		if err != nil {
			return err
		}
		out = file
	}
	l.SetOutput(out)
	if settings.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: settings.Path != ""})
	}
	level := logrus.InfoLevel
	if settings.Level != "" {
		parsed, err := logrus.ParseLevel(settings.Level)
		if err != nil {
			return err
		}
		level = parsed
	}
	l.SetLevel(level)

	mu.Lock()
	std = l
	mu.Unlock()
	return nil
}

// <Path>/<Name>-<date>.<Ext>
func openLogFile(settings *Settings) (*os.File, error) {
	timeFormat := settings.TimeFormat
	if timeFormat == "" {
		timeFormat = time.DateOnly
	}
	if err := os.MkdirAll(settings.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.%s", settings.Name, time.Now().Format(timeFormat), settings.Ext)
	return os.OpenFile(filepath.Join(settings.Path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// Default returns the process logger. Clients created without an explicit logger use it.
func Default() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

func Debug(v ...interface{}) {
	Default().Debug(v...)
}

func Info(v ...interface{}) {
	Default().Info(v...)
}

func Warn(v ...interface{}) {
	Default().Warn(v...)
}

func Error(v ...interface{}) {
	Default().Error(v...)
}

func Fatal(v ...interface{}) {
	Default().Fatal(v...)
}
