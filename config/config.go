// Package config -----------------------------
// @file      : config.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/15 21:02
// -------------------------------------------
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mloughran/em-hiredis/lib/logger"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrInvalidURL    = errors.New("invalid redis url")
)

// Config 每个 client 实例各自持有一份，不存在全局共享的配置
type Config struct {
	URL string `env:"REDIS_URL" envDefault:"redis://127.0.0.1:6379/0" yaml:"url"`
	// 多少秒没有收到数据就发探测命令，0 表示关闭
	InactivityTriggerSeconds int `env:"REDIS_INACTIVITY_TRIGGER_SECONDS" envDefault:"0" yaml:"inactivity_trigger_seconds"`
	// 探测之后再等多少秒还没有数据就断开
	InactivityResponseTimeout int     `env:"REDIS_INACTIVITY_RESPONSE_TIMEOUT" envDefault:"2" yaml:"inactivity_response_timeout"`
	ReconnectBackoffSeconds   float64 `env:"REDIS_RECONNECT_BACKOFF_SECONDS" envDefault:"0.5" yaml:"reconnect_backoff_seconds"`
	// 连续失败这么多次之后进入 failed 状态
	MaxReconnectAttempts  int           `env:"REDIS_MAX_RECONNECT_ATTEMPTS" envDefault:"4" yaml:"max_reconnect_attempts"`
	ConnectTimeout        time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"5s" yaml:"connect_timeout"`
	TLSInsecureSkipVerify bool          `env:"REDIS_TLS_INSECURE_SKIP_VERIFY" envDefault:"false" yaml:"tls_insecure_skip_verify"`

	Logging *logger.Settings `yaml:"logging"`
}

// Default returns the built-in defaults without reading the environment
func Default() *Config {
	return &Config{
		URL:                       "redis://127.0.0.1:6379/0",
		InactivityTriggerSeconds:  0,
		InactivityResponseTimeout: 2,
		ReconnectBackoffSeconds:   0.5,
		MaxReconnectAttempts:      4,
		ConnectTimeout:            5 * time.Second,
	}
}

// Load reads the config from REDIS_* environment variables
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetupConfig 读取 yaml 配置文件，文件里没有的字段使用默认值
func SetupConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.InactivityTriggerSeconds < 0 {
		errs = append(errs, errors.New("inactivity_trigger_seconds must be >= 0"))
	}
	if c.InactivityTriggerSeconds > 0 && c.InactivityResponseTimeout <= 0 {
		errs = append(errs, errors.New("inactivity_response_timeout must be > 0 when the inactivity check is enabled"))
	}
	if c.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("max_reconnect_attempts must be >= 1"))
	}
	if c.ReconnectBackoffSeconds < 0 {
		errs = append(errs, errors.New("reconnect_backoff_seconds must be >= 0"))
	}
	if _, err := ParseURL(c.URL); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// ReconnectBackoff 自动重连之间的等待时间
func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffSeconds * float64(time.Second))
}
