// Package connection -----------------------------
// @file      : options.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/1/24 10:20
// -------------------------------------------
package connection

import (
	"crypto/tls"

	"github.com/sirupsen/logrus"

	"github.com/mloughran/em-hiredis/config"
)

// OptionsFor builds dial options for target. tlsConfig overrides the one
// derived from the config for rediss:// targets.
func OptionsFor(target *config.Target, cfg *config.Config, tlsConfig *tls.Config, log logrus.FieldLogger) Options {
	opts := Options{
		Network:        target.Network,
		Addr:           target.Addr,
		ConnectTimeout: cfg.ConnectTimeout,
		Name:           target.String(),
		Logger:         log,
	}
	if target.TLS {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{
				ServerName:         target.Host,
				InsecureSkipVerify: cfg.TLSInsecureSkipVerify, //nolint:gosec // opt-in via config
				MinVersion:         tls.VersionTLS12,
			}
		}
		opts.TLSConfig = tlsConfig
	}
	return opts
}
